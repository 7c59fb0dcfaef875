// Copyright 2026 The Yprocmon Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package yprocmon provides the core of a local control plane for launching
// instrumented processes and tracking them while they run.
//
// The two central pieces are the Launcher, which turns a name and a command
// line into a running, instrumented process, and the Registry, which maps
// process ids to the instances that were launched.  The Launcher never
// touches the Registry; callers insert the returned Instance themselves.
// This keeps process creation, which may be slow, out of the critical
// section that protects registry reads.
//
// Every access to the Registry happens under a single lock, and the lock is
// only ever held for in-memory work.  Snapshots are copied out before the
// lock is released, so they may be serialized or written to a network
// connection at leisure.
//
// Instrumented processes can report what they do (file, registry, network
// and memory operations) back to the control plane.  Those reports, along
// with spawn and exit events, are kept in an append-only OperationLog that
// is ordered by time.
//
// The rest package exposes all of this over HTTP, so that a registry can be
// mounted within an existing server, or served by the yprocmond daemon.
package yprocmon
