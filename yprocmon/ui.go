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

package main

import (
	"github.com/spf13/cobra"

	"github.com/yprocmon/yprocmon/yprocmon/ui"
)

type uiCmd struct{}

func (u *uiCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "ui",
		Short: "interactive terminal interface",
		Args:  cobra.NoArgs,
	}
}

func (u *uiCmd) run(c *cli, cmd *cobra.Command, args []string) error {
	logger, e := c.Logger()
	if e != nil {
		return e
	}
	app := ui.NewApp(c.Client(), c.addr)
	app.SetLogger(logger)
	return app.Run()
}

/*
   Our screen has the following appearance:

    http://127.0.0.1:8321                                       Yprocmon v1.0
       3 Instances      1 Running      1 Failed      1 Exited
   ____________________________________________________________________________
      4121 job                  failed      0:00:12   exit code 2
      4022 web                  running     1:02:33   web --port 8080
      3990 agent                exited      0:00:01   exit code 0
   ...
   ____________________________________________________________________________
   [Q] Quit [H] Help [N] New [O] Ops [I] Info [L] Log [S] Stop
*/
