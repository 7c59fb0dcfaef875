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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	. "github.com/smartystreets/goconvey/convey"
)

func TestConfig(t *testing.T) {
	Convey("Defaults are valid", t, func() {
		c := Default()
		So(c.Validate(), ShouldBeNil)
		So(c.Listen, ShouldEqual, "127.0.0.1:8321")
		So(c.StopTime, ShouldEqual, time.Second*10)
	})

	Convey("A file overrides only what it names", t, func() {
		path := filepath.Join(t.TempDir(), "yprocmond.yaml")
		data := `
name: lab
listen: ":9000"
launch_timeout: 5s
reap_exited: true
env:
  - FOO=bar
instrument:
  agent: /opt/agent.so
  suspend: true
log_level: debug
log_format: json
`
		So(os.WriteFile(path, []byte(data), 0644), ShouldBeNil)
		c, err := Load(path)
		So(err, ShouldBeNil)
		So(c.Name, ShouldEqual, "lab")
		So(c.Listen, ShouldEqual, ":9000")
		So(c.LaunchTimeout, ShouldEqual, time.Second*5)
		So(c.ReapExited, ShouldBeTrue)
		So(c.Env, ShouldResemble, []string{"FOO=bar"})
		So(c.Instrument.Agent, ShouldEqual, "/opt/agent.so")
		So(c.Instrument.Suspend, ShouldBeTrue)
		So(c.MaxConns, ShouldEqual, 64)
		So(c.Samples, ShouldEqual, "samples")

		logger := c.Logger()
		So(logger.GetLevel(), ShouldEqual, logrus.DebugLevel)
		_, isJSON := logger.Formatter.(*logrus.JSONFormatter)
		So(isJSON, ShouldBeTrue)
	})

	Convey("Bad settings are rejected", t, func() {
		_, err := Parse([]byte("log_level: loud\n"))
		So(err, ShouldNotBeNil)
		_, err = Parse([]byte("log_format: xml\n"))
		So(err, ShouldNotBeNil)
		_, err = Parse([]byte("max_conns: -1\n"))
		So(err, ShouldNotBeNil)
		_, err = Parse([]byte("listen: [\n"))
		So(err, ShouldNotBeNil)
	})

	Convey("A missing file is an error", t, func() {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		So(os.IsNotExist(err), ShouldBeTrue)
	})
}
