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

package yprocmon

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLog(t *testing.T) {
	Convey("Given a small log", t, func() {
		log := NewLog(5)

		Convey("Each line is its own record", func() {
			fmt.Fprintf(log, "one\ntwo\n")
			So(log.Lines(), ShouldResemble, []string{"one", "two"})
		})

		Convey("Old lines are overwritten", func() {
			for i := 0; i < 8; i++ {
				fmt.Fprintf(log, "line %d\n", i)
			}
			So(log.Lines(), ShouldResemble, []string{
				"line 3", "line 4", "line 5", "line 6", "line 7",
			})
		})

		Convey("Records is empty when nothing changed", func() {
			fmt.Fprintln(log, "hello")
			recs, id := log.Records(0)
			So(len(recs), ShouldEqual, 1)
			again, id2 := log.Records(id)
			So(again, ShouldBeNil)
			So(id2, ShouldEqual, id)
		})

		Convey("Watch times out without writes", func() {
			_, id := log.Records(0)
			So(log.Watch(id, time.Millisecond*20), ShouldEqual, id)
		})
	})

	Convey("MultiWriter fans out lines", t, func() {
		a := &bytes.Buffer{}
		b := NewLog(10)
		mw := NewMultiWriter(a, b, a)
		fmt.Fprintf(mw, "x\ny\n")
		So(a.String(), ShouldEqual, "x\ny\n")
		So(b.Lines(), ShouldResemble, []string{"x", "y"})

		mw.DelWriter(a)
		fmt.Fprintln(mw, "z")
		So(a.String(), ShouldEqual, "x\ny\n")
		So(b.Lines(), ShouldResemble, []string{"x", "y", "z"})
	})
}
