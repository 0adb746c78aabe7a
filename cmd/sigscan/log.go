// Copyright 2018-2026 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/table"
	"github.com/opencloud-eu/sigscan/pkg/audit"
	"github.com/opencloud-eu/sigscan/pkg/quarantine"
)

func logCommand() *command {
	cmd := newCommand("log")
	cmd.Description = func() string { return "show the quarantine log" }
	cmd.Usage = func() string { return "Usage: log [-flags]" }
	path := cmd.String("file", "", "audit log to read, overrides the configuration")
	cmd.Action = func() error {
		p := conf.Quarantine.Log
		if *path != "" {
			p = *path
		}
		l, err := audit.Open(p)
		if err != nil {
			return err
		}
		records, err := l.Records(ctx)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("the quarantine log is empty")
			return nil
		}
		renderRecords(os.Stdout, records)
		return nil
	}
	return cmd
}

func renderRecords(w io.Writer, records []audit.Record) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.AppendHeader(table.Row{"#", "Quarantined", "Original path", "Quarantine path"})
	for i, r := range records {
		when := ""
		if ts, _, ok := quarantine.ParseName(r.DestinationPath); ok {
			when = ts.Local().Format(time.DateTime)
		}
		t.AppendRow(table.Row{i + 1, when, r.OriginalPath, r.DestinationPath})
	}
	t.Render()
}
