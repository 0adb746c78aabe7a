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

	"github.com/jedib0t/go-pretty/table"
	"github.com/opencloud-eu/sigscan/internal/orchestrator"
	"github.com/opencloud-eu/sigscan/pkg/audit"
	"github.com/opencloud-eu/sigscan/pkg/metrics"
	"github.com/opencloud-eu/sigscan/pkg/quarantine"
	"github.com/opencloud-eu/sigscan/pkg/scanner"
	"github.com/opencloud-eu/sigscan/pkg/signature"
	"github.com/pkg/errors"
)

const (
	exitInfected      = 2
	exitUnquarantined = 3
)

func scanCommand() *command {
	cmd := newCommand("scan")
	cmd.Description = func() string { return "scan a directory and quarantine infected files" }
	cmd.Usage = func() string { return "Usage: scan [-flags] <path>" }
	dryRun := cmd.Bool("dry-run", false, "report infected files without quarantining them")
	quiet := cmd.Bool("quiet", false, "only list infected and unreadable files")
	workers := cmd.Int("workers", -1, "number of files digested in parallel, overrides the configuration")
	sigs := cmd.String("signatures", "", "signature file, overrides the configuration")
	cmd.Action = func() error {
		if cmd.NArg() < 1 {
			return &exitError{code: 1, msg: cmd.Usage()}
		}
		root := cmd.Args()[0]

		if *workers >= 0 {
			conf.Scan.Workers = *workers
		}
		if *sigs != "" {
			conf.Signatures.Path = *sigs
		}

		rep := newTableReporter(*quiet)
		o, err := orchestrator.New(conf,
			orchestrator.WithDryRun(*dryRun),
			orchestrator.WithReporter(rep),
			orchestrator.WithMetrics(metrics.New()),
		)
		if err != nil {
			var lerr *signature.LoadError
			if errors.As(err, &lerr) {
				return &exitError{code: 1, msg: "could not load signatures: " + lerr.Error()}
			}
			return err
		}
		defer o.Close()

		fmt.Printf("loaded %d signatures\n", o.Store().Len())
		sum, err := o.Run(ctx, root)
		rep.Render(os.Stdout)
		renderSummary(os.Stdout, sum, *dryRun)
		if err != nil {
			return err
		}
		return scanExit(sum)
	}
	return cmd
}

// scanExit maps the outcome of a run to the process status.
func scanExit(sum orchestrator.Summary) error {
	switch {
	case sum.Failed > 0:
		return &exitError{code: exitUnquarantined}
	case sum.Infected > 0:
		return &exitError{code: exitInfected}
	}
	return nil
}

// tableReporter collects one row per file.
type tableReporter struct {
	quiet bool
	rows  []table.Row
}

func newTableReporter(quiet bool) *tableReporter {
	return &tableReporter{quiet: quiet}
}

func (t *tableReporter) Result(r scanner.Result) {
	switch r.Status {
	case scanner.Clean:
		if !t.quiet {
			t.rows = append(t.rows, table.Row{r.Path, r.Status.String(), "", ""})
		}
	case scanner.Unreadable:
		t.rows = append(t.rows, table.Row{r.Path, r.Status.String(), "", r.Reason()})
	case scanner.Infected:
		t.rows = append(t.rows, table.Row{r.Path, r.Status.String(), r.Signature, "not quarantined"})
	}
}

func (t *tableReporter) Quarantined(r scanner.Result, rec *audit.Record) {
	t.setAction(r.Path, "moved to "+rec.DestinationPath)
}

func (t *tableReporter) QuarantineFailed(r scanner.Result, err error) {
	var qerr *quarantine.Error
	if errors.As(err, &qerr) && qerr.Record != nil {
		t.setAction(r.Path, fmt.Sprintf("moved to %s, not logged: %v", qerr.Record.DestinationPath, qerr.Err))
		return
	}
	t.setAction(r.Path, "quarantine failed: "+err.Error())
}

// setAction updates the row of the infected file, which is always the last
// one added when the quarantine result comes in.
func (t *tableReporter) setAction(path, action string) {
	for i := len(t.rows) - 1; i >= 0; i-- {
		if t.rows[i][0] == path {
			t.rows[i][3] = action
			return
		}
	}
}

func (t *tableReporter) Render(w io.Writer) {
	if len(t.rows) == 0 {
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Path", "Status", "Signature", "Action"})
	tw.AppendRows(t.rows)
	tw.Render()
}

func renderSummary(w io.Writer, sum orchestrator.Summary, dryRun bool) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Scanned", "Clean", "Infected", "Unreadable", "Quarantined", "Failed"})
	tw.AppendRow(table.Row{sum.Total(), sum.Clean, sum.Infected, sum.Unreadable, sum.Quarantined, sum.Failed})
	tw.Render()
	if dryRun && sum.Infected > 0 {
		fmt.Fprintln(w, "dry run: no files were quarantined")
	}
}
