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

// Package orchestrator wires signatures, scanner and quarantine together:
// every infected file found by a scan is quarantined right away.
package orchestrator

import (
	"context"

	"github.com/google/uuid"
	"github.com/opencloud-eu/sigscan/pkg/appctx"
	"github.com/opencloud-eu/sigscan/pkg/audit"
	"github.com/opencloud-eu/sigscan/pkg/config"
	"github.com/opencloud-eu/sigscan/pkg/crypto"
	"github.com/opencloud-eu/sigscan/pkg/metrics"
	"github.com/opencloud-eu/sigscan/pkg/quarantine"
	"github.com/opencloud-eu/sigscan/pkg/scanner"
	"github.com/opencloud-eu/sigscan/pkg/signature"
	"github.com/pkg/errors"
)

// Reporter is told about every scanned file and quarantine attempt.
// Calls are made from the goroutine running Run.
type Reporter interface {
	Result(r scanner.Result)
	Quarantined(r scanner.Result, rec *audit.Record)
	QuarantineFailed(r scanner.Result, err error)
}

type nopReporter struct{}

func (nopReporter) Result(scanner.Result)                     {}
func (nopReporter) Quarantined(scanner.Result, *audit.Record) {}
func (nopReporter) QuarantineFailed(scanner.Result, error)    {}

// Option configures an Orchestrator.
type Option func(o *Orchestrator)

// WithDryRun reports infected files without quarantining them.
func WithDryRun(dry bool) Option {
	return func(o *Orchestrator) {
		o.dryRun = dry
	}
}

// WithReporter sets the Reporter.
func WithReporter(r Reporter) Option {
	return func(o *Orchestrator) {
		o.reporter = r
	}
}

// WithMetrics sets the metrics shared by scanner and quarantine manager.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// Summary counts the outcomes of a run.
type Summary struct {
	scanner.Summary
	Quarantined int
	// Failed is the number of infected files that could not be quarantined.
	Failed int
}

// Orchestrator runs scans with a fixed signature store and quarantine area.
type Orchestrator struct {
	store    *signature.Store
	scanner  *scanner.Scanner
	manager  *quarantine.Manager
	log      *audit.Log
	metrics  *metrics.Metrics
	reporter Reporter
	dryRun   bool
	textfile string
}

// New loads the signatures and prepares scanner and quarantine manager as
// configured in c. A broken signature source is returned as a
// *signature.LoadError.
func New(c *config.Config, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		reporter: nopReporter{},
		textfile: c.Metrics.Textfile,
	}
	for _, opt := range opts {
		opt(o)
	}

	algo, err := crypto.ParseAlgorithm(c.Signatures.Algorithm)
	if err != nil {
		return nil, err
	}
	o.store, err = signature.Load(c.Signatures.Path, signature.WithAlgorithm(algo))
	if err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.SignaturesLoaded.Set(float64(o.store.Len()))
	}

	o.log, err = audit.Open(c.Quarantine.Log)
	if err != nil {
		return nil, err
	}
	qo, err := quarantine.NewOptions(c.Quarantine.Options)
	if err != nil {
		return nil, errors.Wrap(err, "orchestrator: invalid quarantine options")
	}
	o.manager, err = quarantine.New(qo, o.log, quarantine.WithMetrics(o.metrics))
	if err != nil {
		return nil, err
	}

	exclude := append([]string{o.manager.Dir(), o.log.Path(), o.log.LockPath()}, c.Scan.Exclude...)
	o.scanner = scanner.New(o.store,
		scanner.WithWorkers(c.Scan.Workers),
		scanner.WithCache(c.Scan.CacheSize),
		scanner.WithSkipHidden(c.Scan.SkipHidden),
		scanner.WithExclude(exclude...),
		scanner.WithMetrics(o.metrics),
	)
	return o, nil
}

// Store returns the loaded signatures.
func (o *Orchestrator) Store() *signature.Store {
	return o.store
}

// AuditLog returns the log quarantined files are recorded in.
func (o *Orchestrator) AuditLog() *audit.Log {
	return o.log
}

// Run scans root and quarantines every infected file. The returned error is
// only set when the run was cancelled or metrics could not be written,
// per-file problems are counted in the Summary.
func (o *Orchestrator) Run(ctx context.Context, root string) (Summary, error) {
	ctx = appctx.ContextSetScanID(ctx, uuid.New().String())
	log := appctx.GetLogger(ctx)

	var sum Summary
	for r := range o.scanner.Scan(ctx, root) {
		sum.Add(r)
		o.reporter.Result(r)
		if r.Status != scanner.Infected || o.dryRun {
			continue
		}

		rec, err := o.manager.Quarantine(ctx, r.Path, quarantine.WithSignature(r.Signature))
		if err != nil {
			sum.Failed++
			o.reporter.QuarantineFailed(r, err)
			continue
		}
		sum.Quarantined++
		o.reporter.Quarantined(r, rec)
	}

	log.Info().
		Int("scanned", sum.Total()).
		Int("infected", sum.Infected).
		Int("quarantined", sum.Quarantined).
		Int("failed", sum.Failed).
		Bool("dry_run", o.dryRun).
		Msg("run finished")

	if o.textfile != "" && o.metrics != nil {
		if err := o.metrics.WriteTextfile(o.textfile); err != nil {
			return sum, errors.Wrap(err, "orchestrator: error writing metrics")
		}
	}
	return sum, ctx.Err()
}

// Close releases the quarantine manager.
func (o *Orchestrator) Close() error {
	return o.manager.Close()
}
