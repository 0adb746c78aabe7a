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

// Package quarantine moves infected files into a restricted holding area and
// records every move in an audit log.
//
// A quarantine attempt runs through the steps ensure-area, move and log. A
// record is only handed to the log after the file has left its original
// location, and a failed move never produces a record.
package quarantine

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opencloud-eu/sigscan/pkg/appctx"
	"github.com/opencloud-eu/sigscan/pkg/audit"
	"github.com/opencloud-eu/sigscan/pkg/errtypes"
	"github.com/opencloud-eu/sigscan/pkg/metrics"
	"github.com/pkg/errors"
	"github.com/pkg/xattr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	originAttr    = "user.sigscan.origin"
	signatureAttr = "user.sigscan.signature"
)

// defaultLogTimeout bounds the wait for the audit log once a file has moved.
const defaultLogTimeout = 30 * time.Second

var tracer trace.Tracer

func init() {
	tracer = otel.Tracer("github.com/opencloud-eu/sigscan/pkg/quarantine")
}

// Sink receives the record of every quarantined file.
type Sink interface {
	Append(ctx context.Context, r audit.Record) error
}

// Option configures a Manager.
type Option func(m *Manager)

// WithMetrics counts quarantine attempts in mt.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// RequestOption configures a single quarantine attempt.
type RequestOption func(r *request)

type request struct {
	signature string
}

// WithSignature names the signature that matched the file.
func WithSignature(name string) RequestOption {
	return func(r *request) {
		r.signature = name
	}
}

// Manager quarantines files. It is safe for concurrent use, attempts for the
// same path are serialized.
type Manager struct {
	o       *Options
	dir     string
	sink    Sink
	metrics *metrics.Metrics

	mu   sync.Mutex
	last time.Time
	now  func() time.Time

	rename     func(oldpath, newpath string) error
	logTimeout time.Duration
}

// New returns a Manager for the area in o that logs to sink.
func New(o *Options, sink Sink, opts ...Option) (*Manager, error) {
	if o == nil {
		o = &Options{}
	}
	o.ApplyDefaults()
	if sink == nil {
		return nil, errtypes.BadRequest("quarantine: no audit sink")
	}
	dir, err := filepath.Abs(o.Dir)
	if err != nil {
		return nil, errors.Wrap(err, "quarantine: error resolving area")
	}
	m := &Manager{
		o:          o,
		dir:        filepath.Clean(dir),
		sink:       sink,
		now:        time.Now,
		rename:     os.Rename,
		logTimeout: defaultLogTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Dir returns the absolute path of the quarantine area.
func (m *Manager) Dir() string {
	return m.dir
}

// Quarantine moves the file at path into the area and logs the move. On
// success the written record is returned. On failure the error is an *Error
// naming the failed step.
func (m *Manager) Quarantine(ctx context.Context, path string, opts ...RequestOption) (*audit.Record, error) {
	req := &request{}
	for _, o := range opts {
		o(req)
	}

	ctx, span := tracer.Start(ctx, "Quarantine", trace.WithAttributes(attribute.String("path", path)))
	defer span.End()

	log := appctx.GetLogger(ctx).With().Str("pkg", "quarantine").Str("path", path).Logger()

	fail := func(step Step, rec *audit.Record, err error) (*audit.Record, error) {
		span.SetStatus(codes.Error, string(step))
		span.RecordError(err)
		m.metrics.ObserveQuarantine(string(step))
		log.Error().Err(err).Str("step", string(step)).Msg("quarantine failed")
		return nil, &Error{Step: step, Path: path, Record: rec, Err: err}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fail(StepMove, nil, errors.Wrap(err, "quarantine: error resolving path"))
	}

	if err := m.ensureArea(ctx); err != nil {
		return fail(StepEnsureArea, nil, err)
	}

	unlock, err := m.lockPath(abs)
	if err != nil {
		return fail(StepMove, nil, err)
	}
	defer func() {
		if uerr := unlock(); uerr != nil {
			log.Warn().Err(uerr).Msg("could not release path lock")
		}
	}()

	dest, ts, err := m.move(ctx, abs)
	if err != nil {
		return fail(StepMove, nil, err)
	}

	rec := &audit.Record{
		ID:              uuid.New().String(),
		OriginalPath:    abs,
		DestinationPath: dest,
		Time:            ts,
		Signature:       req.signature,
	}
	m.restrict(ctx, rec)

	// a moved file must be logged even if the caller gave up meanwhile
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.logTimeout)
	lctx, lspan := tracer.Start(lctx, "log")
	err = m.sink.Append(lctx, *rec)
	lspan.End()
	cancel()
	if err != nil {
		// the file is in quarantine, the error carries the record
		return fail(StepLog, rec, err)
	}

	m.metrics.ObserveQuarantine("")
	log.Info().Str("destination", dest).Str("signature", req.signature).Str("id", rec.ID).Msg("file quarantined")
	return rec, nil
}

// Close releases resources held by the Manager.
func (m *Manager) Close() error {
	return nil
}

func (m *Manager) ensureArea(ctx context.Context) error {
	_, span := tracer.Start(ctx, "ensureArea")
	defer span.End()

	if err := os.MkdirAll(m.dir, 0700); err != nil {
		return errors.Wrap(errtypes.FromOS(err), "quarantine: error creating area")
	}
	return nil
}

// restrict stamps the quarantined file with its origin and drops write
// permissions. Both are best effort, the file is already out of reach.
func (m *Manager) restrict(ctx context.Context, rec *audit.Record) {
	log := appctx.GetLogger(ctx)

	if !m.o.DisableXattrs {
		attrs := map[string]string{originAttr: rec.OriginalPath}
		if rec.Signature != "" {
			attrs[signatureAttr] = rec.Signature
		}
		for k, v := range attrs {
			if err := xattr.Set(rec.DestinationPath, k, []byte(v)); err != nil {
				if errtypes.XattrIsNotSupported(err) {
					log.Debug().Str("destination", rec.DestinationPath).Msg("filesystem does not support extended attributes")
					break
				}
				log.Warn().Err(err).Str("attr", k).Str("destination", rec.DestinationPath).Msg("could not stamp quarantined file")
			}
		}
	}

	if err := os.Chmod(rec.DestinationPath, m.o.fileMode()); err != nil {
		log.Warn().Err(err).Str("destination", rec.DestinationPath).Msg("could not restrict quarantined file")
	}
}

// Origin reads the original path stamped onto a quarantined file.
func Origin(dest string) (string, error) {
	v, err := xattr.Get(dest, originAttr)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// nextTime returns a timestamp strictly after every one handed out before,
// even if the clock stands still or goes backwards.
func (m *Manager) nextTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.now().UTC()
	if !t.After(m.last) {
		t = m.last.Add(time.Nanosecond)
	}
	m.last = t
	return t
}
