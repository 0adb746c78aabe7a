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

// Package audit implements the append-only quarantine log. Every line records
// one file that was moved into quarantine:
//
//	<original path> -> <destination path>
//
// Paths containing a line break, the separator or a leading quote are
// written as Go quoted strings, so one record is always exactly one line.
package audit

import (
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/opencloud-eu/sigscan/pkg/appctx"
	"github.com/opencloud-eu/sigscan/pkg/errtypes"
	"github.com/opencloud-eu/sigscan/pkg/utils/filelocks"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// DefaultPath is the log location used when none is configured.
const DefaultPath = "quarantine_log.txt"

// Separator divides the original from the destination path.
const Separator = " -> "

var tracer trace.Tracer

func init() {
	tracer = otel.Tracer("github.com/opencloud-eu/sigscan/pkg/audit")
}

// Record describes a quarantined file. Only the two paths are persisted,
// the other fields are informational for the caller that created it.
type Record struct {
	ID              string
	OriginalPath    string
	DestinationPath string
	Time            time.Time
	Signature       string
}

// Log is an audit log file. Appends are serialized between goroutines and,
// through a lock file next to the log, between processes.
type Log struct {
	path string
	mu   sync.Mutex
}

// Open returns the log at path. The file is created by the first Append.
func Open(path string) (*Log, error) {
	if path == "" {
		return nil, errtypes.BadRequest("audit: empty log path")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(err, "audit: error resolving log path")
	}
	return &Log{path: abs}, nil
}

// Path returns the absolute path of the log file.
func (l *Log) Path() string {
	return l.path
}

// LockPath returns the lock file kept next to the log.
func (l *Log) LockPath() string {
	return filelocks.FlockFile(l.path)
}

// Append writes r as one line and syncs the file before returning. Either the
// complete line is written or an error is returned.
func (l *Log) Append(ctx context.Context, r Record) (err error) {
	ctx, span := tracer.Start(ctx, "Append", trace.WithAttributes(attribute.String("log", l.path)))
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}()

	if r.OriginalPath == "" || r.DestinationPath == "" {
		return errtypes.BadRequest("audit: record without path")
	}
	line := FormatLine(r) + "\n"

	l.mu.Lock()
	defer l.mu.Unlock()

	lock, err := filelocks.AcquireWriteLock(ctx, l.path)
	if err != nil {
		return errors.Wrap(err, "audit: error locking log")
	}
	defer func() {
		if rerr := filelocks.ReleaseLock(lock); rerr != nil {
			appctx.GetLogger(ctx).Warn().Err(rerr).Str("log", l.path).Msg("could not release audit log lock")
		}
	}()

	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
	if err != nil {
		return errors.Wrap(errtypes.FromOS(err), "audit: error opening log")
	}
	if _, err = f.WriteString(line); err != nil {
		_ = f.Close()
		return errors.Wrap(errtypes.FromOS(err), "audit: error writing log")
	}
	if err = f.Sync(); err != nil {
		_ = f.Close()
		return errors.Wrap(errtypes.FromOS(err), "audit: error syncing log")
	}
	if err = f.Close(); err != nil {
		return errors.Wrap(err, "audit: error closing log")
	}

	appctx.GetLogger(ctx).Debug().Str("log", l.path).Str("original", r.OriginalPath).Str("destination", r.DestinationPath).Msg("audit record written")
	return nil
}

// Records returns all records in the log in the order they were written.
// A log that does not exist yet is empty. Records waits for concurrent
// writers until ctx is done.
func (l *Log) Records(ctx context.Context) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := os.Stat(l.path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	lock, err := filelocks.AcquireReadLock(ctx, l.path)
	if err != nil {
		return nil, errors.Wrap(err, "audit: error locking log")
	}
	defer func() { _ = filelocks.ReleaseLock(lock) }()

	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(errtypes.FromOS(err), "audit: error opening log")
	}
	defer f.Close()

	return readRecords(f)
}

func readRecords(r io.Reader) ([]Record, error) {
	var (
		records []Record
		br      = bufio.NewReader(r)
	)
	for n := 1; ; n++ {
		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, errors.Wrap(err, "audit: error reading log")
		}
		if line == "" && err == io.EOF {
			return records, nil
		}
		line = strings.TrimSuffix(line, "\n")
		if line != "" {
			rec, perr := ParseLine(line)
			if perr != nil {
				return nil, errors.Wrapf(perr, "audit: line %d", n)
			}
			records = append(records, rec)
		}
		if err == io.EOF {
			return records, nil
		}
	}
}

// FormatLine renders r without the trailing newline.
func FormatLine(r Record) string {
	return quoteField(r.OriginalPath) + Separator + quoteField(r.DestinationPath)
}

// ParseLine reverses FormatLine.
func ParseLine(line string) (Record, error) {
	orig, rest, err := unquoteField(line, true)
	if err != nil {
		return Record{}, err
	}
	dest, rest, err := unquoteField(rest, false)
	if err != nil {
		return Record{}, err
	}
	if rest != "" {
		return Record{}, errtypes.BadRequest("audit: trailing data after destination")
	}
	if orig == "" || dest == "" {
		return Record{}, errtypes.BadRequest("audit: empty path")
	}
	return Record{OriginalPath: orig, DestinationPath: dest}, nil
}

func quoteField(s string) string {
	if strings.ContainsAny(s, "\r\n") || strings.Contains(s, Separator) || strings.HasPrefix(s, `"`) {
		return strconv.Quote(s)
	}
	return s
}

// unquoteField reads one field from the start of s. The first field has to be
// followed by the separator, which is consumed.
func unquoteField(s string, first bool) (string, string, error) {
	var field, rest string
	if strings.HasPrefix(s, `"`) {
		q, err := strconv.QuotedPrefix(s)
		if err != nil {
			return "", "", errtypes.BadRequest("audit: invalid quoted path")
		}
		if field, err = strconv.Unquote(q); err != nil {
			return "", "", errtypes.BadRequest("audit: invalid quoted path")
		}
		rest = s[len(q):]
		if first {
			if !strings.HasPrefix(rest, Separator) {
				return "", "", errtypes.BadRequest("audit: missing separator")
			}
			rest = rest[len(Separator):]
		}
		return field, rest, nil
	}

	if !first {
		return s, "", nil
	}
	i := strings.Index(s, Separator)
	if i < 0 {
		return "", "", errtypes.BadRequest("audit: missing separator")
	}
	return s[:i], s[i+len(Separator):], nil
}
