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

// Package scanner walks directory trees and classifies every regular file by
// comparing its content digest against a set of known-bad digests.
//
// The scanner only ever reads. Acting on infected files is up to the caller.
package scanner

import (
	"context"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/opencloud-eu/sigscan/pkg/appctx"
	"github.com/opencloud-eu/sigscan/pkg/crypto"
	"github.com/opencloud-eu/sigscan/pkg/metrics"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Status is the classification of a scanned file.
type Status int

const (
	// Clean means the digest matched no signature.
	Clean Status = iota
	// Infected means the digest is equal to a signature digest.
	Infected
	// Unreadable means the file could not be digested.
	Unreadable
)

func (s Status) String() string {
	switch s {
	case Clean:
		return "clean"
	case Infected:
		return "infected"
	case Unreadable:
		return "unreadable"
	}
	return "unknown"
}

// Result is the outcome for a single path.
type Result struct {
	Path   string
	Status Status
	// Signature is the name of the matched signature, set for Infected results.
	Signature string
	// Digest is empty for Unreadable results.
	Digest string
	// Err is the cause of an Unreadable result.
	Err error
}

// Reason describes why a file was unreadable.
func (r Result) Reason() string {
	if r.Err == nil {
		return ""
	}
	switch {
	case errors.Is(r.Err, fs.ErrPermission):
		return "permission denied"
	case errors.Is(r.Err, fs.ErrNotExist):
		return "no such file or directory"
	}
	return errors.Cause(r.Err).Error()
}

// Matcher looks up digests. The scanner hashes files with the matcher's
// algorithm, so digests and signatures can never disagree on it.
type Matcher interface {
	LookupByDigest(digest string) (string, bool)
	Algorithm() crypto.Algorithm
}

// Option configures a Scanner.
type Option func(s *Scanner)

// WithWorkers sets the number of files digested in parallel. With more than
// one worker results are delivered in completion order. Values below 1 use
// the number of CPUs.
func WithWorkers(n int) Option {
	return func(s *Scanner) {
		if n < 1 {
			n = runtime.NumCPU()
		}
		s.workers = n
	}
}

// WithExclude skips the given paths and everything below them.
func WithExclude(paths ...string) Option {
	return func(s *Scanner) {
		for _, p := range paths {
			if p == "" {
				continue
			}
			s.exclude = append(s.exclude, resolve(p))
		}
	}
}

// WithSkipHidden skips files and directories whose name starts with a dot.
func WithSkipHidden(skip bool) Option {
	return func(s *Scanner) {
		s.skipHidden = skip
	}
}

// WithCache keeps the digests of up to size files and reuses them while a
// file stays unchanged. A size of 0 disables the cache.
func WithCache(size int) Option {
	return func(s *Scanner) {
		s.cache = newDigestCache(size)
	}
}

// WithMetrics records scan outcomes in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scanner) {
		s.metrics = m
	}
}

// Scanner classifies files. It is safe to run several scans at once.
type Scanner struct {
	matcher    Matcher
	workers    int
	exclude    []string
	skipHidden bool
	cache      *digestCache
	metrics    *metrics.Metrics

	digest func(ctx context.Context, path string, a crypto.Algorithm) (string, error)
}

// New returns a Scanner matching digests against m.
func New(m Matcher, opts ...Option) *Scanner {
	s := &Scanner{
		matcher: m,
		workers: 1,
		digest:  crypto.FileDigest,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Scan walks root and yields one Result per regular file. Directories are
// visited in lexical order. Symbolic links and special files are skipped.
//
// Files that can not be read, and directories that can not be listed, yield
// an Unreadable result and the walk goes on. Cancelling ctx or stopping the
// iteration ends the scan after the files currently being digested. Every
// call performs a fresh walk.
func (s *Scanner) Scan(ctx context.Context, root string) iter.Seq[Result] {
	return func(yield func(Result) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		log := appctx.GetLogger(ctx).With().Str("pkg", "scanner").Str("root", root).Logger()
		log.Info().Int("workers", s.workers).Msg("scan started")
		start := time.Now()

		var sum Summary
		defer func() {
			s.metrics.ScanFinished(time.Now())
			log.Info().
				Int("clean", sum.Clean).
				Int("infected", sum.Infected).
				Int("unreadable", sum.Unreadable).
				Dur("took", time.Since(start)).
				Msg("scan finished")
		}()

		results := make(chan Result)
		paths := make(chan string)
		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			defer close(paths)
			return s.walk(gctx, resolve(root), paths, results)
		})

		for i := 0; i < s.workers; i++ {
			g.Go(func() error {
				for path := range paths {
					// cancellation is honoured between files, never while digesting one
					if err := gctx.Err(); err != nil {
						return err
					}
					r := s.scanFile(gctx, path)
					select {
					case results <- r:
					case <-gctx.Done():
						return gctx.Err()
					}
				}
				return nil
			})
		}

		go func() {
			_ = g.Wait()
			close(results)
		}()

		for r := range results {
			sum.Add(r)
			if !yield(r) {
				cancel()
				break
			}
		}
		// wait for the walker and the workers to give up
		for range results {
		}
	}
}

func (s *Scanner) walk(ctx context.Context, root string, paths chan<- string, results chan<- Result) error {
	send := func(r Result) error {
		select {
		case results <- r:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.metrics.ObserveFile(Unreadable.String(), 0)
			if serr := send(Result{Path: path, Status: Unreadable, Err: errors.Wrap(err, "scanner: error walking")}); serr != nil {
				return serr
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if s.excluded(path) || (s.skipHidden && path != root && strings.HasPrefix(d.Name(), ".")) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}

		select {
		case paths <- path:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

func (s *Scanner) scanFile(ctx context.Context, path string) Result {
	log := appctx.GetLogger(ctx)
	algo := s.matcher.Algorithm()

	var (
		digest string
		took   time.Duration
	)

	info, statErr := s.statForCache(path)
	cached := false
	if statErr == nil {
		digest, cached = s.cache.get(path, info)
	}

	if cached {
		s.metrics.ObserveCacheHit()
	} else {
		start := time.Now()
		d, err := s.digest(ctx, path, algo)
		took = time.Since(start)
		if err != nil {
			log.Debug().Err(err).Str("path", path).Msg("file is unreadable")
			s.metrics.ObserveFile(Unreadable.String(), took)
			return Result{Path: path, Status: Unreadable, Err: err}
		}
		digest = d
		if statErr == nil {
			// only cache when the file did not change while it was hashed
			if after, err := os.Stat(path); err == nil && unchanged(info, after) {
				s.cache.set(path, info, digest)
			}
		}
	}

	r := Result{Path: path, Status: Clean, Digest: digest}
	if name, ok := s.matcher.LookupByDigest(digest); ok {
		r.Status = Infected
		r.Signature = name
		log.Debug().Str("path", path).Str("signature", name).Msg("signature matched")
	}
	s.metrics.ObserveFile(r.Status.String(), took)
	return r
}

// statForCache only stats when caching is enabled.
func (s *Scanner) statForCache(path string) (os.FileInfo, error) {
	if s.cache == nil {
		return nil, errCacheDisabled
	}
	return os.Stat(path)
}

var errCacheDisabled = errors.New("cache disabled")

func (s *Scanner) excluded(path string) bool {
	for _, ex := range s.exclude {
		if path == ex || strings.HasPrefix(path, ex+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// resolve makes p absolute and resolves symbolic links where possible, so
// exclusions compare equal to walked paths.
func resolve(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		p = resolved
	}
	return filepath.Clean(p)
}

// Summary counts scan outcomes.
type Summary struct {
	Clean      int
	Infected   int
	Unreadable int
}

// Add counts r.
func (s *Summary) Add(r Result) {
	switch r.Status {
	case Clean:
		s.Clean++
	case Infected:
		s.Infected++
	case Unreadable:
		s.Unreadable++
	}
}

// Total is the number of counted results.
func (s Summary) Total() int {
	return s.Clean + s.Infected + s.Unreadable
}
