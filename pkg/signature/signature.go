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

// Package signature loads known-bad digests and answers membership queries
// against them.
package signature

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/opencloud-eu/sigscan/pkg/crypto"
	"github.com/opencloud-eu/sigscan/pkg/errtypes"
	"github.com/pkg/errors"
)

// DefaultPath is where signatures are read from when nothing else is configured.
const DefaultPath = "signatures.json"

// Signature pairs a malware name with the digest of a known-bad file.
type Signature struct {
	Name   string
	Digest string
}

// LoadError is returned when a signature source cannot be turned into a Store.
type LoadError struct {
	Source string
	// Name of the offending entry, if the error concerns a single entry.
	Name string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("signature: error loading %s: entry %q: %v", e.Source, e.Name, e.Err)
	}
	return fmt.Sprintf("signature: error loading %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Store holds the loaded signatures, indexed by digest. It is read-only after
// construction and safe for concurrent use.
type Store struct {
	algo     crypto.Algorithm
	byDigest map[string][]string
	byName   map[string]string
}

// Option configures Load and New.
type Option func(o *options)

type options struct {
	algo crypto.Algorithm
}

// WithAlgorithm sets the algorithm the digests were generated with.
func WithAlgorithm(a crypto.Algorithm) Option {
	return func(o *options) {
		if a != "" {
			o.algo = a
		}
	}
}

func newOptions(opts []Option) options {
	o := options{algo: crypto.DefaultAlgorithm}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Load reads the signature source at path. Files ending in .toml are read as
// a TOML table of name = "digest" pairs, everything else as a JSON object
// mapping names to digests.
func Load(path string, opts ...Option) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{Source: path, Err: errtypes.NotFound(path)}
		}
		return nil, &LoadError{Source: path, Err: errors.Wrap(err, "error reading source")}
	}

	var sigs []Signature
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		sigs, err = decodeTOML(data)
	default:
		sigs, err = decodeJSON(data)
	}
	if err != nil {
		if le, ok := err.(*LoadError); ok {
			le.Source = path
			return nil, le
		}
		return nil, &LoadError{Source: path, Err: err}
	}

	s, err := New(sigs, opts...)
	if err != nil {
		if le, ok := err.(*LoadError); ok {
			le.Source = path
		}
		return nil, err
	}
	return s, nil
}

// New builds a Store from already parsed signatures. Every entry is
// validated against the configured algorithm.
func New(sigs []Signature, opts ...Option) (*Store, error) {
	o := newOptions(opts)
	s := &Store{
		algo:     o.algo,
		byDigest: make(map[string][]string, len(sigs)),
		byName:   make(map[string]string, len(sigs)),
	}

	for _, sig := range sigs {
		name := strings.TrimSpace(sig.Name)
		if name == "" {
			return nil, &LoadError{Source: "<memory>", Err: errtypes.BadRequest("empty signature name")}
		}
		if _, ok := s.byName[name]; ok {
			return nil, &LoadError{Source: "<memory>", Name: name, Err: errtypes.AlreadyExists("duplicate signature name")}
		}
		if !crypto.IsValidDigest(s.algo, sig.Digest) {
			return nil, &LoadError{
				Source: "<memory>",
				Name:   name,
				Err:    errtypes.BadRequest(fmt.Sprintf("digest %q is not a valid %s digest", sig.Digest, s.algo)),
			}
		}
		d := strings.ToLower(sig.Digest)
		s.byName[name] = d
		s.byDigest[d] = append(s.byDigest[d], name)
	}

	for d := range s.byDigest {
		sort.Strings(s.byDigest[d])
	}
	return s, nil
}

// Algorithm returns the digest algorithm of the stored signatures.
func (s *Store) Algorithm() crypto.Algorithm {
	return s.algo
}

// Len returns the number of signatures.
func (s *Store) Len() int {
	return len(s.byName)
}

// LookupByDigest returns the name of the signature matching the digest.
// If several signatures share the digest the lexically smallest name is returned.
func (s *Store) LookupByDigest(digest string) (string, bool) {
	names := s.byDigest[strings.ToLower(digest)]
	if len(names) == 0 {
		return "", false
	}
	return names[0], true
}

// NamesByDigest returns the names of all signatures matching the digest.
func (s *Store) NamesByDigest(digest string) []string {
	names := s.byDigest[strings.ToLower(digest)]
	return append([]string(nil), names...)
}

// Signatures returns all signatures ordered by name.
func (s *Store) Signatures() []Signature {
	sigs := make([]Signature, 0, len(s.byName))
	for n, d := range s.byName {
		sigs = append(sigs, Signature{Name: n, Digest: d})
	}
	sort.Slice(sigs, func(i, j int) bool { return sigs[i].Name < sigs[j].Name })
	return sigs
}

func decodeTOML(data []byte) ([]Signature, error) {
	raw := map[string]any{}
	if _, err := toml.Decode(string(data), &raw); err != nil {
		return nil, errors.Wrap(err, "malformed toml")
	}
	sigs := make([]Signature, 0, len(raw))
	for name, v := range raw {
		d, ok := v.(string)
		if !ok {
			return nil, &LoadError{Name: name, Err: errtypes.BadRequest(fmt.Sprintf("digest must be a string, got %T", v))}
		}
		sigs = append(sigs, Signature{Name: name, Digest: d})
	}
	return sigs, nil
}

// decodeJSON walks the tokens of a JSON object instead of unmarshalling into
// a map, so duplicated names are detected instead of silently overwritten.
func decodeJSON(data []byte) ([]Signature, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, errors.Wrap(err, "malformed json")
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, errtypes.BadRequest("signature source must be a json object")
	}

	var (
		sigs []Signature
		seen = map[string]struct{}{}
	)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, errors.Wrap(err, "malformed json")
		}
		name := tok.(string)

		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, errors.Wrap(err, "malformed json")
		}
		d, ok := v.(string)
		if !ok {
			return nil, &LoadError{Name: name, Err: errtypes.BadRequest(fmt.Sprintf("digest must be a string, got %T", v))}
		}
		if _, ok := seen[name]; ok {
			return nil, &LoadError{Name: name, Err: errtypes.AlreadyExists("duplicate signature name")}
		}
		seen[name] = struct{}{}
		sigs = append(sigs, Signature{Name: name, Digest: d})
	}

	if _, err := dec.Token(); err != nil {
		return nil, errors.Wrap(err, "malformed json")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errtypes.BadRequest("trailing data after signature object")
	}
	return sigs, nil
}
