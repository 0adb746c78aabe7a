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

// Package crypto computes content digests of files and streams.
package crypto

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/blake2b"
)

var tracer trace.Tracer

func init() {
	tracer = otel.Tracer("github.com/opencloud-eu/sigscan/pkg/crypto")
}

// BufferSize is the chunk size used when streaming file contents into a hash.
const BufferSize = 8 * 1024

// Algorithm names a digest algorithm.
type Algorithm string

// The supported digest algorithms.
const (
	SHA256     Algorithm = "sha256"
	SHA1       Algorithm = "sha1"
	MD5        Algorithm = "md5"
	BLAKE2b256 Algorithm = "blake2b-256"
)

// DefaultAlgorithm is used whenever no algorithm is configured. Signature
// databases and the digest engine must agree on it, otherwise every lookup
// is a silent miss.
const DefaultAlgorithm = SHA256

// ParseAlgorithm returns the algorithm with the given name.
// An empty name yields the DefaultAlgorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(name)))
	switch a {
	case "":
		return DefaultAlgorithm, nil
	case SHA256, SHA1, MD5, BLAKE2b256:
		return a, nil
	}
	return "", errors.Errorf("crypto: unsupported digest algorithm %q", name)
}

// New returns a fresh hash.Hash for the algorithm.
func (a Algorithm) New() hash.Hash {
	switch a {
	case SHA1:
		return sha1.New()
	case MD5:
		return md5.New()
	case BLAKE2b256:
		// only fails for keys longer than 64 bytes
		h, _ := blake2b.New256(nil)
		return h
	default:
		return sha256.New()
	}
}

// HexLen is the length of the hex encoded digest.
func (a Algorithm) HexLen() int {
	return a.New().Size() * 2
}

func (a Algorithm) String() string {
	if a == "" {
		return string(DefaultAlgorithm)
	}
	return string(a)
}

// IsValidDigest reports whether s looks like a hex encoded digest of the algorithm.
// Upper case hex digits are accepted.
func IsValidDigest(a Algorithm, s string) bool {
	if len(s) != a.HexLen() {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case '0' <= c && c <= '9', 'a' <= c && c <= 'f', 'A' <= c && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// ComputeXS computes the digest of everything read from r.
func ComputeXS(r io.Reader, a Algorithm) (string, error) {
	h := a.New()
	if _, err := io.CopyBuffer(h, r, make([]byte, BufferSize)); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// ComputeSHA256XS computes the sha256 checksum.
func ComputeSHA256XS(r io.Reader) (string, error) {
	return ComputeXS(r, SHA256)
}

// ComputeSHA1XS computes the sha1 checksum.
func ComputeSHA1XS(r io.Reader) (string, error) {
	return ComputeXS(r, SHA1)
}

// ComputeMD5XS computes the MD5 checksum.
func ComputeMD5XS(r io.Reader) (string, error) {
	return ComputeXS(r, MD5)
}

// FileDigest streams the file at path through the algorithm's hash and
// returns the lowercase hex digest. Either the complete digest or an error is
// returned, never a digest of a partially read file.
//
// The context is only used for tracing. Digesting a file is not interruptible.
func FileDigest(ctx context.Context, path string, a Algorithm) (string, error) {
	_, span := tracer.Start(ctx, "FileDigest", trace.WithAttributes(
		attribute.String("path", path),
		attribute.String("algorithm", a.String()),
	))
	defer span.End()

	f, err := os.Open(path)
	if err != nil {
		span.RecordError(err)
		return "", errors.Wrap(err, "crypto: error opening file")
	}
	defer f.Close()

	xs, err := ComputeXS(f, a)
	if err != nil {
		span.RecordError(err)
		return "", errors.Wrapf(err, "crypto: error reading %s", path)
	}
	return xs, nil
}
