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

package quarantine

import (
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	// TimeFormat is the layout of the timestamp prefix of quarantined files.
	// It sorts lexically in time order.
	TimeFormat = "20060102150405.000000000"

	// Suffix marks quarantined files.
	Suffix = ".quarantined"

	maxNameLen = 255
)

// destinationName returns `<timestamp>_<name>.quarantined` for the base name
// of path. The name is normalised to NFC and shortened so the result fits
// into a single path element on common filesystems.
func destinationName(t time.Time, path string) string {
	name := norm.NFC.String(filepath.Base(path))
	prefix := t.UTC().Format(TimeFormat) + "_"
	if limit := maxNameLen - len(prefix) - len(Suffix); len(name) > limit {
		name = truncate(name, limit)
	}
	return prefix + name + Suffix
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// ParseName splits the base name of a quarantined file into the time it was
// quarantined and the (possibly shortened) original file name.
func ParseName(name string) (time.Time, string, bool) {
	name = filepath.Base(name)
	if !strings.HasSuffix(name, Suffix) {
		return time.Time{}, "", false
	}
	ts, orig, ok := strings.Cut(strings.TrimSuffix(name, Suffix), "_")
	if !ok {
		return time.Time{}, "", false
	}
	t, err := time.Parse(TimeFormat, ts)
	if err != nil {
		return time.Time{}, "", false
	}
	return t, orig, true
}
