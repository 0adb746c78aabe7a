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
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rogpeppe/go-internal/lockedfile"
)

const lockDir = ".locks"

// lockPath takes an exclusive lock for the source path abs. The lock lives in
// the area, so it is shared by every process quarantining into it.
func (m *Manager) lockPath(abs string) (func() error, error) {
	dir := filepath.Join(m.dir, lockDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrap(err, "quarantine: error creating lock directory")
	}
	sum := sha256.Sum256([]byte(abs))
	name := filepath.Join(dir, hex.EncodeToString(sum[:])+".lock")

	for {
		f, err := lockedfile.OpenFile(name, os.O_RDWR|os.O_CREATE, 0600)
		if err != nil {
			return nil, errors.Wrap(err, "quarantine: error locking path")
		}
		// the previous holder may have removed the file while we waited
		locked, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, errors.Wrap(err, "quarantine: error locking path")
		}
		current, err := os.Stat(name)
		if err != nil || !os.SameFile(locked, current) {
			_ = f.Close()
			continue
		}

		return func() error {
			rerr := os.Remove(name)
			if cerr := f.Close(); cerr != nil {
				return cerr
			}
			if errors.Is(rerr, os.ErrNotExist) {
				return nil
			}
			return rerr
		}, nil
	}
}
