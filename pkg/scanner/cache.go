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

package scanner

import (
	"os"

	"github.com/bluele/gcache"
)

// digestCache remembers digests of files that did not change since they were
// last hashed. A file counts as unchanged when it is the same file (device
// and inode) with the same size and modification time.
type digestCache struct {
	c gcache.Cache
}

type cacheEntry struct {
	info   os.FileInfo
	digest string
}

func newDigestCache(size int) *digestCache {
	if size <= 0 {
		return nil
	}
	return &digestCache{c: gcache.New(size).LRU().Build()}
}

func unchanged(a, b os.FileInfo) bool {
	return os.SameFile(a, b) && a.Size() == b.Size() && a.ModTime().Equal(b.ModTime())
}

// get returns the cached digest if the file described by info still matches.
func (dc *digestCache) get(path string, info os.FileInfo) (string, bool) {
	if dc == nil {
		return "", false
	}
	v, err := dc.c.Get(path)
	if err != nil {
		return "", false
	}
	e := v.(cacheEntry)
	if !unchanged(e.info, info) {
		_ = dc.c.Remove(path)
		return "", false
	}
	return e.digest, true
}

func (dc *digestCache) set(path string, info os.FileInfo, digest string) {
	if dc == nil {
		return
	}
	_ = dc.c.Set(path, cacheEntry{info: info, digest: digest})
}
