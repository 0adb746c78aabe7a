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

// Package filelocks guards files that are shared between goroutines and
// processes with flock(2) based sidecar lock files.
//
// The sidecar file is never removed. A waiter blocked on an unlinked inode
// would otherwise hold its lock alongside a caller that created a new one.
package filelocks

import (
	"context"
	"errors"
	"time"

	"github.com/gofrs/flock"
)

// ErrPathEmpty indicates that no path was specified
var ErrPathEmpty = errors.New("lock path is empty")

// _retryDelay is the pause between two attempts on a contended lock.
var _retryDelay = 10 * time.Millisecond

// SetRetryDelay configures the pause between two lock attempts.
func SetRetryDelay(d time.Duration) {
	if d > 0 {
		_retryDelay = d
	}
}

// FlockFile returns the name of the lock file guarding file, or an empty
// string for an empty name.
func FlockFile(file string) string {
	if file == "" {
		return ""
	}
	return file + ".flock"
}

// acquireLock blocks until it holds an exclusive lock if write is set and a
// shared one otherwise, or until ctx is done. Every call opens its own
// descriptor, so goroutines of one process exclude each other like
// separate processes do.
func acquireLock(ctx context.Context, file string, write bool) (*flock.Flock, error) {
	n := FlockFile(file)
	if n == "" {
		return nil, ErrPathEmpty
	}

	lock := flock.New(n)
	try := lock.TryRLockContext
	if write {
		try = lock.TryLockContext
	}
	locked, err := try(ctx, _retryDelay)
	if err != nil {
		_ = lock.Close()
		return nil, err
	}
	if !locked {
		_ = lock.Close()
		return nil, ctx.Err()
	}
	return lock, nil
}

// AcquireReadLock waits for a shared lock on file.
func AcquireReadLock(ctx context.Context, file string) (*flock.Flock, error) {
	return acquireLock(ctx, file, false)
}

// AcquireWriteLock waits for an exclusive lock on file.
func AcquireWriteLock(ctx context.Context, file string) (*flock.Flock, error) {
	return acquireLock(ctx, file, true)
}

// ReleaseLock unlocks a lock taken by AcquireReadLock or AcquireWriteLock and
// closes its descriptor.
func ReleaseLock(lock *flock.Flock) error {
	return lock.Close()
}
