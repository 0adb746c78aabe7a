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

package errtypes

import (
	"github.com/pkg/errors"
	"github.com/pkg/xattr"
	"golang.org/x/sys/unix"
)

// XattrIsNotSupported checks if underlying error is ENOTSUP, which is what
// filesystems without user extended attributes return.
func XattrIsNotSupported(err error) bool {
	var xerr *xattr.Error
	if errors.As(err, &xerr) {
		if serr, ok := xerr.Err.(unix.Errno); ok {
			return serr == unix.ENOTSUP || serr == unix.EOPNOTSUPP
		}
	}
	return false
}

// IsCrossDevice checks if a rename failed because source and target live on
// different filesystems.
func IsCrossDevice(err error) bool {
	return errors.Is(err, unix.EXDEV)
}
