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

// Package errtypes contains definitions for common errors.
// It would have nice to call this package errors, err or error
// but errors clashes with github.com/pkg/errors, err is used for any error variable
// and error is a reserved word :)
package errtypes

import (
	"io/fs"
	"syscall"

	"github.com/pkg/errors"
)

// NotFound is the error to use when a something is not found.
type NotFound string

func (e NotFound) Error() string { return "error: not found: " + string(e) }

// IsNotFound implements the IsNotFound interface.
func (e NotFound) IsNotFound() {}

// AlreadyExists is the error to use when a resource something is not found.
type AlreadyExists string

func (e AlreadyExists) Error() string { return "error: already exists: " + string(e) }

// IsAlreadyExists implements the IsAlreadyExists interface.
func (e AlreadyExists) IsAlreadyExists() {}

// PermissionDenied is the error to use when a resource cannot be accessed because of missing permissions.
type PermissionDenied string

func (e PermissionDenied) Error() string { return "error: permission denied: " + string(e) }

// IsPermissionDenied implements the IsPermissionDenied interface.
func (e PermissionDenied) IsPermissionDenied() {}

// BadRequest is the error to use when the input is malformed.
type BadRequest string

func (e BadRequest) Error() string { return "error: bad request: " + string(e) }

// IsBadRequest implements the IsBadRequest interface.
func (e BadRequest) IsBadRequest() {}

// InsufficientStorage is the error to use when there is no space left on the device.
type InsufficientStorage string

func (e InsufficientStorage) Error() string { return "error: insufficient storage: " + string(e) }

// IsInsufficientStorage implements the IsInsufficientStorage interface.
func (e InsufficientStorage) IsInsufficientStorage() {}

// IsNotFound is the interface to implement
// to specify that an a resource is not found.
type IsNotFound interface {
	IsNotFound()
}

// IsAlreadyExists is the interface to implement
// to specify that a resource already exists.
type IsAlreadyExists interface {
	IsAlreadyExists()
}

// IsPermissionDenied is the interface to implement
// to specify that an action is denied.
type IsPermissionDenied interface {
	IsPermissionDenied()
}

// IsBadRequest is the interface to implement
// to specify that the input was malformed.
type IsBadRequest interface {
	IsBadRequest()
}

// IsInsufficientStorage is the interface to implement
// to specify that a there is insufficient storage.
type IsInsufficientStorage interface {
	IsInsufficientStorage()
}

// FromOS classifies an error returned by the os package. The original error
// is kept as the cause so errors.Is keeps working on the result.
func FromOS(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return errors.WithStack(joined{NotFound(msg), err})
	case errors.Is(err, fs.ErrExist):
		return errors.WithStack(joined{AlreadyExists(msg), err})
	case errors.Is(err, fs.ErrPermission), errors.Is(err, syscall.EROFS):
		return errors.WithStack(joined{PermissionDenied(msg), err})
	case errors.Is(err, syscall.ENOSPC), errors.Is(err, syscall.EDQUOT):
		return errors.WithStack(joined{InsufficientStorage(msg), err})
	}
	return err
}

// joined pairs a classifying errtype with the error it was derived from.
type joined struct {
	kind  error
	cause error
}

func (j joined) Error() string { return j.kind.Error() }

func (j joined) Unwrap() []error { return []error{j.kind, j.cause} }

// Is reports whether err, or any error it wraps, is of kind T.
//
//	if errtypes.Is[errtypes.IsNotFound](err) { ... }
func Is[T any](err error) bool {
	var target T
	return errors.As(err, &target)
}
