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

// Package appctx carries request scoped values, like the logger and the
// scan session id, through a context.
package appctx

import (
	"context"

	"github.com/rs/zerolog"
)

type key int

const (
	scanIDKey key = iota
)

// WithLogger returns a context with an associated logger.
func WithLogger(ctx context.Context, l *zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}

// GetLogger returns the logger associated with the given context
// or a disabled logger in case no logger is stored inside the context.
func GetLogger(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}

// ContextSetScanID stores the scan session id in the context and adds it to
// the context logger.
func ContextSetScanID(ctx context.Context, id string) context.Context {
	sub := GetLogger(ctx).With().Str("scan", id).Logger()
	ctx = WithLogger(ctx, &sub)
	return context.WithValue(ctx, scanIDKey, id)
}

// ContextGetScanID returns the scan session id if set in the given context.
func ContextGetScanID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(scanIDKey).(string)
	return id, ok
}
