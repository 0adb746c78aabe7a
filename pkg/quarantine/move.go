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
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/renameio/v2"
	"github.com/opencloud-eu/sigscan/pkg/appctx"
	"github.com/opencloud-eu/sigscan/pkg/errtypes"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// move relocates abs into the area and returns the destination path and the
// timestamp encoded in its name. On error the source is left in place and no
// file is left behind in the area.
func (m *Manager) move(ctx context.Context, abs string) (string, time.Time, error) {
	ctx, span := tracer.Start(ctx, "move")
	defer span.End()

	fi, err := os.Lstat(abs)
	if err != nil {
		return "", time.Time{}, errors.Wrap(errtypes.FromOS(err), "quarantine: error reading source")
	}
	if !fi.Mode().IsRegular() {
		return "", time.Time{}, errtypes.BadRequest("quarantine: not a regular file: " + abs)
	}

	dest, ts, err := m.reserve(abs)
	if err != nil {
		return "", time.Time{}, err
	}
	span.SetAttributes(attribute.String("destination", dest))

	err = m.rename(abs, dest)
	switch {
	case err == nil:
		return dest, ts, nil
	case errtypes.IsCrossDevice(err):
		appctx.GetLogger(ctx).Debug().Str("path", abs).Msg("area is on another filesystem, copying")
		if err := m.copyAcross(ctx, abs, dest, fi); err != nil {
			_ = os.Remove(dest)
			return "", time.Time{}, err
		}
		return dest, ts, nil
	default:
		_ = os.Remove(dest)
		return "", time.Time{}, errors.Wrap(errtypes.FromOS(err), "quarantine: error moving file")
	}
}

// reserve claims a fresh destination name by creating an empty placeholder.
// A name that is already taken, by another Manager or process, is skipped.
func (m *Manager) reserve(abs string) (string, time.Time, error) {
	for i := 0; i < m.o.MaxNameAttempts; i++ {
		ts := m.nextTime()
		dest := filepath.Join(m.dir, destinationName(ts, abs))
		f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", time.Time{}, errors.Wrap(errtypes.FromOS(err), "quarantine: error reserving destination")
		}
		if err := f.Close(); err != nil {
			_ = os.Remove(dest)
			return "", time.Time{}, errors.Wrap(err, "quarantine: error reserving destination")
		}
		return dest, ts, nil
	}
	return "", time.Time{}, errtypes.AlreadyExists("quarantine: no free destination name for " + abs)
}

// copyAcross copies src over the placeholder dest and removes src. If src
// can not be removed the copy is discarded, a file must never be both in
// place and in quarantine.
func (m *Manager) copyAcross(ctx context.Context, src, dest string, fi os.FileInfo) error {
	_, span := tracer.Start(ctx, "copyAcross", trace.WithAttributes(attribute.Int64("size", fi.Size())))
	defer span.End()

	in, err := os.Open(src)
	if err != nil {
		return errors.Wrap(errtypes.FromOS(err), "quarantine: error opening source")
	}
	defer in.Close()

	out, err := renameio.NewPendingFile(dest, renameio.WithTempDir(m.dir), renameio.WithPermissions(0600))
	if err != nil {
		return errors.Wrap(errtypes.FromOS(err), "quarantine: error creating copy")
	}
	defer func() { _ = out.Cleanup() }()

	if _, err := io.Copy(out, in); err != nil {
		return errors.Wrap(errtypes.FromOS(err), "quarantine: error copying file")
	}
	if err := out.CloseAtomicallyReplace(); err != nil {
		return errors.Wrap(errtypes.FromOS(err), "quarantine: error committing copy")
	}
	_ = os.Chtimes(dest, fi.ModTime(), fi.ModTime())

	if err := os.Remove(src); err != nil {
		return errors.Wrap(errtypes.FromOS(err), "quarantine: error removing source after copy")
	}
	return nil
}
