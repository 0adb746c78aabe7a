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
	"os"

	"github.com/opencloud-eu/sigscan/pkg/utils/cfg"
)

// DefaultDir is the quarantine area used when none is configured.
const DefaultDir = "quarantine"

// Options configure a Manager.
type Options struct {
	// Dir is the quarantine area. Relative paths are resolved against the
	// working directory when the Manager is created.
	Dir string `mapstructure:"dir"`

	// FileMode is applied to every quarantined file.
	FileMode uint32 `mapstructure:"file_mode" validate:"lte=0777"`

	// DisableXattrs turns off stamping quarantined files with their origin.
	DisableXattrs bool `mapstructure:"disable_xattrs"`

	// MaxNameAttempts limits how often a fresh destination name is tried when
	// the previous one is taken.
	MaxNameAttempts int `mapstructure:"max_name_attempts" validate:"gte=0"`
}

// ApplyDefaults fills in unset values.
func (o *Options) ApplyDefaults() {
	if o.Dir == "" {
		o.Dir = DefaultDir
	}
	if o.FileMode == 0 {
		o.FileMode = 0400
	}
	if o.MaxNameAttempts == 0 {
		o.MaxNameAttempts = 100
	}
}

// NewOptions decodes a generic config map into Options.
func NewOptions(m map[string]any) (*Options, error) {
	o := &Options{}
	if err := cfg.Decode(m, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (o *Options) fileMode() os.FileMode {
	return os.FileMode(o.FileMode) & os.ModePerm
}
