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

// Package config holds the sigscan configuration file format.
package config

import (
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/creasty/defaults"
	"github.com/mitchellh/mapstructure"
	"github.com/opencloud-eu/sigscan/pkg/utils/cfg"
	"github.com/pkg/errors"
)

// Config holds the sigscan configuration.
type Config struct {
	Log        *Log        `key:"log"        mapstructure:"log"        default:"{}"`
	Signatures *Signatures `key:"signatures" mapstructure:"signatures" default:"{}"`
	Scan       *Scan       `key:"scan"       mapstructure:"scan"       default:"{}"`
	Quarantine *Quarantine `key:"quarantine" mapstructure:"quarantine" default:"{}"`
	Metrics    *Metrics    `key:"metrics"    mapstructure:"metrics"    default:"{}"`
	Tracing    *Tracing    `key:"tracing"    mapstructure:"tracing"    default:"{}"`
}

// Log holds the configuration for the logger.
type Log struct {
	Output string `key:"output" mapstructure:"output" default:"stderr"`
	Mode   string `key:"mode"   mapstructure:"mode"   default:"console" validate:"oneof=console json"`
	Level  string `key:"level"  mapstructure:"level"  default:"info"    validate:"oneof=trace debug info warn error fatal panic disabled"`
}

// Signatures selects the signature source.
type Signatures struct {
	Path      string `key:"path"      mapstructure:"path"      default:"signatures.json" validate:"required"`
	Algorithm string `key:"algorithm" mapstructure:"algorithm" default:"sha256"          validate:"oneof=sha256 sha1 md5 blake2b-256"`
}

// Scan tunes the scan engine.
type Scan struct {
	Workers    int      `key:"workers"     mapstructure:"workers"     default:"1"  validate:"gte=0"`
	CacheSize  int      `key:"cache_size"  mapstructure:"cache_size"               validate:"gte=0"`
	SkipHidden bool     `key:"skip_hidden" mapstructure:"skip_hidden"`
	Exclude    []string `key:"exclude"     mapstructure:"exclude"     default:"[]"`
}

// Quarantine configures the quarantine area and the audit log. All keys but
// log are handed to the quarantine manager.
type Quarantine struct {
	Log     string         `key:"log"     mapstructure:"log"     default:"quarantine_log.txt" validate:"required"`
	Options map[string]any `key:",squash" mapstructure:",remain"`
}

// Metrics configures where metrics are written.
type Metrics struct {
	// Textfile is written in the prometheus text format after every scan,
	// for the node exporter textfile collector. Empty disables it.
	Textfile string `key:"textfile" mapstructure:"textfile"`
}

// Tracing configures the OTLP span exporter.
type Tracing struct {
	Enabled     bool   `key:"enabled"      mapstructure:"enabled"`
	Endpoint    string `key:"endpoint"     mapstructure:"endpoint"     validate:"required_if=Enabled true"`
	Insecure    bool   `key:"insecure"     mapstructure:"insecure"`
	ServiceName string `key:"service_name" mapstructure:"service_name" default:"sigscan"`
}

// Default returns the configuration used without a config file.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(err)
	}
	return &c
}

// Load loads the configuration from the reader.
func Load(r io.Reader) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, err
	}
	var raw map[string]any
	if _, err := toml.NewDecoder(r).Decode(&raw); err != nil {
		return nil, errors.Wrap(err, "config: error decoding toml data")
	}
	if err := mapstructure.WeakDecode(raw, &c); err != nil {
		return nil, errors.Wrap(err, "config: error decoding configuration")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadFile loads the configuration from the file at path. An empty path
// returns the defaults.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: error opening file")
	}
	defer f.Close()
	return Load(f)
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	if err := cfg.Validate(c); err != nil {
		return errors.Wrap(err, "config: invalid configuration")
	}
	return nil
}
