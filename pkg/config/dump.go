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

package config

import (
	"io"
	"reflect"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// Dump returns the configuration as a map keyed like the config file.
func (c *Config) Dump() map[string]any {
	m, ok := dumpValue(reflect.ValueOf(c)).(map[string]any)
	if !ok {
		panic("config: dump of a struct is not a map")
	}
	return m
}

// Encode writes the effective configuration as TOML.
func (c *Config) Encode(w io.Writer) error {
	if err := toml.NewEncoder(w).Encode(c.Dump()); err != nil {
		return errors.Wrap(err, "config: error encoding toml")
	}
	return nil
}

func dumpValue(v reflect.Value) any {
	switch v.Kind() {
	case reflect.Invalid:
		return nil
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		return dumpValue(v.Elem())
	case reflect.Struct:
		return dumpStruct(v)
	case reflect.Map:
		m := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			k, ok := iter.Key().Interface().(string)
			if !ok {
				panic("config: map keys must be strings")
			}
			if e := dumpValue(iter.Value()); e != nil {
				m[k] = e
			}
		}
		return m
	case reflect.Array, reflect.Slice:
		l := make([]any, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			l = append(l, dumpValue(v.Index(i)))
		}
		return l
	}
	return v.Interface()
}

func dumpStruct(v reflect.Value) map[string]any {
	t := v.Type()
	m := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		key := f.Tag.Get("key")
		if key == "" {
			key = f.Name
		}
		e := dumpValue(v.Field(i))
		if key == ",squash" {
			if sub, ok := e.(map[string]any); ok {
				for k, sv := range sub {
					m[k] = sv
				}
			}
			continue
		}
		if e != nil {
			m[key] = e
		}
	}
	return m
}
