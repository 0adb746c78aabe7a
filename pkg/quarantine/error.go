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
	"fmt"

	"github.com/opencloud-eu/sigscan/pkg/audit"
)

// Step names the part of a quarantine attempt that failed.
type Step string

const (
	// StepEnsureArea is creating the quarantine area.
	StepEnsureArea Step = "ensure-area"
	// StepMove is relocating the file into the area.
	StepMove Step = "move"
	// StepLog is appending the audit record. The file has already been moved
	// when this step fails.
	StepLog Step = "log"
)

// Error is returned for a failed quarantine attempt.
type Error struct {
	Step Step
	Path string
	// Record is only set when the file was moved but could not be logged.
	Record *audit.Record
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("quarantine: %s failed for %s: %v", e.Step, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
