// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

package seqgen

import "fmt"

// SequenceNotFoundError is returned when a SEQUENCE-kind counter is queried
// before it was created. It points at a gap in schema bootstrap and is not
// retried.
type SequenceNotFoundError struct {
	Key Key
}

func (e *SequenceNotFoundError) Error() string {
	return fmt.Sprintf("sequence missing: %s", e.Key.Name)
}

// BackendError wraps any failure reported by a store client. The cause is
// kept unchanged so callers can still match it with errors.Is / errors.As.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// ConfigurationError reports a malformed key or request.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
