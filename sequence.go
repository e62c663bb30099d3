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

// Package seqgen defines the value types shared by the sequence generator:
// the key that names a logical counter, the request for the next block of
// identifiers and the errors callers are expected to branch on.
//
// A counter is addressed by (Grouping, Name). Two keys with the same Name but
// a different Grouping live in physically separate counter stores and never
// influence each other.
package seqgen

import (
	"fmt"
	"regexp"
)

// Kind selects how a counter is represented in the backend.
type Kind int

const (
	// KindTable stores one record per sequence name inside a shared counter
	// table (the grouping). Records are created lazily on first use.
	KindTable Kind = iota
	// KindSequence stores one record per sequence addressed directly by name.
	// Records must be created up front (see CreateSequenceRecords).
	KindSequence
)

func (k Kind) String() string {
	switch k {
	case KindTable:
		return "TABLE"
	case KindSequence:
		return "SEQUENCE"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind accepts "table" or "sequence" in any case.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "table", "TABLE", "Table":
		return KindTable, nil
	case "sequence", "SEQUENCE", "Sequence":
		return KindSequence, nil
	}
	return 0, &ConfigurationError{Field: "kind", Reason: fmt.Sprintf("unknown kind %q", s)}
}

const (
	// DefaultTableGrouping is the counter table used when none is configured.
	DefaultTableGrouping = "hibernate_sequences"
	// SequenceGrouping holds all SEQUENCE-kind records unless overridden.
	SequenceGrouping = "SEQUENCE"
	// DefaultKeyColumn holds the sequence name inside a counter record.
	DefaultKeyColumn = "sequence_name"
	// DefaultValueColumn holds the current counter value.
	DefaultValueColumn = "next_val"

	DefaultInitialValue int64 = 1
	DefaultIncrement    int64 = 1
)

// Key identifies one logical counter. Key is comparable and is used as a map
// key by callers (for example the initial values passed to bootstrap).
//
// All keys of one grouping must share KeyColumn and ValueColumn: a grouping
// is a single physical table. Bootstrap rejects keys that disagree.
type Key struct {
	Kind        Kind
	Grouping    string
	Name        string
	KeyColumn   string
	ValueColumn string
}

// TableKey returns a TABLE-kind key inside the given counter table using the
// default column names.
func TableKey(grouping, name string) Key {
	return Key{
		Kind:        KindTable,
		Grouping:    grouping,
		Name:        name,
		KeyColumn:   DefaultKeyColumn,
		ValueColumn: DefaultValueColumn,
	}
}

// DefaultTableKey is TableKey(DefaultTableGrouping, name).
func DefaultTableKey(name string) Key { return TableKey(DefaultTableGrouping, name) }

// SequenceKey returns a SEQUENCE-kind key for name.
func SequenceKey(name string) Key {
	return Key{
		Kind:        KindSequence,
		Grouping:    SequenceGrouping,
		Name:        name,
		KeyColumn:   DefaultKeyColumn,
		ValueColumn: DefaultValueColumn,
	}
}

func (k Key) String() string {
	return fmt.Sprintf("%s(%s/%s)", k.Kind, k.Grouping, k.Name)
}

var identifierRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks the key shape. Grouping and column names end up inside
// rendered statements, so only plain identifiers are accepted. The name is
// always bound as a parameter and may be any non-empty string.
func (k Key) Validate() error {
	if k.Kind != KindTable && k.Kind != KindSequence {
		return &ConfigurationError{Field: "kind", Reason: fmt.Sprintf("unsupported kind %s", k.Kind)}
	}
	if k.Name == "" {
		return &ConfigurationError{Field: "name", Reason: "must not be empty"}
	}
	for _, f := range []struct{ field, value string }{
		{"grouping", k.Grouping},
		{"keyColumn", k.KeyColumn},
		{"valueColumn", k.ValueColumn},
	} {
		if !identifierRE.MatchString(f.value) {
			return &ConfigurationError{Field: f.field, Reason: fmt.Sprintf("%q is not a valid identifier", f.value)}
		}
	}
	return nil
}

// Request asks for the next block of Increment identifiers for Key.
// InitialValue is the lower bound of the very first block handed out for a
// counter that has never been used.
type Request struct {
	Key          Key
	Increment    int64
	InitialValue int64
}

// NewRequest builds a request with the given block size and start value.
func NewRequest(key Key, increment, initialValue int64) Request {
	return Request{Key: key, Increment: increment, InitialValue: initialValue}
}

// Validate rejects malformed requests before any backend call is made.
func (r Request) Validate() error {
	if r.Increment <= 0 {
		return &ConfigurationError{Field: "increment", Reason: fmt.Sprintf("must be > 0, got %d", r.Increment)}
	}
	return r.Key.Validate()
}

// Block is the half-open interval [Lower, Lower+Size) returned by one call.
type Block struct {
	Lower int64
	Size  int64
}

// Upper returns the exclusive upper bound of the block.
func (b Block) Upper() int64 { return b.Lower + b.Size }

// Contains reports whether v falls inside the block.
func (b Block) Contains(v int64) bool { return v >= b.Lower && v < b.Upper() }
