// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

// Package sensitive wraps secret material so that every default rendering
// path masks it. The raw value only escapes through an explicit Reveal call.
package sensitive

import "encoding/json"

// Redacted is what every non-explicit rendering of a String produces.
const Redacted = "(sensitive value)"

// String holds a secret. fmt verbs, JSON and YAML marshaling all emit the
// Redacted placeholder, so a value can ride through the output pipeline
// without leaking.
type String string

func (s String) String() string {
	return Redacted
}

// GoString keeps %#v from leaking the underlying value.
func (s String) GoString() string {
	return Redacted
}

func (s String) MarshalJSON() ([]byte, error) {
	return json.Marshal(Redacted)
}

// MarshalYAML satisfies both yaml.v2 and yaml.v3 marshalers.
func (s String) MarshalYAML() (interface{}, error) {
	return Redacted, nil
}

// Reveal returns the underlying secret. Call sites are the audit surface, so
// keep them few.
func (s String) Reveal() string {
	return string(s)
}

func (s String) IsZero() bool {
	return s == ""
}
