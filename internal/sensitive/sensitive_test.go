// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package sensitive

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	yamlv2 "gopkg.in/yaml.v2"
	yamlv3 "gopkg.in/yaml.v3"
)

func TestString_Redaction(t *testing.T) {
	s := String("wJalrXUtnFEMI/K7MDENG/bPxRfiCYEXAMPLEKEY")

	tests := []struct {
		name string
		got  string
	}{
		{name: "String method", got: s.String()},
		{name: "fmt %s", got: fmt.Sprintf("%s", s)},
		{name: "fmt %v", got: fmt.Sprintf("%v", s)},
		{name: "fmt %#v", got: fmt.Sprintf("%#v", s)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, Redacted, tt.got)
			assert.NotContains(t, tt.got, "EXAMPLEKEY")
		})
	}
}

func TestString_MarshalJSON(t *testing.T) {
	type rec struct {
		ID     string `json:"id"`
		Secret String `json:"secret"`
	}

	out, err := json.Marshal(rec{ID: "AKIAEXAMPLE", Secret: "hunter2"})
	assert.NoError(t, err)
	assert.Contains(t, string(out), Redacted)
	assert.NotContains(t, string(out), "hunter2")
}

func TestString_MarshalYAML(t *testing.T) {
	type rec struct {
		ID     string `yaml:"id"`
		Secret String `yaml:"secret"`
	}
	in := rec{ID: "AKIAEXAMPLE", Secret: "hunter2"}

	out2, err := yamlv2.Marshal(in)
	assert.NoError(t, err)
	assert.Contains(t, string(out2), Redacted)
	assert.NotContains(t, string(out2), "hunter2")

	out3, err := yamlv3.Marshal(in)
	assert.NoError(t, err)
	assert.Contains(t, string(out3), Redacted)
	assert.NotContains(t, string(out3), "hunter2")
}

func TestString_Reveal(t *testing.T) {
	s := String("hunter2")
	assert.Equal(t, "hunter2", s.Reveal())
	assert.False(t, s.IsZero())
	assert.True(t, String("").IsZero())
}
