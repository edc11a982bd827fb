// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package util

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRootDir(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "not-a-dir")
	assert.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	wd, err := os.Getwd()
	assert.NoError(t, err)

	tests := []struct {
		name    string
		spec    string
		wantDir string
		wantEnv string
		wantErr bool
	}{
		{
			name:    "empty spec resolves to CWD",
			spec:    "",
			wantDir: wd,
			wantEnv: "",
		},
		{
			name:    "plain dir",
			spec:    dir,
			wantDir: dir,
			wantEnv: "",
		},
		{
			name:    "dir with env",
			spec:    dir + "::prod",
			wantDir: dir,
			wantEnv: "prod",
		},
		{
			name:    "dir with empty env",
			spec:    dir + "::",
			wantDir: dir,
			wantEnv: "",
		},
		{
			name:    "missing dir",
			spec:    filepath.Join(dir, "nope"),
			wantErr: true,
		},
		{
			name:    "file instead of dir",
			spec:    file,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotDir, gotEnv, err := ParseRootDir(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.wantDir, gotDir)
			assert.Equal(t, tt.wantEnv, gotEnv)
		})
	}
}
