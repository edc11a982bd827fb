// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

// Package util holds small helpers shared across commands.
package util

import (
	"fmt"
	"os"
	"strings"
)

// ParseRootDir splits a RootDir argument of the form dir[::env] and verifies
// that dir exists and is a directory. An empty spec resolves to the CWD with
// no env.
func ParseRootDir(spec string) (string, string, error) {
	if spec == "" {
		wd, err := os.Getwd()
		if err != nil {
			return "", "", fmt.Errorf("failed to get CWD: %w", err)
		}
		return wd, "", nil
	}

	dir := spec
	env := ""
	if idx := strings.Index(spec, "::"); idx >= 0 {
		dir = spec[:idx]
		env = spec[idx+2:]
	}

	fi, err := os.Stat(dir)
	if err != nil {
		return "", "", fmt.Errorf("rootDir %s: %w", dir, err)
	}
	if !fi.IsDir() {
		return "", "", fmt.Errorf("rootDir %s is not a directory", dir)
	}

	return dir, env, nil
}
