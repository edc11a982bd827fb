// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

// Package naming validates the names credctl sends to AWS and GitHub before
// any API call gets the chance to reject them with something cryptic.
package naming

import (
	"fmt"
	"regexp"
	"strings"
)

// iamUserRe is the documented IAM user name charset.
var iamUserRe = regexp.MustCompile(`^[\w+=,.@-]+$`)

// secretRe is the GitHub Actions secret name charset. Names are alphanumeric
// plus underscore and cannot start with a digit.
var secretRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIAMUserName checks a name against the IAM user naming rules.
func ValidIAMUserName(name string) error {
	if name == "" {
		return fmt.Errorf("iam user name is empty")
	}
	if len(name) > 64 {
		return fmt.Errorf("iam user name %q is longer than 64 characters", name)
	}
	if !iamUserRe.MatchString(name) {
		return fmt.Errorf("iam user name %q may only contain alphanumerics and +=,.@-_", name)
	}
	return nil
}

// ValidSecretName checks a name against the GitHub Actions secret naming
// rules. The GITHUB_ prefix is reserved by the platform.
func ValidSecretName(name string) error {
	if name == "" {
		return fmt.Errorf("secret name is empty")
	}
	if !secretRe.MatchString(name) {
		return fmt.Errorf("secret name %q may only contain alphanumerics and underscores and cannot start with a digit", name)
	}
	if strings.HasPrefix(strings.ToUpper(name), "GITHUB_") {
		return fmt.Errorf("secret name %q uses the reserved GITHUB_ prefix", name)
	}
	return nil
}

// RedundantTypeToken returns true if any component of the resource type
// (split by '_') appears as a whole token of the name when the name is split
// by non-alphanumeric chars. Matching is case-insensitive. Plan output uses
// this to nudge users away from names like "iam-user-user". Substrings do not
// count, so names like "williams-bot" pass.
func RedundantTypeToken(typ string, name string) bool {
	if typ == "" || name == "" {
		return false
	}

	// tokens from the type, e.g. "iam_access_key" -> ["iam","access","key"]
	typeTokens := strings.Split(strings.ToLower(typ), "_")

	// nameParts are tokens from the name split by non-alphanumeric separators
	// e.g. "my-thing_iam.widget" -> ["my","thing","iam","widget"]
	splitRe := regexp.MustCompile(`[^a-z0-9]+`)
	nameParts := splitRe.Split(strings.ToLower(name), -1)

	for _, tok := range typeTokens {
		if tok == "" {
			continue
		}
		for _, p := range nameParts {
			if p == tok {
				return true
			}
		}
	}

	return false
}
