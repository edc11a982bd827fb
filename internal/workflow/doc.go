// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

// Package workflow renders the GitHub Actions workflow that exercises a
// seeded key pair in CI: check out, assume the credentials from the two
// repository secrets, run a read-only S3 call.
package workflow
