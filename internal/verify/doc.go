// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

// Package verify proves a key pair works the same way the CI workflow
// does: one STS identity call, then one read-only S3 listing. No retries,
// so a verdict means what it says.
package verify
