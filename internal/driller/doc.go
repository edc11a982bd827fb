// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

// Package driller extracts values from JSON documents by dotted path. It backs
// the --attrs and --filter machinery with forgiving array traversal.
package driller
