// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

// Package converge turns a stack definition into reality: it refreshes
// what AWS and GitHub actually hold, diffs that against the state
// document, and applies the difference step by step. Every applied step is
// saved before the next one starts, so an interrupted run resumes instead
// of starting over.
package converge
