// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

// Package output provides sorting, filtering, and emission utilities used by
// the credctl query commands to present state and state-version results in
// text, json, raw, and yaml formats.
package output
