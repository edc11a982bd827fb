// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

// Package differ compares two state versions and renders the result. It also
// owns the interactive version picker behind the "+" diff spec.
package differ
