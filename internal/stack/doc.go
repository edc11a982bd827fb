// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

// Package stack reads the credctl.hcl definition that names the IAM user to
// provision, the GitHub repository to seed, and the state backend to use.
package stack
