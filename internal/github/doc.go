// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

// Package github seeds Actions repository secrets. Values are sealed with
// the repository public key before they leave the process; the API token
// comes only from the environment.
package github
