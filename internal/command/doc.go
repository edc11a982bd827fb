// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

// Package command defines the CLI command set for credctl. It wires flags,
// validators, actions, and shell completion for the provisioning verbs
// (plan, apply, destroy), the CI-side checks (verify, workflow) and the
// state queries (output, sq, svq).
package command
