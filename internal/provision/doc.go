// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

// Package provision performs the IAM side of a converge: the user, its
// access keys, and the attached permission policy. All calls go through the
// IAMOperations interface so tests can stand in for AWS.
package provision
