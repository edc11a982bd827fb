// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

// Package aws loads SDK v2 configuration and constructs the service clients
// (IAM, S3, STS) used by the provisioner, the state backend, and verify.
package aws
