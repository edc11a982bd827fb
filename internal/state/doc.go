// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

// Package state defines the credctl state document, a Terraform-shaped JSON
// record of the provisioned IAM user, its access key, and the repository
// secrets seeded from it.
package state
