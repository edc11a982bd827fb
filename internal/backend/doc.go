// Copyright (c) 2025 Steve Taranto staranto@gmail.com.
// SPDX-License-Identifier: Apache-2.0

// Package backend implements the state stores credctl can keep its document
// in (local file, versioned S3 object, and HCP Terraform / TFE workspace) and
// exposes the locking and state-version behaviors shared by all of them.
package backend
