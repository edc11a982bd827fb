// Copyright (c) 2025 Steve Taranto staranto@gmail.com.
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hashicorp/go-tfe"
)

// ErrorContext carries enough of the call site for a TFE error to be
// actionable: which server, which org and workspace, and what we were doing
// to what.
type ErrorContext struct {
	Host      string
	Org       string
	Workspace string
	Operation string
	Resource  string
}

func (c ErrorContext) where() string {
	if c.Workspace == "" {
		return c.Org
	}
	return c.Org + "/" + c.Workspace
}

// FriendlyTFE turns go-tfe's terse sentinel errors into messages that say
// what to fix. The original error stays wrapped so errors.Is still works
// upstream.
func FriendlyTFE(err error, ctx ErrorContext) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, tfe.ErrResourceNotFound):
		return fmt.Errorf("failed to %s: %s %s not found on %s\nfix: check the organization and workspace in the backend block, and that your token can see them: %w",
			ctx.Operation, ctx.Resource, ctx.where(), ctx.Host, err)

	case errors.Is(err, tfe.ErrUnauthorized):
		return fmt.Errorf("failed to %s: %s rejected the API token\nfix: set TF_TOKEN_%s (or TF_TOKEN), or add %s to ~/.terraform.d/credentials.tfrc.json: %w",
			ctx.Operation, ctx.Host, underscoreHost(ctx.Host), ctx.Host, err)
	}

	return fmt.Errorf("failed to %s for %s on %s: %w", ctx.Operation, ctx.where(), ctx.Host, err)
}

// underscoreHost renders a hostname the way terraform spells it in token
// environment variable names.
func underscoreHost(host string) string {
	return strings.ReplaceAll(host, ".", "_")
}
