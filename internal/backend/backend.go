// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

package backend

import (
	"context"
	"fmt"

	"github.com/apex/log"
	"github.com/hashicorp/go-tfe"
	"github.com/urfave/cli/v3"

	"github.com/staranto/credctlgo/internal/backend/local"
	"github.com/staranto/credctlgo/internal/backend/remote"
	"github.com/staranto/credctlgo/internal/backend/s3"
	"github.com/staranto/credctlgo/internal/meta"
	"github.com/staranto/credctlgo/internal/stack"
	"github.com/staranto/credctlgo/internal/state"
)

// Backend stores the credential state document and answers version queries.
// Every implementation presents its history as []*tfe.StateVersion so the
// query commands and the diff machinery work the same against all of them.
type Backend interface {
	// Load returns the current document, or a fresh empty one when nothing
	// has been written yet.
	Load(ctx context.Context) (*state.Document, error)
	// Save persists doc as the new current state version.
	Save(ctx context.Context, doc *state.Document) error
	// Lock takes the backend's advisory lock. The returned func releases it.
	// A lock held elsewhere surfaces as a *state.LockError.
	Lock(ctx context.Context, info state.LockInfo) (UnlockFunc, error)
	// State returns the raw CSV~0 state document.
	State() ([]byte, error)
	// States returns the raw state documents specified by the specs.
	States(...string) ([][]byte, error)
	StateVersions() ([]*tfe.StateVersion, error)
	String() string
	Type() string
}

// UnlockFunc releases a lock taken by Backend.Lock.
type UnlockFunc = func() error

// SelfDiffer is implemented by backends that can resolve --diff specs against
// their own version history.
type SelfDiffer interface {
	DiffStates(ctx context.Context, cmd *cli.Command) ([][]byte, error)
}

// NewBackend constructs the backend selected by the stack's backend block.
// The optional env half of the RootDir spec (dir::env) selects a workspace
// within the backend.
func NewBackend(ctx context.Context, cmd cli.Command, stk *stack.Stack) (Backend, error) {
	meta := cmd.Metadata["meta"].(meta.Meta)
	log.Debugf("NewBackend: type=%s env=%s", stk.Backend.Type, meta.Env)

	switch stk.Backend.Type {
	case "local":
		return local.NewBackendLocal(ctx, &cmd,
			local.FromStack(stk),
			local.WithEnvOverride(meta.Env),
		)
	case "s3":
		return s3.NewBackendS3(ctx, &cmd,
			s3.FromStack(stk),
			s3.WithEnvOverride(meta.Env),
			s3.WithSvOverride(),
		)
	case "remote":
		return remote.NewBackendRemote(ctx, &cmd,
			remote.FromStack(stk),
			remote.WithEnvOverride(meta.Env),
			remote.WithSvOverride(),
		)
	}

	// stack.Load validates the type, so this is a fail-safe.
	return nil, fmt.Errorf("unknown backend type %q", stk.Backend.Type)
}
