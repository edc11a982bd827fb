// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/apex/log"
	"github.com/hashicorp/go-tfe"
	"github.com/urfave/cli/v3"

	"github.com/staranto/credctlgo/internal/csv"
	"github.com/staranto/credctlgo/internal/differ"
	"github.com/staranto/credctlgo/internal/stack"
	"github.com/staranto/credctlgo/internal/state"
)

// BackendLocal keeps the state document in a file beside the stack. A .backup
// sibling holds the previous version and a .lock sibling is the advisory
// lock.
type BackendLocal struct {
	Ctx         context.Context
	Cmd         *cli.Command
	Path        string
	EnvOverride string
}

type Option func(*BackendLocal)

// FromStack points the backend at the stack's configured state path.
func FromStack(stk *stack.Stack) Option {
	return func(be *BackendLocal) {
		be.Path = stk.Backend.Local.Path
	}
}

// WithEnvOverride selects a workspace. Workspaces live under
// <name>.d/<env>/<name> beside the default state file.
func WithEnvOverride(env string) Option {
	return func(be *BackendLocal) {
		be.EnvOverride = env
	}
}

func NewBackendLocal(ctx context.Context, cmd *cli.Command, opts ...Option) (*BackendLocal, error) {
	be := &BackendLocal{Ctx: ctx, Cmd: cmd}
	for _, opt := range opts {
		opt(be)
	}

	if be.Path == "" {
		return nil, errors.New("local backend has no state path")
	}

	if be.EnvOverride != "" {
		dir, base := filepath.Split(be.Path)
		be.Path = filepath.Join(dir, base+".d", be.EnvOverride, base)
	}

	return be, nil
}

func (be *BackendLocal) backupPath() string {
	return be.Path + ".backup"
}

func (be *BackendLocal) lockPath() string {
	return be.Path + ".lock"
}

// Load reads the current document. A state file that does not exist yet is a
// fresh, empty document, not an error.
func (be *BackendLocal) Load(ctx context.Context) (*state.Document, error) {
	raw, err := os.ReadFile(be.Path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debugf("no state at %s, starting fresh", be.Path)
			return state.New(), nil
		}
		return nil, fmt.Errorf("failed to read state: %w", err)
	}
	return state.Parse(raw)
}

// Save writes doc as the new current version, rolling the previous content to
// the .backup sibling first. The write goes through a temp file and rename so
// a crash never leaves a torn state file.
func (be *BackendLocal) Save(ctx context.Context, doc *state.Document) error {
	raw, err := doc.Marshal()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(be.Path), 0o755); err != nil { //nolint:mnd
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	if prev, err := os.ReadFile(be.Path); err == nil {
		// The document holds a live secret access key, hence 0600 everywhere.
		if err := os.WriteFile(be.backupPath(), prev, 0o600); err != nil { //nolint:mnd
			return fmt.Errorf("failed to write state backup: %w", err)
		}
	}

	tmp, err := os.CreateTemp(filepath.Dir(be.Path), filepath.Base(be.Path)+".tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil { //nolint:mnd
		tmp.Close()
		return fmt.Errorf("failed to chmod temp state file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp state file: %w", err)
	}

	if err := os.Rename(tmp.Name(), be.Path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}

	log.Debugf("saved serial %d to %s", doc.Serial, be.Path)
	return nil
}

// Lock creates the .lock sibling with O_EXCL. An existing lock file means
// another run holds the state; its record is returned inside the error.
func (be *BackendLocal) Lock(ctx context.Context, info state.LockInfo) (func() error, error) {
	if err := os.MkdirAll(filepath.Dir(be.Path), 0o755); err != nil { //nolint:mnd
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	f, err := os.OpenFile(be.lockPath(), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) //nolint:mnd
	if err != nil {
		if os.IsExist(err) {
			if raw, readErr := os.ReadFile(be.lockPath()); readErr == nil {
				holder := state.ParseLockInfo(raw)
				return nil, &state.LockError{Info: &holder, Err: err}
			}
			return nil, &state.LockError{Err: err}
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}

	_, werr := f.Write(info.Marshal())
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(be.lockPath())
		return nil, fmt.Errorf("failed to write lock file: %w", errors.Join(werr, cerr))
	}

	log.Debugf("locked %s as %s", be.Path, info.ID)

	return func() error {
		if err := os.Remove(be.lockPath()); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove lock file: %w", err)
		}
		return nil
	}, nil
}

func (be *BackendLocal) DiffStates(ctx context.Context, cmd *cli.Command) ([][]byte, error) {
	// Fixup diffArgs
	svSpecs := []string{"CSV~1", "CSV~0"}

	diffArgs := differ.ParseDiffArgs(ctx, cmd)

	switch len(diffArgs) {
	case 0:
		// No args, so use the current state and its backup.
	case 1:
		if strings.HasPrefix(diffArgs[0], "+") {
			stateVersionList, err := be.StateVersions()
			if err != nil {
				return nil, fmt.Errorf("failed to get state version list: %w", err)
			}

			selectedVersions := differ.SelectStateVersions(stateVersionList)

			log.Debugf("selectedVersions: %d", len(selectedVersions))

			if len(selectedVersions) == 0 {
				return nil, nil
			} else if len(selectedVersions) == 2 {
				svSpecs[0] = selectedVersions[1].ID
				svSpecs[1] = selectedVersions[0].ID
			}
		} else {
			svSpecs[0] = diffArgs[0]
		}
	case 2:
		svSpecs = diffArgs
	}

	return be.States(svSpecs[0], svSpecs[1])
}

func (be *BackendLocal) State() ([]byte, error) {
	sv := be.Cmd.String("sv")
	states, err := be.States(sv)
	if err != nil {
		return nil, err
	}
	return states[0], nil
}

func (be *BackendLocal) States(specs ...string) ([][]byte, error) {
	var results [][]byte

	candidates, err := be.StateVersions()
	if err != nil {
		return nil, err
	}
	versions, err := csv.Finder(candidates, specs...)
	if err != nil {
		return nil, err
	}
	log.Debugf("versions: %v", versions)

	// Version IDs are file paths here, so each body is just a read away.
	for _, v := range versions {
		body, err := os.ReadFile(v.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get state: %w", err)
		}
		results = append(results, body)
	}

	return results, nil
}

// StateVersions synthesizes the two-deep history a local backend has: the
// current file and its .backup. IDs are the file paths, CreatedAt the file
// mtime, Serial from the document itself.
func (be *BackendLocal) StateVersions() ([]*tfe.StateVersion, error) {
	combinedVersions := []*tfe.StateVersion{}

	for _, path := range []string{be.Path, be.backupPath()} {
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			log.WithError(err).Warnf("failed to read %s", path)
			continue
		}

		doc, err := state.Parse(raw)
		if err != nil {
			log.WithError(err).Warnf("failed to parse %s", path)
			continue
		}

		combinedVersions = append(combinedVersions, &tfe.StateVersion{
			ID:        path,
			CreatedAt: fi.ModTime(),
			Serial:    int64(doc.Serial), //nolint:gosec
		})
	}

	sort.Slice(combinedVersions, func(i, j int) bool {
		return combinedVersions[i].Serial > combinedVersions[j].Serial
	})

	return combinedVersions, nil
}

func (be *BackendLocal) String() string {
	return fmt.Sprintf("BackendLocal: %s", be.Path)
}

func (be *BackendLocal) Type() string {
	return "local"
}
