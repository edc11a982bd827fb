// Copyright (c) 2025 Steve Taranto staranto@gmail.com.
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/hashicorp/go-tfe"
	"github.com/urfave/cli/v3"

	"github.com/staranto/credctlgo/internal/csv"
	"github.com/staranto/credctlgo/internal/differ"
	"github.com/staranto/credctlgo/internal/stack"
	"github.com/staranto/credctlgo/internal/state"
)

// WorkspaceOperations is the slice of the TFE workspace API the backend
// needs. The go-tfe client satisfies it; tests swap in a fake.
type WorkspaceOperations interface {
	Read(ctx context.Context, organization string, workspace string) (*tfe.Workspace, error)
	Lock(ctx context.Context, workspaceID string, options tfe.WorkspaceLockOptions) (*tfe.Workspace, error)
	Unlock(ctx context.Context, workspaceID string) (*tfe.Workspace, error)
}

// StateVersionOperations is the slice of the TFE state-version API the
// backend needs.
type StateVersionOperations interface {
	List(ctx context.Context, options *tfe.StateVersionListOptions) (*tfe.StateVersionList, error)
	ReadCurrent(ctx context.Context, workspaceID string) (*tfe.StateVersion, error)
	Create(ctx context.Context, workspaceID string, options tfe.StateVersionCreateOptions) (*tfe.StateVersion, error)
	Download(ctx context.Context, url string) ([]byte, error)
}

var (
	_ WorkspaceOperations    = tfe.Workspaces(nil)
	_ StateVersionOperations = tfe.StateVersions(nil)
)

// TFEOperations bundles the API surfaces above the way the go-tfe client
// exposes them.
type TFEOperations struct {
	Workspaces    WorkspaceOperations
	StateVersions StateVersionOperations
}

// BackendRemote keeps the state document in a TFE (or HCP Terraform)
// workspace. The workspace's own version history is the backend's history,
// and the workspace lock is the advisory lock.
type BackendRemote struct {
	Ctx         context.Context
	Cmd         *cli.Command
	Client      TFEOperations
	EnvOverride string
	SvOverride  string

	Hostname     string
	Organization string
	Workspace    string

	StateVersionList []*tfe.StateVersion
}

type Option func(*BackendRemote)

// FromStack copies the stack's backend "remote" block into the backend.
func FromStack(stk *stack.Stack) Option {
	return func(be *BackendRemote) {
		be.Hostname = stk.Backend.Remote.Hostname
		be.Organization = stk.Backend.Remote.Organization
		be.Workspace = stk.Backend.Remote.Workspace
	}
}

// WithEnvOverride selects a workspace env. The env names a sibling TFE
// workspace, <workspace>-<env>.
func WithEnvOverride(env string) Option {
	return func(be *BackendRemote) {
		be.EnvOverride = env
	}
}

// WithSvOverride pins reads to the state version named by the --sv flag.
func WithSvOverride() Option {
	return func(be *BackendRemote) {
		if be.Cmd != nil {
			be.SvOverride = be.Cmd.String("sv")
		}
	}
}

// WithClient injects the TFE API surfaces. Tests use this; normal
// construction builds a go-tfe client from the resolved token.
func WithClient(client TFEOperations) Option {
	return func(be *BackendRemote) {
		be.Client = client
	}
}

func NewBackendRemote(ctx context.Context, cmd *cli.Command, opts ...Option) (*BackendRemote, error) {
	be := &BackendRemote{Ctx: ctx, Cmd: cmd}
	for _, opt := range opts {
		opt(be)
	}

	// Flags beat the stack block, same as every other backend knob.
	if be.Cmd != nil {
		if v := be.Cmd.String("host"); v != "" {
			be.Hostname = v
		}
		if v := be.Cmd.String("org"); v != "" {
			be.Organization = v
		}
		if v := be.Cmd.String("workspace"); v != "" {
			be.Workspace = v
		}
	}

	if be.Hostname == "" {
		be.Hostname = "app.terraform.io"
	}
	if be.Organization == "" || be.Workspace == "" {
		return nil, errors.New("remote backend needs organization and workspace")
	}

	if be.Client.StateVersions == nil {
		token, err := be.Token()
		if err != nil {
			return nil, err
		}

		client, err := tfe.NewClient(&tfe.Config{
			Address: "https://" + be.Hostname,
			Token:   token,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create TFE client: %w", err)
		}
		be.Client = TFEOperations{
			Workspaces:    client.Workspaces,
			StateVersions: client.StateVersions,
		}
	}

	return be, nil
}

// workspaceName is the effective workspace. A workspace env from the
// dir::env spec selects the sibling workspace <workspace>-<env>.
func (be *BackendRemote) workspaceName() string {
	if be.EnvOverride == "" {
		return be.Workspace
	}
	return be.Workspace + "-" + be.EnvOverride
}

// workspace reads the workspace record. It is deliberately not memoized:
// CurrentStateVersion on the record moves with every save.
func (be *BackendRemote) workspace(ctx context.Context) (*tfe.Workspace, error) {
	ws, err := be.Client.Workspaces.Read(ctx, be.Organization, be.workspaceName())
	if err != nil {
		return nil, FriendlyTFE(err, ErrorContext{
			Host:      be.Hostname,
			Org:       be.Organization,
			Workspace: be.workspaceName(),
			Operation: "read workspace",
			Resource:  "workspace",
		})
	}
	return ws, nil
}

// Load returns the current document. A workspace with no state versions yet
// is a fresh, empty document, not an error.
func (be *BackendRemote) Load(ctx context.Context) (*state.Document, error) {
	ws, err := be.workspace(ctx)
	if err != nil {
		return nil, err
	}

	sv, err := be.Client.StateVersions.ReadCurrent(ctx, ws.ID)
	if err != nil {
		if errors.Is(err, tfe.ErrResourceNotFound) {
			log.Debugf("workspace %s has no state yet, starting fresh", ws.Name)
			return state.New(), nil
		}
		return nil, FriendlyTFE(err, ErrorContext{
			Host:      be.Hostname,
			Org:       be.Organization,
			Workspace: be.workspaceName(),
			Operation: "read current state version",
			Resource:  "stateversion",
		})
	}

	body, err := be.StateBody(sv)
	if err != nil {
		return nil, err
	}

	return state.Parse(body)
}

// Save uploads doc as a new state version. TFE rejects the upload unless the
// workspace holds our lock, which the converge engine takes first.
func (be *BackendRemote) Save(ctx context.Context, doc *state.Document) error {
	ws, err := be.workspace(ctx)
	if err != nil {
		return err
	}

	raw, err := doc.Marshal()
	if err != nil {
		return err
	}

	sum := md5.Sum(raw)

	if _, err := be.Client.StateVersions.Create(ctx, ws.ID, tfe.StateVersionCreateOptions{
		Lineage: tfe.String(doc.Lineage),
		MD5:     tfe.String(hex.EncodeToString(sum[:])),
		Serial:  tfe.Int64(int64(doc.Serial)),
		State:   tfe.String(base64.StdEncoding.EncodeToString(raw)),
	}); err != nil {
		return FriendlyTFE(err, ErrorContext{
			Host:      be.Hostname,
			Org:       be.Organization,
			Workspace: be.workspaceName(),
			Operation: "create state version",
			Resource:  "stateversion",
		})
	}

	log.Debugf("saved serial %d to %s/%s", doc.Serial, be.Organization, be.workspaceName())
	return nil
}

// Lock takes the TFE workspace lock. The server enforces single ownership
// and refuses state uploads while unlocked, so this doubles as the write
// gate.
func (be *BackendRemote) Lock(ctx context.Context, info state.LockInfo) (func() error, error) {
	ws, err := be.workspace(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := be.Client.Workspaces.Lock(ctx, ws.ID, tfe.WorkspaceLockOptions{
		Reason: tfe.String(info.String()),
	}); err != nil {
		if errors.Is(err, tfe.ErrWorkspaceLocked) {
			return nil, &state.LockError{Info: be.lockHolder(ctx), Err: err}
		}
		return nil, FriendlyTFE(err, ErrorContext{
			Host:      be.Hostname,
			Org:       be.Organization,
			Workspace: be.workspaceName(),
			Operation: "lock workspace",
			Resource:  "workspace",
		})
	}

	log.Debugf("locked %s/%s as %s", be.Organization, be.workspaceName(), info.ID)

	return func() error {
		if _, err := be.Client.Workspaces.Unlock(ctx, ws.ID); err != nil {
			return fmt.Errorf("failed to unlock workspace %s: %w", ws.Name, err)
		}
		return nil
	}, nil
}

// lockHolder re-reads the workspace for whoever holds the lock. Best effort;
// a nil return still yields a usable LockError.
func (be *BackendRemote) lockHolder(ctx context.Context) *state.LockInfo {
	ws, err := be.Client.Workspaces.Read(ctx, be.Organization, be.workspaceName())
	if err != nil || !ws.Locked {
		return nil
	}

	info := &state.LockInfo{ID: ws.ID, Operation: "remote lock"}
	if lb := ws.LockedBy; lb != nil {
		switch {
		case lb.User != nil:
			info.Who = lb.User.Username
		case lb.Run != nil:
			info.Operation = "run"
			info.Who = lb.Run.ID
		case lb.Team != nil:
			info.Who = lb.Team.Name
		}
	}
	return info
}

func (be *BackendRemote) DiffStates(ctx context.Context, cmd *cli.Command) ([][]byte, error) {
	// Fixup diffArgs
	svSpecs := []string{"CSV~1", "CSV~0"}

	diffArgs := differ.ParseDiffArgs(ctx, cmd)

	switch len(diffArgs) {
	case 0:
		// No args, so use the last two states.
	case 1:
		if strings.HasPrefix(diffArgs[0], "+") {
			var err error
			be.StateVersionList, err = be.StateVersions()
			if err != nil {
				return nil, fmt.Errorf("failed to get state version list: %w", err)
			}

			selectedVersions := differ.SelectStateVersions(be.StateVersionList)

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

func (be *BackendRemote) State() ([]byte, error) {
	sv := be.SvOverride
	if sv == "" && be.Cmd != nil {
		sv = be.Cmd.String("sv")
	}
	states, err := be.States(sv)
	if err != nil {
		return nil, err
	}
	return states[0], nil
}

func (be *BackendRemote) States(specs ...string) ([][]byte, error) {
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

	// Now pound through the found versions and return each of their state bodies.
	for _, v := range versions {
		body, err := be.StateBody(v)
		if err != nil {
			return nil, fmt.Errorf("failed to get state: %w", err)
		}
		results = append(results, body)
	}

	return results, nil
}

// StateVersions lists the workspace's versions, newest first, the way TFE
// returns them.
func (be *BackendRemote) StateVersions() ([]*tfe.StateVersion, error) {
	if len(be.StateVersionList) > 0 {
		log.Debugf("StateVersionList: preloaded with %d", len(be.StateVersionList))
		return be.StateVersionList, nil
	}

	limit := 0
	if be.Cmd != nil {
		limit = be.Cmd.Int("limit")

		// sq with the default sv and no diff only ever reads the current
		// version, so there is no need to paginate through the whole list.
		// This makes a noticeable difference on workspaces with long
		// histories.
		if be.Cmd.Name == "sq" && be.Cmd.String("sv") == "0" && !be.Cmd.Bool("diff") {
			limit = 1
		}
	}

	pageSize := 100
	if limit > 0 && limit < pageSize {
		pageSize = limit
	}

	options := tfe.StateVersionListOptions{
		Organization: be.Organization,
		Workspace:    be.workspaceName(),
		ListOptions:  tfe.ListOptions{PageNumber: 1, PageSize: pageSize},
	}

	var results []*tfe.StateVersion

	// Paginate through the dataset
	for {
		page, err := be.Client.StateVersions.List(be.Ctx, &options)
		if err != nil {
			return nil, FriendlyTFE(err, ErrorContext{
				Host:      be.Hostname,
				Org:       be.Organization,
				Workspace: be.workspaceName(),
				Operation: "list state versions",
				Resource:  "stateversion",
			})
		}

		results = append(results, page.Items...)

		if limit > 0 && len(results) >= limit {
			results = results[:limit]
			break
		}

		log.Debugf("page: %d, total: %d", page.CurrentPage, len(results))

		if page.NextPage == 0 {
			break
		}
		options.ListOptions.PageNumber++
	}

	return results, nil
}

func (be *BackendRemote) String() string {
	return fmt.Sprintf("BackendRemote: %s/%s/%s", be.Hostname, be.Organization, be.workspaceName())
}

// Token resolves the TFE API token the way terraform itself does.
// Precedence:
//  1. TF_TOKEN_<hostname, dots as underscores>
//  2. TF_TOKEN
//  3. ~/.terraform.d/credentials.tfrc.json
func (be *BackendRemote) Token() (string, error) {
	hostname := underscoreHost(be.Hostname)
	token := os.Getenv("TF_TOKEN_" + hostname)
	if token == "" {
		token = os.Getenv("TF_TOKEN")
	}
	if token != "" {
		return token, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}

	credsFile := filepath.Join(home, ".terraform.d", "credentials.tfrc.json")
	if data, err := os.ReadFile(credsFile); err == nil {
		var creds struct {
			Credentials map[string]struct {
				Token string `json:"token"`
			} `json:"credentials"`
		}
		if err := json.Unmarshal(data, &creds); err != nil {
			return "", fmt.Errorf("failed to unmarshal credentials file: %w", err)
		}
		if cred, ok := creds.Credentials[be.Hostname]; ok && cred.Token != "" {
			return cred.Token, nil
		}
	}

	return "", fmt.Errorf("no API token for %s (tried TF_TOKEN_%s, TF_TOKEN, and %s)",
		be.Hostname, hostname, credsFile)
}

func (be *BackendRemote) Type() string {
	return "remote"
}
