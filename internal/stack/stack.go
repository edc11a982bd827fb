// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

package stack

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apex/log"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"

	"github.com/staranto/credctlgo/internal/naming"
)

// StackFile is the definition file expected in the root dir.
const StackFile = "credctl.hcl"

// DefaultPolicyARN is attached when the iam_user block leaves policy_arn
// unset. The CI workflow needs full S3 access for its verification listing,
// so the top-level default is deliberately broader than the library fallback
// in the provision package.
const DefaultPolicyARN = "arn:aws:iam::aws:policy/AmazonS3FullAccess"

// The two repository secret names the generated workflow consumes. The
// repository block may override them, but almost never should.
const (
	DefaultAccessKeyIDSecret     = "AWS_ACCESS_KEY_ID"
	DefaultSecretAccessKeySecret = "AWS_SECRET_ACCESS_KEY"
)

// DefaultStateKey is the fixed object key (or file name) for the state
// document when the backend block leaves key unset.
const DefaultStateKey = "credctl.tfstate"

// Stack is the fully-defaulted desired state parsed from credctl.hcl.
type Stack struct {
	RootDir    string
	User       User
	Repository Repository
	Backend    Backend
}

// User describes the IAM user to converge.
type User struct {
	Name      string
	Path      string
	PolicyARN string
}

// Repository names the GitHub repository whose Actions secrets receive the
// key pair, plus the secret names to write them under.
type Repository struct {
	Owner                 string
	Name                  string
	AccessKeyIDSecret     string
	SecretAccessKeySecret string
}

// Slug returns owner/name.
func (r Repository) Slug() string {
	return r.Owner + "/" + r.Name
}

// Backend selects and configures the state store.
type Backend struct {
	Type   string
	Local  LocalConfig
	S3     S3Config
	Remote RemoteConfig
}

type LocalConfig struct {
	Path string
}

type S3Config struct {
	Bucket             string
	Key                string
	Region             string
	Profile            string
	Encrypt            bool
	KMSKeyID           string
	WorkspaceKeyPrefix string
}

type RemoteConfig struct {
	Hostname     string
	Organization string
	Workspace    string
}

type rootHCL struct {
	Users        []userHCL       `hcl:"iam_user,block"`
	Repositories []repositoryHCL `hcl:"repository,block"`
	Backends     []backendHCL    `hcl:"backend,block"`
}

type userHCL struct {
	Name      string `hcl:"name,label"`
	Path      string `hcl:"path,optional"`
	PolicyARN string `hcl:"policy_arn,optional"`
}

type repositoryHCL struct {
	Owner                 string `hcl:"owner"`
	Name                  string `hcl:"name"`
	AccessKeyIDSecret     string `hcl:"access_key_id_secret,optional"`
	SecretAccessKeySecret string `hcl:"secret_access_key_secret,optional"`
}

type backendHCL struct {
	Type   string   `hcl:"type,label"`
	Remain hcl.Body `hcl:",remain"`
}

type localHCL struct {
	Path string `hcl:"path,optional"`
}

type s3HCL struct {
	Bucket             string `hcl:"bucket"`
	Key                string `hcl:"key,optional"`
	Region             string `hcl:"region,optional"`
	Profile            string `hcl:"profile,optional"`
	Encrypt            *bool  `hcl:"encrypt,optional"`
	KMSKeyID           string `hcl:"kms_key_id,optional"`
	WorkspaceKeyPrefix string `hcl:"workspace_key_prefix,optional"`
}

type remoteHCL struct {
	Hostname     string `hcl:"hostname,optional"`
	Organization string `hcl:"organization"`
	Workspace    string `hcl:"workspace"`
}

// Load parses rootDir/credctl.hcl and applies defaults. Attribute values may
// reference process environment variables as env.NAME.
func Load(rootDir string) (*Stack, error) {
	path := filepath.Join(rootDir, StackFile)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no %s found in %s: %w", StackFile, rootDir, err)
	}

	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse %s: %w", StackFile, diags)
	}

	ectx := evalContext()

	var root rootHCL
	if diags := gohcl.DecodeBody(file.Body, ectx, &root); diags.HasErrors() {
		return nil, fmt.Errorf("decode %s: %w", StackFile, diags)
	}

	if len(root.Users) != 1 {
		return nil, fmt.Errorf("%s must define exactly one iam_user block, found %d", StackFile, len(root.Users))
	}
	if len(root.Repositories) != 1 {
		return nil, fmt.Errorf("%s must define exactly one repository block, found %d", StackFile, len(root.Repositories))
	}
	if len(root.Backends) > 1 {
		return nil, fmt.Errorf("%s must define at most one backend block, found %d", StackFile, len(root.Backends))
	}

	s := &Stack{
		RootDir: rootDir,
		User: User{
			Name:      root.Users[0].Name,
			Path:      root.Users[0].Path,
			PolicyARN: root.Users[0].PolicyARN,
		},
		Repository: Repository{
			Owner:                 root.Repositories[0].Owner,
			Name:                  root.Repositories[0].Name,
			AccessKeyIDSecret:     root.Repositories[0].AccessKeyIDSecret,
			SecretAccessKeySecret: root.Repositories[0].SecretAccessKeySecret,
		},
	}

	if s.User.Name == "" {
		return nil, fmt.Errorf("iam_user block needs a non-empty name label")
	}
	if err := naming.ValidIAMUserName(s.User.Name); err != nil {
		return nil, fmt.Errorf("iam_user block: %w", err)
	}
	if s.User.Path == "" {
		s.User.Path = "/"
	}
	if s.User.PolicyARN == "" {
		s.User.PolicyARN = DefaultPolicyARN
	}

	if s.Repository.Owner == "" || s.Repository.Name == "" {
		return nil, fmt.Errorf("repository block needs both owner and name")
	}
	if s.Repository.AccessKeyIDSecret == "" {
		s.Repository.AccessKeyIDSecret = DefaultAccessKeyIDSecret
	}
	if s.Repository.SecretAccessKeySecret == "" {
		s.Repository.SecretAccessKeySecret = DefaultSecretAccessKeySecret
	}
	for _, name := range []string{s.Repository.AccessKeyIDSecret, s.Repository.SecretAccessKeySecret} {
		if err := naming.ValidSecretName(name); err != nil {
			return nil, fmt.Errorf("repository block: %w", err)
		}
	}

	if err := s.decodeBackend(root.Backends, ectx); err != nil {
		return nil, err
	}

	log.Debugf("stack: user=%s policy=%s repo=%s backend=%s",
		s.User.Name, s.User.PolicyARN, s.Repository.Slug(), s.Backend.Type)

	return s, nil
}

func (s *Stack) decodeBackend(blocks []backendHCL, ectx *hcl.EvalContext) error {
	// No block means a local state file next to credctl.hcl.
	if len(blocks) == 0 {
		s.Backend = Backend{
			Type:  "local",
			Local: LocalConfig{Path: filepath.Join(s.RootDir, DefaultStateKey)},
		}
		return nil
	}

	b := blocks[0]
	switch b.Type {
	case "local":
		var cfg localHCL
		if diags := gohcl.DecodeBody(b.Remain, ectx, &cfg); diags.HasErrors() {
			return fmt.Errorf("decode backend %q: %w", b.Type, diags)
		}
		if cfg.Path == "" {
			cfg.Path = filepath.Join(s.RootDir, DefaultStateKey)
		}
		s.Backend = Backend{Type: "local", Local: LocalConfig(cfg)}

	case "s3":
		var cfg s3HCL
		if diags := gohcl.DecodeBody(b.Remain, ectx, &cfg); diags.HasErrors() {
			return fmt.Errorf("decode backend %q: %w", b.Type, diags)
		}
		if cfg.Bucket == "" {
			return fmt.Errorf("backend %q needs a bucket", b.Type)
		}
		if cfg.Key == "" {
			cfg.Key = DefaultStateKey
		}
		// Server-side encryption stays on unless the block turns it off.
		encrypt := true
		if cfg.Encrypt != nil {
			encrypt = *cfg.Encrypt
		}
		s.Backend = Backend{Type: "s3", S3: S3Config{
			Bucket:             cfg.Bucket,
			Key:                cfg.Key,
			Region:             cfg.Region,
			Profile:            cfg.Profile,
			Encrypt:            encrypt,
			KMSKeyID:           cfg.KMSKeyID,
			WorkspaceKeyPrefix: cfg.WorkspaceKeyPrefix,
		}}

	case "remote":
		var cfg remoteHCL
		if diags := gohcl.DecodeBody(b.Remain, ectx, &cfg); diags.HasErrors() {
			return fmt.Errorf("decode backend %q: %w", b.Type, diags)
		}
		if cfg.Organization == "" || cfg.Workspace == "" {
			return fmt.Errorf("backend %q needs organization and workspace", b.Type)
		}
		if cfg.Hostname == "" {
			cfg.Hostname = "app.terraform.io"
		}
		s.Backend = Backend{Type: "remote", Remote: RemoteConfig(cfg)}

	default:
		return fmt.Errorf("unsupported backend type %q", b.Type)
	}

	return nil
}

// evalContext exposes the process environment to credctl.hcl as env.NAME.
func evalContext() *hcl.EvalContext {
	vars := map[string]cty.Value{}
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !hclsyntax.ValidIdentifier(k) {
			continue
		}
		vars[k] = cty.StringVal(v)
	}

	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"env": cty.ObjectVal(vars),
		},
	}
}
