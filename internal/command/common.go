// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"reflect"

	"github.com/apex/log"
	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/hashicorp/jsonapi"
	"github.com/urfave/cli/v3"

	"github.com/staranto/credctlgo/internal/attrs"
	awsx "github.com/staranto/credctlgo/internal/aws"
	"github.com/staranto/credctlgo/internal/backend"
	"github.com/staranto/credctlgo/internal/converge"
	"github.com/staranto/credctlgo/internal/github"
	"github.com/staranto/credctlgo/internal/meta"
	"github.com/staranto/credctlgo/internal/output"
	"github.com/staranto/credctlgo/internal/provision"
	"github.com/staranto/credctlgo/internal/stack"
	"github.com/staranto/credctlgo/internal/state"
)

// ShortCircuitTLDR checks the --tldr flag and, if present and available,
// runs `tldr credctl <subcmd>` and returns true so the caller can exit early.
func ShortCircuitTLDR(ctx context.Context, cmd *cli.Command, subcmd string) bool {
	if cmd.Bool("tldr") {
		if _, err := exec.LookPath("tldr"); err == nil {
			c := exec.CommandContext(ctx, "tldr", "credctl", subcmd)
			c.Stdout = os.Stdout
			c.Stderr = os.Stderr
			_ = c.Run()
		}
		return true
	}
	return false
}

// DumpSchemaIfRequested prints the JSON schema for the provided type when
// --schema is set, and returns true if it handled the request.
func DumpSchemaIfRequested(cmd *cli.Command, t reflect.Type) bool {
	if cmd.Bool("schema") {
		output.DumpSchema("", t)
		return true
	}
	return false
}

// BuildAttrs constructs an AttrList with defaults and optional extras from
// --attrs, then applies the global transform spec.
func BuildAttrs(cmd *cli.Command, defaults ...string) (al attrs.AttrList) {
	//nolint:errcheck
	{
		for _, d := range defaults {
			al.Set(d)
		}
		if extras := cmd.String("attrs"); extras != "" {
			al.Set(extras)
		}
		al.SetGlobalTransformSpec()
	}
	return
}

// EmitJSONAPISlice marshals a slice as JSONAPI and passes it to the common
// output routine.
func EmitJSONAPISlice(results any, al attrs.AttrList, cmd *cli.Command) error {
	var raw bytes.Buffer
	if err := jsonapi.MarshalPayload(&raw, results); err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	output.SliceDiceSpit(raw, al, cmd, "data", os.Stdout, nil)
	return nil
}

// GetMeta returns the meta.Meta stored in the command's Metadata. If missing
// or of an unexpected type, it returns the zero value.
func GetMeta(cmd *cli.Command) meta.Meta {
	if cmd == nil || cmd.Metadata == nil {
		return meta.Meta{}
	}
	if m, ok := cmd.Metadata["meta"].(meta.Meta); ok {
		return m
	}
	return meta.Meta{}
}

// LoadStack parses credctl.hcl out of the run's RootDir.
func LoadStack(cmd *cli.Command) (*stack.Stack, error) {
	m := GetMeta(cmd)
	return stack.Load(m.RootDir)
}

// OpenBackend resolves the stack and constructs the state backend its
// backend block names.
func OpenBackend(ctx context.Context, cmd *cli.Command) (*stack.Stack, backend.Backend, error) {
	stk, err := LoadStack(cmd)
	if err != nil {
		return nil, nil, err
	}

	be, err := backend.NewBackend(ctx, *cmd, stk)
	if err != nil {
		return nil, nil, err
	}
	log.Debugf("backend: %v", be)

	return stk, be, nil
}

// LoadAWSConfigFromFlags loads the ambient AWS config chain with the
// --profile/--region flags applied on top. extra options (a static
// credential provider, say) stack after the flags.
func LoadAWSConfigFromFlags(ctx context.Context, cmd *cli.Command, extra ...awsx.Option) (awsv2.Config, error) {
	var opts []awsx.Option
	if p := cmd.String("profile"); p != "" {
		opts = append(opts, awsx.WithProfile(p))
	}
	if r := cmd.String("region"); r != "" {
		opts = append(opts, awsx.WithRegion(r))
	}
	opts = append(opts, extra...)
	return awsx.LoadAWSConfig(ctx, opts...)
}

// BuildEngine wires the converge engine the provisioning verbs share. The
// GitHub token resolves before anything else so a missing token aborts the
// run with nothing created, locked or touched. The caller hangs the loaded
// state document on Doc once the backend is open.
func BuildEngine(ctx context.Context, cmd *cli.Command, stk *stack.Stack, save converge.SaveFunc) (*converge.Engine, awsv2.Config, error) {
	token, err := github.Token()
	if err != nil {
		return nil, awsv2.Config{}, err
	}

	ghc, err := github.NewClient(token)
	if err != nil {
		return nil, awsv2.Config{}, err
	}

	cfg, err := LoadAWSConfigFromFlags(ctx, cmd)
	if err != nil {
		return nil, awsv2.Config{}, err
	}

	engine := &converge.Engine{
		Stack:     stk,
		IAM:       provision.New(provision.NewIAMClient(awsx.NewIAM(cfg))),
		Secrets:   github.NewSeeder(ghc.Actions, stk.Repository.Owner, stk.Repository.Name),
		Save:      save,
		RotateKey: cmd.Bool("rotate-key"),
		NoRefresh: cmd.Bool("no-refresh"),
	}

	return engine, cfg, nil
}

// RedactStateBody reruns a raw state body through the document redaction
// pass. Queries call this on everything they emit unless --reveal asked for
// the clear text.
func RedactStateBody(raw []byte) ([]byte, error) {
	doc, err := state.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("cannot redact state document: %w", err)
	}
	return doc.Redact().Marshal()
}
