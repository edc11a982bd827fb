// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"fmt"
	"os"

	"github.com/apex/log"
	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/urfave/cli/v3"

	awsx "github.com/staranto/credctlgo/internal/aws"
	"github.com/staranto/credctlgo/internal/meta"
	"github.com/staranto/credctlgo/internal/state"
)

// ApplyCommandAction plans and then executes, holding the backend lock for
// the whole run. State is saved after every applied step, so a failed run
// resumes where it stopped. An empty plan writes nothing at all.
func ApplyCommandAction(ctx context.Context, cmd *cli.Command) error {
	m := GetMeta(cmd)
	log.Debugf("Executing action for %v", m.Args[1:])

	if ShortCircuitTLDR(ctx, cmd, "apply") {
		return nil
	}

	stk, be, err := OpenBackend(ctx, cmd)
	if err != nil {
		return err
	}

	// Tokens and credentials resolve before the lock so an auth problem
	// leaves the backend untouched.
	engine, cfg, err := BuildEngine(ctx, cmd, stk, be.Save)
	if err != nil {
		return err
	}

	id, err := awsx.NewSTS(cfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return fmt.Errorf("aws credential preflight failed: %w", err)
	}
	log.Infof("running as %s", awsv2.ToString(id.Arn))

	unlock, err := be.Lock(ctx, state.NewLockInfo("apply"))
	if err != nil {
		return err
	}
	defer func() {
		if err := unlock(); err != nil {
			log.Errorf("unlock: %v", err)
		}
	}()

	doc, err := be.Load(ctx)
	if err != nil {
		return err
	}
	engine.Doc = doc

	p, err := engine.Plan(ctx)
	if err != nil {
		return err
	}

	p.Render(os.Stdout)
	if p.Empty() {
		return nil
	}

	if err := engine.Execute(ctx, p); err != nil {
		return err
	}

	add, change, destroy := p.Counts()
	fmt.Printf("\nApply complete. Resources: %d added, %d changed, %d destroyed.\n",
		add, change, destroy)

	return nil
}

// ApplyCommandBuilder constructs the cli.Command for "apply", wiring
// metadata, flags, and action/validator handlers.
func ApplyCommandBuilder(cmd *cli.Command, meta meta.Meta) *cli.Command {
	return &cli.Command{
		Name:      "apply",
		Usage:     "provision the IAM user, access key and repository secrets",
		UsageText: `credctl apply [RootDir] [options]`,
		Metadata: map[string]any{
			"meta": meta,
		},
		Flags: append(append([]cli.Flag{
			&cli.BoolFlag{
				Name:  "no-refresh",
				Usage: "trust the state document instead of querying AWS/GitHub",
				Value: false,
			},
			&cli.BoolFlag{
				Name:  "rotate-key",
				Usage: "mint a replacement access key, reseed the secrets, then retire the old key",
				Value: false,
			},
			tldrFlag,
		}, NewAWSFlags("apply")...), NewBackendFlags("apply")...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := ApplyCommandValidator(ctx, cmd); err != nil {
				return err
			}
			return ApplyCommandAction(ctx, cmd)
		},
	}
}

// ApplyCommandValidator performs validation for "apply" and delegates to
// GlobalFlagsValidator.
func ApplyCommandValidator(ctx context.Context, cmd *cli.Command) error {
	return GlobalFlagsValidator(ctx, cmd)
}
