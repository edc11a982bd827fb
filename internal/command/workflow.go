// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/apex/log"
	"github.com/urfave/cli/v3"

	"github.com/staranto/credctlgo/internal/meta"
	"github.com/staranto/credctlgo/internal/workflow"
)

// WorkflowCommandAction emits the GitHub Actions workflow that consumes the
// seeded secrets: checkout, configure-aws-credentials, one aws s3 ls. The
// triggers default to every push, every pull request and manual dispatch;
// --branches narrows both branch filters.
func WorkflowCommandAction(ctx context.Context, cmd *cli.Command) error {
	m := GetMeta(cmd)
	log.Debugf("Executing action for %v", m.Args[1:])

	if ShortCircuitTLDR(ctx, cmd, "workflow") {
		return nil
	}

	spec := workflow.Spec{
		Name:   cmd.String("name"),
		Region: cmd.String("region"),
	}
	if b := cmd.String("branches"); b != "" {
		for _, br := range strings.Split(b, ",") {
			if br = strings.TrimSpace(br); br != "" {
				spec.Branches = append(spec.Branches, br)
			}
		}
	}

	// The stack names the secrets the workflow reads. Without one (the
	// command also runs outside a stack dir) the conventional names stand.
	if stk, err := LoadStack(cmd); err == nil {
		spec.AccessKeyIDSecret = stk.Repository.AccessKeyIDSecret
		spec.SecretAccessKeySecret = stk.Repository.SecretAccessKeySecret
	} else {
		log.Debugf("no stack, using default secret names: %v", err)
	}

	if out := cmd.String("out"); out != "" {
		if err := workflow.Write(out, spec); err != nil {
			return err
		}
		fmt.Printf("Wrote %s.\n", out)
		return nil
	}

	body, err := workflow.Render(spec)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(body)
	return err
}

// WorkflowCommandBuilder constructs the cli.Command for "workflow", wiring
// metadata, flags, and action/validator handlers.
func WorkflowCommandBuilder(cmd *cli.Command, meta meta.Meta) *cli.Command {
	return &cli.Command{
		Name:      "workflow",
		Usage:     "emit the CI workflow that verifies the seeded secrets",
		UsageText: `credctl workflow [RootDir] [options]`,
		Metadata: map[string]any{
			"meta": meta,
		},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "branches",
				Usage: "comma-separated branch filter for push and pull_request triggers",
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "workflow name",
				Value: workflow.DefaultName,
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "write the workflow file here instead of stdout",
			},
			&cli.StringFlag{
				Name:  "region",
				Usage: "AWS region the job configures",
				Value: workflow.DefaultRegion,
			},
			tldrFlag,
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := WorkflowCommandValidator(ctx, cmd); err != nil {
				return err
			}
			return WorkflowCommandAction(ctx, cmd)
		},
	}
}

// WorkflowCommandValidator performs validation for "workflow" and delegates
// to GlobalFlagsValidator.
func WorkflowCommandValidator(ctx context.Context, cmd *cli.Command) error {
	return GlobalFlagsValidator(ctx, cmd)
}
