// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"os"

	"github.com/apex/log"
	altsrc "github.com/urfave/cli-altsrc/v3"
	yaml "github.com/urfave/cli-altsrc/v3/yaml"
	"github.com/urfave/cli/v3"

	"github.com/staranto/credctlgo/internal/meta"
)

// PlanCommandAction computes and renders the actions an apply would take.
// It refreshes actuals from AWS and GitHub (unless --no-refresh) but mutates
// nothing and takes no lock.
func PlanCommandAction(ctx context.Context, cmd *cli.Command) error {
	m := GetMeta(cmd)
	log.Debugf("Executing action for %v", m.Args[1:])

	if ShortCircuitTLDR(ctx, cmd, "plan") {
		return nil
	}

	stk, be, err := OpenBackend(ctx, cmd)
	if err != nil {
		return err
	}

	engine, _, err := BuildEngine(ctx, cmd, stk, nil)
	if err != nil {
		return err
	}

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

	if cmd.Bool("detailed-exitcode") && !p.Empty() {
		return cli.Exit("", 2)
	}

	return nil
}

// PlanCommandBuilder constructs the cli.Command for "plan", wiring metadata,
// flags, and action/validator handlers.
func PlanCommandBuilder(cmd *cli.Command, meta meta.Meta) *cli.Command {
	return &cli.Command{
		Name:      "plan",
		Usage:     "show the changes an apply would make",
		UsageText: `credctl plan [RootDir] [options]`,
		Metadata: map[string]any{
			"meta": meta,
		},
		Flags: append(append([]cli.Flag{
			&cli.BoolFlag{
				Name:  "detailed-exitcode",
				Usage: "exit 2 when changes are pending",
				Sources: cli.NewValueSourceChain(
					yaml.YAML("plan.detailed-exitcode", altsrc.StringSourcer(meta.Config.Source)),
				),
				Value: false,
			},
			&cli.BoolFlag{
				Name:  "no-refresh",
				Usage: "trust the state document instead of querying AWS/GitHub",
				Value: false,
			},
			&cli.BoolFlag{
				Name:  "rotate-key",
				Usage: "plan a forced access key rotation",
				Value: false,
			},
			tldrFlag,
		}, NewAWSFlags("plan")...), NewBackendFlags("plan")...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := PlanCommandValidator(ctx, cmd); err != nil {
				return err
			}
			return PlanCommandAction(ctx, cmd)
		},
	}
}

// PlanCommandValidator performs validation for "plan" and delegates to
// GlobalFlagsValidator.
func PlanCommandValidator(ctx context.Context, cmd *cli.Command) error {
	return GlobalFlagsValidator(ctx, cmd)
}
