// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"fmt"
	"os"

	"github.com/apex/log"
	"github.com/urfave/cli/v3"

	"github.com/staranto/credctlgo/internal/meta"
	"github.com/staranto/credctlgo/internal/state"
)

// DestroyCommandAction tears down everything the state tracks, dependents
// first: secrets, then the policy attachment, the access key and finally the
// user. State saves between steps, same as apply.
func DestroyCommandAction(ctx context.Context, cmd *cli.Command) error {
	m := GetMeta(cmd)
	log.Debugf("Executing action for %v", m.Args[1:])

	if ShortCircuitTLDR(ctx, cmd, "destroy") {
		return nil
	}

	stk, be, err := OpenBackend(ctx, cmd)
	if err != nil {
		return err
	}

	engine, _, err := BuildEngine(ctx, cmd, stk, be.Save)
	if err != nil {
		return err
	}

	unlock, err := be.Lock(ctx, state.NewLockInfo("destroy"))
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

	p := engine.DestroyPlan()
	if p.Empty() {
		fmt.Println("Nothing to destroy. The state tracks no resources.")
		return nil
	}

	p.Render(os.Stdout)

	if err := engine.Execute(ctx, p); err != nil {
		return err
	}

	_, _, destroyed := p.Counts()
	fmt.Printf("\nDestroy complete. Resources: %d destroyed.\n", destroyed)

	return nil
}

// DestroyCommandBuilder constructs the cli.Command for "destroy", wiring
// metadata, flags, and action/validator handlers.
func DestroyCommandBuilder(cmd *cli.Command, meta meta.Meta) *cli.Command {
	return &cli.Command{
		Name:      "destroy",
		Usage:     "tear down the tracked IAM user, access key and repository secrets",
		UsageText: `credctl destroy [RootDir] [options]`,
		Metadata: map[string]any{
			"meta": meta,
		},
		Flags: append(append([]cli.Flag{
			tldrFlag,
		}, NewAWSFlags("destroy")...), NewBackendFlags("destroy")...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := DestroyCommandValidator(ctx, cmd); err != nil {
				return err
			}
			return DestroyCommandAction(ctx, cmd)
		},
	}
}

// DestroyCommandValidator performs validation for "destroy" and delegates to
// GlobalFlagsValidator.
func DestroyCommandValidator(ctx context.Context, cmd *cli.Command) error {
	return GlobalFlagsValidator(ctx, cmd)
}
