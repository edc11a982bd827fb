// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"fmt"

	"github.com/apex/log"
	"github.com/urfave/cli/v3"

	awsx "github.com/staranto/credctlgo/internal/aws"
	"github.com/staranto/credctlgo/internal/meta"
	"github.com/staranto/credctlgo/internal/verify"
)

// VerifyCommandAction runs the CI verification call locally: resolve a key
// pair, confirm who it is, then perform one read-only S3 listing. The exit
// status is the signal; there is no retry and no timeout beyond the
// platform's own.
func VerifyCommandAction(ctx context.Context, cmd *cli.Command) error {
	m := GetMeta(cmd)
	log.Debugf("Executing action for %v", m.Args[1:])

	if ShortCircuitTLDR(ctx, cmd, "verify") {
		return nil
	}

	var extra []awsx.Option
	if cmd.String("source") == "state" {
		_, be, err := OpenBackend(ctx, cmd)
		if err != nil {
			return err
		}

		doc, err := be.Load(ctx)
		if err != nil {
			return err
		}

		id, secret, err := verify.CredentialsFromState(doc)
		if err != nil {
			return err
		}
		extra = append(extra, awsx.WithStaticCredentials(id, secret))
	}

	cfg, err := LoadAWSConfigFromFlags(ctx, cmd, extra...)
	if err != nil {
		return err
	}

	bucket := cmd.String("bucket")
	res, err := verify.New(cfg).Run(ctx, bucket)
	if err != nil {
		return err
	}

	fmt.Printf("Verified %s (account %s).\n", res.ARN, res.Account)
	if bucket == "" {
		fmt.Printf("s3 listing ok: %d buckets visible.\n", len(res.Buckets))
	} else {
		fmt.Printf("s3 listing ok: %d objects in %s.\n", len(res.Objects), res.Bucket)
	}

	return nil
}

// VerifyCommandBuilder constructs the cli.Command for "verify", wiring
// metadata, flags, and action/validator handlers.
func VerifyCommandBuilder(cmd *cli.Command, meta meta.Meta) *cli.Command {
	return &cli.Command{
		Name:      "verify",
		Usage:     "check the provisioned key pair with a read-only S3 listing",
		UsageText: `credctl verify [RootDir] [options]`,
		Metadata: map[string]any{
			"meta": meta,
		},
		Flags: append(append([]cli.Flag{
			&cli.StringFlag{
				Name:    "bucket",
				Aliases: []string{"b"},
				Usage:   "list this bucket's objects instead of the account's buckets",
			},
			&cli.StringFlag{
				Name:  "source",
				Usage: "where the key pair comes from: the state document or ambient env",
				Value: "state",
				Validator: func(value string) error {
					return FlagValidators(value, SourceValidator)
				},
			},
			tldrFlag,
		}, NewAWSFlags("verify")...), NewBackendFlags("verify")...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := VerifyCommandValidator(ctx, cmd); err != nil {
				return err
			}
			return VerifyCommandAction(ctx, cmd)
		},
	}
}

// VerifyCommandValidator performs validation for "verify" and delegates to
// GlobalFlagsValidator.
func VerifyCommandValidator(ctx context.Context, cmd *cli.Command) error {
	return GlobalFlagsValidator(ctx, cmd)
}
