// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

package command

import (
	"context"
	"reflect"

	"github.com/apex/log"
	"github.com/hashicorp/go-tfe"
	altsrc "github.com/urfave/cli-altsrc/v3"
	yaml "github.com/urfave/cli-altsrc/v3/yaml"
	"github.com/urfave/cli/v3"

	"github.com/staranto/credctlgo/internal/meta"
)

// SvqCommandAction lists the backend's state version history: S3 object
// versions, TFE state versions, or the local file and its backup, all
// presented through the same record shape.
func SvqCommandAction(ctx context.Context, cmd *cli.Command) error {
	m := GetMeta(cmd)
	log.Debugf("Executing action for %v", m.Args[1:])

	// Bail out early if we're just dumping tldr.
	if ShortCircuitTLDR(ctx, cmd, "svq") {
		return nil
	}

	// Bail out early if we're just dumping the schema.
	if DumpSchemaIfRequested(cmd, reflect.TypeOf(tfe.StateVersion{})) {
		return nil
	}

	attrs := BuildAttrs(cmd, ".id", "serial", "created-at")
	log.Debugf("attrs: %v", attrs)

	// Figure out what type of Backend we're in.
	_, be, err := OpenBackend(ctx, cmd)
	if err != nil {
		return err
	}

	results, err := be.StateVersions()
	if err != nil {
		return err
	}
	log.Debugf("stateVersions: %d", len(results))

	// Marshal into a JSON document so we can slice and dice some more.  Note that
	// we're using jsonapi, which will use the StructField tags as the keys of the
	// JSON document.
	return EmitJSONAPISlice(results, attrs, cmd)
}

// SvqCommandBuilder constructs the cli.Command for "svq", wiring metadata,
// flags, and action/validator handlers.
func SvqCommandBuilder(cmd *cli.Command, meta meta.Meta) *cli.Command {
	return &cli.Command{
		Name:      "svq",
		Usage:     "state version query",
		UsageText: `credctl svq [RootDir] [options]`,
		Metadata: map[string]any{
			"meta": meta,
		},
		Flags: append([]cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"l"},
				Usage:   "limit state versions returned",
				Value:   99999,
				Sources: cli.NewValueSourceChain(
					yaml.YAML("limit", altsrc.StringSourcer(meta.Config.Source)),
				),
			},
			NewHostFlag("svq", meta.Config.Source),
			NewOrgFlag("svq", meta.Config.Source),
			schemaFlag,
			tldrFlag,
			workspaceFlag,
		}, NewGlobalFlags("svq")...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := SvqCommandValidator(ctx, cmd); err != nil {
				return err
			}
			return SvqCommandAction(ctx, cmd)
		},
	}
}

// SvqCommandValidator performs validation for "svq" and delegates to
// GlobalFlagsValidator.
func SvqCommandValidator(ctx context.Context, cmd *cli.Command) error {
	return GlobalFlagsValidator(ctx, cmd)
}
