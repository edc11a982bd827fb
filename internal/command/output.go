// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/apex/log"
	"github.com/urfave/cli/v3"

	"github.com/staranto/credctlgo/internal/meta"
	"github.com/staranto/credctlgo/internal/output"
	"github.com/staranto/credctlgo/internal/state"
)

// OutputCommandAction prints the state document's outputs. Sensitive values
// stay redacted unless --reveal asks for the clear text.
func OutputCommandAction(ctx context.Context, cmd *cli.Command) error {
	m := GetMeta(cmd)
	log.Debugf("Executing action for %v", m.Args[1:])

	if ShortCircuitTLDR(ctx, cmd, "output") {
		return nil
	}

	_, be, err := OpenBackend(ctx, cmd)
	if err != nil {
		return err
	}

	body, err := be.State()
	if err != nil {
		return err
	}

	doc, err := state.Parse(body)
	if err != nil {
		return err
	}
	if !cmd.Bool("reveal") {
		doc = doc.Redact()
	}

	if len(doc.Outputs) == 0 {
		fmt.Println("No outputs. Has the stack been applied?")
		return nil
	}

	names := make([]string, 0, len(doc.Outputs))
	for name := range doc.Outputs {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]map[string]interface{}, 0, len(names))
	for _, name := range names {
		o := doc.Outputs[name]
		rows = append(rows, map[string]interface{}{
			"name":      name,
			"value":     o.Value,
			"sensitive": o.Sensitive,
		})
	}

	jsonRows, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to marshal outputs: %w", err)
	}

	attrs := BuildAttrs(cmd, ".name", ".value", ".sensitive")
	log.Debugf("attrs: %v", attrs)

	var raw bytes.Buffer
	raw.Write(jsonRows)
	output.SliceDiceSpit(raw, attrs, cmd, "", os.Stdout, nil)

	return nil
}

// OutputCommandBuilder constructs the cli.Command for "output", wiring
// metadata, flags, and action/validator handlers.
func OutputCommandBuilder(cmd *cli.Command, meta meta.Meta) *cli.Command {
	return &cli.Command{
		Name:      "output",
		Usage:     "print state outputs",
		UsageText: `credctl output [RootDir] [options]`,
		Metadata: map[string]any{
			"meta": meta,
		},
		Flags: append(append([]cli.Flag{
			&cli.StringFlag{
				Name:        "sv",
				Usage:       "state version to query",
				Value:       "0",
				HideDefault: true,
			},
			revealFlag,
			tldrFlag,
		}, NewBackendFlags("output")...), NewGlobalFlags("output")...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if err := OutputCommandValidator(ctx, cmd); err != nil {
				return err
			}
			return OutputCommandAction(ctx, cmd)
		},
	}
}

// OutputCommandValidator performs validation for "output" and delegates to
// GlobalFlagsValidator.
func OutputCommandValidator(ctx context.Context, cmd *cli.Command) error {
	return GlobalFlagsValidator(ctx, cmd)
}
