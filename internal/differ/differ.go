// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

package differ

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/apex/log"
	"github.com/urfave/cli/v3"
	gojsondiff "github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// ParseDiffArgs returns the state version specs riding in the command's
// positional arguments. The optional RootDir positional shares the slot, so
// anything that resolves to a directory is skipped. At most two specs are
// meaningful.
func ParseDiffArgs(ctx context.Context, cmd *cli.Command) []string {
	//nolint:prealloc
	var specs []string
	for _, a := range cmd.Args().Slice() {
		if fi, err := os.Stat(a); err == nil && fi.IsDir() {
			continue
		}
		specs = append(specs, a)
	}

	if len(specs) > 2 {
		specs = specs[:2]
	}

	log.Debugf("diff specs: %v", specs)
	return specs
}

// Diff renders the difference between two raw state documents to stdout.
// states[0] is the older side. A nil/empty states (picker cancelled) is a
// quiet no-op.
func Diff(ctx context.Context, cmd *cli.Command, states [][]byte) error {
	if len(states) == 0 {
		return nil
	}
	if len(states) != 2 {
		return fmt.Errorf("need two state versions to diff, got %d", len(states))
	}

	out, modified, err := render(states[0], states[1],
		cmd.String("diff_filter"), cmd.Bool("color"))
	if err != nil {
		return err
	}

	if !modified {
		fmt.Println("No differences.")
		return nil
	}

	fmt.Print(out)
	return nil
}

// render compares the two documents after pruning filtered keys and formats
// the delta. The second return reports whether anything differed.
func render(older, newer []byte, filterSpec string, coloring bool) (string, bool, error) {
	var left, right map[string]interface{}
	if err := json.Unmarshal(older, &left); err != nil {
		return "", false, fmt.Errorf("failed to parse older state: %w", err)
	}
	if err := json.Unmarshal(newer, &right); err != nil {
		return "", false, fmt.Errorf("failed to parse newer state: %w", err)
	}

	prune(left, filterSpec)
	prune(right, filterSpec)

	delta := gojsondiff.New().CompareObjects(left, right)
	if !delta.Modified() {
		return "", false, nil
	}

	f := formatter.NewAsciiFormatter(left, formatter.AsciiFormatterConfig{
		ShowArrayIndex: true,
		Coloring:       coloring,
	})
	out, err := f.Format(delta)
	if err != nil {
		return "", false, fmt.Errorf("failed to format diff: %w", err)
	}

	return out, true, nil
}

// prune drops the comma-separated top-level keys named by spec. Used to keep
// mechanical fields (tool version and the like) out of the delta.
func prune(doc map[string]interface{}, spec string) {
	for _, key := range strings.Split(spec, ",") {
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		delete(doc, key)
	}
}
