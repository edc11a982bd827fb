// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/apex/log"
	"gopkg.in/yaml.v3"

	"github.com/staranto/credctlgo/internal/stack"
)

// DefaultName is the workflow name when the caller does not pick one.
const DefaultName = "verify-aws-credentials"

// DefaultRegion feeds configure-aws-credentials, which refuses to run
// without one. s3 ls itself is region-agnostic.
const DefaultRegion = "us-east-1"

// DefaultPath is where the rendered workflow conventionally lands.
var DefaultPath = filepath.Join(".github", "workflows", "verify-aws-credentials.yml")

// Spec holds the knobs a rendered workflow exposes. Zero values fall back
// to the credctl conventions.
type Spec struct {
	Name                  string
	Region                string
	AccessKeyIDSecret     string
	SecretAccessKeySecret string
	Branches              []string
}

// The yaml shapes below mirror the workflow file layout key for key, so the
// rendered document keeps the order a human would write it in.
type document struct {
	Name string   `yaml:"name"`
	On   triggers `yaml:"on"`
	Jobs jobs     `yaml:"jobs"`
}

type triggers struct {
	Push             branchFilter `yaml:"push"`
	PullRequest      branchFilter `yaml:"pull_request"`
	WorkflowDispatch struct{}     `yaml:"workflow_dispatch"`
}

type branchFilter struct {
	Branches []string `yaml:"branches"`
}

type jobs struct {
	Verify job `yaml:"verify"`
}

type job struct {
	RunsOn string `yaml:"runs-on"`
	Steps  []step `yaml:"steps"`
}

type step struct {
	Name string       `yaml:"name,omitempty"`
	Uses string       `yaml:"uses,omitempty"`
	With *credsInputs `yaml:"with,omitempty"`
	Run  string       `yaml:"run,omitempty"`
}

type credsInputs struct {
	AccessKeyID     string `yaml:"aws-access-key-id"`
	SecretAccessKey string `yaml:"aws-secret-access-key"`
	Region          string `yaml:"aws-region"`
}

// Render produces the workflow file body. Every run of the job verifies the
// seeded pair the same way credctl verify does locally: a single aws s3 ls
// under the credentials pulled from the repository secrets.
func Render(s Spec) ([]byte, error) {
	name := s.Name
	if name == "" {
		name = DefaultName
	}
	region := s.Region
	if region == "" {
		region = DefaultRegion
	}
	kid := s.AccessKeyIDSecret
	if kid == "" {
		kid = stack.DefaultAccessKeyIDSecret
	}
	sak := s.SecretAccessKeySecret
	if sak == "" {
		sak = stack.DefaultSecretAccessKeySecret
	}
	branches := s.Branches
	if len(branches) == 0 {
		// Matches every branch, for push and pull_request both. Narrow with
		// Branches when the repo gets noisy.
		branches = []string{"**"}
	}

	doc := document{
		Name: name,
		On: triggers{
			Push:        branchFilter{Branches: branches},
			PullRequest: branchFilter{Branches: branches},
		},
		Jobs: jobs{
			Verify: job{
				RunsOn: "ubuntu-latest",
				Steps: []step{
					{
						Name: "Checkout",
						Uses: "actions/checkout@v4",
					},
					{
						Name: "Configure AWS credentials",
						Uses: "aws-actions/configure-aws-credentials@v4",
						With: &credsInputs{
							AccessKeyID:     secretRef(kid),
							SecretAccessKey: secretRef(sak),
							Region:          region,
						},
					},
					{
						Name: "Verify against S3",
						Run:  "aws s3 ls",
					},
				},
			},
		},
	}

	var buf bytes.Buffer
	buf.WriteString("# Managed by credctl. Regenerate with: credctl workflow\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("render workflow: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("render workflow: %w", err)
	}

	return buf.Bytes(), nil
}

// Write renders the workflow and writes it to path, creating the
// .github/workflows directory chain as needed.
func Write(path string, s Spec) error {
	raw, err := Render(s)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create workflow directory: %w", err)
		}
	}

	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write workflow: %w", err)
	}

	log.Infof("wrote %s", path)
	return nil
}

func secretRef(name string) string {
	return "${{ secrets." + name + " }}"
}
