// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/apex/log"
	gh "github.com/google/go-github/v56/github"
)

// ErrNoToken aborts a run before any cloud resource is touched, so a
// preflight failure here is always safe.
var ErrNoToken = errors.New("no GitHub token found: set CREDCTL_GITHUB_TOKEN or GITHUB_TOKEN")

// Token resolves the API token from the environment. CREDCTL_GITHUB_TOKEN
// wins over GITHUB_TOKEN. There is deliberately no config-file fallback;
// tokens do not belong in credctl.yaml.
func Token() (string, error) {
	for _, key := range []string{"CREDCTL_GITHUB_TOKEN", "GITHUB_TOKEN"} {
		if v := os.Getenv(key); v != "" {
			log.Debugf("github token from %s", key)
			return v, nil
		}
	}
	return "", ErrNoToken
}

// NewClient builds an authenticated client. GITHUB_API_URL (set on Actions
// runners and GHES shells) redirects it off api.github.com.
func NewClient(token string) (*gh.Client, error) {
	client := gh.NewClient(nil).WithAuthToken(token)

	if base := os.Getenv("GITHUB_API_URL"); base != "" && base != "https://api.github.com" {
		var err error
		client, err = client.WithEnterpriseURLs(base, base)
		if err != nil {
			return nil, fmt.Errorf("bad GITHUB_API_URL %s: %w", base, err)
		}
	}

	return client, nil
}

// OpError wraps a GitHub API failure with the operation, the repository, and
// a fix hint when the cause is recognizable.
type OpError struct {
	Op   string
	Repo string
	Fix  string
	Err  error
}

func (e *OpError) Error() string {
	msg := fmt.Sprintf("github %s failed for %s: %v", e.Op, e.Repo, e.Err)
	if e.Fix != "" {
		msg += "\n  fix: " + e.Fix
	}
	return msg
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func friendly(op, repo string, err error) error {
	oe := &OpError{Op: op, Repo: repo, Err: err}

	var er *gh.ErrorResponse
	if errors.As(err, &er) && er.Response != nil {
		switch er.Response.StatusCode {
		case http.StatusUnauthorized:
			oe.Fix = "the token was rejected; generate a new one with repo scope (classic) or secrets read/write (fine-grained)"
		case http.StatusForbidden:
			oe.Fix = fmt.Sprintf("the token is valid but cannot manage secrets on %s; it needs admin or secrets write access", repo)
		case http.StatusNotFound:
			oe.Fix = fmt.Sprintf("repository %s was not found; check the owner/name in credctl.hcl, or the token cannot see it", repo)
		}
	}

	return oe
}

// notFound reports whether err is a 404 from the API.
func notFound(err error) bool {
	var er *gh.ErrorResponse
	return errors.As(err, &er) && er.Response != nil && er.Response.StatusCode == http.StatusNotFound
}
