// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"errors"
	"net/http"
	"testing"

	gh "github.com/google/go-github/v56/github"
	"github.com/stretchr/testify/assert"
)

func TestToken_Precedence(t *testing.T) {
	tests := []struct {
		name    string
		credctl string
		github  string
		want    string
		wantErr bool
	}{
		{
			name:    "credctl var wins",
			credctl: "ghp_credctl",
			github:  "ghp_github",
			want:    "ghp_credctl",
		},
		{
			name:   "github var as fallback",
			github: "ghp_github",
			want:   "ghp_github",
		},
		{
			name:    "nothing set",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("CREDCTL_GITHUB_TOKEN", tt.credctl)
			t.Setenv("GITHUB_TOKEN", tt.github)

			got, err := Token()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoToken)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFriendly(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		fixPart string
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, fixPart: "rejected"},
		{name: "forbidden", status: http.StatusForbidden, fixPart: "cannot manage secrets"},
		{name: "not found", status: http.StatusNotFound, fixPart: "was not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cause := &gh.ErrorResponse{Response: &http.Response{StatusCode: tt.status}}
			err := friendly("GetRepoPublicKey", "staranto/widgets", cause)

			var oe *OpError
			assert.ErrorAs(t, err, &oe)
			assert.Equal(t, "staranto/widgets", oe.Repo)
			assert.Contains(t, oe.Fix, tt.fixPart)
			assert.Contains(t, err.Error(), "fix:")
		})
	}
}

func TestFriendly_UnrecognizedCause(t *testing.T) {
	err := friendly("GetRepoSecret", "o/r", errors.New("wire broke"))

	var oe *OpError
	assert.ErrorAs(t, err, &oe)
	assert.Empty(t, oe.Fix)
	assert.Contains(t, err.Error(), "wire broke")
}

func TestNotFound(t *testing.T) {
	assert.True(t, notFound(&gh.ErrorResponse{Response: &http.Response{StatusCode: 404}}))
	assert.False(t, notFound(&gh.ErrorResponse{Response: &http.Response{StatusCode: 403}}))
	assert.False(t, notFound(errors.New("nope")))
}
