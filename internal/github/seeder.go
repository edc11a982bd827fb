// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/apex/log"
	gh "github.com/google/go-github/v56/github"
	"golang.org/x/crypto/nacl/box"

	"github.com/staranto/credctlgo/internal/sensitive"
)

// SecretsAPI is the slice of the Actions API the seeder drives. A real
// *github.ActionsService satisfies it.
type SecretsAPI interface {
	GetRepoPublicKey(ctx context.Context, owner, repo string) (*gh.PublicKey, *gh.Response, error)
	GetRepoSecret(ctx context.Context, owner, repo, name string) (*gh.Secret, *gh.Response, error)
	CreateOrUpdateRepoSecret(ctx context.Context, owner, repo string, eSecret *gh.EncryptedSecret) (*gh.Response, error)
	DeleteRepoSecret(ctx context.Context, owner, repo, name string) (*gh.Response, error)
}

var _ SecretsAPI = (*gh.ActionsService)(nil)

// Seeder writes, reads, and deletes the Actions secrets of one repository.
// The repository public key is fetched once and reused for every Put in the
// run.
type Seeder struct {
	api   SecretsAPI
	owner string
	repo  string
	key   *gh.PublicKey
}

func NewSeeder(api SecretsAPI, owner, repo string) *Seeder {
	return &Seeder{api: api, owner: owner, repo: repo}
}

func (s *Seeder) slug() string {
	return s.owner + "/" + s.repo
}

// Put seals value against the repository public key and upserts the secret.
// The plaintext never transits the API.
func (s *Seeder) Put(ctx context.Context, name string, value sensitive.String) error {
	if s.key == nil {
		key, _, err := s.api.GetRepoPublicKey(ctx, s.owner, s.repo)
		if err != nil {
			return friendly("GetRepoPublicKey", s.slug(), err)
		}
		s.key = key
	}

	sealed, err := sealSecret(s.key.GetKey(), value.Reveal())
	if err != nil {
		return fmt.Errorf("seal secret %s for %s: %w", name, s.slug(), err)
	}

	_, err = s.api.CreateOrUpdateRepoSecret(ctx, s.owner, s.repo, &gh.EncryptedSecret{
		Name:           name,
		KeyID:          s.key.GetKeyID(),
		EncryptedValue: sealed,
	})
	if err != nil {
		return friendly("CreateOrUpdateRepoSecret", s.slug(), err)
	}

	log.Debugf("seeded secret %s on %s", name, s.slug())
	return nil
}

// Get returns the secret metadata, or nil without error when it does not
// exist. The API never returns secret values, only timestamps.
func (s *Seeder) Get(ctx context.Context, name string) (*gh.Secret, error) {
	secret, _, err := s.api.GetRepoSecret(ctx, s.owner, s.repo, name)
	if err != nil {
		if notFound(err) {
			return nil, nil
		}
		return nil, friendly("GetRepoSecret", s.slug(), err)
	}
	return secret, nil
}

// Delete removes the secret. Already-gone is not an error.
func (s *Seeder) Delete(ctx context.Context, name string) error {
	_, err := s.api.DeleteRepoSecret(ctx, s.owner, s.repo, name)
	if err != nil && !notFound(err) {
		return friendly("DeleteRepoSecret", s.slug(), err)
	}
	return nil
}

// DeleteIn removes a secret from a repository other than the seeder's own.
// Moving a stack between repositories retires the old pair this way.
// Already-gone is not an error.
func (s *Seeder) DeleteIn(ctx context.Context, slug, name string) error {
	owner, repo, ok := strings.Cut(slug, "/")
	if !ok || owner == "" || repo == "" {
		return fmt.Errorf("repository %q is not in owner/name form", slug)
	}
	_, err := s.api.DeleteRepoSecret(ctx, owner, repo, name)
	if err != nil && !notFound(err) {
		return friendly("DeleteRepoSecret", slug, err)
	}
	return nil
}

// sealSecret implements the sealed-box format the secrets API requires:
// base64 in, anonymous NaCl box against the repo key, base64 out.
func sealSecret(publicKeyB64, value string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(publicKeyB64)
	if err != nil {
		return "", fmt.Errorf("decode repository public key: %w", err)
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("repository public key is %d bytes, want 32", len(raw))
	}

	var key [32]byte
	copy(key[:], raw)

	sealed, err := box.SealAnonymous(nil, []byte(value), &key, rand.Reader)
	if err != nil {
		return "", fmt.Errorf("seal: %w", err)
	}

	return base64.StdEncoding.EncodeToString(sealed), nil
}
