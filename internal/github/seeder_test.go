// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package github

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"testing"
	"time"

	gh "github.com/google/go-github/v56/github"
	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/nacl/box"

	"github.com/staranto/credctlgo/internal/sensitive"
)

// fakeSecrets is an in-memory SecretsAPI holding a real NaCl keypair so
// tests can open what the seeder sealed.
type fakeSecrets struct {
	pub        *[32]byte
	priv       *[32]byte
	sealed     map[string]*gh.EncryptedSecret
	updatedAt  map[string]time.Time
	deletes    []string
	keyFetches int
	failWith   error
}

func newFakeSecrets(t *testing.T) *fakeSecrets {
	t.Helper()
	pub, priv, err := box.GenerateKey(rand.Reader)
	assert.NoError(t, err)
	return &fakeSecrets{
		pub:       pub,
		priv:      priv,
		sealed:    map[string]*gh.EncryptedSecret{},
		updatedAt: map[string]time.Time{},
	}
}

func (f *fakeSecrets) GetRepoPublicKey(_ context.Context, _, _ string) (*gh.PublicKey, *gh.Response, error) {
	if f.failWith != nil {
		return nil, nil, f.failWith
	}
	f.keyFetches++
	return &gh.PublicKey{
		KeyID: gh.String("key-1"),
		Key:   gh.String(base64.StdEncoding.EncodeToString(f.pub[:])),
	}, nil, nil
}

func (f *fakeSecrets) GetRepoSecret(_ context.Context, _, _, name string) (*gh.Secret, *gh.Response, error) {
	if f.failWith != nil {
		return nil, nil, f.failWith
	}
	if _, ok := f.sealed[name]; !ok {
		return nil, nil, &gh.ErrorResponse{Response: &http.Response{StatusCode: http.StatusNotFound}}
	}
	return &gh.Secret{
		Name:      name,
		UpdatedAt: gh.Timestamp{Time: f.updatedAt[name]},
	}, nil, nil
}

func (f *fakeSecrets) CreateOrUpdateRepoSecret(_ context.Context, _, _ string, eSecret *gh.EncryptedSecret) (*gh.Response, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.sealed[eSecret.Name] = eSecret
	f.updatedAt[eSecret.Name] = time.Now()
	return nil, nil
}

func (f *fakeSecrets) DeleteRepoSecret(_ context.Context, owner, repo, name string) (*gh.Response, error) {
	f.deletes = append(f.deletes, owner+"/"+repo+" "+name)
	if f.failWith != nil {
		return nil, f.failWith
	}
	if _, ok := f.sealed[name]; !ok {
		return nil, &gh.ErrorResponse{Response: &http.Response{StatusCode: http.StatusNotFound}}
	}
	delete(f.sealed, name)
	return nil, nil
}

// open unseals a stored secret with the fake's private key.
func (f *fakeSecrets) open(t *testing.T, name string) string {
	t.Helper()
	es, ok := f.sealed[name]
	assert.True(t, ok, "secret %s not stored", name)

	raw, err := base64.StdEncoding.DecodeString(es.EncryptedValue)
	assert.NoError(t, err)

	plain, ok := box.OpenAnonymous(nil, raw, f.pub, f.priv)
	assert.True(t, ok, "sealed box for %s did not open", name)
	return string(plain)
}

func TestSeeder_PutSealsForRepoKey(t *testing.T) {
	ctx := context.Background()
	fake := newFakeSecrets(t)
	s := NewSeeder(fake, "staranto", "widgets")

	err := s.Put(ctx, "AWS_ACCESS_KEY_ID", sensitive.String("AKIAEXAMPLE"))
	assert.NoError(t, err)
	err = s.Put(ctx, "AWS_SECRET_ACCESS_KEY", sensitive.String("wJalrXUtnFEMI"))
	assert.NoError(t, err)

	// Values decrypt with the repository private key and the wire form never
	// carried plaintext.
	assert.Equal(t, "AKIAEXAMPLE", fake.open(t, "AWS_ACCESS_KEY_ID"))
	assert.Equal(t, "wJalrXUtnFEMI", fake.open(t, "AWS_SECRET_ACCESS_KEY"))
	assert.NotContains(t, fake.sealed["AWS_SECRET_ACCESS_KEY"].EncryptedValue, "wJalrXUtnFEMI")
	assert.Equal(t, "key-1", fake.sealed["AWS_ACCESS_KEY_ID"].KeyID)

	// One key fetch serves the whole run.
	assert.Equal(t, 1, fake.keyFetches)
}

func TestSeeder_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	fake := newFakeSecrets(t)
	s := NewSeeder(fake, "staranto", "widgets")

	assert.NoError(t, s.Put(ctx, "AWS_ACCESS_KEY_ID", "old"))
	assert.NoError(t, s.Put(ctx, "AWS_ACCESS_KEY_ID", "new"))

	assert.Len(t, fake.sealed, 1)
	assert.Equal(t, "new", fake.open(t, "AWS_ACCESS_KEY_ID"))
}

func TestSeeder_GetMissingIsNil(t *testing.T) {
	fake := newFakeSecrets(t)
	s := NewSeeder(fake, "staranto", "widgets")

	secret, err := s.Get(context.Background(), "AWS_ACCESS_KEY_ID")
	assert.NoError(t, err)
	assert.Nil(t, secret)
}

func TestSeeder_DeleteTolerant(t *testing.T) {
	ctx := context.Background()
	fake := newFakeSecrets(t)
	s := NewSeeder(fake, "staranto", "widgets")

	assert.NoError(t, s.Put(ctx, "AWS_ACCESS_KEY_ID", "v"))
	assert.NoError(t, s.Delete(ctx, "AWS_ACCESS_KEY_ID"))
	assert.NoError(t, s.Delete(ctx, "AWS_ACCESS_KEY_ID"), "second delete is a no-op")
	assert.Empty(t, fake.sealed)
}

func TestSeeder_DeleteInOtherRepo(t *testing.T) {
	ctx := context.Background()
	fake := newFakeSecrets(t)
	s := NewSeeder(fake, "staranto", "gadgets")

	assert.NoError(t, s.Put(ctx, "AWS_ACCESS_KEY_ID", "v"))
	assert.NoError(t, s.DeleteIn(ctx, "staranto/widgets", "AWS_ACCESS_KEY_ID"))
	assert.Contains(t, fake.deletes, "staranto/widgets AWS_ACCESS_KEY_ID")

	err := s.DeleteIn(ctx, "not-a-slug", "AWS_ACCESS_KEY_ID")
	assert.ErrorContains(t, err, "owner/name")
}

func TestSeeder_PutErrorIsOpError(t *testing.T) {
	fake := newFakeSecrets(t)
	fake.failWith = &gh.ErrorResponse{Response: &http.Response{StatusCode: http.StatusUnauthorized}}
	s := NewSeeder(fake, "staranto", "widgets")

	err := s.Put(context.Background(), "AWS_ACCESS_KEY_ID", "v")
	assert.Error(t, err)

	var oe *OpError
	assert.ErrorAs(t, err, &oe)
	assert.Equal(t, "GetRepoPublicKey", oe.Op)
}

func TestSealSecret_BadKey(t *testing.T) {
	_, err := sealSecret("not-base64!!!", "v")
	assert.Error(t, err)

	short := base64.StdEncoding.EncodeToString([]byte("short"))
	_, err = sealSecret(short, "v")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "want 32")
}
