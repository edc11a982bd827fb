// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package converge

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"
	gh "github.com/google/go-github/v56/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/nacl/box"

	"github.com/staranto/credctlgo/internal/github"
	"github.com/staranto/credctlgo/internal/provision"
	"github.com/staranto/credctlgo/internal/stack"
	"github.com/staranto/credctlgo/internal/state"
)

// journal records calls across both fakes so tests can assert ordering.
type journal struct {
	ops []string
}

func (j *journal) add(op string) { j.ops = append(j.ops, op) }

func (j *journal) reset() { j.ops = nil }

func (j *journal) indexOf(prefix string) int {
	for i, o := range j.ops {
		if strings.HasPrefix(o, prefix) {
			return i
		}
	}
	return -1
}

type fakeUser struct {
	arn      string
	path     string
	keys     map[string]string
	policies map[string]bool
}

// fakeIAM is an in-memory IAMOperations with the IAM rules that matter
// here: no duplicate users, at most two keys, and no deleting a user that
// still has keys or attachments.
type fakeIAM struct {
	users  map[string]*fakeUser
	keySeq int
	jrn    *journal
	failOn map[string]error
}

var _ provision.IAMOperations = (*fakeIAM)(nil)

func newFakeIAM(jrn *journal) *fakeIAM {
	return &fakeIAM{users: map[string]*fakeUser{}, jrn: jrn, failOn: map[string]error{}}
}

func (f *fakeIAM) called(op, arg string) error {
	f.jrn.add("iam." + op + " " + arg)
	return f.failOn[op]
}

func (f *fakeIAM) seedUser(name string) {
	f.users[name] = &fakeUser{
		arn:      "arn:aws:iam::123456789012:user/" + name,
		keys:     map[string]string{},
		policies: map[string]bool{},
	}
}

func (f *fakeIAM) CreateUser(_ context.Context, params *iam.CreateUserInput, _ ...func(*iam.Options)) (*iam.CreateUserOutput, error) {
	name := awsv2.ToString(params.UserName)
	if err := f.called("CreateUser", name); err != nil {
		return nil, err
	}
	if _, ok := f.users[name]; ok {
		return nil, &types.EntityAlreadyExistsException{Message: awsv2.String("EntityAlreadyExists")}
	}
	f.seedUser(name)
	f.users[name].path = awsv2.ToString(params.Path)
	return &iam.CreateUserOutput{User: &types.User{
		UserName:   params.UserName,
		Arn:        awsv2.String(f.users[name].arn),
		UserId:     awsv2.String("AIDA" + name),
		CreateDate: awsv2.Time(time.Now()),
	}}, nil
}

func (f *fakeIAM) GetUser(_ context.Context, params *iam.GetUserInput, _ ...func(*iam.Options)) (*iam.GetUserOutput, error) {
	name := awsv2.ToString(params.UserName)
	if err := f.called("GetUser", name); err != nil {
		return nil, err
	}
	u, ok := f.users[name]
	if !ok {
		return nil, &types.NoSuchEntityException{Message: awsv2.String("NoSuchEntity")}
	}
	return &iam.GetUserOutput{User: &types.User{
		UserName: params.UserName,
		Arn:      awsv2.String(u.arn),
	}}, nil
}

func (f *fakeIAM) DeleteUser(_ context.Context, params *iam.DeleteUserInput, _ ...func(*iam.Options)) (*iam.DeleteUserOutput, error) {
	name := awsv2.ToString(params.UserName)
	if err := f.called("DeleteUser", name); err != nil {
		return nil, err
	}
	u, ok := f.users[name]
	if !ok {
		return nil, &types.NoSuchEntityException{Message: awsv2.String("NoSuchEntity")}
	}
	if len(u.keys) > 0 || len(u.policies) > 0 {
		return nil, &types.DeleteConflictException{Message: awsv2.String("DeleteConflict")}
	}
	delete(f.users, name)
	return &iam.DeleteUserOutput{}, nil
}

func (f *fakeIAM) CreateAccessKey(_ context.Context, params *iam.CreateAccessKeyInput, _ ...func(*iam.Options)) (*iam.CreateAccessKeyOutput, error) {
	name := awsv2.ToString(params.UserName)
	if err := f.called("CreateAccessKey", name); err != nil {
		return nil, err
	}
	u, ok := f.users[name]
	if !ok {
		return nil, &types.NoSuchEntityException{Message: awsv2.String("NoSuchEntity")}
	}
	if len(u.keys) >= 2 {
		return nil, &types.LimitExceededException{Message: awsv2.String("LimitExceeded")}
	}
	f.keySeq++
	id := fmt.Sprintf("AKIAFAKE%08d", f.keySeq)
	secret := "secret-for-" + id
	u.keys[id] = secret
	return &iam.CreateAccessKeyOutput{AccessKey: &types.AccessKey{
		AccessKeyId:     awsv2.String(id),
		SecretAccessKey: awsv2.String(secret),
		UserName:        params.UserName,
		Status:          types.StatusTypeActive,
		CreateDate:      awsv2.Time(time.Now()),
	}}, nil
}

func (f *fakeIAM) ListAccessKeys(_ context.Context, params *iam.ListAccessKeysInput, _ ...func(*iam.Options)) (*iam.ListAccessKeysOutput, error) {
	name := awsv2.ToString(params.UserName)
	if err := f.called("ListAccessKeys", name); err != nil {
		return nil, err
	}
	u, ok := f.users[name]
	if !ok {
		return nil, &types.NoSuchEntityException{Message: awsv2.String("NoSuchEntity")}
	}
	out := &iam.ListAccessKeysOutput{}
	for id := range u.keys {
		out.AccessKeyMetadata = append(out.AccessKeyMetadata, types.AccessKeyMetadata{
			AccessKeyId: awsv2.String(id),
			UserName:    params.UserName,
			Status:      types.StatusTypeActive,
		})
	}
	return out, nil
}

func (f *fakeIAM) DeleteAccessKey(_ context.Context, params *iam.DeleteAccessKeyInput, _ ...func(*iam.Options)) (*iam.DeleteAccessKeyOutput, error) {
	id := awsv2.ToString(params.AccessKeyId)
	if err := f.called("DeleteAccessKey", id); err != nil {
		return nil, err
	}
	u, ok := f.users[awsv2.ToString(params.UserName)]
	if !ok {
		return nil, &types.NoSuchEntityException{Message: awsv2.String("NoSuchEntity")}
	}
	if _, ok := u.keys[id]; !ok {
		return nil, &types.NoSuchEntityException{Message: awsv2.String("NoSuchEntity")}
	}
	delete(u.keys, id)
	return &iam.DeleteAccessKeyOutput{}, nil
}

func (f *fakeIAM) AttachUserPolicy(_ context.Context, params *iam.AttachUserPolicyInput, _ ...func(*iam.Options)) (*iam.AttachUserPolicyOutput, error) {
	arn := awsv2.ToString(params.PolicyArn)
	if err := f.called("AttachUserPolicy", arn); err != nil {
		return nil, err
	}
	u, ok := f.users[awsv2.ToString(params.UserName)]
	if !ok {
		return nil, &types.NoSuchEntityException{Message: awsv2.String("NoSuchEntity")}
	}
	u.policies[arn] = true
	return &iam.AttachUserPolicyOutput{}, nil
}

func (f *fakeIAM) ListAttachedUserPolicies(_ context.Context, params *iam.ListAttachedUserPoliciesInput, _ ...func(*iam.Options)) (*iam.ListAttachedUserPoliciesOutput, error) {
	name := awsv2.ToString(params.UserName)
	if err := f.called("ListAttachedUserPolicies", name); err != nil {
		return nil, err
	}
	u, ok := f.users[name]
	if !ok {
		return nil, &types.NoSuchEntityException{Message: awsv2.String("NoSuchEntity")}
	}
	out := &iam.ListAttachedUserPoliciesOutput{}
	for arn := range u.policies {
		out.AttachedPolicies = append(out.AttachedPolicies, types.AttachedPolicy{PolicyArn: awsv2.String(arn)})
	}
	return out, nil
}

func (f *fakeIAM) DetachUserPolicy(_ context.Context, params *iam.DetachUserPolicyInput, _ ...func(*iam.Options)) (*iam.DetachUserPolicyOutput, error) {
	arn := awsv2.ToString(params.PolicyArn)
	if err := f.called("DetachUserPolicy", arn); err != nil {
		return nil, err
	}
	u, ok := f.users[awsv2.ToString(params.UserName)]
	if !ok || !u.policies[arn] {
		return nil, &types.NoSuchEntityException{Message: awsv2.String("NoSuchEntity")}
	}
	delete(u.policies, arn)
	return &iam.DetachUserPolicyOutput{}, nil
}

// fakeSecretsAPI holds a real NaCl keypair so tests can open what the
// engine sealed.
type fakeSecretsAPI struct {
	pub     *[32]byte
	priv    *[32]byte
	sealed  map[string]*gh.EncryptedSecret
	updated map[string]time.Time
	jrn     *journal
	failOn  map[string]error
}

var _ github.SecretsAPI = (*fakeSecretsAPI)(nil)

func newFakeSecretsAPI(t *testing.T, jrn *journal) *fakeSecretsAPI {
	t.Helper()
	pub, priv, err := box.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return &fakeSecretsAPI{
		pub:     pub,
		priv:    priv,
		sealed:  map[string]*gh.EncryptedSecret{},
		updated: map[string]time.Time{},
		jrn:     jrn,
		failOn:  map[string]error{},
	}
}

func (f *fakeSecretsAPI) GetRepoPublicKey(_ context.Context, _, _ string) (*gh.PublicKey, *gh.Response, error) {
	f.jrn.add("gh.GetRepoPublicKey")
	if err := f.failOn["GetRepoPublicKey"]; err != nil {
		return nil, nil, err
	}
	return &gh.PublicKey{
		KeyID: gh.String("key-1"),
		Key:   gh.String(base64.StdEncoding.EncodeToString(f.pub[:])),
	}, nil, nil
}

func (f *fakeSecretsAPI) GetRepoSecret(_ context.Context, _, _, name string) (*gh.Secret, *gh.Response, error) {
	f.jrn.add("gh.GetRepoSecret " + name)
	if err := f.failOn["GetRepoSecret"]; err != nil {
		return nil, nil, err
	}
	if _, ok := f.sealed[name]; !ok {
		return nil, nil, &gh.ErrorResponse{Response: &http.Response{StatusCode: http.StatusNotFound}}
	}
	return &gh.Secret{Name: name, UpdatedAt: gh.Timestamp{Time: f.updated[name]}}, nil, nil
}

func (f *fakeSecretsAPI) CreateOrUpdateRepoSecret(_ context.Context, _, _ string, eSecret *gh.EncryptedSecret) (*gh.Response, error) {
	f.jrn.add("gh.CreateOrUpdateRepoSecret " + eSecret.Name)
	if err := f.failOn["CreateOrUpdateRepoSecret"]; err != nil {
		return nil, err
	}
	f.sealed[eSecret.Name] = eSecret
	f.updated[eSecret.Name] = time.Now()
	return nil, nil
}

func (f *fakeSecretsAPI) DeleteRepoSecret(_ context.Context, owner, repo, name string) (*gh.Response, error) {
	f.jrn.add("gh.DeleteRepoSecret " + owner + "/" + repo + " " + name)
	if err := f.failOn["DeleteRepoSecret"]; err != nil {
		return nil, err
	}
	if _, ok := f.sealed[name]; !ok {
		return nil, &gh.ErrorResponse{Response: &http.Response{StatusCode: http.StatusNotFound}}
	}
	delete(f.sealed, name)
	return nil, nil
}

// open unseals a stored secret with the fake's private key.
func (f *fakeSecretsAPI) open(t *testing.T, name string) string {
	t.Helper()
	es, ok := f.sealed[name]
	require.True(t, ok, "secret %s not stored", name)

	raw, err := base64.StdEncoding.DecodeString(es.EncryptedValue)
	require.NoError(t, err)

	plain, ok := box.OpenAnonymous(nil, raw, f.pub, f.priv)
	require.True(t, ok, "sealed box for %s did not open", name)
	return string(plain)
}

type harness struct {
	eng   *Engine
	iam   *fakeIAM
	api   *fakeSecretsAPI
	jrn   *journal
	saves int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	jrn := &journal{}
	h := &harness{
		iam: newFakeIAM(jrn),
		api: newFakeSecretsAPI(t, jrn),
		jrn: jrn,
	}
	h.eng = &Engine{
		Stack: &stack.Stack{
			User: stack.User{Name: "ci-deployer", PolicyARN: stack.DefaultPolicyARN},
			Repository: stack.Repository{
				Owner:                 "staranto",
				Name:                  "widgets",
				AccessKeyIDSecret:     stack.DefaultAccessKeyIDSecret,
				SecretAccessKeySecret: stack.DefaultSecretAccessKeySecret,
			},
		},
		Doc:     state.New(),
		IAM:     provision.New(h.iam),
		Secrets: github.NewSeeder(h.api, "staranto", "widgets"),
		Save: func(_ context.Context, _ *state.Document) error {
			h.saves++
			return nil
		},
	}
	return h
}

func (h *harness) converge(t *testing.T) {
	t.Helper()
	p, err := h.eng.Plan(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.eng.Execute(context.Background(), p))
}

func stepKinds(p *Plan) []string {
	var out []string
	for _, s := range p.Steps {
		out = append(out, s.Action.String()+" "+s.Type)
	}
	return out
}

func TestPlan_FreshStack(t *testing.T) {
	h := newHarness(t)

	p, err := h.eng.Plan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"create " + state.TypeIAMUser,
		"create " + state.TypeIAMAccessKey,
		"create " + state.TypePolicyAttachment,
		"create " + state.TypeRepositorySecret,
		"create " + state.TypeRepositorySecret,
	}, stepKinds(p))

	add, change, destroy := p.Counts()
	assert.Equal(t, 5, add)
	assert.Equal(t, 0, change)
	assert.Equal(t, 0, destroy)

	var buf bytes.Buffer
	p.Render(&buf)
	assert.Contains(t, buf.String(), "+ iam_user.ci-deployer")
	assert.Contains(t, buf.String(), "Plan: 5 to add, 0 to change, 0 to destroy.")

	// Planning never writes.
	assert.Equal(t, 0, h.saves)
	assert.Equal(t, uint64(0), h.eng.Doc.Serial)
}

func TestApply_FreshStackConverges(t *testing.T) {
	h := newHarness(t)
	h.converge(t)

	u := h.iam.users["ci-deployer"]
	require.NotNil(t, u)
	assert.Len(t, u.keys, 1)
	assert.True(t, u.policies[stack.DefaultPolicyARN])

	doc := h.eng.Doc
	assert.Len(t, doc.Resources, 5)
	assert.Equal(t, uint64(5), doc.Serial)
	assert.Equal(t, 5, h.saves)

	kid := doc.Outputs["access_key_id"].Value.(string)
	assert.Equal(t, kid, h.api.open(t, "AWS_ACCESS_KEY_ID"))
	assert.Equal(t, u.keys[kid], h.api.open(t, "AWS_SECRET_ACCESS_KEY"))

	assert.Equal(t, "ci-deployer", doc.Outputs["iam_user_name"].Value)
	assert.Equal(t, "arn:aws:iam::123456789012:user/ci-deployer", doc.Outputs["iam_user_arn"].Value)
	assert.Equal(t, "staranto/widgets", doc.Outputs["repository"].Value)
	assert.False(t, doc.Outputs["access_key_id"].Sensitive)
	assert.True(t, doc.Outputs["secret_access_key"].Sensitive)
}

func TestPlan_ConvergedStackIsEmpty(t *testing.T) {
	h := newHarness(t)
	h.converge(t)

	p, err := h.eng.Plan(context.Background())
	require.NoError(t, err)
	assert.True(t, p.Empty())

	var buf bytes.Buffer
	p.Render(&buf)
	assert.Contains(t, buf.String(), "No changes.")

	// An empty plan writes nothing and bumps nothing.
	require.NoError(t, h.eng.Execute(context.Background(), p))
	assert.Equal(t, 5, h.saves)
	assert.Equal(t, uint64(5), h.eng.Doc.Serial)
}

func TestPlan_NoRefreshTrustsState(t *testing.T) {
	h := newHarness(t)
	h.converge(t)

	// The whole world disappears, but with refresh off the plan believes
	// the document.
	h.iam.users = map[string]*fakeUser{}
	h.api.sealed = map[string]*gh.EncryptedSecret{}
	h.jrn.reset()

	h.eng.NoRefresh = true
	p, err := h.eng.Plan(context.Background())
	require.NoError(t, err)

	assert.True(t, p.Empty())
	assert.Empty(t, h.jrn.ops)
}

func TestPlan_UnmanagedUserConflict(t *testing.T) {
	h := newHarness(t)
	h.iam.seedUser("ci-deployer")

	_, err := h.eng.Plan(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in credctl state")
	assert.Contains(t, err.Error(), "fix:")

	// The conflict is caught at plan time, before anything mutates.
	assert.Equal(t, -1, h.jrn.indexOf("iam.CreateUser"))
}

func TestPlan_MissingKeyRecreatesAndReseeds(t *testing.T) {
	h := newHarness(t)
	h.converge(t)

	oldID := h.eng.Doc.Outputs["access_key_id"].Value.(string)
	delete(h.iam.users["ci-deployer"].keys, oldID)

	p, err := h.eng.Plan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"create " + state.TypeIAMAccessKey,
		"update " + state.TypeRepositorySecret,
		"update " + state.TypeRepositorySecret,
	}, stepKinds(p))
	assert.Equal(t, "missing remotely", p.Steps[0].Reason)
	assert.Equal(t, "key changed", p.Steps[1].Reason)

	require.NoError(t, h.eng.Execute(context.Background(), p))

	newID := h.eng.Doc.Outputs["access_key_id"].Value.(string)
	assert.NotEqual(t, oldID, newID)
	assert.Equal(t, newID, h.api.open(t, "AWS_ACCESS_KEY_ID"))
}

func TestPlan_PolicyChangeReplacesAttachment(t *testing.T) {
	h := newHarness(t)
	h.converge(t)

	want := "arn:aws:iam::aws:policy/AmazonS3ReadOnlyAccess"
	h.eng.Stack.User.PolicyARN = want

	p, err := h.eng.Plan(context.Background())
	require.NoError(t, err)
	require.Len(t, p.Steps, 1)
	assert.Equal(t, ActionReplace, p.Steps[0].Action)
	assert.Equal(t, stack.DefaultPolicyARN, p.Steps[0].Prior)

	require.NoError(t, h.eng.Execute(context.Background(), p))

	u := h.iam.users["ci-deployer"]
	assert.False(t, u.policies[stack.DefaultPolicyARN])
	assert.True(t, u.policies[want])
	rec := h.eng.Doc.Resource(state.TypePolicyAttachment, "ci-deployer")
	assert.Equal(t, want, rec.Attr("policy_arn"))
}

func TestPlan_RemoteSecretDriftOverwrites(t *testing.T) {
	h := newHarness(t)
	h.converge(t)

	// Someone edited the secret in the repository settings after our
	// write. The recorded pair wins.
	h.api.updated["AWS_ACCESS_KEY_ID"] = time.Now().Add(time.Hour)

	p, err := h.eng.Plan(context.Background())
	require.NoError(t, err)
	require.Len(t, p.Steps, 1)
	assert.Equal(t, ActionUpdate, p.Steps[0].Action)
	assert.Equal(t, "changed remotely", p.Steps[0].Reason)
	assert.Equal(t, recAccessKeyID, p.Steps[0].Name)

	h.jrn.reset()
	require.NoError(t, h.eng.Execute(context.Background(), p))
	assert.NotEqual(t, -1, h.jrn.indexOf("gh.CreateOrUpdateRepoSecret AWS_ACCESS_KEY_ID"))
}

func TestApply_RotateKeyRetiresOldLast(t *testing.T) {
	h := newHarness(t)
	h.converge(t)

	oldID := h.eng.Doc.Outputs["access_key_id"].Value.(string)
	h.eng.RotateKey = true

	p, err := h.eng.Plan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"replace " + state.TypeIAMAccessKey,
		"update " + state.TypeRepositorySecret,
		"update " + state.TypeRepositorySecret,
		"delete " + state.TypeIAMAccessKey,
	}, stepKinds(p))
	assert.Equal(t, oldID, p.Steps[3].Prior)

	h.jrn.reset()
	require.NoError(t, h.eng.Execute(context.Background(), p))

	// Exactly one live key, and it is not the old one.
	u := h.iam.users["ci-deployer"]
	require.Len(t, u.keys, 1)
	newID := h.eng.Doc.Outputs["access_key_id"].Value.(string)
	assert.NotEqual(t, oldID, newID)
	_, live := u.keys[newID]
	assert.True(t, live)

	// Both secrets carried the new pair before the old key died.
	assert.Equal(t, newID, h.api.open(t, "AWS_ACCESS_KEY_ID"))
	del := h.jrn.indexOf("iam.DeleteAccessKey " + oldID)
	require.NotEqual(t, -1, del)
	assert.Less(t, h.jrn.indexOf("gh.CreateOrUpdateRepoSecret AWS_ACCESS_KEY_ID"), del)
	assert.Less(t, h.jrn.indexOf("gh.CreateOrUpdateRepoSecret AWS_SECRET_ACCESS_KEY"), del)
}

func TestApply_FailureStopsAndResumes(t *testing.T) {
	h := newHarness(t)
	h.api.failOn["CreateOrUpdateRepoSecret"] = errors.New("secondary rate limit")

	p, err := h.eng.Plan(context.Background())
	require.NoError(t, err)
	require.Len(t, p.Steps, 5)

	err = h.eng.Execute(context.Background(), p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CreateOrUpdateRepoSecret")

	// Everything before the failing step is applied and saved.
	assert.Equal(t, 3, h.saves)
	assert.Equal(t, uint64(3), h.eng.Doc.Serial)
	assert.Len(t, h.eng.Doc.Resources, 3)

	// The rerun picks up at the secrets and nothing else.
	delete(h.api.failOn, "CreateOrUpdateRepoSecret")
	p, err = h.eng.Plan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"create " + state.TypeRepositorySecret,
		"create " + state.TypeRepositorySecret,
	}, stepKinds(p))

	require.NoError(t, h.eng.Execute(context.Background(), p))
	assert.Equal(t, 5, h.saves)
	assert.Len(t, h.eng.Doc.Resources, 5)
	assert.Equal(t, h.eng.Doc.Outputs["access_key_id"].Value.(string), h.api.open(t, "AWS_ACCESS_KEY_ID"))
}

func TestDestroy_ReverseOrder(t *testing.T) {
	h := newHarness(t)
	h.converge(t)

	p := h.eng.DestroyPlan()
	assert.Equal(t, []string{
		"delete " + state.TypeRepositorySecret,
		"delete " + state.TypeRepositorySecret,
		"delete " + state.TypePolicyAttachment,
		"delete " + state.TypeIAMAccessKey,
		"delete " + state.TypeIAMUser,
	}, stepKinds(p))

	add, change, destroy := p.Counts()
	assert.Equal(t, 0, add)
	assert.Equal(t, 0, change)
	assert.Equal(t, 5, destroy)

	require.NoError(t, h.eng.Execute(context.Background(), p))

	assert.Empty(t, h.iam.users)
	assert.Empty(t, h.api.sealed)
	assert.True(t, h.eng.Doc.Empty())
	assert.Empty(t, h.eng.Doc.Outputs)
	assert.Equal(t, uint64(10), h.eng.Doc.Serial)
}

func TestPlan_UntrackedLiveKeyRetired(t *testing.T) {
	h := newHarness(t)
	h.converge(t)

	h.iam.users["ci-deployer"].keys["AKIAROGUE"] = "who-knows"

	p, err := h.eng.Plan(context.Background())
	require.NoError(t, err)
	require.Len(t, p.Steps, 1)
	assert.Equal(t, ActionDelete, p.Steps[0].Action)
	assert.Equal(t, "AKIAROGUE", p.Steps[0].Prior)
	assert.Equal(t, "not tracked in state", p.Steps[0].Reason)

	require.NoError(t, h.eng.Execute(context.Background(), p))

	// The tracked key survived, in AWS and in the record.
	kid := h.eng.Doc.Outputs["access_key_id"].Value.(string)
	_, live := h.iam.users["ci-deployer"].keys[kid]
	assert.True(t, live)
	assert.Len(t, h.iam.users["ci-deployer"].keys, 1)
	assert.NotNil(t, h.eng.Doc.Resource(state.TypeIAMAccessKey, "ci-deployer"))
}

func TestPlan_SecretRenameReplaces(t *testing.T) {
	h := newHarness(t)
	h.converge(t)

	h.eng.Stack.Repository.AccessKeyIDSecret = "CI_AWS_KEY_ID"

	p, err := h.eng.Plan(context.Background())
	require.NoError(t, err)
	require.Len(t, p.Steps, 1)
	assert.Equal(t, ActionReplace, p.Steps[0].Action)
	assert.Equal(t, "AWS_ACCESS_KEY_ID", p.Steps[0].Prior)

	require.NoError(t, h.eng.Execute(context.Background(), p))

	assert.NotContains(t, h.api.sealed, "AWS_ACCESS_KEY_ID")
	kid := h.eng.Doc.Outputs["access_key_id"].Value.(string)
	assert.Equal(t, kid, h.api.open(t, "CI_AWS_KEY_ID"))
	rec := h.eng.Doc.Resource(state.TypeRepositorySecret, recAccessKeyID)
	assert.Equal(t, "CI_AWS_KEY_ID", rec.Attr("secret_name"))
}

func TestApply_RepositoryMoveRetiresOldSecrets(t *testing.T) {
	h := newHarness(t)
	h.converge(t)

	h.eng.Stack.Repository.Name = "gadgets"
	h.eng.Secrets = github.NewSeeder(h.api, "staranto", "gadgets")

	p, err := h.eng.Plan(context.Background())
	require.NoError(t, err)
	require.Len(t, p.Steps, 2)
	for _, st := range p.Steps {
		assert.Equal(t, ActionReplace, st.Action)
		assert.Equal(t, "repository changed", st.Reason)
	}
	assert.Equal(t, "AWS_ACCESS_KEY_ID", p.Steps[0].Prior)
	assert.Equal(t, "AWS_SECRET_ACCESS_KEY", p.Steps[1].Prior)

	h.jrn.reset()
	require.NoError(t, h.eng.Execute(context.Background(), p))

	// The pair seeded under the old repository is deleted there, not in the
	// new one, and each delete lands before its reseed.
	for _, name := range []string{"AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY"} {
		del := h.jrn.indexOf("gh.DeleteRepoSecret staranto/widgets " + name)
		require.NotEqual(t, -1, del, "no delete against the old repository for %s", name)
		assert.Less(t, del, h.jrn.indexOf("gh.CreateOrUpdateRepoSecret "+name))
	}

	rec := h.eng.Doc.Resource(state.TypeRepositorySecret, recAccessKeyID)
	assert.Equal(t, "staranto/gadgets", rec.Attr("repository"))
	assert.Equal(t, "staranto/gadgets", h.eng.Doc.Outputs["repository"].Value)
}

func TestApply_UserRenameReplacesChain(t *testing.T) {
	h := newHarness(t)
	h.converge(t)

	h.eng.Stack.User.Name = "ci-pusher"

	p, err := h.eng.Plan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"replace " + state.TypeIAMUser,
		"create " + state.TypeIAMAccessKey,
		"create " + state.TypePolicyAttachment,
		"update " + state.TypeRepositorySecret,
		"update " + state.TypeRepositorySecret,
	}, stepKinds(p))
	assert.Equal(t, "ci-deployer", p.Steps[0].Prior)

	require.NoError(t, h.eng.Execute(context.Background(), p))

	assert.NotContains(t, h.iam.users, "ci-deployer")
	u := h.iam.users["ci-pusher"]
	require.NotNil(t, u)
	assert.Len(t, u.keys, 1)
	assert.True(t, u.policies[stack.DefaultPolicyARN])

	doc := h.eng.Doc
	assert.Len(t, doc.Resources, 5)
	assert.Equal(t, "ci-pusher", doc.Outputs["iam_user_name"].Value)
	assert.Equal(t, doc.Outputs["access_key_id"].Value.(string), h.api.open(t, "AWS_ACCESS_KEY_ID"))
}

func TestExecute_SaveFailureStops(t *testing.T) {
	h := newHarness(t)
	h.eng.Save = func(context.Context, *state.Document) error {
		return errors.New("disk full")
	}

	p, err := h.eng.Plan(context.Background())
	require.NoError(t, err)

	err = h.eng.Execute(context.Background(), p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save state after create iam_user.ci-deployer")
}
