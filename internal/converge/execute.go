// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package converge

import (
	"context"
	"fmt"
	"time"

	"github.com/apex/log"
	awsv2 "github.com/aws/aws-sdk-go-v2/aws"

	"github.com/staranto/credctlgo/internal/sensitive"
	"github.com/staranto/credctlgo/internal/stack"
	"github.com/staranto/credctlgo/internal/state"
)

// Execute applies the plan in order. The first failure stops the run. The
// document is saved after every applied step, so a rerun picks up where
// this one stopped instead of starting over. An empty plan saves nothing.
func (e *Engine) Execute(ctx context.Context, p *Plan) error {
	for _, st := range p.Steps {
		if st.Action == ActionNoOp {
			continue
		}

		log.Infof("%s %s", st.Action, st.Address())
		if err := e.apply(ctx, st); err != nil {
			return err
		}

		e.Doc.Serial++
		if err := e.Save(ctx, e.Doc); err != nil {
			return fmt.Errorf("save state after %s %s: %w", st.Action, st.Address(), err)
		}
	}
	return nil
}

func (e *Engine) apply(ctx context.Context, st Step) error {
	switch st.Type {
	case state.TypeIAMUser:
		return e.applyUser(ctx, st)
	case state.TypeIAMAccessKey:
		return e.applyKey(ctx, st)
	case state.TypePolicyAttachment:
		return e.applyAttachment(ctx, st)
	case state.TypeRepositorySecret:
		return e.applySecret(ctx, st)
	}
	return fmt.Errorf("no handler for %s", st.Address())
}

func (e *Engine) applyUser(ctx context.Context, st Step) error {
	switch st.Action {
	case ActionDelete:
		if err := e.IAM.DeleteUser(ctx, st.Name); err != nil {
			return err
		}
		e.Doc.RemoveResource(state.TypeIAMUser, st.Name)
		if e.Doc.Empty() {
			e.Doc.Outputs = map[string]state.Output{}
		}
		return nil
	case ActionReplace:
		if err := e.retireUser(ctx, st.Prior); err != nil {
			return err
		}
	}
	return e.createUser(ctx)
}

func (e *Engine) createUser(ctx context.Context) error {
	user := e.Stack.User
	u, err := e.IAM.CreateUser(ctx, user.Name, user.Path)
	if err != nil {
		return err
	}

	attrs := map[string]interface{}{
		"user_name": user.Name,
		"path":      user.Path,
		"arn":       awsv2.ToString(u.Arn),
		"unique_id": awsv2.ToString(u.UserId),
	}
	if u.CreateDate != nil {
		attrs["create_date"] = u.CreateDate.UTC().Format(time.RFC3339)
	}

	e.Doc.SetResource(state.Resource{
		Type:      state.TypeIAMUser,
		Name:      user.Name,
		Provider:  state.ProviderAWS,
		Instances: state.SingleInstance(attrs),
	})
	e.Doc.SetOutput("iam_user_name", user.Name, "string", false)
	e.Doc.SetOutput("iam_user_arn", awsv2.ToString(u.Arn), "string", false)
	return nil
}

// retireUser tears down the outgoing user. Attachments and keys must be
// gone before IAM accepts the user delete.
func (e *Engine) retireUser(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}

	arns, err := e.IAM.AttachedPolicyARNs(ctx, name)
	if err != nil {
		return err
	}
	for _, arn := range arns {
		if err := e.IAM.DetachPolicy(ctx, name, arn); err != nil {
			return err
		}
	}

	metas, err := e.IAM.LiveAccessKeys(ctx, name)
	if err != nil {
		return err
	}
	for _, m := range metas {
		if err := e.IAM.DeleteAccessKey(ctx, name, awsv2.ToString(m.AccessKeyId)); err != nil {
			return err
		}
	}

	if err := e.IAM.DeleteUser(ctx, name); err != nil {
		return err
	}

	e.Doc.RemoveResource(state.TypeIAMUser, name)
	e.Doc.RemoveResource(state.TypeIAMAccessKey, name)
	e.Doc.RemoveResource(state.TypePolicyAttachment, name)
	return nil
}

func (e *Engine) applyKey(ctx context.Context, st Step) error {
	if st.Action == ActionDelete {
		rec := e.singleton(state.TypeIAMAccessKey)
		owner := e.Stack.User.Name
		if rec != nil && rec.Attr("user") != "" {
			owner = rec.Attr("user")
		}

		if err := e.IAM.DeleteAccessKey(ctx, owner, st.Prior); err != nil {
			return err
		}

		// Drop the record only when it describes the key that just died.
		// After a rotation it already describes the replacement.
		if rec != nil && rec.Attr("id") == st.Prior {
			e.Doc.RemoveResource(state.TypeIAMAccessKey, rec.Name)
		}
		return nil
	}

	user := e.Stack.User.Name
	ak, err := e.IAM.CreateAccessKey(ctx, user)
	if err != nil {
		return err
	}

	attrs := map[string]interface{}{
		"id":                awsv2.ToString(ak.AccessKeyId),
		"user":              user,
		"secret_access_key": awsv2.ToString(ak.SecretAccessKey),
		"status":            string(ak.Status),
	}
	if ak.CreateDate != nil {
		attrs["create_date"] = ak.CreateDate.UTC().Format(time.RFC3339)
	}

	e.Doc.SetResource(state.Resource{
		Type:      state.TypeIAMAccessKey,
		Name:      user,
		Provider:  state.ProviderAWS,
		Instances: state.SingleInstance(attrs),
	})
	e.Doc.SetOutput("access_key_id", awsv2.ToString(ak.AccessKeyId), "string", false)
	e.Doc.SetOutput("secret_access_key", awsv2.ToString(ak.SecretAccessKey), "string", true)
	return nil
}

func (e *Engine) applyAttachment(ctx context.Context, st Step) error {
	user := e.Stack.User.Name

	if st.Action == ActionDelete {
		rec := e.singleton(state.TypePolicyAttachment)
		owner := user
		if rec != nil && rec.Attr("user") != "" {
			owner = rec.Attr("user")
		}

		if err := e.IAM.DetachPolicy(ctx, owner, st.Prior); err != nil {
			return err
		}
		e.Doc.RemoveResource(state.TypePolicyAttachment, st.Name)
		return nil
	}

	if st.Action == ActionReplace && st.Prior != "" {
		if err := e.IAM.DetachPolicy(ctx, user, st.Prior); err != nil {
			return err
		}
	}

	arn, err := e.IAM.AttachPolicy(ctx, user, e.Stack.User.PolicyARN)
	if err != nil {
		return err
	}

	e.Doc.SetResource(state.Resource{
		Type:     state.TypePolicyAttachment,
		Name:     user,
		Provider: state.ProviderAWS,
		Instances: state.SingleInstance(map[string]interface{}{
			"user":       user,
			"policy_arn": arn,
		}),
	})
	return nil
}

func (e *Engine) applySecret(ctx context.Context, st Step) error {
	repo := e.Stack.Repository

	if st.Action == ActionDelete {
		name := st.Prior
		if name == "" {
			name = secretNameFor(repo, st.Name)
		}
		if err := e.Secrets.Delete(ctx, name); err != nil {
			return err
		}
		e.Doc.RemoveResource(state.TypeRepositorySecret, st.Name)
		return nil
	}

	want := secretNameFor(repo, st.Name)

	// A replace retires the old secret before the new one lands. When the
	// stack moved to another repository the old secret lives there, so the
	// delete goes against the repo the state recorded.
	if st.Action == ActionReplace && st.Prior != "" {
		rec := e.Doc.Resource(state.TypeRepositorySecret, st.Name)
		if prevRepo := rec.Attr("repository"); prevRepo != "" && prevRepo != repo.Slug() {
			if err := e.Secrets.DeleteIn(ctx, prevRepo, st.Prior); err != nil {
				return err
			}
		} else if st.Prior != want {
			if err := e.Secrets.Delete(ctx, st.Prior); err != nil {
				return err
			}
		}
	}

	key := e.singleton(state.TypeIAMAccessKey)
	var value string
	switch st.Name {
	case recAccessKeyID:
		value = key.Attr("id")
	case recSecretAccessKey:
		value = key.Attr("secret_access_key")
	}
	if value == "" {
		return fmt.Errorf("state holds no key material for secret %s; apply again once the access key exists", want)
	}

	if err := e.Secrets.Put(ctx, want, sensitive.String(value)); err != nil {
		return err
	}

	e.Doc.SetResource(state.Resource{
		Type:     state.TypeRepositorySecret,
		Name:     st.Name,
		Provider: state.ProviderGitHub,
		Instances: state.SingleInstance(map[string]interface{}{
			"repository":  repo.Slug(),
			"secret_name": want,
			"written_at":  time.Now().UTC().Format(time.RFC3339),
		}),
	})
	e.Doc.SetOutput("repository", repo.Slug(), "string", false)
	return nil
}

func secretNameFor(repo stack.Repository, logical string) string {
	if logical == recAccessKeyID {
		return repo.AccessKeyIDSecret
	}
	return repo.SecretAccessKeySecret
}
