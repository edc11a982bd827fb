// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package converge

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/apex/log"
	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	gh "github.com/google/go-github/v56/github"

	"github.com/staranto/credctlgo/internal/github"
	"github.com/staranto/credctlgo/internal/naming"
	"github.com/staranto/credctlgo/internal/provision"
	"github.com/staranto/credctlgo/internal/stack"
	"github.com/staranto/credctlgo/internal/state"
)

// Logical state names for the two secret records. The records keep stable
// names so renaming a repository secret reads as a change to one resource,
// not a new resource next to an orphan.
const (
	recAccessKeyID     = "access_key_id"
	recSecretAccessKey = "secret_access_key"
)

// SaveFunc persists the document after each applied step. The engine never
// talks to a backend directly; the caller decides where state lives.
type SaveFunc func(context.Context, *state.Document) error

// Engine plans and applies the difference between the stack definition and
// the recorded state.
type Engine struct {
	Stack     *stack.Stack
	Doc       *state.Document
	IAM       *provision.Provisioner
	Secrets   *github.Seeder
	Save      SaveFunc
	RotateKey bool
	NoRefresh bool
}

// observed is what refresh saw in the real world. live distinguishes "we
// looked and found nothing" from "we never looked".
type observed struct {
	live     bool
	user     bool
	keys     []string
	policies map[string]bool
	secrets  map[string]*gh.Secret
}

// Plan computes the steps that bring the world in line with the stack.
// With refresh on (the default) it first asks AWS and GitHub what actually
// exists; with NoRefresh it trusts the state document as-is.
func (e *Engine) Plan(ctx context.Context) (*Plan, error) {
	if naming.RedundantTypeToken(state.TypeIAMUser, e.Stack.User.Name) {
		log.Warnf("iam user name %q repeats its resource type; a role name like ci-deployer reads better", e.Stack.User.Name)
	}

	obs := &observed{}
	if !e.NoRefresh {
		var err error
		if obs, err = e.refresh(ctx); err != nil {
			return nil, err
		}
	}
	return e.diff(obs)
}

// refresh reads back the resources the stack cares about: the user, its
// live keys and attached policies, and the metadata of the two repository
// secrets.
func (e *Engine) refresh(ctx context.Context) (*observed, error) {
	obs := &observed{
		live:     true,
		policies: map[string]bool{},
		secrets:  map[string]*gh.Secret{},
	}

	// Query the user the state tracks when there is one, the desired name
	// otherwise. The latter doubles as the collision probe for users that
	// exist outside the state.
	name := e.Stack.User.Name
	if st := e.singleton(state.TypeIAMUser); st != nil {
		name = st.Attr("user_name")
	}

	u, err := e.IAM.LookupUser(ctx, name)
	if err != nil {
		return nil, err
	}
	obs.user = u != nil

	if u != nil {
		metas, err := e.IAM.LiveAccessKeys(ctx, name)
		if err != nil {
			return nil, err
		}
		for _, m := range metas {
			obs.keys = append(obs.keys, awsv2.ToString(m.AccessKeyId))
		}

		arns, err := e.IAM.AttachedPolicyARNs(ctx, name)
		if err != nil {
			return nil, err
		}
		for _, a := range arns {
			obs.policies[a] = true
		}
	}

	for _, n := range []string{e.Stack.Repository.AccessKeyIDSecret, e.Stack.Repository.SecretAccessKeySecret} {
		s, err := e.Secrets.Get(ctx, n)
		if err != nil {
			return nil, err
		}
		if s != nil {
			obs.secrets[n] = s
		}
	}

	log.Debugf("refreshed %s: user=%t keys=%d policies=%d secrets=%d",
		name, obs.user, len(obs.keys), len(obs.policies), len(obs.secrets))
	return obs, nil
}

func (e *Engine) diff(obs *observed) (*Plan, error) {
	user := e.Stack.User
	repo := e.Stack.Repository
	plan := &Plan{}

	stUser := e.singleton(state.TypeIAMUser)
	stKey := e.singleton(state.TypeIAMAccessKey)
	stAtt := e.singleton(state.TypePolicyAttachment)

	// A user we did not create is never adopted.
	if stUser == nil && obs.live && obs.user {
		return nil, fmt.Errorf("iam user %s already exists but is not in credctl state\n  fix: delete the user, pick another name in %s, or leave it to whatever tool manages it", user.Name, stack.StackFile)
	}

	userAction, userReason := ActionNoOp, ""
	switch {
	case stUser == nil:
		userAction = ActionCreate
	case stUser.Attr("user_name") != user.Name || stUser.Attr("path") != user.Path:
		userAction, userReason = ActionReplace, "definition changed"
	case obs.live && !obs.user:
		userAction, userReason = ActionCreate, "missing remotely"
	}
	if userAction != ActionNoOp {
		st := Step{Action: userAction, Type: state.TypeIAMUser, Name: user.Name, Reason: userReason}
		if userAction == ActionReplace {
			st.Prior = stUser.Attr("user_name")
		}
		plan.Steps = append(plan.Steps, st)
	}

	// Live keys nobody tracks get retired before anything new is minted,
	// or the two-key IAM limit gets in the way. A user replacement tears
	// its keys down itself.
	if obs.live && userAction == ActionNoOp {
		for _, id := range obs.keys {
			if id != stKey.Attr("id") {
				plan.Steps = append(plan.Steps, Step{
					Action: ActionDelete,
					Type:   state.TypeIAMAccessKey,
					Name:   id,
					Reason: "not tracked in state",
					Prior:  id,
				})
			}
		}
	}

	keyAction, keyReason := ActionNoOp, ""
	switch {
	case stKey == nil:
		keyAction = ActionCreate
	case userAction != ActionNoOp:
		keyAction, keyReason = ActionCreate, "user replaced"
	case obs.live && !slices.Contains(obs.keys, stKey.Attr("id")):
		keyAction, keyReason = ActionCreate, "missing remotely"
	case e.RotateKey:
		keyAction, keyReason = ActionReplace, "rotation requested"
	}
	if keyAction != ActionNoOp {
		st := Step{Action: keyAction, Type: state.TypeIAMAccessKey, Name: user.Name, Reason: keyReason}
		if keyAction == ActionReplace {
			st.Prior = stKey.Attr("id")
		}
		plan.Steps = append(plan.Steps, st)
	}

	attAction, attReason := ActionNoOp, ""
	switch {
	case stAtt == nil:
		attAction = ActionCreate
	case userAction != ActionNoOp:
		attAction, attReason = ActionCreate, "user replaced"
	case stAtt.Attr("policy_arn") != user.PolicyARN:
		attAction, attReason = ActionReplace, "policy changed"
	case obs.live && !obs.policies[user.PolicyARN]:
		attAction, attReason = ActionCreate, "missing remotely"
	}
	if attAction != ActionNoOp {
		st := Step{Action: attAction, Type: state.TypePolicyAttachment, Name: user.Name, Reason: attReason}
		if attAction == ActionReplace {
			st.Prior = stAtt.Attr("policy_arn")
		}
		plan.Steps = append(plan.Steps, st)
	}

	for _, sp := range []struct{ logical, want string }{
		{recAccessKeyID, repo.AccessKeyIDSecret},
		{recSecretAccessKey, repo.SecretAccessKeySecret},
	} {
		rec := e.Doc.Resource(state.TypeRepositorySecret, sp.logical)
		action, reason, prior := ActionNoOp, "", ""
		switch {
		case rec == nil:
			action = ActionCreate
		case rec.Attr("repository") != repo.Slug():
			action, reason, prior = ActionReplace, "repository changed", rec.Attr("secret_name")
		case rec.Attr("secret_name") != sp.want:
			action, reason, prior = ActionReplace, "renamed", rec.Attr("secret_name")
		case keyAction != ActionNoOp:
			action, reason = ActionUpdate, "key changed"
		case obs.live && obs.secrets[sp.want] == nil:
			action, reason = ActionCreate, "missing remotely"
		case obs.live && staleSecret(rec, obs.secrets[sp.want]):
			action, reason = ActionUpdate, "changed remotely"
		}
		if action != ActionNoOp {
			plan.Steps = append(plan.Steps, Step{
				Action: action,
				Type:   state.TypeRepositorySecret,
				Name:   sp.logical,
				Reason: reason,
				Prior:  prior,
			})
		}
	}

	// A rotated key dies only after the secrets carry its replacement.
	if keyAction == ActionReplace {
		plan.Steps = append(plan.Steps, Step{
			Action: ActionDelete,
			Type:   state.TypeIAMAccessKey,
			Name:   user.Name,
			Reason: "retire rotated key",
			Prior:  stKey.Attr("id"),
		})
	}

	return plan, nil
}

// DestroyPlan lists every tracked resource for deletion, dependents first.
// It works off the state document alone; deleting what is already gone is
// handled at apply time.
func (e *Engine) DestroyPlan() *Plan {
	plan := &Plan{}

	for _, logical := range []string{recAccessKeyID, recSecretAccessKey} {
		if rec := e.Doc.Resource(state.TypeRepositorySecret, logical); rec != nil {
			plan.Steps = append(plan.Steps, Step{
				Action: ActionDelete,
				Type:   state.TypeRepositorySecret,
				Name:   logical,
				Prior:  rec.Attr("secret_name"),
			})
		}
	}
	if stAtt := e.singleton(state.TypePolicyAttachment); stAtt != nil {
		plan.Steps = append(plan.Steps, Step{
			Action: ActionDelete,
			Type:   state.TypePolicyAttachment,
			Name:   stAtt.Name,
			Prior:  stAtt.Attr("policy_arn"),
		})
	}
	if stKey := e.singleton(state.TypeIAMAccessKey); stKey != nil {
		plan.Steps = append(plan.Steps, Step{
			Action: ActionDelete,
			Type:   state.TypeIAMAccessKey,
			Name:   stKey.Name,
			Prior:  stKey.Attr("id"),
		})
	}
	if stUser := e.singleton(state.TypeIAMUser); stUser != nil {
		plan.Steps = append(plan.Steps, Step{
			Action: ActionDelete,
			Type:   state.TypeIAMUser,
			Name:   stUser.Name,
		})
	}

	return plan
}

// singleton returns the one managed resource of a type. The stack defines
// at most one of each.
func (e *Engine) singleton(typ string) *state.Resource {
	rs := e.Doc.ResourcesOfType(typ)
	if len(rs) == 0 {
		return nil
	}
	return rs[0]
}

// staleSecret reports whether the remote copy changed after we last wrote
// it. An unparseable written_at counts as stale.
func staleSecret(rec *state.Resource, remote *gh.Secret) bool {
	wrote, err := time.Parse(time.RFC3339, rec.Attr("written_at"))
	if err != nil {
		return true
	}
	return remote.UpdatedAt.After(wrote)
}
