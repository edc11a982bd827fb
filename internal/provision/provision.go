// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"context"
	"errors"

	"github.com/apex/log"
	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"
)

// DefaultPolicyARN is the library-level fallback when a caller attaches with
// an empty ARN. Deliberately narrower than the stack-level default; a caller
// that wants more must say so.
const DefaultPolicyARN = "arn:aws:iam::aws:policy/AmazonS3ReadOnlyAccess"

// IAMOperations is the slice of the IAM API the provisioner needs.
type IAMOperations interface {
	CreateUser(ctx context.Context, params *iam.CreateUserInput, optFns ...func(*iam.Options)) (*iam.CreateUserOutput, error)
	GetUser(ctx context.Context, params *iam.GetUserInput, optFns ...func(*iam.Options)) (*iam.GetUserOutput, error)
	DeleteUser(ctx context.Context, params *iam.DeleteUserInput, optFns ...func(*iam.Options)) (*iam.DeleteUserOutput, error)
	CreateAccessKey(ctx context.Context, params *iam.CreateAccessKeyInput, optFns ...func(*iam.Options)) (*iam.CreateAccessKeyOutput, error)
	ListAccessKeys(ctx context.Context, params *iam.ListAccessKeysInput, optFns ...func(*iam.Options)) (*iam.ListAccessKeysOutput, error)
	DeleteAccessKey(ctx context.Context, params *iam.DeleteAccessKeyInput, optFns ...func(*iam.Options)) (*iam.DeleteAccessKeyOutput, error)
	AttachUserPolicy(ctx context.Context, params *iam.AttachUserPolicyInput, optFns ...func(*iam.Options)) (*iam.AttachUserPolicyOutput, error)
	ListAttachedUserPolicies(ctx context.Context, params *iam.ListAttachedUserPoliciesInput, optFns ...func(*iam.Options)) (*iam.ListAttachedUserPoliciesOutput, error)
	DetachUserPolicy(ctx context.Context, params *iam.DetachUserPolicyInput, optFns ...func(*iam.Options)) (*iam.DetachUserPolicyOutput, error)
}

// Provisioner wraps IAMOperations with the typed operations converge drives.
type Provisioner struct {
	iam IAMOperations
}

func New(iamAPI IAMOperations) *Provisioner {
	return &Provisioner{iam: iamAPI}
}

// LookupUser returns the user, or nil without error when it does not exist.
func (p *Provisioner) LookupUser(ctx context.Context, name string) (*types.User, error) {
	out, err := p.iam.GetUser(ctx, &iam.GetUserInput{UserName: awsv2.String(name)})
	if err != nil {
		var nse *types.NoSuchEntityException
		if errors.As(err, &nse) {
			return nil, nil
		}
		return nil, friendly("GetUser", name, "", err)
	}
	return out.User, nil
}

// CreateUser creates the IAM user.
func (p *Provisioner) CreateUser(ctx context.Context, name, path string) (*types.User, error) {
	in := &iam.CreateUserInput{UserName: awsv2.String(name)}
	if path != "" {
		in.Path = awsv2.String(path)
	}

	out, err := p.iam.CreateUser(ctx, in)
	if err != nil {
		return nil, friendly("CreateUser", name, "", err)
	}
	log.Debugf("created iam user %s (%s)", name, awsv2.ToString(out.User.Arn))
	return out.User, nil
}

// DeleteUser removes the IAM user. Keys and attachments must already be gone
// or IAM will refuse.
func (p *Provisioner) DeleteUser(ctx context.Context, name string) error {
	if _, err := p.iam.DeleteUser(ctx, &iam.DeleteUserInput{UserName: awsv2.String(name)}); err != nil {
		var nse *types.NoSuchEntityException
		if errors.As(err, &nse) {
			return nil
		}
		return friendly("DeleteUser", name, "", err)
	}
	return nil
}

// LiveAccessKeys lists the access key metadata for a user. A missing user
// yields an empty list.
func (p *Provisioner) LiveAccessKeys(ctx context.Context, user string) ([]types.AccessKeyMetadata, error) {
	out, err := p.iam.ListAccessKeys(ctx, &iam.ListAccessKeysInput{UserName: awsv2.String(user)})
	if err != nil {
		var nse *types.NoSuchEntityException
		if errors.As(err, &nse) {
			return nil, nil
		}
		return nil, friendly("ListAccessKeys", user, "", err)
	}
	return out.AccessKeyMetadata, nil
}

// CreateAccessKey mints a key pair for the user. The secret in the result is
// the only copy AWS will ever hand out.
func (p *Provisioner) CreateAccessKey(ctx context.Context, user string) (*types.AccessKey, error) {
	out, err := p.iam.CreateAccessKey(ctx, &iam.CreateAccessKeyInput{UserName: awsv2.String(user)})
	if err != nil {
		return nil, friendly("CreateAccessKey", user, "", err)
	}
	log.Debugf("created access key %s for %s", awsv2.ToString(out.AccessKey.AccessKeyId), user)
	return out.AccessKey, nil
}

// DeleteAccessKey removes one key pair.
func (p *Provisioner) DeleteAccessKey(ctx context.Context, user, accessKeyID string) error {
	_, err := p.iam.DeleteAccessKey(ctx, &iam.DeleteAccessKeyInput{
		UserName:    awsv2.String(user),
		AccessKeyId: awsv2.String(accessKeyID),
	})
	if err != nil {
		var nse *types.NoSuchEntityException
		if errors.As(err, &nse) {
			return nil
		}
		return friendly("DeleteAccessKey", user, accessKeyID, err)
	}
	return nil
}

// AttachedPolicyARNs lists the managed policy ARNs attached to the user.
func (p *Provisioner) AttachedPolicyARNs(ctx context.Context, user string) ([]string, error) {
	out, err := p.iam.ListAttachedUserPolicies(ctx, &iam.ListAttachedUserPoliciesInput{UserName: awsv2.String(user)})
	if err != nil {
		var nse *types.NoSuchEntityException
		if errors.As(err, &nse) {
			return nil, nil
		}
		return nil, friendly("ListAttachedUserPolicies", user, "", err)
	}

	arns := make([]string, 0, len(out.AttachedPolicies))
	for _, p := range out.AttachedPolicies {
		arns = append(arns, awsv2.ToString(p.PolicyArn))
	}
	return arns, nil
}

// AttachPolicy attaches a managed policy to the user. An empty ARN falls back
// to DefaultPolicyARN.
func (p *Provisioner) AttachPolicy(ctx context.Context, user, policyARN string) (string, error) {
	if policyARN == "" {
		policyARN = DefaultPolicyARN
	}

	_, err := p.iam.AttachUserPolicy(ctx, &iam.AttachUserPolicyInput{
		UserName:  awsv2.String(user),
		PolicyArn: awsv2.String(policyARN),
	})
	if err != nil {
		return "", friendly("AttachUserPolicy", user, policyARN, err)
	}
	log.Debugf("attached %s to %s", policyARN, user)
	return policyARN, nil
}

// DetachPolicy removes a managed policy from the user.
func (p *Provisioner) DetachPolicy(ctx context.Context, user, policyARN string) error {
	_, err := p.iam.DetachUserPolicy(ctx, &iam.DetachUserPolicyInput{
		UserName:  awsv2.String(user),
		PolicyArn: awsv2.String(policyARN),
	})
	if err != nil {
		var nse *types.NoSuchEntityException
		if errors.As(err, &nse) {
			return nil
		}
		return friendly("DetachUserPolicy", user, policyARN, err)
	}
	return nil
}

// IAMClient implements IAMOperations over a real iam.Client.
type IAMClient struct {
	client *iam.Client
}

// NewIAMClient creates a new IAMClient with the given AWS config client.
func NewIAMClient(client *iam.Client) *IAMClient {
	return &IAMClient{client: client}
}

func (c *IAMClient) CreateUser(ctx context.Context, params *iam.CreateUserInput, optFns ...func(*iam.Options)) (*iam.CreateUserOutput, error) {
	return c.client.CreateUser(ctx, params, optFns...)
}

func (c *IAMClient) GetUser(ctx context.Context, params *iam.GetUserInput, optFns ...func(*iam.Options)) (*iam.GetUserOutput, error) {
	return c.client.GetUser(ctx, params, optFns...)
}

func (c *IAMClient) DeleteUser(ctx context.Context, params *iam.DeleteUserInput, optFns ...func(*iam.Options)) (*iam.DeleteUserOutput, error) {
	return c.client.DeleteUser(ctx, params, optFns...)
}

func (c *IAMClient) CreateAccessKey(ctx context.Context, params *iam.CreateAccessKeyInput, optFns ...func(*iam.Options)) (*iam.CreateAccessKeyOutput, error) {
	return c.client.CreateAccessKey(ctx, params, optFns...)
}

func (c *IAMClient) ListAccessKeys(ctx context.Context, params *iam.ListAccessKeysInput, optFns ...func(*iam.Options)) (*iam.ListAccessKeysOutput, error) {
	return c.client.ListAccessKeys(ctx, params, optFns...)
}

func (c *IAMClient) DeleteAccessKey(ctx context.Context, params *iam.DeleteAccessKeyInput, optFns ...func(*iam.Options)) (*iam.DeleteAccessKeyOutput, error) {
	return c.client.DeleteAccessKey(ctx, params, optFns...)
}

func (c *IAMClient) AttachUserPolicy(ctx context.Context, params *iam.AttachUserPolicyInput, optFns ...func(*iam.Options)) (*iam.AttachUserPolicyOutput, error) {
	return c.client.AttachUserPolicy(ctx, params, optFns...)
}

func (c *IAMClient) ListAttachedUserPolicies(ctx context.Context, params *iam.ListAttachedUserPoliciesInput, optFns ...func(*iam.Options)) (*iam.ListAttachedUserPoliciesOutput, error) {
	return c.client.ListAttachedUserPolicies(ctx, params, optFns...)
}

func (c *IAMClient) DetachUserPolicy(ctx context.Context, params *iam.DetachUserPolicyInput, optFns ...func(*iam.Options)) (*iam.DetachUserPolicyOutput, error) {
	return c.client.DetachUserPolicy(ctx, params, optFns...)
}
