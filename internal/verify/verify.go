// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package verify

import (
	"context"
	"errors"
	"fmt"

	"github.com/apex/log"
	awsv2 "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	awsx "github.com/staranto/credctlgo/internal/aws"
	"github.com/staranto/credctlgo/internal/state"
)

// STSOperations is the one STS call the preflight needs.
type STSOperations interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// S3Operations is the slice of the S3 API the listing check needs.
type S3Operations interface {
	ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

var _ STSOperations = (*sts.Client)(nil)
var _ S3Operations = (*s3.Client)(nil)

// Verifier runs the two-call credential check.
type Verifier struct {
	STS STSOperations
	S3  S3Operations
}

// New builds a Verifier over one AWS config, so both calls are signed by
// the same key pair.
func New(cfg awsv2.Config) *Verifier {
	return &Verifier{STS: awsx.NewSTS(cfg), S3: awsx.NewS3(cfg)}
}

// Result reports what the key pair could see.
type Result struct {
	Account string
	ARN     string
	Bucket  string
	Buckets []string
	Objects []string
}

// Run checks the credentials. GetCallerIdentity goes first so a bad pair
// fails with an identity error instead of an opaque listing one. With an
// empty bucket the check lists the account's buckets, mirroring a bare
// aws s3 ls; otherwise it lists objects in that one bucket.
func (v *Verifier) Run(ctx context.Context, bucket string) (*Result, error) {
	id, err := v.STS.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, friendly("GetCallerIdentity", bucket, err)
	}

	res := &Result{
		Account: awsv2.ToString(id.Account),
		ARN:     awsv2.ToString(id.Arn),
		Bucket:  bucket,
	}
	log.Infof("caller identity %s", res.ARN)

	if bucket == "" {
		out, err := v.S3.ListBuckets(ctx, &s3.ListBucketsInput{})
		if err != nil {
			return nil, friendly("ListBuckets", bucket, err)
		}
		for _, b := range out.Buckets {
			res.Buckets = append(res.Buckets, awsv2.ToString(b.Name))
		}
		log.Infof("listed %d buckets", len(res.Buckets))
		return res, nil
	}

	out, err := v.S3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{Bucket: awsv2.String(bucket)})
	if err != nil {
		return nil, friendly("ListObjectsV2", bucket, err)
	}
	for _, o := range out.Contents {
		res.Objects = append(res.Objects, awsv2.ToString(o.Key))
	}
	log.Infof("listed %d objects in %s", len(res.Objects), bucket)
	return res, nil
}

// CredentialsFromState digs the stored key pair out of the state outputs.
func CredentialsFromState(doc *state.Document) (accessKeyID, secretAccessKey string, err error) {
	accessKeyID = outputString(doc, "access_key_id")
	secretAccessKey = outputString(doc, "secret_access_key")
	if accessKeyID == "" || secretAccessKey == "" {
		return "", "", errors.New("state holds no key pair\n  fix: run credctl apply first, or check the ambient environment instead with --source env")
	}
	return accessKeyID, secretAccessKey, nil
}

func outputString(doc *state.Document, name string) string {
	o, ok := doc.Outputs[name]
	if !ok {
		return ""
	}
	s, _ := o.Value.(string)
	return s
}

// friendly rewrites the usual verification failures into something
// actionable. Everything else passes through with the operation attached.
func friendly(op, bucket string, err error) error {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "InvalidClientTokenId", "SignatureDoesNotMatch":
			return fmt.Errorf("failed to %s: AWS rejected the key pair\n  fix: a key minted moments ago can still be propagating through IAM, so wait a few seconds and rerun; if it keeps failing, compare the pair against credctl output: %w", op, err)
		case "ExpiredToken", "ExpiredTokenException":
			return fmt.Errorf("failed to %s: the session credentials have expired\n  fix: refresh the ambient session or verify the stored pair without --source env: %w", op, err)
		case "AccessDenied", "AccessDeniedException":
			return fmt.Errorf("failed to %s: the key pair works but its policy does not allow the listing\n  fix: attach a policy that grants the call, or point --bucket at one the user can read: %w", op, err)
		case "NoSuchBucket":
			return fmt.Errorf("failed to %s: bucket %s does not exist: %w", op, bucket, err)
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
