// Copyright © 2025 Steve Taranto staranto@gmail.com
// SPDX-License-Identifier: MIT

package s3

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/aws/aws-sdk-go-v2/aws"
	s3v2 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/hashicorp/go-tfe"
	"github.com/urfave/cli/v3"

	awsx "github.com/staranto/credctlgo/internal/aws"
	"github.com/staranto/credctlgo/internal/cacheutil"
	"github.com/staranto/credctlgo/internal/config"
	"github.com/staranto/credctlgo/internal/csv"
	"github.com/staranto/credctlgo/internal/differ"
	"github.com/staranto/credctlgo/internal/stack"
	"github.com/staranto/credctlgo/internal/state"
)

// S3Operations is the slice of the S3 API the backend needs. The concrete
// client satisfies it; tests swap in a fake.
type S3Operations interface {
	GetObject(ctx context.Context, params *s3v2.GetObjectInput, optFns ...func(*s3v2.Options)) (*s3v2.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3v2.PutObjectInput, optFns ...func(*s3v2.Options)) (*s3v2.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3v2.DeleteObjectInput, optFns ...func(*s3v2.Options)) (*s3v2.DeleteObjectOutput, error)
	ListObjectVersions(ctx context.Context, params *s3v2.ListObjectVersionsInput, optFns ...func(*s3v2.Options)) (*s3v2.ListObjectVersionsOutput, error)
}

var _ S3Operations = (*s3v2.Client)(nil)

// BackendS3 keeps the state document as one versioned object in a bucket.
// The bucket's own versioning provides the history; a sibling .tflock object
// written with a conditional put is the advisory lock.
type BackendS3 struct {
	Ctx         context.Context
	Cmd         *cli.Command
	Client      S3Operations
	EnvOverride string
	SvOverride  string

	Bucket             string
	Key                string
	Region             string
	Profile            string
	Encrypt            bool
	KMSKeyID           string
	WorkspaceKeyPrefix string
}

type Option func(*BackendS3)

// FromStack copies the stack's backend "s3" block into the backend.
func FromStack(stk *stack.Stack) Option {
	return func(be *BackendS3) {
		be.Bucket = stk.Backend.S3.Bucket
		be.Key = stk.Backend.S3.Key
		be.Region = stk.Backend.S3.Region
		be.Profile = stk.Backend.S3.Profile
		be.Encrypt = stk.Backend.S3.Encrypt
		be.KMSKeyID = stk.Backend.S3.KMSKeyID
		be.WorkspaceKeyPrefix = stk.Backend.S3.WorkspaceKeyPrefix
	}
}

// WithEnvOverride selects a workspace. Workspaces live under
// <prefix>/<env>/<key> in the bucket; the default workspace is the bare key.
func WithEnvOverride(env string) Option {
	return func(be *BackendS3) {
		be.EnvOverride = env
	}
}

// WithSvOverride pins reads to the state version named by the --sv flag.
func WithSvOverride() Option {
	return func(be *BackendS3) {
		if be.Cmd != nil {
			be.SvOverride = be.Cmd.String("sv")
		}
	}
}

// WithClient injects an S3 client. Tests use this; normal construction
// builds one from the ambient AWS config chain.
func WithClient(client S3Operations) Option {
	return func(be *BackendS3) {
		be.Client = client
	}
}

func NewBackendS3(ctx context.Context, cmd *cli.Command, opts ...Option) (*BackendS3, error) {
	be := &BackendS3{Ctx: ctx, Cmd: cmd}
	for _, opt := range opts {
		opt(be)
	}

	if be.Bucket == "" {
		return nil, errors.New("s3 backend has no bucket")
	}
	if be.Key == "" {
		be.Key = stack.DefaultStateKey
	}

	if be.Client == nil {
		var cfgOpts []awsx.Option
		if be.Profile != "" {
			cfgOpts = append(cfgOpts, awsx.WithProfile(be.Profile))
		}
		if be.Region != "" {
			cfgOpts = append(cfgOpts, awsx.WithRegion(be.Region))
		}
		cfg, err := awsx.LoadAWSConfig(ctx, cfgOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		be.Client = awsx.NewS3(cfg)
	}

	return be, nil
}

// objectKey is where the current state document lives. The workspace prefix
// follows the Terraform layout, including its env: default.
func (be *BackendS3) objectKey() string {
	if be.EnvOverride == "" {
		return be.Key
	}
	prefix := be.WorkspaceKeyPrefix
	if prefix == "" {
		prefix = "env:"
	}
	return path.Join(prefix, be.EnvOverride, be.Key)
}

func (be *BackendS3) lockKey() string {
	return be.objectKey() + ".tflock"
}

// Load reads the current document. A key that does not exist yet is a fresh,
// empty document, not an error.
func (be *BackendS3) Load(ctx context.Context) (*state.Document, error) {
	out, err := be.Client.GetObject(ctx, &s3v2.GetObjectInput{
		Bucket: aws.String(be.Bucket),
		Key:    aws.String(be.objectKey()),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			log.Debugf("no state at s3://%s/%s, starting fresh", be.Bucket, be.objectKey())
			return state.New(), nil
		}
		return nil, fmt.Errorf("failed to read state object: %w", err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read state object body: %w", err)
	}

	return state.Parse(raw)
}

// Save writes doc as a new object version. Encryption headers follow the
// stack's backend block; the bucket keeps the old versions.
func (be *BackendS3) Save(ctx context.Context, doc *state.Document) error {
	raw, err := doc.Marshal()
	if err != nil {
		return err
	}

	input := &s3v2.PutObjectInput{
		Bucket:      aws.String(be.Bucket),
		Key:         aws.String(be.objectKey()),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("application/json"),
	}

	if be.Encrypt {
		if be.KMSKeyID != "" {
			input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
			input.SSEKMSKeyId = aws.String(be.KMSKeyID)
		} else {
			input.ServerSideEncryption = types.ServerSideEncryptionAes256
		}
	}

	if _, err := be.Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to write state object: %w", err)
	}

	log.Debugf("saved serial %d to s3://%s/%s", doc.Serial, be.Bucket, be.objectKey())
	return nil
}

// Lock writes the .tflock sibling with a conditional put, so exactly one
// writer can hold it no matter how many runs race. The holder's record comes
// back inside the error when the lock is already taken.
func (be *BackendS3) Lock(ctx context.Context, info state.LockInfo) (func() error, error) {
	_, err := be.Client.PutObject(ctx, &s3v2.PutObjectInput{
		Bucket:      aws.String(be.Bucket),
		Key:         aws.String(be.lockKey()),
		Body:        bytes.NewReader(info.Marshal()),
		ContentType: aws.String("application/json"),
		IfNoneMatch: aws.String("*"),
	})
	if err != nil {
		if isLockConflict(err) {
			if out, gerr := be.Client.GetObject(ctx, &s3v2.GetObjectInput{
				Bucket: aws.String(be.Bucket),
				Key:    aws.String(be.lockKey()),
			}); gerr == nil {
				raw, rerr := io.ReadAll(out.Body)
				out.Body.Close()
				if rerr == nil {
					holder := state.ParseLockInfo(raw)
					return nil, &state.LockError{Info: &holder, Err: err}
				}
			}
			return nil, &state.LockError{Err: err}
		}
		return nil, fmt.Errorf("failed to write lock object: %w", err)
	}

	log.Debugf("locked s3://%s/%s as %s", be.Bucket, be.lockKey(), info.ID)

	return func() error {
		if _, err := be.Client.DeleteObject(ctx, &s3v2.DeleteObjectInput{
			Bucket: aws.String(be.Bucket),
			Key:    aws.String(be.lockKey()),
		}); err != nil {
			return fmt.Errorf("failed to remove lock object: %w", err)
		}
		return nil
	}, nil
}

// isLockConflict recognizes the two answers S3 gives a losing conditional
// put: the object already exists, or a concurrent conditional write is in
// flight.
func isLockConflict(err error) bool {
	var ae smithy.APIError
	if errors.As(err, &ae) {
		code := ae.ErrorCode()
		return code == "PreconditionFailed" || code == "ConditionalRequestConflict"
	}
	return false
}

func (be *BackendS3) DiffStates(ctx context.Context, cmd *cli.Command) ([][]byte, error) {
	// Fixup diffArgs
	svSpecs := []string{"CSV~1", "CSV~0"}

	diffArgs := differ.ParseDiffArgs(ctx, cmd)

	switch len(diffArgs) {
	case 0:
		// No args, so use the last two states.
	case 1:
		if strings.HasPrefix(diffArgs[0], "+") {
			stateVersionList, err := be.StateVersions()
			if err != nil {
				return nil, fmt.Errorf("failed to get state version list: %w", err)
			}

			selectedVersions := differ.SelectStateVersions(stateVersionList)

			log.Debugf("selectedVersions: %d", len(selectedVersions))

			if len(selectedVersions) == 0 {
				return nil, nil
			} else if len(selectedVersions) == 2 {
				svSpecs[0] = selectedVersions[1].ID
				svSpecs[1] = selectedVersions[0].ID
			}
		} else {
			svSpecs[0] = diffArgs[0]
		}
	case 2:
		svSpecs = diffArgs
	}

	return be.States(svSpecs[0], svSpecs[1])
}

func (be *BackendS3) State() ([]byte, error) {
	sv := be.SvOverride
	if sv == "" && be.Cmd != nil {
		sv = be.Cmd.String("sv")
	}
	states, err := be.States(sv)
	if err != nil {
		return nil, err
	}
	return states[0], nil
}

func (be *BackendS3) States(specs ...string) ([][]byte, error) {
	var results [][]byte

	candidates, err := be.StateVersions()
	if err != nil {
		return nil, err
	}
	versions, err := csv.Finder(candidates, specs...)
	if err != nil {
		return nil, err
	}
	log.Debugf("versions: %v", versions)

	// Now pound through the found versions and return each of their state bodies.
	for _, v := range versions {
		body, err := be.StateBody(v.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to get state: %w", err)
		}
		results = append(results, body)
	}

	return results, nil
}

// StateBody fetches one object version's body, by way of the local cache.
// Object versions are immutable, so a hit never needs revalidation.
func (be *BackendS3) StateBody(svID string) ([]byte, error) {
	hours, _ := config.GetInt("cache.clean", 720) //nolint:mnd
	if err := cacheutil.Purge(hours); err != nil {
		log.Warnf("failed to purge cache: %v", err)
	}

	if entry, ok := cacheutil.Read(be.cacheSubdirs(), svID); ok {
		return entry.Data, nil
	}

	out, err := be.Client.GetObject(be.Ctx, &s3v2.GetObjectInput{
		Bucket:    aws.String(be.Bucket),
		Key:       aws.String(be.objectKey()),
		VersionId: aws.String(svID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get S3 object: %w", err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read S3 object body: %w", err)
	}

	if err := cacheutil.Write(be.cacheSubdirs(), svID, data); err != nil {
		log.Warnf("error writing to cache: %v", err)
	}

	return data, nil
}

func (be *BackendS3) cacheSubdirs() []string {
	return []string{"s3", be.Bucket}
}

// StateVersions lists the object versions behind the state key and presents
// them newest first. Versions older than the newest delete marker are a
// previous life of the stack and are dropped.
func (be *BackendS3) StateVersions() ([]*tfe.StateVersion, error) {
	key := be.objectKey()

	rawVersions, err := be.Client.ListObjectVersions(be.Ctx, &s3v2.ListObjectVersionsInput{
		Bucket: aws.String(be.Bucket),
		Prefix: aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list state versions: %w", err)
	}

	var mostRecentDelete time.Time
	for _, d := range rawVersions.DeleteMarkers {
		// The prefix is literally a prefix, so the lock object rides along in
		// the listing. Only exact key matches count.
		if aws.ToString(d.Key) != key {
			log.Debugf("Throwing away delete marker %s", aws.ToString(d.Key))
			continue
		}
		if d.LastModified != nil && d.LastModified.After(mostRecentDelete) {
			mostRecentDelete = *d.LastModified
		}
	}

	combinedVersions := []*tfe.StateVersion{}
	for _, v := range rawVersions.Versions {
		if aws.ToString(v.Key) != key {
			log.Debugf("Throwing away %s", aws.ToString(v.Key))
			continue
		}
		if v.LastModified == nil || v.LastModified.Before(mostRecentDelete) {
			continue
		}

		body, err := be.StateBody(aws.ToString(v.VersionId))
		if err != nil {
			log.Errorf("failed to read version %s: %v", aws.ToString(v.VersionId), err)
			continue
		}

		var doc map[string]interface{}
		_ = json.Unmarshal(body, &doc)

		var serialInt int64
		switch s := doc["serial"].(type) {
		case float64:
			serialInt = int64(s)
		case int64:
			serialInt = s
		case int:
			serialInt = int64(s)
		}

		combinedVersions = append(combinedVersions, &tfe.StateVersion{
			ID:        aws.ToString(v.VersionId),
			CreatedAt: aws.ToTime(v.LastModified),
			Serial:    serialInt,
		})
	}

	sort.Slice(combinedVersions, func(i, j int) bool {
		return combinedVersions[i].CreatedAt.After(combinedVersions[j].CreatedAt)
	})

	// A serial of zero means the body didn't carry one, so it and anything
	// older is not ours to report.
	currentVersions := []*tfe.StateVersion{}
	for _, v := range combinedVersions {
		if v.Serial == 0 {
			break
		}
		currentVersions = append(currentVersions, v)
	}

	if be.Cmd != nil {
		limit := be.Cmd.Int("limit")
		if limit > 0 && len(currentVersions) > limit {
			currentVersions = currentVersions[:limit]
		}
	}

	return currentVersions, nil
}

func (be *BackendS3) String() string {
	return fmt.Sprintf("BackendS3: s3://%s/%s", be.Bucket, be.objectKey())
}

func (be *BackendS3) Type() string {
	return "s3"
}
