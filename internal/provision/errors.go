// Copyright (c) 2025 Steve Taranto <staranto@gmail.com>.
// SPDX-License-Identifier: Apache-2.0

package provision

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/smithy-go"
)

// OpError wraps an IAM failure with the operation, the subject user, and a
// fix hint when the cause is recognizable.
type OpError struct {
	Op       string
	User     string
	Resource string
	Fix      string
	Err      error
}

func (e *OpError) Error() string {
	msg := fmt.Sprintf("iam %s failed for user %s", e.Op, e.User)
	if e.Resource != "" {
		msg += " (" + e.Resource + ")"
	}
	msg += ": " + e.Err.Error()
	if e.Fix != "" {
		msg += "\n  fix: " + e.Fix
	}
	return msg
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func friendly(op, user, resource string, err error) error {
	oe := &OpError{Op: op, User: user, Resource: resource, Err: err}

	var eae *types.EntityAlreadyExistsException
	var lee *types.LimitExceededException
	var nse *types.NoSuchEntityException
	var dce *types.DeleteConflictException

	switch {
	case errors.As(err, &eae):
		oe.Fix = fmt.Sprintf("user %s already exists outside of credctl state; delete it or pick another name", user)
	case errors.As(err, &lee):
		oe.Fix = "the user already carries the maximum number of access keys; rotate with apply --rotate-key or delete one manually"
	case errors.As(err, &nse):
		oe.Fix = "the referenced user or key no longer exists; re-run plan to refresh, then apply"
	case errors.As(err, &dce):
		oe.Fix = "the user still has keys or attachments outside of credctl state; remove them, then destroy again"
	default:
		var ae smithy.APIError
		if errors.As(err, &ae) {
			switch ae.ErrorCode() {
			case "AccessDenied", "AccessDeniedException":
				oe.Fix = fmt.Sprintf("the identity running credctl lacks iam:%s; grant it IAM admin on this user path", op)
			case "InvalidClientTokenId", "ExpiredToken", "ExpiredTokenException":
				oe.Fix = "the AWS credentials running credctl are invalid or expired; refresh your session"
			}
		}
	}

	return oe
}
