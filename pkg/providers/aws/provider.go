// Package aws provides the IAM read client used to build out users.
package aws

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/smithy-go"

	"github.com/anirudhbiyani/cloudaux/pkg/orchestration"
)

// IAMClient abstracts the IAM read operations a user build-out needs.
// Results are plain documents with camelized keys and ISO8601 dates.
type IAMClient interface {
	// User operations
	GetUser(ctx context.Context, userName string) (orchestration.Document, error)
	ListAccessKeys(ctx context.Context, userName string) ([]orchestration.Document, error)
	GetLoginProfile(ctx context.Context, userName string) (orchestration.Document, error)
	ListMFADevices(ctx context.Context, userName string) ([]orchestration.Document, error)
	ListSigningCertificates(ctx context.Context, userName string) ([]orchestration.Document, error)

	// Policy operations
	ListInlinePolicies(ctx context.Context, userName string) (orchestration.Document, error)
	ListAttachedPolicies(ctx context.Context, userName string) ([]orchestration.Document, error)

	// Bulk export
	GetAccountAuthorizationDetails(ctx context.Context) ([]UserDetail, error)
}

// UserDetail is one user from the account authorization details export.
// Optional fields may be zero.
type UserDetail struct {
	Arn             string
	CreateDate      time.Time
	GroupList       []string
	InlinePolicies  orchestration.Document
	ManagedPolicies []orchestration.Document
	Path            string
	UserID          string
	UserName        string
}

// ClientFactory returns an IAMClient for a connection.
type ClientFactory interface {
	Client(ctx context.Context, conn *ConnectionParams) (IAMClient, error)
}

// ClientFactoryFunc adapts a function to ClientFactory.
type ClientFactoryFunc func(ctx context.Context, conn *ConnectionParams) (IAMClient, error)

// Client implements ClientFactory.
func (f ClientFactoryFunc) Client(ctx context.Context, conn *ConnectionParams) (IAMClient, error) {
	return f(ctx, conn)
}

// StaticFactory returns the same client for every connection.
func StaticFactory(client IAMClient) ClientFactory {
	return ClientFactoryFunc(func(context.Context, *ConnectionParams) (IAMClient, error) {
		return client, nil
	})
}

// ErrorCode returns the AWS API error code carried by err, or "" when err
// did not come from the API.
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func isNotFoundError(err error) bool {
	var nse *types.NoSuchEntityException
	return errors.As(err, &nse)
}
