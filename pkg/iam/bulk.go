package iam

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anirudhbiyani/cloudaux/pkg/orchestration"
	"github.com/anirudhbiyani/cloudaux/pkg/providers/aws"
)

// DefaultUserConcurrency bounds how many users GetAllUsers builds at once.
const DefaultUserConcurrency = 8

// UserError is one user's failure during GetAllUsers.
type UserError struct {
	UserName string
	Err      error
}

// Error implements the error interface.
func (e *UserError) Error() string {
	return fmt.Sprintf("user %s: %v", e.UserName, e.Err)
}

// Unwrap returns the provider error.
func (e *UserError) Unwrap() error {
	return e.Err
}

// BulkError collects the users GetAllUsers could not build when partial
// results are enabled.
type BulkError struct {
	Failures []*UserError
	Total    int
}

// Error implements the error interface.
func (e *BulkError) Error() string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.UserName
	}
	msg := fmt.Sprintf("%d of %d users failed (%s)", len(e.Failures), e.Total, strings.Join(names, ", "))
	if len(e.Failures) > 0 {
		msg += ": " + e.Failures[0].Err.Error()
	}
	return msg
}

// Unwrap returns every per-user error so errors.Is and errors.As see them.
func (e *BulkError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// GetAllUsers builds out every user in the account.
//
// Base data, group membership and both kinds of policies come from a single
// authorization details export, so InlinePolicies and ManagedPolicies are
// never fetched again per user. Results keep export order.
//
// By default the first failure cancels the remaining users and is returned
// unchanged. With WithPartialResults the users that succeeded are returned
// along with a *BulkError describing the rest.
func GetAllUsers(ctx context.Context, flags orchestration.Flag, conn aws.ConnectionParams, opts ...Option) ([]orchestration.Document, error) {
	o := newOptions(opts)

	client, err := o.factory.Client(ctx, &conn)
	if err != nil {
		return nil, err
	}
	details, err := client.GetAccountAuthorizationDetails(ctx)
	if err != nil {
		return nil, err
	}

	requested := flags &^ bulkProvided
	o.logger.Info("building users",
		zap.String("account", conn.AccountNumber),
		zap.Int("users", len(details)),
		zap.String("flags", UserFlags.Format(requested)),
	)

	// Each goroutine writes only its own index.
	results := make([]orchestration.Document, len(details))
	failures := make([]*UserError, len(details))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.userConcurrency)
	for i, detail := range details {
		g.Go(func() error {
			doc := detailDocument(detail)
			params := aws.ConnFromDocument(doc, conn)
			built, err := UserRegistry.BuildOut(gctx, requested, doc, NewConn(params, client),
				o.buildOptions(orchestration.SkipBase())...)
			if err == nil {
				err = o.save(gctx, params, built)
			}
			if err != nil {
				o.logger.Debug("user build-out failed", zap.String("user", detail.UserName),
					zap.String("code", aws.ErrorCode(err)), zap.Error(err))
				if !o.partial {
					return err
				}
				failures[i] = &UserError{UserName: detail.UserName, Err: err}
				return nil
			}
			results[i] = orchestration.Modify(built, o.output)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	users := make([]orchestration.Document, 0, len(results))
	bulkErr := &BulkError{Total: len(details)}
	for i, doc := range results {
		if failures[i] != nil {
			bulkErr.Failures = append(bulkErr.Failures, failures[i])
			continue
		}
		users = append(users, doc)
	}
	if len(bulkErr.Failures) > 0 {
		return users, bulkErr
	}
	return users, nil
}

// detailDocument projects one export entry into the document shape Base
// produces, plus the group and policy data the export carries.
func detailDocument(d aws.UserDetail) orchestration.Document {
	doc := orchestration.Document{
		"Arn":      d.Arn,
		"Path":     d.Path,
		"UserId":   d.UserID,
		"UserName": d.UserName,
		"_version": DocumentVersion,
	}
	if !d.CreateDate.IsZero() {
		doc["CreateDate"] = aws.ISOString(d.CreateDate)
	}
	if d.GroupList != nil {
		doc["GroupList"] = d.GroupList
	} else {
		doc["GroupList"] = []string{}
	}
	if d.InlinePolicies != nil {
		doc["InlinePolicies"] = d.InlinePolicies
	} else {
		doc["InlinePolicies"] = orchestration.Document{}
	}
	if d.ManagedPolicies != nil {
		doc["ManagedPolicies"] = d.ManagedPolicies
	} else {
		doc["ManagedPolicies"] = []orchestration.Document{}
	}
	return doc
}
