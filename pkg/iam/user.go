// Package iam builds out IAM users by composing read-only IAM calls through
// the orchestration engine.
package iam

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/anirudhbiyani/cloudaux/pkg/orchestration"
	"github.com/anirudhbiyani/cloudaux/pkg/providers/aws"
	"github.com/anirudhbiyani/cloudaux/pkg/snapshot"
)

// DocumentVersion is stamped into every built user as "_version".
const DocumentVersion = 2

// UserFlags selects the optional parts of a user build-out.
var UserFlags = orchestration.MustFlagSet(
	"ACCESS_KEYS",
	"INLINE_POLICIES",
	"MANAGED_POLICIES",
	"MFA_DEVICES",
	"LOGIN_PROFILE",
	"SIGNING_CERTIFICATES",
)

// Individual user flags.
var (
	AccessKeys          = UserFlags.MustFlag("ACCESS_KEYS")
	InlinePolicies      = UserFlags.MustFlag("INLINE_POLICIES")
	ManagedPolicies     = UserFlags.MustFlag("MANAGED_POLICIES")
	MFADevices          = UserFlags.MustFlag("MFA_DEVICES")
	LoginProfile        = UserFlags.MustFlag("LOGIN_PROFILE")
	SigningCertificates = UserFlags.MustFlag("SIGNING_CERTIFICATES")
)

// DefaultBulkFlags is what GetAllUsers fetches per user when asked for
// nothing more specific.
var DefaultBulkFlags = AccessKeys | MFADevices | LoginProfile | SigningCertificates

// bulkProvided is data the authorization details export already carries.
var bulkProvided = InlinePolicies | ManagedPolicies

// baseFields must all be present for Base to skip the GetUser call.
var baseFields = []string{"Arn", "CreateDate", "Path", "UserId", "UserName"}

// Conn is the connection every user operation receives: the caller's
// parameters plus the client resolved for them.
type Conn struct {
	aws.ConnectionParams

	client aws.IAMClient
}

// NewConn pairs connection parameters with a client.
func NewConn(params aws.ConnectionParams, client aws.IAMClient) *Conn {
	return &Conn{ConnectionParams: params, client: client}
}

// UserRegistry is the operation table for IAM users.
var UserRegistry = orchestration.MustRegistry[Conn](
	UserFlags,
	getBase,
	[]orchestration.Operation[Conn]{
		{Flag: AccessKeys, Key: "AccessKeys", Fn: listFn((aws.IAMClient).ListAccessKeys)},
		{Flag: InlinePolicies, Key: "InlinePolicies", Fn: getInlinePolicies},
		{Flag: ManagedPolicies, Key: "ManagedPolicies", Fn: listFn((aws.IAMClient).ListAttachedPolicies)},
		{Flag: MFADevices, Key: "MFADevices", Fn: listFn((aws.IAMClient).ListMFADevices)},
		{Flag: LoginProfile, Key: "LoginProfile", Fn: getLoginProfile},
		{Flag: SigningCertificates, Key: "SigningCertificates", Fn: listFn((aws.IAMClient).ListSigningCertificates)},
	},
	"UserName",
)

func getBase(ctx context.Context, user orchestration.Document, conn *Conn) (orchestration.Document, error) {
	if needsBase(user) {
		name, err := aws.NameFromDocument(user, "UserName")
		if err != nil {
			return nil, err
		}
		fetched, err := conn.client.GetUser(ctx, name)
		if err != nil {
			return nil, err
		}
		for k, v := range fetched {
			user[k] = v
		}
	}

	for _, field := range []string{"CreateDate", "PasswordLastUsed"} {
		v, ok := user[field]
		if !ok {
			continue
		}
		iso, err := aws.NormalizeTime(v)
		if err != nil {
			return nil, orchestration.ErrValidation("%v", err).WithField(field)
		}
		user[field] = iso
	}

	user["_version"] = DocumentVersion
	return user, nil
}

func needsBase(user orchestration.Document) bool {
	for _, field := range baseFields {
		if _, ok := user[field]; !ok {
			return true
		}
	}
	return false
}

func listFn(call func(aws.IAMClient, context.Context, string) ([]orchestration.Document, error)) orchestration.OperationFunc[Conn] {
	return func(ctx context.Context, user orchestration.Document, conn *Conn) (any, error) {
		name, err := aws.NameFromDocument(user, "UserName")
		if err != nil {
			return nil, err
		}
		return call(conn.client, ctx, name)
	}
}

func getInlinePolicies(ctx context.Context, user orchestration.Document, conn *Conn) (any, error) {
	name, err := aws.NameFromDocument(user, "UserName")
	if err != nil {
		return nil, err
	}
	return conn.client.ListInlinePolicies(ctx, name)
}

func getLoginProfile(ctx context.Context, user orchestration.Document, conn *Conn) (any, error) {
	name, err := aws.NameFromDocument(user, "UserName")
	if err != nil {
		return nil, err
	}
	return conn.client.GetLoginProfile(ctx, name)
}

var (
	defaultFactoryOnce sync.Once
	defaultFactory     aws.ClientFactory
)

// DefaultFactory returns the process-wide SDK client factory.
func DefaultFactory() aws.ClientFactory {
	defaultFactoryOnce.Do(func() {
		defaultFactory = aws.NewSDKFactory()
	})
	return defaultFactory
}

type options struct {
	factory           aws.ClientFactory
	logger            *zap.Logger
	output            orchestration.KeyStyle
	passDatastructure bool
	concurrency       int
	userConcurrency   int
	partial           bool
	store             snapshot.Store
}

// Option configures GetUser and GetAllUsers.
type Option func(*options)

// WithClientFactory sets how IAM clients are obtained.
func WithClientFactory(f aws.ClientFactory) Option {
	return func(o *options) {
		if f != nil {
			o.factory = f
		}
	}
}

// WithClient uses client for every connection.
func WithClient(client aws.IAMClient) Option {
	return WithClientFactory(aws.StaticFactory(client))
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithOutput selects the key style of returned documents. Camelized is the default.
func WithOutput(style orchestration.KeyStyle) Option {
	return func(o *options) {
		o.output = style
	}
}

// WithFullDocument controls whether operations see the whole user document
// or only its UserName.
func WithFullDocument(pass bool) Option {
	return func(o *options) {
		o.passDatastructure = pass
	}
}

// WithConcurrency bounds parallel IAM calls within one user.
func WithConcurrency(n int) Option {
	return func(o *options) {
		o.concurrency = n
	}
}

// WithUserConcurrency bounds how many users GetAllUsers builds at once.
func WithUserConcurrency(n int) Option {
	return func(o *options) {
		if n < 1 {
			n = 1
		}
		o.userConcurrency = n
	}
}

// WithPartialResults makes GetAllUsers keep going past per-user failures.
// The users that succeeded are returned together with a *BulkError.
func WithPartialResults() Option {
	return func(o *options) {
		o.partial = true
	}
}

// WithSnapshots saves every built user to store, keyed by account and user name.
func WithSnapshots(store snapshot.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

func newOptions(opts []Option) *options {
	o := &options{
		logger:            zap.NewNop(),
		output:            orchestration.Camelized,
		passDatastructure: true,
		concurrency:       orchestration.DefaultConcurrency,
		userConcurrency:   DefaultUserConcurrency,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.factory == nil {
		o.factory = DefaultFactory()
	}
	return o
}

func (o *options) buildOptions(extra ...orchestration.BuildOption) []orchestration.BuildOption {
	return append([]orchestration.BuildOption{
		orchestration.PassDatastructure(o.passDatastructure),
		orchestration.WithConcurrency(o.concurrency),
		orchestration.WithLogger(o.logger),
	}, extra...)
}

// GetUser builds out one IAM user.
//
// user must identify the user by UserName or Arn, in either key style. The
// account comes from conn, or else from the user's Arn or AccountNumber.
// Provider errors are returned unchanged.
func GetUser(ctx context.Context, user orchestration.Document, flags orchestration.Flag, conn aws.ConnectionParams, opts ...Option) (orchestration.Document, error) {
	o := newOptions(opts)

	doc := orchestration.Modify(user, orchestration.Camelized)
	params := aws.ConnFromDocument(doc, conn)
	client, err := o.factory.Client(ctx, &params)
	if err != nil {
		return nil, err
	}

	built, err := UserRegistry.BuildOut(ctx, flags, doc, NewConn(params, client), o.buildOptions()...)
	if err != nil {
		o.logger.Debug("user build-out failed", zap.String("account", params.AccountNumber),
			zap.String("code", aws.ErrorCode(err)), zap.Error(err))
		return nil, err
	}

	if err := o.save(ctx, params, built); err != nil {
		return nil, err
	}
	return orchestration.Modify(built, o.output), nil
}

func (o *options) save(ctx context.Context, params aws.ConnectionParams, doc orchestration.Document) error {
	if o.store == nil {
		return nil
	}
	name, err := aws.NameFromDocument(doc, "UserName")
	if err != nil {
		return err
	}
	account := aws.ConnFromDocument(doc, params).AccountNumber
	return o.store.Save(ctx, snapshot.Key{Account: account, Name: name}, doc)
}
