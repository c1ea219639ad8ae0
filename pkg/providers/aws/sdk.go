package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"go.uber.org/zap"

	"github.com/anirudhbiyani/cloudaux/pkg/orchestration"
)

// DefaultRegion is used when neither the connection nor the environment
// names a region.
const DefaultRegion = "us-east-1"

// iamAPI is the subset of *iam.Client the SDK-backed client calls.
type iamAPI interface {
	iam.GetAccountAuthorizationDetailsAPIClient
	iam.ListAccessKeysAPIClient
	iam.ListAttachedUserPoliciesAPIClient
	iam.ListMFADevicesAPIClient
	iam.ListSigningCertificatesAPIClient
	iam.ListUserPoliciesAPIClient

	GetUser(ctx context.Context, params *iam.GetUserInput, optFns ...func(*iam.Options)) (*iam.GetUserOutput, error)
	GetUserPolicy(ctx context.Context, params *iam.GetUserPolicyInput, optFns ...func(*iam.Options)) (*iam.GetUserPolicyOutput, error)
	GetLoginProfile(ctx context.Context, params *iam.GetLoginProfileInput, optFns ...func(*iam.Options)) (*iam.GetLoginProfileOutput, error)
	GetAccessKeyLastUsed(ctx context.Context, params *iam.GetAccessKeyLastUsedInput, optFns ...func(*iam.Options)) (*iam.GetAccessKeyLastUsedOutput, error)
}

// SDKFactory builds IAM clients from the AWS SDK, assuming a role in the
// target account when the connection names one. One client is kept per
// distinct connection; responses are never cached.
type SDKFactory struct {
	mu          sync.Mutex
	clients     map[string]IAMClient
	loadOptions []func(*config.LoadOptions) error
	logger      *zap.Logger
}

// FactoryOption configures the SDKFactory.
type FactoryOption func(*SDKFactory)

// WithLoadOptions appends SDK config load options.
func WithLoadOptions(opts ...func(*config.LoadOptions) error) FactoryOption {
	return func(f *SDKFactory) {
		f.loadOptions = append(f.loadOptions, opts...)
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) FactoryOption {
	return func(f *SDKFactory) {
		if l != nil {
			f.logger = l
		}
	}
}

// NewSDKFactory creates a new SDK-backed client factory.
func NewSDKFactory(opts ...FactoryOption) *SDKFactory {
	f := &SDKFactory{
		clients: make(map[string]IAMClient),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Client implements ClientFactory.
func (f *SDKFactory) Client(ctx context.Context, conn *ConnectionParams) (IAMClient, error) {
	if conn == nil {
		conn = &ConnectionParams{}
	}
	key := conn.cacheKey()

	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[key]; ok {
		return c, nil
	}

	loadOpts := append([]func(*config.LoadOptions) error{}, f.loadOptions...)
	if conn.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(conn.Region))
	}
	if conn.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(conn.Profile))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}

	if conn.AssumeRole != "" {
		roleARN, err := conn.RoleARN()
		if err != nil {
			return nil, err
		}
		session := conn.sessionName()
		provider := stscreds.NewAssumeRoleProvider(sts.NewFromConfig(cfg), roleARN, func(o *stscreds.AssumeRoleOptions) {
			o.RoleSessionName = session
			if conn.ExternalID != "" {
				o.ExternalID = awssdk.String(conn.ExternalID)
			}
		})
		cfg.Credentials = awssdk.NewCredentialsCache(provider)
		f.logger.Debug("assuming role", zap.String("role_arn", roleARN), zap.String("session", session))
	}

	c := NewSDKClient(iam.NewFromConfig(cfg))
	f.clients[key] = c
	return c, nil
}

// SDKClient implements IAMClient on top of the AWS SDK.
type SDKClient struct {
	api iamAPI
}

// NewSDKClient wraps an IAM API client.
func NewSDKClient(api iamAPI) *SDKClient {
	return &SDKClient{api: api}
}

// GetUser implements IAMClient.
func (c *SDKClient) GetUser(ctx context.Context, userName string) (orchestration.Document, error) {
	out, err := c.api.GetUser(ctx, &iam.GetUserInput{UserName: awssdk.String(userName)})
	if err != nil {
		return nil, err
	}
	return userDocument(out.User), nil
}

// ListAccessKeys implements IAMClient. Each key carries its last-used
// details when IAM reports them.
func (c *SDKClient) ListAccessKeys(ctx context.Context, userName string) ([]orchestration.Document, error) {
	keys := []orchestration.Document{}
	p := iam.NewListAccessKeysPaginator(c.api, &iam.ListAccessKeysInput{UserName: awssdk.String(userName)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, md := range page.AccessKeyMetadata {
			doc := accessKeyDocument(md)
			used, err := c.api.GetAccessKeyLastUsed(ctx, &iam.GetAccessKeyLastUsedInput{AccessKeyId: md.AccessKeyId})
			if err != nil {
				return nil, err
			}
			addLastUsed(doc, used.AccessKeyLastUsed)
			keys = append(keys, doc)
		}
	}
	return keys, nil
}

// ListInlinePolicies implements IAMClient. The result maps policy name to
// the decoded policy document.
func (c *SDKClient) ListInlinePolicies(ctx context.Context, userName string) (orchestration.Document, error) {
	policies := orchestration.Document{}
	p := iam.NewListUserPoliciesPaginator(c.api, &iam.ListUserPoliciesInput{UserName: awssdk.String(userName)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, name := range page.PolicyNames {
			out, err := c.api.GetUserPolicy(ctx, &iam.GetUserPolicyInput{
				UserName:   awssdk.String(userName),
				PolicyName: awssdk.String(name),
			})
			if err != nil {
				return nil, err
			}
			policies[name] = decodePolicyDocument(awssdk.ToString(out.PolicyDocument))
		}
	}
	return policies, nil
}

// ListAttachedPolicies implements IAMClient.
func (c *SDKClient) ListAttachedPolicies(ctx context.Context, userName string) ([]orchestration.Document, error) {
	policies := []orchestration.Document{}
	p := iam.NewListAttachedUserPoliciesPaginator(c.api, &iam.ListAttachedUserPoliciesInput{UserName: awssdk.String(userName)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, ap := range page.AttachedPolicies {
			policies = append(policies, managedPolicyDocument(ap))
		}
	}
	return policies, nil
}

// ListMFADevices implements IAMClient.
func (c *SDKClient) ListMFADevices(ctx context.Context, userName string) ([]orchestration.Document, error) {
	devices := []orchestration.Document{}
	p := iam.NewListMFADevicesPaginator(c.api, &iam.ListMFADevicesInput{UserName: awssdk.String(userName)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, d := range page.MFADevices {
			devices = append(devices, orchestration.Document{
				"SerialNumber": awssdk.ToString(d.SerialNumber),
				"UserName":     awssdk.ToString(d.UserName),
				"EnableDate":   isoPtr(d.EnableDate),
			})
		}
	}
	return devices, nil
}

// GetLoginProfile implements IAMClient. A user without console access has no
// login profile; that yields an empty document rather than an error.
func (c *SDKClient) GetLoginProfile(ctx context.Context, userName string) (orchestration.Document, error) {
	out, err := c.api.GetLoginProfile(ctx, &iam.GetLoginProfileInput{UserName: awssdk.String(userName)})
	if err != nil {
		if isNotFoundError(err) {
			return orchestration.Document{}, nil
		}
		return nil, err
	}
	lp := out.LoginProfile
	if lp == nil {
		return orchestration.Document{}, nil
	}
	return orchestration.Document{
		"UserName":              awssdk.ToString(lp.UserName),
		"CreateDate":            isoPtr(lp.CreateDate),
		"PasswordResetRequired": lp.PasswordResetRequired,
	}, nil
}

// ListSigningCertificates implements IAMClient.
func (c *SDKClient) ListSigningCertificates(ctx context.Context, userName string) ([]orchestration.Document, error) {
	certs := []orchestration.Document{}
	p := iam.NewListSigningCertificatesPaginator(c.api, &iam.ListSigningCertificatesInput{UserName: awssdk.String(userName)})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, sc := range page.Certificates {
			certs = append(certs, orchestration.Document{
				"CertificateId":   awssdk.ToString(sc.CertificateId),
				"CertificateBody": awssdk.ToString(sc.CertificateBody),
				"Status":          string(sc.Status),
				"UserName":        awssdk.ToString(sc.UserName),
				"UploadDate":      isoPtr(sc.UploadDate),
			})
		}
	}
	return certs, nil
}

// GetAccountAuthorizationDetails implements IAMClient.
func (c *SDKClient) GetAccountAuthorizationDetails(ctx context.Context) ([]UserDetail, error) {
	var users []UserDetail
	p := iam.NewGetAccountAuthorizationDetailsPaginator(c.api, &iam.GetAccountAuthorizationDetailsInput{
		Filter: []types.EntityType{types.EntityTypeUser},
	})
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, u := range page.UserDetailList {
			users = append(users, userDetail(u))
		}
	}
	return users, nil
}

func userDocument(u *types.User) orchestration.Document {
	if u == nil {
		return orchestration.Document{}
	}
	doc := orchestration.Document{
		"Arn":        awssdk.ToString(u.Arn),
		"CreateDate": isoPtr(u.CreateDate),
		"Path":       awssdk.ToString(u.Path),
		"UserId":     awssdk.ToString(u.UserId),
		"UserName":   awssdk.ToString(u.UserName),
	}
	if u.PasswordLastUsed != nil {
		doc["PasswordLastUsed"] = ISOString(*u.PasswordLastUsed)
	}
	if u.PermissionsBoundary != nil {
		doc["PermissionsBoundary"] = orchestration.Document{
			"PermissionsBoundaryArn":  awssdk.ToString(u.PermissionsBoundary.PermissionsBoundaryArn),
			"PermissionsBoundaryType": string(u.PermissionsBoundary.PermissionsBoundaryType),
		}
	}
	if len(u.Tags) > 0 {
		tags := make([]orchestration.Document, 0, len(u.Tags))
		for _, t := range u.Tags {
			tags = append(tags, orchestration.Document{"Key": awssdk.ToString(t.Key), "Value": awssdk.ToString(t.Value)})
		}
		doc["Tags"] = tags
	}
	return doc
}

func accessKeyDocument(md types.AccessKeyMetadata) orchestration.Document {
	return orchestration.Document{
		"AccessKeyId": awssdk.ToString(md.AccessKeyId),
		"Status":      string(md.Status),
		"UserName":    awssdk.ToString(md.UserName),
		"CreateDate":  isoPtr(md.CreateDate),
	}
}

func addLastUsed(doc orchestration.Document, used *types.AccessKeyLastUsed) {
	if used == nil {
		return
	}
	if used.LastUsedDate != nil {
		doc["LastUsedDate"] = ISOString(*used.LastUsedDate)
	}
	if r := awssdk.ToString(used.Region); r != "" && r != "N/A" {
		doc["LastUsedRegion"] = r
	}
	if s := awssdk.ToString(used.ServiceName); s != "" && s != "N/A" {
		doc["LastUsedService"] = s
	}
}

func managedPolicyDocument(ap types.AttachedPolicy) orchestration.Document {
	return orchestration.Document{
		"name": awssdk.ToString(ap.PolicyName),
		"arn":  awssdk.ToString(ap.PolicyArn),
	}
}

func userDetail(u types.UserDetail) UserDetail {
	d := UserDetail{
		Arn:       awssdk.ToString(u.Arn),
		GroupList: u.GroupList,
		Path:      awssdk.ToString(u.Path),
		UserID:    awssdk.ToString(u.UserId),
		UserName:  awssdk.ToString(u.UserName),
	}
	if u.CreateDate != nil {
		d.CreateDate = *u.CreateDate
	}
	if u.UserPolicyList != nil {
		d.InlinePolicies = make(orchestration.Document, len(u.UserPolicyList))
		for _, pd := range u.UserPolicyList {
			d.InlinePolicies[awssdk.ToString(pd.PolicyName)] = decodePolicyDocument(awssdk.ToString(pd.PolicyDocument))
		}
	}
	if u.AttachedManagedPolicies != nil {
		d.ManagedPolicies = make([]orchestration.Document, 0, len(u.AttachedManagedPolicies))
		for _, ap := range u.AttachedManagedPolicies {
			d.ManagedPolicies = append(d.ManagedPolicies, managedPolicyDocument(ap))
		}
	}
	return d
}

// decodePolicyDocument URL-decodes and parses a policy document. Documents
// that do not parse are returned as the raw string.
func decodePolicyDocument(raw string) any {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		decoded = raw
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(decoded), &doc); err != nil {
		return decoded
	}
	return doc
}
