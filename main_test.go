package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/anirudhbiyani/cloudaux/pkg/orchestration"
	"github.com/anirudhbiyani/cloudaux/pkg/providers/aws"
)

// stubClient answers every IAM call with fixed data.
type stubClient struct {
	users     []aws.UserDetail
	failLogin map[string]error
}

func (s *stubClient) GetUser(_ context.Context, name string) (orchestration.Document, error) {
	return orchestration.Document{
		"Arn":        "arn:aws:iam::111111111111:user/" + name,
		"CreateDate": "2020-01-02T03:04:05+00:00",
		"Path":       "/",
		"UserId":     "AIDA" + name,
		"UserName":   name,
	}, nil
}

func (s *stubClient) ListAccessKeys(context.Context, string) ([]orchestration.Document, error) {
	return []orchestration.Document{{"AccessKeyId": "AKIA1", "Status": "Active"}}, nil
}

func (s *stubClient) GetLoginProfile(_ context.Context, name string) (orchestration.Document, error) {
	if err := s.failLogin[name]; err != nil {
		return nil, err
	}
	return orchestration.Document{}, nil
}

func (s *stubClient) ListMFADevices(context.Context, string) ([]orchestration.Document, error) {
	return []orchestration.Document{}, nil
}

func (s *stubClient) ListSigningCertificates(context.Context, string) ([]orchestration.Document, error) {
	return []orchestration.Document{}, nil
}

func (s *stubClient) ListInlinePolicies(context.Context, string) (orchestration.Document, error) {
	return orchestration.Document{}, nil
}

func (s *stubClient) ListAttachedPolicies(context.Context, string) ([]orchestration.Document, error) {
	return []orchestration.Document{}, nil
}

func (s *stubClient) GetAccountAuthorizationDetails(context.Context) ([]aws.UserDetail, error) {
	return s.users, nil
}

func runCLI(t *testing.T, client aws.IAMClient, args ...string) (string, error) {
	t.Helper()
	for _, k := range []string{
		"CLOUDAUX_REGION", "CLOUDAUX_PROFILE", "CLOUDAUX_ASSUME_ROLE", "CLOUDAUX_ACCOUNT_NUMBER", "CLOUDAUX_CONCURRENCY",
	} {
		t.Setenv(k, "")
	}

	var out bytes.Buffer
	a := newApp(&out)
	a.logger = zap.NewNop()
	a.factory = aws.StaticFactory(client)

	root := a.rootCmd()
	root.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.yaml")}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestUserCommand(t *testing.T) {
	out, err := runCLI(t, &stubClient{}, "user", "alice", "--flags", "ACCESS_KEYS")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "alice", doc["UserName"])
	assert.Contains(t, doc, "AccessKeys")
	assert.NotContains(t, doc, "MFADevices")
	assert.EqualValues(t, 2, doc["_version"])
}

func TestUserCommandByArnUnderscored(t *testing.T) {
	out, err := runCLI(t, &stubClient{}, "user", "arn:aws:iam::111111111111:user/bob", "--flags", "NONE", "-o", "underscored")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "bob", doc["user_name"])
	assert.Equal(t, "AIDAbob", doc["user_id"])
}

func TestUserCommandUnknownFlag(t *testing.T) {
	_, err := runCLI(t, &stubClient{}, "user", "alice", "--flags", "PASSWORDS")
	require.Error(t, err)
	assert.True(t, orchestration.IsCategory(err, orchestration.ErrCategoryValidation))
}

func TestUsersCommandPartial(t *testing.T) {
	client := &stubClient{
		users: []aws.UserDetail{
			{Arn: "arn:aws:iam::111111111111:user/alice", UserName: "alice"},
			{Arn: "arn:aws:iam::111111111111:user/bob", UserName: "bob"},
		},
		failLogin: map[string]error{"bob": errors.New("Throttling")},
	}

	out, err := runCLI(t, client, "users", "--partial", "--flags", "LOGIN_PROFILE")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 users failed")

	var users []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &users))
	require.Len(t, users, 1)
	assert.Equal(t, "alice", users[0]["UserName"])
}

func TestUsersCommandSnapshots(t *testing.T) {
	client := &stubClient{users: []aws.UserDetail{{Arn: "arn:aws:iam::111111111111:user/alice", UserName: "alice"}}}
	dir := t.TempDir()

	_, err := runCLI(t, client, "users", "--snapshot-dir", dir)
	require.NoError(t, err)

	out, err := runCLI(t, client, "snapshots", "list", "111111111111", "--snapshot-dir", dir)
	require.NoError(t, err)
	assert.Equal(t, "alice\n", out)

	out, err = runCLI(t, client, "snapshots", "show", "111111111111", "alice", "--snapshot-dir", dir, "-o", "underscored")
	require.NoError(t, err)
	assert.Contains(t, out, `"user_name": "alice"`)
	assert.Contains(t, out, `"login_profile"`)
}

func TestFlagsCommand(t *testing.T) {
	out, err := runCLI(t, &stubClient{}, "flags")
	require.NoError(t, err)
	assert.Contains(t, out, "ACCESS_KEYS")
	assert.Contains(t, out, "MFADevices")
	assert.Regexp(t, `INLINE_POLICIES\s+InlinePolicies\s+no`, out)
	assert.Regexp(t, `LOGIN_PROFILE\s+LoginProfile\s+yes`, out)
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, &stubClient{}, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "cloudaux version "+version)
}

func TestDescribeAddsErrorCode(t *testing.T) {
	plain := errors.New("boom")
	assert.Same(t, plain, describe(plain))
}
