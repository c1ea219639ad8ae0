package orchestration

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCamelize(t *testing.T) {
	tests := map[string]string{
		"user_name":        "UserName",
		"access_keys":      "AccessKeys",
		"mfa_devices":      "MfaDevices",
		"MFADevices":       "MFADevices",
		"UserId":           "UserId",
		"arn":              "Arn",
		"create_date":      "CreateDate",
		"signing_certs_v2": "SigningCertsV2",
	}
	for in, want := range tests {
		assert.Equal(t, want, Camelize(in), in)
	}
}

func TestUnderscore(t *testing.T) {
	tests := map[string]string{
		"UserName":         "user_name",
		"MFADevices":       "mfa_devices",
		"AccessKeyId":      "access_key_id",
		"Arn":              "arn",
		"already_snake":    "already_snake",
		"PasswordLastUsed": "password_last_used",
		"x-amz-id":         "x_amz_id",
	}
	for in, want := range tests {
		assert.Equal(t, want, Underscore(in), in)
	}
}

func TestUnderscoreDoesNotSplitDigitsOrSingleLetters(t *testing.T) {
	tests := map[string]string{
		"a_b_c":       "abc",
		"s3_bucket_2": "s3_bucket2",
		"x_1":         "x1",
	}
	for in, want := range tests {
		assert.Equal(t, want, Underscore(Camelize(in)), in)
	}
}

func TestModifyResolvesKeyCollisions(t *testing.T) {
	doc := Document{
		"UserName":   "camel",
		"user_name":  "snake",
		"MFADevices": "fresh",
		"MfaDevices": "stale",
	}
	for i := 0; i < 50; i++ {
		camel := Modify(doc, Camelized)
		assert.Equal(t, "camel", camel["UserName"])
		assert.Equal(t, "fresh", camel["MFADevices"])
		assert.Equal(t, "stale", camel["MfaDevices"])

		snake := Modify(doc, Underscored)
		assert.Equal(t, Document{"user_name": "snake", "mfa_devices": "fresh"}, snake)
	}
}

func sampleUnderscored() Document {
	return Document{
		"arn":         "arn:aws:iam::111111111111:user/alice",
		"user_name":   "alice",
		"create_date": "2020-01-02T03:04:05+00:00",
		"_version":    2,
		"access_keys": []Document{
			{"access_key_id": "AKIA1", "status": "Active"},
		},
		"inline_policies": Document{
			"policy_one": map[string]any{"statement": []any{map[string]any{"effect": "Allow"}}},
		},
		"group_list": []string{"admins"},
	}
}

func TestModifyIsIdempotent(t *testing.T) {
	doc := sampleUnderscored()

	once := Modify(doc, Camelized)
	twice := Modify(once, Camelized)
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("camelized not idempotent (-once +twice):\n%s", diff)
	}

	u1 := Modify(once, Underscored)
	u2 := Modify(u1, Underscored)
	if diff := cmp.Diff(u1, u2); diff != "" {
		t.Errorf("underscored not idempotent (-once +twice):\n%s", diff)
	}
}

func TestModifyRoundTrip(t *testing.T) {
	doc := sampleUnderscored()

	back := Modify(Modify(doc, Camelized), Underscored)
	if diff := cmp.Diff(doc, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, sortedKeys(doc), sortedKeys(back))
}

func TestModifyRecursesAndKeepsValues(t *testing.T) {
	out := Modify(sampleUnderscored(), Camelized)

	require.Contains(t, out, "AccessKeys")
	keys := out["AccessKeys"].([]Document)
	assert.Equal(t, Document{"AccessKeyId": "AKIA1", "Status": "Active"}, keys[0])

	policies := out["InlinePolicies"].(Document)
	policy := policies["PolicyOne"].(map[string]any)
	stmt := policy["Statement"].([]any)[0].(map[string]any)
	assert.Equal(t, "Allow", stmt["Effect"])

	assert.Equal(t, []string{"admins"}, out["GroupList"])
	assert.Equal(t, "alice", out["UserName"])
	assert.Equal(t, 2, out["_version"])
}

func TestModifyDoesNotMutateInput(t *testing.T) {
	doc := sampleUnderscored()
	_ = Modify(doc, Camelized)
	assert.Contains(t, doc, "user_name")
	assert.NotContains(t, doc, "UserName")
	assert.Nil(t, Modify(nil, Camelized))
}

func TestParseKeyStyle(t *testing.T) {
	s, err := ParseKeyStyle("Camelized")
	require.NoError(t, err)
	assert.Equal(t, Camelized, s)

	s, err = ParseKeyStyle("underscored")
	require.NoError(t, err)
	assert.Equal(t, Underscored, s)

	_, err = ParseKeyStyle("kebab")
	assert.True(t, IsCategory(err, ErrCategoryValidation))
}

func sortedKeys(d Document) []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
