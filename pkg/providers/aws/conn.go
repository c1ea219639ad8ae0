package aws

import (
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/google/uuid"

	"github.com/anirudhbiyani/cloudaux/pkg/orchestration"
)

// ISO8601 is the textual timestamp format used for every date field.
const ISO8601 = "2006-01-02T15:04:05-07:00"

// ConnectionParams carries everything needed to reach one account. It is
// owned by the caller and never modified by operations.
type ConnectionParams struct {
	// AccountNumber is the 12-digit target account.
	AccountNumber string `yaml:"account_number" json:"account_number,omitempty"`

	// AssumeRole is the name of the role to assume in AccountNumber.
	// Empty means use the ambient credentials.
	AssumeRole string `yaml:"assume_role" json:"assume_role,omitempty"`

	// ExternalID is passed to sts:AssumeRole when set.
	ExternalID string `yaml:"external_id" json:"external_id,omitempty"`

	// SessionName names the assumed-role session. Generated when empty.
	SessionName string `yaml:"session_name" json:"session_name,omitempty"`

	// Region is the SDK region; IAM is global so any region works.
	Region string `yaml:"region" json:"region,omitempty"`

	// Profile selects a shared config profile.
	Profile string `yaml:"profile" json:"profile,omitempty"`

	// Partition is the ARN partition, "aws" when empty.
	Partition string `yaml:"partition" json:"partition,omitempty"`
}

// RoleARN returns the ARN of the role to assume.
func (c *ConnectionParams) RoleARN() (string, error) {
	if c.AssumeRole == "" {
		return "", orchestration.ErrValidation("no role to assume")
	}
	if strings.HasPrefix(c.AssumeRole, "arn:") {
		return c.AssumeRole, nil
	}
	if c.AccountNumber == "" {
		return "", orchestration.ErrMissingField("AccountNumber").WithOperation("assume_role")
	}
	partition := c.Partition
	if partition == "" {
		partition = "aws"
	}
	return arn.ARN{
		Partition: partition,
		Service:   "iam",
		AccountID: c.AccountNumber,
		Resource:  "role/" + c.AssumeRole,
	}.String(), nil
}

func (c *ConnectionParams) sessionName() string {
	if c.SessionName != "" {
		return c.SessionName
	}
	return "cloudaux-" + uuid.New().String()[:8]
}

// cacheKey identifies the client a connection resolves to.
func (c *ConnectionParams) cacheKey() string {
	return strings.Join([]string{
		c.AccountNumber, c.AssumeRole, c.ExternalID, c.SessionName, c.Region, c.Profile, c.Partition,
	}, "|")
}

// ConnFromDocument derives the final connection parameters for doc. Values
// set by the caller win; otherwise the account number and partition come from
// the document's AccountNumber or Arn field.
func ConnFromDocument(doc orchestration.Document, overrides ConnectionParams) ConnectionParams {
	conn := overrides
	if conn.AccountNumber == "" {
		if acct, ok := doc["AccountNumber"].(string); ok && acct != "" {
			conn.AccountNumber = acct
		}
	}
	if raw, ok := doc["Arn"].(string); ok && arn.IsARN(raw) {
		if parsed, err := arn.Parse(raw); err == nil {
			if conn.AccountNumber == "" {
				conn.AccountNumber = parsed.AccountID
			}
			if conn.Partition == "" {
				conn.Partition = parsed.Partition
			}
		}
	}
	return conn
}

// NameFromDocument returns doc[field], falling back to the last path segment
// of the document's Arn.
func NameFromDocument(doc orchestration.Document, field string) (string, error) {
	if name, ok := doc[field].(string); ok && name != "" {
		return name, nil
	}
	if raw, ok := doc["Arn"].(string); ok {
		if parsed, err := arn.Parse(raw); err == nil {
			resource := parsed.Resource
			if i := strings.LastIndex(resource, "/"); i >= 0 {
				resource = resource[i+1:]
			}
			if resource != "" {
				return resource, nil
			}
		}
	}
	return "", orchestration.ErrMissingField(field)
}

// ISOString formats t as ISO8601.
func ISOString(t time.Time) string {
	return t.Format(ISO8601)
}

// NormalizeTime converts time values to ISO8601 strings. Strings pass through
// unchanged; anything else is returned as an error.
func NormalizeTime(v any) (any, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case time.Time:
		return ISOString(t), nil
	case *time.Time:
		if t == nil {
			return nil, nil
		}
		return ISOString(*t), nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("unsupported time value %T", v)
}

func isoPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return ISOString(*t)
}
