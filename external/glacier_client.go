package external

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

const (
	errCodeRestoreAlreadyInProgress = "RestoreAlreadyInProgress"
	errCodeExpeditedNotAvailable    = "GlacierExpeditedRetrievalNotAvailable"

	// restore header timestamps, e.g. expiry-date="Fri, 21 Dec 2012 00:00:00 GMT"
	restoreExpiryFormat = "Mon, 02 Jan 2006 15:04:05 MST"
)

var restoreExpiryRegexp = regexp.MustCompile(`expiry-date="(.+?)"`)

// GlacierClient drives restore operations against a single S3 bucket whose
// objects live in an archival storage class.
type GlacierClient struct {
	api    s3iface.S3API
	bucket string
}

func NewGlacierClient(region, bucket string) (*GlacierClient, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, err
	}
	return &GlacierClient{
		api:    s3.New(sess),
		bucket: bucket,
	}, nil
}

// NewGlacierClientWithAPI wires an existing S3 API handle, used by callers
// that manage their own sessions.
func NewGlacierClientWithAPI(api s3iface.S3API, bucket string) *GlacierClient {
	return &GlacierClient{
		api:    api,
		bucket: bucket,
	}
}

func (c *GlacierClient) Restore(ctx context.Context, objectKey, tier string, retentionDays int) error {
	_, err := c.api.RestoreObjectWithContext(ctx, &s3.RestoreObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey),
		RestoreRequest: &s3.RestoreRequest{
			Days: aws.Int64(int64(retentionDays)),
			GlacierJobParameters: &s3.GlacierJobParameters{
				Tier: aws.String(tier),
			},
		},
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case errCodeRestoreAlreadyInProgress:
				return ErrRestoreInProgress
			case errCodeExpeditedNotAvailable:
				return ErrTierUnavailable
			}
		}
		return err
	}
	return nil
}

func (c *GlacierClient) GetRestoreState(ctx context.Context, objectKey string) (*RestoreState, error) {
	head, err := c.api.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		return nil, err
	}
	if !isArchivalStorageClass(aws.StringValue(head.StorageClass)) {
		return &RestoreState{Status: StatusAvailable}, nil
	}
	return ParseRestoreHeader(head.Restore)
}

func isArchivalStorageClass(storageClass string) bool {
	return storageClass == s3.StorageClassGlacier || storageClass == s3.StorageClassDeepArchive
}

// ParseRestoreHeader translates the x-amz-restore header of an archived
// object into a restore state. A nil header means no restore was requested.
func ParseRestoreHeader(restore *string) (*RestoreState, error) {
	if restore == nil {
		return &RestoreState{Status: StatusArchived}, nil
	}
	if strings.Contains(*restore, `ongoing-request="true"`) {
		return &RestoreState{Status: StatusRetrieving}, nil
	}
	match := restoreExpiryRegexp.FindStringSubmatch(*restore)
	if match == nil {
		return &RestoreState{Status: StatusAvailable}, nil
	}
	expiry, err := time.Parse(restoreExpiryFormat, match[1])
	if err != nil {
		return nil, err
	}
	return &RestoreState{Status: StatusAvailable, ExpirationDate: &expiry}, nil
}
