package preflight

import (
	"context"
	"net/http"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pkg/errors"
)

// DefaultAWSRegion is where the Leanplum streaming exports live.
const DefaultAWSRegion = "us-west-2"

// S3Checker checks buckets in Amazon S3.
type S3Checker struct {
	client s3iface.S3API
}

// NewS3Checker returns an S3Checker for region. Credentials are taken from the environment,
// shared config files or instance roles, as the AWS SDK resolves them.
func NewS3Checker(region string) (*S3Checker, error) {
	if region == "" {
		region = DefaultAWSRegion
	}
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize AWS session")
	}
	return &S3Checker{client: s3.New(sess)}, nil
}

// BucketExists implements BucketChecker.
func (s *S3Checker) BucketExists(ctx context.Context, bucket string) error {
	_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	if err == nil {
		return nil
	}
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return ErrBucketNotFound
	}
	var aErr awserr.Error
	if errors.As(err, &aErr) && aErr.Code() == s3.ErrCodeNoSuchBucket {
		return ErrBucketNotFound
	}
	return err
}
