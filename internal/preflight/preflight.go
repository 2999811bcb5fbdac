// Package preflight verifies that the buckets an export reads from and writes to exist
// before any pod is submitted.
package preflight

import (
	"context"
	"sort"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mozilla/leanplum-tasks/internal/leanplum"
	"github.com/mozilla/leanplum-tasks/pkg/logger"
)

// ErrBucketNotFound is returned by a BucketChecker for a bucket that does not exist.
var ErrBucketNotFound = errors.New("bucket not found")

// BucketChecker reports whether a bucket exists and is accessible.
type BucketChecker interface {
	BucketExists(ctx context.Context, bucket string) error
}

// Checker checks the buckets of a set of exports.
type Checker struct {
	GCS BucketChecker
	S3  BucketChecker
}

func distinct(exports []leanplum.ExportConfig, bucket func(leanplum.ExportConfig) string) []string {
	seen := map[string]bool{}
	var buckets []string
	for _, e := range exports {
		if b := bucket(e); b != "" && !seen[b] {
			seen[b] = true
			buckets = append(buckets, b)
		}
	}
	sort.Strings(buckets)
	return buckets
}

// Check verifies every distinct bucket once and returns all failures together.
func (c Checker) Check(ctx context.Context, exports []leanplum.ExportConfig) error {
	var result *multierror.Error

	run := func(kind string, checker BucketChecker, buckets []string) {
		kindCtx := logger.Context{"kind": kind}
		for _, b := range buckets {
			logCtx := log.WithFields(logger.MergeContexts(kindCtx, logger.Context{"bucket": b}).Fields())
			if err := checker.BucketExists(ctx, b); err != nil {
				logCtx.WithError(err).Warn("bucket check failed")
				result = multierror.Append(result, errors.Wrapf(err, "%s bucket %s", kind, b))
				continue
			}
			logCtx.Info("bucket ok")
		}
	}

	if c.GCS != nil {
		run("gcs", c.GCS, distinct(exports, func(e leanplum.ExportConfig) string { return e.GCSBucket }))
	}
	if c.S3 != nil {
		// Only streaming exports read from S3.
		run("s3", c.S3, distinct(exports, func(e leanplum.ExportConfig) string {
			if !e.Streaming {
				return ""
			}
			return e.S3Bucket
		}))
	}
	return result.ErrorOrNil()
}
