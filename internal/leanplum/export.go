// Package leanplum builds the pod operator that exports a day of Leanplum data for one
// application into BigQuery.
package leanplum

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/mozilla/leanplum-tasks/internal/gcp"
	"github.com/mozilla/leanplum-tasks/internal/gke"
	"github.com/mozilla/leanplum-tasks/pkg/check"
)

const (
	// ToolName is the entrypoint of the export image.
	ToolName = "leanplum-data-export"
	// Subcommand is the export subcommand of ToolName.
	Subcommand = "export-leanplum"
)

// Defaults of an ExportConfig.
const (
	DefaultS3Bucket       = "moz-fx-data-us-west-2-leanplum-export"
	DefaultGCSBucket      = "moz-fx-data-prod-external-data"
	DefaultVersion        = "1"
	DefaultGCPConnID      = "google_cloud_derived_datasets"
	DefaultGKELocation    = "us-central1-a"
	DefaultGKEClusterName = "bq-load-gke-1"
	DefaultGKENamespace   = "default"
	DefaultDockerImage    = "gcr.io/moz-fx-data-airflow-prod-88e0/leanplum-data-export:latest"
)

// ExportConfig describes one Leanplum export.
type ExportConfig struct {
	// BQDatasetID is the BigQuery dataset tables are created in.
	BQDatasetID string `json:"bq_dataset_id"`
	TaskID      string `json:"task_id"`
	// BQProject is the project tables are created in.
	BQProject string `json:"bq_project"`

	// LeanplumAppID and LeanplumClientKey are required for historical exports.
	LeanplumAppID     *string `json:"leanplum_app_id"`
	LeanplumClientKey *string `json:"leanplum_client_key"`

	// S3Bucket holds the streaming exports, GCSBucket receives the exported data.
	S3Bucket    string  `json:"s3_bucket"`
	GCSBucket   string  `json:"gcs_bucket"`
	TablePrefix *string `json:"table_prefix"`
	GCSPrefix   *string `json:"gcs_prefix"`

	// ProjectID is the project the GKE cluster is in. It is resolved from GCPConnID when nil.
	ProjectID *string `json:"project_id"`
	// Version of the destination table.
	Version   string `json:"version"`
	Streaming bool   `json:"streaming"`

	GCPConnID      string `json:"gcp_conn_id"`
	GKELocation    string `json:"gke_location"`
	GKEClusterName string `json:"gke_cluster_name"`
	GKENamespace   string `json:"gke_namespace"`
	DockerImage    string `json:"docker_image"`

	// Options are passed through to the pod operator. See gke.Options for accepted keys.
	Options map[string]interface{} `json:"options"`
}

// DefaultExportConfig returns an ExportConfig with every default filled in.
func DefaultExportConfig() ExportConfig {
	return ExportConfig{
		S3Bucket:       DefaultS3Bucket,
		GCSBucket:      DefaultGCSBucket,
		Version:        DefaultVersion,
		GCPConnID:      DefaultGCPConnID,
		GKELocation:    DefaultGKELocation,
		GKEClusterName: DefaultGKEClusterName,
		GKENamespace:   DefaultGKENamespace,
		DockerImage:    DefaultDockerImage,
	}
}

// UnmarshalJSON implements the json.Unmarshaler interface. Fields missing from data keep
// their defaults and unknown fields are rejected.
func (c *ExportConfig) UnmarshalJSON(data []byte) error {
	*c = DefaultExportConfig()
	type DefaultParser *ExportConfig
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(DefaultParser(c))
}

// Validate implements the check.Validatable interface.
func (c ExportConfig) Validate() []error {
	return []error{
		check.NotEmpty(c.BQDatasetID, "bq_dataset_id must be set"),
		check.NotEmpty(c.TaskID, "task_id must be set"),
		check.NotEmpty(c.BQProject, "bq_project must be set"),
	}
}

// Name is the pod operator name derived from the task id.
func (c ExportConfig) Name() string {
	return strings.ReplaceAll(c.TaskID, "_", "-")
}

// Arguments returns the command line of the export container. The date is left as a macro
// for the scheduler to render.
func Arguments(c ExportConfig) []string {
	args := []string{
		ToolName,
		Subcommand,
		"--date", gke.DateNoDashMacro,
		"--bucket", c.GCSBucket,
		"--bq-dataset", c.BQDatasetID,
		"--project", c.BQProject,
		"--s3-bucket", c.S3Bucket,
		"--version", c.Version,
	}

	if c.LeanplumAppID != nil {
		args = append(args, "--app-id", *c.LeanplumAppID)
	}
	if c.LeanplumClientKey != nil {
		args = append(args, "--client-key", *c.LeanplumClientKey)
	}
	if c.GCSPrefix != nil {
		args = append(args, "--prefix", *c.GCSPrefix)
	}
	if c.TablePrefix != nil {
		args = append(args, "--table-prefix", *c.TablePrefix)
	}
	if c.Streaming {
		args = append(args, "--streaming")
	}
	return args
}

// Export returns the pod operator for an export. When c.ProjectID is nil the project is
// resolved once from c.GCPConnID; resolver is not used otherwise and may be nil.
func Export(ctx context.Context, c ExportConfig, resolver gcp.ProjectResolver) (*gke.PodOperator, error) {
	if err := check.Validate(c); err != nil {
		return nil, err
	}

	options := make(map[string]interface{}, len(c.Options)+1)
	for k, v := range c.Options {
		options[k] = v
	}
	if _, ok := options["name"]; !ok {
		options["name"] = c.Name()
	}

	var projectID string
	if c.ProjectID != nil {
		projectID = *c.ProjectID
	} else {
		if resolver == nil {
			return nil, errors.Errorf("task %s: no project id and no resolver for connection %q",
				c.TaskID, c.GCPConnID)
		}
		var err error
		if projectID, err = resolver.ProjectID(ctx, c.GCPConnID); err != nil {
			return nil, errors.Wrapf(err, "task %s: resolving project of connection %q",
				c.TaskID, c.GCPConnID)
		}
		if projectID == "" {
			return nil, errors.Wrapf(gcp.ErrNoProject, "task %s: connection %q",
				c.TaskID, c.GCPConnID)
		}
		log.WithField("task-id", c.TaskID).Debugf(
			"resolved project %s from connection %s", projectID, c.GCPConnID)
	}

	return gke.NewPodOperator(gke.PodOperator{
		TaskID:      c.TaskID,
		GCPConnID:   c.GCPConnID,
		ProjectID:   projectID,
		Location:    c.GKELocation,
		ClusterName: c.GKEClusterName,
		Namespace:   c.GKENamespace,
		Image:       c.DockerImage,
		Arguments:   Arguments(c),
	}, options)
}
