// Package gke describes containers run as pods on a GKE cluster, and submits them.
package gke

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/mozilla/leanplum-tasks/pkg/check"
	"github.com/mozilla/leanplum-tasks/pkg/logger"
)

// PodOperator describes a single container to run as a pod on a GKE cluster. It is a
// declarative record and does nothing until handed to a TaskSubmitter.
type PodOperator struct {
	TaskID      string
	GCPConnID   string
	ProjectID   string
	Location    string
	ClusterName string
	Namespace   string
	Image       string
	Arguments   []string

	Options Options
}

// NewPodOperator validates op and the caller options and returns the resulting descriptor.
// Option keys that a PodOperator does not accept are an error.
func NewPodOperator(op PodOperator, options map[string]interface{}) (*PodOperator, error) {
	opts, err := ParseOptions(options)
	if err != nil {
		return nil, errors.Wrapf(err, "task %s", op.TaskID)
	}
	op.Options = opts
	op.Arguments = append([]string(nil), op.Arguments...)

	if err := check.Validate(op); err != nil {
		return nil, errors.Wrapf(err, "task %s", op.TaskID)
	}
	return &op, nil
}

// Validate implements the check.Validatable interface.
func (o PodOperator) Validate() []error {
	return []error{
		check.NotEmpty(o.TaskID, "task id must be set"),
		check.NotEmpty(o.GCPConnID, "gcp connection id must be set"),
		check.NotEmpty(o.ProjectID, "project id must be set"),
		check.NotEmpty(o.Location, "cluster location must be set"),
		check.NotEmpty(o.ClusterName, "cluster name must be set"),
		check.NotEmpty(o.Namespace, "namespace must be set"),
		check.NotEmpty(o.Image, "image must be set"),
		check.NotEmpty(o.Options.Name, "name must be set"),
	}
}

// secretFlags are flags whose value must not end up in logs.
var secretFlags = map[string]bool{
	"--client-key": true,
}

// RedactedArguments returns the arguments with the values of secret flags masked.
func (o *PodOperator) RedactedArguments() []string {
	redacted := make([]string, len(o.Arguments))
	copy(redacted, o.Arguments)
	for i := 0; i < len(redacted)-1; i++ {
		if secretFlags[redacted[i]] {
			redacted[i+1] = "****"
			i++
		}
	}
	return redacted
}

// String implements fmt.Stringer without leaking secrets.
func (o *PodOperator) String() string {
	return o.TaskID + ": " + strings.Join(o.RedactedArguments(), " ")
}

func (o *PodOperator) logContext() logger.Context {
	return logger.Context{"task-id": o.TaskID, "cluster": o.ClusterName}
}
