package gke

import (
	"encoding/json"
	"time"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
	k8sV1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/mozilla/leanplum-tasks/pkg/check"
)

// DefaultStartupTimeout bounds how long a submitted pod may stay pending.
const DefaultStartupTimeout = 120 * time.Second

// Options are the optional settings a caller may pass through to a PodOperator on top of
// the fields its builder computes.
type Options struct {
	Name                  string            `json:"name"`
	Labels                map[string]string `json:"labels"`
	Annotations           map[string]string `json:"annotations"`
	EnvVars               map[string]string `json:"env_vars"`
	NodeSelectors         map[string]string `json:"node_selectors"`
	ImagePullPolicy       string            `json:"image_pull_policy"`
	ServiceAccountName    string            `json:"service_account_name"`
	Resources             *Resources        `json:"resources"`
	StartupTimeoutSeconds int               `json:"startup_timeout_seconds"`
	Retries               int               `json:"retries"`
	IsDeleteOperatorPod   bool              `json:"is_delete_operator_pod"`
}

// Resources are the container resource requests and limits, as Kubernetes quantities.
type Resources struct {
	RequestCPU    string `json:"request_cpu"`
	RequestMemory string `json:"request_memory"`
	LimitCPU      string `json:"limit_cpu"`
	LimitMemory   string `json:"limit_memory"`
}

// ParseOptions decodes a generic option map. Keys that are not fields of Options are rejected
// instead of being forwarded.
func ParseOptions(raw map[string]interface{}) (Options, error) {
	var opts Options
	if len(raw) == 0 {
		return opts, nil
	}
	bs, err := json.Marshal(raw)
	if err != nil {
		return opts, errors.Wrap(err, "cannot marshal pod operator options")
	}
	if err := yaml.Unmarshal(bs, &opts, yaml.DisallowUnknownFields); err != nil {
		return opts, errors.Wrap(err, "invalid pod operator options")
	}
	return opts, nil
}

// Validate implements the check.Validatable interface.
func (o Options) Validate() []error {
	errs := []error{
		check.GreaterThanOrEqualTo(o.StartupTimeoutSeconds, 0,
			"startup_timeout_seconds must be >= 0"),
		check.GreaterThanOrEqualTo(o.Retries, 0, "retries must be >= 0"),
	}
	if o.ImagePullPolicy != "" {
		errs = append(errs, check.Contains(
			k8sV1.PullPolicy(o.ImagePullPolicy),
			[]interface{}{k8sV1.PullAlways, k8sV1.PullIfNotPresent, k8sV1.PullNever},
			"invalid image_pull_policy",
		))
	}
	return errs
}

// StartupTimeout returns the configured startup timeout or DefaultStartupTimeout.
func (o Options) StartupTimeout() time.Duration {
	if o.StartupTimeoutSeconds == 0 {
		return DefaultStartupTimeout
	}
	return time.Duration(o.StartupTimeoutSeconds) * time.Second
}

// Validate implements the check.Validatable interface.
func (r Resources) Validate() []error {
	var errs []error
	for name, q := range map[string]string{
		"request_cpu":    r.RequestCPU,
		"request_memory": r.RequestMemory,
		"limit_cpu":      r.LimitCPU,
		"limit_memory":   r.LimitMemory,
	} {
		if q == "" {
			continue
		}
		if _, err := resource.ParseQuantity(q); err != nil {
			errs = append(errs, errors.Wrapf(err, "invalid %s %q", name, q))
		}
	}
	return errs
}

func (r *Resources) requirements() k8sV1.ResourceRequirements {
	var req k8sV1.ResourceRequirements
	if r == nil {
		return req
	}
	add := func(list *k8sV1.ResourceList, name k8sV1.ResourceName, q string) {
		if q == "" {
			return
		}
		if *list == nil {
			*list = k8sV1.ResourceList{}
		}
		(*list)[name] = resource.MustParse(q)
	}
	add(&req.Requests, k8sV1.ResourceCPU, r.RequestCPU)
	add(&req.Requests, k8sV1.ResourceMemory, r.RequestMemory)
	add(&req.Limits, k8sV1.ResourceCPU, r.LimitCPU)
	add(&req.Limits, k8sV1.ResourceMemory, r.LimitMemory)
	return req
}
