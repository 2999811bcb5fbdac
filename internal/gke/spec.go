package gke

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	petName "github.com/dustinkirkland/golang-petname"
	"github.com/pkg/errors"
	k8sV1 "k8s.io/api/core/v1"
	metaV1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/validation"
)

const (
	// ContainerName is the name of the single container of every pod.
	ContainerName = "base"
	// TaskIDLabel carries the task id on submitted pods.
	TaskIDLabel = "leanplum-tasks/task-id"
	// ExecutionDateLabel carries the rendered execution date on submitted pods.
	ExecutionDateLabel = "leanplum-tasks/execution-date"
)

var (
	invalidNameChars  = regexp.MustCompile(`[^a-z0-9-]+`)
	invalidLabelChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)
)

// nameSuffix makes pod names unique across runs of the same task.
var nameSuffix = func() string {
	return petName.Generate(2, "-")
}

func podName(base string) string {
	name := invalidNameChars.ReplaceAllString(strings.ToLower(base), "-")
	name = strings.Trim(name, "-")
	suffix := "-" + nameSuffix()
	if limit := validation.DNS1123LabelMaxLength - len(suffix); len(name) > limit {
		name = strings.TrimRight(name[:limit], "-")
	}
	return name + suffix
}

func labelValue(value string) string {
	value = invalidLabelChars.ReplaceAllString(value, "-")
	if len(value) > validation.LabelValueMaxLength {
		value = value[:validation.LabelValueMaxLength]
	}
	return strings.Trim(value, "-_.")
}

func sortedEnv(vars map[string]string) []k8sV1.EnvVar {
	env := make([]k8sV1.EnvVar, 0, len(vars))
	for k, v := range vars {
		env = append(env, k8sV1.EnvVar{Name: k, Value: v})
	}
	sort.Slice(env, func(i, j int) bool { return env[i].Name < env[j].Name })
	return env
}

// PodSpec returns the pod that runs the operator for one execution date.
func (o *PodOperator) PodSpec(execDate time.Time) (*k8sV1.Pod, error) {
	args, err := o.Render(execDate)
	if err != nil {
		return nil, err
	}

	name := podName(o.Options.Name)
	if errs := validation.IsDNS1123Label(name); len(errs) > 0 {
		return nil, errors.Errorf("invalid pod name %q: %s", name, strings.Join(errs, ", "))
	}

	labels := make(map[string]string, len(o.Options.Labels)+2)
	for k, v := range o.Options.Labels {
		labels[k] = v
	}
	labels[TaskIDLabel] = labelValue(o.TaskID)
	labels[ExecutionDateLabel] = execDate.Format("20060102")
	for k, v := range labels {
		if errs := validation.IsQualifiedName(k); len(errs) > 0 {
			return nil, errors.Errorf("invalid label key %q: %s", k, strings.Join(errs, ", "))
		}
		if errs := validation.IsValidLabelValue(v); len(errs) > 0 {
			return nil, errors.Errorf("invalid label %s=%q: %s", k, v, strings.Join(errs, ", "))
		}
	}

	container := k8sV1.Container{
		Name:            ContainerName,
		Image:           o.Image,
		Args:            args,
		Env:             sortedEnv(o.Options.EnvVars),
		ImagePullPolicy: k8sV1.PullPolicy(o.Options.ImagePullPolicy),
		Resources:       o.Options.Resources.requirements(),
	}

	return &k8sV1.Pod{
		TypeMeta: metaV1.TypeMeta{Kind: "Pod", APIVersion: "v1"},
		ObjectMeta: metaV1.ObjectMeta{
			Name:        name,
			Namespace:   o.Namespace,
			Labels:      labels,
			Annotations: o.Options.Annotations,
		},
		Spec: k8sV1.PodSpec{
			Containers:         []k8sV1.Container{container},
			RestartPolicy:      k8sV1.RestartPolicyNever,
			NodeSelector:       o.Options.NodeSelectors,
			ServiceAccountName: o.Options.ServiceAccountName,
		},
	}, nil
}

// podRef formats the coordinates of a pod for logs.
func podRef(pod *k8sV1.Pod) string {
	return fmt.Sprintf("%s/%s", pod.Namespace, pod.Name)
}
