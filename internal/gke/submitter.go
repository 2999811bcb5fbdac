package gke

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	k8sV1 "k8s.io/api/core/v1"
	k8serrors "k8s.io/apimachinery/pkg/api/errors"
	metaV1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	k8sClient "k8s.io/client-go/kubernetes"

	"github.com/mozilla/leanplum-tasks/pkg/logger"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultRetryDelay   = 2 * time.Second
)

// TaskSubmitter hands a PodOperator to a cluster for one execution date.
type TaskSubmitter interface {
	Submit(ctx context.Context, op *PodOperator, execDate time.Time) (*Submission, error)
}

// ClientSetFactory returns a client for the cluster an operator targets.
type ClientSetFactory func(ctx context.Context, op *PodOperator) (k8sClient.Interface, error)

// ErrDetachedSubmission is returned by Wait for a Submission that was not returned by Submit.
var ErrDetachedSubmission = errors.New("submission was not created by this submitter")

func podContext(op *PodOperator, pod *k8sV1.Pod) logger.Context {
	return logger.MergeContexts(op.logContext(), logger.Context{"pod": podRef(pod)})
}

// Submission is a pod created for an operator.
type Submission struct {
	Pod       *k8sV1.Pod
	Submitted time.Time

	op        *PodOperator
	clientSet k8sClient.Interface
}

// KubernetesSubmitter creates operator pods through the Kubernetes API.
type KubernetesSubmitter struct {
	clientSet    ClientSetFactory
	pollInterval time.Duration
	retryDelay   time.Duration
	now          func() time.Time
}

// NewKubernetesSubmitter returns a submitter that talks to clusters through factory.
func NewKubernetesSubmitter(factory ClientSetFactory) *KubernetesSubmitter {
	return &KubernetesSubmitter{
		clientSet:    factory,
		pollInterval: defaultPollInterval,
		retryDelay:   defaultRetryDelay,
		now:          time.Now,
	}
}

func retriable(err error) bool {
	return k8serrors.IsServerTimeout(err) ||
		k8serrors.IsTimeout(err) ||
		k8serrors.IsTooManyRequests(err) ||
		k8serrors.IsInternalError(err) ||
		k8serrors.IsServiceUnavailable(err)
}

// Submit creates the operator's pod. Creation is retried op.Options.Retries times on
// transient API errors.
func (s *KubernetesSubmitter) Submit(
	ctx context.Context, op *PodOperator, execDate time.Time,
) (*Submission, error) {
	pod, err := op.PodSpec(execDate)
	if err != nil {
		return nil, err
	}

	clientSet, err := s.clientSet(ctx, op)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to cluster %s for task %s", op.ClusterName, op.TaskID)
	}

	logCtx := log.WithFields(podContext(op, pod).Fields())
	pods := clientSet.CoreV1().Pods(pod.Namespace)
	for attempt := 0; ; attempt++ {
		created, err := pods.Create(ctx, pod, metaV1.CreateOptions{})
		if err == nil {
			logCtx.Infof("created pod for %s", op)
			return &Submission{Pod: created, Submitted: s.now(), op: op, clientSet: clientSet}, nil
		}
		if attempt >= op.Options.Retries || !retriable(err) {
			return nil, errors.Wrapf(err, "creating pod %s", podRef(pod))
		}
		logCtx.WithError(err).Warnf("creating pod failed, retrying (%d/%d)",
			attempt+1, op.Options.Retries)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.retryDelay):
		}
	}
}

// Wait blocks until the submitted pod finishes. It fails when the pod fails or stays pending
// longer than the operator's startup timeout. The pod is deleted afterwards when the operator
// asks for it.
func (s *KubernetesSubmitter) Wait(ctx context.Context, sub *Submission) error {
	if sub == nil || sub.op == nil || sub.clientSet == nil || sub.Pod == nil {
		return ErrDetachedSubmission
	}
	pods := sub.clientSet.CoreV1().Pods(sub.Pod.Namespace)
	name := sub.Pod.Name
	startDeadline := sub.Submitted.Add(sub.op.Options.StartupTimeout())
	logCtx := log.WithFields(podContext(sub.op, sub.Pod).Fields())

	err := wait.PollUntilContextCancel(ctx, s.pollInterval, true,
		func(ctx context.Context) (bool, error) {
			pod, err := pods.Get(ctx, name, metaV1.GetOptions{})
			switch {
			case err != nil && retriable(err):
				logCtx.WithError(err).Debug("transient error fetching pod")
				return false, nil
			case err != nil:
				return false, errors.Wrapf(err, "fetching pod %s", podRef(sub.Pod))
			}

			switch pod.Status.Phase {
			case k8sV1.PodSucceeded:
				logCtx.Info("pod succeeded")
				return true, nil
			case k8sV1.PodFailed:
				return false, errors.Errorf("pod %s failed: %s %s",
					podRef(pod), pod.Status.Reason, pod.Status.Message)
			case k8sV1.PodPending, "":
				if s.now().After(startDeadline) {
					return false, errors.Errorf("pod %s did not start within %s",
						podRef(pod), sub.op.Options.StartupTimeout())
				}
			}
			return false, nil
		})

	if sub.op.Options.IsDeleteOperatorPod {
		if dErr := pods.Delete(context.Background(), name, metaV1.DeleteOptions{}); dErr != nil &&
			!k8serrors.IsNotFound(dErr) {
			logCtx.WithError(dErr).Error("deleting pod")
		} else {
			logCtx.Debug("deleted pod")
		}
	}
	return err
}
