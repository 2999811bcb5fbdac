package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ghodss/yaml"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mozilla/leanplum-tasks/internal/gcp"
	"github.com/mozilla/leanplum-tasks/internal/gke"
	"github.com/mozilla/leanplum-tasks/internal/leanplum"
	"github.com/mozilla/leanplum-tasks/internal/preflight"
)

// operators builds the pod operators of the selected exports.
func (a *app) operators(ctx context.Context, taskID string) ([]*gke.PodOperator, error) {
	exports, err := a.config.SelectExports(taskID)
	if err != nil {
		return nil, err
	}
	conns := gcp.NewConnections(a.config.Connections)

	ops := make([]*gke.PodOperator, 0, len(exports))
	for _, e := range exports {
		op, err := leanplum.Export(ctx, e, conns)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the configured exports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, e := range a.config.Exports {
				mode := "historical"
				if e.Streaming {
					mode = "streaming"
				}
				fmt.Fprintf(out, "%s\t%s.%s\t%s\n", e.TaskID, e.BQProject, e.BQDatasetID, mode)
			}
			return nil
		},
	}
}

func renderPods(out io.Writer, ops []*gke.PodOperator, date time.Time) error {
	for i, op := range ops {
		pod, err := op.PodSpec(date)
		if err != nil {
			return err
		}
		bs, err := yaml.Marshal(pod)
		if err != nil {
			return errors.Wrapf(err, "marshaling pod of task %s", op.TaskID)
		}
		if i > 0 {
			fmt.Fprintln(out, "---")
		}
		if _, err := out.Write(bs); err != nil {
			return err
		}
	}
	return nil
}

func newRenderCmd(a *app) *cobra.Command {
	var date, taskID string
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the pods of the exports for one execution date as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			execDate, err := parseDate(date, time.Now())
			if err != nil {
				return err
			}
			ops, err := a.operators(cmd.Context(), taskID)
			if err != nil {
				return err
			}
			return renderPods(cmd.OutOrStdout(), ops, execDate)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "execution date (YYYY-MM-DD), defaults to yesterday")
	cmd.Flags().StringVar(&taskID, "task-id", "", "only this export")
	return cmd
}

func newSubmitCmd(a *app) *cobra.Command {
	var date, taskID string
	var waitForPods bool
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Create the pods of the exports on their GKE clusters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			execDate, err := parseDate(date, time.Now())
			if err != nil {
				return err
			}
			ops, err := a.operators(cmd.Context(), taskID)
			if err != nil {
				return err
			}
			conns := gcp.NewConnections(a.config.Connections)
			submitter := gke.NewKubernetesSubmitter(gke.GKEClientSetFactory(conns))
			return submitAll(cmd.Context(), cmd.OutOrStdout(), submitter, ops, execDate, waitForPods)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "execution date (YYYY-MM-DD), defaults to yesterday")
	cmd.Flags().StringVar(&taskID, "task-id", "", "only this export")
	cmd.Flags().BoolVar(&waitForPods, "wait", false, "wait for the pods to finish")
	return cmd
}

type waitingSubmitter interface {
	gke.TaskSubmitter
	Wait(ctx context.Context, sub *gke.Submission) error
}

func submitAll(
	ctx context.Context,
	out io.Writer,
	submitter waitingSubmitter,
	ops []*gke.PodOperator,
	date time.Time,
	waitForPods bool,
) error {
	var result *multierror.Error
	var subs []*gke.Submission
	for _, op := range ops {
		sub, err := submitter.Submit(ctx, op, date)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		fmt.Fprintf(out, "%s\t%s/%s\n", op.TaskID, sub.Pod.Namespace, sub.Pod.Name)
		subs = append(subs, sub)
	}

	if waitForPods {
		for _, sub := range subs {
			if err := submitter.Wait(ctx, sub); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}

type closingChecker interface {
	preflight.BucketChecker
	Close() error
}

var (
	newGCSChecker = func(ctx context.Context) (closingChecker, error) {
		return preflight.NewGCSChecker(ctx)
	}
	newS3Checker = func(region string) (preflight.BucketChecker, error) {
		return preflight.NewS3Checker(region)
	}
)

func newPreflightCmd(a *app) *cobra.Command {
	var taskID string
	var skip []string
	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Check that the buckets of the exports exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			exports, err := a.config.SelectExports(taskID)
			if err != nil {
				return err
			}

			var checker preflight.Checker
			if !contains(skip, "gcs") {
				gcs, err := newGCSChecker(cmd.Context())
				if err != nil {
					return err
				}
				defer func() {
					if err := gcs.Close(); err != nil {
						log.WithError(err).Debug("closing GCS client")
					}
				}()
				checker.GCS = gcs
			}
			if !contains(skip, "s3") {
				if checker.S3, err = newS3Checker(a.config.AWSRegion); err != nil {
					return err
				}
			}

			if err := checker.Check(cmd.Context(), exports); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d exports ok\n", len(exports))
			return nil
		},
	}
	cmd.Flags().StringVar(&taskID, "task-id", "", "only this export")
	cmd.Flags().StringSliceVar(&skip, "skip", nil, "bucket kinds to skip (gcs, s3)")
	return cmd
}

func contains(xs []string, x string) bool {
	for _, y := range xs {
		if strings.EqualFold(y, x) {
			return true
		}
	}
	return false
}
