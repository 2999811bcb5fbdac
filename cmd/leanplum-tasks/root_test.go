package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"gotest.tools/assert"

	"github.com/mozilla/leanplum-tasks/internal/gke"
	"github.com/mozilla/leanplum-tasks/internal/leanplum"
	"github.com/mozilla/leanplum-tasks/internal/preflight"
)

const testConfig = `
log:
  level: warn
connections:
  google_cloud_derived_datasets:
    project: moz-fx-data-derived-datasets
exports:
  - task_id: export_leanplum_fennec
    bq_dataset_id: firefox_android_external
    bq_project: moz-fx-data-shared-prod
    leanplum_app_id: A1
    leanplum_client_key: K1
  - task_id: export_leanplum_fenix
    bq_dataset_id: fenix_external
    bq_project: moz-fx-data-shared-prod
    streaming: true
    project_id: moz-fx-explicit
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

// registerConfigWith registers the configuration flags on a fresh flag set and sets the
// given flag name/value pairs.
func registerConfigWith(t *testing.T, kv ...string) *viper.Viper {
	t.Helper()
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	v := registerConfig(flags)
	for i := 0; i+1 < len(kv); i += 2 {
		require.NoError(t, flags.Set(kv[i], kv[i+1]))
	}
	return v
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInitializeConfigFromFile(t *testing.T) {
	path := writeConfig(t, testConfig)
	c, err := initializeConfig(registerConfigWith(t, "config-file", path))
	require.NoError(t, err)
	assert.Equal(t, c.Log.Level, "warn")
	assert.Equal(t, len(c.Exports), 2)
	assert.Equal(t, c.Connections[leanplum.DefaultGCPConnID].Project, "moz-fx-data-derived-datasets")
	assert.Equal(t, c.AWSRegion, "us-west-2")
}

func TestInitializeConfigFlagsWinOverFile(t *testing.T) {
	path := writeConfig(t, testConfig)
	v := registerConfigWith(t, "config-file", path, "log-level", "error")
	c, err := initializeConfig(v)
	require.NoError(t, err)
	assert.Equal(t, c.Log.Level, "error")
}

func TestInitializeConfigEnv(t *testing.T) {
	t.Setenv("LEANPLUM_TASKS_AWS_REGION", "eu-west-1")
	v := registerConfigWith(t, "config-file", writeConfig(t, "exports: []"))
	c, err := initializeConfig(v)
	require.NoError(t, err)
	assert.Equal(t, c.AWSRegion, "eu-west-1")
}

func TestInitializeConfigMissingFile(t *testing.T) {
	v := registerConfigWith(t, "config-file", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := initializeConfig(v)
	assert.ErrorContains(t, err, "error finding configuration file")
}

func TestInitializeConfigInvalid(t *testing.T) {
	v := registerConfigWith(t, "config-file", writeConfig(t, `
exports:
  - task_id: a
`))
	_, err := initializeConfig(v)
	assert.ErrorContains(t, err, "bq_dataset_id must be set")
}

func TestList(t *testing.T) {
	out, err := run(t, "list", "--config-file", writeConfig(t, testConfig))
	require.NoError(t, err)
	assert.Equal(t, out, "export_leanplum_fennec\tmoz-fx-data-shared-prod.firefox_android_external\thistorical\n"+
		"export_leanplum_fenix\tmoz-fx-data-shared-prod.fenix_external\tstreaming\n")
}

func TestRender(t *testing.T) {
	out, err := run(t, "render", "--config-file", writeConfig(t, testConfig), "--date", "2020-03-14")
	require.NoError(t, err)

	docs := strings.Split(out, "\n---\n")
	require.Len(t, docs, 2)
	require.Contains(t, docs[0], "name: export-leanplum-fennec-")
	require.Contains(t, docs[0], "- \"20200314\"")
	require.Contains(t, docs[0], "- --app-id")
	require.Contains(t, docs[1], "- --streaming")
	require.Contains(t, docs[1], "leanplum-tasks/execution-date: \"20200314\"")
}

func TestRenderSingleTask(t *testing.T) {
	out, err := run(t, "render", "--config-file", writeConfig(t, testConfig),
		"--date", "2020-03-14", "--task-id", "export_leanplum_fenix")
	require.NoError(t, err)
	require.NotContains(t, out, "---")
	require.Contains(t, out, "export-leanplum-fenix-")
}

func TestRenderBadDate(t *testing.T) {
	_, err := run(t, "render", "--config-file", writeConfig(t, testConfig), "--date", "14/03/2020")
	assert.ErrorContains(t, err, "expected YYYY-MM-DD")
}

func TestParseDate(t *testing.T) {
	now := time.Date(2020, 3, 15, 13, 0, 0, 0, time.UTC)
	d, err := parseDate("", now)
	require.NoError(t, err)
	assert.Equal(t, d, time.Date(2020, 3, 14, 0, 0, 0, 0, time.UTC))

	d, err = parseDate("2019-12-31", now)
	require.NoError(t, err)
	assert.Equal(t, d.Format("20060102"), "20191231")
}

type fakeSubmitter struct {
	failTask string
	waitErr  error
	waited   []string
}

func (f *fakeSubmitter) Submit(_ context.Context, op *gke.PodOperator, date time.Time) (*gke.Submission, error) {
	if op.TaskID == f.failTask {
		return nil, errors.Errorf("cannot submit %s", op.TaskID)
	}
	pod, err := op.PodSpec(date)
	if err != nil {
		return nil, err
	}
	return &gke.Submission{Pod: pod, Submitted: date}, nil
}

func (f *fakeSubmitter) Wait(_ context.Context, sub *gke.Submission) error {
	f.waited = append(f.waited, sub.Pod.Name)
	return f.waitErr
}

func testOperators(t *testing.T, taskIDs ...string) []*gke.PodOperator {
	var ops []*gke.PodOperator
	for _, id := range taskIDs {
		c := leanplum.DefaultExportConfig()
		c.TaskID = id
		c.BQDatasetID = "lp"
		c.BQProject = "proj"
		project := "p"
		c.ProjectID = &project
		op, err := leanplum.Export(context.Background(), c, nil)
		require.NoError(t, err)
		ops = append(ops, op)
	}
	return ops
}

func TestSubmitAll(t *testing.T) {
	s := &fakeSubmitter{failTask: "b"}
	var out bytes.Buffer
	err := submitAll(context.Background(), &out, s, testOperators(t, "a", "b", "c"),
		time.Date(2020, 3, 14, 0, 0, 0, 0, time.UTC), true)

	assert.ErrorContains(t, err, "cannot submit b")
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Equal(t, len(lines), 2)
	assert.Assert(t, strings.HasPrefix(lines[0], "a\tdefault/a-"))
	assert.Equal(t, len(s.waited), 2)
}

func TestSubmitAllWithoutWait(t *testing.T) {
	s := &fakeSubmitter{waitErr: errors.New("should not wait")}
	err := submitAll(context.Background(), &bytes.Buffer{}, s, testOperators(t, "a"),
		time.Now(), false)
	require.NoError(t, err)
	assert.Equal(t, len(s.waited), 0)
}


func TestInitializeConfigKeepsConnectionIDCase(t *testing.T) {
	path := writeConfig(t, `
connections:
  Derived_Datasets:
    project: moz-fx-data-derived-datasets
exports:
  - task_id: export_leanplum_fennec
    bq_dataset_id: firefox_android_external
    bq_project: moz-fx-data-shared-prod
    gcp_conn_id: Derived_Datasets
`)
	c, err := initializeConfig(registerConfigWith(t, "config-file", path))
	require.NoError(t, err)
	require.Contains(t, c.Connections, "Derived_Datasets")
	require.NotContains(t, c.Connections, "derived_datasets")
	require.Contains(t, c.Connections, leanplum.DefaultGCPConnID)
	assert.Equal(t, c.Connections["Derived_Datasets"].Project, "moz-fx-data-derived-datasets")
}

type fakeBucketChecker struct {
	missing map[string]bool
	checked []string
	closed  bool
}

func (f *fakeBucketChecker) BucketExists(_ context.Context, bucket string) error {
	f.checked = append(f.checked, bucket)
	if f.missing[bucket] {
		return preflight.ErrBucketNotFound
	}
	return nil
}

func (f *fakeBucketChecker) Close() error {
	f.closed = true
	return nil
}

func fakeCheckers(t *testing.T, gcs, s3 *fakeBucketChecker) {
	t.Helper()
	origGCS, origS3 := newGCSChecker, newS3Checker
	t.Cleanup(func() { newGCSChecker, newS3Checker = origGCS, origS3 })
	newGCSChecker = func(context.Context) (closingChecker, error) { return gcs, nil }
	newS3Checker = func(string) (preflight.BucketChecker, error) { return s3, nil }
}

func TestPreflight(t *testing.T) {
	gcs, s3 := &fakeBucketChecker{}, &fakeBucketChecker{}
	fakeCheckers(t, gcs, s3)

	out, err := run(t, "preflight", "--config-file", writeConfig(t, testConfig))
	require.NoError(t, err)
	assert.Equal(t, out, "2 exports ok\n")
	require.Equal(t, []string{leanplum.DefaultGCSBucket}, gcs.checked)
	require.Equal(t, []string{leanplum.DefaultS3Bucket}, s3.checked)
	assert.Assert(t, gcs.closed)
}

func TestPreflightMissingBucket(t *testing.T) {
	gcs := &fakeBucketChecker{missing: map[string]bool{leanplum.DefaultGCSBucket: true}}
	fakeCheckers(t, gcs, &fakeBucketChecker{})

	_, err := run(t, "preflight", "--config-file", writeConfig(t, testConfig))
	require.ErrorIs(t, err, preflight.ErrBucketNotFound)
	require.Contains(t, err.Error(), "gcs bucket "+leanplum.DefaultGCSBucket)
}

func TestPreflightSkip(t *testing.T) {
	gcs, s3 := &fakeBucketChecker{}, &fakeBucketChecker{}
	fakeCheckers(t, gcs, s3)

	_, err := run(t, "preflight", "--config-file", writeConfig(t, testConfig), "--skip", "gcs,S3")
	require.NoError(t, err)
	require.Empty(t, gcs.checked)
	require.Empty(t, s3.checked)
}
