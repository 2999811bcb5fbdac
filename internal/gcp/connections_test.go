package gcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2/google"
)

const serviceAccountKey = `{
  "type": "service_account",
  "project_id": "moz-fx-from-key",
  "private_key_id": "abc",
  "private_key": "not-a-real-key",
  "client_email": "export@moz-fx-from-key.iam.gserviceaccount.com",
  "client_id": "1",
  "token_uri": "https://oauth2.googleapis.com/token"
}`

func newTestConnections(conns map[string]Connection) *Connections {
	c := NewConnections(conns)
	c.findDefault = func(context.Context, ...string) (*google.Credentials, error) {
		return nil, errors.New("no default credentials in tests")
	}
	c.onGCE = func() bool { return false }
	c.metadataProject = func() (string, error) {
		return "", errors.New("not on GCE")
	}
	return c
}

func TestProjectIDExplicit(t *testing.T) {
	c := newTestConnections(map[string]Connection{
		"google_cloud_derived_datasets": {Project: "moz-fx-data-derived-datasets"},
	})
	c.findDefault = func(context.Context, ...string) (*google.Credentials, error) {
		t.Fatal("credentials must not be looked up when the project is explicit")
		return nil, nil
	}

	project, err := c.ProjectID(context.Background(), "google_cloud_derived_datasets")
	require.NoError(t, err)
	require.Equal(t, "moz-fx-data-derived-datasets", project)
}

func TestProjectIDUnknownConnection(t *testing.T) {
	c := newTestConnections(nil)
	_, err := c.ProjectID(context.Background(), "missing")
	require.ErrorIs(t, err, ErrUnknownConnection)
	require.Contains(t, err.Error(), `"missing"`)
}

func TestProjectIDFromDefaultCredentials(t *testing.T) {
	c := newTestConnections(map[string]Connection{"adc": {}})
	var gotScopes []string
	c.findDefault = func(_ context.Context, scopes ...string) (*google.Credentials, error) {
		gotScopes = scopes
		return &google.Credentials{ProjectID: "moz-fx-adc"}, nil
	}

	project, err := c.ProjectID(context.Background(), "adc")
	require.NoError(t, err)
	require.Equal(t, "moz-fx-adc", project)
	require.Equal(t, DefaultScopes, gotScopes)
}

func TestProjectIDFromKeyFile(t *testing.T) {
	keyFile := filepath.Join(t.TempDir(), "key.json")
	require.NoError(t, os.WriteFile(keyFile, []byte(serviceAccountKey), 0o600))

	c := newTestConnections(map[string]Connection{"sa": {KeyFile: keyFile}})
	project, err := c.ProjectID(context.Background(), "sa")
	require.NoError(t, err)
	require.Equal(t, "moz-fx-from-key", project)
	require.Empty(t, Connection{KeyFile: keyFile}.Validate())
}

func TestProjectIDKeyFileMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.json")
	c := newTestConnections(map[string]Connection{"sa": {KeyFile: missing}})
	c.onGCE = func() bool { return true }
	c.metadataProject = func() (string, error) {
		t.Fatal("a broken key file must not fall back to the metadata server")
		return "", nil
	}

	_, err := c.ProjectID(context.Background(), "sa")
	require.Error(t, err)
	require.Len(t, Connection{KeyFile: missing}.Validate(), 1)
}

func TestProjectIDFromMetadata(t *testing.T) {
	c := newTestConnections(map[string]Connection{"gce": {}})
	c.onGCE = func() bool { return true }
	c.metadataProject = func() (string, error) { return "moz-fx-gce", nil }

	project, err := c.ProjectID(context.Background(), "gce")
	require.NoError(t, err)
	require.Equal(t, "moz-fx-gce", project)
}

func TestProjectIDNothingResolves(t *testing.T) {
	c := newTestConnections(map[string]Connection{"adc": {}})
	c.findDefault = func(context.Context, ...string) (*google.Credentials, error) {
		return &google.Credentials{}, nil
	}

	_, err := c.ProjectID(context.Background(), "adc")
	require.ErrorIs(t, err, ErrNoProject)
}

func TestUnknownConnectionListsConfiguredIDs(t *testing.T) {
	c := NewConnections(map[string]Connection{"b": {}, "a": {}})
	require.Equal(t, []string{"a", "b"}, c.IDs())

	_, err := c.Credentials(context.Background(), "A")
	require.ErrorIs(t, err, ErrUnknownConnection)
	require.Contains(t, err.Error(), `connection "A" (configured: a, b)`)
}
