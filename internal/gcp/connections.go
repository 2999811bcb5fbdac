// Package gcp resolves connection ids into Google Cloud credentials and projects.
package gcp

import (
	"context"
	"os"
	"sort"
	"strings"

	"cloud.google.com/go/compute/metadata"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2/google"
)

// DefaultScopes are requested when a connection does not list its own.
var DefaultScopes = []string{"https://www.googleapis.com/auth/cloud-platform"}

var (
	// ErrUnknownConnection is returned for a connection id that is not configured.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrNoProject is returned when no source yields a project for a connection.
	ErrNoProject = errors.New("no project could be resolved")
)

// ProjectResolver maps a connection id to the GCP project it operates in.
type ProjectResolver interface {
	ProjectID(ctx context.Context, connID string) (string, error)
}

// CredentialsProvider maps a connection id to credentials usable for API calls.
type CredentialsProvider interface {
	Credentials(ctx context.Context, connID string) (*google.Credentials, error)
}

// Connection describes how to authenticate as one connection id.
type Connection struct {
	// Project overrides any project carried by the credentials.
	Project string `json:"project"`
	// KeyFile is a service account JSON key. Application default credentials are used when
	// it is empty.
	KeyFile string   `json:"key_file"`
	Scopes  []string `json:"scopes"`
}

// Validate implements the check.Validatable interface.
func (c Connection) Validate() []error {
	if c.KeyFile == "" {
		return nil
	}
	if _, err := os.Stat(c.KeyFile); err != nil {
		return []error{errors.Wrapf(err, "key file %s is not readable", c.KeyFile)}
	}
	return nil
}

func (c Connection) scopes() []string {
	if len(c.Scopes) == 0 {
		return DefaultScopes
	}
	return c.Scopes
}

// Connections is a registry of configured connections. It implements both ProjectResolver
// and CredentialsProvider.
type Connections struct {
	conns map[string]Connection

	readFile        func(string) ([]byte, error)
	findDefault     func(context.Context, ...string) (*google.Credentials, error)
	onGCE           func() bool
	metadataProject func() (string, error)
}

// NewConnections returns a registry over conns.
func NewConnections(conns map[string]Connection) *Connections {
	copied := make(map[string]Connection, len(conns))
	for id, c := range conns {
		copied[id] = c
	}
	return &Connections{
		conns:           copied,
		readFile:        os.ReadFile,
		findDefault:     google.FindDefaultCredentials,
		onGCE:           metadata.OnGCE,
		metadataProject: metadata.ProjectID,
	}
}

// IDs returns the configured connection ids in sorted order.
func (c *Connections) IDs() []string {
	ids := make([]string, 0, len(c.conns))
	for id := range c.conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Connections) lookup(connID string) (Connection, error) {
	conn, ok := c.conns[connID]
	if !ok {
		return Connection{}, errors.Wrapf(ErrUnknownConnection, "connection %q (configured: %s)",
			connID, strings.Join(c.IDs(), ", "))
	}
	return conn, nil
}

// Credentials returns the credentials of a connection.
func (c *Connections) Credentials(ctx context.Context, connID string) (*google.Credentials, error) {
	conn, err := c.lookup(connID)
	if err != nil {
		return nil, err
	}

	if conn.KeyFile == "" {
		creds, err := c.findDefault(ctx, conn.scopes()...)
		if err != nil {
			return nil, errors.Wrapf(err, "finding default credentials for connection %q", connID)
		}
		return creds, nil
	}

	bs, err := c.readFile(conn.KeyFile)
	if err != nil {
		return nil, errors.Wrapf(err, "reading key file for connection %q", connID)
	}
	creds, err := google.CredentialsFromJSON(ctx, bs, conn.scopes()...)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing key file for connection %q", connID)
	}
	return creds, nil
}

// ProjectID resolves the project of a connection. The explicit project wins, then the
// project carried by the credentials, then the metadata server when running on GCE.
func (c *Connections) ProjectID(ctx context.Context, connID string) (string, error) {
	conn, err := c.lookup(connID)
	if err != nil {
		return "", err
	}
	if conn.Project != "" {
		return conn.Project, nil
	}

	creds, err := c.Credentials(ctx, connID)
	switch {
	case err != nil && conn.KeyFile != "":
		return "", err
	case err != nil:
		log.WithError(err).WithField("connection", connID).
			Debug("no default credentials, falling back to metadata server")
	case creds.ProjectID != "":
		return creds.ProjectID, nil
	}

	if c.onGCE() {
		project, err := c.metadataProject()
		if err != nil {
			return "", errors.Wrapf(err, "querying metadata server for connection %q", connID)
		}
		if project != "" {
			return project, nil
		}
	}
	return "", errors.Wrapf(ErrNoProject, "connection %q", connID)
}
