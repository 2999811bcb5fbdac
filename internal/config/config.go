// Package config holds the configuration of leanplum-tasks.
package config

import (
	"encoding/json"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/mozilla/leanplum-tasks/internal/gcp"
	"github.com/mozilla/leanplum-tasks/internal/leanplum"
	"github.com/mozilla/leanplum-tasks/internal/preflight"
	"github.com/mozilla/leanplum-tasks/pkg/check"
	"github.com/mozilla/leanplum-tasks/pkg/logger"
	"github.com/mozilla/leanplum-tasks/pkg/ptrs"
)

const hiddenValue = "********"

// Config is the configuration of leanplum-tasks.
type Config struct {
	ConfigFile string        `json:"config_file"`
	Log        logger.Config `json:"log"`
	AWSRegion  string        `json:"aws_region"`

	Connections map[string]gcp.Connection `json:"connections"`
	Exports     []leanplum.ExportConfig   `json:"exports"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Log:       *logger.DefaultConfig(),
		AWSRegion: preflight.DefaultAWSRegion,
		Connections: map[string]gcp.Connection{
			leanplum.DefaultGCPConnID: {},
		},
	}
}

// Validate implements the check.Validatable interface.
func (c Config) Validate() []error {
	var errs []error
	seen := map[string]bool{}
	for _, e := range c.Exports {
		_, known := c.Connections[e.GCPConnID]
		errs = append(errs,
			check.True(!seen[e.TaskID], "duplicate task_id %s", e.TaskID),
			check.True(known, "export %s uses unknown connection %q", e.TaskID, e.GCPConnID),
		)
		seen[e.TaskID] = true
	}
	return errs
}

// Resolve resolves the values in the configuration. Relative key files are taken relative
// to the directory of the configuration file.
func (c *Config) Resolve() error {
	if c.ConfigFile == "" {
		return nil
	}
	base, err := filepath.Abs(filepath.Dir(c.ConfigFile))
	if err != nil {
		return errors.Wrap(err, "resolving configuration directory")
	}
	for id, conn := range c.Connections {
		if conn.KeyFile != "" && !filepath.IsAbs(conn.KeyFile) {
			conn.KeyFile = filepath.Join(base, conn.KeyFile)
			c.Connections[id] = conn
		}
	}
	return nil
}

// Printable returns the configuration as JSON with secrets hidden.
func (c Config) Printable() ([]byte, error) {
	exports := make([]leanplum.ExportConfig, 0, len(c.Exports))
	for _, e := range c.Exports {
		if e.LeanplumClientKey != nil {
			// Replace the pointer, not the value behind it, which the caller still owns.
			e.LeanplumClientKey = ptrs.Ptr(hiddenValue)
		}
		exports = append(exports, e)
	}
	c.Exports = exports

	optJSON, err := json.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "unable to convert config to JSON")
	}
	return optJSON, nil
}

// Export returns the export with the given task id.
func (c *Config) Export(taskID string) (leanplum.ExportConfig, error) {
	for _, e := range c.Exports {
		if e.TaskID == taskID {
			return e, nil
		}
	}
	return leanplum.ExportConfig{}, errors.Errorf("no export with task_id %s", taskID)
}

// SelectExports returns the export with the given task id, or all exports when taskID is
// empty.
func (c *Config) SelectExports(taskID string) ([]leanplum.ExportConfig, error) {
	if taskID == "" {
		return c.Exports, nil
	}
	e, err := c.Export(taskID)
	if err != nil {
		return nil, err
	}
	return []leanplum.ExportConfig{e}, nil
}
