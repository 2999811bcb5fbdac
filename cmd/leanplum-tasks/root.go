package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/ghodss/yaml"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mozilla/leanplum-tasks/internal/config"
	"github.com/mozilla/leanplum-tasks/internal/gcp"
	"github.com/mozilla/leanplum-tasks/pkg/check"
	"github.com/mozilla/leanplum-tasks/pkg/logger"
)

const defaultConfigPath = "/etc/leanplum-tasks/config.yaml"

// version is set at link time.
var version = "dev"

type app struct {
	v      *viper.Viper
	config *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:           "leanplum-tasks",
		Short:         "Render, check and submit Leanplum export tasks on GKE",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initialize()
		},
	}
	a.v = registerConfig(rootCmd.PersistentFlags())

	rootCmd.AddCommand(
		newListCmd(a),
		newRenderCmd(a),
		newSubmitCmd(a),
		newPreflightCmd(a),
	)
	return rootCmd
}

func (a *app) initialize() error {
	c, err := initializeConfig(a.v)
	if err != nil {
		return err
	}
	logger.SetLogrus(c.Log)

	printable, err := c.Printable()
	if err != nil {
		return err
	}
	log.Debugf("configuration: %s", printable)
	a.config = c
	return nil
}

// initializeConfig returns the validated configuration populated from the config file,
// environment variables and command line flags.
func initializeConfig(v *viper.Viper) (*config.Config, error) {
	// Fetch an initial config to get the config file path and read its settings into viper.
	initialConfig, err := getConfig(v.AllSettings())
	if err != nil {
		return nil, err
	}

	bs, err := readConfigFile(initialConfig.ConfigFile)
	if err != nil {
		return nil, err
	}
	if err = mergeConfigBytesIntoViper(v, bs); err != nil {
		return nil, err
	}

	c, err := getConfig(v.AllSettings())
	if err != nil {
		return nil, err
	}
	if err := restoreConnectionIDs(c, bs); err != nil {
		return nil, err
	}
	if c.ConfigFile == "" && bs != nil {
		c.ConfigFile = defaultConfigPath
	}
	if err := c.Resolve(); err != nil {
		return nil, err
	}
	if err := check.Validate(c); err != nil {
		return nil, err
	}
	return c, nil
}

func readConfigFile(configPath string) ([]byte, error) {
	isDefault := configPath == ""
	if isDefault {
		configPath = defaultConfigPath
	}

	if _, err := os.Stat(configPath); err != nil {
		if isDefault && os.IsNotExist(err) {
			log.Debugf("no configuration file at %s, skipping", configPath)
			return nil, nil
		}
		return nil, errors.Wrap(err, "error finding configuration file")
	}
	bs, err := os.ReadFile(configPath) // #nosec G304
	if err != nil {
		return nil, errors.Wrap(err, "error reading configuration file")
	}
	return bs, nil
}

func mergeConfigBytesIntoViper(v *viper.Viper, bs []byte) error {
	var configMap map[string]interface{}
	if err := yaml.Unmarshal(bs, &configMap); err != nil {
		return errors.Wrap(err, "error unmarshal yaml configuration file")
	}
	if err := v.MergeConfigMap(configMap); err != nil {
		return errors.Wrap(err, "error merge configuration to viper")
	}
	return nil
}

// restoreConnectionIDs replaces the connections read through viper, whose map keys are
// lowercased, with the ones from the config file. Connection ids are case sensitive.
func restoreConnectionIDs(c *config.Config, bs []byte) error {
	if bs == nil {
		return nil
	}
	var raw struct {
		Connections map[string]gcp.Connection `json:"connections"`
	}
	if err := yaml.Unmarshal(bs, &raw); err != nil {
		return errors.Wrap(err, "cannot unmarshal connections")
	}
	if raw.Connections == nil {
		return nil
	}
	c.Connections = config.DefaultConfig().Connections
	for id, conn := range raw.Connections {
		c.Connections[id] = conn
	}
	return nil
}

func getConfig(configMap map[string]interface{}) (*config.Config, error) {
	c := config.DefaultConfig()
	bs, err := json.Marshal(configMap)
	if err != nil {
		return nil, errors.Wrap(err, "cannot marshal configuration map into json bytes")
	}
	if err = yaml.Unmarshal(bs, c, yaml.DisallowUnknownFields); err != nil {
		return nil, errors.Wrap(err, "cannot unmarshal configuration")
	}
	return c, nil
}

// parseDate parses an execution date. An empty value means yesterday, the last complete day.
func parseDate(value string, now time.Time) (time.Time, error) {
	if value == "" {
		y, m, d := now.UTC().AddDate(0, 0, -1).Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	date, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid date %q, expected YYYY-MM-DD", value)
	}
	return date, nil
}
