package main

import (
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mozilla/leanplum-tasks/internal/config"
)

// viperKeyDelimiter marks nested values in the configuration. It is not "." so that
// connection ids and option keys containing dots survive being merged into viper.
const viperKeyDelimiter = ".."

type configKey []string

func (c configKey) EnvName() string {
	return "LEANPLUM_TASKS_" + strings.ReplaceAll(strings.ToUpper(c.FlagName()), "-", "_")
}

func (c configKey) AccessPath() string {
	return strings.ReplaceAll(strings.Join(c, viperKeyDelimiter), "-", "_")
}

func (c configKey) FlagName() string {
	return strings.Join(c, "-")
}

func registerString(v *viper.Viper, flags *pflag.FlagSet, name configKey, value string, usage string) {
	flags.String(name.FlagName(), value, usage)
	_ = v.BindEnv(name.AccessPath(), name.EnvName())
	_ = v.BindPFlag(name.AccessPath(), flags.Lookup(name.FlagName()))
	v.SetDefault(name.AccessPath(), value)
}

func registerBool(v *viper.Viper, flags *pflag.FlagSet, name configKey, value bool, usage string) {
	flags.Bool(name.FlagName(), value, usage)
	_ = v.BindEnv(name.AccessPath(), name.EnvName())
	_ = v.BindPFlag(name.AccessPath(), flags.Lookup(name.FlagName()))
	v.SetDefault(name.AccessPath(), value)
}

func registerConfig(flags *pflag.FlagSet) *viper.Viper {
	v := viper.NewWithOptions(viper.KeyDelimiter(viperKeyDelimiter))
	v.SetTypeByDefaultValue(true)

	defaults := config.DefaultConfig()
	name := func(components ...string) configKey { return components }

	registerString(v, flags, name("config-file"),
		defaults.ConfigFile, "location of config file")

	registerString(v, flags, name("log", "level"),
		defaults.Log.Level, "choose logging level from [trace, debug, info, warn, error, fatal]")
	registerBool(v, flags, name("log", "color"),
		defaults.Log.Color, "output logs in color")
	registerBool(v, flags, name("log", "json"),
		defaults.Log.JSON, "output logs as JSON")

	registerString(v, flags, name("aws-region"),
		defaults.AWSRegion, "AWS region of the Leanplum streaming export bucket")

	return v
}
