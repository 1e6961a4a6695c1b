// Package config provides configuration loading for the Capsule CLI.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper for environment-variable overrides of CLI
// flag defaults. Capsule has no config file of its own — flags are the
// primary interface (spec §6) — so this only wires CAPSULE_* env vars as
// a fallback for flags left unset.
func InitViper() {
	viper.SetEnvPrefix("CAPSULE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// bindNestedEnvKeys binds the RunConfig keys for environment variable
// support. Example: CAPSULE_DB_PATH overrides db_path.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("db_path")
	_ = viper.BindEnv("policy_path")
	_ = viper.BindEnv("log_level")
	_ = viper.BindEnv("fail_fast")
	_ = viper.BindEnv("agent.planner")
	_ = viper.BindEnv("agent.model")
	_ = viper.BindEnv("agent.max_iterations")
}

// LoadConfig merges bound environment variables into cfg wherever the
// caller left the corresponding flag at its zero value, applies defaults,
// and validates the result. Flags passed explicitly on the command line
// always win over CAPSULE_* env vars, which in turn win over defaults;
// callers populate cfg from cobra flags before calling LoadConfig.
func LoadConfig(cfg *RunConfig) (*RunConfig, error) {
	if cfg.DBPath == "" {
		if v := viper.GetString("db_path"); v != "" {
			cfg.DBPath = v
		}
	}
	if cfg.PolicyPath == "" {
		if v := viper.GetString("policy_path"); v != "" {
			cfg.PolicyPath = v
		}
	}
	if cfg.LogLevel == "" {
		if v := viper.GetString("log_level"); v != "" {
			cfg.LogLevel = v
		}
	}
	if cfg.Agent.Planner == "" {
		cfg.Agent.Planner = viper.GetString("agent.planner")
	}
	if cfg.Agent.Model == "" {
		cfg.Agent.Model = viper.GetString("agent.model")
	}
	if cfg.Agent.MaxIterations == 0 {
		cfg.Agent.MaxIterations = viper.GetInt("agent.max_iterations")
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
