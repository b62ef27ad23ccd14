// Package config loads envmatrix's own tool configuration (not the
// project matrix file): history retention, install retry budget and
// default parallelism.
package config

import (
	"errors"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Parallel  int             `mapstructure:"parallel"`
	History   HistoryConfig   `mapstructure:"history"`
	Install   InstallConfig   `mapstructure:"install"`
	Execution ExecutionConfig `mapstructure:"execution"`
}

type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Limit   int    `mapstructure:"limit"`
}

type InstallConfig struct {
	Retries uint64        `mapstructure:"retries"`
	Backoff time.Duration `mapstructure:"backoff"`
}

type ExecutionConfig struct {
	OutputTail int           `mapstructure:"output_tail"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// LoadConfig reads the optional tool config file. An explicit path must
// exist; otherwise .envmatrix.yaml is searched in the working and home
// directories and defaults apply when nothing is found. ENVMATRIX_*
// environment variables override file values.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ENVMATRIX")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	} else {
		v.SetConfigName(".envmatrix")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, err
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Set default values
	if config.Parallel <= 0 {
		config.Parallel = 1
	}
	if config.History.Limit <= 0 {
		config.History.Limit = 50
	}
	if !v.IsSet("history.enabled") {
		config.History.Enabled = true
	}
	if config.Install.Retries == 0 {
		config.Install.Retries = 2
	}
	if config.Install.Backoff <= 0 {
		config.Install.Backoff = 2 * time.Second
	}
	if config.Execution.OutputTail <= 0 {
		config.Execution.OutputTail = 32 * 1024
	}

	return &config, nil
}
