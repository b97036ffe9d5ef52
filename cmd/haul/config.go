package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

const (
	envVarPrefix = "HAUL"
	appName      = "haul"
)

// Config holds CLI defaults, loaded from an optional YAML file and then
// overridden by HAUL_* environment variables. Flags override both.
type Config struct {
	Dir           string        `envconfig:"HAUL_DIR"            yaml:"dir"`
	StatePath     string        `envconfig:"HAUL_STATE"          yaml:"state"`
	Token         string        `envconfig:"HAUL_TOKEN"          yaml:"token"`
	RedisAddr     string        `envconfig:"HAUL_REDIS_ADDR"     yaml:"redisAddr"`
	RetryInitial  time.Duration `envconfig:"HAUL_RETRY_INITIAL"  yaml:"retryInitial"`
	RetryMax      time.Duration `envconfig:"HAUL_RETRY_MAX"      yaml:"retryMax"`
	RetryAttempts int           `envconfig:"HAUL_RETRY_ATTEMPTS" yaml:"retryAttempts"`
}

// LoadConfig reads HAUL_CONFIG_FILE (default ~/.config/haul.yaml) when it
// exists and applies environment overrides.
func LoadConfig() (*Config, error) {
	configFile := os.Getenv(envVarPrefix + "_CONFIG_FILE")
	if configFile == "" {
		home, _ := os.UserHomeDir()
		configFile = filepath.Join(home, ".config", appName+".yaml")
	}

	var c Config

	data, err := os.ReadFile(configFile)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	} else {
		if err := yaml.UnmarshalStrict(data, &c); err != nil {
			return nil, fmt.Errorf("unmarshaling config file: %w", err)
		}
	}

	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}

	if c.StatePath == "" {
		home, _ := os.UserHomeDir()
		c.StatePath = filepath.Join(home, ".local", "share", appName, "progress.json")
	}

	return &c, nil
}
