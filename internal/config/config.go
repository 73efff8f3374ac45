// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/blinklabs-io/faucet/distribution"
	"github.com/blinklabs-io/faucet/internal/secrets"
)

type ctxKey string

const configContextKey ctxKey = "faucet.config"

const DefaultShutdownTimeout = "30s"

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

type Config struct {
	Groups            map[string]distribution.RawGroup `yaml:"groups"`
	Network           string                           `yaml:"network"`
	DatabasePath      string                           `yaml:"databasePath"      split_words:"true"`
	BindAddr          string                           `yaml:"bindAddr"          split_words:"true"`
	WalletRpcUrl      string                           `yaml:"walletRpcUrl"      envconfig:"WALLET_RPC_URL"`
	DateFormat        string                           `yaml:"dateFormat"        split_words:"true"`
	SchedulerInterval string                           `yaml:"schedulerInterval" split_words:"true"`
	ShutdownTimeout   string                           `yaml:"shutdownTimeout"   split_words:"true"`
	ApiKey            string                           `yaml:"apiKey"            envconfig:"API_KEY"`
	ApiKeyOperator    string                           `yaml:"apiKeyOperator"    envconfig:"API_KEY_OPERATOR"`
	SecretsFile       string                           `yaml:"secretsFile"       split_words:"true"`
	ApiPort           uint                             `yaml:"apiPort"           split_words:"true"`
	MetricsPort       uint                             `yaml:"metricsPort"       split_words:"true"`
	DefaultQuota      int                              `yaml:"defaultQuota"      split_words:"true"`
	MinConfirmations  int                              `yaml:"minConfirmations"  split_words:"true"`
	MaxRetries        int                              `yaml:"maxRetries"        split_words:"true"`
	Tracing           bool                             `yaml:"tracing"`
	TracingStdout     bool                             `yaml:"tracingStdout"     split_words:"true"`
}

var globalConfig = &Config{
	Network:           "preview",
	DatabasePath:      ".faucet",
	BindAddr:          "0.0.0.0",
	DateFormat:        "2006-01-02T15:04:05",
	SchedulerInterval: "60s",
	ShutdownTimeout:   DefaultShutdownTimeout,
	ApiPort:           3000,
	MetricsPort:       12798,
	DefaultQuota:      1,
	MinConfirmations:  1,
	MaxRetries:        3,
}

func LoadConfig(configFile string) (*Config, error) {
	// Load config file as YAML if provided
	if configFile == "" {
		// Check for config file in this path: ~/.faucet/faucet.yaml
		if homeDir, err := os.UserHomeDir(); err == nil {
			userPath := filepath.Join(homeDir, ".faucet", "faucet.yaml")
			if _, err := os.Stat(userPath); err == nil {
				configFile = userPath
			}
		}

		// Try to check for /etc/faucet/faucet.yaml if still not found
		if configFile == "" {
			systemPath := "/etc/faucet/faucet.yaml"
			if _, err := os.Stat(systemPath); err == nil {
				configFile = systemPath
			}
		}
	}

	if configFile != "" {
		buf, err := os.ReadFile(configFile) // #nosec G304
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		err = yaml.Unmarshal(buf, globalConfig)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}
	// Process environment variables
	err := envconfig.Process("faucet", globalConfig)
	if err != nil {
		return nil, fmt.Errorf("error processing environment: %+w", err)
	}
	// Pull sensitive values from the secrets file, if configured. Values
	// from the secrets file win over config file and environment.
	if globalConfig.SecretsFile != "" {
		sec, err := secrets.Load(globalConfig.SecretsFile)
		if err != nil {
			return nil, fmt.Errorf("error loading secrets: %w", err)
		}
		if sec.ApiKey != "" {
			globalConfig.ApiKey = sec.ApiKey
		}
		if sec.ApiKeyOperator != "" {
			globalConfig.ApiKeyOperator = sec.ApiKeyOperator
		}
		if sec.WalletRpcUrl != "" {
			globalConfig.WalletRpcUrl = sec.WalletRpcUrl
		}
	}
	return globalConfig, nil
}

func GetConfig() *Config {
	return globalConfig
}
