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

package faucet

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	ouroboros "github.com/blinklabs-io/gouroboros"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blinklabs-io/faucet/distribution"
	"github.com/blinklabs-io/faucet/ledger"
)

const (
	defaultDateFormat       = "2006-01-02T15:04:05"
	defaultQuota            = 1
	defaultMinConfirmations = 1
	defaultInterval         = 60 * time.Second
	defaultMaxRetries       = 3
)

type Config struct {
	promRegistry      prometheus.Registerer
	logger            *slog.Logger
	ledgerClient      ledger.Client
	groups            map[string]distribution.RawGroup
	dataDir           string
	network           string
	walletRpcUrl      string
	dateFormat        string
	networkMagic      uint32
	defaultQuota      int
	minConfirmations  int
	maxRetries        int
	schedulerInterval time.Duration
	shutdownTimeout   time.Duration
	tracing           bool
	tracingStdout     bool
}

// configPopulateNetworkMagic uses the named network (if specified) to determine the network magic value (if not specified)
func (f *Faucet) configPopulateNetworkMagic() error {
	if f.config.networkMagic == 0 && f.config.network != "" {
		tmpCfg := f.config
		tmpNetwork, ok := ouroboros.NetworkByName(f.config.network)
		if !ok {
			return fmt.Errorf("unknown network name: %s", f.config.network)
		}
		tmpCfg.networkMagic = tmpNetwork.NetworkMagic
		f.config = tmpCfg
	}
	return nil
}

func (f *Faucet) configValidate() error {
	if f.config.networkMagic == 0 {
		return fmt.Errorf(
			"invalid network magic value: %d",
			f.config.networkMagic,
		)
	}
	if len(f.config.groups) == 0 {
		return errors.New("no asset groups defined")
	}
	if f.config.ledgerClient == nil && f.config.walletRpcUrl == "" {
		return errors.New(
			"either a ledger client or a wallet RPC URL must be provided",
		)
	}
	groups, err := distribution.Validate(
		f.config.groups,
		f.config.dateFormat,
		f.config.defaultQuota,
	)
	if err != nil {
		return err
	}
	f.groups = groups
	return nil
}

// ConfigOptionFunc is a type that represents functions that modify the faucet config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new faucet config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger:            slog.New(slog.NewJSONHandler(io.Discard, nil)),
		dateFormat:        defaultDateFormat,
		defaultQuota:      defaultQuota,
		minConfirmations:  defaultMinConfirmations,
		schedulerInterval: defaultInterval,
		maxRetries:        defaultMaxRetries,
	}
	// Apply options
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithDatabasePath specifies the persistent data directory to use. The default is to store everything in memory
func WithDatabasePath(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithNetwork specifies the named network to operate on. This will automatically set the appropriate network magic value
func WithNetwork(network string) ConfigOptionFunc {
	return func(c *Config) {
		c.network = network
	}
}

// WithNetworkMagic specifies the network magic value to use. This will override any named network specified
func WithNetworkMagic(networkMagic uint32) ConfigOptionFunc {
	return func(c *Config) {
		c.networkMagic = networkMagic
	}
}

// WithGroups specifies the asset group configuration. Group config is
// validated when the faucet is created
func WithGroups(groups map[string]distribution.RawGroup) ConfigOptionFunc {
	return func(c *Config) {
		c.groups = groups
	}
}

// WithDateFormat specifies the reference layout used to parse request
// window timestamps in group config
func WithDateFormat(layout string) ConfigOptionFunc {
	return func(c *Config) {
		c.dateFormat = layout
	}
}

// WithDefaultQuota specifies the per-identity request quota applied to
// groups that don't configure their own. The default is 1
func WithDefaultQuota(quota int) ConfigOptionFunc {
	return func(c *Config) {
		c.defaultQuota = quota
	}
}

// WithLedgerClient specifies the ledger client to use for broadcasting
// transfers. This overrides any wallet RPC URL
func WithLedgerClient(client ledger.Client) ConfigOptionFunc {
	return func(c *Config) {
		c.ledgerClient = client
	}
}

// WithWalletRpcUrl specifies the URL of the wallet JSON-RPC endpoint used
// to broadcast transfers
func WithWalletRpcUrl(url string) ConfigOptionFunc {
	return func(c *Config) {
		c.walletRpcUrl = url
	}
}

// WithMinConfirmations specifies how many confirmations a transfer needs
// before its request settles. The default is 1
func WithMinConfirmations(confirmations int) ConfigOptionFunc {
	return func(c *Config) {
		c.minConfirmations = confirmations
	}
}

// WithSchedulerInterval specifies the interval between settlement sweeps. The default is 60 seconds
func WithSchedulerInterval(interval time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.schedulerInterval = interval
	}
}

// WithMaxRetries specifies the retry bound for transient ledger failures. The default is 3
func WithMaxRetries(retries int) ConfigOptionFunc {
	return func(c *Config) {
		c.maxRetries = retries
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to. In most cases, prometheus.DefaultRegistry would be
// a good choice to get metrics working
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithTracing enables tracing. By default, spans are submitted to a HTTP(s) endpoint using OTLP. This can be configured
// using the OTEL_EXPORTER_OTLP_* env vars documented in the README for [go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp]
func WithTracing(tracing bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracing = tracing
	}
}

// WithTracingStdout enables tracing output to stdout. This also requires tracing to enabled separately. This is mostly useful for debugging
func WithTracingStdout(stdout bool) ConfigOptionFunc {
	return func(c *Config) {
		c.tracingStdout = stdout
	}
}

// WithShutdownTimeout specifies the timeout for graceful shutdown. The default is 30 seconds
func WithShutdownTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		c.shutdownTimeout = timeout
	}
}
