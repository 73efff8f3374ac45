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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/blinklabs-io/faucet"
	"github.com/blinklabs-io/faucet/api"
	"github.com/blinklabs-io/faucet/internal/config"
)

func serveRun(_ *cobra.Command, _ []string, cfg *config.Config) {
	logger := commonRun()
	if err := run(cfg, logger); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Debug(fmt.Sprintf("config: %+v", cfg), "component", programName)

	// Parse shutdown timeout
	shutdownTimeout := 30 * time.Second // Default timeout
	if cfg.ShutdownTimeout != "" {
		var err error
		shutdownTimeout, err = time.ParseDuration(cfg.ShutdownTimeout)
		if err != nil {
			return fmt.Errorf("invalid shutdown timeout: %w", err)
		}
	}
	schedulerInterval := 60 * time.Second
	if cfg.SchedulerInterval != "" {
		var err error
		schedulerInterval, err = time.ParseDuration(cfg.SchedulerInterval)
		if err != nil {
			return fmt.Errorf("invalid scheduler interval: %w", err)
		}
	}

	f, err := faucet.New(
		faucet.NewConfig(
			faucet.WithLogger(logger),
			faucet.WithNetwork(cfg.Network),
			faucet.WithDatabasePath(cfg.DatabasePath),
			faucet.WithGroups(cfg.Groups),
			faucet.WithDateFormat(cfg.DateFormat),
			faucet.WithDefaultQuota(cfg.DefaultQuota),
			faucet.WithWalletRpcUrl(cfg.WalletRpcUrl),
			faucet.WithMinConfirmations(cfg.MinConfirmations),
			faucet.WithSchedulerInterval(schedulerInterval),
			faucet.WithMaxRetries(cfg.MaxRetries),
			faucet.WithShutdownTimeout(shutdownTimeout),
			faucet.WithTracing(cfg.Tracing),
			faucet.WithTracingStdout(cfg.TracingStdout),
			// Enable metrics with default prometheus registry
			faucet.WithPrometheusRegistry(prometheus.DefaultRegisterer),
		),
	)
	if err != nil {
		return err
	}

	// Wait for interrupt/termination signal
	signalCtx, signalCtxStop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer signalCtxStop()

	// Start faucet services
	if err := f.Start(); err != nil {
		return err
	}

	// API listener
	apiServer := api.New(
		api.Config{
			ListenAddress: fmt.Sprintf(
				"%s:%d",
				cfg.BindAddr,
				cfg.ApiPort,
			),
			ApiKey:         cfg.ApiKey,
			ApiKeyOperator: cfg.ApiKeyOperator,
		},
		f,
		logger,
	)
	if err := apiServer.Start(signalCtx); err != nil {
		return err
	}

	// Metrics listener
	metricsServer := &http.Server{
		Addr: fmt.Sprintf(
			"%s:%d",
			cfg.BindAddr,
			cfg.MetricsPort,
		),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 60 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	logger.Info(
		"serving prometheus metrics on "+metricsServer.Addr,
		"component", programName,
	)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error(
				fmt.Sprintf("failed to start metrics listener: %s", err),
				"component", programName,
			)
			os.Exit(1)
		}
	}()

	<-signalCtx.Done()
	logger.Info("signal received, initiating graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		shutdownTimeout,
	)
	defer cancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Error("API server shutdown error", "error", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}
	if err := f.Stop(); err != nil {
		logger.Error("shutdown errors occurred", "error", err)
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the faucet",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.FromContext(cmd.Context())
			if cfg == nil {
				slog.Error("no config found in context")
				os.Exit(1)
			}
			serveRun(cmd, args, cfg)
		},
	}
}
