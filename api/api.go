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
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package api implements the faucet's REST interface: a public receive
// surface for requesting assets and an operator control surface for
// inspecting and refreshing requests. Both surfaces authenticate with
// static API keys.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/blinklabs-io/faucet"
	"github.com/blinklabs-io/faucet/database"
)

// Faucet is the subset of faucet behavior the API server depends on
type Faucet interface {
	Allocate(
		ctx context.Context,
		groupName string,
		identity string,
		externalRef string,
	) (*database.Request, error)
	GroupStatuses(identity string) (map[string]faucet.GroupStatus, error)
	ListRequests(
		filter database.RequestFilter,
		limit int,
	) ([]database.Request, error)
	RefreshOne(ctx context.Context, ref string) (bool, error)
}

type Config struct {
	ListenAddress string
	// ApiKey guards the public receive endpoints
	ApiKey string
	// ApiKeyOperator guards the control endpoints
	ApiKeyOperator string
}

// Api is the faucet REST API server
type Api struct {
	config     Config
	logger     *slog.Logger
	faucet     Faucet
	httpServer *http.Server
	mu         sync.Mutex
}

// New creates a new API server instance
func New(cfg Config, faucet Faucet, logger *slog.Logger) *Api {
	if logger == nil {
		logger = slog.New(
			slog.NewJSONHandler(io.Discard, nil),
		)
	}
	logger = logger.With("component", "api")
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":3000"
	}
	return &Api{
		config: cfg,
		logger: logger,
		faucet: faucet,
	}
}

// Handler returns the API route handler
func (a *Api) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc(
		"GET /receive/config/{walletId}",
		a.requireKey(a.config.ApiKey, a.handleReceiveConfig),
	)
	mux.HandleFunc(
		"POST /receive/asset",
		a.requireKey(a.config.ApiKey, a.handleReceiveAsset),
	)
	mux.HandleFunc(
		"GET /control/requests",
		a.requireKey(a.config.ApiKeyOperator, a.handleControlRequests),
	)
	mux.HandleFunc(
		"GET /control/refresh/{ref}",
		a.requireKey(a.config.ApiKeyOperator, a.handleControlRefresh),
	)
	return mux
}

// Start starts the HTTP server in a background goroutine.
func (a *Api) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.httpServer != nil {
		a.mu.Unlock()
		return errors.New("server already started")
	}
	server := &http.Server{
		Addr:              a.config.ListenAddress,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 60 * time.Second,
	}
	a.httpServer = server
	a.mu.Unlock()

	// Start the server with deterministic error detection
	if err := a.startServer(server); err != nil {
		a.mu.Lock()
		a.httpServer = nil
		a.mu.Unlock()
		return err
	}

	a.logger.Info(
		"faucet API listener started on " + a.config.ListenAddress,
	)

	// Monitor context for cancellation
	go func() {
		<-ctx.Done()
		a.mu.Lock()
		srv := a.httpServer
		a.httpServer = nil
		a.mu.Unlock()

		if srv != nil {
			a.logger.Debug(
				"context cancelled, shutting down API server",
			)
			//nolint:contextcheck
			shutdownCtx, cancel := context.WithTimeout(
				context.Background(),
				30*time.Second,
			)
			defer cancel()
			//nolint:contextcheck
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error(
					"failed to shutdown API server on context cancellation",
					"error", err,
				)
			}
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (a *Api) Stop(ctx context.Context) error {
	a.mu.Lock()
	srv := a.httpServer
	a.httpServer = nil
	a.mu.Unlock()

	if srv != nil {
		a.logger.Debug("shutting down API server")
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown API server: %w", err)
		}
	}
	return nil
}

// startServer binds the listening socket first so port conflicts are
// detected immediately, then serves in a background goroutine.
func (a *Api) startServer(server *http.Server) error {
	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen for API server: %w", err)
	}
	go func() {
		if err := server.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("API server error", "error", err)
		}
	}()
	return nil
}
