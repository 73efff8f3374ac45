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

// Package faucet distributes configured asset groups to requesting
// identities. Allocation consumes per-identity quota and records a
// request, which the settlement scheduler then drives through the
// ledger until it settles or fails.
package faucet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blinklabs-io/faucet/database"
	"github.com/blinklabs-io/faucet/distribution"
	"github.com/blinklabs-io/faucet/event"
	"github.com/blinklabs-io/faucet/ledger"
	"github.com/blinklabs-io/faucet/quota"
	"github.com/blinklabs-io/faucet/scheduler"
)

type Faucet struct {
	config        Config
	groups        map[string]*distribution.AssetGroup
	eventBus      *event.EventBus
	db            *database.Database
	quotaLedger   *quota.Ledger
	client        ledger.Client
	scheduler     *scheduler.Scheduler
	groupStates   map[string]*groupState
	shutdownFuncs []func(context.Context) error
	runCancel     context.CancelFunc
	done          chan struct{}
	shutdownOnce  sync.Once
}

func New(cfg Config) (*Faucet, error) {
	eventBus := event.NewEventBus(cfg.promRegistry, cfg.logger)
	f := &Faucet{
		config:   cfg,
		eventBus: eventBus,
		done:     make(chan struct{}),
	}
	if err := f.configPopulateNetworkMagic(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := f.configValidate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return f, nil
}

func (f *Faucet) Run() error {
	if err := f.Start(); err != nil {
		return err
	}
	// Wait for shutdown signal
	<-f.done
	return nil
}

// Start brings up the faucet's storage, ledger client and settlement
// scheduler without blocking. Most callers want Run instead.
func (f *Faucet) Start() error {
	// Configure tracing
	if f.config.tracing {
		if err := f.setupTracing(); err != nil {
			return err
		}
	}
	// Load database
	db, err := database.New(database.Config{
		DataDir:      f.config.dataDir,
		Logger:       f.config.logger,
		PromRegistry: f.config.promRegistry,
	})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	f.db = db
	// Initialize quota ledger
	initialQuotas := make(map[string]int)
	for name, group := range f.groups {
		initialQuotas[name] = group.Quota
	}
	f.quotaLedger = quota.NewLedger(quota.LedgerConfig{
		PromRegistry:  f.config.promRegistry,
		Logger:        f.config.logger,
		DB:            f.db.KV(),
		InitialQuotas: initialQuotas,
	})
	// Initialize ledger client
	f.client = f.config.ledgerClient
	if f.client == nil {
		f.client = ledger.NewWalletClient(ledger.WalletClientConfig{
			Logger: f.config.logger,
			URL:    f.config.walletRpcUrl,
		})
	}
	// Rebuild allocation cursors from the request history
	if err := f.initGroupStates(); err != nil {
		return fmt.Errorf("failed to restore allocation state: %w", err)
	}
	// Start settlement scheduler
	runCtx, runCancel := context.WithCancel(context.Background())
	f.runCancel = runCancel
	f.scheduler = scheduler.New(scheduler.Config{
		PromRegistry:     f.config.promRegistry,
		Logger:           f.config.logger,
		EventBus:         f.eventBus,
		Store:            f.db,
		Client:           f.client,
		Interval:         f.config.schedulerInterval,
		MaxRetries:       f.config.maxRetries,
		MinConfirmations: f.config.minConfirmations,
	})
	f.scheduler.Start(runCtx)
	return nil
}

func (f *Faucet) Stop() error {
	var err error
	f.shutdownOnce.Do(func() {
		err = f.shutdown()
	})
	return err
}

// EventBus returns the faucet's event bus for subscribing to allocation
// and settlement events
func (f *Faucet) EventBus() *event.EventBus {
	return f.eventBus
}

// Scheduler returns the settlement scheduler, used by the operator API
// for forced refreshes
func (f *Faucet) Scheduler() *scheduler.Scheduler {
	return f.scheduler
}

// Store returns the request store, used by the operator API for request
// listings
func (f *Faucet) Store() *database.Database {
	return f.db
}

// ListRequests returns up to limit requests matching the filter, newest
// first
func (f *Faucet) ListRequests(
	filter database.RequestFilter,
	limit int,
) ([]database.Request, error) {
	return f.db.ListRequests(filter, limit)
}

// RefreshOne forces settlement progress for the request matching the
// given reference and reports whether it settled during this refresh
func (f *Faucet) RefreshOne(ctx context.Context, ref string) (bool, error) {
	return f.scheduler.RefreshOne(ctx, ref)
}

func (f *Faucet) shutdown() error {
	// Create shutdown context with timeout (default 30s if not configured)
	shutdownTimeout := 30 * time.Second
	if f.config.shutdownTimeout > 0 {
		shutdownTimeout = f.config.shutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error

	f.config.logger.Debug("starting graceful shutdown")

	// Phase 1: Stop accepting new work
	f.config.logger.Debug("shutdown phase 1: stopping new work")

	if f.scheduler != nil {
		f.scheduler.Stop()
	}
	if f.runCancel != nil {
		f.runCancel()
	}

	// Phase 2: Flush state and close database
	f.config.logger.Debug("shutdown phase 2: flushing state")

	if f.db != nil {
		if closeErr := f.db.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("database close: %w", closeErr))
		}
	}

	// Phase 3: Cleanup resources
	f.config.logger.Debug("shutdown phase 3: cleanup resources")

	// Call registered shutdown functions
	for _, fn := range f.shutdownFuncs {
		if fnErr := fn(ctx); fnErr != nil {
			err = errors.Join(err, fmt.Errorf("shutdown function: %w", fnErr))
		}
	}
	f.shutdownFuncs = nil

	if f.eventBus != nil {
		f.eventBus.Stop()
	}

	f.config.logger.Debug("graceful shutdown complete")
	close(f.done)
	return err
}
