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

// Package quota tracks how many allocations each identity has left per
// asset group. Counters are persisted in the faucet's KV store so the
// once-per-identity rule survives restarts.
package quota

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const keyPrefix = "quota/"

type LedgerConfig struct {
	PromRegistry prometheus.Registerer
	Logger       *slog.Logger
	DB           *badger.DB
	// InitialQuotas maps group name to the configured per-identity quota.
	// Unknown groups have quota 0.
	InitialQuotas map[string]int
}

// Ledger answers "requests left" queries and atomically consumes quota
// units. The decrement-and-check is a single indivisible operation: two
// concurrent callers for the same (identity, group) can never both
// succeed past the configured limit.
type Ledger struct {
	config  LedgerConfig
	logger  *slog.Logger
	metrics struct {
		consumed *prometheus.CounterVec
		refunded *prometheus.CounterVec
	}
	db    *badger.DB
	mutex sync.Mutex
}

func NewLedger(cfg LedgerConfig) *Ledger {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	l := &Ledger{
		config: cfg,
		logger: cfg.Logger.With("component", "quota"),
		db:     cfg.DB,
	}
	if cfg.PromRegistry != nil {
		promFactory := promauto.With(cfg.PromRegistry)
		l.metrics.consumed = promFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faucet_quota_consumed_total",
				Help: "total quota units consumed by group",
			},
			[]string{"group"},
		)
		l.metrics.refunded = promFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faucet_quota_refunded_total",
				Help: "total quota units refunded by group",
			},
			[]string{"group"},
		)
	}
	return l
}

// RequestsLeft returns the number of allocations the identity has left in
// the group
func (l *Ledger) RequestsLeft(identity string, group string) (int, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	var remaining int
	err := l.db.View(func(txn *badger.Txn) error {
		var err error
		remaining, err = l.remaining(txn, identity, group)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("reading quota: %w", err)
	}
	return remaining, nil
}

// TryConsume atomically decrements the remaining quota for the given
// (identity, group) key. It returns true if a unit was available and
// false, with no mutation, otherwise.
func (l *Ledger) TryConsume(identity string, group string) (bool, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	consumed := false
	err := l.db.Update(func(txn *badger.Txn) error {
		remaining, err := l.remaining(txn, identity, group)
		if err != nil {
			return err
		}
		if remaining <= 0 {
			return nil
		}
		consumed = true
		return txn.Set(
			quotaKey(identity, group),
			encodeRemaining(remaining-1),
		)
	})
	if err != nil {
		return false, fmt.Errorf("consuming quota: %w", err)
	}
	if consumed && l.metrics.consumed != nil {
		l.metrics.consumed.WithLabelValues(group).Inc()
	}
	return consumed, nil
}

// Refund restores one previously consumed quota unit. It exists solely
// for the allocator's rollback path: an allocation that fails after
// consuming quota must not leave the identity charged. The count is
// capped at the configured initial quota.
func (l *Ledger) Refund(identity string, group string) error {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	refunded := false
	err := l.db.Update(func(txn *badger.Txn) error {
		remaining, err := l.remaining(txn, identity, group)
		if err != nil {
			return err
		}
		if remaining >= l.config.InitialQuotas[group] {
			return nil
		}
		refunded = true
		return txn.Set(
			quotaKey(identity, group),
			encodeRemaining(remaining+1),
		)
	})
	if err != nil {
		return fmt.Errorf("refunding quota: %w", err)
	}
	if refunded && l.metrics.refunded != nil {
		l.metrics.refunded.WithLabelValues(group).Inc()
	}
	return nil
}

// remaining reads the stored counter, falling back to the configured
// initial quota when the key has never been written
func (l *Ledger) remaining(
	txn *badger.Txn,
	identity string,
	group string,
) (int, error) {
	item, err := txn.Get(quotaKey(identity, group))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return l.config.InitialQuotas[group], nil
		}
		return 0, err
	}
	var remaining int
	err = item.Value(func(val []byte) error {
		if len(val) != 8 {
			return fmt.Errorf("malformed quota value: %d bytes", len(val))
		}
		remaining = int(binary.BigEndian.Uint64(val))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

func quotaKey(identity string, group string) []byte {
	return []byte(keyPrefix + group + "/" + identity)
}

func encodeRemaining(remaining int) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(remaining)) // #nosec G115
	return buf
}
