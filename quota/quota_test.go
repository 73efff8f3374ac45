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

package quota_test

import (
	"sync"
	"sync/atomic"
	"testing"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/faucet/quota"
)

func newTestLedger(t *testing.T, quotas map[string]int) *quota.Ledger {
	t.Helper()
	db, err := badger.Open(
		badger.DefaultOptions("").WithInMemory(true).WithLogger(nil),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("closing badger: %s", err)
		}
	})
	return quota.NewLedger(quota.LedgerConfig{
		DB:            db,
		InitialQuotas: quotas,
	})
}

func TestLedgerInitialQuota(t *testing.T) {
	ledger := newTestLedger(t, map[string]int{"group_1": 3})
	left, err := ledger.RequestsLeft("wallet1", "group_1")
	require.NoError(t, err)
	assert.Equal(t, 3, left)
	// Unknown group has no quota
	left, err = ledger.RequestsLeft("wallet1", "other")
	require.NoError(t, err)
	assert.Equal(t, 0, left)
}

func TestLedgerConsumeUntilExhausted(t *testing.T) {
	ledger := newTestLedger(t, map[string]int{"group_1": 2})
	for i := 0; i < 2; i++ {
		ok, err := ledger.TryConsume("wallet1", "group_1")
		require.NoError(t, err)
		assert.True(t, ok, "consume %d", i)
	}
	ok, err := ledger.TryConsume("wallet1", "group_1")
	require.NoError(t, err)
	assert.False(t, ok)
	left, err := ledger.RequestsLeft("wallet1", "group_1")
	require.NoError(t, err)
	assert.Equal(t, 0, left)
	// Other identities are unaffected
	left, err = ledger.RequestsLeft("wallet2", "group_1")
	require.NoError(t, err)
	assert.Equal(t, 2, left)
}

func TestLedgerRefund(t *testing.T) {
	ledger := newTestLedger(t, map[string]int{"group_1": 1})
	ok, err := ledger.TryConsume("wallet1", "group_1")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, ledger.Refund("wallet1", "group_1"))
	left, err := ledger.RequestsLeft("wallet1", "group_1")
	require.NoError(t, err)
	assert.Equal(t, 1, left)
	// Refund never exceeds the configured initial quota
	require.NoError(t, ledger.Refund("wallet1", "group_1"))
	left, err = ledger.RequestsLeft("wallet1", "group_1")
	require.NoError(t, err)
	assert.Equal(t, 1, left)
}

func TestLedgerRefundMetricCountsMutationsOnly(t *testing.T) {
	registry := prometheus.NewRegistry()
	db, err := badger.Open(
		badger.DefaultOptions("").WithInMemory(true).WithLogger(nil),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("closing badger: %s", err)
		}
	})
	ledger := quota.NewLedger(quota.LedgerConfig{
		DB:            db,
		InitialQuotas: map[string]int{"group_1": 1},
		PromRegistry:  registry,
	})
	ok, err := ledger.TryConsume("wallet1", "group_1")
	require.NoError(t, err)
	require.True(t, ok)
	// One effective refund, one no-op capped at the initial quota
	require.NoError(t, ledger.Refund("wallet1", "group_1"))
	require.NoError(t, ledger.Refund("wallet1", "group_1"))
	assert.Equal(
		t,
		float64(1),
		counterValue(t, registry, "faucet_quota_refunded_total"),
	)
}

func counterValue(
	t *testing.T,
	registry *prometheus.Registry,
	name string,
) float64 {
	t.Helper()
	mfs, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		var total float64
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	return 0
}

func TestLedgerConcurrentConsume(t *testing.T) {
	const initialQuota = 5
	const attempts = 50
	ledger := newTestLedger(t, map[string]int{"group_1": initialQuota})
	var successes atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := ledger.TryConsume("wallet1", "group_1")
			if err != nil {
				t.Errorf("unexpected error: %s", err)
				return
			}
			if ok {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()
	// Never more than the configured quota succeeds, regardless of
	// interleaving
	assert.Equal(t, int64(initialQuota), successes.Load())
	left, err := ledger.RequestsLeft("wallet1", "group_1")
	require.NoError(t, err)
	assert.Equal(t, 0, left)
}
