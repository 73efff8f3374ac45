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
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/faucet/database"
	"github.com/blinklabs-io/faucet/distribution"
	"github.com/blinklabs-io/faucet/ledger"
)

func testRawGroups() map[string]distribution.RawGroup {
	return map[string]distribution.RawGroup{
		"group_1": {
			Label: "Test group",
			Assets: []distribution.RawAsset{
				{AssetID: "asset-a", Amount: 100},
				{AssetID: "asset-b", Amount: 50},
			},
			Distribution: &distribution.RawDistribution{
				Mode: int(distribution.ModeSequential),
			},
			Quota: 2,
		},
	}
}

func testWindowedRawGroups(
	open string,
	close string,
) map[string]distribution.RawGroup {
	return map[string]distribution.RawGroup{
		"group_1": {
			Label: "Windowed group",
			Assets: []distribution.RawAsset{
				{AssetID: "asset-a", Amount: 100},
				{AssetID: "asset-b", Amount: 50},
				{AssetID: "asset-c", Amount: 25},
			},
			Distribution: &distribution.RawDistribution{
				Mode: int(distribution.ModeRandomWindowed),
				RandomParams: &distribution.RawRandomParams{
					RequestWindowOpen:  open,
					RequestWindowClose: close,
				},
			},
			Quota: 5,
		},
	}
}

func newTestFaucet(
	t *testing.T,
	client ledger.Client,
	groups map[string]distribution.RawGroup,
	extraOpts ...ConfigOptionFunc,
) *Faucet {
	t.Helper()
	opts := append(
		[]ConfigOptionFunc{
			WithNetworkMagic(42),
			WithGroups(groups),
			WithLedgerClient(client),
			WithDatabasePath(t.TempDir()),
		},
		extraOpts...,
	)
	f, err := New(NewConfig(opts...))
	require.NoError(t, err)
	require.NoError(t, f.Start())
	t.Cleanup(func() {
		if err := f.Stop(); err != nil {
			t.Errorf("stopping faucet: %s", err)
		}
	})
	return f
}

func TestAllocateSequential(t *testing.T) {
	f := newTestFaucet(t, ledger.NewMockClient(), testRawGroups())
	ctx := context.Background()

	req, err := f.Allocate(ctx, "group_1", "wallet1", "addr1")
	require.NoError(t, err)
	assert.Equal(t, "asset-a", req.AssetID)
	assert.Equal(t, uint64(100), req.Amount)
	assert.Equal(t, database.RequestStatusPending, req.Status)

	req, err = f.Allocate(ctx, "group_1", "wallet1", "addr1")
	require.NoError(t, err)
	assert.Equal(t, "asset-b", req.AssetID)

	// Quota for wallet1 is spent
	_, err = f.Allocate(ctx, "group_1", "wallet1", "addr1")
	assert.ErrorIs(t, err, ErrQuotaExhausted)
}

func TestAllocateUnknownGroup(t *testing.T) {
	f := newTestFaucet(t, ledger.NewMockClient(), testRawGroups())
	_, err := f.Allocate(context.Background(), "nope", "wallet1", "addr1")
	assert.ErrorIs(t, err, ErrUnknownGroup)
}

func TestAllocateGroupExhaustedRefundsQuota(t *testing.T) {
	f := newTestFaucet(t, ledger.NewMockClient(), testRawGroups())
	ctx := context.Background()
	// Drain the group's two assets with two different identities
	_, err := f.Allocate(ctx, "group_1", "wallet1", "addr1")
	require.NoError(t, err)
	_, err = f.Allocate(ctx, "group_1", "wallet2", "addr2")
	require.NoError(t, err)

	left, err := f.RequestsLeft("wallet3", "group_1")
	require.NoError(t, err)
	require.Equal(t, 2, left)
	_, err = f.Allocate(ctx, "group_1", "wallet3", "addr3")
	assert.ErrorIs(t, err, ErrNoAssetsAvailable)
	// The failed allocation must not charge quota
	left, err = f.RequestsLeft("wallet3", "group_1")
	require.NoError(t, err)
	assert.Equal(t, 2, left)
}

func TestAllocateOutsideWindowRefundsQuota(t *testing.T) {
	f := newTestFaucet(
		t,
		ledger.NewMockClient(),
		testWindowedRawGroups(
			"2000-01-01T00:00:00",
			"2000-01-02T00:00:00",
		),
	)
	_, err := f.Allocate(context.Background(), "group_1", "wallet1", "addr1")
	assert.ErrorIs(t, err, ErrOutsideRequestWindow)
	left, err := f.RequestsLeft("wallet1", "group_1")
	require.NoError(t, err)
	assert.Equal(t, 5, left)
}

func TestAllocateRandomWithinWindow(t *testing.T) {
	f := newTestFaucet(
		t,
		ledger.NewMockClient(),
		testWindowedRawGroups(
			"2000-01-01T00:00:00",
			"2100-01-01T00:00:00",
		),
	)
	req, err := f.Allocate(
		context.Background(),
		"group_1",
		"wallet1",
		"addr1",
	)
	require.NoError(t, err)
	assert.Contains(
		t,
		[]string{"asset-a", "asset-b", "asset-c"},
		req.AssetID,
	)
}

func TestAllocateCursorSurvivesRestart(t *testing.T) {
	dataDir := t.TempDir()
	client := ledger.NewMockClient()
	f, err := New(NewConfig(
		WithNetworkMagic(42),
		WithGroups(testRawGroups()),
		WithLedgerClient(client),
		WithDatabasePath(dataDir),
	))
	require.NoError(t, err)
	require.NoError(t, f.Start())
	req, err := f.Allocate(context.Background(), "group_1", "wallet1", "addr1")
	require.NoError(t, err)
	require.Equal(t, "asset-a", req.AssetID)
	require.NoError(t, f.Stop())

	// A fresh instance over the same data dir picks up where we left off
	f2 := newTestFaucet(
		t,
		client,
		testRawGroups(),
		WithDatabasePath(dataDir),
	)
	req, err = f2.Allocate(context.Background(), "group_1", "wallet2", "addr2")
	require.NoError(t, err)
	assert.Equal(t, "asset-b", req.AssetID)
}

func TestAllocateConcurrent(t *testing.T) {
	groups := map[string]distribution.RawGroup{
		"group_1": {
			Label: "Big group",
			Assets: []distribution.RawAsset{
				{AssetID: "asset-0", Amount: 1},
				{AssetID: "asset-1", Amount: 1},
				{AssetID: "asset-2", Amount: 1},
				{AssetID: "asset-3", Amount: 1},
				{AssetID: "asset-4", Amount: 1},
			},
			Distribution: &distribution.RawDistribution{
				Mode: int(distribution.ModeSequential),
			},
			Quota: 5,
		},
	}
	f := newTestFaucet(t, ledger.NewMockClient(), groups)
	var successes atomic.Int64
	var wg sync.WaitGroup
	seen := sync.Map{}
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			req, err := f.Allocate(
				context.Background(),
				"group_1",
				"wallet1",
				fmt.Sprintf("addr%d", n),
			)
			if err != nil {
				return
			}
			successes.Add(1)
			seen.Store(req.AssetID, true)
		}(i)
	}
	wg.Wait()
	// Exactly the quota succeeds, each winner gets a distinct asset
	assert.Equal(t, int64(5), successes.Load())
	distinct := 0
	seen.Range(func(_, _ any) bool {
		distinct++
		return true
	})
	assert.Equal(t, 5, distinct)
}

func TestAllocateThenSettle(t *testing.T) {
	f := newTestFaucet(t, ledger.NewMockClient(), testRawGroups())
	req, err := f.Allocate(context.Background(), "group_1", "wallet1", "addr1")
	require.NoError(t, err)

	mock := f.client.(*ledger.MockClient)
	mock.SetTransferStatus("asset-a", ledger.TransferStatus{
		Outcome:       ledger.TransferOutcomeConfirmed,
		Confirmations: 1,
	})
	require.NoError(t, f.Scheduler().Sweep(context.Background()))
	fetched, err := f.Store().RequestById(req.ID)
	require.NoError(t, err)
	assert.Equal(t, database.RequestStatusSettled, fetched.Status)
	sent := mock.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "addr1", sent[0].ExternalRef)
}

func TestGroupStatuses(t *testing.T) {
	f := newTestFaucet(t, ledger.NewMockClient(), testRawGroups())
	statuses, err := f.GroupStatuses("wallet1")
	require.NoError(t, err)
	require.Contains(t, statuses, "group_1")
	assert.Equal(t, "Test group", statuses["group_1"].Label)
	assert.Equal(t, distribution.ModeSequential, statuses["group_1"].Mode)
	assert.Equal(t, 2, statuses["group_1"].RequestsLeft)

	_, err = f.Allocate(context.Background(), "group_1", "wallet1", "addr1")
	require.NoError(t, err)
	statuses, err = f.GroupStatuses("wallet1")
	require.NoError(t, err)
	assert.Equal(t, 1, statuses["group_1"].RequestsLeft)
}
