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

package database_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blinklabs-io/faucet/database"
)

// newTestDatabase opens a store backed by a throwaway data dir. We use a
// file-backed store rather than the in-memory one because the shared
// in-memory sqlite database would leak rows between tests.
func newTestDatabase(t *testing.T) *database.Database {
	t.Helper()
	db, err := database.New(database.Config{
		DataDir: t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("closing database: %s", err)
		}
	})
	return db
}

func TestRequestCreateAndFetch(t *testing.T) {
	db := newTestDatabase(t)
	req := &database.Request{
		Identity:    "wallet1",
		GroupName:   "group_1",
		AssetID:     "asset-a",
		Amount:      100,
		ExternalRef: "addr1",
	}
	require.NoError(t, db.CreateRequest(req))
	require.NotZero(t, req.ID)

	fetched, err := db.RequestById(req.ID)
	require.NoError(t, err)
	assert.Equal(t, "wallet1", fetched.Identity)
	assert.Equal(t, "asset-a", fetched.AssetID)
	assert.Equal(t, uint64(100), fetched.Amount)
	// Status defaults to pending
	assert.Equal(t, database.RequestStatusPending, fetched.Status)

	_, err = db.RequestById(req.ID + 100)
	assert.ErrorIs(t, err, database.ErrRequestNotFound)
}

func TestRequestsByStatus(t *testing.T) {
	db := newTestDatabase(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, db.CreateRequest(&database.Request{
			Identity:  "wallet1",
			GroupName: "group_1",
			AssetID:   "asset-a",
		}))
	}
	require.NoError(t, db.CreateRequest(&database.Request{
		Identity:  "wallet2",
		GroupName: "group_1",
		AssetID:   "asset-b",
		Status:    database.RequestStatusSettled,
	}))
	pending, err := db.RequestsByStatus(database.RequestStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	// Oldest first
	assert.Less(t, pending[0].ID, pending[1].ID)
	settled, err := db.RequestsByStatus(database.RequestStatusSettled)
	require.NoError(t, err)
	require.Len(t, settled, 1)
	assert.Equal(t, "asset-b", settled[0].AssetID)
}

func TestCountRequestsByGroup(t *testing.T) {
	db := newTestDatabase(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, db.CreateRequest(&database.Request{
			Identity:  "wallet1",
			GroupName: "group_1",
			AssetID:   "asset-a",
		}))
	}
	require.NoError(t, db.CreateRequest(&database.Request{
		Identity:  "wallet1",
		GroupName: "group_2",
		AssetID:   "asset-b",
	}))
	count, err := db.CountRequestsByGroup("group_1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
	count, err = db.CountRequestsByGroup("missing")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestTransitionRequest(t *testing.T) {
	db := newTestDatabase(t)
	req := &database.Request{
		Identity:  "wallet1",
		GroupName: "group_1",
		AssetID:   "asset-a",
	}
	require.NoError(t, db.CreateRequest(req))

	ok, err := db.TransitionRequest(
		req.ID,
		database.RequestStatusPending,
		database.RequestStatusSent,
		map[string]any{"tx_id": "abc123"},
	)
	require.NoError(t, err)
	require.True(t, ok)
	fetched, err := db.RequestById(req.ID)
	require.NoError(t, err)
	assert.Equal(t, database.RequestStatusSent, fetched.Status)
	assert.Equal(t, "abc123", fetched.TxID)

	// A second transition from the same origin state must lose
	ok, err = db.TransitionRequest(
		req.ID,
		database.RequestStatusPending,
		database.RequestStatusFailed,
		nil,
	)
	require.NoError(t, err)
	assert.False(t, ok)
	fetched, err = db.RequestById(req.ID)
	require.NoError(t, err)
	assert.Equal(t, database.RequestStatusSent, fetched.Status)
}

func TestTransitionRequestConcurrent(t *testing.T) {
	db := newTestDatabase(t)
	req := &database.Request{
		Identity:  "wallet1",
		GroupName: "group_1",
		AssetID:   "asset-a",
	}
	require.NoError(t, db.CreateRequest(req))
	var wins atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := db.TransitionRequest(
				req.ID,
				database.RequestStatusPending,
				database.RequestStatusSent,
				nil,
			)
			if err != nil {
				t.Errorf("unexpected error: %s", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	// Exactly one concurrent transition can win
	assert.Equal(t, int64(1), wins.Load())
}

func TestUpdateRequestFields(t *testing.T) {
	db := newTestDatabase(t)
	req := &database.Request{
		Identity:  "wallet1",
		GroupName: "group_1",
		AssetID:   "asset-a",
	}
	require.NoError(t, db.CreateRequest(req))
	next := time.Now().Add(time.Minute).UTC()
	require.NoError(t, db.UpdateRequestFields(req.ID, map[string]any{
		"send_retries": 2,
		"next_attempt": next,
	}))
	fetched, err := db.RequestById(req.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, fetched.SendRetries)
	assert.WithinDuration(t, next, fetched.NextAttempt, time.Second)
}

func TestListRequests(t *testing.T) {
	db := newTestDatabase(t)
	rows := []database.Request{
		{
			Identity:  "wallet1",
			GroupName: "group_1",
			AssetID:   "asset-a",
			Status:    database.RequestStatusSettled,
		},
		{
			Identity:  "wallet2",
			GroupName: "group_1",
			AssetID:   "asset-b",
			Status:    database.RequestStatusPending,
		},
		{
			Identity:  "wallet1",
			GroupName: "group_2",
			AssetID:   "asset-c",
			Status:    database.RequestStatusPending,
		},
	}
	for i := range rows {
		require.NoError(t, db.CreateRequest(&rows[i]))
	}

	all, err := db.ListRequests(database.RequestFilter{}, 100)
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Newest first
	assert.Greater(t, all[0].ID, all[1].ID)

	byStatus, err := db.ListRequests(database.RequestFilter{
		Status: database.RequestStatusPending,
	}, 100)
	require.NoError(t, err)
	assert.Len(t, byStatus, 2)

	byIdentity, err := db.ListRequests(database.RequestFilter{
		Identity:  "wallet1",
		GroupName: "group_1",
	}, 100)
	require.NoError(t, err)
	require.Len(t, byIdentity, 1)
	assert.Equal(t, "asset-a", byIdentity[0].AssetID)

	limited, err := db.ListRequests(database.RequestFilter{}, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestRequestStatusHelpers(t *testing.T) {
	assert.True(t, database.RequestStatusPending.Valid())
	assert.True(t, database.RequestStatusFailed.Valid())
	assert.False(t, database.RequestStatus("bogus").Valid())
	assert.True(t, database.RequestStatusSettled.Terminal())
	assert.True(t, database.RequestStatusFailed.Terminal())
	assert.False(t, database.RequestStatusSent.Terminal())
}
