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
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/blinklabs-io/faucet/database"
	"github.com/blinklabs-io/faucet/distribution"
	"github.com/blinklabs-io/faucet/event"
)

const AllocatedEventType event.EventType = "faucet.allocated"

// AllocatedEvent is the payload for faucet.allocated events
type AllocatedEvent struct {
	RequestId uint
	Identity  string
	GroupName string
	AssetID   string
	Amount    uint64
}

var (
	ErrUnknownGroup         = errors.New("unknown asset group")
	ErrQuotaExhausted       = errors.New("request quota exhausted")
	ErrNoAssetsAvailable    = errors.New("no assets available in group")
	ErrOutsideRequestWindow = errors.New("outside the group request window")
)

// groupState serializes allocations within a single group. The cursor is
// the number of sequential allocations ever made for the group; it is
// rebuilt from the request history at startup.
type groupState struct {
	mutex  sync.Mutex
	cursor int
}

func (f *Faucet) initGroupStates() error {
	states := make(map[string]*groupState, len(f.groups))
	for name := range f.groups {
		count, err := f.db.CountRequestsByGroup(name)
		if err != nil {
			return err
		}
		states[name] = &groupState{cursor: int(count)}
	}
	f.groupStates = states
	return nil
}

// Allocate reserves one asset from the named group for the identity and
// records a pending request for the settlement scheduler to pick up. The
// whole operation is all-or-nothing: when any step fails after quota was
// consumed, the quota unit is refunded before returning.
func (f *Faucet) Allocate(
	ctx context.Context,
	groupName string,
	identity string,
	externalRef string,
) (*database.Request, error) {
	group, ok := f.groups[groupName]
	if !ok {
		return nil, ErrUnknownGroup
	}
	state := f.groupStates[groupName]
	state.mutex.Lock()
	defer state.mutex.Unlock()
	consumed, err := f.quotaLedger.TryConsume(identity, groupName)
	if err != nil {
		return nil, fmt.Errorf("consuming quota: %w", err)
	}
	if !consumed {
		return nil, ErrQuotaExhausted
	}
	req, err := f.allocateLocked(group, state, identity, externalRef)
	if err != nil {
		// Roll back the quota charge, the identity got nothing
		if refundErr := f.quotaLedger.Refund(identity, groupName); refundErr != nil {
			f.config.logger.Error(
				"failed to refund quota",
				"identity", identity,
				"group", groupName,
				"error", refundErr,
			)
		}
		return nil, err
	}
	f.config.logger.Info(
		"allocated asset",
		"request", req.ID,
		"identity", identity,
		"group", groupName,
		"asset", req.AssetID,
	)
	f.eventBus.Publish(
		AllocatedEventType,
		event.NewEvent(AllocatedEventType, AllocatedEvent{
			RequestId: req.ID,
			Identity:  identity,
			GroupName: groupName,
			AssetID:   req.AssetID,
			Amount:    req.Amount,
		}),
	)
	return req, nil
}

// allocateLocked picks an asset per the group's distribution policy and
// persists the request. The caller holds the group mutex and has already
// consumed quota.
func (f *Faucet) allocateLocked(
	group *distribution.AssetGroup,
	state *groupState,
	identity string,
	externalRef string,
) (*database.Request, error) {
	if !group.Policy.InWindow(time.Now()) {
		return nil, ErrOutsideRequestWindow
	}
	var asset distribution.AssetUnit
	switch group.Policy.Mode {
	case distribution.ModeSequential:
		// Assets are handed out in configured order until the group is
		// exhausted
		if state.cursor >= len(group.Assets) {
			return nil, ErrNoAssetsAvailable
		}
		asset = group.Assets[state.cursor]
	case distribution.ModeRandomWindowed:
		if len(group.Assets) == 0 {
			return nil, ErrNoAssetsAvailable
		}
		asset = group.Assets[rand.IntN(len(group.Assets))]
	default:
		return nil, fmt.Errorf(
			"unhandled distribution mode: %d",
			group.Policy.Mode,
		)
	}
	req := &database.Request{
		Identity:    identity,
		GroupName:   group.Name,
		AssetID:     asset.AssetID,
		Amount:      asset.Amount,
		ExternalRef: externalRef,
		Status:      database.RequestStatusPending,
	}
	if err := f.db.CreateRequest(req); err != nil {
		return nil, err
	}
	// Advance the cursor only once the request is durably recorded
	if group.Policy.Mode == distribution.ModeSequential {
		state.cursor++
	}
	return req, nil
}

// RequestsLeft returns the number of allocations the identity has left in
// the named group
func (f *Faucet) RequestsLeft(identity string, groupName string) (int, error) {
	if _, ok := f.groups[groupName]; !ok {
		return 0, ErrUnknownGroup
	}
	return f.quotaLedger.RequestsLeft(identity, groupName)
}

// GroupStatus summarizes one asset group for a requesting identity
type GroupStatus struct {
	Label        string
	Mode         distribution.Mode
	RequestsLeft int
}

// GroupStatuses returns the per-group view for an identity, used by the
// receive config endpoint
func (f *Faucet) GroupStatuses(
	identity string,
) (map[string]GroupStatus, error) {
	ret := make(map[string]GroupStatus, len(f.groups))
	for name, group := range f.groups {
		left, err := f.quotaLedger.RequestsLeft(identity, name)
		if err != nil {
			return nil, err
		}
		ret[name] = GroupStatus{
			Label:        group.Label,
			Mode:         group.Policy.Mode,
			RequestsLeft: left,
		}
	}
	return ret, nil
}
