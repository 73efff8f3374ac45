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

package database

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// RequestStatus is the settlement state of a faucet request
type RequestStatus string

const (
	// RequestStatusPending means the request is allocated but the
	// transfer has not been broadcast yet
	RequestStatusPending RequestStatus = "pending"
	// RequestStatusSent means the transfer was broadcast and is awaiting
	// confirmations
	RequestStatusSent RequestStatus = "sent"
	// RequestStatusSettled is the terminal success state
	RequestStatusSettled RequestStatus = "settled"
	// RequestStatusFailed is the terminal failure state
	RequestStatusFailed RequestStatus = "failed"
)

// Valid returns true if the RequestStatus is a known state
func (s RequestStatus) Valid() bool {
	switch s {
	case RequestStatusPending,
		RequestStatusSent,
		RequestStatusSettled,
		RequestStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true for states with no outgoing transitions
func (s RequestStatus) Terminal() bool {
	return s == RequestStatusSettled || s == RequestStatusFailed
}

var ErrRequestNotFound = errors.New("request not found")

// Request is one faucet allocation and its settlement audit trail.
// Rows are created by the allocator and thereafter mutated only through
// status transitions; they are never deleted.
type Request struct {
	ID            uint `gorm:"primarykey"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Identity      string        `gorm:"index;size:256"`
	GroupName     string        `gorm:"index;size:256"`
	AssetID       string        `gorm:"index;size:256"`
	ExternalRef   string        `gorm:"size:512"`
	Status        RequestStatus `gorm:"index;size:16"`
	TxID          string        `gorm:"size:128"`
	Amount        uint64
	Confirmations int
	SendRetries   int
	PollRetries   int
	// NextAttempt gates retries: the scheduler skips the request until
	// this time has passed
	NextAttempt time.Time
}

func (Request) TableName() string {
	return "requests"
}

// CreateRequest persists a new request row. The row id is assigned by the
// store's sequence.
func (d *Database) CreateRequest(req *Request) error {
	if req.Status == "" {
		req.Status = RequestStatusPending
	}
	if result := d.db.Create(req); result.Error != nil {
		return fmt.Errorf("creating request: %w", result.Error)
	}
	return nil
}

// RequestById returns the request with the given row id
func (d *Database) RequestById(id uint) (*Request, error) {
	var req Request
	result := d.db.First(&req, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("fetching request: %w", result.Error)
	}
	return &req, nil
}

// RequestsByStatus returns all requests in the given status, oldest first
func (d *Database) RequestsByStatus(
	status RequestStatus,
) ([]Request, error) {
	var reqs []Request
	result := d.db.
		Where("status = ?", status).
		Order("id").
		Find(&reqs)
	if result.Error != nil {
		return nil, fmt.Errorf("listing requests: %w", result.Error)
	}
	return reqs, nil
}

// RequestsByAssetId returns all requests for the given asset, oldest
// first
func (d *Database) RequestsByAssetId(assetID string) ([]Request, error) {
	var reqs []Request
	result := d.db.
		Where("asset_id = ?", assetID).
		Order("id").
		Find(&reqs)
	if result.Error != nil {
		return nil, fmt.Errorf("listing requests: %w", result.Error)
	}
	return reqs, nil
}

// CountRequestsByGroup returns how many requests have ever been created
// for the given group. Used to rebuild the sequential allocation cursor
// at startup.
func (d *Database) CountRequestsByGroup(group string) (int64, error) {
	var count int64
	result := d.db.
		Model(&Request{}).
		Where("group_name = ?", group).
		Count(&count)
	if result.Error != nil {
		return 0, fmt.Errorf("counting requests: %w", result.Error)
	}
	return count, nil
}

// TransitionRequest moves a request from one status to another,
// applying the given extra field updates in the same statement. The
// update is guarded on the from status, so exactly one of any number of
// concurrent transition attempts can succeed; the returned bool reports
// whether this one did.
func (d *Database) TransitionRequest(
	id uint,
	from RequestStatus,
	to RequestStatus,
	fields map[string]any,
) (bool, error) {
	updates := map[string]any{"status": to}
	for k, v := range fields {
		updates[k] = v
	}
	result := d.db.
		Model(&Request{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("transitioning request: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// UpdateRequestFields applies field updates to a request without a
// status transition (retry counters and the like)
func (d *Database) UpdateRequestFields(
	id uint,
	fields map[string]any,
) error {
	result := d.db.
		Model(&Request{}).
		Where("id = ?", id).
		Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("updating request: %w", result.Error)
	}
	return nil
}

// RequestFilter selects requests for the operator listing API. Empty
// fields are ignored.
type RequestFilter struct {
	Status    RequestStatus
	GroupName string
	AssetID   string
	Identity  string
}

// ListRequests returns up to limit requests matching the filter, newest
// first
func (d *Database) ListRequests(
	filter RequestFilter,
	limit int,
) ([]Request, error) {
	query := d.db.Model(&Request{})
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.GroupName != "" {
		query = query.Where("group_name = ?", filter.GroupName)
	}
	if filter.AssetID != "" {
		query = query.Where("asset_id = ?", filter.AssetID)
	}
	if filter.Identity != "" {
		query = query.Where("identity = ?", filter.Identity)
	}
	var reqs []Request
	result := query.Order("id DESC").Limit(limit).Find(&reqs)
	if result.Error != nil {
		return nil, fmt.Errorf("listing requests: %w", result.Error)
	}
	return reqs, nil
}
