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

package ledger

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is a scriptable in-memory Client used in tests and dev mode.
// Send records each broadcast; TransferStatus returns the configured
// status for the asset. Errors can be injected per call.
type MockClient struct {
	mutex      sync.Mutex
	sent       []MockSend
	statuses   map[string]TransferStatus
	sendErrs   map[string][]error
	statusErrs map[string][]error
}

type MockSend struct {
	AssetID     string
	ExternalRef string
}

func NewMockClient() *MockClient {
	return &MockClient{
		statuses:   make(map[string]TransferStatus),
		sendErrs:   make(map[string][]error),
		statusErrs: make(map[string][]error),
	}
}

func (m *MockClient) Send(
	_ context.Context,
	assetID string,
	externalRef string,
) (Ack, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if errs := m.sendErrs[assetID]; len(errs) > 0 {
		err := errs[0]
		m.sendErrs[assetID] = errs[1:]
		return Ack{}, err
	}
	m.sent = append(
		m.sent,
		MockSend{AssetID: assetID, ExternalRef: externalRef},
	)
	return Ack{TxID: fmt.Sprintf("mocktx-%d", len(m.sent))}, nil
}

func (m *MockClient) TransferStatus(
	_ context.Context,
	assetID string,
) (TransferStatus, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if errs := m.statusErrs[assetID]; len(errs) > 0 {
		err := errs[0]
		m.statusErrs[assetID] = errs[1:]
		return TransferStatus{}, err
	}
	status, ok := m.statuses[assetID]
	if !ok {
		return TransferStatus{Outcome: TransferOutcomePending}, nil
	}
	return status, nil
}

// SetTransferStatus configures the status returned for an asset
func (m *MockClient) SetTransferStatus(
	assetID string,
	status TransferStatus,
) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.statuses[assetID] = status
}

// QueueSendError injects an error for the next Send of the given asset
func (m *MockClient) QueueSendError(assetID string, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sendErrs[assetID] = append(m.sendErrs[assetID], err)
}

// QueueStatusError injects an error for the next TransferStatus of the
// given asset
func (m *MockClient) QueueStatusError(assetID string, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.statusErrs[assetID] = append(m.statusErrs[assetID], err)
}

// Sent returns a copy of the recorded broadcasts
func (m *MockClient) Sent() []MockSend {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	ret := make([]MockSend, len(m.sent))
	copy(ret, m.sent)
	return ret
}
