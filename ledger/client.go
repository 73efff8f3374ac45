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

// Package ledger defines the client interface used to broadcast asset
// transfers and query their confirmation status. The faucet core treats
// the underlying wallet/ledger implementation as an opaque capability and
// only depends on this interface.
package ledger

import (
	"context"
	"errors"
	"fmt"
)

// TransferOutcome reports the ledger's view of a broadcast transfer
type TransferOutcome string

const (
	TransferOutcomePending   TransferOutcome = "pending"
	TransferOutcomeConfirmed TransferOutcome = "confirmed"
	TransferOutcomeRejected  TransferOutcome = "rejected"
)

// Ack is the acknowledgement returned by a successful Send
type Ack struct {
	TxID string
}

// TransferStatus is the result of polling a transfer
type TransferStatus struct {
	Outcome       TransferOutcome
	Confirmations int
}

// Client broadcasts asset transfers and reports their status. Both calls
// are expected to carry their own timeout; callers classify returned
// errors with IsTransient.
type Client interface {
	Send(ctx context.Context, assetID string, externalRef string) (Ack, error)
	TransferStatus(ctx context.Context, assetID string) (TransferStatus, error)
}

// TransientError wraps a network/timeout class failure. Callers are
// expected to retry the operation with backoff.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient ledger error: %s", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// TerminalError wraps an explicit rejection from the ledger. The operation
// must not be retried.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("terminal ledger error: %s", e.Err)
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

// IsTransient returns whether the given error should be retried. Unknown
// error types are treated as transient so that flaky infrastructure
// doesn't permanently fail a request.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var terminalErr *TerminalError
	return !errors.As(err, &terminalErr)
}
