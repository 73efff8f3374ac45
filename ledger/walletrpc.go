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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultRequestTimeout = 30 * time.Second

// WalletClient implements Client against the external wallet daemon's
// JSON-RPC endpoint. The wallet daemon owns keys and transfer
// construction; the faucet only asks it to send a configured asset unit
// to a recipient reference and to report transfer status.
type WalletClient struct {
	config     WalletClientConfig
	logger     *slog.Logger
	httpClient *http.Client
}

type WalletClientConfig struct {
	Logger *slog.Logger
	// URL of the wallet daemon JSON-RPC endpoint
	URL string
	// RequestTimeout bounds each RPC round trip
	RequestTimeout time.Duration
}

func NewWalletClient(cfg WalletClientConfig) *WalletClient {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	return &WalletClient{
		config: cfg,
		logger: cfg.Logger.With("component", "ledger"),
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
	}
}

type rpcRequest struct {
	Params  any    `json:"params,omitempty"`
	Jsonrpc string `json:"jsonrpc"`
	Method  string `json:"method"`
	Id      int    `json:"id"`
}

type rpcError struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type sendParams struct {
	AssetID   string `json:"asset_id"`
	Recipient string `json:"recipient"`
}

type sendResult struct {
	TxID string `json:"txid"`
}

type transferStatusParams struct {
	AssetID string `json:"asset_id"`
}

type transferStatusResult struct {
	Status        string `json:"status"`
	Confirmations int    `json:"confirmations"`
}

// Send asks the wallet daemon to broadcast a transfer of the given asset
// to the recipient reference
func (c *WalletClient) Send(
	ctx context.Context,
	assetID string,
	externalRef string,
) (Ack, error) {
	var result sendResult
	err := c.call(
		ctx,
		"send",
		sendParams{AssetID: assetID, Recipient: externalRef},
		&result,
	)
	if err != nil {
		return Ack{}, err
	}
	c.logger.Debug(
		"transfer broadcast",
		"asset_id", assetID,
		"txid", result.TxID,
	)
	return Ack{TxID: result.TxID}, nil
}

// TransferStatus reports the wallet daemon's view of the transfer for the
// given asset
func (c *WalletClient) TransferStatus(
	ctx context.Context,
	assetID string,
) (TransferStatus, error) {
	var result transferStatusResult
	err := c.call(
		ctx,
		"transferstatus",
		transferStatusParams{AssetID: assetID},
		&result,
	)
	if err != nil {
		return TransferStatus{}, err
	}
	status := TransferStatus{
		Confirmations: result.Confirmations,
	}
	switch result.Status {
	case "pending":
		status.Outcome = TransferOutcomePending
	case "confirmed":
		status.Outcome = TransferOutcomeConfirmed
	case "rejected", "failed":
		status.Outcome = TransferOutcomeRejected
	default:
		return TransferStatus{}, &TransientError{
			Err: fmt.Errorf(
				"unknown transfer status from wallet: %q",
				result.Status,
			),
		}
	}
	return status, nil
}

func (c *WalletClient) call(
	ctx context.Context,
	method string,
	params any,
	result any,
) error {
	reqBody, err := json.Marshal(rpcRequest{
		Jsonrpc: "2.0",
		Id:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return &TerminalError{
			Err: fmt.Errorf("marshal %s request: %w", method, err),
		}
	}
	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.config.URL,
		bytes.NewReader(reqBody),
	)
	if err != nil {
		return &TerminalError{
			Err: fmt.Errorf("build %s request: %w", method, err),
		}
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network/timeout class failures are retried by the caller
		return &TransientError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return &TransientError{
			Err: fmt.Errorf(
				"wallet daemon returned status %d",
				resp.StatusCode,
			),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return &TerminalError{
			Err: fmt.Errorf(
				"wallet daemon returned status %d",
				resp.StatusCode,
			),
		}
	}
	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return &TransientError{
			Err: fmt.Errorf("decode %s response: %w", method, err),
		}
	}
	if rpcResp.Error != nil {
		// The wallet daemon explicitly refused the operation
		return &TerminalError{
			Err: fmt.Errorf(
				"wallet rpc error %d: %s",
				rpcResp.Error.Code,
				rpcResp.Error.Message,
			),
		}
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return &TransientError{
			Err: fmt.Errorf("unmarshal %s result: %w", method, err),
		}
	}
	return nil
}
