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
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

package api

import "time"

// ErrorResponse is the JSON error envelope for all endpoints
type ErrorResponse struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	IsHealthy bool `json:"is_healthy"`
}

// GroupInfo describes one asset group in the receive config response
type GroupInfo struct {
	Label        string `json:"label"`
	Mode         string `json:"distribution_mode"`
	RequestsLeft int    `json:"requests_left"`
}

// ReceiveConfigResponse is returned by GET /receive/config/{walletId}
type ReceiveConfigResponse struct {
	WalletId string               `json:"wallet_id"`
	Groups   map[string]GroupInfo `json:"groups"`
}

// ReceiveAssetRequest is the body for POST /receive/asset
type ReceiveAssetRequest struct {
	WalletId  string `json:"wallet_id"`
	Group     string `json:"group"`
	Recipient string `json:"recipient"`
}

// RequestInfo is the JSON view of a faucet request row
type RequestInfo struct {
	Id            uint      `json:"id"`
	WalletId      string    `json:"wallet_id"`
	Group         string    `json:"group"`
	AssetId       string    `json:"asset_id"`
	Amount        uint64    `json:"amount"`
	Recipient     string    `json:"recipient"`
	Status        string    `json:"status"`
	TxId          string    `json:"txid,omitempty"`
	Confirmations int       `json:"confirmations"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ReceiveAssetResponse is returned by POST /receive/asset
type ReceiveAssetResponse struct {
	Request RequestInfo `json:"request"`
}

// ControlRequestsResponse is returned by GET /control/requests
type ControlRequestsResponse struct {
	Requests []RequestInfo `json:"requests"`
}

// ControlRefreshResponse is returned by GET /control/refresh/{ref}
type ControlRefreshResponse struct {
	Settled bool `json:"settled"`
}
