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

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/blinklabs-io/faucet"
	"github.com/blinklabs-io/faucet/database"
	"github.com/blinklabs-io/faucet/scheduler"
)

// maxRequestListing caps the number of rows a single control listing can
// return
const maxRequestListing = 100

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck,errchkjson
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response
func writeError(
	w http.ResponseWriter,
	status int,
	errStr string,
	message string,
) {
	writeJSON(w, status, ErrorResponse{
		StatusCode: status,
		Error:      errStr,
		Message:    message,
	})
}

// requireKey guards a handler with an X-Api-Key check. An empty
// configured key disables the check, which is only meant for local
// development.
func (a *Api) requireKey(
	key string,
	next http.HandlerFunc,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if key != "" {
			provided := r.Header.Get("X-Api-Key")
			if subtle.ConstantTimeCompare(
				[]byte(provided),
				[]byte(key),
			) != 1 {
				writeError(
					w,
					http.StatusUnauthorized,
					"Unauthorized",
					"invalid API key",
				)
				return
			}
		}
		next(w, r)
	}
}

// handleHealth handles GET /health
func (a *Api) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		IsHealthy: true,
	})
}

// handleReceiveConfig handles GET /receive/config/{walletId} and returns
// the per-group view for the wallet
func (a *Api) handleReceiveConfig(
	w http.ResponseWriter,
	r *http.Request,
) {
	walletId := r.PathValue("walletId")
	statuses, err := a.faucet.GroupStatuses(walletId)
	if err != nil {
		a.logger.Error(
			"failed to get group statuses",
			"wallet", walletId,
			"error", err,
		)
		writeError(
			w,
			http.StatusInternalServerError,
			"Internal Server Error",
			"failed to retrieve group config",
		)
		return
	}
	groups := make(map[string]GroupInfo, len(statuses))
	for name, status := range statuses {
		groups[name] = GroupInfo{
			Label:        status.Label,
			Mode:         status.Mode.String(),
			RequestsLeft: status.RequestsLeft,
		}
	}
	writeJSON(w, http.StatusOK, ReceiveConfigResponse{
		WalletId: walletId,
		Groups:   groups,
	})
}

// handleReceiveAsset handles POST /receive/asset and allocates one asset
// from the requested group
func (a *Api) handleReceiveAsset(
	w http.ResponseWriter,
	r *http.Request,
) {
	var body ReceiveAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(
			w,
			http.StatusBadRequest,
			"Bad Request",
			"malformed request body",
		)
		return
	}
	if body.WalletId == "" || body.Group == "" || body.Recipient == "" {
		writeError(
			w,
			http.StatusBadRequest,
			"Bad Request",
			"wallet_id, group and recipient are required",
		)
		return
	}
	req, err := a.faucet.Allocate(
		r.Context(),
		body.Group,
		body.WalletId,
		body.Recipient,
	)
	if err != nil {
		switch {
		case errors.Is(err, faucet.ErrUnknownGroup):
			writeError(
				w,
				http.StatusNotFound,
				"Not Found",
				"unknown asset group",
			)
		case errors.Is(err, faucet.ErrQuotaExhausted):
			writeError(
				w,
				http.StatusForbidden,
				"Forbidden",
				"request quota exhausted for this wallet",
			)
		case errors.Is(err, faucet.ErrOutsideRequestWindow):
			writeError(
				w,
				http.StatusForbidden,
				"Forbidden",
				"outside the group request window",
			)
		case errors.Is(err, faucet.ErrNoAssetsAvailable):
			writeError(
				w,
				http.StatusServiceUnavailable,
				"Service Unavailable",
				"no assets available in group",
			)
		default:
			a.logger.Error(
				"allocation failed",
				"wallet", body.WalletId,
				"group", body.Group,
				"error", err,
			)
			writeError(
				w,
				http.StatusInternalServerError,
				"Internal Server Error",
				"allocation failed",
			)
		}
		return
	}
	writeJSON(w, http.StatusCreated, ReceiveAssetResponse{
		Request: requestInfo(req),
	})
}

// handleControlRequests handles GET /control/requests with optional
// status, group, asset_id and wallet_id filters
func (a *Api) handleControlRequests(
	w http.ResponseWriter,
	r *http.Request,
) {
	query := r.URL.Query()
	filter := database.RequestFilter{
		GroupName: query.Get("group"),
		AssetID:   query.Get("asset_id"),
		Identity:  query.Get("wallet_id"),
	}
	if status := query.Get("status"); status != "" {
		reqStatus := database.RequestStatus(status)
		if !reqStatus.Valid() {
			writeError(
				w,
				http.StatusBadRequest,
				"Bad Request",
				"invalid status filter",
			)
			return
		}
		filter.Status = reqStatus
	}
	limit := maxRequestListing
	if limitStr := query.Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			writeError(
				w,
				http.StatusBadRequest,
				"Bad Request",
				"invalid limit",
			)
			return
		}
		limit = min(parsed, maxRequestListing)
	}
	reqs, err := a.faucet.ListRequests(filter, limit)
	if err != nil {
		a.logger.Error("failed to list requests", "error", err)
		writeError(
			w,
			http.StatusInternalServerError,
			"Internal Server Error",
			"failed to list requests",
		)
		return
	}
	infos := make([]RequestInfo, 0, len(reqs))
	for i := range reqs {
		infos = append(infos, requestInfo(&reqs[i]))
	}
	writeJSON(w, http.StatusOK, ControlRequestsResponse{
		Requests: infos,
	})
}

// handleControlRefresh handles GET /control/refresh/{ref} and forces
// settlement progress for one request
func (a *Api) handleControlRefresh(
	w http.ResponseWriter,
	r *http.Request,
) {
	ref := r.PathValue("ref")
	settled, err := a.faucet.RefreshOne(r.Context(), ref)
	if err != nil {
		if errors.Is(err, scheduler.ErrUnknownRequest) {
			writeError(
				w,
				http.StatusNotFound,
				"Not Found",
				"no request matches the given reference",
			)
			return
		}
		a.logger.Error("refresh failed", "ref", ref, "error", err)
		writeError(
			w,
			http.StatusInternalServerError,
			"Internal Server Error",
			"refresh failed",
		)
		return
	}
	writeJSON(w, http.StatusOK, ControlRefreshResponse{
		Settled: settled,
	})
}

func requestInfo(req *database.Request) RequestInfo {
	return RequestInfo{
		Id:            req.ID,
		WalletId:      req.Identity,
		Group:         req.GroupName,
		AssetId:       req.AssetID,
		Amount:        req.Amount,
		Recipient:     req.ExternalRef,
		Status:        string(req.Status),
		TxId:          req.TxID,
		Confirmations: req.Confirmations,
		CreatedAt:     req.CreatedAt,
		UpdatedAt:     req.UpdatedAt,
	}
}
