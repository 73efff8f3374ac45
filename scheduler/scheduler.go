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

// Package scheduler drives allocated requests through settlement. A
// periodic sweep broadcasts pending requests and polls sent ones until
// they reach a terminal state. Every status transition goes through the
// request store's guarded update, so a sweep racing an operator refresh
// can never double-apply a transition.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/blinklabs-io/faucet/database"
	"github.com/blinklabs-io/faucet/event"
	"github.com/blinklabs-io/faucet/ledger"
)

const (
	SentEventType    event.EventType = "settlement.sent"
	SettledEventType event.EventType = "settlement.settled"
	FailedEventType  event.EventType = "settlement.failed"

	defaultInterval = 60 * time.Second
)

// SettlementEvent is the payload for all settlement.* events
type SettlementEvent struct {
	RequestId uint
	Identity  string
	GroupName string
	AssetID   string
	TxID      string
	Status    database.RequestStatus
}

type Config struct {
	PromRegistry prometheus.Registerer
	Logger       *slog.Logger
	EventBus     *event.EventBus
	Store        *database.Database
	Client       ledger.Client
	// Interval between sweeps
	Interval time.Duration
	// MaxRetries bounds both broadcast and poll retries for transient
	// ledger failures
	MaxRetries int
	// MinConfirmations a transfer needs before it settles. Zero settles
	// on first confirmation report.
	MinConfirmations int
	// RetryBackoff is the base delay before a failed operation is
	// attempted again. It doubles per retry. Defaults to Interval.
	RetryBackoff time.Duration
}

type Scheduler struct {
	config  Config
	logger  *slog.Logger
	metrics struct {
		sweeps      prometheus.Counter
		transitions *prometheus.CounterVec
	}
	stopCh chan struct{}
}

func New(cfg Config) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = cfg.Interval
	}
	s := &Scheduler{
		config: cfg,
		logger: cfg.Logger.With("component", "scheduler"),
		stopCh: make(chan struct{}),
	}
	if cfg.PromRegistry != nil {
		promFactory := promauto.With(cfg.PromRegistry)
		s.metrics.sweeps = promFactory.NewCounter(prometheus.CounterOpts{
			Name: "faucet_scheduler_sweeps_total",
			Help: "total settlement sweeps run",
		})
		s.metrics.transitions = promFactory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "faucet_settlement_transitions_total",
				Help: "total request status transitions by target status",
			},
			[]string{"to"},
		)
	}
	return s
}

// Start runs the sweep loop until the context is canceled or Stop is
// called
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.config.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				if err := s.Sweep(ctx); err != nil {
					s.logger.Error(
						"settlement sweep failed",
						"error", err,
					)
				}
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
}

// Sweep processes every due request once: pending requests are
// broadcast, then sent requests are polled for confirmations. Requests
// whose retry backoff has not elapsed are skipped.
func (s *Scheduler) Sweep(ctx context.Context) error {
	if s.metrics.sweeps != nil {
		s.metrics.sweeps.Inc()
	}
	pending, err := s.config.Store.RequestsByStatus(
		database.RequestStatusPending,
	)
	if err != nil {
		return err
	}
	now := time.Now()
	for _, req := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		if req.NextAttempt.After(now) {
			continue
		}
		if err := s.broadcast(ctx, &req); err != nil {
			return err
		}
	}
	sent, err := s.config.Store.RequestsByStatus(database.RequestStatusSent)
	if err != nil {
		return err
	}
	for _, req := range sent {
		if err := ctx.Err(); err != nil {
			return err
		}
		if req.NextAttempt.After(now) {
			continue
		}
		if err := s.poll(ctx, &req); err != nil {
			return err
		}
	}
	return nil
}

// broadcast attempts the ledger transfer for a pending request
func (s *Scheduler) broadcast(
	ctx context.Context,
	req *database.Request,
) error {
	ack, err := s.config.Client.Send(ctx, req.AssetID, req.ExternalRef)
	if err != nil {
		if !ledger.IsTransient(err) {
			s.logger.Warn(
				"transfer rejected by ledger",
				"request", req.ID,
				"asset", req.AssetID,
				"error", err,
			)
			return s.fail(req, database.RequestStatusPending)
		}
		if req.SendRetries >= s.config.MaxRetries {
			s.logger.Warn(
				"broadcast retries exhausted",
				"request", req.ID,
				"asset", req.AssetID,
				"error", err,
			)
			return s.fail(req, database.RequestStatusPending)
		}
		s.logger.Info(
			"transient broadcast failure, will retry",
			"request", req.ID,
			"retries", req.SendRetries+1,
			"error", err,
		)
		return s.config.Store.UpdateRequestFields(req.ID, map[string]any{
			"send_retries": req.SendRetries + 1,
			"next_attempt": time.Now().Add(
				s.backoff(req.SendRetries),
			),
		})
	}
	ok, err := s.config.Store.TransitionRequest(
		req.ID,
		database.RequestStatusPending,
		database.RequestStatusSent,
		map[string]any{
			"tx_id":        ack.TxID,
			"next_attempt": time.Time{},
		},
	)
	if err != nil {
		return err
	}
	if !ok {
		// Someone else moved the request first
		return nil
	}
	req.Status = database.RequestStatusSent
	req.TxID = ack.TxID
	s.logger.Info(
		"transfer broadcast",
		"request", req.ID,
		"asset", req.AssetID,
		"txid", ack.TxID,
	)
	s.recordTransition(database.RequestStatusSent)
	s.publish(SentEventType, req)
	return nil
}

// poll checks confirmation progress for a sent request
func (s *Scheduler) poll(
	ctx context.Context,
	req *database.Request,
) error {
	status, err := s.config.Client.TransferStatus(ctx, req.AssetID)
	if err != nil {
		if !ledger.IsTransient(err) {
			s.logger.Warn(
				"transfer reported failed",
				"request", req.ID,
				"asset", req.AssetID,
				"error", err,
			)
			return s.fail(req, database.RequestStatusSent)
		}
		if req.PollRetries >= s.config.MaxRetries {
			s.logger.Warn(
				"poll retries exhausted",
				"request", req.ID,
				"asset", req.AssetID,
				"error", err,
			)
			return s.fail(req, database.RequestStatusSent)
		}
		return s.config.Store.UpdateRequestFields(req.ID, map[string]any{
			"poll_retries": req.PollRetries + 1,
			"next_attempt": time.Now().Add(
				s.backoff(req.PollRetries),
			),
		})
	}
	switch status.Outcome {
	case ledger.TransferOutcomeRejected:
		return s.fail(req, database.RequestStatusSent)
	case ledger.TransferOutcomeConfirmed:
		if status.Confirmations >= s.config.MinConfirmations {
			ok, err := s.config.Store.TransitionRequest(
				req.ID,
				database.RequestStatusSent,
				database.RequestStatusSettled,
				map[string]any{"confirmations": status.Confirmations},
			)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			req.Status = database.RequestStatusSettled
			req.Confirmations = status.Confirmations
			s.logger.Info(
				"transfer settled",
				"request", req.ID,
				"asset", req.AssetID,
				"confirmations", status.Confirmations,
			)
			s.recordTransition(database.RequestStatusSettled)
			s.publish(SettledEventType, req)
			return nil
		}
		fallthrough
	case ledger.TransferOutcomePending:
		// Still waiting, record progress. Successful polls reset the
		// retry counter.
		return s.config.Store.UpdateRequestFields(req.ID, map[string]any{
			"confirmations": status.Confirmations,
			"poll_retries":  0,
		})
	default:
		return fmt.Errorf("unknown transfer outcome: %s", status.Outcome)
	}
}

// fail moves a request to the terminal failed state
func (s *Scheduler) fail(
	req *database.Request,
	from database.RequestStatus,
) error {
	ok, err := s.config.Store.TransitionRequest(
		req.ID,
		from,
		database.RequestStatusFailed,
		nil,
	)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	req.Status = database.RequestStatusFailed
	s.recordTransition(database.RequestStatusFailed)
	s.publish(FailedEventType, req)
	return nil
}

var ErrUnknownRequest = errors.New("no request matches the given reference")

// RefreshOne forces settlement progress for a single request outside the
// sweep cadence, ignoring any retry backoff. The reference is either a
// request row id or an asset id, in which case the most recent request
// for that asset is refreshed. It returns whether the request settled
// during this refresh, and is safe to call repeatedly: a request already
// in a terminal state is left untouched and reports false.
func (s *Scheduler) RefreshOne(
	ctx context.Context,
	ref string,
) (bool, error) {
	req, err := s.resolve(ref)
	if err != nil {
		return false, err
	}
	if req.Status.Terminal() {
		return false, nil
	}
	if req.Status == database.RequestStatusPending {
		if err := s.broadcast(ctx, req); err != nil {
			return false, err
		}
	}
	if req.Status == database.RequestStatusSent {
		if err := s.poll(ctx, req); err != nil {
			return false, err
		}
	}
	// Re-read for the final word, another actor may have raced us
	final, err := s.config.Store.RequestById(req.ID)
	if err != nil {
		return false, err
	}
	return final.Status == database.RequestStatusSettled, nil
}

func (s *Scheduler) resolve(ref string) (*database.Request, error) {
	if id, err := strconv.ParseUint(ref, 10, 32); err == nil {
		req, err := s.config.Store.RequestById(uint(id))
		if err != nil {
			if errors.Is(err, database.ErrRequestNotFound) {
				return nil, ErrUnknownRequest
			}
			return nil, err
		}
		return req, nil
	}
	reqs, err := s.config.Store.RequestsByAssetId(ref)
	if err != nil {
		return nil, err
	}
	if len(reqs) == 0 {
		return nil, ErrUnknownRequest
	}
	return &reqs[len(reqs)-1], nil
}

func (s *Scheduler) backoff(retries int) time.Duration {
	d := s.config.RetryBackoff
	for i := 0; i < retries; i++ {
		d *= 2
	}
	return d
}

func (s *Scheduler) recordTransition(to database.RequestStatus) {
	if s.metrics.transitions != nil {
		s.metrics.transitions.WithLabelValues(string(to)).Inc()
	}
}

func (s *Scheduler) publish(evtType event.EventType, req *database.Request) {
	if s.config.EventBus == nil {
		return
	}
	s.config.EventBus.Publish(
		evtType,
		event.NewEvent(evtType, SettlementEvent{
			RequestId: req.ID,
			Identity:  req.Identity,
			GroupName: req.GroupName,
			AssetID:   req.AssetID,
			TxID:      req.TxID,
			Status:    req.Status,
		}),
	)
}
