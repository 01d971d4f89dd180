// Package status tracks the lifecycle of escalated requests so clients
// can poll for their eventual result. Records live in the key-value
// store with a sliding TTL and only move forward through the state
// machine QUEUED -> PROCESSING -> COMPLETED | FAILED.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/indpro-interns-oct-25/chatNShop/internal/kv"
	"github.com/indpro-interns-oct-25/chatNShop/internal/model"
)

const keyPrefix = "chatns:status:"

// ErrInvalidTransition is returned when an update would move a request
// backwards or out of a terminal state.
var ErrInvalidTransition = errors.New("status: invalid state transition")

// ErrNotFound is returned when no record exists for a request ID.
var ErrNotFound = errors.New("status: request not found")

// Store persists request lifecycle records.
type Store struct {
	kv     kv.Store
	ttl    time.Duration
	logger *slog.Logger
}

// New creates a status store with the given record TTL.
func New(store kv.Store, ttl time.Duration, logger *slog.Logger) *Store {
	return &Store{kv: store, ttl: ttl, logger: logger}
}

func key(requestID string) string {
	return keyPrefix + requestID
}

// Create records a freshly queued request.
func (s *Store) Create(ctx context.Context, requestID, message string) error {
	now := time.Now().UTC()
	rec := model.RequestStatus{
		RequestID: requestID,
		State:     model.StateQueued,
		Message:   message,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s.write(ctx, &rec)
}

// Get returns the record for a request ID.
func (s *Store) Get(ctx context.Context, requestID string) (*model.RequestStatus, error) {
	raw, ok, err := s.kv.Get(ctx, key(requestID))
	if err != nil {
		return nil, fmt.Errorf("status: get %s: %w", requestID, err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	var rec model.RequestStatus
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("status: decode %s: %w", requestID, err)
	}
	return &rec, nil
}

// MarkProcessing transitions a request to PROCESSING.
func (s *Store) MarkProcessing(ctx context.Context, requestID string) error {
	return s.transition(ctx, requestID, model.StateProcessing, func(rec *model.RequestStatus) {
		rec.Message = "classification in progress"
	})
}

// Complete transitions a request to COMPLETED with its result.
func (s *Store) Complete(ctx context.Context, requestID string, result *model.ClassificationResult, usage *model.Usage) error {
	return s.transition(ctx, requestID, model.StateCompleted, func(rec *model.RequestStatus) {
		rec.Message = ""
		rec.Result = result
		rec.Usage = usage
	})
}

// Fail transitions a request to FAILED with a reason.
func (s *Store) Fail(ctx context.Context, requestID, message string) error {
	return s.transition(ctx, requestID, model.StateFailed, func(rec *model.RequestStatus) {
		rec.Message = message
	})
}

// transition applies a forward-only state change.
func (s *Store) transition(ctx context.Context, requestID string, next model.RequestState, apply func(*model.RequestStatus)) error {
	rec, err := s.Get(ctx, requestID)
	if err != nil {
		return err
	}

	// Terminal states never change, and rank never decreases.
	if rec.State.Rank() >= model.StateCompleted.Rank() || next.Rank() < rec.State.Rank() {
		return fmt.Errorf("%w: %s -> %s for %s", ErrInvalidTransition, rec.State, next, requestID)
	}

	rec.State = next
	apply(rec)
	rec.UpdatedAt = time.Now().UTC()
	return s.write(ctx, rec)
}

func (s *Store) write(ctx context.Context, rec *model.RequestStatus) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("status: encode %s: %w", rec.RequestID, err)
	}
	if err := s.kv.SetEx(ctx, key(rec.RequestID), string(raw), s.ttl); err != nil {
		return fmt.Errorf("status: write %s: %w", rec.RequestID, err)
	}
	s.logger.Debug("status: updated", "request_id", rec.RequestID, "state", rec.State)
	return nil
}
