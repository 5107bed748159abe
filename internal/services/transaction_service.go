package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"expensetracker/internal/apperrors"
	"expensetracker/internal/core"
	"expensetracker/internal/events"
	"expensetracker/internal/ports"
)

// Invalidator drops derived state that depends on a user's collection.
type Invalidator interface {
	Invalidate(userID string)
}

// TransactionService orchestrates transaction writes across the store,
// in-process subscribers and the outbound AMQP publisher.
type TransactionService struct {
	store      ports.TransactionStore
	changes    *events.Broker[core.ChangeEvent]
	publisher  ports.ChangePublisher
	invalidate []Invalidator
	now        func() time.Time
}

type Option func(*TransactionService)

// WithPublisher forwards every change outside the process.
func WithPublisher(p ports.ChangePublisher) Option {
	return func(s *TransactionService) { s.publisher = p }
}

// WithInvalidator registers state to drop before subscribers are notified.
func WithInvalidator(inv Invalidator) Option {
	return func(s *TransactionService) { s.invalidate = append(s.invalidate, inv) }
}

func NewTransactionService(store ports.TransactionStore, changes *events.Broker[core.ChangeEvent], opts ...Option) *TransactionService {
	s := &TransactionService{
		store:   store,
		changes: changes,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// List returns the user's snapshot, most recent first.
func (s *TransactionService) List(ctx context.Context, userID string) ([]core.Transaction, error) {
	txs, err := s.store.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

func (s *TransactionService) Create(ctx context.Context, userID string, in core.TransactionInput) (core.Transaction, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return core.Transaction{}, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}

	tx, err := s.store.Create(ctx, userID, in)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("save transaction: %w", err)
	}

	s.notify(ctx, userID, tx.ID, core.OpCreated)
	return tx, nil
}

// Update replaces every editable field of an existing transaction.
func (s *TransactionService) Update(ctx context.Context, userID, id string, in core.TransactionInput) (core.Transaction, error) {
	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return core.Transaction{}, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}

	tx, err := s.store.Replace(ctx, userID, id, in)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("update transaction: %w", err)
	}

	s.notify(ctx, userID, tx.ID, core.OpUpdated)
	return tx, nil
}

func (s *TransactionService) Delete(ctx context.Context, userID, id string) error {
	if err := s.store.Delete(ctx, userID, id); err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}

	s.notify(ctx, userID, id, core.OpDeleted)
	return nil
}

func (s *TransactionService) notify(ctx context.Context, userID, id string, op core.ChangeOp) {
	for _, inv := range s.invalidate {
		inv.Invalidate(userID)
	}

	ev := core.ChangeEvent{UserID: userID, TransactionID: id, Op: op, At: s.now().UTC()}
	if s.changes != nil {
		s.changes.Publish(ev)
	}

	if s.publisher == nil {
		return
	}
	// The write already succeeded; a broker outage must not fail the request.
	if err := s.publisher.PublishChange(ctx, ev); err != nil {
		slog.ErrorContext(ctx, "Failed to publish change message",
			"user_id", userID,
			"transaction_id", id,
			"op", op,
			"error", err)
	}
}
