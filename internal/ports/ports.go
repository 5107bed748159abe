package ports

import (
	"context"

	"expensetracker/internal/core"
)

// Ports for outbound adapters.
type (
	// TransactionStore is the durable collection of transactions, partitioned
	// per user. An id belonging to another user behaves as not found.
	TransactionStore interface {
		// Create assigns the id and creation time and stores the record.
		Create(ctx context.Context, userID string, in core.TransactionInput) (core.Transaction, error)
		// Replace overwrites every editable field; CreatedAt is preserved.
		Replace(ctx context.Context, userID, id string, in core.TransactionInput) (core.Transaction, error)
		Delete(ctx context.Context, userID, id string) error
		// List returns the user's transactions most recent first
		// (date descending, then creation time descending).
		List(ctx context.Context, userID string) ([]core.Transaction, error)
	}

	UserStore interface {
		CreateUser(ctx context.Context, u core.User) error
		GetUserByEmail(ctx context.Context, email string) (core.User, error)
		GetUserByID(ctx context.Context, id string) (core.User, error)
	}

	// ChangePublisher forwards change events outside the process.
	ChangePublisher interface {
		PublishChange(ctx context.Context, ev core.ChangeEvent) error
	}

	// SnapshotWriter receives a user's full transaction snapshot.
	SnapshotWriter interface {
		WriteSnapshot(ctx context.Context, userID string, txs []core.Transaction) error
	}
)
