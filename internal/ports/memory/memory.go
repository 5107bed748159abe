package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"expensetracker/internal/apperrors"
	"expensetracker/internal/core"
	"expensetracker/internal/ports"
)

var (
	_ ports.TransactionStore = (*Store)(nil)
	_ ports.UserStore        = (*Store)(nil)
)

// Store keeps users and their transactions in process memory.
type Store struct {
	mu    sync.Mutex
	items map[string]map[string]core.Transaction // user id -> tx id -> tx
	users map[string]core.User                   // user id -> user
	now   func() time.Time
}

func New() *Store {
	return &Store{
		items: make(map[string]map[string]core.Transaction),
		users: make(map[string]core.User),
		now:   time.Now,
	}
}

// Create stores the transaction under a fresh id.
func (s *Store) Create(_ context.Context, userID string, in core.TransactionInput) (core.Transaction, error) {
	if err := in.Validate(); err != nil {
		return core.Transaction{}, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := core.Transaction{ID: uuid.NewString(), CreatedAt: s.now().UTC()}.Apply(in)
	bucket, ok := s.items[userID]
	if !ok {
		bucket = make(map[string]core.Transaction)
		s.items[userID] = bucket
	}
	bucket[tx.ID] = tx
	return tx, nil
}

func (s *Store) Replace(_ context.Context, userID, id string, in core.TransactionInput) (core.Transaction, error) {
	if err := in.Validate(); err != nil {
		return core.Transaction{}, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.items[userID][id]
	if !ok {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, apperrors.ErrNotFound)
	}
	updated := existing.Apply(in)
	s.items[userID][id] = updated
	return updated, nil
}

func (s *Store) Delete(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[userID][id]; !ok {
		return fmt.Errorf("transaction %s: %w", id, apperrors.ErrNotFound)
	}
	delete(s.items[userID], id)
	return nil
}

// List returns a copy of the user's transactions, most recent first.
func (s *Store) List(_ context.Context, userID string) ([]core.Transaction, error) {
	s.mu.Lock()
	out := make([]core.Transaction, 0, len(s.items[userID]))
	for _, tx := range s.items[userID] {
		out = append(out, tx)
	}
	s.mu.Unlock()

	core.SortTransactions(out)
	return out, nil
}

func (s *Store) CreateUser(_ context.Context, u core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := normalizeEmail(u.Email)
	for _, existing := range s.users {
		if existing.Email == email {
			return fmt.Errorf("user %s: %w", email, apperrors.ErrDuplicate)
		}
	}
	if _, ok := s.users[u.ID]; ok {
		return fmt.Errorf("user %s: %w", u.ID, apperrors.ErrDuplicate)
	}
	u.Email = email
	s.users[u.ID] = u
	return nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = normalizeEmail(email)
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return core.User{}, fmt.Errorf("user %s: %w", email, apperrors.ErrNotFound)
}

func (s *Store) GetUserByID(_ context.Context, id string) (core.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return core.User{}, fmt.Errorf("user %s: %w", id, apperrors.ErrNotFound)
	}
	return u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
