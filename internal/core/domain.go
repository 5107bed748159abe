package core

import (
	"errors"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// DateLayout is the ISO 8601 calendar date form used for Transaction.Date.
const DateLayout = "2006-01-02"

// MaxDescriptionLength bounds the free-text label of a transaction.
const MaxDescriptionLength = 200

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"
)

const (
	OpCreated ChangeOp = "created"
	OpUpdated ChangeOp = "updated"
	OpDeleted ChangeOp = "deleted"
)

type (
	TransactionType string

	ChangeOp string

	// Transaction is a single income or expense record owned by one user.
	Transaction struct {
		ID          string          `json:"id"`
		Amount      float64         `json:"amount"`
		Description string          `json:"description"`
		Category    string          `json:"category"`
		Type        TransactionType `json:"type"`
		Date        string          `json:"date"`
		CreatedAt   time.Time       `json:"createdAt"`
	}

	// TransactionInput holds the user-editable fields of a transaction.
	// Create and replace both take it, so ID and CreatedAt stay store-owned.
	TransactionInput struct {
		Amount      float64
		Description string
		Category    string
		Type        TransactionType
		Date        string
	}

	// ChangeEvent announces a mutation in one user's transaction collection.
	ChangeEvent struct {
		UserID        string    `json:"userId"`
		TransactionID string    `json:"transactionId"`
		Op            ChangeOp  `json:"op"`
		At            time.Time `json:"at"`
	}
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrEmptyDescription   = errors.New("empty description")
	ErrDescriptionTooLong = errors.New("description too long (max 200 characters)")
	ErrEmptyCategory      = errors.New("empty category")
	ErrInvalidType        = errors.New("invalid transaction type")
	ErrInvalidDate        = errors.New("invalid date")
)

func (t TransactionType) IsValid() bool {
	switch t {
	case Income, Expense:
		return true
	default:
		return false
	}
}

func (t TransactionType) String() string {
	return string(t)
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return d, nil
}

// ValidateAmount rejects NaN, infinities and non-positive values.
func ValidateAmount(amount float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func (in TransactionInput) Validate() error {
	if err := ValidateAmount(in.Amount); err != nil {
		return err
	}
	if len(strings.TrimSpace(in.Description)) == 0 {
		return ErrEmptyDescription
	}
	if utf8.RuneCountInString(in.Description) > MaxDescriptionLength {
		return ErrDescriptionTooLong
	}
	// Unknown categories are accepted; the registry only drives display hints.
	if strings.TrimSpace(in.Category) == "" {
		return ErrEmptyCategory
	}
	if !in.Type.IsValid() {
		return ErrInvalidType
	}
	if _, err := ParseDate(in.Date); err != nil {
		return err
	}
	return nil
}

// Normalize trims surrounding whitespace from the text fields.
func (in TransactionInput) Normalize() TransactionInput {
	in.Description = strings.TrimSpace(in.Description)
	in.Category = strings.TrimSpace(in.Category)
	in.Date = strings.TrimSpace(in.Date)
	return in
}

// Input returns the editable fields of t.
func (t Transaction) Input() TransactionInput {
	return TransactionInput{
		Amount:      t.Amount,
		Description: t.Description,
		Category:    t.Category,
		Type:        t.Type,
		Date:        t.Date,
	}
}

// Apply returns t with every editable field replaced by in.
// ID and CreatedAt are carried over untouched.
func (t Transaction) Apply(in TransactionInput) Transaction {
	t.Amount = in.Amount
	t.Description = in.Description
	t.Category = in.Category
	t.Type = in.Type
	t.Date = in.Date
	return t
}

// SortTransactions orders txs most recent first: by date descending,
// then by creation time descending.
func SortTransactions(txs []Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].Date != txs[j].Date {
			return txs[i].Date > txs[j].Date
		}
		return txs[i].CreatedAt.After(txs[j].CreatedAt)
	})
}

func (op ChangeOp) IsValid() bool {
	switch op {
	case OpCreated, OpUpdated, OpDeleted:
		return true
	default:
		return false
	}
}
