package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"expensetracker/internal/apperrors"
	"expensetracker/internal/core"
)

// transactionRequest is the JSON body of create and update calls.
// Amount may be a number or a decimal string such as "12,50".
// ID and CreatedAt are store-owned: they are accepted so a client can send a
// record back as it received it, and then ignored.
type transactionRequest struct {
	Amount      json.RawMessage `json:"amount"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Type        string          `json:"type"`
	Date        string          `json:"date"`

	ID        json.RawMessage `json:"id,omitempty"`
	CreatedAt json.RawMessage `json:"createdAt,omitempty"`
}

func (req transactionRequest) toInput(now time.Time) (core.TransactionInput, error) {
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return core.TransactionInput{}, fmt.Errorf("%w: %v", apperrors.ErrValidation, err)
	}

	in := core.TransactionInput{
		Amount:      amount,
		Description: sanitizeInput(req.Description),
		Category:    sanitizeInput(req.Category),
		Type:        core.TransactionType(sanitizeInput(req.Type)),
		Date:        sanitizeInput(req.Date),
	}
	if in.Category == "" {
		in.Category = core.DefaultCategory
	}
	if in.Type == "" {
		in.Type = core.DefaultType
	}
	if in.Date == "" {
		in.Date = now.Format(core.DateLayout)
	}
	return in, nil
}

func parseAmount(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, core.ErrInvalidAmount
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, core.ErrInvalidAmount
		}
		return core.ParseAmount(s)
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, core.ErrInvalidAmount
	}
	if err := core.ValidateAmount(f); err != nil {
		return 0, err
	}
	return f, nil
}
