package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"expensetracker/internal/core"
)

// TransactionChangedMessage tells consumers that a user's collection changed.
// It carries no transaction fields; consumers reload the snapshot themselves.
type TransactionChangedMessage struct {
	UserID        string        `json:"user_id"`
	TransactionID string        `json:"transaction_id"`
	Op            core.ChangeOp `json:"op"`
	Timestamp     time.Time     `json:"timestamp"`
}

var ErrInvalidMessage = errors.New("invalid transaction changed message")

// NewTransactionChangedMessage builds the wire message for ev.
func NewTransactionChangedMessage(ev core.ChangeEvent) *TransactionChangedMessage {
	ts := ev.At
	if ts.IsZero() {
		ts = time.Now()
	}
	return &TransactionChangedMessage{
		UserID:        ev.UserID,
		TransactionID: ev.TransactionID,
		Op:            ev.Op,
		Timestamp:     ts,
	}
}

func (m *TransactionChangedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// Event converts the message back to a domain change event.
func (m *TransactionChangedMessage) Event() core.ChangeEvent {
	return core.ChangeEvent{
		UserID:        m.UserID,
		TransactionID: m.TransactionID,
		Op:            m.Op,
		At:            m.Timestamp,
	}
}

// TransactionChangedMessageFromJSON decodes and validates a message body.
func TransactionChangedMessageFromJSON(data []byte) (*TransactionChangedMessage, error) {
	var msg TransactionChangedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.UserID == "" {
		return nil, fmt.Errorf("%w: missing user_id", ErrInvalidMessage)
	}
	if !msg.Op.IsValid() {
		return nil, fmt.Errorf("%w: unknown op %q", ErrInvalidMessage, msg.Op)
	}
	return &msg, nil
}
