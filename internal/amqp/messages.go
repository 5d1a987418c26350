package amqp

import (
	"encoding/json"
	"time"

	"github.com/phoen-ix/bank-of-tina/internal/core"
)

// LedgerEventMessage is the wire form of one committed balance
// mutation. Consumers get the full transaction snapshot so they never
// need to reach back into the database.
type LedgerEventMessage struct {
	Action        string    `json:"action"`
	TransactionID int64     `json:"transaction_id"`
	Type          string    `json:"type"`
	Amount        string    `json:"amount"`
	Description   string    `json:"description"`
	FromUserID    *int64    `json:"from_user_id,omitempty"`
	ToUserID      *int64    `json:"to_user_id,omitempty"`
	Date          time.Time `json:"date"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewLedgerEventMessage snapshots a transaction into a wire message.
func NewLedgerEventMessage(action string, t core.Transaction) *LedgerEventMessage {
	return &LedgerEventMessage{
		Action:        action,
		TransactionID: t.ID,
		Type:          string(t.Type),
		Amount:        t.Amount.StringFixed(2),
		Description:   t.Description,
		FromUserID:    t.FromUserID,
		ToUserID:      t.ToUserID,
		Date:          t.Date,
		Timestamp:     time.Now(),
	}
}

func (m *LedgerEventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func LedgerEventMessageFromJSON(data []byte) (*LedgerEventMessage, error) {
	var msg LedgerEventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
