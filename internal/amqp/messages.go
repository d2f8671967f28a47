package amqp

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"fintrack/internal/core"
)

// EventMessage is the wire form of a ledger event. The embedded event carries
// the full transaction so the worker needs no read access to the ledger.
type EventMessage struct {
	ID string `json:"id"`
	core.Event
}

func NewEventMessage(ev core.Event) *EventMessage {
	return &EventMessage{ID: uuid.NewString(), Event: ev}
}

// ToJSON converts the message to JSON bytes
func (m *EventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// EventMessageFromJSON decodes a message and rejects unknown kinds or
// transaction events without a transaction.
func EventMessageFromJSON(data []byte) (*EventMessage, error) {
	var msg EventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Kind {
	case core.EventTransactionCreated, core.EventTransactionDeleted:
		if msg.Transaction == nil {
			return nil, fmt.Errorf("%s event without transaction", msg.Kind)
		}
	case core.EventBalanceUpdated:
	default:
		return nil, fmt.Errorf("unknown event kind %q", msg.Kind)
	}
	return &msg, nil
}
