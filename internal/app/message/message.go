/*
Package message defines the private message record, its delivery status and
the store the gateway persists it through.
*/
package message

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status is the delivery state of a message. It only ever moves forward.
type Status string

const (
	StatusSent      Status = "SENT"
	StatusDelivered Status = "DELIVERED"
	StatusRead      Status = "READ"
)

// rank orders statuses; unknown statuses rank below SENT.
func (s Status) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// CanAdvanceTo reports whether moving from s to next is a forward transition.
func (s Status) CanAdvanceTo(next Status) bool {
	return next.rank() > s.rank()
}

// Before returns every known status that precedes s, i.e. the statuses a row
// may currently hold for an advance to s to be allowed.
func (s Status) Before() []Status {
	var out []Status
	for _, candidate := range []Status{StatusSent, StatusDelivered, StatusRead} {
		if candidate.rank() < s.rank() {
			out = append(out, candidate)
		}
	}
	return out
}

// Message is one private message between two users.
// Read state is carried by Status alone; IsRead is derived from it.
type Message struct {
	ID         string    `db:"id"`
	SenderID   string    `db:"sender_id"`
	ReceiverID string    `db:"receiver_id"`
	Body       string    `db:"body"`
	Status     Status    `db:"status"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// New builds an unsaved message in the SENT state with a fresh id.
// Timestamps are assigned by the store.
func New(senderID, receiverID, body string) *Message {
	return &Message{
		ID:         uuid.NewString(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Body:       body,
		Status:     StatusSent,
	}
}

// IsRead reports whether the message has been read by its receiver.
func (m Message) IsRead() bool {
	return m.Status == StatusRead
}

// Between reports whether the message belongs to the conversation of a and b.
func (m Message) Between(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

type wireMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Body       string    `json:"body"`
	Status     Status    `json:"status"`
	IsRead     bool      `json:"isRead"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// MarshalJSON renders the client-facing shape, including the derived isRead flag.
func (m Message) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMessage{
		ID:         m.ID,
		SenderID:   m.SenderID,
		ReceiverID: m.ReceiverID,
		Body:       m.Body,
		Status:     m.Status,
		IsRead:     m.IsRead(),
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	})
}

// UnmarshalJSON accepts the client-facing shape. isRead is ignored in favor of status.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = Message{
		ID:         w.ID,
		SenderID:   w.SenderID,
		ReceiverID: w.ReceiverID,
		Body:       w.Body,
		Status:     w.Status,
		CreatedAt:  w.CreatedAt,
		UpdatedAt:  w.UpdatedAt,
	}
	return nil
}
