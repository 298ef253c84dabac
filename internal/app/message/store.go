package message

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no message matches the requested filter.
var ErrNotFound = errors.New("message not found")

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// Page selects a window of a conversation, counted from the newest message.
type Page struct {
	Limit  int
	Offset int
}

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// ConversationSummary is one row of "my conversations".
type ConversationSummary struct {
	PartnerID   string  `json:"partnerId"`
	LastMessage Message `json:"lastMessage"`
	UnreadCount int     `json:"unreadCount"`
}

// Store persists messages. Every call touches a single row, or reads.
type Store interface {
	// Create inserts m, assigning CreatedAt and UpdatedAt.
	Create(ctx context.Context, m *Message) error

	// Advance moves the message to status `to` if that is a forward transition
	// from what is stored. It reports whether a row changed.
	Advance(ctx context.Context, id string, to Status) (bool, error)

	// MarkRead advances the message to READ if it is addressed to readerID and
	// not yet read, returning the updated message. Otherwise ErrNotFound.
	MarkRead(ctx context.Context, id, readerID string) (*Message, error)

	// Conversation returns one page of the messages exchanged between a and b,
	// the page ordered oldest first.
	Conversation(ctx context.Context, a, b string, page Page) ([]Message, error)

	// Conversations lists userID's conversations, most recent first.
	Conversations(ctx context.Context, userID string) ([]ConversationSummary, error)
}
