package chat

import (
	"encoding/json"
	"fmt"

	"estatechat/internal/app/message"
	"estatechat/internal/app/presence"
	"estatechat/internal/app/user"
)

// EventType names a protocol event, in either direction.
type EventType string

// Client -> server.
const (
	EventPrivateMessage EventType = "private_message"
	EventMarkRead       EventType = "mark_read"
	EventTyping         EventType = "typing"
)

// Server -> client.
const (
	EventUserStatus  EventType = "user_status"
	EventNewMessage  EventType = "new_message"
	EventMessageSent EventType = "message_sent"
	EventMessageRead EventType = "message_read"
	EventUserTyping  EventType = "user_typing"
	EventError       EventType = "error"
	EventOnlineUsers EventType = "online_users"
)

// Envelope is the frame format on the socket.
// TempID is an optional client correlation id echoed on acks and send errors.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	TempID  string          `json:"tempId,omitempty"`
}

type PrivateMessagePayload struct {
	ReceiverID string `json:"receiverId"`
	Message    string `json:"message"`
}

type MarkReadPayload struct {
	MessageID string `json:"messageId"`
}

type TypingPayload struct {
	ReceiverID string `json:"receiverId"`
	IsTyping   bool   `json:"isTyping"`
}

// NewMessagePayload is pushed to the receiver's channel.
type NewMessagePayload struct {
	Message message.Message `json:"message"`
	Sender  user.Summary    `json:"sender"`
}

// MessageSentPayload acknowledges a send with the stored message.
type MessageSentPayload struct {
	Message message.Message `json:"message"`
}

type MessageReadPayload struct {
	MessageID string `json:"messageId"`
}

type UserTypingPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

// UserStatusPayload announces a presence transition.
type UserStatusPayload = presence.Change

type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// OnlineUsersPayload is the presence snapshot sent to a client as it connects.
type OnlineUsersPayload struct {
	UserIDs []string `json:"userIds"`
}

// encode builds one outbound frame.
func encode(eventType EventType, payload any, tempID string) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding %s payload: %w", eventType, err)
	}

	frame, err := json.Marshal(Envelope{
		Type:    eventType,
		Payload: raw,
		TempID:  tempID,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", eventType, err)
	}

	return frame, nil
}
