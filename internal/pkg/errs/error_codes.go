/*
Package errs provides the application error type and its numeric codes.

Codes are shared by the REST projection and the websocket protocol, so a client
can map an `error` event and an HTTP error body through the same table.
*/
package errs

// 1xxx: request handling
const (
	// ErrInvalidParams indicates that request or event parameters failed validation.
	ErrInvalidParams = 1001

	// ErrInvalidJSONFormat indicates that a websocket frame was not a valid event envelope.
	ErrInvalidJSONFormat = 1003

	// ErrRateLimitExceeded indicates that the caller exceeded the handshake rate.
	ErrRateLimitExceeded = 1007

	// ErrUnsupportedEvent indicates an event type the gateway does not handle.
	ErrUnsupportedEvent = 1008
)

// 2xxx: messaging
const (
	// ErrReceiverRequired indicates a send without a receiverId.
	ErrReceiverRequired = 2201

	// ErrMessageBodyRequired indicates a send with an empty body.
	ErrMessageBodyRequired = 2202

	// ErrMessageContentTooLong indicates a body above the maximum length.
	ErrMessageContentTooLong = 2203

	// ErrReceiverNotFound indicates the receiver does not resolve to a known user.
	ErrReceiverNotFound = 2204

	// ErrMessagingNotPermitted indicates the sender's role may not message the receiver's role.
	ErrMessagingNotPermitted = 2205

	// ErrMessageIDRequired indicates a read receipt without a messageId.
	ErrMessageIDRequired = 2206

	// ErrMessageSendFailed indicates the message could not be persisted.
	ErrMessageSendFailed = 2207

	// ErrMessageReadFailed indicates the read receipt could not be persisted.
	ErrMessageReadFailed = 2208
)

// 3xxx: session and security
const (
	// ErrUnauthorized indicates a missing, malformed, expired or unknown credential.
	ErrUnauthorized = 3005
)

// 5xxx: internal
const (
	// ErrUnknown represents an unclassified internal error.
	ErrUnknown = 5000

	// ErrHistoryUnavailable indicates the message store could not serve a history query.
	ErrHistoryUnavailable = 5001

	// ErrServiceUnavailable indicates the server is shutting down or its database is unreachable.
	ErrServiceUnavailable = 5002
)
