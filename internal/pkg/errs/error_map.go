package errs

import "net/http"

// errorMap holds the template for every known code.
// A zero Status means the error is reported with HTTP 200 and a business code.
var errorMap = map[int]CustomError{
	ErrInvalidParams:     {Code: ErrInvalidParams, Message: "Invalid request parameters.", Status: http.StatusBadRequest},
	ErrInvalidJSONFormat: {Code: ErrInvalidJSONFormat, Message: "Unsupported message format."},
	ErrRateLimitExceeded: {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},
	ErrUnsupportedEvent:  {Code: ErrUnsupportedEvent, Message: "Unsupported event type %q."},

	ErrReceiverRequired:      {Code: ErrReceiverRequired, Message: "A receiver is required."},
	ErrMessageBodyRequired:   {Code: ErrMessageBodyRequired, Message: "Message cannot be empty."},
	ErrMessageContentTooLong: {Code: ErrMessageContentTooLong, Message: "Message is too long (max %d bytes)."},
	ErrReceiverNotFound:      {Code: ErrReceiverNotFound, Message: "Receiver not found."},
	ErrMessagingNotPermitted: {Code: ErrMessagingNotPermitted, Message: "You are not permitted to message this user."},
	ErrMessageIDRequired:     {Code: ErrMessageIDRequired, Message: "A message id is required."},
	ErrMessageSendFailed:     {Code: ErrMessageSendFailed, Message: "Message could not be sent. Please try again."},
	ErrMessageReadFailed:     {Code: ErrMessageReadFailed, Message: "Read receipt could not be saved."},

	ErrUnauthorized: {Code: ErrUnauthorized, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},

	ErrUnknown:            {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrHistoryUnavailable: {Code: ErrHistoryUnavailable, Message: "Message history is temporarily unavailable.", Status: http.StatusServiceUnavailable},
	ErrServiceUnavailable: {Code: ErrServiceUnavailable, Message: "The chat service is temporarily unavailable. Please reconnect shortly.", Status: http.StatusServiceUnavailable},
}
