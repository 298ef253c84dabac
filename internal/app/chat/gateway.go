/*
Package chat implements the private-messaging gateway.

This file defines Gateway, the coordinator between live connections, the
presence registry, the message store and the authorization policy. It runs the
three inbound operations (send, mark read, typing), pushes the resulting
events to whoever is online, and raises presence changes as users come and go.
*/
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"estatechat/internal/app/message"
	"estatechat/internal/app/policy"
	"estatechat/internal/app/presence"
	"estatechat/internal/app/storage"
	"estatechat/internal/app/user"
	"estatechat/internal/pkg/errs"
	"estatechat/internal/pkg/logx"
	"estatechat/internal/pkg/metrics"
)

// MaxContentBytes caps a message body, measured in UTF-8 bytes.
const MaxContentBytes = 5000

// ErrGatewayClosed is returned by Serve once Shutdown has begun.
var ErrGatewayClosed = errors.New("gateway is shutting down")

// Verifier authenticates a bearer token into a current identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (user.Identity, error)
}

// Conn is a live connection as the gateway drives it.
type Conn interface {
	presence.Handle

	// Identity is the user the connection authenticated as.
	Identity() user.Identity

	// Close terminates the connection. It must be safe to call more than once.
	Close()
}

// Config wires the gateway's collaborators. Verifier, Directory, Store and
// Registry are required.
type Config struct {
	Verifier  Verifier
	Directory user.Directory
	Store     message.Store
	Registry  presence.Registry

	// Avatars resolves sender avatars on pushed messages. Defaults to passing refs through.
	Avatars storage.AvatarResolver

	// Metrics defaults to an unregistered set.
	Metrics *metrics.Metrics

	// OnPresence receives every online/offline transition, in the order the
	// registry applied them. It runs while the gateway holds its presence lock,
	// so it must not block or call back into Connect or Disconnect. Defaults to
	// broadcasting a user_status event to all other connected users.
	OnPresence func(presence.Change)
}

// Gateway routes protocol events between connected users.
type Gateway struct {
	verifier  Verifier
	directory user.Directory
	store     message.Store
	registry  presence.Registry
	avatars   storage.AvatarResolver
	metrics   *metrics.Metrics

	// onPresence is the single presence listener.
	onPresence func(presence.Change)

	// presenceMu keeps a registry transition and the event it raises together,
	// so listeners never see an offline after the matching later online.
	presenceMu sync.Mutex

	// mu guards closed against new Serve calls racing Shutdown.
	mu     sync.Mutex
	closed bool

	// wg tracks running Serve calls.
	wg sync.WaitGroup

	logger zerolog.Logger
}

// NewGateway builds a Gateway from cfg.
func NewGateway(cfg Config) *Gateway {
	g := &Gateway{
		verifier:   cfg.Verifier,
		directory:  cfg.Directory,
		store:      cfg.Store,
		registry:   cfg.Registry,
		avatars:    cfg.Avatars,
		metrics:    cfg.Metrics,
		onPresence: cfg.OnPresence,
		logger:     logx.Component("Gateway"),
	}

	if g.avatars == nil {
		g.avatars = storage.StaticResolver{}
	}
	if g.metrics == nil {
		g.metrics = metrics.New(nil)
	}
	if g.onPresence == nil {
		g.onPresence = g.broadcastPresence
	}

	return g
}

// Authenticate verifies a handshake token. A failure means the connection
// must be refused before it is upgraded.
func (g *Gateway) Authenticate(ctx context.Context, token string) (user.Identity, error) {
	identity, err := g.verifier.Verify(ctx, token)
	if err != nil {
		g.metrics.Handshakes.WithLabelValues(metrics.OutcomeRejected).Inc()
		g.logger.Info().Err(err).Msg("Handshake rejected.")
		return user.Identity{}, errs.NewError(errs.ErrUnauthorized)
	}

	g.metrics.Handshakes.WithLabelValues(metrics.OutcomeOK).Inc()
	return identity, nil
}

// Closed reports whether Shutdown has begun.
func (g *Gateway) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// Serve runs an authenticated client until its connection ends: it registers
// presence, starts the write pump, processes inbound frames in order and
// finally unregisters.
func (g *Gateway) Serve(c *Client) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		c.Close()
		go c.WritePump()
		return ErrGatewayClosed
	}
	g.wg.Add(1)
	g.mu.Unlock()

	defer g.wg.Done()

	g.Connect(c)
	c.setState(StateActive)

	go c.WritePump()

	// Shutdown may have taken its snapshot of the registry before c was in it.
	if g.Closed() {
		c.Close()
	}

	c.ReadPump(func(ctx context.Context, frame []byte) {
		g.Dispatch(ctx, c, frame)
	})

	g.Disconnect(c)
	c.Close()

	g.logger.Debug().
		Str("conn_id", c.ID()).
		Stringer("state", c.State()).
		Msg("Serve finished.")

	return nil
}

// Connect registers c, sends it the current online snapshot and raises an
// online change if this is the user's first live connection.
func (g *Gateway) Connect(c Conn) {
	userID := c.UserID()

	g.presenceMu.Lock()
	defer g.presenceMu.Unlock()

	cameOnline := g.registry.Register(userID, c)
	g.metrics.Connections.Inc()

	online := g.registry.OnlineUsers()
	others := make([]string, 0, len(online))
	for _, id := range online {
		if id != userID {
			others = append(others, id)
		}
	}
	g.emit(c, EventOnlineUsers, OnlineUsersPayload{UserIDs: others}, "")

	g.logger.Info().
		Str("user_id", userID).
		Str("conn_id", c.ID()).
		Bool("came_online", cameOnline).
		Msg("Client connected.")

	if cameOnline {
		g.metrics.OnlineUsers.Inc()
		g.onPresence(presence.Change{UserID: userID, Status: presence.StatusOnline})
	}
}

// Disconnect unregisters c and raises an offline change if it was the user's
// last live connection. Calling it twice for the same connection is harmless.
func (g *Gateway) Disconnect(c Conn) {
	userID := c.UserID()

	g.presenceMu.Lock()
	defer g.presenceMu.Unlock()

	// A handle the registry no longer holds was already counted out.
	removed, wentOffline := g.registry.Unregister(userID, c)
	if !removed {
		return
	}
	g.metrics.Connections.Dec()

	g.logger.Info().
		Str("user_id", userID).
		Str("conn_id", c.ID()).
		Bool("went_offline", wentOffline).
		Msg("Client disconnected.")

	if wentOffline {
		g.metrics.OnlineUsers.Dec()
		g.onPresence(presence.Change{UserID: userID, Status: presence.StatusOffline})
	}
}

// Dispatch decodes one inbound frame and runs the matching operation.
func (g *Gateway) Dispatch(ctx context.Context, c Conn, frame []byte) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		g.logger.Warn().Err(err).Str("conn_id", c.ID()).Msg("Undecodable frame.")
		g.reject(c, "invalid", errs.NewError(errs.ErrInvalidJSONFormat), "")
		return
	}

	switch env.Type {
	case EventPrivateMessage:
		var in PrivateMessagePayload
		if !g.decode(c, env, &in) {
			return
		}
		g.SendPrivateMessage(ctx, c, in, env.TempID)

	case EventMarkRead:
		var in MarkReadPayload
		if !g.decode(c, env, &in) {
			return
		}
		g.MarkRead(ctx, c, in)

	case EventTyping:
		var in TypingPayload
		if !g.decode(c, env, &in) {
			return
		}
		g.Typing(c, in)

	default:
		g.reject(c, "unsupported", errs.NewError(errs.ErrUnsupportedEvent, string(env.Type)), env.TempID)
	}
}

func (g *Gateway) decode(c Conn, env Envelope, dst any) bool {
	if len(env.Payload) == 0 {
		g.reject(c, env.Type, errs.NewError(errs.ErrInvalidParams), env.TempID)
		return false
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		g.logger.Debug().Err(err).Str("event", string(env.Type)).Msg("Undecodable payload.")
		g.reject(c, env.Type, errs.NewError(errs.ErrInvalidParams), env.TempID)
		return false
	}
	return true
}

// SendPrivateMessage validates, authorizes and stores a message from c's user,
// acknowledges it to c and pushes it to the receiver's live connections.
// A message pushed to at least one connection is advanced to DELIVERED.
func (g *Gateway) SendPrivateMessage(ctx context.Context, c Conn, in PrivateMessagePayload, tempID string) {
	sender := c.Identity()
	receiverID := strings.TrimSpace(in.ReceiverID)

	switch {
	case receiverID == "":
		g.reject(c, EventPrivateMessage, errs.NewError(errs.ErrReceiverRequired), tempID)
		return
	case strings.TrimSpace(in.Message) == "":
		g.reject(c, EventPrivateMessage, errs.NewError(errs.ErrMessageBodyRequired), tempID)
		return
	case len(in.Message) > MaxContentBytes:
		g.reject(c, EventPrivateMessage, errs.NewError(errs.ErrMessageContentTooLong, MaxContentBytes), tempID)
		return
	}

	identities, err := g.directory.Lookup(ctx, sender.ID, receiverID)
	if err != nil {
		g.fail(c, EventPrivateMessage, err, errs.NewError(errs.ErrMessageSendFailed), tempID)
		return
	}

	receiver, ok := identities[receiverID]
	if !ok {
		g.reject(c, EventPrivateMessage, errs.NewError(errs.ErrReceiverNotFound), tempID)
		return
	}

	// A role change since the handshake applies from the next send.
	if current, ok := identities[sender.ID]; ok {
		sender = current
	}

	if !policy.CanMessage(sender.Role, receiver.Role) {
		g.logger.Info().
			Str("sender_id", sender.ID).
			Str("sender_role", string(sender.Role)).
			Str("receiver_id", receiver.ID).
			Str("receiver_role", string(receiver.Role)).
			Msg("Message denied by policy.")
		g.reject(c, EventPrivateMessage, errs.NewError(errs.ErrMessagingNotPermitted), tempID)
		return
	}

	msg := message.New(sender.ID, receiver.ID, in.Message)
	if err := g.store.Create(ctx, msg); err != nil {
		g.fail(c, EventPrivateMessage, err, errs.NewError(errs.ErrMessageSendFailed), tempID)
		return
	}

	g.metrics.Events.WithLabelValues(string(EventPrivateMessage), metrics.OutcomeOK).Inc()
	g.emit(c, EventMessageSent, MessageSentPayload{Message: *msg}, tempID)

	handles := g.registry.Lookup(receiver.ID)
	if len(handles) == 0 {
		return
	}

	pushed := *msg
	pushed.Status = message.StatusDelivered

	frame, err := encode(EventNewMessage, NewMessagePayload{
		Message: pushed,
		Sender:  sender.Summary(g.avatars.AvatarURL(ctx, sender.AvatarRef)),
	}, "")
	if err != nil {
		g.logger.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to encode pushed message.")
		return
	}

	if g.deliver(handles, EventNewMessage, frame) == 0 {
		return
	}

	if _, err := g.store.Advance(ctx, msg.ID, message.StatusDelivered); err != nil {
		g.logger.Error().Err(err).Str("message_id", msg.ID).Msg("Failed to mark message delivered.")
	}
}

// MarkRead marks a message addressed to c's user as READ and notifies the
// original sender. Unknown ids, messages addressed to someone else and
// messages already READ are ignored without a reply.
func (g *Gateway) MarkRead(ctx context.Context, c Conn, in MarkReadPayload) {
	messageID := strings.TrimSpace(in.MessageID)
	if messageID == "" {
		g.reject(c, EventMarkRead, errs.NewError(errs.ErrMessageIDRequired), "")
		return
	}

	read, err := g.store.MarkRead(ctx, messageID, c.UserID())
	if errors.Is(err, message.ErrNotFound) {
		g.metrics.Events.WithLabelValues(string(EventMarkRead), metrics.OutcomeIgnored).Inc()
		return
	}
	if err != nil {
		g.fail(c, EventMarkRead, err, errs.NewError(errs.ErrMessageReadFailed), "")
		return
	}

	g.metrics.Events.WithLabelValues(string(EventMarkRead), metrics.OutcomeOK).Inc()
	g.emitToUser(read.SenderID, EventMessageRead, MessageReadPayload{MessageID: read.ID})
}

// Typing relays a typing indicator to the receiver's live connections.
// It is ephemeral: nothing is stored and nothing is checked beyond a receiver id.
func (g *Gateway) Typing(c Conn, in TypingPayload) {
	receiverID := strings.TrimSpace(in.ReceiverID)
	if receiverID == "" {
		g.metrics.Events.WithLabelValues(string(EventTyping), metrics.OutcomeIgnored).Inc()
		return
	}

	g.metrics.Events.WithLabelValues(string(EventTyping), metrics.OutcomeOK).Inc()
	g.emitToUser(receiverID, EventUserTyping, UserTypingPayload{
		UserID:   c.UserID(),
		IsTyping: in.IsTyping,
	})
}

// Shutdown closes every live connection and waits for their Serve calls to
// return, or for ctx to end.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	handles := g.registry.All()
	g.logger.Info().Int("connections", len(handles)).Msg("Shutting down gateway...")

	for _, h := range handles {
		if c, ok := h.(Conn); ok {
			c.Close()
		}
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.logger.Info().Msg("Gateway shutdown complete.")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// broadcastPresence sends a user_status event to every connection not owned
// by the user whose presence changed.
func (g *Gateway) broadcastPresence(change presence.Change) {
	frame, err := encode(EventUserStatus, UserStatusPayload(change), "")
	if err != nil {
		g.logger.Error().Err(err).Msg("Failed to encode presence change.")
		return
	}

	var targets []presence.Handle
	for _, h := range g.registry.All() {
		if h.UserID() != change.UserID {
			targets = append(targets, h)
		}
	}

	g.deliver(targets, EventUserStatus, frame)
}

// emitToUser pushes an event to every live connection of userID.
func (g *Gateway) emitToUser(userID string, eventType EventType, payload any) int {
	handles := g.registry.Lookup(userID)
	if len(handles) == 0 {
		return 0
	}

	frame, err := encode(eventType, payload, "")
	if err != nil {
		g.logger.Error().Err(err).Str("event", string(eventType)).Msg("Failed to encode event.")
		return 0
	}

	return g.deliver(handles, eventType, frame)
}

// deliver sends frame to each handle and returns how many accepted it.
func (g *Gateway) deliver(handles []presence.Handle, eventType EventType, frame []byte) int {
	delivered := 0
	for _, h := range handles {
		if err := h.Send(frame); err != nil {
			g.logger.Debug().Err(err).Str("conn_id", h.ID()).Str("event", string(eventType)).Msg("Push skipped.")
			continue
		}
		delivered++
	}

	if delivered > 0 {
		g.metrics.Deliveries.WithLabelValues(string(eventType)).Add(float64(delivered))
	}
	return delivered
}

// emit sends one event to a single connection.
func (g *Gateway) emit(c Conn, eventType EventType, payload any, tempID string) {
	frame, err := encode(eventType, payload, tempID)
	if err != nil {
		g.logger.Error().Err(err).Str("event", string(eventType)).Msg("Failed to encode event.")
		return
	}

	if err := c.Send(frame); err != nil {
		g.logger.Debug().Err(err).Str("conn_id", c.ID()).Str("event", string(eventType)).Msg("Reply dropped.")
	}
}

// reject answers a request the client got wrong.
func (g *Gateway) reject(c Conn, eventType EventType, customErr *errs.CustomError, tempID string) {
	g.metrics.Events.WithLabelValues(string(eventType), metrics.OutcomeRejected).Inc()
	g.emit(c, EventError, ErrorPayload{Code: customErr.Code, Message: customErr.Message}, tempID)
}

// fail answers a request the server could not complete.
func (g *Gateway) fail(c Conn, eventType EventType, cause error, customErr *errs.CustomError, tempID string) {
	g.logger.Error().
		Err(cause).
		Str("event", string(eventType)).
		Str("user_id", c.UserID()).
		Msg("Event processing failed.")

	g.metrics.Events.WithLabelValues(string(eventType), metrics.OutcomeFailed).Inc()
	g.emit(c, EventError, ErrorPayload{Code: customErr.Code, Message: customErr.Message}, tempID)
}
