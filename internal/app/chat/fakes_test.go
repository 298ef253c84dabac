package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"estatechat/internal/app/message"
	"estatechat/internal/app/presence"
	"estatechat/internal/app/storage"
	"estatechat/internal/app/user"
)

type fakeConn struct {
	id       string
	identity user.Identity

	mu       sync.Mutex
	frames   [][]byte
	closed   bool
	failSend bool
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) UserID() string { return c.identity.ID }

func (c *fakeConn) Identity() user.Identity { return c.identity }

func (c *fakeConn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.failSend {
		return errClientClosed
	}
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) events(t *testing.T, eventType EventType) []Envelope {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []Envelope
	for _, frame := range c.frames {
		var env Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		if env.Type == eventType {
			out = append(out, env)
		}
	}
	return out
}

func payloadOf[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Payload, &out))
	return out
}

type memStore struct {
	mu       sync.Mutex
	messages map[string]*message.Message

	createErr  error
	advanceErr error
	markErr    error
}

var _ message.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{messages: make(map[string]*message.Message)}
}

func (s *memStore) Create(_ context.Context, m *message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	stored := *m
	s.messages[m.ID] = &stored
	return nil
}

func (s *memStore) Advance(_ context.Context, id string, to message.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.advanceErr != nil {
		return false, s.advanceErr
	}
	m, ok := s.messages[id]
	if !ok || !m.Status.CanAdvanceTo(to) {
		return false, nil
	}
	m.Status = to
	return true, nil
}

func (s *memStore) MarkRead(_ context.Context, id, readerID string) (*message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return nil, s.markErr
	}
	m, ok := s.messages[id]
	if !ok || m.ReceiverID != readerID || m.IsRead() {
		return nil, message.ErrNotFound
	}
	m.Status = message.StatusRead
	read := *m
	return &read, nil
}

func (s *memStore) Conversation(context.Context, string, string, message.Page) ([]message.Message, error) {
	return nil, nil
}

func (s *memStore) Conversations(context.Context, string) ([]message.ConversationSummary, error) {
	return nil, nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *memStore) status(id string) message.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.messages[id]; ok {
		return m.Status
	}
	return ""
}

type mapDirectory struct {
	mu    sync.Mutex
	users map[string]user.Identity
	err   error
}

func (d *mapDirectory) Lookup(_ context.Context, ids ...string) (map[string]user.Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	found := make(map[string]user.Identity)
	for _, id := range ids {
		if identity, ok := d.users[id]; ok {
			found[id] = identity
		}
	}
	return found, nil
}

func (d *mapDirectory) set(identity user.Identity) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[identity.ID] = identity
}

var errUnknownToken = errors.New("unknown token")

type verifierFunc func(ctx context.Context, token string) (user.Identity, error)

func (f verifierFunc) Verify(ctx context.Context, token string) (user.Identity, error) {
	return f(ctx, token)
}

type fixture struct {
	gateway   *Gateway
	store     *memStore
	directory *mapDirectory
	registry  *presence.Memory
	seq       int
}

func newFixture(t *testing.T, opts ...func(*Config)) *fixture {
	t.Helper()

	directory := &mapDirectory{users: map[string]user.Identity{
		"admin-1":   {ID: "admin-1", Role: user.RoleAdmin, DisplayName: "Ada"},
		"manager-1": {ID: "manager-1", Role: user.RoleManager, DisplayName: "Max"},
		"manager-2": {ID: "manager-2", Role: user.RoleManager, DisplayName: "Mia"},
		"client-1":  {ID: "client-1", Role: user.RoleClient, DisplayName: "Cy", AvatarRef: "avatars/cy.png"},
		"client-2":  {ID: "client-2", Role: user.RoleClient, DisplayName: "Cleo"},
	}}

	f := &fixture{
		store:     newMemStore(),
		directory: directory,
		registry:  presence.NewMemory(),
	}

	cfg := Config{
		Verifier: verifierFunc(func(ctx context.Context, token string) (user.Identity, error) {
			found, err := directory.Lookup(ctx, token)
			if err != nil {
				return user.Identity{}, err
			}
			identity, ok := found[token]
			if !ok {
				return user.Identity{}, errUnknownToken
			}
			return identity, nil
		}),
		Directory: directory,
		Store:     f.store,
		Registry:  f.registry,
		Avatars:   storage.StaticResolver{BaseURL: "https://cdn.example.com"},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	f.gateway = NewGateway(cfg)
	return f
}

// connect registers a new fake connection for userID.
func (f *fixture) connect(t *testing.T, userID string) *fakeConn {
	t.Helper()

	found, err := f.directory.Lookup(context.Background(), userID)
	require.NoError(t, err)
	identity, ok := found[userID]
	require.True(t, ok, "unknown fixture user %s", userID)

	f.seq++
	c := &fakeConn{id: fmt.Sprintf("%s#%d", userID, f.seq), identity: identity}
	f.gateway.Connect(c)
	return c
}
