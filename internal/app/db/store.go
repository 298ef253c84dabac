package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"estatechat/internal/app/message"
	"estatechat/internal/app/user"
)

// Store is the SQL-backed message store and user directory.
type Store struct {
	db      *sqlx.DB
	closers []func() error

	// now is the clock used for created_at / updated_at.
	now func() time.Time
}

// compile-time checks that Store serves both collaborator roles.
var (
	_ message.Store  = (*Store)(nil)
	_ user.Directory = (*Store)(nil)
)

func newStore(conn *sqlx.DB) *Store {
	return &Store{
		db: conn,
		now: func() time.Time {
			// both backends keep microseconds; truncating keeps round trips exact
			return time.Now().UTC().Truncate(time.Microsecond)
		},
	}
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle and, for Postgres, the pool behind it.
func (s *Store) Close() error {
	err := s.db.Close()
	for _, closeFn := range s.closers {
		err = errors.Join(err, closeFn())
	}
	return err
}

const messageColumns = `id, sender_id, receiver_id, body, status, created_at, updated_at`

func (s *Store) Create(ctx context.Context, m *message.Message) error {
	now := s.now()
	m.CreatedAt = now
	m.UpdatedAt = now
	if m.Status == "" {
		m.Status = message.StatusSent
	}

	_, err := s.db.NamedExecContext(ctx, `INSERT INTO messages (`+messageColumns+`)
		VALUES (:id, :sender_id, :receiver_id, :body, :status, :created_at, :updated_at)`, m)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	return nil
}

func (s *Store) Advance(ctx context.Context, id string, to message.Status) (bool, error) {
	from := to.Before()
	if len(from) == 0 {
		return false, nil
	}

	query, args, err := sqlx.In(
		`UPDATE messages SET status = ?, updated_at = ? WHERE id = ? AND status IN (?)`,
		to, s.now(), id, from,
	)
	if err != nil {
		return false, fmt.Errorf("building advance query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return false, fmt.Errorf("advancing message %s to %s: %w", id, to, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("getting rows affected: %w", err)
	}

	return rows == 1, nil
}

func (s *Store) MarkRead(ctx context.Context, id, readerID string) (*message.Message, error) {
	query, args, err := sqlx.In(
		`UPDATE messages SET status = ?, updated_at = ?
		WHERE id = ? AND receiver_id = ? AND status IN (?)`,
		message.StatusRead, s.now(), id, readerID, message.StatusRead.Before(),
	)
	if err != nil {
		return nil, fmt.Errorf("building mark-read query: %w", err)
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("marking message %s read: %w", id, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return nil, message.ErrNotFound
	}

	m := &message.Message{}
	err = s.db.GetContext(ctx, m, s.db.Rebind(`SELECT `+messageColumns+` FROM messages WHERE id = ?`), id)
	if err != nil {
		return nil, fmt.Errorf("fetching message %s: %w", id, err)
	}

	return m, nil
}

func (s *Store) Conversation(ctx context.Context, a, b string, page message.Page) ([]message.Message, error) {
	page = page.Normalize()

	messages := []message.Message{}
	err := s.db.SelectContext(ctx, &messages, s.db.Rebind(`SELECT `+messageColumns+` FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`),
		a, b, b, a, page.Limit, page.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("fetching conversation: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (s *Store) Conversations(ctx context.Context, userID string) ([]message.ConversationSummary, error) {
	var latest []struct {
		message.Message
		PartnerID string `db:"partner_id"`
	}

	err := s.db.SelectContext(ctx, &latest, s.db.Rebind(`SELECT `+messageColumns+`, partner_id
		FROM (
			SELECT m.id, m.sender_id, m.receiver_id, m.body, m.status, m.created_at, m.updated_at,
				CASE WHEN m.sender_id = ? THEN m.receiver_id ELSE m.sender_id END AS partner_id,
				ROW_NUMBER() OVER (
					PARTITION BY CASE WHEN m.sender_id = ? THEN m.receiver_id ELSE m.sender_id END
					ORDER BY m.created_at DESC, m.id DESC
				) AS rn
			FROM messages m
			WHERE m.sender_id = ? OR m.receiver_id = ?
		) latest
		WHERE rn = 1
		ORDER BY created_at DESC, id DESC`),
		userID, userID, userID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("fetching latest messages: %w", err)
	}

	var unread []struct {
		SenderID string `db:"sender_id"`
		Count    int    `db:"unread"`
	}

	err = s.db.SelectContext(ctx, &unread, s.db.Rebind(`SELECT sender_id, COUNT(*) AS unread
		FROM messages
		WHERE receiver_id = ? AND status <> ?
		GROUP BY sender_id`),
		userID, message.StatusRead,
	)
	if err != nil {
		return nil, fmt.Errorf("counting unread messages: %w", err)
	}

	unreadBySender := make(map[string]int, len(unread))
	for _, row := range unread {
		unreadBySender[row.SenderID] = row.Count
	}

	summaries := make([]message.ConversationSummary, 0, len(latest))
	for _, row := range latest {
		summaries = append(summaries, message.ConversationSummary{
			PartnerID:   row.PartnerID,
			LastMessage: row.Message,
			UnreadCount: unreadBySender[row.PartnerID],
		})
	}

	return summaries, nil
}

func (s *Store) Lookup(ctx context.Context, ids ...string) (map[string]user.Identity, error) {
	found := make(map[string]user.Identity, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	query, args, err := sqlx.In(`SELECT id, role, display_name, avatar_ref FROM users WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("building user lookup: %w", err)
	}

	var rows []user.Identity
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("looking up users: %w", err)
	}

	for _, identity := range rows {
		identity.Role = user.ParseRole(string(identity.Role))
		found[identity.ID] = identity
	}

	return found, nil
}

// UpsertUser writes the directory row for identity. The auth subsystem owns
// these rows in production; this is used for seeding and tests.
func (s *Store) UpsertUser(ctx context.Context, identity user.Identity) error {
	_, err := s.db.NamedExecContext(ctx, `INSERT INTO users (id, role, display_name, avatar_ref)
		VALUES (:id, :role, :display_name, :avatar_ref)
		ON CONFLICT (id) DO UPDATE SET
			role = excluded.role,
			display_name = excluded.display_name,
			avatar_ref = excluded.avatar_ref`, identity)
	if err != nil {
		return fmt.Errorf("upserting user %s: %w", identity.ID, err)
	}
	return nil
}
