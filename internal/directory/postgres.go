package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/ktauchathuranga/notebud/internal/domain"
)

const uniqueViolation = "23505"

// Postgres implements Directory against a Postgres database.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the schema. The partial unique index on pending requests
// and the unique index on chat pairs back the invariants the relay relies
// on, so concurrent writers race at the store, not in process memory.
func (p *Postgres) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id UUID PRIMARY KEY,
			username TEXT UNIQUE NOT NULL,
			email TEXT NOT NULL DEFAULT '',
			online BOOLEAN NOT NULL DEFAULT FALSE,
			last_seen TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS chat_requests (
			id BIGSERIAL PRIMARY KEY,
			from_user_id UUID NOT NULL REFERENCES users(id),
			to_user_id UUID NOT NULL REFERENCES users(id),
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS chat_requests_pending_pair
			ON chat_requests (LEAST(from_user_id, to_user_id), GREATEST(from_user_id, to_user_id))
			WHERE status = 'pending'`,
		`CREATE TABLE IF NOT EXISTS chats (
			id UUID PRIMARY KEY,
			user_a UUID NOT NULL REFERENCES users(id),
			user_b UUID NOT NULL REFERENCES users(id),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_message_at TIMESTAMPTZ
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS chats_pair
			ON chats (LEAST(user_a, user_b), GREATEST(user_a, user_b))`,
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			chat_id UUID NOT NULL REFERENCES chats(id),
			sender_id UUID NOT NULL REFERENCES users(id),
			body TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS messages_chat_ts ON messages (chat_id, ts, id)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Ping verifies store connectivity, for the liveness endpoint.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) FindUserByID(ctx context.Context, id uuid.UUID) (domain.User, error) {
	return p.scanUser(p.db.QueryRowContext(ctx, `
		SELECT id, username, email, online, last_seen FROM users WHERE id = $1
	`, id))
}

func (p *Postgres) FindUserByUsername(ctx context.Context, username string) (domain.User, error) {
	return p.scanUser(p.db.QueryRowContext(ctx, `
		SELECT id, username, email, online, last_seen FROM users WHERE username = $1
	`, username))
}

func (p *Postgres) scanUser(row *sql.Row) (domain.User, error) {
	var (
		u        domain.User
		lastSeen sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Online, &lastSeen)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, ErrUserNotFound
	}
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to fetch user: %w", err)
	}
	if lastSeen.Valid {
		u.LastSeen = &lastSeen.Time
	}
	return u, nil
}

func (p *Postgres) SetPresence(ctx context.Context, id uuid.UUID, online bool) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE users SET online = $2, last_seen = NOW() WHERE id = $1
	`, id, online)
	if err != nil {
		return fmt.Errorf("failed to update presence: %w", err)
	}
	return nil
}

func (p *Postgres) CreateChatRequest(ctx context.Context, from, to uuid.UUID) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var chatExists bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM chats
			WHERE LEAST(user_a, user_b) = LEAST($1::uuid, $2::uuid)
			  AND GREATEST(user_a, user_b) = GREATEST($1::uuid, $2::uuid)
		)
	`, from, to).Scan(&chatExists)
	if err != nil {
		return fmt.Errorf("failed to check existing chat: %w", err)
	}
	if chatExists {
		return ErrChatExists
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chat_requests (from_user_id, to_user_id, status)
		VALUES ($1, $2, 'pending')
	`, from, to)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateRequest
		}
		return fmt.Errorf("failed to insert chat request: %w", err)
	}

	return tx.Commit()
}

func (p *Postgres) PendingRequestsFor(ctx context.Context, userID uuid.UUID) ([]domain.ChatRequest, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT r.from_user_id, u.username, r.to_user_id, r.created_at
		FROM chat_requests r
		JOIN users u ON u.id = r.from_user_id
		WHERE r.to_user_id = $1 AND r.status = 'pending'
		ORDER BY r.created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chat requests: %w", err)
	}
	defer rows.Close()

	var requests []domain.ChatRequest
	for rows.Next() {
		r := domain.ChatRequest{Status: domain.RequestPending}
		if err := rows.Scan(&r.FromUserID, &r.FromUsername, &r.ToUserID, &r.CreatedAt); err != nil {
			return nil, err
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

func (p *Postgres) ResolveRequest(ctx context.Context, from, to uuid.UUID, outcome domain.RequestStatus) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE chat_requests SET status = $3
		WHERE from_user_id = $1 AND to_user_id = $2 AND status = 'pending'
	`, from, to, string(outcome))
	if err != nil {
		return fmt.Errorf("failed to resolve chat request: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrRequestNotFound
	}
	return nil
}

func (p *Postgres) CreateChat(ctx context.Context, a, b uuid.UUID) (uuid.UUID, error) {
	chatID := uuid.New()
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO chats (id, user_a, user_b) VALUES ($1, $2, $3)
	`, chatID, a, b)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return uuid.Nil, ErrChatExists
		}
		return uuid.Nil, fmt.Errorf("failed to insert chat: %w", err)
	}
	return chatID, nil
}

func (p *Postgres) ChatsFor(ctx context.Context, userID uuid.UUID) ([]domain.ChatSummary, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT c.id,
		       u.id, u.username, u.online,
		       COALESCE(c.last_message_at, c.created_at) AS last_activity
		FROM chats c
		JOIN users u ON u.id = CASE WHEN c.user_a = $1 THEN c.user_b ELSE c.user_a END
		WHERE c.user_a = $1 OR c.user_b = $1
		ORDER BY last_activity DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch chats: %w", err)
	}
	defer rows.Close()

	var chats []domain.ChatSummary
	for rows.Next() {
		var c domain.ChatSummary
		if err := rows.Scan(&c.ChatID, &c.WithUserID, &c.WithUsername, &c.Online, &c.LastMessageAt); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

func (p *Postgres) Participants(ctx context.Context, chatID uuid.UUID) ([2]uuid.UUID, error) {
	var pair [2]uuid.UUID
	err := p.db.QueryRowContext(ctx, `
		SELECT user_a, user_b FROM chats WHERE id = $1
	`, chatID).Scan(&pair[0], &pair[1])
	if errors.Is(err, sql.ErrNoRows) {
		return pair, ErrChatNotFound
	}
	if err != nil {
		return pair, fmt.Errorf("failed to fetch participants: %w", err)
	}
	return pair, nil
}

func (p *Postgres) AppendMessage(ctx context.Context, chatID, sender uuid.UUID, body string) (time.Time, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var ts time.Time
	err = tx.QueryRowContext(ctx, `
		INSERT INTO messages (chat_id, sender_id, body) VALUES ($1, $2, $3)
		RETURNING ts
	`, chatID, sender, body).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to insert message: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE chats SET last_message_at = $2 WHERE id = $1
	`, chatID, ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to touch chat activity: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return time.Time{}, err
	}
	return ts, nil
}

func (p *Postgres) Messages(ctx context.Context, chatID uuid.UUID) ([]domain.Message, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT m.chat_id, m.sender_id, u.username, m.body, m.ts
		FROM messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.chat_id = $1
		ORDER BY m.ts, m.id
	`, chatID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ChatID, &m.FromUserID, &m.FromUsername, &m.Body, &m.Timestamp); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
