package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/convo/internal/logger"
	"github.com/convo/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Create persists the message and touches the chat's updated_at in one
// transaction, so chat ordering tracks last activity.
func (r *MessageRepository) Create(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Create", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("msgRepo.Create begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO messages (id, chat_id, sender_id, content, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		m.ID, m.ChatID, m.SenderID, m.Content, m.CreatedAt,
	); err != nil {
		return fmt.Errorf("msgRepo.Create insert: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE chats SET updated_at = $1 WHERE id = $2`,
		m.CreatedAt, m.ChatID,
	); err != nil {
		return fmt.Errorf("msgRepo.Create touch chat: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("msgRepo.Create commit: %w", err)
	}
	return nil
}

// ListBefore returns up to limit messages for the chat, newest first,
// optionally restricted to strictly before the given cursor. The (created_at,
// id) tuple comparison keeps the boundary exclusive even when several
// messages share one timestamp.
func (r *MessageRepository) ListBefore(ctx context.Context, chatID string, before *model.MessageCursor, limit int) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListBefore", time.Now())()
	query := `SELECT m.id, m.chat_id, m.sender_id, m.content, m.created_at,
	                 u.id, COALESCE(u.username,''), u.email, u.avatar_url
	          FROM messages m
	          JOIN users u ON u.id = m.sender_id
	          WHERE m.chat_id = $1`
	args := []any{chatID}
	if before != nil {
		if before.ID != "" {
			query += ` AND (m.created_at, m.id) < ($2, $3)`
			args = append(args, before.CreatedAt, before.ID)
		} else {
			query += ` AND m.created_at < $2`
			args = append(args, before.CreatedAt)
		}
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY m.created_at DESC, m.id DESC LIMIT $%d`, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListBefore query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, limit)
	for rows.Next() {
		var m model.Message
		sender := &model.UserPublic{}
		if err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Content, &m.CreatedAt,
			&sender.ID, &sender.Username, &sender.Email, &sender.AvatarURL); err != nil {
			return nil, fmt.Errorf("msgRepo.ListBefore scan: %w", err)
		}
		m.Sender = sender
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListBefore rows: %w", err)
	}
	return messages, nil
}

// CountBefore counts messages in the chat strictly before the cursor.
// Used to report whether older history remains beyond the returned page.
func (r *MessageRepository) CountBefore(ctx context.Context, chatID string, before model.MessageCursor) (int, error) {
	defer logger.DeferLogDuration("msg.CountBefore", time.Now())()
	query := `SELECT COUNT(*) FROM messages WHERE chat_id = $1 AND created_at < $2`
	args := []any{chatID, before.CreatedAt}
	if before.ID != "" {
		query = `SELECT COUNT(*) FROM messages WHERE chat_id = $1 AND (created_at, id) < ($2, $3)`
		args = append(args, before.ID)
	}
	var count int
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("msgRepo.CountBefore: %w", err)
	}
	return count, nil
}
