package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/convo/internal/logger"
	"github.com/convo/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const chatCols = `id, chat_type, name, created_by, created_at, updated_at`

type ChatRepository struct {
	pool *pgxpool.Pool
}

func NewChatRepository(pool *pgxpool.Pool) *ChatRepository {
	return &ChatRepository{pool: pool}
}

func scanChat(s interface{ Scan(dest ...any) error }, c *model.Chat) error {
	return s.Scan(&c.ID, &c.ChatType, &c.Name, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
}

// CreateGroup creates a group chat with the creator as admin plus the given members.
func (r *ChatRepository) CreateGroup(ctx context.Context, name, createdBy string, memberIDs []string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.CreateGroup", time.Now())()
	now := time.Now().UTC()
	c := &model.Chat{
		ID:        uuid.New().String(),
		ChatType:  model.ChatTypeGroup,
		Name:      name,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.CreateGroup begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO chats (id, chat_type, name, pair_key, created_by, created_at, updated_at)
		 VALUES ($1, 'group', $2, NULL, $3, $4, $4)`,
		c.ID, c.Name, c.CreatedBy, now,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.CreateGroup insert: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO chat_members (chat_id, user_id, role, joined_at) VALUES ($1, $2, 'admin', $3)`,
		c.ID, createdBy, now,
	); err != nil {
		return nil, fmt.Errorf("chatRepo.CreateGroup admin: %w", err)
	}
	for _, uid := range memberIDs {
		if uid == createdBy {
			continue
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO chat_members (chat_id, user_id, role, joined_at)
			 VALUES ($1, $2, 'member', $3) ON CONFLICT DO NOTHING`,
			c.ID, uid, now,
		); err != nil {
			return nil, fmt.Errorf("chatRepo.CreateGroup member: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("chatRepo.CreateGroup commit: %w", err)
	}
	return c, nil
}

// EnsurePrivateChat creates the private chat between two users if it does not
// exist and returns it either way. The pair_key unique constraint makes the
// insert race-safe: a concurrent creator loses the conflict and reads the
// winner's row.
func (r *ChatRepository) EnsurePrivateChat(ctx context.Context, userA, userB, createdBy string) (*model.Chat, bool, error) {
	defer logger.DeferLogDuration("chat.EnsurePrivateChat", time.Now())()
	pairKey := model.PairKey(userA, userB)
	now := time.Now().UTC()
	id := uuid.New().String()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("chatRepo.EnsurePrivateChat begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`INSERT INTO chats (id, chat_type, name, pair_key, created_by, created_at, updated_at)
		 VALUES ($1, 'private', '', $2, $3, $4, $4)
		 ON CONFLICT (pair_key) DO NOTHING`,
		id, pairKey, createdBy, now,
	)
	if err != nil {
		return nil, false, fmt.Errorf("chatRepo.EnsurePrivateChat insert: %w", err)
	}
	created := tag.RowsAffected() == 1
	if created {
		for _, uid := range []string{userA, userB} {
			if _, err := tx.Exec(ctx,
				`INSERT INTO chat_members (chat_id, user_id, role, joined_at) VALUES ($1, $2, 'member', $3)`,
				id, uid, now,
			); err != nil {
				return nil, false, fmt.Errorf("chatRepo.EnsurePrivateChat member: %w", err)
			}
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("chatRepo.EnsurePrivateChat commit: %w", err)
	}

	c := &model.Chat{}
	err = r.pool.QueryRow(ctx,
		`SELECT `+chatCols+` FROM chats WHERE pair_key = $1`, pairKey,
	).Scan(&c.ID, &c.ChatType, &c.Name, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("chatRepo.EnsurePrivateChat select: %w", err)
	}
	return c, created, nil
}

func (r *ChatRepository) GetByID(ctx context.Context, id string) (*model.Chat, error) {
	defer logger.DeferLogDuration("chat.GetByID", time.Now())()
	c := &model.Chat{}
	row := r.pool.QueryRow(ctx, `SELECT `+chatCols+` FROM chats WHERE id = $1`, id)
	if err := scanChat(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("chatRepo.GetByID: %w", err)
	}
	return c, nil
}

// GetUserChats returns chats the user participates in, most recent activity first.
func (r *ChatRepository) GetUserChats(ctx context.Context, userID string) ([]model.Chat, error) {
	defer logger.DeferLogDuration("chat.GetUserChats", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT c.id, c.chat_type, c.name, c.created_by, c.created_at, c.updated_at
		 FROM chats c
		 JOIN chat_members cm ON cm.chat_id = c.id
		 WHERE cm.user_id = $1
		 ORDER BY c.updated_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.GetUserChats query: %w", err)
	}
	defer rows.Close()

	chats := make([]model.Chat, 0, 16)
	for rows.Next() {
		var c model.Chat
		if err := scanChat(rows, &c); err != nil {
			return nil, fmt.Errorf("chatRepo.GetUserChats scan: %w", err)
		}
		chats = append(chats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.GetUserChats rows: %w", err)
	}
	return chats, nil
}

// GetChatIDsByParticipant returns ids of every chat the user is a member of.
// The gateway uses it to auto-subscribe a fresh connection to its rooms.
func (r *ChatRepository) GetChatIDsByParticipant(ctx context.Context, userID string) ([]string, error) {
	defer logger.DeferLogDuration("chat.GetChatIDsByParticipant", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT chat_id FROM chat_members WHERE user_id = $1`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("chatRepo.GetChatIDsByParticipant query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 16)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("chatRepo.GetChatIDsByParticipant scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatRepo.GetChatIDsByParticipant rows: %w", err)
	}
	return ids, nil
}

func (r *ChatRepository) IsMember(ctx context.Context, chatID, userID string) (bool, error) {
	defer logger.DeferLogDuration("chat.IsMember", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM chat_members WHERE chat_id = $1 AND user_id = $2)`,
		chatID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("chatRepo.IsMember: %w", err)
	}
	return exists, nil
}

func (r *ChatRepository) GetMemberRole(ctx context.Context, chatID, userID string) (string, error) {
	defer logger.DeferLogDuration("chat.GetMemberRole", time.Now())()
	var role string
	err := r.pool.QueryRow(ctx,
		`SELECT role FROM chat_members WHERE chat_id = $1 AND user_id = $2`,
		chatID, userID,
	).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("chatRepo.GetMemberRole: %w", err)
	}
	return role, nil
}

// GetMembers returns the chat's participants as public users, plus admin ids.
func (r *ChatRepository) GetMembers(ctx context.Context, chatID string) ([]model.UserPublic, []string, error) {
	defer logger.DeferLogDuration("chat.GetMembers", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT u.id, COALESCE(u.username,''), u.email, u.avatar_url, cm.role
		 FROM users u
		 JOIN chat_members cm ON cm.user_id = u.id
		 WHERE cm.chat_id = $1
		 ORDER BY cm.joined_at`, chatID,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("chatRepo.GetMembers query: %w", err)
	}
	defer rows.Close()

	users := make([]model.UserPublic, 0, 8)
	var admins []string
	for rows.Next() {
		var u model.UserPublic
		var role string
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.AvatarURL, &role); err != nil {
			return nil, nil, fmt.Errorf("chatRepo.GetMembers scan: %w", err)
		}
		if role == "admin" {
			admins = append(admins, u.ID)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("chatRepo.GetMembers rows: %w", err)
	}
	return users, admins, nil
}

func (r *ChatRepository) AddMember(ctx context.Context, m *model.ChatMember) error {
	defer logger.DeferLogDuration("chat.AddMember", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chat_members (chat_id, user_id, role, joined_at)
		 VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
		m.ChatID, m.UserID, m.Role, m.JoinedAt,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.AddMember: %w", err)
	}
	return nil
}

func (r *ChatRepository) UpdateName(ctx context.Context, chatID, name string) error {
	defer logger.DeferLogDuration("chat.UpdateName", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE chats SET name = $1, updated_at = NOW() WHERE id = $2`,
		name, chatID,
	)
	if err != nil {
		return fmt.Errorf("chatRepo.UpdateName: %w", err)
	}
	return nil
}
