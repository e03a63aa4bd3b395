package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/convo/internal/logger"
	"github.com/convo/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict maps unique-constraint violations (duplicate email/username,
	// duplicate private chat, duplicate friend request pair).
	ErrConflict = errors.New("already exists")
)

// isUniqueViolation reports whether err is a Postgres 23505 unique violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const userCols = `id, email, COALESCE(username,''), password_hash, auth_method, COALESCE(google_id,''), avatar_url, created_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// scanUser scans a row into model.User (column order matches userCols).
func scanUser(s interface{ Scan(dest ...any) error }, u *model.User) error {
	return s.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.AuthMethod, &u.GoogleID, &u.AvatarURL, &u.CreatedAt)
}

func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	defer logger.DeferLogDuration("user.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, email, username, password_hash, auth_method, google_id, avatar_url, created_at)
		 VALUES ($1, $2, NULLIF($3,''), $4, $5, NULLIF($6,''), $7, $8)`,
		u.ID, u.Email, u.Username, u.PasswordHash, u.AuthMethod, u.GoogleID, u.AvatarURL, u.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("userRepo.Create: %w", err)
	}
	return nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return u, nil
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByEmail", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE email = $1`, email)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByEmail: %w", err)
	}
	return u, nil
}

// GetByUsernameOrEmail resolves a friend-request target identifier.
func (r *UserRepository) GetByUsernameOrEmail(ctx context.Context, identifier string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByUsernameOrEmail", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx,
		`SELECT `+userCols+` FROM users WHERE LOWER(username) = LOWER($1) OR email = LOWER($1)`, identifier)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByUsernameOrEmail: %w", err)
	}
	return u, nil
}

// UpdateUsername renames the user. A taken username maps to ErrConflict
// via the unique constraint, same as Create.
func (r *UserRepository) UpdateUsername(ctx context.Context, id, username string) error {
	defer logger.DeferLogDuration("user.UpdateUsername", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET username = NULLIF($1,'') WHERE id = $2`, username, id)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("userRepo.UpdateUsername: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	defer logger.DeferLogDuration("user.UpdatePassword", time.Now())()
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET password_hash = $1 WHERE id = $2`, passwordHash, id)
	if err != nil {
		return fmt.Errorf("userRepo.UpdatePassword: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Search matches username or email case-insensitively, excluding excludeID.
func (r *UserRepository) Search(ctx context.Context, query, excludeID string, limit int) ([]model.User, error) {
	defer logger.DeferLogDuration("user.Search", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+userCols+` FROM users
		 WHERE id != $1 AND (username ILIKE $2 OR email ILIKE $2)
		 ORDER BY username NULLS LAST LIMIT $3`,
		excludeID, "%"+query+"%", limit,
	)
	if err != nil {
		return nil, fmt.Errorf("userRepo.Search query: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, limit)
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("userRepo.Search scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.Search rows: %w", err)
	}
	return users, nil
}
