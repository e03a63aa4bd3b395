package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/convo/internal/logger"
	"github.com/convo/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const friendCols = `fr.id, fr.requester_id, fr.recipient_id, fr.status, fr.created_at, fr.updated_at`

type FriendRepository struct {
	pool *pgxpool.Pool
}

func NewFriendRepository(pool *pgxpool.Pool) *FriendRepository {
	return &FriendRepository{pool: pool}
}

func scanFriendRequest(row pgx.Row) (*model.FriendRequest, error) {
	fr := &model.FriendRequest{}
	err := row.Scan(&fr.ID, &fr.RequesterID, &fr.RecipientID, &fr.Status, &fr.CreatedAt, &fr.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return fr, nil
}

// Create inserts a new pending request. Returns ErrConflict when a request
// already exists for the pair in either direction.
func (r *FriendRepository) Create(ctx context.Context, fr *model.FriendRequest) error {
	defer logger.DeferLogDuration("friend.Create", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO friend_requests (id, requester_id, recipient_id, status, pair_key, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		fr.ID, fr.RequesterID, fr.RecipientID, fr.Status,
		model.PairKey(fr.RequesterID, fr.RecipientID), fr.CreatedAt, fr.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return fmt.Errorf("friendRepo.Create: %w", err)
	}
	return nil
}

func (r *FriendRepository) GetByID(ctx context.Context, id string) (*model.FriendRequest, error) {
	defer logger.DeferLogDuration("friend.GetByID", time.Now())()
	row := r.pool.QueryRow(ctx,
		`SELECT `+friendCols+` FROM friend_requests fr WHERE fr.id = $1`, id)
	fr, err := scanFriendRequest(row)
	if err != nil {
		if err == ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("friendRepo.GetByID: %w", err)
	}
	return fr, nil
}

// GetByPair looks up the request between two users regardless of direction.
func (r *FriendRepository) GetByPair(ctx context.Context, userA, userB string) (*model.FriendRequest, error) {
	defer logger.DeferLogDuration("friend.GetByPair", time.Now())()
	row := r.pool.QueryRow(ctx,
		`SELECT `+friendCols+` FROM friend_requests fr WHERE fr.pair_key = $1`,
		model.PairKey(userA, userB))
	fr, err := scanFriendRequest(row)
	if err != nil {
		if err == ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("friendRepo.GetByPair: %w", err)
	}
	return fr, nil
}

// Reactivate flips a rejected request back to pending and rewrites its
// direction so the given requester becomes the sender.
func (r *FriendRepository) Reactivate(ctx context.Context, id, requesterID, recipientID string) (*model.FriendRequest, error) {
	defer logger.DeferLogDuration("friend.Reactivate", time.Now())()
	row := r.pool.QueryRow(ctx,
		`UPDATE friend_requests fr
		 SET requester_id = $2, recipient_id = $3, status = 'pending', updated_at = NOW()
		 WHERE fr.id = $1 AND fr.status = 'rejected'
		 RETURNING `+friendCols,
		id, requesterID, recipientID)
	fr, err := scanFriendRequest(row)
	if err != nil {
		if err == ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("friendRepo.Reactivate: %w", err)
	}
	return fr, nil
}

// UpdateStatus resolves a pending request. The status guard keeps a
// second concurrent resolution from overwriting the first.
func (r *FriendRepository) UpdateStatus(ctx context.Context, id string, status model.FriendRequestStatus) (*model.FriendRequest, error) {
	defer logger.DeferLogDuration("friend.UpdateStatus", time.Now())()
	row := r.pool.QueryRow(ctx,
		`UPDATE friend_requests fr
		 SET status = $2, updated_at = NOW()
		 WHERE fr.id = $1 AND fr.status = 'pending'
		 RETURNING `+friendCols,
		id, status)
	fr, err := scanFriendRequest(row)
	if err != nil {
		if err == ErrNotFound {
			return nil, err
		}
		return nil, fmt.Errorf("friendRepo.UpdateStatus: %w", err)
	}
	return fr, nil
}

// ListSent returns the user's outgoing requests with the given status,
// recipient profile attached.
func (r *FriendRepository) ListSent(ctx context.Context, userID string, status model.FriendRequestStatus) ([]model.FriendRequest, error) {
	defer logger.DeferLogDuration("friend.ListSent", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+friendCols+`, u.id, COALESCE(u.username,''), u.email, u.avatar_url
		 FROM friend_requests fr
		 JOIN users u ON u.id = fr.recipient_id
		 WHERE fr.requester_id = $1 AND fr.status = $2
		 ORDER BY fr.created_at DESC`,
		userID, status)
	if err != nil {
		return nil, fmt.Errorf("friendRepo.ListSent query: %w", err)
	}
	defer rows.Close()
	return collectWithProfile(rows, func(fr *model.FriendRequest, u *model.UserPublic) { fr.Recipient = u })
}

// ListReceived returns the user's incoming requests with the given status,
// requester profile attached.
func (r *FriendRepository) ListReceived(ctx context.Context, userID string, status model.FriendRequestStatus) ([]model.FriendRequest, error) {
	defer logger.DeferLogDuration("friend.ListReceived", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+friendCols+`, u.id, COALESCE(u.username,''), u.email, u.avatar_url
		 FROM friend_requests fr
		 JOIN users u ON u.id = fr.requester_id
		 WHERE fr.recipient_id = $1 AND fr.status = $2
		 ORDER BY fr.created_at DESC`,
		userID, status)
	if err != nil {
		return nil, fmt.Errorf("friendRepo.ListReceived query: %w", err)
	}
	defer rows.Close()
	return collectWithProfile(rows, func(fr *model.FriendRequest, u *model.UserPublic) { fr.Requester = u })
}

// ListFriends returns the profiles of everyone the user has an accepted
// request with, in either direction.
func (r *FriendRepository) ListFriends(ctx context.Context, userID string) ([]model.UserPublic, error) {
	defer logger.DeferLogDuration("friend.ListFriends", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT u.id, COALESCE(u.username,''), u.email, u.avatar_url
		 FROM friend_requests fr
		 JOIN users u ON u.id = CASE WHEN fr.requester_id = $1 THEN fr.recipient_id ELSE fr.requester_id END
		 WHERE (fr.requester_id = $1 OR fr.recipient_id = $1) AND fr.status = 'accepted'
		 ORDER BY COALESCE(u.username,''), u.email`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("friendRepo.ListFriends query: %w", err)
	}
	defer rows.Close()

	friends := []model.UserPublic{}
	for rows.Next() {
		var u model.UserPublic
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.AvatarURL); err != nil {
			return nil, fmt.Errorf("friendRepo.ListFriends scan: %w", err)
		}
		friends = append(friends, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("friendRepo.ListFriends rows: %w", err)
	}
	return friends, nil
}

func collectWithProfile(rows pgx.Rows, attach func(*model.FriendRequest, *model.UserPublic)) ([]model.FriendRequest, error) {
	out := []model.FriendRequest{}
	for rows.Next() {
		var fr model.FriendRequest
		u := &model.UserPublic{}
		if err := rows.Scan(&fr.ID, &fr.RequesterID, &fr.RecipientID, &fr.Status, &fr.CreatedAt, &fr.UpdatedAt,
			&u.ID, &u.Username, &u.Email, &u.AvatarURL); err != nil {
			return nil, fmt.Errorf("friendRepo list scan: %w", err)
		}
		attach(&fr, u)
		out = append(out, fr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("friendRepo list rows: %w", err)
	}
	return out, nil
}
