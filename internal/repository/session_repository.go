package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"authgate/api/internal/models"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func (r *SessionRepository) Create(ctx context.Context, session models.RefreshSession) error {
	const query = `
		INSERT INTO refresh_sessions (
			id, user_id, refresh_token_hash, created_at, expires_at
		) VALUES (
			$1, $2, $3, $4, $5
		)
	`

	_, err := r.pool.Exec(ctx, query,
		session.ID,
		session.UserID,
		session.RefreshTokenHash,
		session.CreatedAt,
		session.ExpiresAt,
	)
	return err
}

func (r *SessionRepository) GetByID(ctx context.Context, id string) (models.RefreshSession, error) {
	const query = `
		SELECT id, user_id, refresh_token_hash, created_at, expires_at, revoked_at
		FROM refresh_sessions
		WHERE id = $1
	`
	return r.scanSession(r.pool.QueryRow(ctx, query, id))
}

func (r *SessionRepository) GetActiveByID(ctx context.Context, id string) (models.RefreshSession, error) {
	const query = `
		SELECT id, user_id, refresh_token_hash, created_at, expires_at, revoked_at
		FROM refresh_sessions
		WHERE id = $1 AND revoked_at IS NULL AND expires_at > NOW()
	`
	return r.scanSession(r.pool.QueryRow(ctx, query, id))
}

// GetActiveByHash resolves a presented refresh token to its session. Rotated
// and expired sessions never match, which is what rejects token replay.
func (r *SessionRepository) GetActiveByHash(ctx context.Context, hash []byte) (models.RefreshSession, error) {
	const query = `
		SELECT id, user_id, refresh_token_hash, created_at, expires_at, revoked_at
		FROM refresh_sessions
		WHERE refresh_token_hash = $1 AND revoked_at IS NULL AND expires_at > NOW()
	`
	return r.scanSession(r.pool.QueryRow(ctx, query, hash))
}

// Revoke sets revoked_at once. The WHERE clause makes concurrent revocations
// of the same session serialize at the database: exactly one caller observes
// true, every later one observes false without an error.
func (r *SessionRepository) Revoke(ctx context.Context, id string) (bool, error) {
	const query = `
		UPDATE refresh_sessions
		SET revoked_at = NOW()
		WHERE id = $1 AND revoked_at IS NULL
	`
	cmd, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

// RevokeExpired marks sessions whose expiry has passed. Rows are kept for
// history; only the sweep and natural expiry gate activity.
func (r *SessionRepository) RevokeExpired(ctx context.Context) (int64, error) {
	const query = `
		UPDATE refresh_sessions
		SET revoked_at = NOW()
		WHERE revoked_at IS NULL AND expires_at <= NOW()
	`
	cmd, err := r.pool.Exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *SessionRepository) scanSession(row pgx.Row) (models.RefreshSession, error) {
	var session models.RefreshSession
	if err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.RefreshTokenHash,
		&session.CreatedAt,
		&session.ExpiresAt,
		&session.RevokedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.RefreshSession{}, ErrSessionNotFound
		}
		return models.RefreshSession{}, err
	}
	return session, nil
}
