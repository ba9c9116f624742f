package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrEmailTaken maps the unique constraint on users.email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrTokenRotated reports a lost rotation race: the presented token
	// left the active state between lookup and update.
	ErrTokenRotated = errors.New("refresh token already rotated")
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func (s *Store) CreateUser(ctx context.Context, email string, passwordHash string) (*User, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (email, password_hash)
		VALUES ($1, $2)
		RETURNING id, email, password_hash, is_active, created_at, updated_at
	`, email, passwordHash)

	var user User
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.IsActive, &user.CreatedAt, &user.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return &user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, is_active, created_at, updated_at
		FROM users
		WHERE email = $1
	`, email)

	var user User
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.IsActive, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, is_active, created_at, updated_at
		FROM users
		WHERE id = $1
	`, id)

	var user User
	if err := row.Scan(&user.ID, &user.Email, &user.PasswordHash, &user.IsActive, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *Store) GetRefreshTokenByHash(ctx context.Context, hash string) (*RefreshToken, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, token_hash, created_at, expires_at, revoked_at, revoked_reason, replaced_by_token_id
		FROM refresh_tokens
		WHERE token_hash = $1
	`, hash)

	var token RefreshToken
	if err := row.Scan(&token.ID, &token.UserID, &token.TokenHash, &token.CreatedAt, &token.ExpiresAt,
		&token.RevokedAt, &token.RevokedReason, &token.ReplacedByTokenID); err != nil {
		return nil, err
	}
	return &token, nil
}

func (s *Store) CreateRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) (uuid.UUID, error) {
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO refresh_tokens (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, userID, tokenHash, expiresAt).Scan(&id)
	return id, err
}

// RotateToken inserts the replacement row and retires the presented row in
// one transaction. The update carries a revoked_at IS NULL guard so two
// concurrent rotations of the same token commit at most once; the loser
// gets ErrTokenRotated and nothing persisted.
func (s *Store) RotateToken(ctx context.Context, oldTokenID uuid.UUID, userID uuid.UUID, newHash string, expiresAt time.Time) (uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var newID uuid.UUID
	if err := tx.QueryRow(ctx, `
		INSERT INTO refresh_tokens (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`, userID, newHash, expiresAt).Scan(&newID); err != nil {
		return uuid.Nil, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = now(), revoked_reason = $3, replaced_by_token_id = $2
		WHERE id = $1 AND revoked_at IS NULL AND replaced_by_token_id IS NULL
	`, oldTokenID, newID, RevokedReasonRotated)
	if err != nil {
		return uuid.Nil, err
	}
	if tag.RowsAffected() == 0 {
		return uuid.Nil, ErrTokenRotated
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, err
	}

	return newID, nil
}

// RevokeAllUserTokens ends every active session for the user. A single
// UPDATE, so it is atomic without an explicit transaction.
func (s *Store) RevokeAllUserTokens(ctx context.Context, userID uuid.UUID, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = now(), revoked_reason = $2
		WHERE user_id = $1 AND revoked_at IS NULL
	`, userID, reason)
	return err
}

func (s *Store) RevokeTokenByHash(ctx context.Context, hash string, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE refresh_tokens
		SET revoked_at = now(), revoked_reason = $2
		WHERE token_hash = $1 AND revoked_at IS NULL
	`, hash, reason)
	return err
}
