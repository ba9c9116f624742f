package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if os.Getenv("RUN_DB_INTEGRATION") == "" {
		t.Skip("set RUN_DB_INTEGRATION=1 to run")
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		envOr("POSTGRES_USER", "bikeroutes"),
		envOr("POSTGRES_PASSWORD", "bikeroutes"),
		envOr("POSTGRES_HOST", "localhost"),
		envOr("POSTGRES_PORT", "5432"),
		envOr("POSTGRES_DB", "bikeroutes_test"),
		envOr("POSTGRES_SSLMODE", "disable"),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Skipf("db connection failed: %v", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		t.Skipf("db ping failed: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// createTestUser inserts a user with a throwaway email and schedules its
// removal; refresh_tokens rows cascade with the user.
func createTestUser(t *testing.T, store *Store, pool *pgxpool.Pool) *User {
	t.Helper()
	ctx := context.Background()
	email := fmt.Sprintf("it-%s@example.com", uuid.NewString())
	user, err := store.CreateUser(ctx, email, "pbkdf2_sha256$1000$00$00")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM users WHERE id = $1`, user.ID)
	})
	return user
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	pool := setupTestDB(t)
	store := New(pool)
	ctx := context.Background()

	user := createTestUser(t, store, pool)

	_, err := store.CreateUser(ctx, user.Email, "pbkdf2_sha256$1000$00$00")
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	pool := setupTestDB(t)
	store := New(pool)
	ctx := context.Background()

	user := createTestUser(t, store, pool)
	hash := uuid.NewString()
	expiresAt := time.Now().Add(time.Hour)

	id, err := store.CreateRefreshToken(ctx, user.ID, hash, expiresAt)
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	token, err := store.GetRefreshTokenByHash(ctx, hash)
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if token.ID != id || token.UserID != user.ID {
		t.Fatalf("unexpected row: %+v", token)
	}
	if token.Revoked() {
		t.Fatal("fresh token must be active")
	}

	if _, err := store.GetRefreshTokenByHash(ctx, "no-such-hash"); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("expected pgx.ErrNoRows, got %v", err)
	}
}

func TestRotateToken(t *testing.T) {
	pool := setupTestDB(t)
	store := New(pool)
	ctx := context.Background()

	user := createTestUser(t, store, pool)
	oldHash := uuid.NewString()
	oldID, err := store.CreateRefreshToken(ctx, user.ID, oldHash, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	newHash := uuid.NewString()
	newID, err := store.RotateToken(ctx, oldID, user.ID, newHash, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}

	old, err := store.GetRefreshTokenByHash(ctx, oldHash)
	if err != nil {
		t.Fatalf("get old row: %v", err)
	}
	if old.RevokedAt == nil || old.RevokedReason == nil || *old.RevokedReason != RevokedReasonRotated {
		t.Fatalf("old row not retired as rotated: %+v", old)
	}
	if old.ReplacedByTokenID == nil || *old.ReplacedByTokenID != newID {
		t.Fatalf("old row must link its successor: %+v", old)
	}

	replacement, err := store.GetRefreshTokenByHash(ctx, newHash)
	if err != nil {
		t.Fatalf("get new row: %v", err)
	}
	if replacement.ID != newID || replacement.Revoked() {
		t.Fatalf("replacement must be active: %+v", replacement)
	}
}

func TestRotateTokenLostRace(t *testing.T) {
	pool := setupTestDB(t)
	store := New(pool)
	ctx := context.Background()

	user := createTestUser(t, store, pool)
	oldID, err := store.CreateRefreshToken(ctx, user.ID, uuid.NewString(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	if _, err := store.RotateToken(ctx, oldID, user.ID, uuid.NewString(), time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("first rotate: %v", err)
	}

	// The row is already retired; the guard clause must refuse a second
	// rotation and roll back its insert.
	loserHash := uuid.NewString()
	if _, err := store.RotateToken(ctx, oldID, user.ID, loserHash, time.Now().Add(time.Hour)); !errors.Is(err, ErrTokenRotated) {
		t.Fatalf("expected ErrTokenRotated, got %v", err)
	}
	if _, err := store.GetRefreshTokenByHash(ctx, loserHash); !errors.Is(err, pgx.ErrNoRows) {
		t.Fatalf("loser's insert must be rolled back, got %v", err)
	}
}

func TestRotateTokenConcurrent(t *testing.T) {
	pool := setupTestDB(t)
	store := New(pool)
	ctx := context.Background()

	user := createTestUser(t, store, pool)
	oldID, err := store.CreateRefreshToken(ctx, user.ID, uuid.NewString(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("create token: %v", err)
	}

	const attempts = 4
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.RotateToken(ctx, oldID, user.ID, uuid.NewString(), time.Now().Add(time.Hour))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var won, lost int
	for err := range errs {
		switch {
		case err == nil:
			won++
		case errors.Is(err, ErrTokenRotated):
			lost++
		default:
			t.Fatalf("unexpected rotate error: %v", err)
		}
	}
	if won != 1 || lost != attempts-1 {
		t.Fatalf("expected exactly one winner, got won=%d lost=%d", won, lost)
	}
}

func TestRevokeAllUserTokens(t *testing.T) {
	pool := setupTestDB(t)
	store := New(pool)
	ctx := context.Background()

	user := createTestUser(t, store, pool)
	other := createTestUser(t, store, pool)

	hashes := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}
	for _, h := range hashes {
		if _, err := store.CreateRefreshToken(ctx, user.ID, h, time.Now().Add(time.Hour)); err != nil {
			t.Fatalf("create token: %v", err)
		}
	}
	otherHash := uuid.NewString()
	if _, err := store.CreateRefreshToken(ctx, other.ID, otherHash, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("create token: %v", err)
	}

	if err := store.RevokeAllUserTokens(ctx, user.ID, RevokedReasonReuse); err != nil {
		t.Fatalf("revoke all: %v", err)
	}

	for _, h := range hashes {
		token, err := store.GetRefreshTokenByHash(ctx, h)
		if err != nil {
			t.Fatalf("get token: %v", err)
		}
		if token.RevokedAt == nil || *token.RevokedReason != RevokedReasonReuse {
			t.Fatalf("token not revoked as reuse: %+v", token)
		}
	}

	// Other users' sessions are untouched.
	token, err := store.GetRefreshTokenByHash(ctx, otherHash)
	if err != nil {
		t.Fatalf("get other token: %v", err)
	}
	if token.Revoked() {
		t.Fatalf("unrelated user's token was revoked: %+v", token)
	}
}

func TestRevokeTokenByHash(t *testing.T) {
	pool := setupTestDB(t)
	store := New(pool)
	ctx := context.Background()

	user := createTestUser(t, store, pool)
	hash := uuid.NewString()
	if _, err := store.CreateRefreshToken(ctx, user.ID, hash, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("create token: %v", err)
	}

	if err := store.RevokeTokenByHash(ctx, hash, RevokedReasonLogout); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	token, err := store.GetRefreshTokenByHash(ctx, hash)
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if token.RevokedAt == nil || *token.RevokedReason != RevokedReasonLogout {
		t.Fatalf("token not revoked as logout: %+v", token)
	}

	// Idempotent for unknown and already-revoked hashes.
	if err := store.RevokeTokenByHash(ctx, "no-such-hash", RevokedReasonLogout); err != nil {
		t.Fatalf("revoke unknown hash: %v", err)
	}
	if err := store.RevokeTokenByHash(ctx, hash, RevokedReasonLogout); err != nil {
		t.Fatalf("revoke twice: %v", err)
	}
}
