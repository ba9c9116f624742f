package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/GadCoder/BikeRoutes/internal/security"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	env := getEnv("BIKE_ENV", "dev")
	if env != "dev" && env != "test" {
		log.Fatalf("refusing to seed: BIKE_ENV must be 'dev' or 'test' (got '%s')", env)
	}

	host := getEnv("POSTGRES_HOST", "localhost")
	port := getEnv("POSTGRES_PORT", "5432")
	db := getEnv("POSTGRES_DB", "bikeroutes")
	user := getEnv("POSTGRES_USER", "bikeroutes")
	password := getEnv("POSTGRES_PASSWORD", "bikeroutes")
	sslmode := getEnv("POSTGRES_SSLMODE", "disable")

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, db, sslmode)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	fmt.Println("Seeding database...")

	userID, err := seedDemoUser(ctx, pool)
	if err != nil {
		log.Fatalf("seed user: %v", err)
	}
	fmt.Println("✓ Demo user seeded (demo@example.com / demo1234)")

	if err := seedDemoRoutes(ctx, pool, userID); err != nil {
		log.Fatalf("seed routes: %v", err)
	}
	fmt.Println("✓ Demo routes seeded")

	fmt.Println("Done.")
}

func seedDemoUser(ctx context.Context, pool *pgxpool.Pool) (uuid.UUID, error) {
	hash, err := security.HashPassword("demo1234", security.DefaultPBKDF2Params())
	if err != nil {
		return uuid.Nil, err
	}

	var id uuid.UUID
	err = pool.QueryRow(ctx, `
		INSERT INTO users (email, password_hash)
		VALUES ($1, $2)
		ON CONFLICT (email) DO UPDATE SET updated_at = now()
		RETURNING id
	`, "demo@example.com", hash).Scan(&id)
	return id, err
}

func seedDemoRoutes(ctx context.Context, pool *pgxpool.Pool, userID uuid.UUID) error {
	for _, r := range demoRoutes {
		var routeID uuid.UUID
		err := pool.QueryRow(ctx, `
			INSERT INTO routes (user_id, title, description, geometry, distance_km, is_public, share_token)
			VALUES (
				$1, $2, $3,
				ST_SetSRID(ST_GeomFromGeoJSON($4), 4326),
				ST_Length(ST_SetSRID(ST_GeomFromGeoJSON($4), 4326)::geography) / 1000.0,
				$5, $6
			)
			RETURNING id
		`, userID, r.title, r.description, r.geometry, r.isPublic, r.shareToken).Scan(&routeID)
		if err != nil {
			return fmt.Errorf("insert route %q: %w", r.title, err)
		}

		for i, m := range r.markers {
			_, err := pool.Exec(ctx, `
				INSERT INTO markers (route_id, geometry, label, icon_type, order_index)
				VALUES ($1, ST_SetSRID(ST_GeomFromGeoJSON($2), 4326), $3, $4, $5)
			`, routeID, m.geometry, m.label, m.iconType, i)
			if err != nil {
				return fmt.Errorf("insert marker %q: %w", m.label, err)
			}
		}
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
