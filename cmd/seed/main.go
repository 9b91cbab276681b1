package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"github.com/oksasatya/profile-service/config"
	"github.com/oksasatya/profile-service/pkg/helpers"
)

type seedAccount struct {
	email    string
	username string
	password string
}

// Seeds two development accounts, opens a Redis session for the first one and
// prints a bearer token for it. Tokens are normally issued by the login service.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx := context.Background()

	db, err := sql.Open("pgx", cfg.PostgresDSN())
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}
	defer func() { _ = db.Close() }()

	accounts := []seedAccount{
		{email: "li.bai@example.com", username: "li_bai", password: "password123"},
		{email: "du.fu@example.com", username: "du_fu", password: "password123"},
	}

	ids := make([]int64, 0, len(accounts))
	for _, a := range accounts {
		hash, err := helpers.HashPassword(a.password)
		if err != nil {
			log.Fatalf("failed to hash password: %v", err)
		}
		var id int64
		err = db.QueryRowContext(ctx, `
			INSERT INTO users (email, username, password_hash)
			VALUES ($1, $2, $3)
			ON CONFLICT ON CONSTRAINT users_email_key DO UPDATE SET updated_at = now()
			RETURNING id
		`, a.email, a.username, hash).Scan(&id)
		if err != nil {
			log.Fatalf("failed to seed %s: %v", a.username, err)
		}
		ids = append(ids, id)
		fmt.Printf("seeded user: id=%d email=%s username=%s password=%s\n", id, a.email, a.username, a.password)
	}

	rdb := helpers.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer func() { _ = rdb.Close() }()

	jwt := helpers.NewJWTManager(cfg.JWTAccessSecret, cfg.AccessTTL)
	sid := uuid.NewString()
	token, exp, err := jwt.GenerateAccessToken(ids[0], sid)
	if err != nil {
		log.Fatalf("failed to sign token: %v", err)
	}

	key := helpers.SessionKey(ids[0])
	pipe := rdb.Pipeline()
	pipe.HSet(ctx, key, map[string]any{
		"user_id":    ids[0],
		"email":      accounts[0].email,
		"username":   accounts[0].username,
		"sid":        sid,
		"logged_in":  true,
		"created_at": time.Now().UTC().Format(time.RFC3339Nano),
	})
	pipe.Expire(ctx, key, cfg.AccessTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Fatalf("failed to write session: %v", err)
	}

	fmt.Printf("access token for %s (expires %s):\n%s\n", accounts[0].username, exp.Format(time.RFC3339), token)
}
