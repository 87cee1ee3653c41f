package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/BatmanBruc/bat-bot-merger/types"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ types.UserStore = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, dsn, migrationsDir string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = buildPostgresDSNFromEnv()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &PostgresStore{pool: pool}
	if err := s.runMigrations(ctx, migrationsDir); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func buildPostgresDSNFromEnv() string {
	host := strings.TrimSpace(os.Getenv("POSTGRES_HOST"))
	if host == "" {
		host = "localhost"
	}
	port := strings.TrimSpace(os.Getenv("POSTGRES_PORT"))
	if port == "" {
		port = "5432"
	}
	db := strings.TrimSpace(os.Getenv("POSTGRES_DB"))
	if db == "" {
		db = "merge_bot"
	}
	user := strings.TrimSpace(os.Getenv("POSTGRES_USER"))
	if user == "" {
		user = "merge_bot"
	}
	pass := os.Getenv("POSTGRES_PASSWORD")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", urlEscape(user), urlEscape(pass), host, port, db)
}

func urlEscape(s string) string {
	r := strings.NewReplacer(
		"%", "%25",
		":", "%3A",
		"/", "%2F",
		"@", "%40",
		"?", "%3F",
		"#", "%23",
		"[", "%5B",
		"]", "%5D",
	)
	return r.Replace(s)
}

func (s *PostgresStore) runMigrations(ctx context.Context, dir string) error {
	if strings.TrimSpace(dir) == "" {
		dir = "migrations"
	}
	db := stdlib.OpenDB(*s.pool.Config().ConnConfig)
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, dir)
}

func (s *PostgresStore) UpsertUser(user types.User) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
INSERT INTO users (user_id, chat_id, username, first_name)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id) DO UPDATE SET
  chat_id = EXCLUDED.chat_id,
  username = EXCLUDED.username,
  first_name = EXCLUDED.first_name,
  updated_at = NOW();
`, user.UserID, user.ChatID, strings.TrimSpace(user.Username), strings.TrimSpace(user.FirstName))
	return err
}

func (s *PostgresStore) GetUser(userID int64) (*types.User, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var u types.User
	var mode int
	err := s.pool.QueryRow(ctx, `
SELECT user_id, chat_id, username, first_name, allowed, banned, merge_mode, created_at, updated_at
FROM users
WHERE user_id = $1
`, userID).Scan(&u.UserID, &u.ChatID, &u.Username, &u.FirstName, &u.Allowed, &u.Banned, &mode, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u.MergeMode = types.MergeMode(mode)
	return &u, nil
}

func (s *PostgresStore) IsAllowed(userID int64) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var ok bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS(
  SELECT 1
  FROM users
  WHERE user_id = $1
    AND allowed
    AND NOT banned
)
`, userID).Scan(&ok)
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (s *PostgresStore) IsBanned(userID int64) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var banned bool
	err := s.pool.QueryRow(ctx, `SELECT banned FROM users WHERE user_id = $1`, userID).Scan(&banned)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return banned, nil
}

func (s *PostgresStore) SetAllowed(userID int64, allowed bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
INSERT INTO users (user_id, allowed)
VALUES ($1, $2)
ON CONFLICT (user_id) DO UPDATE SET
  allowed = EXCLUDED.allowed,
  updated_at = NOW();
`, userID, allowed)
	return err
}

func (s *PostgresStore) SetBanned(userID int64, banned bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
INSERT INTO users (user_id, banned)
VALUES ($1, $2)
ON CONFLICT (user_id) DO UPDATE SET
  banned = EXCLUDED.banned,
  updated_at = NOW();
`, userID, banned)
	return err
}

func (s *PostgresStore) GetMergeMode(userID int64) (types.MergeMode, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var mode int
	err := s.pool.QueryRow(ctx, `SELECT merge_mode FROM users WHERE user_id = $1`, userID).Scan(&mode)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.MergeVideo, nil
	}
	if err != nil {
		return types.MergeVideo, err
	}
	m := types.MergeMode(mode)
	if !m.Valid() {
		return types.MergeVideo, nil
	}
	return m, nil
}

func (s *PostgresStore) SetMergeMode(userID int64, mode types.MergeMode) error {
	if !mode.Valid() {
		return fmt.Errorf("invalid merge mode %d", mode)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
INSERT INTO users (user_id, merge_mode)
VALUES ($1, $2)
ON CONFLICT (user_id) DO UPDATE SET
  merge_mode = EXCLUDED.merge_mode,
  updated_at = NOW();
`, userID, int(mode))
	return err
}
