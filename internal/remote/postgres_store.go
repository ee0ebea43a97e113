package remote

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

//go:embed schema.sql
var schemaSQL string

const pqUniqueViolation = "23505"

// PostgresStore implements Store on PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// EnsureSchema creates the users and cart_items tables if they are missing
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, key string) (*UserRecord, error) {
	query := `SELECT id, email, display_name, is_artisan, password_hash, created_at FROM users WHERE id = $1`
	arg := key
	if IsEmailKey(key) {
		query = `SELECT id, email, display_name, is_artisan, password_hash, created_at FROM users WHERE email = $1`
		arg = NormalizeEmail(key)
	}

	var u UserRecord
	err := s.db.QueryRowContext(ctx, query, arg).
		Scan(&u.ID, &u.Email, &u.DisplayName, &u.IsArtisan, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, data NewUser) (*UserRecord, error) {
	email := NormalizeEmail(data.Email)
	if email == "" || data.PasswordHash == "" {
		return nil, ErrInvalidUser
	}

	u := &UserRecord{
		ID:           uuid.New().String(),
		Email:        email,
		DisplayName:  data.DisplayName,
		IsArtisan:    data.IsArtisan,
		PasswordHash: data.PasswordHash,
		CreatedAt:    time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, display_name, is_artisan, password_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Email, u.DisplayName, u.IsArtisan, u.PasswordHash, u.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) UpsertCartLine(ctx context.Context, userID string, line LineRecord) error {
	if !line.valid() {
		return ErrInvalidLine
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cart_items (user_id, product_id, title, unit_price, quantity, image_ref, seller_ref, added_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (user_id, product_id) DO UPDATE SET
			title = EXCLUDED.title,
			unit_price = EXCLUDED.unit_price,
			quantity = EXCLUDED.quantity,
			image_ref = EXCLUDED.image_ref,
			seller_ref = EXCLUDED.seller_ref,
			updated_at = EXCLUDED.updated_at
	`, userID, line.ProductID, line.Title, line.UnitPrice, line.Quantity, line.ImageRef, line.SellerRef, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to upsert cart line: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteCartLine(ctx context.Context, userID, productID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM cart_items WHERE user_id = $1 AND product_id = $2`,
		userID, productID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete cart line: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListCartLines(ctx context.Context, userID string) ([]LineRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, title, unit_price, quantity, image_ref, seller_ref
		FROM cart_items
		WHERE user_id = $1
		ORDER BY added_at ASC, product_id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cart lines: %w", err)
	}
	defer rows.Close()

	lines := make([]LineRecord, 0)
	for rows.Next() {
		var l LineRecord
		if err := rows.Scan(&l.ProductID, &l.Title, &l.UnitPrice, &l.Quantity, &l.ImageRef, &l.SellerRef); err != nil {
			return nil, fmt.Errorf("failed to scan cart line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cart lines: %w", err)
	}
	return lines, nil
}

// ConnectPostgres opens and pings a PostgreSQL connection pool
func ConnectPostgres(ctx context.Context, connStr string) (*sql.DB, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}
