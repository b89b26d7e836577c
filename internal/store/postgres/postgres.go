package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"cellstock/backend/internal/domain"
	"cellstock/backend/internal/store"
)

//go:embed schema.sql
var schema string

type Store struct {
	db  *sqlx.DB
	sem *semaphore.Weighted
}

func New(ctx context.Context, databaseURL string, maxConcurrentTx int) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if maxConcurrentTx < 1 {
		maxConcurrentTx = 10
	}
	return &Store{db: db, sem: semaphore.NewWeighted(int64(maxConcurrentTx))}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// withTx runs fn in a read-committed transaction. Callers take row locks
// explicitly, so the isolation level only needs to hide uncommitted writes.
func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("could not acquire transaction slot: %w", err)
	}
	defer s.sem.Release(1)

	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			log.Error().Err(rbErr).Msg("could not rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	return nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (product_id, type, name, image, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, product.ProductID, product.Type, product.Name, nullIfEmpty(product.Image), product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: product %s", store.ErrDuplicateID, product.ProductID)
		}
		return nil, err
	}
	created := product
	return &created, nil
}

type productRow struct {
	ProductID string         `db:"product_id"`
	Type      string         `db:"type"`
	Name      string         `db:"name"`
	Image     sql.NullString `db:"image"`
	CreatedAt time.Time      `db:"created_at"`
}

func (r productRow) toDomain() domain.Product {
	return domain.Product{
		ProductID: r.ProductID,
		Type:      r.Type,
		Name:      r.Name,
		Image:     r.Image.String,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

func (s *Store) GetProduct(ctx context.Context, productID string) (*domain.Product, error) {
	var row productRow
	err := s.db.GetContext(ctx, &row, `
		SELECT product_id, type, name, image, created_at
		FROM products
		WHERE product_id = $1
	`, productID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
		}
		return nil, err
	}
	product := row.toDomain()
	return &product, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows := make([]productRow, 0, 64)
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT product_id, type, name, image, created_at
		FROM products
		ORDER BY product_id
	`); err != nil {
		return nil, err
	}
	products := make([]domain.Product, 0, len(rows))
	for _, row := range rows {
		products = append(products, row.toDomain())
	}
	return products, nil
}

func (s *Store) GetDailyCount(ctx context.Context, day string) (domain.DailyCount, error) {
	count := domain.DailyCount{Date: day}
	err := s.db.QueryRowContext(ctx, `
		SELECT in_count, out_count
		FROM daily_ledger
		WHERE day = $1
	`, day).Scan(&count.InCount, &count.OutCount)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return count, err
	}
	return count, nil
}

func (s *Store) CreateDocumentRecord(ctx context.Context, record domain.DocumentRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_records (id, bill_number, kind, pdf_url, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, record.ID, record.BillNumber, string(record.Kind), record.PDFURL, nullIfEmpty(record.CreatedBy), record.CreatedAt)
	return err
}

type documentRow struct {
	ID         string         `db:"id"`
	BillNumber string         `db:"bill_number"`
	Kind       string         `db:"kind"`
	PDFURL     string         `db:"pdf_url"`
	CreatedBy  sql.NullString `db:"created_by"`
	CreatedAt  time.Time      `db:"created_at"`
}

func (s *Store) ListDocumentRecords(ctx context.Context, kind domain.BillKind, limit int) ([]domain.DocumentRecord, error) {
	if limit < 1 {
		limit = 50
	}
	rows := make([]documentRow, 0, limit)
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, bill_number, kind, pdf_url, created_by, created_at
		FROM document_records
		WHERE ($1 = '' OR kind = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`, string(kind), limit); err != nil {
		return nil, err
	}
	records := make([]domain.DocumentRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, domain.DocumentRecord{
			ID:         row.ID,
			BillNumber: strings.TrimSpace(row.BillNumber),
			Kind:       domain.BillKind(row.Kind),
			PDFURL:     row.PDFURL,
			CreatedBy:  row.CreatedBy.String,
			CreatedAt:  row.CreatedAt.UTC(),
		})
	}
	return records, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return domain.Validationf("username and password are required")
	}
	if user.Role == "" {
		user.Role = "staff"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user %s", store.ErrDuplicateID, user.Username)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return domain.Validationf("username and password are required")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: user %s", store.ErrNotFound, username)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func encodeJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
