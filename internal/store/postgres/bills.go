package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"cellstock/backend/internal/domain"
	"cellstock/backend/internal/store"
)

const billColumns = `bill_number, kind, type, items, total_items, created_by, created_at, updated_at`

type billRow struct {
	BillNumber string         `db:"bill_number"`
	Kind       string         `db:"kind"`
	Type       string         `db:"type"`
	Items      []byte         `db:"items"`
	TotalItems int            `db:"total_items"`
	CreatedBy  sql.NullString `db:"created_by"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

func (r billRow) toDomain() (domain.Bill, error) {
	bill := domain.Bill{
		BillNumber: strings.TrimSpace(r.BillNumber),
		Kind:       domain.BillKind(r.Kind),
		Type:       domain.BillType(r.Type),
		Items:      []domain.BillItem{},
		TotalItems: r.TotalItems,
		CreatedBy:  r.CreatedBy.String,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
	if len(r.Items) > 0 {
		if err := json.Unmarshal(r.Items, &bill.Items); err != nil {
			return bill, fmt.Errorf("decode items of bill %s: %w", bill.BillNumber, err)
		}
	}
	return bill, nil
}

// insertBill allocates a fresh bill number for bill and inserts it. Import
// and export bills share one numbering space.
func insertBill(ctx context.Context, execer sqlx.ExecerContext, bill domain.Bill) (string, error) {
	items, err := encodeJSON(bill.Items)
	if err != nil {
		return "", err
	}
	return store.AllocateBillNumber(func(number string) (bool, error) {
		res, err := execer.ExecContext(ctx, `
			INSERT INTO bills (`+billColumns+`)
			VALUES ($1,$2,$3,$4::jsonb,$5,$6,$7,$8)
			ON CONFLICT (bill_number) DO NOTHING
		`, number, string(bill.Kind), string(bill.Type), items, bill.TotalItems,
			nullIfEmpty(bill.CreatedBy), bill.CreatedAt, bill.UpdatedAt)
		if err != nil {
			return false, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		return affected == 1, nil
	})
}

func lockBill(ctx context.Context, tx *sqlx.Tx, billNumber string) (*domain.Bill, error) {
	var row billRow
	err := tx.GetContext(ctx, &row, `SELECT `+billColumns+` FROM bills WHERE bill_number = $1 FOR UPDATE`, billNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: bill %s", store.ErrNotFound, billNumber)
		}
		return nil, err
	}
	bill, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &bill, nil
}

func (s *Store) CreateImportBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error) {
	now := time.Now().UTC()
	bill.Kind = domain.BillKindImport
	bill.Type = domain.BillPending
	bill.RecomputeTotal()
	bill.CreatedAt = now
	bill.UpdatedAt = now

	number, err := insertBill(ctx, s.db, bill)
	if err != nil {
		return nil, err
	}
	bill.BillNumber = number
	return &bill, nil
}

func (s *Store) GetBill(ctx context.Context, billNumber string) (*domain.Bill, error) {
	var row billRow
	err := s.db.GetContext(ctx, &row, `SELECT `+billColumns+` FROM bills WHERE bill_number = $1`, billNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: bill %s", store.ErrNotFound, billNumber)
		}
		return nil, err
	}
	bill, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &bill, nil
}

func (s *Store) ListBills(ctx context.Context, filter store.BillFilter) ([]domain.Bill, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	rows := make([]billRow, 0, limit)
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+billColumns+`
		FROM bills
		WHERE ($1 = '' OR kind = $1) AND ($2 = '' OR type = $2)
		ORDER BY created_at DESC, bill_number DESC
		LIMIT $3
	`, string(filter.Kind), string(filter.Type), limit); err != nil {
		return nil, err
	}
	bills := make([]domain.Bill, 0, len(rows))
	for _, row := range rows {
		bill, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		bills = append(bills, bill)
	}
	return bills, nil
}
