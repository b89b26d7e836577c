package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jmoiron/sqlx"

	"cellstock/backend/internal/domain"
	"cellstock/backend/internal/store"
)

const cellColumns = `cell_id, col, row_label, division_type, status, products, sub_cell_a, sub_cell_b, total, updated_at`

// cellRow mirrors the cells table. division_type, status and the sub-cell
// columns are nullable because early rows were written without them.
type cellRow struct {
	CellID       string         `db:"cell_id"`
	Col          string         `db:"col"`
	Row          string         `db:"row_label"`
	DivisionType sql.NullString `db:"division_type"`
	Status       sql.NullInt16  `db:"status"`
	Products     []byte         `db:"products"`
	SubCellA     []byte         `db:"sub_cell_a"`
	SubCellB     []byte         `db:"sub_cell_b"`
	Total        int            `db:"total"`
	UpdatedAt    time.Time      `db:"updated_at"`
}

func (r cellRow) toDomain() (domain.Cell, error) {
	cell := domain.Cell{
		CellID:       r.CellID,
		Col:          r.Col,
		Row:          r.Row,
		DivisionType: domain.DivisionType(r.DivisionType.String),
		Status:       domain.StatusEmpty,
		Total:        r.Total,
		UpdatedAt:    r.UpdatedAt.UTC(),
	}
	if r.Status.Valid {
		cell.Status = domain.CellStatus(r.Status.Int16)
	}
	if len(r.Products) > 0 {
		if err := json.Unmarshal(r.Products, &cell.Products); err != nil {
			return cell, fmt.Errorf("decode products of %s: %w", r.CellID, err)
		}
	}
	if len(r.SubCellA) > 0 {
		if err := json.Unmarshal(r.SubCellA, &cell.SubCellA); err != nil {
			return cell, fmt.Errorf("decode sub-cell A of %s: %w", r.CellID, err)
		}
	}
	if len(r.SubCellB) > 0 {
		if err := json.Unmarshal(r.SubCellB, &cell.SubCellB); err != nil {
			return cell, fmt.Errorf("decode sub-cell B of %s: %w", r.CellID, err)
		}
	}
	domain.Normalize(&cell)
	return cell, nil
}

func cellArgs(cell domain.Cell) ([]any, error) {
	products, err := encodeJSON(cell.Products)
	if err != nil {
		return nil, err
	}
	var subA, subB any
	if cell.IsDual() {
		a, err := encodeJSON(cell.SubCellA)
		if err != nil {
			return nil, err
		}
		b, err := encodeJSON(cell.SubCellB)
		if err != nil {
			return nil, err
		}
		subA, subB = a, b
	}
	return []any{
		cell.CellID, cell.Col, cell.Row, string(cell.DivisionType), int16(cell.Status),
		products, subA, subB, cell.Total, cell.UpdatedAt,
	}, nil
}

func (s *Store) CreateCell(ctx context.Context, cell domain.Cell) (*domain.Cell, error) {
	args, err := cellArgs(cell)
	if err != nil {
		return nil, err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cells (`+cellColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6::jsonb,$7::jsonb,$8::jsonb,$9,$10)
	`, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: cell %s", store.ErrDuplicateID, cell.CellID)
		}
		return nil, err
	}
	created := cell.Clone()
	return &created, nil
}

func (s *Store) GetCell(ctx context.Context, cellID string) (*domain.Cell, error) {
	var row cellRow
	err := s.db.GetContext(ctx, &row, `SELECT `+cellColumns+` FROM cells WHERE cell_id = $1`, cellID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: cell %s", store.ErrNotFound, cellID)
		}
		return nil, err
	}
	cell, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &cell, nil
}

func (s *Store) ListCells(ctx context.Context, filter store.CellFilter) ([]domain.Cell, error) {
	rows := make([]cellRow, 0, 128)
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT `+cellColumns+`
		FROM cells
		WHERE ($1 = '' OR col = $1) AND ($2 = '' OR row_label = $2)
		ORDER BY cell_id
	`, filter.Col, filter.Row); err != nil {
		return nil, err
	}
	cells := make([]domain.Cell, 0, len(rows))
	for _, row := range rows {
		cell, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		cells = append(cells, cell)
	}
	return cells, nil
}

// NormalizeCells rewrites every row in its normalized shape.
func (s *Store) NormalizeCells(ctx context.Context) (int, error) {
	count := 0
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		rows := make([]cellRow, 0, 128)
		if err := tx.SelectContext(ctx, &rows, `SELECT `+cellColumns+` FROM cells ORDER BY cell_id FOR UPDATE`); err != nil {
			return err
		}
		for _, row := range rows {
			cell, err := row.toDomain()
			if err != nil {
				return err
			}
			if err := updateCell(ctx, tx, cell); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

func updateCell(ctx context.Context, tx *sqlx.Tx, cell domain.Cell) error {
	args, err := cellArgs(cell)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE cells
		SET col = $2, row_label = $3, division_type = $4, status = $5,
			products = $6::jsonb, sub_cell_a = $7::jsonb, sub_cell_b = $8::jsonb,
			total = $9, updated_at = $10
		WHERE cell_id = $1
	`, args...)
	return err
}

// Update locks the scope's bill row first and then its cell rows in id
// order, hands staged copies to fn, and writes back what fn touched.
func (s *Store) Update(ctx context.Context, scope store.Scope, fn func(tx store.Tx) error) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		u := &unit{ctx: ctx, tx: tx, scope: scope, cells: make(map[string]*domain.Cell, len(scope.CellIDs))}

		if scope.BillNumber != "" {
			bill, err := lockBill(ctx, tx, scope.BillNumber)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return err
			}
			u.bill = bill
		}

		if ids := scope.SortedCellIDs(); len(ids) > 0 {
			query, args, err := sqlx.In(`SELECT `+cellColumns+` FROM cells WHERE cell_id IN (?) ORDER BY cell_id FOR UPDATE`, ids)
			if err != nil {
				return err
			}
			rows := make([]cellRow, 0, len(ids))
			if err := tx.SelectContext(ctx, &rows, tx.Rebind(query), args...); err != nil {
				return err
			}
			for _, row := range rows {
				cell, err := row.toDomain()
				if err != nil {
					return err
				}
				u.cells[cell.CellID] = &cell
			}
		}

		if err := fn(u); err != nil {
			return err
		}
		return u.flush()
	})
}

type unit struct {
	ctx         context.Context
	tx          *sqlx.Tx
	scope       store.Scope
	cells       map[string]*domain.Cell
	accessed    []string
	bill        *domain.Bill
	billChanged bool
}

func (u *unit) Cell(cellID string) (*domain.Cell, error) {
	if !slices.Contains(u.scope.CellIDs, cellID) {
		return nil, fmt.Errorf("%w: cell %s", store.ErrOutOfScope, cellID)
	}
	cell, ok := u.cells[cellID]
	if !ok {
		return nil, fmt.Errorf("%w: cell %s", store.ErrNotFound, cellID)
	}
	if !slices.Contains(u.accessed, cellID) {
		u.accessed = append(u.accessed, cellID)
	}
	return cell, nil
}

func (u *unit) Bill() (*domain.Bill, error) {
	if u.scope.BillNumber == "" {
		return nil, fmt.Errorf("%w: no bill in scope", store.ErrOutOfScope)
	}
	if u.bill == nil {
		return nil, fmt.Errorf("%w: bill %s", store.ErrNotFound, u.scope.BillNumber)
	}
	return u.bill, nil
}

func (u *unit) SetBillType(billType domain.BillType) error {
	bill, err := u.Bill()
	if err != nil {
		return err
	}
	bill.Type = billType
	bill.UpdatedAt = time.Now().UTC()
	u.billChanged = true
	return nil
}

func (u *unit) CreateExportBill(bill domain.Bill) (*domain.Bill, error) {
	bill.Kind = domain.BillKindExport
	bill.Type = domain.BillOut
	bill.RecomputeTotal()
	now := time.Now().UTC()
	if bill.CreatedAt.IsZero() {
		bill.CreatedAt = now
	}
	bill.UpdatedAt = now

	number, err := insertBill(u.ctx, u.tx, bill)
	if err != nil {
		return nil, err
	}
	bill.BillNumber = number
	return &bill, nil
}

func (u *unit) AddDailyCounts(day string, in int, out int) error {
	_, err := u.tx.ExecContext(u.ctx, `
		INSERT INTO daily_ledger (day, in_count, out_count)
		VALUES ($1,$2,$3)
		ON CONFLICT (day)
		DO UPDATE SET in_count = daily_ledger.in_count + EXCLUDED.in_count,
			out_count = daily_ledger.out_count + EXCLUDED.out_count
	`, day, in, out)
	return err
}

func (u *unit) flush() error {
	slices.Sort(u.accessed)
	for _, id := range u.accessed {
		if err := updateCell(u.ctx, u.tx, *u.cells[id]); err != nil {
			return err
		}
	}
	if u.bill != nil && u.billChanged {
		if _, err := u.tx.ExecContext(u.ctx, `
			UPDATE bills SET type = $2, updated_at = $3 WHERE bill_number = $1
		`, u.bill.BillNumber, string(u.bill.Type), u.bill.UpdatedAt); err != nil {
			return err
		}
	}
	return nil
}
