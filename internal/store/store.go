package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"cellstock/backend/internal/domain"
	"cellstock/backend/internal/xid"
)

var (
	ErrNotFound            = domain.ErrNotFound
	ErrDuplicateID         = domain.ErrDuplicateID
	ErrOutOfScope          = errors.New("record outside unit of work scope")
	ErrBillNumberExhausted = errors.New("could not allocate a unique bill number")
)

const MaxBillNumberAttempts = 10

// Scope declares every record a unit of work may touch. Keys are locked in
// sorted order, which puts the bill ahead of the cells.
type Scope struct {
	CellIDs    []string
	BillNumber string
}

func (s Scope) LockKeys() []string {
	seen := make(map[string]struct{}, len(s.CellIDs)+1)
	keys := make([]string, 0, len(s.CellIDs)+1)
	if s.BillNumber != "" {
		seen["bill:"+s.BillNumber] = struct{}{}
		keys = append(keys, "bill:"+s.BillNumber)
	}
	for _, id := range s.CellIDs {
		key := "cell:" + id
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// SortedCellIDs returns the distinct cell ids of the scope in lock order.
func (s Scope) SortedCellIDs() []string {
	seen := make(map[string]struct{}, len(s.CellIDs))
	ids := make([]string, 0, len(s.CellIDs))
	for _, id := range s.CellIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Tx is the repository as seen from inside one unit of work. Cells returned
// by Cell are staged copies; nothing is visible to other callers until the
// unit commits, and nothing is kept if it fails.
type Tx interface {
	Cell(cellID string) (*domain.Cell, error)
	Bill() (*domain.Bill, error)
	SetBillType(billType domain.BillType) error
	CreateExportBill(bill domain.Bill) (*domain.Bill, error)
	AddDailyCounts(day string, in int, out int) error
}

type CellFilter struct {
	Col string
	Row string
}

type BillFilter struct {
	Kind  domain.BillKind
	Type  domain.BillType
	Limit int
}

type CellStore interface {
	CreateCell(ctx context.Context, cell domain.Cell) (*domain.Cell, error)
	GetCell(ctx context.Context, cellID string) (*domain.Cell, error)
	ListCells(ctx context.Context, filter CellFilter) ([]domain.Cell, error)
	Update(ctx context.Context, scope Scope, fn func(tx Tx) error) error
	NormalizeCells(ctx context.Context) (int, error)
}

type Catalog interface {
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, productID string) (*domain.Product, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
}

type BillLedger interface {
	CreateImportBill(ctx context.Context, bill domain.Bill) (*domain.Bill, error)
	GetBill(ctx context.Context, billNumber string) (*domain.Bill, error)
	ListBills(ctx context.Context, filter BillFilter) ([]domain.Bill, error)
}

type DailyLedger interface {
	GetDailyCount(ctx context.Context, day string) (domain.DailyCount, error)
}

type DocumentStore interface {
	CreateDocumentRecord(ctx context.Context, record domain.DocumentRecord) error
	ListDocumentRecords(ctx context.Context, kind domain.BillKind, limit int) ([]domain.DocumentRecord, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type Repository interface {
	CellStore
	Catalog
	BillLedger
	DailyLedger
	DocumentStore
	UserStore
}

// AllocateBillNumber draws random bill numbers until insert accepts one.
// insert reports false when the number is already taken.
func AllocateBillNumber(insert func(number string) (bool, error)) (string, error) {
	for attempt := 0; attempt < MaxBillNumberAttempts; attempt++ {
		number := xid.BillNumber()
		ok, err := insert(number)
		if err != nil {
			return "", err
		}
		if ok {
			return number, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrBillNumberExhausted, MaxBillNumberAttempts)
}
