package memory

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"cellstock/backend/internal/domain"
	"cellstock/backend/internal/store"
)

type Store struct {
	mu        sync.RWMutex
	locks     *keyedMutex
	cells     map[string]domain.Cell
	products  map[string]domain.Product
	bills     map[string]domain.Bill
	reserved  map[string]struct{}
	daily     map[string]domain.DailyCount
	documents []domain.DocumentRecord
	users     map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		locks:     newKeyedMutex(),
		cells:     make(map[string]domain.Cell),
		products:  make(map[string]domain.Product),
		bills:     make(map[string]domain.Bill),
		reserved:  make(map[string]struct{}),
		daily:     make(map[string]domain.DailyCount),
		documents: make([]domain.DocumentRecord, 0, 32),
		users:     make(map[string]domain.UserAccount),
	}
}

// seedUsers builds the initial accounts for dev/demo mode. Credentials come
// from SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD, with dev defaults.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Warn().Msg("memory store using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_STAFF_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"staff", staffPwd, "staff"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatal().Err(err).Str("username", u.username).Msg("failed to hash seed password")
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store with demo users, a small catalog and a 3x4 grid
// of empty cells.
func NewSeeded() *Store {
	s := New()
	s.users = seedUsers()

	now := time.Now().UTC()
	for _, p := range SeedProducts() {
		p.CreatedAt = now
		s.products[p.ProductID] = p
	}
	for _, cell := range SeedGrid([]string{"A", "B", "C"}, 4, now) {
		s.cells[cell.CellID] = cell
	}
	return s
}

func SeedProducts() []domain.Product {
	return []domain.Product{
		{ProductID: "P-1001", Type: "beverage", Name: "Drinking Water 600ml"},
		{ProductID: "P-1002", Type: "beverage", Name: "Green Tea 350ml"},
		{ProductID: "P-2001", Type: "dry-food", Name: "Jasmine Rice 5kg"},
		{ProductID: "P-2002", Type: "dry-food", Name: "Instant Noodles Carton"},
		{ProductID: "P-3001", Type: "household", Name: "Dish Soap 1L"},
		{ProductID: "P-3002", Type: "household", Name: "Tissue Roll Pack"},
	}
}

// SeedGrid lays out cols x rows single cells named {col}-{row:02}.
func SeedGrid(cols []string, rows int, now time.Time) []domain.Cell {
	cells := make([]domain.Cell, 0, len(cols)*rows)
	for _, col := range cols {
		for row := 1; row <= rows; row++ {
			id := fmt.Sprintf("%s-%02d", col, row)
			cell, err := domain.NewCell(id, col, fmt.Sprintf("%d", row), domain.StatusEmpty, now)
			if err != nil {
				continue
			}
			cells = append(cells, cell)
		}
	}
	return cells
}

func (s *Store) CreateCell(_ context.Context, cell domain.Cell) (*domain.Cell, error) {
	unlock := s.locks.lockAll([]string{"cell:" + cell.CellID})
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.cells[cell.CellID]; exists {
		return nil, fmt.Errorf("%w: cell %s", store.ErrDuplicateID, cell.CellID)
	}
	s.cells[cell.CellID] = cell.Clone()
	created := cell.Clone()
	return &created, nil
}

// PutRawCell stores a cell as-is, bypassing validation. Used to load records
// written before division and status tracking existed.
func (s *Store) PutRawCell(cell domain.Cell) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cells[cell.CellID] = cell.Clone()
}

func (s *Store) GetCell(_ context.Context, cellID string) (*domain.Cell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cell, ok := s.cells[cellID]
	if !ok {
		return nil, fmt.Errorf("%w: cell %s", store.ErrNotFound, cellID)
	}
	out := cell.Clone()
	domain.Normalize(&out)
	return &out, nil
}

func (s *Store) ListCells(_ context.Context, filter store.CellFilter) ([]domain.Cell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Cell, 0, len(s.cells))
	for _, cell := range s.cells {
		if filter.Col != "" && cell.Col != filter.Col {
			continue
		}
		if filter.Row != "" && cell.Row != filter.Row {
			continue
		}
		out := cell.Clone()
		domain.Normalize(&out)
		result = append(result, out)
	}
	slices.SortFunc(result, func(a, b domain.Cell) int {
		return cmp.Compare(a.CellID, b.CellID)
	})
	return result, nil
}

func (s *Store) NormalizeCells(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, cell := range s.cells {
		domain.Normalize(&cell)
		s.cells[id] = cell
	}
	return len(s.cells), nil
}

func (s *Store) Update(ctx context.Context, scope store.Scope, fn func(tx store.Tx) error) error {
	unlock := s.locks.lockAll(scope.LockKeys())
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &unit{store: s, scope: scope, cells: make(map[string]*domain.Cell, len(scope.CellIDs))}
	defer tx.releaseReservations()

	s.mu.RLock()
	for _, id := range scope.SortedCellIDs() {
		cell, ok := s.cells[id]
		if !ok {
			continue
		}
		staged := cell.Clone()
		domain.Normalize(&staged)
		tx.cells[id] = &staged
	}
	if scope.BillNumber != "" {
		if bill, ok := s.bills[scope.BillNumber]; ok {
			staged := cloneBill(bill)
			tx.bill = &staged
		}
	}
	s.mu.RUnlock()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cell := range tx.touched() {
		s.cells[id] = cell.Clone()
	}
	if tx.bill != nil && tx.billChanged {
		s.bills[tx.bill.BillNumber] = cloneBill(*tx.bill)
	}
	for _, bill := range tx.exports {
		s.bills[bill.BillNumber] = cloneBill(bill)
	}
	for day, delta := range tx.daily {
		current := s.daily[day]
		current.Date = day
		current.InCount += delta.InCount
		current.OutCount += delta.OutCount
		s.daily[day] = current
	}
	return nil
}

type unit struct {
	store       *Store
	scope       store.Scope
	cells       map[string]*domain.Cell
	accessed    map[string]struct{}
	bill        *domain.Bill
	billChanged bool
	exports     []domain.Bill
	daily       map[string]domain.DailyCount
}

func (u *unit) Cell(cellID string) (*domain.Cell, error) {
	if !slices.Contains(u.scope.CellIDs, cellID) {
		return nil, fmt.Errorf("%w: cell %s", store.ErrOutOfScope, cellID)
	}
	cell, ok := u.cells[cellID]
	if !ok {
		return nil, fmt.Errorf("%w: cell %s", store.ErrNotFound, cellID)
	}
	if u.accessed == nil {
		u.accessed = make(map[string]struct{})
	}
	u.accessed[cellID] = struct{}{}
	return cell, nil
}

func (u *unit) touched() map[string]*domain.Cell {
	out := make(map[string]*domain.Cell, len(u.accessed))
	for id := range u.accessed {
		out[id] = u.cells[id]
	}
	return out
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
	s := u.store
	s.mu.Lock()
	number, err := store.AllocateBillNumber(func(candidate string) (bool, error) {
		if _, taken := s.bills[candidate]; taken {
			return false, nil
		}
		if _, taken := s.reserved[candidate]; taken {
			return false, nil
		}
		s.reserved[candidate] = struct{}{}
		return true, nil
	})
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	bill.BillNumber = number
	bill.Kind = domain.BillKindExport
	bill.Type = domain.BillOut
	bill.RecomputeTotal()
	now := time.Now().UTC()
	if bill.CreatedAt.IsZero() {
		bill.CreatedAt = now
	}
	bill.UpdatedAt = now
	u.exports = append(u.exports, cloneBill(bill))

	created := cloneBill(bill)
	return &created, nil
}

func (u *unit) AddDailyCounts(day string, in int, out int) error {
	if u.daily == nil {
		u.daily = make(map[string]domain.DailyCount)
	}
	current := u.daily[day]
	current.InCount += in
	current.OutCount += out
	u.daily[day] = current
	return nil
}

func (u *unit) releaseReservations() {
	if len(u.exports) == 0 {
		return
	}
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	for _, bill := range u.exports {
		delete(u.store.reserved, bill.BillNumber)
	}
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.products[product.ProductID]; exists {
		return nil, fmt.Errorf("%w: product %s", store.ErrDuplicateID, product.ProductID)
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	s.products[product.ProductID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[productID]
	if !ok {
		return nil, fmt.Errorf("%w: product %s", store.ErrNotFound, productID)
	}
	return &product, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		result = append(result, p)
	}
	slices.SortFunc(result, func(a, b domain.Product) int {
		return cmp.Compare(a.ProductID, b.ProductID)
	})
	return result, nil
}

func (s *Store) CreateImportBill(_ context.Context, bill domain.Bill) (*domain.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	number, err := store.AllocateBillNumber(func(candidate string) (bool, error) {
		_, taken := s.bills[candidate]
		_, reserved := s.reserved[candidate]
		return !taken && !reserved, nil
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	bill.BillNumber = number
	bill.Kind = domain.BillKindImport
	bill.Type = domain.BillPending
	bill.RecomputeTotal()
	bill.CreatedAt = now
	bill.UpdatedAt = now
	s.bills[number] = cloneBill(bill)

	created := cloneBill(bill)
	return &created, nil
}

func (s *Store) GetBill(_ context.Context, billNumber string) (*domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bill, ok := s.bills[billNumber]
	if !ok {
		return nil, fmt.Errorf("%w: bill %s", store.ErrNotFound, billNumber)
	}
	out := cloneBill(bill)
	return &out, nil
}

func (s *Store) ListBills(_ context.Context, filter store.BillFilter) ([]domain.Bill, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Bill, 0, len(s.bills))
	for _, bill := range s.bills {
		if filter.Kind != "" && bill.Kind != filter.Kind {
			continue
		}
		if filter.Type != "" && bill.Type != filter.Type {
			continue
		}
		result = append(result, cloneBill(bill))
	}
	slices.SortFunc(result, func(a, b domain.Bill) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.BillNumber, a.BillNumber)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) GetDailyCount(_ context.Context, day string) (domain.DailyCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := s.daily[day]
	count.Date = day
	return count, nil
}

func (s *Store) CreateDocumentRecord(_ context.Context, record domain.DocumentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.documents = append(s.documents, record)
	return nil
}

func (s *Store) ListDocumentRecords(_ context.Context, kind domain.BillKind, limit int) ([]domain.DocumentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.DocumentRecord, 0, len(s.documents))
	for i := len(s.documents) - 1; i >= 0; i-- {
		record := s.documents[i]
		if kind != "" && record.Kind != kind {
			continue
		}
		result = append(result, record)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return fmt.Errorf("%w: user %s", store.ErrDuplicateID, user.Username)
	}
	s.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		result = append(result, user)
	}
	slices.SortFunc(result, func(a, b domain.UserAccount) int {
		return cmp.Compare(a.Username, b.Username)
	})
	return result, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return fmt.Errorf("%w: user %s", store.ErrNotFound, username)
	}
	user.Password = password
	s.users[username] = user
	return nil
}

func cloneBill(src domain.Bill) domain.Bill {
	out := src
	out.Items = make([]domain.BillItem, len(src.Items))
	copy(out.Items, src.Items)
	return out
}
