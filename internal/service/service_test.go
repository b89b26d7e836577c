package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cellstock/backend/internal/domain"
	"cellstock/backend/internal/store"
	"cellstock/backend/internal/store/memory"
)

var testNow = time.Date(2026, time.March, 2, 9, 30, 0, 0, time.UTC)

type capturingQueue struct {
	mu   sync.Mutex
	jobs []domain.DocumentJob
	err  error
}

func (q *capturingQueue) Enqueue(_ context.Context, job domain.DocumentJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return q.err
}

type countingCache struct {
	mu      sync.Mutex
	entries map[string]domain.Product
	hits    int
}

func (c *countingCache) Get(_ context.Context, productID string) (*domain.Product, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.entries[productID]
	if ok {
		c.hits++
		return &p, true, nil
	}
	return nil, false, nil
}

func (c *countingCache) Set(_ context.Context, product *domain.Product, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[product.ProductID] = *product
	return nil
}

type fixture struct {
	svc   *Service
	repo  *memory.Store
	queue *capturingQueue
	cache *countingCache
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	repo := memory.New()
	for _, p := range memory.SeedProducts() {
		_, err := repo.CreateProduct(context.Background(), p)
		require.NoError(t, err)
	}
	queue := &capturingQueue{}
	c := &countingCache{entries: map[string]domain.Product{}}
	svc := New(repo, Options{
		Cache:     c,
		Documents: queue,
		Location:  time.UTC,
		Now:       func() time.Time { return testNow },
	})
	return fixture{svc: svc, repo: repo, queue: queue, cache: c}
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: RoleAdmin})
}

func staffCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "staff", Role: RoleStaff})
}

func intPtr(v int) *int { return &v }

func (f fixture) createCell(t *testing.T, id string, status domain.CellStatus) {
	t.Helper()
	_, err := f.svc.CreateCell(adminCtx(), domain.CreateCellRequest{CellID: id, Col: id[:1], Row: id[2:], Status: intPtr(int(status))})
	require.NoError(t, err)
}

func (f fixture) place(t *testing.T, addr string, productID string, qty int, endDate string) {
	t.Helper()
	_, err := f.svc.PlaceProduct(staffCtx(), domain.PlaceProductRequest{Address: addr, ProductID: productID, Quantity: qty, EndDate: endDate})
	require.NoError(t, err)
}

func TestCreateCellRequiresAdmin(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateCell(staffCtx(), domain.CreateCellRequest{CellID: "A-01", Col: "A", Row: "1"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.svc.CreateCell(context.Background(), domain.CreateCellRequest{CellID: "A-01", Col: "A", Row: "1"})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestCreateCellDefaultsAndDuplicates(t *testing.T) {
	f := newFixture(t)

	cell, err := f.svc.CreateCell(adminCtx(), domain.CreateCellRequest{CellID: "A-01", Col: "A", Row: "1"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusEmpty, cell.Status)
	assert.Equal(t, domain.DivisionSingle, cell.DivisionType)

	_, err = f.svc.CreateCell(adminCtx(), domain.CreateCellRequest{CellID: "A-01", Col: "A", Row: "1"})
	assert.ErrorIs(t, err, domain.ErrDuplicateID)

	_, err = f.svc.CreateCell(adminCtx(), domain.CreateCellRequest{CellID: "A-02-B", Col: "A", Row: "2"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestPlaceMergesAndKeepsEarliestExpiry(t *testing.T) {
	f := newFixture(t)
	f.createCell(t, "A-01", domain.StatusAvailable)

	f.place(t, "A-01", "P-1001", 10, "2026-09-01")
	f.place(t, "A-01", "P-1001", 5, "2026-07-01")

	cell, err := f.svc.GetCell(context.Background(), "A-01")
	require.NoError(t, err)
	require.Len(t, cell.Products, 1)
	assert.Equal(t, 15, cell.Products[0].Quantity)
	assert.Equal(t, 15, cell.Total)
	assert.Equal(t, "2026-07-01", cell.Products[0].EndDate.Format(domain.DateLayout))
	assert.Equal(t, "Drinking Water 600ml", cell.Products[0].Name)
}

func TestPlaceRejectsUnavailableTarget(t *testing.T) {
	f := newFixture(t)
	f.createCell(t, "A-01", domain.StatusOccupied)

	_, err := f.svc.PlaceProduct(staffCtx(), domain.PlaceProductRequest{Address: "A-01", ProductID: "P-1001", Quantity: 1, EndDate: "2026-09-01"})
	assert.ErrorIs(t, err, domain.ErrNotAvailable)

	_, err = f.svc.PlaceProduct(staffCtx(), domain.PlaceProductRequest{Address: "A-01", ProductID: "P-1001", Quantity: 1, EndDate: "09/01/2026"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestFindProductUsesCache(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.FindProduct(context.Background(), "P-2001")
	require.NoError(t, err)
	_, err = f.svc.FindProduct(context.Background(), "P-2001")
	require.NoError(t, err)
	assert.Equal(t, 1, f.cache.hits)

	_, err = f.svc.FindProduct(context.Background(), "P-missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// Scenario A: divide both sides, place into A, summarize.
func TestDivideThenPlaceIntoSubCell(t *testing.T) {
	f := newFixture(t)
	f.createCell(t, "A-01", domain.StatusEmpty)

	cell, err := f.svc.DivideCell(adminCtx(), "A-01", domain.DivideCellRequest{Choice: "both"})
	require.NoError(t, err)
	assert.Equal(t, "A-01R1", cell.SubCellA.Label)
	assert.Equal(t, "A-01R2", cell.SubCellB.Label)

	f.place(t, "A-01-A", "P-1001", 10, "2026-09-01")

	cell, err = f.svc.GetCell(context.Background(), "A-01")
	require.NoError(t, err)
	assert.Empty(t, cell.Products)
	assert.Equal(t, 10, cell.Total)

	summary, err := f.svc.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.ActiveBoxes)
	assert.Equal(t, 2, summary.TotalBoxes)
	assert.Zero(t, summary.EmptyBoxes)
}

func TestDivideRejections(t *testing.T) {
	f := newFixture(t)
	f.createCell(t, "A-01", domain.StatusAvailable)
	f.place(t, "A-01", "P-1001", 1, "2026-09-01")

	_, err := f.svc.DivideCell(adminCtx(), "A-01", domain.DivideCellRequest{Choice: "A"})
	assert.ErrorIs(t, err, domain.ErrNonEmpty)

	_, err = f.svc.DivideCell(adminCtx(), "A-09", domain.DivideCellRequest{Choice: "A"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.DivideCell(adminCtx(), "A-01", domain.DivideCellRequest{Choice: "C"})
	assert.ErrorIs(t, err, domain.ErrInvalidSubCell)
}

func TestSetStatusDestructiveResetNeedsConfirmation(t *testing.T) {
	f := newFixture(t)
	f.createCell(t, "A-01", domain.StatusAvailable)
	f.place(t, "A-01", "P-1001", 4, "2026-09-01")

	_, err := f.svc.SetStatus(adminCtx(), domain.SetStatusRequest{Address: "A-01", Status: intPtr(0)})
	require.ErrorIs(t, err, domain.ErrNonEmpty)

	cell, err := f.svc.GetCell(context.Background(), "A-01")
	require.NoError(t, err)
	assert.Equal(t, 4, cell.Total)

	result, err := f.svc.SetStatus(adminCtx(), domain.SetStatusRequest{Address: "A-01", Status: intPtr(0), ConfirmDisposal: true})
	require.NoError(t, err)
	require.Len(t, result.Disposed, 1)
	assert.Equal(t, 4, result.Disposed[0].Quantity)
	assert.Zero(t, result.Cell.Total)
	assert.Equal(t, domain.StatusEmpty, result.Cell.Status)
}

func TestSetStatusWrongModeAndRange(t *testing.T) {
	f := newFixture(t)
	f.createCell(t, "A-01", domain.StatusAvailable)

	_, err := f.svc.SetStatus(adminCtx(), domain.SetStatusRequest{Address: "A-01-A", Status: intPtr(1)})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = f.svc.SetStatus(adminCtx(), domain.SetStatusRequest{Address: "A-01", Status: intPtr(7)})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.SetStatus(adminCtx(), domain.SetStatusRequest{Address: "Z-01", Status: intPtr(1)})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSetStatusCollapseRevertsToSingle(t *testing.T) {
	f := newFixture(t)
	f.createCell(t, "A-01", domain.StatusEmpty)
	_, err := f.svc.DivideCell(adminCtx(), "A-01", domain.DivideCellRequest{Choice: "B"})
	require.NoError(t, err)

	result, err := f.svc.SetStatus(adminCtx(), domain.SetStatusRequest{Address: "A-01-B", Status: intPtr(1), Collapse: true})
	require.NoError(t, err)
	assert.Equal(t, domain.DivisionSingle, result.Cell.DivisionType)
	assert.Equal(t, domain.StatusAvailable, result.Cell.Status)
	assert.Empty(t, result.Cell.SubCellB.Label)
}

// Scenario B: a move that would overdraw the source changes nothing.
func TestMoveInsufficientLeavesBothCellsUnchanged(t *testing.T) {
	f := newFixture(t)
	f.createCell(t, "A-01", domain.StatusAvailable)
	f.createCell(t, "A-02", domain.StatusAvailable)
	f.place(t, "A-01", "P-1001", 3, "2026-09-01")

	_, err := f.svc.MoveProduct(staffCtx(), domain.MoveRequest{Source: "A-01", Target: "A-02", ProductID: "P-1001", Quantity: 5})
	require.ErrorIs(t, err, domain.ErrInsufficientQuantity)

	var itemErr *domain.ItemError
	require.True(t, errors.As(err, &itemErr))
	assert.Equal(t, 0, itemErr.Index)

	source, err := f.svc.GetCell(context.Background(), "A-01")
	require.NoError(t, err)
	assert.Equal(t, 3, source.Total)
	target, err := f.svc.GetCell(context.Background(), "A-02")
	require.NoError(t, err)
	assert.Zero(t, target.Total)
}

func TestMoveCarriesDatesAndRemovesEmptiedLine(t *testing.T) {
	f := newFixture(t)
	f.createCell(t, "A-01", domain.StatusAvailable)
	f.createCell(t, "A-02", domain.StatusAvailable)
	f.place(t, "A-01", "P-1001", 3, "2026-08-15")

	result, err := f.svc.MoveProduct(staffCtx(), domain.MoveRequest{Source: "A-01", Target: "A-02", ProductID: "P-1001", Quantity: 3})
	require.NoError(t, err)
	require.Len(t, result.Cells, 2)
	assert.Empty(t, result.Cells[0].Products)
	require.Len(t, result.Cells[1].Products, 1)
	assert.Equal(t, "2026-08-15", result.Cells[1].Products[0].EndDate.Format(domain.DateLayout))
	assert.Equal(t, testNow, result.Cells[1].Products[0].InDate)
}

func TestMoveBatchIsSequentialAndAtomic(t *testing.T) {
	f := newFixture(t)
	f.createCell(t, "A-01", domain.StatusAvailable)
	f.createCell(t, "A-02", domain.StatusAvailable)
	f.createCell(t, "A-03", domain.StatusDisabled)
	f.place(t, "A-01", "P-1001", 4, "2026-09-01")

	// Second move depends on the first; third targets a disabled cell.
	_, err := f.svc.MoveProducts(staffCtx(), domain.MoveProductsRequest{Moves: []domain.MoveRequest{
		{Source: "A-01", Target: "A-02", ProductID: "P-1001", Quantity: 4},
		{Source: "A-02", Target: "A-01", ProductID: "P-1001", Quantity: 2},
		{Source: "A-01", Target: "A-03", ProductID: "P-1001", Quantity: 1},
	}})
	require.ErrorIs(t, err, domain.ErrNotAvailable)
	var itemErr *domain.ItemError
	require.True(t, errors.As(err, &itemErr))
	assert.Equal(t, 2, itemErr.Index)

	first, err := f.svc.GetCell(context.Background(), "A-01")
	require.NoError(t, err)
	assert.Equal(t, 4, first.Total)

	result, err := f.svc.MoveProducts(staffCtx(), domain.MoveProductsRequest{Moves: []domain.MoveRequest{
		{Source: "A-01", Target: "A-02", ProductID: "P-1001", Quantity: 4},
		{Source: "A-02", Target: "A-01", ProductID: "P-1001", Quantity: 2},
	}})
	require.NoError(t, err)
	require.Len(t, result.Cells, 2)
	assert.Equal(t, 2, result.Cells[0].Total)
	assert.Equal(t, 2, result.Cells[1].Total)
}

func createImportBill(t *testing.T, f fixture, items ...domain.ImportItem) domain.Bill {
	t.Helper()
	result, err := f.svc.CreatePendingImportBill(staffCtx(), domain.ImportBillRequest{Items: items})
	require.NoError(t, err)
	return result.Bill
}

func TestCreatePendingImportBill(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.CreatePendingImportBill(staffCtx(), domain.ImportBillRequest{Items: []domain.ImportItem{
		{ProductID: "P-1001", Quantity: 5, EndDate: "2026-09-01"},
		{ProductID: "P-1001", Quantity: 2, EndDate: "2026-10-01"},
		{ProductID: "P-2001", Quantity: 1, EndDate: "2027-01-01"},
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, result.UniqueProducts)
	assert.Equal(t, 8, result.Bill.TotalItems)
	assert.Equal(t, domain.BillPending, result.Bill.Type)
	assert.Equal(t, "staff", result.Bill.CreatedBy)
	assert.Equal(t, testNow, result.Bill.Items[0].InDate)
	require.Len(t, result.Bill.Items, 2)
	assert.Equal(t, 7, result.Bill.Items[0].Quantity)
	assert.Equal(t, "2026-09-01", result.Bill.Items[0].EndDate.Format("2006-01-02"))

	_, err = f.svc.CreatePendingImportBill(staffCtx(), domain.ImportBillRequest{Items: []domain.ImportItem{
		{ProductID: "P-unknown", Quantity: 1, EndDate: "2026-09-01"},
	}})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// Scenario E: assigning a pending bill places stock and receives the bill.
func TestAssignFromBill(t *testing.T) {
	f := newFixture(t)
	f.createCell(t, "A-01", domain.StatusAvailable)
	f.createCell(t, "A-02", domain.StatusEmpty)
	_, err := f.svc.DivideCell(adminCtx(), "A-02", domain.DivideCellRequest{Choice: "A"})
	require.NoError(t, err)

	bill := createImportBill(t, f,
		domain.ImportItem{ProductID: "P-1001", Quantity: 6, EndDate: "2026-09-01"},
		domain.ImportItem{ProductID: "P-2001", Quantity: 2, EndDate: "2027-01-01"},
	)

	result, err := f.svc.AssignFromBill(staffCtx(), domain.AssignRequest{BillNumber: bill.BillNumber, Assignments: []domain.Assignment{
		{ProductID: "P-1001", CellID: "A-01"},
		{ProductID: "P-2001", CellID: "A-02", SubCell: "subCellsA"},
	}})
	require.NoError(t, err)
	assert.Equal(t, 8, result.Placed)
	assert.Equal(t, domain.BillIn, result.Bill.Type)

	stored, err := f.svc.GetBill(context.Background(), bill.BillNumber)
	require.NoError(t, err)
	assert.Equal(t, domain.BillIn, stored.Type)

	sub, err := f.svc.GetCell(context.Background(), "A-02")
	require.NoError(t, err)
	require.Len(t, sub.SubCellA.Products, 1)
	assert.Equal(t, 2, sub.SubCellA.Products[0].Quantity)

	daily, err := f.svc.DailyItems(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 8, daily.InCount)

	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, domain.BillKindImport, f.queue.jobs[0].Kind)
	assert.Equal(t, "staff", f.queue.jobs[0].Requester)

	_, err = f.svc.AssignFromBill(staffCtx(), domain.AssignRequest{BillNumber: bill.BillNumber, Assignments: []domain.Assignment{
		{ProductID: "P-1001", CellID: "A-01"},
	}})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

// Scenario F: one unavailable target means nothing is placed.
func TestAssignFromBillIsAtomic(t *testing.T) {
	f := newFixture(t)
	f.createCell(t, "A-01", domain.StatusAvailable)
	f.createCell(t, "A-02", domain.StatusOccupied)

	bill := createImportBill(t, f,
		domain.ImportItem{ProductID: "P-1001", Quantity: 6, EndDate: "2026-09-01"},
		domain.ImportItem{ProductID: "P-2001", Quantity: 2, EndDate: "2027-01-01"},
	)

	_, err := f.svc.AssignFromBill(staffCtx(), domain.AssignRequest{BillNumber: bill.BillNumber, Assignments: []domain.Assignment{
		{ProductID: "P-1001", CellID: "A-01"},
		{ProductID: "P-2001", CellID: "A-02"},
	}})
	require.ErrorIs(t, err, domain.ErrNotAvailable)
	var itemErr *domain.ItemError
	require.True(t, errors.As(err, &itemErr))
	assert.Equal(t, 1, itemErr.Index)

	first, err := f.svc.GetCell(context.Background(), "A-01")
	require.NoError(t, err)
	assert.Zero(t, first.Total)

	stored, err := f.svc.GetBill(context.Background(), bill.BillNumber)
	require.NoError(t, err)
	assert.Equal(t, domain.BillPending, stored.Type)
	assert.Empty(t, f.queue.jobs)
}

func TestAssignFromBillRequiresEveryBillItem(t *testing.T) {
	f := newFixture(t)
	f.createCell(t, "A-01", domain.StatusAvailable)
	bill := createImportBill(t, f,
		domain.ImportItem{ProductID: "P-1001", Quantity: 6, EndDate: "2026-09-01"},
		domain.ImportItem{ProductID: "P-2001", Quantity: 2, EndDate: "2027-01-01"},
	)

	_, err := f.svc.AssignFromBill(staffCtx(), domain.AssignRequest{BillNumber: bill.BillNumber, Assignments: []domain.Assignment{
		{ProductID: "P-1001", CellID: "A-01"},
	}})
	require.ErrorIs(t, err, domain.ErrValidation)
	var itemErr *domain.ItemError
	require.True(t, errors.As(err, &itemErr))
	assert.Equal(t, "P-2001", itemErr.ProductID)

	cell, err := f.svc.GetCell(context.Background(), "A-01")
	require.NoError(t, err)
	assert.Zero(t, cell.Total)

	stored, err := f.svc.GetBill(context.Background(), bill.BillNumber)
	require.NoError(t, err)
	assert.Equal(t, domain.BillPending, stored.Type)
	assert.Empty(t, f.queue.jobs)

	f.createCell(t, "A-02", domain.StatusAvailable)
	result, err := f.svc.AssignFromBill(staffCtx(), domain.AssignRequest{BillNumber: bill.BillNumber, Assignments: []domain.Assignment{
		{ProductID: "P-1001", CellID: "A-01"},
		{ProductID: "P-2001", CellID: "A-02"},
	}})
	require.NoError(t, err)
	assert.Equal(t, 8, result.Placed)
}

func TestAssignFromBillPlacesFullQuantityOfRepeatedProduct(t *testing.T) {
	f := newFixture(t)
	f.createCell(t, "A-01", domain.StatusAvailable)
	bill := createImportBill(t, f,
		domain.ImportItem{ProductID: "P-1001", Quantity: 5, EndDate: "2026-10-01"},
		domain.ImportItem{ProductID: "P-1001", Quantity: 3, EndDate: "2026-09-01"},
	)

	result, err := f.svc.AssignFromBill(staffCtx(), domain.AssignRequest{BillNumber: bill.BillNumber, Assignments: []domain.Assignment{
		{ProductID: "P-1001", CellID: "A-01"},
	}})
	require.NoError(t, err)
	assert.Equal(t, 8, result.Placed)

	cell, err := f.svc.GetCell(context.Background(), "A-01")
	require.NoError(t, err)
	require.Len(t, cell.Products, 1)
	assert.Equal(t, 8, cell.Products[0].Quantity)
	assert.Equal(t, "2026-09-01", cell.Products[0].EndDate.Format("2006-01-02"))

	daily, err := f.svc.DailyItems(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 8, daily.InCount)
}

func TestAssignFromBillRejectsBadSelectorsAndUnknownItems(t *testing.T) {
	f := newFixture(t)
	f.createCell(t, "A-01", domain.StatusAvailable)
	bill := createImportBill(t, f, domain.ImportItem{ProductID: "P-1001", Quantity: 1, EndDate: "2026-09-01"})

	_, err := f.svc.AssignFromBill(staffCtx(), domain.AssignRequest{BillNumber: bill.BillNumber, Assignments: []domain.Assignment{
		{ProductID: "P-1001", CellID: "A-01", SubCell: "subCellsC"},
	}})
	assert.ErrorIs(t, err, domain.ErrInvalidSubCell)

	_, err = f.svc.AssignFromBill(staffCtx(), domain.AssignRequest{BillNumber: bill.BillNumber, Assignments: []domain.Assignment{
		{ProductID: "P-2001", CellID: "A-01"},
	}})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = f.svc.AssignFromBill(staffCtx(), domain.AssignRequest{BillNumber: "00000000", Assignments: []domain.Assignment{
		{ProductID: "P-1001", CellID: "A-01"},
	}})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// Scenario C and D: withdraw creates an export bill carrying stored dates;
// a shortfall anywhere aborts the batch.
func TestWithdrawCreatesExportBill(t *testing.T) {
	f := newFixture(t)
	f.createCell(t, "A-01", domain.StatusAvailable)
	f.createCell(t, "A-02", domain.StatusAvailable)
	f.place(t, "A-01", "P-1001", 5, "2026-08-01")
	f.place(t, "A-02", "P-2001", 2, "2027-01-01")

	result, err := f.svc.Withdraw(staffCtx(), domain.WithdrawRequest{Items: []domain.WithdrawItem{
		{CellID: "A-01", ProductID: "P-1001", Quantity: 5},
		{CellID: "A-02", ProductID: "P-2001", Quantity: 1},
	}})
	require.NoError(t, err)
	assert.Equal(t, 6, result.Withdrawn)
	assert.Equal(t, domain.BillOut, result.Bill.Type)
	assert.Equal(t, domain.BillKindExport, result.Bill.Kind)
	assert.Len(t, result.Bill.BillNumber, 8)
	require.Len(t, result.Bill.Items, 2)
	assert.Equal(t, "2026-08-01", result.Bill.Items[0].EndDate.Format(domain.DateLayout))
	assert.Equal(t, "A-01", result.Bill.Items[0].CellID)
	require.NotNil(t, result.Bill.Items[0].WithdrawDate)

	emptied, err := f.svc.GetCell(context.Background(), "A-01")
	require.NoError(t, err)
	assert.Empty(t, emptied.Products)
	assert.Zero(t, emptied.Total)

	daily, err := f.svc.DailyItems(context.Background(), testNow.Format(domain.DateLayout))
	require.NoError(t, err)
	assert.Equal(t, 6, daily.OutCount)

	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, domain.BillKindExport, f.queue.jobs[0].Kind)
}

func TestWithdrawShortfallAbortsBatch(t *testing.T) {
	f := newFixture(t)
	f.createCell(t, "A-01", domain.StatusAvailable)
	f.createCell(t, "A-02", domain.StatusAvailable)
	f.place(t, "A-01", "P-1001", 5, "2026-08-01")
	f.place(t, "A-02", "P-2001", 2, "2027-01-01")

	_, err := f.svc.Withdraw(staffCtx(), domain.WithdrawRequest{Items: []domain.WithdrawItem{
		{CellID: "A-01", ProductID: "P-1001", Quantity: 2},
		{CellID: "A-02", ProductID: "P-2001", Quantity: 3},
	}})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	var itemErr *domain.ItemError
	require.True(t, errors.As(err, &itemErr))
	assert.Equal(t, 1, itemErr.Index)
	assert.Equal(t, "A-02", itemErr.CellID)

	first, err := f.svc.GetCell(context.Background(), "A-01")
	require.NoError(t, err)
	assert.Equal(t, 5, first.Total)

	bills, err := f.svc.ListBills(context.Background(), "export", "", 10)
	require.NoError(t, err)
	assert.Empty(t, bills)
}

func TestDocumentQueueFailureDoesNotFailWithdraw(t *testing.T) {
	f := newFixture(t)
	f.queue.err = errors.New("queue down")
	f.createCell(t, "A-01", domain.StatusAvailable)
	f.place(t, "A-01", "P-1001", 1, "2026-08-01")

	_, err := f.svc.Withdraw(staffCtx(), domain.WithdrawRequest{Items: []domain.WithdrawItem{
		{CellID: "A-01", ProductID: "P-1001", Quantity: 1},
	}})
	assert.NoError(t, err)
}

func TestConcurrentWithdrawalsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	f.createCell(t, "A-01", domain.StatusAvailable)
	f.place(t, "A-01", "P-1001", 10, "2026-08-01")

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Withdraw(staffCtx(), domain.WithdrawRequest{Items: []domain.WithdrawItem{
				{CellID: "A-01", ProductID: "P-1001", Quantity: 1},
			}})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	cell, err := f.svc.GetCell(context.Background(), "A-01")
	require.NoError(t, err)
	assert.Zero(t, cell.Total)
}

func TestLatestItems(t *testing.T) {
	f := newFixture(t)
	f.createCell(t, "A-01", domain.StatusAvailable)
	bill := createImportBill(t, f, domain.ImportItem{ProductID: "P-1001", Quantity: 3, EndDate: "2026-09-01"})
	_, err := f.svc.AssignFromBill(staffCtx(), domain.AssignRequest{BillNumber: bill.BillNumber, Assignments: []domain.Assignment{
		{ProductID: "P-1001", CellID: "A-01"},
	}})
	require.NoError(t, err)
	_, err = f.svc.Withdraw(staffCtx(), domain.WithdrawRequest{Items: []domain.WithdrawItem{
		{CellID: "A-01", ProductID: "P-1001", Quantity: 1},
	}})
	require.NoError(t, err)

	rows, err := f.svc.LatestItems(context.Background(), "")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = f.svc.LatestItems(context.Background(), "OUT")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.BillOut, rows[0].Status)
	assert.Equal(t, "P-1001", rows[0].TrackingNo)

	_, err = f.svc.LatestItems(context.Background(), "pending")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestStorageFailuresAreWrapped(t *testing.T) {
	err := storageErr(errors.New("connection reset"))
	assert.ErrorIs(t, err, domain.ErrStorage)

	err = storageErr(store.ErrOutOfScope)
	assert.ErrorIs(t, err, domain.ErrStorage)

	known := domain.Validationf("bad")
	assert.Equal(t, known, storageErr(known))
}
