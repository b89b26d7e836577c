package service

import (
	"context"
	"io"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"cellstock/backend/internal/domain"
	"cellstock/backend/internal/report"
	"cellstock/backend/internal/store"
)

const latestItemsLimit = 5

// LatestItems lists item rows from the most recent received imports and
// completed exports, newest first.
func (s *Service) LatestItems(ctx context.Context, status string) ([]domain.LatestItem, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status != "" && status != string(domain.BillIn) && status != string(domain.BillOut) {
		return nil, domain.Validationf("status must be in or out")
	}

	var imports, exports []domain.Bill
	g, gctx := errgroup.WithContext(ctx)
	if status != string(domain.BillOut) {
		g.Go(func() error {
			var err error
			imports, err = s.repo.ListBills(gctx, store.BillFilter{Kind: domain.BillKindImport, Type: domain.BillIn, Limit: latestItemsLimit})
			return err
		})
	}
	if status != string(domain.BillIn) {
		g.Go(func() error {
			var err error
			exports, err = s.repo.ListBills(gctx, store.BillFilter{Kind: domain.BillKindExport, Type: domain.BillOut, Limit: latestItemsLimit})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, storageErr(err)
	}

	rows := make([]domain.LatestItem, 0, latestItemsLimit*2)
	for _, bill := range append(imports, exports...) {
		for _, item := range bill.Items {
			name := item.Name
			if name == "" {
				name = "Unknown"
			}
			rows = append(rows, domain.LatestItem{
				TrackingNo:  item.ProductID,
				ProductName: name,
				Status:      bill.Type,
				Amount:      item.Quantity,
				BillNumber:  bill.BillNumber,
				CreatedAt:   bill.CreatedAt,
			})
		}
	}
	slices.SortStableFunc(rows, func(a, b domain.LatestItem) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(rows) > latestItemsLimit {
		rows = rows[:latestItemsLimit]
	}
	return rows, nil
}

// DailyItems returns the in/out counters for a calendar day, today when
// date is empty.
func (s *Service) DailyItems(ctx context.Context, date string) (domain.DailyCount, error) {
	day := s.today()
	if strings.TrimSpace(date) != "" {
		parsed, err := domain.ParseDate(date)
		if err != nil {
			return domain.DailyCount{}, err
		}
		day = parsed.Format(domain.DateLayout)
	}
	count, err := s.repo.GetDailyCount(ctx, day)
	if err != nil {
		return domain.DailyCount{}, storageErr(err)
	}
	return count, nil
}

func (s *Service) ListDocuments(ctx context.Context, kind string, limit int) ([]domain.DocumentRecord, error) {
	billKind := domain.BillKind(strings.ToLower(strings.TrimSpace(kind)))
	if billKind != "" && billKind != domain.BillKindImport && billKind != domain.BillKindExport {
		return nil, domain.Validationf("kind must be import or export")
	}
	if limit < 1 || limit > 200 {
		limit = 50
	}
	records, err := s.repo.ListDocumentRecords(ctx, billKind, limit)
	if err != nil {
		return nil, storageErr(err)
	}
	return records, nil
}

// StockReport writes the current stock of every cell as an xlsx workbook.
func (s *Service) StockReport(ctx context.Context, w io.Writer) error {
	cells, err := s.repo.ListCells(ctx, store.CellFilter{})
	if err != nil {
		return storageErr(err)
	}
	return report.WriteStockWorkbook(w, cells)
}
