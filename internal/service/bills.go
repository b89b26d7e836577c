package service

import (
	"context"
	"strings"

	"cellstock/backend/internal/domain"
	"cellstock/backend/internal/store"
)

// CreatePendingImportBill snapshots each item's product from the catalog and
// stores a pending import bill stamped with today's arrival date.
func (s *Service) CreatePendingImportBill(ctx context.Context, req domain.ImportBillRequest) (domain.ImportBillResult, error) {
	actor, err := requireOperator(ctx)
	if err != nil {
		return domain.ImportBillResult{}, err
	}
	if len(req.Items) == 0 {
		return domain.ImportBillResult{}, domain.Validationf("at least one item is required")
	}

	now := s.now()
	items := make([]domain.BillItem, 0, len(req.Items))
	for i, item := range req.Items {
		if item.Quantity < 1 {
			return domain.ImportBillResult{}, &domain.ItemError{Index: i, ProductID: item.ProductID, Err: domain.Validationf("quantity must be positive")}
		}
		endDate, err := domain.ParseDate(item.EndDate)
		if err != nil {
			return domain.ImportBillResult{}, &domain.ItemError{Index: i, ProductID: item.ProductID, Err: err}
		}
		product, err := s.FindProduct(ctx, item.ProductID)
		if err != nil {
			return domain.ImportBillResult{}, &domain.ItemError{Index: i, ProductID: item.ProductID, Err: err}
		}
		items = append(items, domain.BillItem{
			ProductID: product.ProductID,
			Type:      product.Type,
			Name:      product.Name,
			Image:     product.Image,
			Quantity:  item.Quantity,
			EndDate:   endDate,
			InDate:    now,
		})
	}

	bill, err := s.repo.CreateImportBill(ctx, domain.Bill{Items: domain.MergeBillItems(items), CreatedBy: actor.Username})
	if err != nil {
		return domain.ImportBillResult{}, storageErr(err)
	}
	s.audit(ctx, "bill_create", "bill", bill.BillNumber)
	return domain.ImportBillResult{Bill: *bill, UniqueProducts: bill.UniqueProductCount()}, nil
}

func (s *Service) GetBill(ctx context.Context, billNumber string) (domain.Bill, error) {
	billNumber = strings.TrimSpace(billNumber)
	if billNumber == "" {
		return domain.Bill{}, domain.Validationf("bill number is required")
	}
	bill, err := s.repo.GetBill(ctx, billNumber)
	if err != nil {
		return domain.Bill{}, storageErr(err)
	}
	return *bill, nil
}

func (s *Service) ListBills(ctx context.Context, kind string, billType string, limit int) ([]domain.Bill, error) {
	filter := store.BillFilter{Kind: domain.BillKind(strings.TrimSpace(kind)), Type: domain.BillType(strings.TrimSpace(billType)), Limit: limit}
	switch filter.Kind {
	case "", domain.BillKindImport, domain.BillKindExport:
	default:
		return nil, domain.Validationf("kind must be import or export")
	}
	switch filter.Type {
	case "", domain.BillPending, domain.BillIn, domain.BillOut:
	default:
		return nil, domain.Validationf("type must be pending, in or out")
	}
	if filter.Limit < 1 || filter.Limit > 200 {
		filter.Limit = 50
	}
	bills, err := s.repo.ListBills(ctx, filter)
	if err != nil {
		return nil, storageErr(err)
	}
	return bills, nil
}
