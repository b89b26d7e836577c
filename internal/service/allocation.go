package service

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"cellstock/backend/internal/domain"
	"cellstock/backend/internal/store"
)

type resolvedAssignment struct {
	productID string
	addr      domain.CellAddress
}

// AssignFromBill places every item of a pending import bill and
// marks the bill as received. All targets are checked before any stock is
// placed; a single failure leaves the cells and the bill untouched.
func (s *Service) AssignFromBill(ctx context.Context, req domain.AssignRequest) (domain.AssignResult, error) {
	if _, err := requireOperator(ctx); err != nil {
		return domain.AssignResult{}, err
	}
	billNumber := strings.TrimSpace(req.BillNumber)
	if billNumber == "" {
		return domain.AssignResult{}, domain.Validationf("bill number is required")
	}
	if len(req.Assignments) == 0 {
		return domain.AssignResult{}, domain.Validationf("at least one assignment is required")
	}

	resolved := make([]resolvedAssignment, 0, len(req.Assignments))
	seen := make(map[string]struct{}, len(req.Assignments))
	cellIDs := make([]string, 0, len(req.Assignments))
	for i, a := range req.Assignments {
		productID := strings.TrimSpace(a.ProductID)
		if productID == "" {
			return domain.AssignResult{}, &domain.ItemError{Index: i, CellID: a.CellID, Err: domain.Validationf("product id is required")}
		}
		if _, dup := seen[productID]; dup {
			return domain.AssignResult{}, &domain.ItemError{Index: i, CellID: a.CellID, ProductID: productID, Err: domain.Validationf("product %s is assigned more than once", productID)}
		}
		seen[productID] = struct{}{}

		addr, err := resolveAssignmentTarget(a.CellID, a.SubCell)
		if err != nil {
			return domain.AssignResult{}, &domain.ItemError{Index: i, CellID: a.CellID, ProductID: productID, Err: err}
		}
		resolved = append(resolved, resolvedAssignment{productID: productID, addr: addr})
		cellIDs = append(cellIDs, addr.CellID)
	}

	var result domain.AssignResult
	err := s.repo.Update(ctx, store.Scope{CellIDs: cellIDs, BillNumber: billNumber}, func(tx store.Tx) error {
		bill, err := tx.Bill()
		if err != nil {
			return err
		}
		if bill.Kind != domain.BillKindImport || bill.Type != domain.BillPending {
			return fmt.Errorf("%w: bill %s is %s %s, expected pending import", domain.ErrInvalidTransition, bill.BillNumber, bill.Kind, bill.Type)
		}

		billItems := domain.MergeBillItems(bill.Items)
		items := make([]domain.BillItem, len(resolved))
		cells := make([]*domain.Cell, len(resolved))
		for i, a := range resolved {
			idx := slices.IndexFunc(billItems, func(item domain.BillItem) bool { return item.ProductID == a.productID })
			if idx < 0 {
				return &domain.ItemError{Index: i, CellID: a.addr.String(), ProductID: a.productID,
					Err: fmt.Errorf("%w: product %s is not on bill %s", domain.ErrNotFound, a.productID, bill.BillNumber)}
			}
			if billItems[idx].Quantity < 1 {
				return &domain.ItemError{Index: i, CellID: a.addr.String(), ProductID: a.productID,
					Err: domain.Validationf("bill quantity for %s must be positive", a.productID)}
			}
			cell, err := tx.Cell(a.addr.CellID)
			if err != nil {
				return &domain.ItemError{Index: i, CellID: a.addr.String(), ProductID: a.productID, Err: err}
			}
			if err := cell.CanPlace(a.addr); err != nil {
				return &domain.ItemError{Index: i, CellID: a.addr.String(), ProductID: a.productID, Err: err}
			}
			items[i] = billItems[idx]
			cells[i] = cell
		}
		// A bill is only received once every line has a cell.
		for idx, item := range billItems {
			if _, ok := seen[item.ProductID]; !ok {
				return &domain.ItemError{Index: idx, ProductID: item.ProductID,
					Err: domain.Validationf("bill item %s has no assignment", item.ProductID)}
			}
		}

		now := s.now()
		placed := 0
		for i, a := range resolved {
			if err := cells[i].Place(a.addr, items[i].Line(), now); err != nil {
				return &domain.ItemError{Index: i, CellID: a.addr.String(), ProductID: a.productID, Err: err}
			}
			placed += items[i].Quantity
		}

		if err := tx.SetBillType(domain.BillIn); err != nil {
			return err
		}
		if err := tx.AddDailyCounts(s.today(), placed, 0); err != nil {
			return err
		}
		result = domain.AssignResult{Bill: *bill, Placed: placed}
		return nil
	})
	if err != nil {
		return domain.AssignResult{}, storageErr(err)
	}

	s.audit(ctx, "bill_assign", "bill", billNumber)
	s.dispatchDocument(ctx, result.Bill)
	return result, nil
}

// resolveAssignmentTarget combines a cell id, which may already carry a
// sub-cell suffix, with an optional sub-cell selector.
func resolveAssignmentTarget(cellID string, subCell string) (domain.CellAddress, error) {
	addr, err := domain.ParseAddress(cellID)
	if err != nil {
		return domain.CellAddress{}, err
	}
	side, err := domain.ParseSide(subCell)
	if err != nil {
		return domain.CellAddress{}, err
	}
	if side == domain.SideNone {
		return addr, nil
	}
	if addr.IsSub() && addr.Side != side {
		return domain.CellAddress{}, fmt.Errorf("%w: %s conflicts with selector %q", domain.ErrInvalidSubCell, addr, subCell)
	}
	return domain.Sub(addr.CellID, side), nil
}

type resolvedMove struct {
	source    domain.CellAddress
	target    domain.CellAddress
	productID string
	quantity  int
}

// MoveProducts applies moves in order; later moves see the effect of earlier
// ones. Any failure rolls back the whole batch and reports its index.
func (s *Service) MoveProducts(ctx context.Context, req domain.MoveProductsRequest) (domain.MoveResult, error) {
	if _, err := requireOperator(ctx); err != nil {
		return domain.MoveResult{}, err
	}
	if len(req.Moves) == 0 {
		return domain.MoveResult{}, domain.Validationf("at least one move is required")
	}

	moves := make([]resolvedMove, 0, len(req.Moves))
	cellIDs := make([]string, 0, len(req.Moves)*2)
	for i, m := range req.Moves {
		productID := strings.TrimSpace(m.ProductID)
		source, err := domain.ParseAddress(m.Source)
		if err != nil {
			return domain.MoveResult{}, &domain.ItemError{Index: i, CellID: m.Source, ProductID: productID, Err: err}
		}
		target, err := domain.ParseAddress(m.Target)
		if err != nil {
			return domain.MoveResult{}, &domain.ItemError{Index: i, CellID: m.Target, ProductID: productID, Err: err}
		}
		if productID == "" {
			return domain.MoveResult{}, &domain.ItemError{Index: i, CellID: source.String(), Err: domain.Validationf("product id is required")}
		}
		if m.Quantity < 1 {
			return domain.MoveResult{}, &domain.ItemError{Index: i, CellID: source.String(), ProductID: productID, Err: domain.Validationf("quantity must be positive")}
		}
		moves = append(moves, resolvedMove{source: source, target: target, productID: productID, quantity: m.Quantity})
		cellIDs = append(cellIDs, source.CellID, target.CellID)
	}

	var result domain.MoveResult
	err := s.repo.Update(ctx, store.Scope{CellIDs: cellIDs}, func(tx store.Tx) error {
		touched := make(map[string]*domain.Cell, len(cellIDs))
		now := s.now()
		for i, m := range moves {
			source, err := tx.Cell(m.source.CellID)
			if err != nil {
				return &domain.ItemError{Index: i, CellID: m.source.String(), ProductID: m.productID, Err: err}
			}
			target, err := tx.Cell(m.target.CellID)
			if err != nil {
				return &domain.ItemError{Index: i, CellID: m.target.String(), ProductID: m.productID, Err: err}
			}
			if err := target.CanPlace(m.target); err != nil {
				return &domain.ItemError{Index: i, CellID: m.target.String(), ProductID: m.productID, Err: err}
			}
			line, err := source.Withdraw(m.source, m.productID, m.quantity, now)
			if err != nil {
				return &domain.ItemError{Index: i, CellID: m.source.String(), ProductID: m.productID, Err: err}
			}
			if err := target.Place(m.target, line, now); err != nil {
				return &domain.ItemError{Index: i, CellID: m.target.String(), ProductID: m.productID, Err: err}
			}
			touched[source.CellID] = source
			touched[target.CellID] = target
		}

		result.Cells = make([]domain.Cell, 0, len(touched))
		for _, cell := range touched {
			result.Cells = append(result.Cells, cell.Clone())
		}
		slices.SortFunc(result.Cells, func(a, b domain.Cell) int { return cmp.Compare(a.CellID, b.CellID) })
		return nil
	})
	if err != nil {
		return domain.MoveResult{}, storageErr(err)
	}

	for _, m := range moves {
		s.audit(ctx, "product_move", "cell", m.source.String()+"->"+m.target.String())
	}
	return result, nil
}

type resolvedWithdrawal struct {
	addr      domain.CellAddress
	productID string
	quantity  int
}

// Withdraw takes stock out of the listed addresses and records it on a new
// export bill. Either every item is covered or nothing changes.
func (s *Service) Withdraw(ctx context.Context, req domain.WithdrawRequest) (domain.WithdrawResult, error) {
	actor, err := requireOperator(ctx)
	if err != nil {
		return domain.WithdrawResult{}, err
	}
	if len(req.Items) == 0 {
		return domain.WithdrawResult{}, domain.Validationf("at least one item is required")
	}

	withdrawals := make([]resolvedWithdrawal, 0, len(req.Items))
	cellIDs := make([]string, 0, len(req.Items))
	for i, item := range req.Items {
		productID := strings.TrimSpace(item.ProductID)
		addr, err := domain.ParseAddress(item.CellID)
		if err != nil {
			return domain.WithdrawResult{}, &domain.ItemError{Index: i, CellID: item.CellID, ProductID: productID, Err: err}
		}
		if productID == "" {
			return domain.WithdrawResult{}, &domain.ItemError{Index: i, CellID: addr.String(), Err: domain.Validationf("product id is required")}
		}
		if item.Quantity < 1 {
			return domain.WithdrawResult{}, &domain.ItemError{Index: i, CellID: addr.String(), ProductID: productID, Err: domain.Validationf("quantity must be positive")}
		}
		withdrawals = append(withdrawals, resolvedWithdrawal{addr: addr, productID: productID, quantity: item.Quantity})
		cellIDs = append(cellIDs, addr.CellID)
	}

	var result domain.WithdrawResult
	err = s.repo.Update(ctx, store.Scope{CellIDs: cellIDs}, func(tx store.Tx) error {
		now := s.now()
		items := make([]domain.BillItem, 0, len(withdrawals))
		total := 0
		for i, w := range withdrawals {
			cell, err := tx.Cell(w.addr.CellID)
			if err != nil {
				return &domain.ItemError{Index: i, CellID: w.addr.String(), ProductID: w.productID, Err: err}
			}
			if w.addr.IsSub() && !cell.IsDual() {
				return &domain.ItemError{Index: i, CellID: w.addr.String(), ProductID: w.productID,
					Err: fmt.Errorf("%w: %s is not divided", domain.ErrNotFound, cell.CellID)}
			}
			line, err := cell.Withdraw(w.addr, w.productID, w.quantity, now)
			if err != nil {
				if errors.Is(err, domain.ErrInsufficientQuantity) || errors.Is(err, domain.ErrNotFound) {
					err = fmt.Errorf("%w: %w", domain.ErrInsufficientStock, err)
				}
				return &domain.ItemError{Index: i, CellID: w.addr.String(), ProductID: w.productID, Err: err}
			}

			withdrawnAt := now
			items = append(items, domain.BillItem{
				ProductID:    line.ProductID,
				Type:         line.Type,
				Name:         line.Name,
				Image:        line.Image,
				Quantity:     line.Quantity,
				EndDate:      line.EndDate,
				InDate:       line.InDate,
				CellID:       w.addr.String(),
				WithdrawDate: &withdrawnAt,
			})
			total += line.Quantity
		}

		bill, err := tx.CreateExportBill(domain.Bill{Items: items, CreatedBy: actor.Username, CreatedAt: now})
		if err != nil {
			return err
		}
		if err := tx.AddDailyCounts(s.today(), 0, total); err != nil {
			return err
		}
		result = domain.WithdrawResult{Bill: *bill, Withdrawn: total}
		return nil
	})
	if err != nil {
		return domain.WithdrawResult{}, storageErr(err)
	}

	s.audit(ctx, "stock_withdraw", "bill", result.Bill.BillNumber)
	s.dispatchDocument(ctx, result.Bill)
	return result, nil
}
