package service

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"cellstock/backend/internal/domain"
	"cellstock/backend/internal/store"
)

func (s *Service) CreateCell(ctx context.Context, req domain.CreateCellRequest) (domain.Cell, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Cell{}, err
	}

	status := domain.StatusEmpty
	if req.Status != nil {
		status = domain.CellStatus(*req.Status)
	}
	cell, err := domain.NewCell(strings.TrimSpace(req.CellID), req.Col, req.Row, status, s.now())
	if err != nil {
		return domain.Cell{}, err
	}

	created, err := s.repo.CreateCell(ctx, cell)
	if err != nil {
		return domain.Cell{}, storageErr(err)
	}
	s.audit(ctx, "cell_create", "cell", created.CellID)
	return *created, nil
}

func (s *Service) GetCell(ctx context.Context, cellID string) (domain.Cell, error) {
	cell, err := s.repo.GetCell(ctx, strings.TrimSpace(cellID))
	if err != nil {
		return domain.Cell{}, storageErr(err)
	}
	return *cell, nil
}

func (s *Service) ListCells(ctx context.Context, col string, row string) ([]domain.Cell, error) {
	cells, err := s.repo.ListCells(ctx, store.CellFilter{Col: strings.TrimSpace(col), Row: strings.TrimSpace(row)})
	if err != nil {
		return nil, storageErr(err)
	}
	return cells, nil
}

func (s *Service) Summary(ctx context.Context) (domain.Summary, error) {
	cells, err := s.repo.ListCells(ctx, store.CellFilter{})
	if err != nil {
		return domain.Summary{}, storageErr(err)
	}
	return domain.Summarize(cells), nil
}

func (s *Service) DivideCell(ctx context.Context, cellID string, req domain.DivideCellRequest) (domain.Cell, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.Cell{}, err
	}
	choice, err := domain.ParseDivideChoice(req.Choice)
	if err != nil {
		return domain.Cell{}, err
	}

	cellID = strings.TrimSpace(cellID)
	var result domain.Cell
	err = s.repo.Update(ctx, store.Scope{CellIDs: []string{cellID}}, func(tx store.Tx) error {
		cell, err := tx.Cell(cellID)
		if err != nil {
			return err
		}
		if err := cell.Divide(choice, s.now()); err != nil {
			return err
		}
		result = cell.Clone()
		return nil
	})
	if err != nil {
		return domain.Cell{}, storageErr(err)
	}
	s.audit(ctx, "cell_divide", "cell", cellID)
	return result, nil
}

func (s *Service) SetStatus(ctx context.Context, req domain.SetStatusRequest) (domain.StatusResult, error) {
	if _, err := requireAdmin(ctx); err != nil {
		return domain.StatusResult{}, err
	}
	addr, err := domain.ParseAddress(req.Address)
	if err != nil {
		return domain.StatusResult{}, err
	}
	if req.Status == nil {
		return domain.StatusResult{}, domain.Validationf("status is required")
	}
	change := domain.StatusChange{
		Status:          domain.CellStatus(*req.Status),
		ConfirmDisposal: req.ConfirmDisposal,
		Collapse:        req.Collapse,
	}

	var result domain.StatusResult
	err = s.repo.Update(ctx, store.Scope{CellIDs: []string{addr.CellID}}, func(tx store.Tx) error {
		cell, err := tx.Cell(addr.CellID)
		if err != nil {
			return err
		}
		disposed, err := cell.SetStatus(addr, change, s.now())
		if err != nil {
			return err
		}
		result = domain.StatusResult{Cell: cell.Clone(), Disposed: disposed}
		return nil
	})
	if err != nil {
		return domain.StatusResult{}, storageErr(err)
	}

	s.audit(ctx, "cell_status", "cell", addr.String())
	if len(result.Disposed) > 0 {
		actor, _ := ActorFromContext(ctx)
		for _, line := range result.Disposed {
			log.Warn().
				Str("actor", actor.Username).
				Str("address", addr.String()).
				Str("product_id", line.ProductID).
				Int("quantity", line.Quantity).
				Time("end_date", line.EndDate).
				Msg("stock disposed by status reset")
		}
	}
	if result.Disposed == nil {
		result.Disposed = []domain.ProductLine{}
	}
	return result, nil
}

// PlaceProduct puts catalog stock directly into a cell, outside any bill.
func (s *Service) PlaceProduct(ctx context.Context, req domain.PlaceProductRequest) (domain.Cell, error) {
	if _, err := requireOperator(ctx); err != nil {
		return domain.Cell{}, err
	}
	addr, err := domain.ParseAddress(req.Address)
	if err != nil {
		return domain.Cell{}, err
	}
	if req.Quantity < 1 {
		return domain.Cell{}, domain.Validationf("quantity must be positive")
	}
	endDate, err := domain.ParseDate(req.EndDate)
	if err != nil {
		return domain.Cell{}, err
	}
	inDate := s.now()
	if strings.TrimSpace(req.InDate) != "" {
		if inDate, err = domain.ParseDate(req.InDate); err != nil {
			return domain.Cell{}, err
		}
	}
	product, err := s.FindProduct(ctx, req.ProductID)
	if err != nil {
		return domain.Cell{}, err
	}

	line := domain.ProductLine{
		ProductID: product.ProductID,
		Type:      product.Type,
		Name:      product.Name,
		Image:     product.Image,
		Quantity:  req.Quantity,
		EndDate:   endDate,
		InDate:    inDate,
	}

	var result domain.Cell
	err = s.repo.Update(ctx, store.Scope{CellIDs: []string{addr.CellID}}, func(tx store.Tx) error {
		cell, err := tx.Cell(addr.CellID)
		if err != nil {
			return err
		}
		if err := cell.Place(addr, line, s.now()); err != nil {
			return err
		}
		result = cell.Clone()
		return nil
	})
	if err != nil {
		return domain.Cell{}, storageErr(err)
	}
	s.audit(ctx, "product_place", "cell", addr.String())
	return result, nil
}

// WithdrawProduct removes stock from a single address without issuing an
// export bill.
func (s *Service) WithdrawProduct(ctx context.Context, req domain.WithdrawProductRequest) (domain.Cell, error) {
	if _, err := requireOperator(ctx); err != nil {
		return domain.Cell{}, err
	}
	addr, err := domain.ParseAddress(req.Address)
	if err != nil {
		return domain.Cell{}, err
	}

	var result domain.Cell
	err = s.repo.Update(ctx, store.Scope{CellIDs: []string{addr.CellID}}, func(tx store.Tx) error {
		cell, err := tx.Cell(addr.CellID)
		if err != nil {
			return err
		}
		if _, err := cell.Withdraw(addr, strings.TrimSpace(req.ProductID), req.Quantity, s.now()); err != nil {
			return err
		}
		result = cell.Clone()
		return nil
	})
	if err != nil {
		return domain.Cell{}, storageErr(err)
	}
	s.audit(ctx, "product_withdraw", "cell", addr.String())
	return result, nil
}

// MoveProduct moves one line between addresses as a single unit.
func (s *Service) MoveProduct(ctx context.Context, req domain.MoveRequest) (domain.MoveResult, error) {
	return s.MoveProducts(ctx, domain.MoveProductsRequest{Moves: []domain.MoveRequest{req}})
}

func (s *Service) NormalizeCells(ctx context.Context) (int, error) {
	count, err := s.repo.NormalizeCells(ctx)
	if err != nil {
		return 0, storageErr(err)
	}
	s.audit(ctx, "cells_normalize", "cell", "*")
	return count, nil
}
