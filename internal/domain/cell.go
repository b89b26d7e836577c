package domain

import (
	"fmt"
	"strings"
	"time"
)

// LegacyInDate is assumed for stored product lines that predate arrival
// tracking.
var LegacyInDate = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

const unknownProductField = "Unknown"

// NewCell builds an empty single cell after validating its address parts.
func NewCell(cellID string, col string, row string, status CellStatus, now time.Time) (Cell, error) {
	if !validCellID(cellID) {
		return Cell{}, Validationf("cell id %q is invalid", cellID)
	}
	if strings.TrimSpace(col) == "" || strings.TrimSpace(row) == "" {
		return Cell{}, Validationf("col and row are required")
	}
	if !status.Valid() {
		return Cell{}, Validationf("status %d is out of range", status)
	}
	cell := Cell{
		CellID:       cellID,
		Col:          strings.TrimSpace(col),
		Row:          strings.TrimSpace(row),
		DivisionType: DivisionSingle,
		Status:       status,
		Products:     []ProductLine{},
		SubCellA:     SubCell{Products: []ProductLine{}},
		SubCellB:     SubCell{Products: []ProductLine{}},
		UpdatedAt:    now,
	}
	return cell, nil
}

func (c Cell) Clone() Cell {
	out := c
	out.Products = cloneLines(c.Products)
	out.SubCellA.Products = cloneLines(c.SubCellA.Products)
	out.SubCellB.Products = cloneLines(c.SubCellB.Products)
	return out
}

func (c Cell) HasStock() bool {
	return len(c.Products) > 0 || len(c.SubCellA.Products) > 0 || len(c.SubCellB.Products) > 0
}

// LinesAt returns a copy of the product lines held at addr.
func (c Cell) LinesAt(addr CellAddress) []ProductLine {
	switch addr.Side {
	case SideA:
		return cloneLines(c.SubCellA.Products)
	case SideB:
		return cloneLines(c.SubCellB.Products)
	}
	return cloneLines(c.Products)
}

// CanPlace reports whether new stock may be placed at addr.
func (c *Cell) CanPlace(addr CellAddress) error {
	status, _, ok := c.slot(addr)
	if !ok {
		if addr.IsSub() {
			return fmt.Errorf("%w: sub-cell %s (cell is not divided)", ErrNotFound, addr)
		}
		return fmt.Errorf("%w: %s is divided, address a sub-cell", ErrNotAvailable, addr)
	}
	if *status != StatusAvailable {
		return fmt.Errorf("%w: %s is %s", ErrNotAvailable, addr, status.String())
	}
	return nil
}

// Place merges line into the stock held at addr, which must be available.
func (c *Cell) Place(addr CellAddress, line ProductLine, now time.Time) error {
	if strings.TrimSpace(line.ProductID) == "" {
		return Validationf("product id is required")
	}
	if line.Quantity < 1 {
		return Validationf("quantity must be positive")
	}
	if err := c.CanPlace(addr); err != nil {
		return err
	}
	_, products, _ := c.slot(addr)
	*products = mergeLine(*products, line)
	c.touch(now)
	return nil
}

// Withdraw removes qty of productID from addr and returns the removed
// portion with the dates it was stored under.
func (c *Cell) Withdraw(addr CellAddress, productID string, qty int, now time.Time) (ProductLine, error) {
	if qty < 1 {
		return ProductLine{}, Validationf("quantity must be positive")
	}
	_, products, ok := c.slot(addr)
	if !ok {
		return ProductLine{}, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	idx := indexOfLine(*products, productID)
	if idx < 0 {
		return ProductLine{}, fmt.Errorf("%w: product %s in %s", ErrNotFound, productID, addr)
	}
	line := (*products)[idx]
	if qty > line.Quantity {
		return ProductLine{}, fmt.Errorf("%w: %s holds %d of %s, requested %d", ErrInsufficientQuantity, addr, line.Quantity, productID, qty)
	}

	taken := line
	taken.Quantity = qty
	if line.Quantity == qty {
		*products = append((*products)[:idx], (*products)[idx+1:]...)
	} else {
		(*products)[idx].Quantity -= qty
	}
	c.touch(now)
	return taken, nil
}

// Divide splits an empty single cell into two sub-cells and opens the
// chosen side for placement.
func (c *Cell) Divide(choice DivideChoice, now time.Time) error {
	if c.IsDual() {
		return fmt.Errorf("%w: %s", ErrAlreadyDivided, c.CellID)
	}
	if c.HasStock() {
		return fmt.Errorf("%w: %s must be emptied before dividing", ErrNonEmpty, c.CellID)
	}

	c.DivisionType = DivisionDual
	c.Status = StatusEmpty
	c.Products = []ProductLine{}
	c.SubCellA = SubCell{Status: StatusEmpty, Products: []ProductLine{}, Label: SubCellLabel(c.CellID, SideA)}
	c.SubCellB = SubCell{Status: StatusEmpty, Products: []ProductLine{}, Label: SubCellLabel(c.CellID, SideB)}

	switch choice {
	case DivideA:
		c.SubCellA.Status = StatusAvailable
	case DivideB:
		c.SubCellB.Status = StatusAvailable
	case DivideBoth:
		c.SubCellA.Status = StatusAvailable
		c.SubCellB.Status = StatusAvailable
	default:
		return ErrInvalidSubCell
	}
	c.touch(now)
	return nil
}

type StatusChange struct {
	Status          CellStatus
	ConfirmDisposal bool
	// Collapse reverts a divided cell to single; only valid on a sub-cell address.
	Collapse bool
}

// SetStatus applies an operator status change at addr. Lines discarded by
// a confirmed reset are returned so the caller can record the disposal.
func (c *Cell) SetStatus(addr CellAddress, change StatusChange, now time.Time) ([]ProductLine, error) {
	if !change.Status.Valid() {
		return nil, Validationf("status %d is out of range", change.Status)
	}
	if addr.IsSub() && !c.IsDual() {
		return nil, fmt.Errorf("%w: %s is not divided", ErrInvalidTransition, c.CellID)
	}
	if !addr.IsSub() && c.IsDual() {
		return nil, fmt.Errorf("%w: %s is divided, address its sub-cells", ErrInvalidTransition, c.CellID)
	}
	if change.Collapse && !addr.IsSub() {
		return nil, fmt.Errorf("%w: collapse requires a sub-cell address", ErrInvalidTransition)
	}

	if change.Collapse {
		disposed := append(cloneLines(c.Products), c.SubCellA.Products...)
		disposed = append(disposed, c.SubCellB.Products...)
		if len(disposed) > 0 && !change.ConfirmDisposal {
			return nil, fmt.Errorf("%w: %s sub-cells hold stock, confirm disposal to collapse", ErrNonEmpty, c.CellID)
		}
		c.DivisionType = DivisionSingle
		c.Status = change.Status
		c.Products = []ProductLine{}
		c.SubCellA = SubCell{Products: []ProductLine{}}
		c.SubCellB = SubCell{Products: []ProductLine{}}
		c.touch(now)
		return disposed, nil
	}

	status, products, _ := c.slot(addr)
	var disposed []ProductLine
	if change.Status == StatusEmpty && len(*products) > 0 {
		if !change.ConfirmDisposal {
			return nil, fmt.Errorf("%w: %s holds stock, withdraw it or confirm disposal", ErrNonEmpty, addr)
		}
		disposed = cloneLines(*products)
		*products = []ProductLine{}
	}
	*status = change.Status
	c.touch(now)
	return disposed, nil
}

// Normalize fills defaults for records stored before division and status
// tracking existed, and restores the derived fields. Stock stored on the
// wrong side of the division is moved, never dropped: main-cell lines of a
// divided cell go to sub-cell A, and sub-cell lines of a single cell are
// folded into the main cell.
func Normalize(c *Cell) {
	if c.DivisionType != DivisionDual {
		c.DivisionType = DivisionSingle
	}
	if !c.Status.Valid() {
		c.Status = StatusEmpty
	}
	c.Products = MergeProductLines(normalizeLines(c.Products))

	if c.IsDual() {
		for side, sub := range map[Side]*SubCell{SideA: &c.SubCellA, SideB: &c.SubCellB} {
			if !sub.Status.Valid() {
				sub.Status = StatusEmpty
			}
			if sub.Label == "" {
				sub.Label = SubCellLabel(c.CellID, side)
			}
			sub.Products = MergeProductLines(normalizeLines(sub.Products))
		}
		for _, line := range c.Products {
			c.SubCellA.Products = mergeLine(c.SubCellA.Products, line)
		}
		c.Products = []ProductLine{}
	} else {
		for _, line := range normalizeLines(append(cloneLines(c.SubCellA.Products), c.SubCellB.Products...)) {
			if line.Quantity > 0 {
				c.Products = mergeLine(c.Products, line)
			}
		}
		c.SubCellA = SubCell{Products: []ProductLine{}}
		c.SubCellB = SubCell{Products: []ProductLine{}}
	}
	RecomputeTotal(c)
}

// MergeProductLines collapses lines sharing a product id, drops empty lines
// and keeps first-seen order.
func MergeProductLines(lines []ProductLine) []ProductLine {
	out := make([]ProductLine, 0, len(lines))
	for _, line := range lines {
		if line.Quantity <= 0 {
			continue
		}
		out = mergeLine(out, line)
	}
	return out
}

// RecomputeTotal sums every line of the cell into Total and returns it.
func RecomputeTotal(c *Cell) int {
	total := 0
	for _, lines := range [][]ProductLine{c.Products, c.SubCellA.Products, c.SubCellB.Products} {
		for _, line := range lines {
			total += line.Quantity
		}
	}
	c.Total = total
	return total
}

func (c *Cell) slot(addr CellAddress) (*CellStatus, *[]ProductLine, bool) {
	switch addr.Side {
	case SideA:
		if !c.IsDual() {
			return nil, nil, false
		}
		return &c.SubCellA.Status, &c.SubCellA.Products, true
	case SideB:
		if !c.IsDual() {
			return nil, nil, false
		}
		return &c.SubCellB.Status, &c.SubCellB.Products, true
	}
	if c.IsDual() {
		return nil, nil, false
	}
	return &c.Status, &c.Products, true
}

func (c *Cell) touch(now time.Time) {
	if c.Products == nil {
		c.Products = []ProductLine{}
	}
	RecomputeTotal(c)
	c.UpdatedAt = now
}

// mergeLine folds line into lines by product id. Merged lines keep the
// earliest end and in dates so stock is never assumed fresher than its
// oldest part.
func mergeLine(lines []ProductLine, line ProductLine) []ProductLine {
	idx := indexOfLine(lines, line.ProductID)
	if idx < 0 {
		return append(lines, line)
	}
	existing := lines[idx]
	existing.Quantity += line.Quantity
	existing.EndDate = earliest(existing.EndDate, line.EndDate)
	existing.InDate = earliest(existing.InDate, line.InDate)
	if existing.Name == "" {
		existing.Name = line.Name
	}
	if existing.Type == "" {
		existing.Type = line.Type
	}
	if existing.Image == "" {
		existing.Image = line.Image
	}
	lines[idx] = existing
	return lines
}

func normalizeLines(lines []ProductLine) []ProductLine {
	out := make([]ProductLine, 0, len(lines))
	for _, line := range lines {
		if line.Type == "" {
			line.Type = unknownProductField
		}
		if line.Name == "" {
			line.Name = unknownProductField
		}
		if line.InDate.IsZero() {
			line.InDate = LegacyInDate
		}
		out = append(out, line)
	}
	return out
}

func indexOfLine(lines []ProductLine, productID string) int {
	for i := range lines {
		if lines[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func earliest(a time.Time, b time.Time) time.Time {
	if a.IsZero() {
		return b
	}
	if b.IsZero() || a.Before(b) {
		return a
	}
	return b
}

func cloneLines(lines []ProductLine) []ProductLine {
	out := make([]ProductLine, len(lines))
	copy(out, lines)
	return out
}
