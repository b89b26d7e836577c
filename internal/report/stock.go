package report

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"cellstock/backend/internal/domain"
)

const stockSheet = "Stock"

var stockHeadings = []any{"Address", "Label", "Status", "Product ID", "Name", "Type", "Quantity", "End Date", "In Date"}

// StockRow is one product line at one addressable unit. Units without stock
// produce a single row with an empty product.
type StockRow struct {
	Address   string
	Label     string
	Status    string
	ProductID string
	Name      string
	Type      string
	Quantity  int
	EndDate   string
	InDate    string
}

func StockRows(cells []domain.Cell) []StockRow {
	rows := make([]StockRow, 0, len(cells))
	for _, cell := range cells {
		if cell.IsDual() {
			rows = appendUnit(rows, domain.Sub(cell.CellID, domain.SideA).String(), cell.SubCellA.Label, cell.SubCellA.Status, cell.SubCellA.Products)
			rows = appendUnit(rows, domain.Sub(cell.CellID, domain.SideB).String(), cell.SubCellB.Label, cell.SubCellB.Status, cell.SubCellB.Products)
			continue
		}
		rows = appendUnit(rows, cell.CellID, "", cell.Status, cell.Products)
	}
	return rows
}

func appendUnit(rows []StockRow, address string, label string, status domain.CellStatus, lines []domain.ProductLine) []StockRow {
	if len(lines) == 0 {
		return append(rows, StockRow{Address: address, Label: label, Status: status.String()})
	}
	for _, line := range lines {
		rows = append(rows, StockRow{
			Address:   address,
			Label:     label,
			Status:    status.String(),
			ProductID: line.ProductID,
			Name:      line.Name,
			Type:      line.Type,
			Quantity:  line.Quantity,
			EndDate:   dateCell(line.EndDate),
			InDate:    dateCell(line.InDate),
		})
	}
	return rows
}

func dateCell(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(domain.DateLayout)
}

// WriteStockWorkbook renders the stock rows of cells as an xlsx workbook.
func WriteStockWorkbook(w io.Writer, cells []domain.Cell) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", stockSheet); err != nil {
		return err
	}
	if err := f.SetSheetRow(stockSheet, "A1", &stockHeadings); err != nil {
		return err
	}
	for i, row := range StockRows(cells) {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		values := []any{row.Address, row.Label, row.Status, row.ProductID, row.Name, row.Type, row.Quantity, row.EndDate, row.InDate}
		if err := f.SetSheetRow(stockSheet, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}
	if err := f.SetColWidth(stockSheet, "A", "I", 16); err != nil {
		return err
	}

	_, err := f.WriteTo(w)
	return err
}
