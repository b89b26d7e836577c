package documents

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/go-pdf/fpdf/contrib/barcode"

	"cellstock/backend/internal/domain"
)

// the barcode registry in fpdf/contrib is a package-level map
var barcodeMu sync.Mutex

type itemRow struct {
	ProductID string
	Name      string
	Quantity  int
	EndDate   string
	InDate    string
	CellID    string
}

// Render lays out an A4 document for the bill with a Code128 barcode of the
// bill number. Export items are grouped by product.
func Render(job domain.DocumentJob) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.SetTitle(fmt.Sprintf("Bill %s", job.BillNumber), false)
	pdf.AddPage()

	pageW, _ := pdf.GetPageSize()
	contentW := pageW - 30

	title := "Import Bill"
	if job.Kind == domain.BillKindExport {
		title = "Export Bill"
	}
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(contentW, 9, title, "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(contentW, 6, "Bill No. "+job.BillNumber, "", 1, "C", false, 0, "")
	pdf.CellFormat(contentW, 6, job.CreatedAt.Format("02/01/2006 15:04"), "", 1, "C", false, 0, "")
	if job.Requester != "" {
		pdf.CellFormat(contentW, 6, "Issued by "+job.Requester, "", 1, "C", false, 0, "")
	}
	pdf.Ln(2)

	barcodeMu.Lock()
	key := barcode.RegisterCode128(pdf, job.BillNumber)
	barcode.Barcode(pdf, key, (pageW-80)/2, pdf.GetY(), 80, 18, false)
	barcodeMu.Unlock()
	pdf.SetY(pdf.GetY() + 22)

	rows := itemRows(job)
	widths := []float64{contentW * 0.16, contentW * 0.32, contentW * 0.1, contentW * 0.14, contentW * 0.14, contentW * 0.14}
	headers := []string{"Product", "Name", "Qty", "End Date", "In Date", "Cell"}

	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(230, 230, 230)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	total := 0
	for _, row := range rows {
		pdf.CellFormat(widths[0], 6, row.ProductID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 6, truncate(row.Name, 34), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[2], 6, fmt.Sprintf("%d", row.Quantity), "1", 0, "R", false, 0, "")
		pdf.CellFormat(widths[3], 6, row.EndDate, "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[4], 6, row.InDate, "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[5], 6, row.CellID, "1", 1, "C", false, 0, "")
		total += row.Quantity
	}

	pdf.SetFont("Helvetica", "B", 10)
	pdf.CellFormat(widths[0]+widths[1], 7, "Total", "1", 0, "R", false, 0, "")
	pdf.CellFormat(widths[2], 7, fmt.Sprintf("%d", total), "1", 1, "R", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("pdf: render bill %s: %w", job.BillNumber, err)
	}
	return buf.Bytes(), nil
}

func itemRows(job domain.DocumentJob) []itemRow {
	rows := make([]itemRow, 0, len(job.Items))
	index := make(map[string]int, len(job.Items))
	for _, item := range job.Items {
		row := itemRow{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			EndDate:   dateText(item.EndDate),
			InDate:    dateText(item.InDate),
			CellID:    item.CellID,
		}
		if job.Kind != domain.BillKindExport {
			rows = append(rows, row)
			continue
		}
		if i, ok := index[item.ProductID]; ok {
			rows[i].Quantity += item.Quantity
			if rows[i].CellID != item.CellID {
				rows[i].CellID = "multiple"
			}
			continue
		}
		index[item.ProductID] = len(rows)
		rows = append(rows, row)
	}
	return rows
}

func dateText(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(domain.DateLayout)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-1]) + "..."
}
