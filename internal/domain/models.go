package domain

import "time"

type CellStatus int

const (
	StatusEmpty     CellStatus = 0
	StatusAvailable CellStatus = 1
	StatusOccupied  CellStatus = 2
	StatusDisabled  CellStatus = 3
)

func (s CellStatus) Valid() bool {
	return s >= StatusEmpty && s <= StatusDisabled
}

func (s CellStatus) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusAvailable:
		return "available"
	case StatusOccupied:
		return "occupied"
	case StatusDisabled:
		return "disabled"
	}
	return "unknown"
}

type DivisionType string

const (
	DivisionSingle DivisionType = "single"
	DivisionDual   DivisionType = "dual"
)

type Product struct {
	ProductID string    `json:"product_id"`
	Type      string    `json:"type"`
	Name      string    `json:"name"`
	Image     string    `json:"image,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ProductLine is a by-value snapshot of a catalog product plus the stock held
// for it in one cell or sub-cell.
type ProductLine struct {
	ProductID string    `json:"product_id"`
	Type      string    `json:"type"`
	Name      string    `json:"name"`
	Image     string    `json:"image,omitempty"`
	Quantity  int       `json:"quantity"`
	EndDate   time.Time `json:"end_date"`
	InDate    time.Time `json:"in_date"`
}

func (l ProductLine) Snapshot() Product {
	return Product{ProductID: l.ProductID, Type: l.Type, Name: l.Name, Image: l.Image}
}

type SubCell struct {
	Status   CellStatus    `json:"status"`
	Products []ProductLine `json:"products"`
	Label    string        `json:"label,omitempty"`
}

type Cell struct {
	CellID       string        `json:"cell_id"`
	Col          string        `json:"col"`
	Row          string        `json:"row"`
	DivisionType DivisionType  `json:"division_type"`
	Status       CellStatus    `json:"status"`
	Products     []ProductLine `json:"products"`
	SubCellA     SubCell       `json:"sub_cell_a"`
	SubCellB     SubCell       `json:"sub_cell_b"`
	Total        int           `json:"total"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

func (c Cell) IsDual() bool {
	return c.DivisionType == DivisionDual
}

type BillKind string

const (
	BillKindImport BillKind = "import"
	BillKindExport BillKind = "export"
)

type BillType string

const (
	BillPending BillType = "pending"
	BillIn      BillType = "in"
	BillOut     BillType = "out"
)

type BillItem struct {
	ProductID    string     `json:"product_id"`
	Type         string     `json:"type"`
	Name         string     `json:"name"`
	Image        string     `json:"image,omitempty"`
	Quantity     int        `json:"quantity"`
	EndDate      time.Time  `json:"end_date"`
	InDate       time.Time  `json:"in_date"`
	CellID       string     `json:"cell_id,omitempty"`
	WithdrawDate *time.Time `json:"withdraw_date,omitempty"`
}

func (i BillItem) Line() ProductLine {
	return ProductLine{
		ProductID: i.ProductID,
		Type:      i.Type,
		Name:      i.Name,
		Image:     i.Image,
		Quantity:  i.Quantity,
		EndDate:   i.EndDate,
		InDate:    i.InDate,
	}
}

type Bill struct {
	BillNumber string     `json:"bill_number"`
	Kind       BillKind   `json:"kind"`
	Type       BillType   `json:"type"`
	Items      []BillItem `json:"items"`
	TotalItems int        `json:"total_items"`
	CreatedBy  string     `json:"created_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// RecomputeTotal refreshes TotalItems from the item quantities.
func (b *Bill) RecomputeTotal() {
	total := 0
	for _, item := range b.Items {
		total += item.Quantity
	}
	b.TotalItems = total
}

// MergeBillItems folds items sharing a product id into one, summing the
// quantity and keeping the earliest dates. First-seen order is preserved.
func MergeBillItems(items []BillItem) []BillItem {
	out := make([]BillItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		idx, ok := index[item.ProductID]
		if !ok {
			index[item.ProductID] = len(out)
			out = append(out, item)
			continue
		}
		out[idx].Quantity += item.Quantity
		out[idx].EndDate = earliest(out[idx].EndDate, item.EndDate)
		out[idx].InDate = earliest(out[idx].InDate, item.InDate)
	}
	return out
}

func (b Bill) UniqueProductCount() int {
	seen := make(map[string]struct{}, len(b.Items))
	for _, item := range b.Items {
		seen[item.ProductID] = struct{}{}
	}
	return len(seen)
}

type DailyCount struct {
	Date     string `json:"date"`
	InCount  int    `json:"in_count"`
	OutCount int    `json:"out_count"`
}

type Summary struct {
	TotalBoxes              int        `json:"total_boxes"`
	ActiveBoxes             int        `json:"active_boxes"`
	OccupiedOrInactiveBoxes int        `json:"occupied_or_inactive_boxes"`
	DisabledBoxes           int        `json:"disabled_boxes"`
	EmptyBoxes              int        `json:"empty_boxes"`
	LastUpdate              *time.Time `json:"last_update"`
}

type DocumentRecord struct {
	ID         string    `json:"id"`
	BillNumber string    `json:"bill_number"`
	Kind       BillKind  `json:"kind"`
	PDFURL     string    `json:"pdf_url"`
	CreatedBy  string    `json:"created_by,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

type LatestItem struct {
	TrackingNo  string    `json:"tracking_no"`
	ProductName string    `json:"product_name"`
	Status      BillType  `json:"status"`
	Amount      int       `json:"amount"`
	BillNumber  string    `json:"bill_number"`
	CreatedAt   time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
