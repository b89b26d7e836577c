package domain

import "time"

type CreateCellRequest struct {
	CellID string `json:"cell_id" validate:"required,max=64"`
	Col    string `json:"col" validate:"required,max=32"`
	Row    string `json:"row" validate:"required,max=32"`
	Status *int   `json:"status" validate:"omitempty,min=0,max=3"`
}

type DivideCellRequest struct {
	Choice string `json:"choice" validate:"required"`
}

type SetStatusRequest struct {
	Address         string `json:"-"`
	Status          *int   `json:"status" validate:"required"`
	ConfirmDisposal bool   `json:"confirm_disposal"`
	Collapse        bool   `json:"collapse"`
}

type StatusResult struct {
	Cell     Cell          `json:"cell"`
	Disposed []ProductLine `json:"disposed"`
}

type PlaceProductRequest struct {
	Address   string `json:"address" validate:"required"`
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
	EndDate   string `json:"end_date" validate:"required"`
	InDate    string `json:"in_date"`
}

type WithdrawProductRequest struct {
	Address   string `json:"address" validate:"required"`
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

type MoveRequest struct {
	Source    string `json:"source_cell_id" validate:"required"`
	Target    string `json:"target_cell_id" validate:"required"`
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

type MoveProductsRequest struct {
	Moves []MoveRequest `json:"moves" validate:"required,min=1,dive"`
}

type MoveResult struct {
	Cells []Cell `json:"cells"`
}

type Assignment struct {
	ProductID string `json:"product_id" validate:"required"`
	CellID    string `json:"cell_id" validate:"required"`
	SubCell   string `json:"sub_cell"`
}

type AssignRequest struct {
	BillNumber  string       `json:"bill_number" validate:"required,len=8,numeric"`
	Assignments []Assignment `json:"assignments" validate:"required,min=1,dive"`
}

type AssignResult struct {
	Bill   Bill `json:"bill"`
	Placed int  `json:"placed"`
}

type WithdrawItem struct {
	CellID    string `json:"cell_id" validate:"required"`
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

type WithdrawRequest struct {
	Items []WithdrawItem `json:"items" validate:"required,min=1,dive"`
}

type WithdrawResult struct {
	Bill      Bill `json:"bill"`
	Withdrawn int  `json:"withdrawn"`
}

type ImportItem struct {
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
	EndDate   string `json:"end_date" validate:"required"`
}

type ImportBillRequest struct {
	Items []ImportItem `json:"items" validate:"required,min=1,dive"`
}

type ImportBillResult struct {
	Bill           Bill `json:"bill"`
	UniqueProducts int  `json:"unique_products"`
}

type ProductCreateRequest struct {
	ProductID string `json:"product_id" validate:"required,max=64"`
	Type      string `json:"type" validate:"required"`
	Name      string `json:"name" validate:"required"`
	Image     string `json:"image"`
}

// DocumentJob asks the document worker to render and store the PDF of a
// committed bill.
type DocumentJob struct {
	ID         string     `json:"id"`
	BillNumber string     `json:"bill_number"`
	Kind       BillKind   `json:"kind"`
	Items      []BillItem `json:"items"`
	Requester  string     `json:"requester,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type UserCreateRequest struct {
	Username string `json:"username" validate:"required,min=4,max=64"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"required,oneof=admin staff"`
}

type UserView struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}
