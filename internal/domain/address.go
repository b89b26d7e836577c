package domain

import "strings"

type Side string

const (
	SideNone Side = ""
	SideA    Side = "A"
	SideB    Side = "B"
)

// CellAddress points at either a main cell or one of its two sub-cells.
// It is parsed once from user input and never re-derived inside the core.
type CellAddress struct {
	CellID string `json:"cell_id"`
	Side   Side   `json:"side,omitempty"`
}

func Main(cellID string) CellAddress {
	return CellAddress{CellID: cellID}
}

func Sub(cellID string, side Side) CellAddress {
	return CellAddress{CellID: cellID, Side: side}
}

func (a CellAddress) IsSub() bool {
	return a.Side != SideNone
}

func (a CellAddress) String() string {
	if a.Side == SideNone {
		return a.CellID
	}
	return a.CellID + "-" + string(a.Side)
}

// ParseAddress accepts "A-01" for a main cell and "A-01-A" / "A-01-B" for
// its sub-cells.
func ParseAddress(raw string) (CellAddress, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return CellAddress{}, Validationf("cell address is required")
	}
	upper := strings.ToUpper(raw)
	for _, side := range []Side{SideA, SideB} {
		suffix := "-" + string(side)
		if strings.HasSuffix(upper, suffix) {
			id := raw[:len(raw)-len(suffix)]
			if id == "" {
				return CellAddress{}, Validationf("cell address %q has no cell id", raw)
			}
			return Sub(id, side), nil
		}
	}
	return Main(raw), nil
}

// ParseSide resolves a sub-cell selector. The empty string selects the main
// cell. Legacy selector spellings are accepted.
func ParseSide(raw string) (Side, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return SideNone, nil
	case "a", "subcella", "subcellsa", "r1":
		return SideA, nil
	case "b", "subcellb", "subcellsb", "r2":
		return SideB, nil
	}
	return SideNone, ErrInvalidSubCell
}

type DivideChoice string

const (
	DivideA    DivideChoice = "A"
	DivideB    DivideChoice = "B"
	DivideBoth DivideChoice = "both"
)

func ParseDivideChoice(raw string) (DivideChoice, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "a", "r1":
		return DivideA, nil
	case "b", "r2":
		return DivideB, nil
	case "both":
		return DivideBoth, nil
	}
	return "", ErrInvalidSubCell
}

func SubCellLabel(cellID string, side Side) string {
	switch side {
	case SideA:
		return cellID + "R1"
	case SideB:
		return cellID + "R2"
	}
	return ""
}

// validCellID rejects ids that would be ambiguous with a sub-cell address.
func validCellID(cellID string) bool {
	if strings.TrimSpace(cellID) != cellID || cellID == "" {
		return false
	}
	upper := strings.ToUpper(cellID)
	return !strings.HasSuffix(upper, "-A") && !strings.HasSuffix(upper, "-B")
}
