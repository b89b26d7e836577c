package domain

// Summarize counts addressable storage units by status. A single cell is one
// unit; a divided cell contributes its two sub-cells instead.
func Summarize(cells []Cell) Summary {
	var summary Summary
	count := func(status CellStatus) {
		switch status {
		case StatusAvailable:
			summary.ActiveBoxes++
		case StatusOccupied:
			summary.OccupiedOrInactiveBoxes++
		case StatusDisabled:
			summary.DisabledBoxes++
		default:
			summary.EmptyBoxes++
		}
	}

	for _, cell := range cells {
		if cell.IsDual() {
			count(cell.SubCellA.Status)
			count(cell.SubCellB.Status)
		} else {
			count(cell.Status)
		}
		if cell.UpdatedAt.IsZero() {
			continue
		}
		if summary.LastUpdate == nil || cell.UpdatedAt.After(*summary.LastUpdate) {
			at := cell.UpdatedAt
			summary.LastUpdate = &at
		}
	}

	summary.TotalBoxes = summary.ActiveBoxes + summary.OccupiedOrInactiveBoxes + summary.DisabledBoxes
	return summary
}
