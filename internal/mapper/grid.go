package mapper

import (
	"sort"

	"stripcast/internal/core"
)

// NewGrid treats strips as rows of a columns×rows grid. Rows are ordered by the
// y of each strip's start point; row r occupies viewport row r and its LEDs
// run left to right from column 0, or right to left when the strip is reversed.
// Points beyond the declared columns or rows are dropped.
func NewGrid(strips []core.StripLayout, columns, rows int) Mapper {
	ordered := make([]core.StripLayout, len(strips))
	copy(ordered, strips)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Start.Y < ordered[j].Start.Y
	})

	t := newTable()
	for row, s := range ordered {
		if row >= rows {
			break
		}
		for col := 0; col < s.Length; col++ {
			if col >= columns {
				break
			}
			idx := col
			if s.Reverse {
				idx = s.Length - 1 - col
			}
			t.assign(core.Point{X: col, Y: row}, s.ID, idx)
		}
	}
	return t
}
