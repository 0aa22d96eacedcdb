// Package tabular provides the in-memory tabular value staged datasets are
// built from, plus file-kind sniffing and parsers for supported source files.
package tabular

import "strings"

// Dataset is a parsed tabular value: a header row plus data rows. All cells
// are held as strings; typing is left to the upsert target.
type Dataset struct {
	Columns []string
	Rows    [][]string
}

// RowCount returns the number of data rows.
func (d *Dataset) RowCount() int {
	return len(d.Rows)
}

// ColumnCount returns the number of columns.
func (d *Dataset) ColumnCount() int {
	return len(d.Columns)
}

// ColumnIndex returns the index of the named column (case-insensitive,
// trimmed), or -1 when absent.
func (d *Dataset) ColumnIndex(name string) int {
	want := strings.ToLower(strings.TrimSpace(name))
	for i, col := range d.Columns {
		if strings.ToLower(strings.TrimSpace(col)) == want {
			return i
		}
	}

	return -1
}

// Cell returns the value at (row, column index), or "" when the row is ragged.
func (d *Dataset) Cell(row, col int) string {
	if row < 0 || row >= len(d.Rows) || col < 0 || col >= len(d.Rows[row]) {
		return ""
	}

	return d.Rows[row][col]
}

// Clone returns a deep copy of the dataset.
func (d *Dataset) Clone() *Dataset {
	out := &Dataset{
		Columns: make([]string, len(d.Columns)),
		Rows:    make([][]string, len(d.Rows)),
	}
	copy(out.Columns, d.Columns)

	for i, row := range d.Rows {
		out.Rows[i] = make([]string, len(row))
		copy(out.Rows[i], row)
	}

	return out
}

// Equal reports whether two datasets hold identical columns and cells.
func (d *Dataset) Equal(other *Dataset) bool {
	if other == nil {
		return false
	}
	if len(d.Columns) != len(other.Columns) || len(d.Rows) != len(other.Rows) {
		return false
	}

	for i := range d.Columns {
		if d.Columns[i] != other.Columns[i] {
			return false
		}
	}

	for i := range d.Rows {
		if len(d.Rows[i]) != len(other.Rows[i]) {
			return false
		}
		for j := range d.Rows[i] {
			if d.Rows[i][j] != other.Rows[i][j] {
				return false
			}
		}
	}

	return true
}
