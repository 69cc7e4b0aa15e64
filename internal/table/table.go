package table

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Table is a small row-major, dynamically typed table. It is the in-memory
// representation of a query result and the value the sandbox hands to
// model-generated transformation code, so every operation used by that code
// is a plain exported method reachable through reflection.
//
// Methods never mutate the receiver; they return a new Table. Callers that
// need isolation on top of that can Clone first.
type Table struct {
	cols []string
	rows [][]any
}

// New builds a table from column names and rows. Every row must have exactly
// one value per column.
func New(cols []string, rows [][]any) (*Table, error) {
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		if c == "" {
			return nil, fmt.Errorf("empty column name")
		}
		if seen[c] {
			return nil, fmt.Errorf("duplicate column %q", c)
		}
		seen[c] = true
	}
	for i, r := range rows {
		if len(r) != len(cols) {
			return nil, fmt.Errorf("row %d has %d values, want %d", i, len(r), len(cols))
		}
	}
	t := &Table{cols: append([]string(nil), cols...)}
	t.rows = make([][]any, len(rows))
	for i, r := range rows {
		t.rows[i] = append([]any(nil), r...)
	}
	return t, nil
}

// FromMaps builds a table from row maps, with column order taken from cols.
// Missing keys become nil.
func FromMaps(cols []string, rows []map[string]any) *Table {
	t := &Table{cols: append([]string(nil), cols...)}
	for _, m := range rows {
		row := make([]any, len(cols))
		for i, c := range cols {
			row[i] = m[c]
		}
		t.rows = append(t.rows, row)
	}
	return t
}

// Empty returns a table with no columns and no rows.
func Empty() *Table {
	return &Table{}
}

func (t *Table) NumRows() int { return len(t.rows) }
func (t *Table) NumCols() int { return len(t.cols) }

// Columns returns a copy of the column names in order.
func (t *Table) Columns() []string {
	return append([]string(nil), t.cols...)
}

// HasColumn reports whether the named column exists.
func (t *Table) HasColumn(name string) bool {
	return t.colIndex(name) >= 0
}

func (t *Table) colIndex(name string) int {
	for i, c := range t.cols {
		if c == name {
			return i
		}
	}
	return -1
}

// Col returns the values of the named column in row order.
func (t *Table) Col(name string) ([]any, bool) {
	i := t.colIndex(name)
	if i < 0 {
		return nil, false
	}
	out := make([]any, len(t.rows))
	for r, row := range t.rows {
		out[r] = row[i]
	}
	return out, true
}

// Row returns row r as a column→value map.
func (t *Table) Row(r int) map[string]any {
	m := make(map[string]any, len(t.cols))
	for i, c := range t.cols {
		m[c] = t.rows[r][i]
	}
	return m
}

// Rows materializes all rows as maps, in order.
func (t *Table) Rows() []map[string]any {
	out := make([]map[string]any, len(t.rows))
	for r := range t.rows {
		out[r] = t.Row(r)
	}
	return out
}

// Clone deep-copies the table.
func (t *Table) Clone() *Table {
	c := &Table{cols: append([]string(nil), t.cols...)}
	c.rows = make([][]any, len(t.rows))
	for i, r := range t.rows {
		c.rows[i] = append([]any(nil), r...)
	}
	return c
}

// Head returns the first n rows (all rows when n exceeds the row count).
func (t *Table) Head(n int) *Table {
	if n > len(t.rows) {
		n = len(t.rows)
	}
	if n < 0 {
		n = 0
	}
	c := &Table{cols: append([]string(nil), t.cols...)}
	for _, r := range t.rows[:n] {
		c.rows = append(c.rows, append([]any(nil), r...))
	}
	return c
}

// Select keeps only the named columns, in the given order. Unknown names are
// ignored.
func (t *Table) Select(names ...string) *Table {
	var keep []int
	var cols []string
	for _, n := range names {
		if i := t.colIndex(n); i >= 0 {
			keep = append(keep, i)
			cols = append(cols, n)
		}
	}
	c := &Table{cols: cols}
	for _, r := range t.rows {
		row := make([]any, len(keep))
		for j, i := range keep {
			row[j] = r[i]
		}
		c.rows = append(c.rows, row)
	}
	return c
}

// Drop removes the named columns.
func (t *Table) Drop(names ...string) *Table {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	var keep []string
	for _, c := range t.cols {
		if !drop[c] {
			keep = append(keep, c)
		}
	}
	return t.Select(keep...)
}

// Rename renames a column, leaving the table unchanged when old is missing.
func (t *Table) Rename(old, new string) *Table {
	c := t.Clone()
	if i := c.colIndex(old); i >= 0 {
		c.cols[i] = new
	}
	return c
}

// DropNulls removes every row containing at least one nil value.
func (t *Table) DropNulls() *Table {
	c := &Table{cols: append([]string(nil), t.cols...)}
	for _, r := range t.rows {
		hasNil := false
		for _, v := range r {
			if v == nil {
				hasNil = true
				break
			}
		}
		if !hasNil {
			c.rows = append(c.rows, append([]any(nil), r...))
		}
	}
	return c
}

// FillNA replaces nil values in the named column with v.
func (t *Table) FillNA(name string, v any) *Table {
	c := t.Clone()
	i := c.colIndex(name)
	if i < 0 {
		return c
	}
	for _, r := range c.rows {
		if r[i] == nil {
			r[i] = v
		}
	}
	return c
}

// Filter keeps rows for which pred returns true on the named column's value.
func (t *Table) Filter(name string, pred func(any) bool) *Table {
	c := &Table{cols: append([]string(nil), t.cols...)}
	i := t.colIndex(name)
	if i < 0 {
		return c
	}
	for _, r := range t.rows {
		if pred(r[i]) {
			c.rows = append(c.rows, append([]any(nil), r...))
		}
	}
	return c
}

// Map applies fn to every value of the named column.
func (t *Table) Map(name string, fn func(any) any) *Table {
	c := t.Clone()
	i := c.colIndex(name)
	if i < 0 {
		return c
	}
	for _, r := range c.rows {
		r[i] = fn(r[i])
	}
	return c
}

// Sort orders rows by the named column. Numeric and time-like values compare
// by magnitude, everything else lexically; nils sort first.
func (t *Table) Sort(name string, asc bool) *Table {
	c := t.Clone()
	i := c.colIndex(name)
	if i < 0 {
		return c
	}
	sort.SliceStable(c.rows, func(a, b int) bool {
		less := lessValue(c.rows[a][i], c.rows[b][i])
		if asc {
			return less
		}
		return lessValue(c.rows[b][i], c.rows[a][i])
	})
	return c
}

// GroupBySum groups rows by the cat column and sums the num column per group,
// preserving first-seen group order.
func (t *Table) GroupBySum(cat, num string) *Table {
	ci, ni := t.colIndex(cat), t.colIndex(num)
	if ci < 0 || ni < 0 {
		return Empty()
	}
	sums := map[string]float64{}
	var order []string
	for _, r := range t.rows {
		key := valueString(r[ci])
		if _, ok := sums[key]; !ok {
			order = append(order, key)
		}
		if f, ok := toFloat(r[ni]); ok {
			sums[key] += f
		}
	}
	out := &Table{cols: []string{cat, num}}
	for _, k := range order {
		out.rows = append(out.rows, []any{k, sums[k]})
	}
	return out
}

// OneHotEncode expands a categorical column into one 0/1 column per distinct
// value, named "<col>_<value>". The source column is dropped.
func (t *Table) OneHotEncode(name string) *Table {
	i := t.colIndex(name)
	if i < 0 {
		return t.Clone()
	}
	var values []string
	seen := map[string]bool{}
	for _, r := range t.rows {
		if r[i] == nil {
			continue
		}
		v := valueString(r[i])
		if !seen[v] {
			seen[v] = true
			values = append(values, v)
		}
	}
	out := t.Drop(name)
	for _, v := range values {
		colName := name + "_" + v
		col := make([]any, len(t.rows))
		for r, row := range t.rows {
			if row[i] != nil && valueString(row[i]) == v {
				col[r] = float64(1)
			} else {
				col[r] = float64(0)
			}
		}
		out = out.withColumn(colName, col)
	}
	return out
}

// CrossJoin returns the cartesian product of the two tables. Colliding column
// names on the right gain a "_right" suffix.
func (t *Table) CrossJoin(other *Table) *Table {
	cols := append([]string(nil), t.cols...)
	for _, c := range other.cols {
		name := c
		for containsString(cols, name) {
			name += "_right"
		}
		cols = append(cols, name)
	}
	out := &Table{cols: cols}
	for _, a := range t.rows {
		for _, b := range other.rows {
			row := append(append([]any(nil), a...), b...)
			out.rows = append(out.rows, row)
		}
	}
	return out
}

// Pivot produces one row per distinct index value and one column per distinct
// value of the columns column, filled with sums of the values column.
func (t *Table) Pivot(index, columns, values string) *Table {
	ii, ci, vi := t.colIndex(index), t.colIndex(columns), t.colIndex(values)
	if ii < 0 || ci < 0 || vi < 0 {
		return Empty()
	}
	var idxOrder, colOrder []string
	cells := map[string]map[string]float64{}
	for _, r := range t.rows {
		ik, ck := valueString(r[ii]), valueString(r[ci])
		if _, ok := cells[ik]; !ok {
			cells[ik] = map[string]float64{}
			idxOrder = append(idxOrder, ik)
		}
		if !containsString(colOrder, ck) {
			colOrder = append(colOrder, ck)
		}
		if f, ok := toFloat(r[vi]); ok {
			cells[ik][ck] += f
		}
	}
	out := &Table{cols: append([]string{index}, colOrder...)}
	for _, ik := range idxOrder {
		row := make([]any, 1+len(colOrder))
		row[0] = ik
		for j, ck := range colOrder {
			row[1+j] = cells[ik][ck]
		}
		out.rows = append(out.rows, row)
	}
	return out
}

// RollingMean appends a "<col>_rolling_mean" column holding the trailing mean
// over the given window. Rows without a full window get nil.
func (t *Table) RollingMean(name string, window int) *Table {
	i := t.colIndex(name)
	if i < 0 || window <= 0 {
		return t.Clone()
	}
	col := make([]any, len(t.rows))
	var buf []float64
	for r, row := range t.rows {
		f, ok := toFloat(row[i])
		if !ok {
			f = math.NaN()
		}
		buf = append(buf, f)
		if len(buf) > window {
			buf = buf[1:]
		}
		if len(buf) == window {
			sum, valid := 0.0, true
			for _, v := range buf {
				if math.IsNaN(v) {
					valid = false
					break
				}
				sum += v
			}
			if valid {
				col[r] = sum / float64(window)
			}
		}
	}
	return t.withColumn(name+"_rolling_mean", col)
}

func (t *Table) withColumn(name string, values []any) *Table {
	c := t.Clone()
	if i := c.colIndex(name); i >= 0 {
		for r := range c.rows {
			c.rows[r][i] = values[r]
		}
		return c
	}
	c.cols = append(c.cols, name)
	for r := range c.rows {
		c.rows[r] = append(c.rows[r], values[r])
	}
	return c
}

// WithColumn returns the table with an added (or replaced) column.
func (t *Table) WithColumn(name string, values []any) (*Table, error) {
	if len(values) != len(t.rows) {
		return nil, fmt.Errorf("column %q has %d values, want %d", name, len(values), len(t.rows))
	}
	return t.withColumn(name, values), nil
}

// String renders a compact header+rows preview for logs.
func (t *Table) String() string {
	var b strings.Builder
	b.WriteString(strings.Join(t.cols, " | "))
	for _, r := range t.Head(5).rows {
		b.WriteString("\n")
		parts := make([]string, len(r))
		for i, v := range r {
			parts[i] = valueString(v)
		}
		b.WriteString(strings.Join(parts, " | "))
	}
	if len(t.rows) > 5 {
		fmt.Fprintf(&b, "\n… %d more rows", len(t.rows)-5)
	}
	return b.String()
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}
