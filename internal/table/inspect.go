package table

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unsafe"
)

// Profile is the dataset context bundle handed to the risk assessor and the
// prompt builders: shape, estimated footprint, per-column types and
// cardinalities, missing-value counts and a bounded sample.
type Profile struct {
	Rows          int
	Cols          int
	SizeMB        float64
	ColumnTypes   map[string]string
	Cardinalities map[string]int
	Missing       map[string]int
	Sample        []map[string]any
}

// Profile computes the table's profile with at most sampleN sample rows.
func (t *Table) Profile(sampleN int) Profile {
	p := Profile{
		Rows:          t.NumRows(),
		Cols:          t.NumCols(),
		ColumnTypes:   make(map[string]string, t.NumCols()),
		Cardinalities: make(map[string]int, t.NumCols()),
		Missing:       make(map[string]int, t.NumCols()),
	}
	for _, c := range t.cols {
		p.ColumnTypes[c] = t.Kind(c).String()
		p.Cardinalities[c] = t.Cardinality(c)
		p.Missing[c] = t.NumRows() - t.countNonNil(c)
	}
	p.SizeMB = t.SizeMB()
	p.Sample = t.Head(sampleN).Rows()
	return p
}

// Cardinality counts the distinct non-nil values in the column.
func (t *Table) Cardinality(name string) int {
	i := t.colIndex(name)
	if i < 0 {
		return 0
	}
	seen := map[string]bool{}
	for _, r := range t.rows {
		if r[i] != nil {
			seen[valueString(r[i])] = true
		}
	}
	return len(seen)
}

// SizeMB estimates the in-memory footprint of the table.
func (t *Table) SizeMB() float64 {
	var bytes uintptr
	for _, r := range t.rows {
		for _, v := range r {
			bytes += unsafe.Sizeof(v)
			if s, ok := v.(string); ok {
				bytes += uintptr(len(s))
			}
		}
	}
	return float64(bytes) / (1024 * 1024)
}

// NumericColumns returns the numeric column names in table order.
func (t *Table) NumericColumns() []string {
	var out []string
	for _, c := range t.cols {
		if t.IsNumeric(c) {
			out = append(out, c)
		}
	}
	return out
}

// CategoricalColumns returns the categorical column names in table order.
func (t *Table) CategoricalColumns() []string {
	var out []string
	for _, c := range t.cols {
		if t.IsCategorical(c) {
			out = append(out, c)
		}
	}
	return out
}

// TimeColumns returns the time-like column names in table order.
func (t *Table) TimeColumns() []string {
	var out []string
	for _, c := range t.cols {
		if t.IsTimeLike(c) {
			out = append(out, c)
		}
	}
	return out
}

// CorrMatrix computes the Pearson correlation matrix over the numeric
// columns. Rows with a nil in any numeric column are excluded pairwise.
func (t *Table) CorrMatrix() ([]string, [][]float64) {
	nums := t.NumericColumns()
	m := make([][]float64, len(nums))
	for i := range nums {
		m[i] = make([]float64, len(nums))
		for j := range nums {
			m[i][j] = t.pearson(nums[i], nums[j])
		}
	}
	return nums, m
}

func (t *Table) pearson(a, b string) float64 {
	av, _ := t.Col(a)
	bv, _ := t.Col(b)
	var xs, ys []float64
	for i := range av {
		x, xok := toFloat(av[i])
		y, yok := toFloat(bv[i])
		if xok && yok {
			xs = append(xs, x)
			ys = append(ys, y)
		}
	}
	n := float64(len(xs))
	if n < 2 {
		return 0
	}
	var sx, sy float64
	for i := range xs {
		sx += xs[i]
		sy += ys[i]
	}
	mx, my := sx/n, sy/n
	var cov, vx, vy float64
	for i := range xs {
		cov += (xs[i] - mx) * (ys[i] - my)
		vx += (xs[i] - mx) * (xs[i] - mx)
		vy += (ys[i] - my) * (ys[i] - my)
	}
	if vx == 0 || vy == 0 {
		return 0
	}
	return cov / math.Sqrt(vx*vy)
}

// Describe renders a textual description of the table for LLM prompts:
// shape, type counts, numeric stats, categorical top values and missing
// values, in the shape downstream prompts expect.
func (t *Table) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "The dataset contains %d rows and %d columns.\n", t.NumRows(), t.NumCols())

	typeCounts := map[string]int{}
	for _, c := range t.cols {
		typeCounts[t.Kind(c).String()]++
	}
	for _, k := range sortedKeys(typeCounts) {
		fmt.Fprintf(&b, "- %d columns of type %s.\n", typeCounts[k], k)
	}

	nums := t.NumericColumns()
	if len(nums) > 0 {
		b.WriteString("\nNumerical columns:\n")
		for _, c := range nums {
			mean, min, max, std := t.numericStats(c)
			fmt.Fprintf(&b, "- %s: mean = %.2f, min = %g, max = %g, std = %.2f.\n", c, mean, min, max, std)
		}
	} else {
		b.WriteString("\nNo numerical columns detected.\n")
	}

	cats := t.CategoricalColumns()
	if len(cats) > 0 {
		b.WriteString("\nCategorical columns:\n")
		for _, c := range cats {
			top := t.topValues(c, 3)
			fmt.Fprintf(&b, "- %s: %d unique values. Top values: %s\n", c, t.Cardinality(c), strings.Join(top, ", "))
		}
	} else {
		b.WriteString("\nNo categorical columns detected.\n")
	}

	anyMissing := false
	for _, c := range t.cols {
		missing := t.NumRows() - t.countNonNil(c)
		if missing > 0 {
			if !anyMissing {
				b.WriteString("\nMissing values:\n")
				anyMissing = true
			}
			pct := 0.0
			if t.NumRows() > 0 {
				pct = float64(missing) / float64(t.NumRows()) * 100
			}
			fmt.Fprintf(&b, "- %s: %d missing values (%.1f%%)\n", c, missing, pct)
		}
	}
	if !anyMissing {
		b.WriteString("\nNo missing values detected.\n")
	}
	return b.String()
}

func (t *Table) numericStats(name string) (mean, min, max, std float64) {
	vals, _ := t.Col(name)
	var xs []float64
	for _, v := range vals {
		if f, ok := toFloat(v); ok {
			xs = append(xs, f)
		}
	}
	if len(xs) == 0 {
		return 0, 0, 0, 0
	}
	min, max = xs[0], xs[0]
	var sum float64
	for _, x := range xs {
		sum += x
		if x < min {
			min = x
		}
		if x > max {
			max = x
		}
	}
	mean = sum / float64(len(xs))
	var varSum float64
	for _, x := range xs {
		varSum += (x - mean) * (x - mean)
	}
	if len(xs) > 1 {
		std = math.Sqrt(varSum / float64(len(xs)-1))
	}
	return mean, min, max, std
}

func (t *Table) topValues(name string, n int) []string {
	vals, _ := t.Col(name)
	counts := map[string]int{}
	for _, v := range vals {
		if v != nil {
			counts[valueString(v)]++
		}
	}
	keys := sortedKeys(counts)
	sort.SliceStable(keys, func(a, b int) bool { return counts[keys[a]] > counts[keys[b]] })
	if len(keys) > n {
		keys = keys[:n]
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = fmt.Sprintf("%s (%d)", k, counts[k])
	}
	return out
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
