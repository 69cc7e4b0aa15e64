package table

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind is the inferred type of a column.
type Kind int

const (
	KindString Kind = iota
	KindNumber
	KindBool
	KindTime
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindTime:
		return "time"
	default:
		return "string"
	}
}

// Layouts accepted when sniffing time-like string columns. SQLite has no
// native date type, so results routinely carry dates as text.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"2006/01/02",
}

// Kind infers the type of the named column by scanning its non-nil values.
// A column is a Kind only when every non-nil value fits it; mixed columns
// fall back to string. Columns with no non-nil values are string.
func (t *Table) Kind(name string) Kind {
	i := t.colIndex(name)
	if i < 0 {
		return KindString
	}
	sawValue := false
	allNum, allBool, allTime := true, true, true
	for _, r := range t.rows {
		v := r[i]
		if v == nil {
			continue
		}
		sawValue = true
		if _, ok := toFloat(v); !ok {
			allNum = false
		}
		if _, ok := v.(bool); !ok {
			allBool = false
		}
		if !isTimeValue(v) {
			allTime = false
		}
		if !allNum && !allBool && !allTime {
			return KindString
		}
	}
	if !sawValue {
		return KindString
	}
	switch {
	case allBool:
		return KindBool
	case allNum:
		return KindNumber
	case allTime:
		return KindTime
	default:
		return KindString
	}
}

// IsNumeric reports whether the column holds only numbers.
func (t *Table) IsNumeric(name string) bool { return t.Kind(name) == KindNumber }

// IsTimeLike reports whether the column holds time values, either typed or as
// parseable strings, or is named like a date column with string values.
func (t *Table) IsTimeLike(name string) bool {
	if t.Kind(name) == KindTime {
		return true
	}
	lower := strings.ToLower(name)
	if !strings.Contains(lower, "date") && !strings.Contains(lower, "time") {
		return false
	}
	// Name suggests time; accept if values are strings (unparsed exports).
	return t.Kind(name) == KindString && t.countNonNil(name) > 0
}

// IsCategorical reports whether the column is a non-time string or bool
// column, i.e. something worth grouping by.
func (t *Table) IsCategorical(name string) bool {
	if t.IsTimeLike(name) {
		return false
	}
	k := t.Kind(name)
	return k == KindString || k == KindBool
}

func (t *Table) countNonNil(name string) int {
	i := t.colIndex(name)
	if i < 0 {
		return 0
	}
	n := 0
	for _, r := range t.rows {
		if r[i] != nil {
			n++
		}
	}
	return n
}

func isTimeValue(v any) bool {
	switch vv := v.(type) {
	case time.Time:
		return true
	case string:
		s := strings.TrimSpace(vv)
		for _, layout := range timeLayouts {
			if _, err := time.Parse(layout, s); err == nil {
				return true
			}
		}
	}
	return false
}

// toFloat coerces the numeric types database/sql and JSON decoding produce.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func valueString(v any) string {
	switch vv := v.(type) {
	case nil:
		return ""
	case string:
		return vv
	case float64:
		return strconv.FormatFloat(vv, 'g', -1, 64)
	case time.Time:
		return vv.Format(time.RFC3339)
	default:
		return fmt.Sprint(vv)
	}
}

func lessValue(a, b any) bool {
	if a == nil {
		return b != nil
	}
	if b == nil {
		return false
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af < bf
	}
	at, aIsTime := a.(time.Time)
	bt, bIsTime := b.(time.Time)
	if aIsTime && bIsTime {
		return at.Before(bt)
	}
	return valueString(a) < valueString(b)
}
