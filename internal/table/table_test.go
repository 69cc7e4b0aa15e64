package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func salesTable(t *testing.T) *Table {
	t.Helper()
	tbl, err := New(
		[]string{"region", "amount"},
		[][]any{
			{"north", 100.0},
			{"south", 50.0},
			{"north", 25.0},
			{"south", 75.0},
		},
	)
	require.NoError(t, err)
	return tbl
}

func TestNew(t *testing.T) {
	t.Run("rejects duplicate columns", func(t *testing.T) {
		_, err := New([]string{"a", "a"}, nil)
		require.Error(t, err)
	})

	t.Run("rejects ragged rows", func(t *testing.T) {
		_, err := New([]string{"a", "b"}, [][]any{{1}})
		require.Error(t, err)
	})

	t.Run("copies input rows", func(t *testing.T) {
		rows := [][]any{{1, 2}}
		tbl, err := New([]string{"a", "b"}, rows)
		require.NoError(t, err)
		rows[0][0] = 99
		assert.Equal(t, 1, tbl.Row(0)["a"])
	})
}

func TestGroupBySum(t *testing.T) {
	out := salesTable(t).GroupBySum("region", "amount")

	require.Equal(t, 2, out.NumRows())
	// first-seen order is preserved
	assert.Equal(t, map[string]any{"region": "north", "amount": 125.0}, out.Row(0))
	assert.Equal(t, map[string]any{"region": "south", "amount": 125.0}, out.Row(1))
}

func TestSort(t *testing.T) {
	out := salesTable(t).Sort("amount", true)
	amounts, ok := out.Col("amount")
	require.True(t, ok)
	assert.Equal(t, []any{25.0, 50.0, 75.0, 100.0}, amounts)

	t.Run("does not mutate the receiver", func(t *testing.T) {
		tbl := salesTable(t)
		tbl.Sort("amount", false)
		assert.Equal(t, 100.0, tbl.Row(0)["amount"])
	})
}

func TestFilterAndMap(t *testing.T) {
	tbl := salesTable(t)

	big := tbl.Filter("amount", func(v any) bool { return v.(float64) >= 75 })
	assert.Equal(t, 2, big.NumRows())

	doubled := tbl.Map("amount", func(v any) any { return v.(float64) * 2 })
	assert.Equal(t, 200.0, doubled.Row(0)["amount"])
	assert.Equal(t, 100.0, tbl.Row(0)["amount"])
}

func TestDropNullsAndFillNA(t *testing.T) {
	tbl, err := New([]string{"a", "b"}, [][]any{
		{1.0, "x"},
		{nil, "y"},
		{3.0, nil},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, tbl.DropNulls().NumRows())

	filled := tbl.FillNA("a", 0.0)
	assert.Equal(t, 0.0, filled.Row(1)["a"])
	assert.Nil(t, filled.Row(2)["b"])
}

func TestOneHotEncode(t *testing.T) {
	tbl := salesTable(t).OneHotEncode("region")

	assert.False(t, tbl.HasColumn("region"))
	require.True(t, tbl.HasColumn("region_north"))
	require.True(t, tbl.HasColumn("region_south"))

	north, _ := tbl.Col("region_north")
	assert.Equal(t, []any{1.0, 0.0, 1.0, 0.0}, north)
}

func TestPivot(t *testing.T) {
	tbl, err := New([]string{"date", "region", "amount"}, [][]any{
		{"d1", "north", 10.0},
		{"d1", "south", 20.0},
		{"d2", "north", 30.0},
	})
	require.NoError(t, err)

	out := tbl.Pivot("date", "region", "amount")
	require.Equal(t, []string{"date", "north", "south"}, out.Columns())
	assert.Equal(t, map[string]any{"date": "d1", "north": 10.0, "south": 20.0}, out.Row(0))
	assert.Equal(t, map[string]any{"date": "d2", "north": 30.0, "south": 0.0}, out.Row(1))
}

func TestCrossJoin(t *testing.T) {
	left, _ := New([]string{"a"}, [][]any{{1}, {2}})
	right, _ := New([]string{"a"}, [][]any{{"x"}, {"y"}})

	out := left.CrossJoin(right)
	assert.Equal(t, 4, out.NumRows())
	assert.Equal(t, []string{"a", "a_right"}, out.Columns())
}

func TestRollingMean(t *testing.T) {
	tbl, err := New([]string{"v"}, [][]any{{1.0}, {2.0}, {3.0}, {4.0}})
	require.NoError(t, err)

	out := tbl.RollingMean("v", 2)
	col, ok := out.Col("v_rolling_mean")
	require.True(t, ok)
	assert.Nil(t, col[0])
	assert.Equal(t, 1.5, col[1])
	assert.Equal(t, 2.5, col[2])
	assert.Equal(t, 3.5, col[3])
}

func TestKindInference(t *testing.T) {
	tbl, err := New([]string{"date", "amount", "region"}, [][]any{
		{"2026-07-01", 10.0, "north"},
		{"2026-07-02", 20.0, "south"},
	})
	require.NoError(t, err)

	assert.True(t, tbl.IsTimeLike("date"))
	assert.True(t, tbl.IsNumeric("amount"))
	assert.True(t, tbl.IsCategorical("region"))
	assert.False(t, tbl.IsNumeric("region"))
}

func TestCardinality(t *testing.T) {
	tbl := salesTable(t)
	assert.Equal(t, 2, tbl.Cardinality("region"))
	assert.Equal(t, 4, tbl.Cardinality("amount"))
	assert.Equal(t, 0, tbl.Cardinality("missing"))
}

func TestSelectAndDrop(t *testing.T) {
	tbl := salesTable(t)

	sel := tbl.Select("amount")
	assert.Equal(t, []string{"amount"}, sel.Columns())

	dropped := tbl.Drop("amount")
	assert.Equal(t, []string{"region"}, dropped.Columns())

	// unknown names are ignored
	assert.Equal(t, []string{"region"}, tbl.Select("region", "nope").Columns())
}
