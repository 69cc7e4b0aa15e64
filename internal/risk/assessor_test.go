package risk

import (
	"context"
	"fmt"
	"strconv"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pmodel "github.com/tablepilot-core-poc/server/internal/pipeline/model"
	"github.com/tablepilot-core-poc/server/internal/table"
)

type fakeChatModel struct {
	response string
	calls    int
}

func (f *fakeChatModel) Generate(ctx context.Context, msgs []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	f.calls++
	return schema.AssistantMessage(f.response, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, msgs []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("streaming not supported in tests")
}

func testConfig() pmodel.RiskConfig {
	return pmodel.RiskConfig{
		MaxCardinality:   100,
		MaxDatasetMB:     1000,
		MaxRows:          100000,
		MaxRollingWindow: 10000,
		MemoryBudgetMB:   2000,
		TimeBudgetSecs:   60,
	}
}

// highCardinalityTable holds a city column with 250 distinct values.
func highCardinalityTable(t *testing.T) *table.Table {
	t.Helper()
	rows := make([][]any, 250)
	for i := range rows {
		rows[i] = []any{"city-" + strconv.Itoa(i), float64(i)}
	}
	tbl, err := table.New([]string{"city", "amount"}, rows)
	require.NoError(t, err)
	return tbl
}

func TestRuleLayerOneHotCardinality(t *testing.T) {
	a := NewAssessor(testConfig(), nil, "", nil)
	tbl := highCardinalityTable(t)

	got := a.Assess(context.Background(), `t = t.OneHotEncode("city")`, tbl)

	assert.Equal(t, pmodel.RiskUnsafe, got.Verdict)
	require.NotEmpty(t, got.Reasons)
	assert.Contains(t, got.Reasons[0], `"city"`)
	assert.Contains(t, got.Reasons[0], "250")
}

func TestRuleLayerIsIdempotent(t *testing.T) {
	a := NewAssessor(testConfig(), nil, "", nil)
	tbl := highCardinalityTable(t)
	code := `t = t.OneHotEncode("city")`

	first := a.Assess(context.Background(), code, tbl)
	second := a.Assess(context.Background(), code, tbl)

	assert.Equal(t, first, second)
}

func TestRuleLayerSafeCode(t *testing.T) {
	a := NewAssessor(testConfig(), nil, "", nil)
	tbl, err := table.New([]string{"region", "amount"}, [][]any{
		{"north", 1.0}, {"south", 2.0},
	})
	require.NoError(t, err)

	got := a.Assess(context.Background(), `t = t.GroupBySum("region", "amount")`, tbl)

	assert.Equal(t, pmodel.RiskSafe, got.Verdict)
	assert.Empty(t, got.Reasons)
}

func TestRuleLayerRollingWindow(t *testing.T) {
	a := NewAssessor(testConfig(), nil, "", nil)
	tbl, err := table.New([]string{"v"}, [][]any{{1.0}})
	require.NoError(t, err)

	got := a.Assess(context.Background(), `t = t.RollingMean("v", 50000)`, tbl)
	assert.Equal(t, pmodel.RiskUnsafe, got.Verdict)
}

func TestRuleLayerNestedLoops(t *testing.T) {
	a := NewAssessor(testConfig(), nil, "", nil)
	tbl, err := table.New([]string{"v"}, [][]any{{1.0}})
	require.NoError(t, err)

	code := "for i := 0; i < 10; i++ {\n\tfor j := 0; j < 10; j++ {\n\t}\n}"
	got := a.Assess(context.Background(), code, tbl)
	assert.Equal(t, pmodel.RiskUnsafe, got.Verdict)
}

func TestModelLayerInfeasibleEstimate(t *testing.T) {
	cfg := testConfig()
	cfg.ModelLayer = true
	cm := &fakeChatModel{response: `{"feasible": false, "reason": "memory blowup"}`}
	a := NewAssessor(cfg, cm, "test-model", nil)
	tbl, err := table.New([]string{"v"}, [][]any{{1.0}})
	require.NoError(t, err)

	got := a.Assess(context.Background(), `t = t.Sort("v", true)`, tbl)

	assert.Equal(t, pmodel.RiskUnsafe, got.Verdict)
	require.NotEmpty(t, got.Reasons)
	assert.Contains(t, got.Reasons[0], "memory blowup")
}

func TestModelLayerFailsOpen(t *testing.T) {
	cfg := testConfig()
	cfg.ModelLayer = true
	cm := &fakeChatModel{response: "not json at all"}
	a := NewAssessor(cfg, cm, "test-model", nil)
	tbl, err := table.New([]string{"v"}, [][]any{{1.0}})
	require.NoError(t, err)

	got := a.Assess(context.Background(), `t = t.Sort("v", true)`, tbl)

	// an unparseable estimate never blocks execution
	assert.Equal(t, pmodel.RiskSafe, got.Verdict)
}

func TestModelLayerNeverOverridesRuleUnsafe(t *testing.T) {
	cfg := testConfig()
	cfg.ModelLayer = true
	cm := &fakeChatModel{response: `{"feasible": true, "estimated_memory_mb": 1, "estimated_seconds": 1}`}
	a := NewAssessor(cfg, cm, "test-model", nil)
	tbl := highCardinalityTable(t)

	got := a.Assess(context.Background(), `t = t.OneHotEncode("city")`, tbl)

	assert.Equal(t, pmodel.RiskUnsafe, got.Verdict)
	// the model layer is not even consulted once the rule layer flags the code
	assert.Equal(t, 0, cm.calls)
}

func TestRuleLayerDatasetSizeFlaggedRegardlessOfCode(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDatasetMB = 0.00001
	a := NewAssessor(cfg, nil, "", nil)
	tbl, err := table.New([]string{"region", "amount"}, [][]any{
		{"north", 1.0}, {"south", 2.0},
	})
	require.NoError(t, err)

	for _, code := range []string{
		`t = t.DropNulls()`,
		`t = t.Sort("amount", true)`,
	} {
		got := a.Assess(context.Background(), code, tbl)
		assert.Equal(t, pmodel.RiskUnsafe, got.Verdict, "code %q", code)
		require.NotEmpty(t, got.Reasons)
		assert.Contains(t, got.Reasons[0], "MB limit")
	}
}

func TestRuleLayerGroupedRolling(t *testing.T) {
	code := "t = t.GroupBySum(\"region\", \"amount\")\nt = t.RollingMean(\"amount\", 2)"
	tbl, err := table.New([]string{"region", "amount"}, [][]any{
		{"north", 1.0}, {"south", 2.0}, {"north", 3.0}, {"south", 4.0},
	})
	require.NoError(t, err)

	t.Run("flagged above the row limit", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxRows = 3
		a := NewAssessor(cfg, nil, "", nil)

		got := a.Assess(context.Background(), code, tbl)
		assert.Equal(t, pmodel.RiskUnsafe, got.Verdict)
		require.NotEmpty(t, got.Reasons)
		assert.Contains(t, got.Reasons[0], "grouped rolling")
		assert.Contains(t, got.Reasons[0], "4 rows")
	})

	t.Run("safe below the row limit", func(t *testing.T) {
		a := NewAssessor(testConfig(), nil, "", nil)

		got := a.Assess(context.Background(), code, tbl)
		assert.Equal(t, pmodel.RiskSafe, got.Verdict)
	})

	t.Run("either call alone is safe", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxRows = 3
		a := NewAssessor(cfg, nil, "", nil)

		got := a.Assess(context.Background(), `t = t.GroupBySum("region", "amount")`, tbl)
		assert.Equal(t, pmodel.RiskSafe, got.Verdict)
	})
}
