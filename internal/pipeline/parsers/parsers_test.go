package parsers

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errx "github.com/tablepilot-core-poc/server/internal/core/error"
)

func TestStripFences(t *testing.T) {
	t.Run("removes a wrapping fence with language tag", func(t *testing.T) {
		in := "```sql\nSELECT 1;\n```"
		assert.Equal(t, "SELECT 1;", StripFences(in))
	})

	t.Run("removes a bare fence", func(t *testing.T) {
		in := "```\n{\"valid\": true}\n```"
		assert.Equal(t, `{"valid": true}`, StripFences(in))
	})

	t.Run("leaves unfenced text trimmed", func(t *testing.T) {
		assert.Equal(t, "SELECT 1;", StripFences("  SELECT 1;  \n"))
	})

	t.Run("keeps inner backticks", func(t *testing.T) {
		in := "```go\nt = t.Map(\"x\", func(v interface{}) interface{} { return `ok` })\n```"
		out := StripFences(in)
		assert.Contains(t, out, "`ok`")
		assert.NotContains(t, out, "```")
	})
}

func TestParseBoolWord(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"true", true},
		{" TRUE \n", true},
		{"```\ntrue\n```", true},
		{"false", false},
		{"yes", false},
		{"true.", false},
		{"the answer is true", false},
		{"", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ParseBoolWord(c.in), "input %q", c.in)
	}
}

func TestParseValidatorVerdict(t *testing.T) {
	t.Run("valid verdict", func(t *testing.T) {
		v, err := ParseValidatorVerdict(`{"valid": true, "issues": null, "corrected_query": null}`)
		require.NoError(t, err)
		assert.True(t, v.Valid)
		assert.Nil(t, v.Issues)
		assert.Nil(t, v.CorrectedQuery)
	})

	t.Run("invalid with issues and correction", func(t *testing.T) {
		v, err := ParseValidatorVerdict("```json\n{\"valid\": false, \"issues\": \"unknown column\", \"corrected_query\": \"SELECT region FROM sales;\"}\n```")
		require.NoError(t, err)
		assert.False(t, v.Valid)
		require.NotNil(t, v.Issues)
		assert.Equal(t, "unknown column", *v.Issues)
		require.NotNil(t, v.CorrectedQuery)
		assert.Equal(t, "SELECT region FROM sales;", *v.CorrectedQuery)
	})

	t.Run("prose is a parse error", func(t *testing.T) {
		v, err := ParseValidatorVerdict("the query looks fine to me")
		require.Error(t, err)
		assert.Nil(t, v)
	})

	t.Run("broken JSON is a parse error", func(t *testing.T) {
		_, err := ParseValidatorVerdict(`{"valid": tru}`)
		require.Error(t, err)
	})
}

func TestParseIntent(t *testing.T) {
	t.Run("preserves table order and merges columns", func(t *testing.T) {
		content := `{"relevant_tables": [
			{"table_name": "sales", "columns": ["date", "amount"]},
			{"table_name": "products", "columns": ["name"]},
			{"table_name": "sales", "columns": ["region"]}
		]}`
		tables, intent, err := ParseIntent(content)
		require.NoError(t, err)
		assert.Equal(t, []string{"sales", "products"}, tables)
		assert.Equal(t, []string{"date", "amount", "region"}, intent["sales"])
		assert.Equal(t, []string{"name"}, intent["products"])
	})

	t.Run("empty list is valid", func(t *testing.T) {
		tables, intent, err := ParseIntent(`{"relevant_tables": []}`)
		require.NoError(t, err)
		assert.Empty(t, tables)
		assert.Empty(t, intent)
	})

	t.Run("blank table names are skipped", func(t *testing.T) {
		tables, _, err := ParseIntent(`{"relevant_tables": [{"table_name": "  ", "columns": ["x"]}, {"table_name": "sales", "columns": []}]}`)
		require.NoError(t, err)
		assert.Equal(t, []string{"sales"}, tables)
	})

	t.Run("non-object is a parse error", func(t *testing.T) {
		_, _, err := ParseIntent(`["sales"]`)
		require.Error(t, err)
	})
}

func TestParseTransformVerdict(t *testing.T) {
	t.Run("relevant", func(t *testing.T) {
		v, err := ParseTransformVerdict(`{"is_relevant": true, "issues": null}`)
		require.NoError(t, err)
		assert.True(t, v.IsRelevant)
	})

	t.Run("not relevant with issue", func(t *testing.T) {
		v, err := ParseTransformVerdict(`{"is_relevant": false, "issues": "instruction mentions columns not in the result"}`)
		require.NoError(t, err)
		assert.False(t, v.IsRelevant)
		require.NotNil(t, v.Issues)
		assert.Contains(t, *v.Issues, "columns not in the result")
	})

	t.Run("malformed response is an error", func(t *testing.T) {
		_, err := ParseTransformVerdict("sure, go ahead")
		require.Error(t, err)
	})
}

func TestParseCostEstimate(t *testing.T) {
	t.Run("feasible estimate", func(t *testing.T) {
		v, err := ParseCostEstimate("```json\n{\"feasible\": true, \"estimated_memory_mb\": 12.5, \"estimated_seconds\": 0.4, \"reason\": \"small frame\"}\n```")
		require.NoError(t, err)
		assert.True(t, v.Feasible)
		assert.InDelta(t, 12.5, v.EstimatedMemoryMB, 1e-9)
		assert.InDelta(t, 0.4, v.EstimatedSeconds, 1e-9)
	})

	t.Run("infeasible with reason", func(t *testing.T) {
		v, err := ParseCostEstimate(`{"feasible": false, "estimated_memory_mb": 4096, "estimated_seconds": 120, "reason": "memory blowup"}`)
		require.NoError(t, err)
		assert.False(t, v.Feasible)
		assert.Equal(t, "memory blowup", v.Reason)
	})

	t.Run("malformed response is an error", func(t *testing.T) {
		_, err := ParseCostEstimate("no idea")
		require.Error(t, err)
	})
}

func TestDecodeObjectGuards(t *testing.T) {
	t.Run("oversized content still fails cleanly", func(t *testing.T) {
		big := "{" + strings.Repeat("x", maxContentLen) + "}"
		_, err := ParseValidatorVerdict(big)
		require.Error(t, err)
	})

	t.Run("error snippet is bounded", func(t *testing.T) {
		long := strings.Repeat("a", maxErrSnippet*3)
		_, err := ParseValidatorVerdict(long)
		require.Error(t, err)
		assert.Less(t, len(err.Error()), maxErrSnippet+100)
	})
}

func TestParseErrorsAreClassified(t *testing.T) {
	_, err := ParseValidatorVerdict("free-form prose")
	require.Error(t, err)

	var appErr *errx.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "malformed model response", appErr.Message)
}
