package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablepilot-core-poc/server/internal/table"
)

func TestSuggestTransforms(t *testing.T) {
	tbl, err := table.New(
		[]string{"date", "sales"},
		[][]any{{"2026-07-01", 100.0}, {"2026-07-02", nil}},
	)
	require.NoError(t, err)

	t.Run("returns trimmed suggestion text", func(t *testing.T) {
		cm := &scriptedModel{responses: []string{"```\nDrop rows with missing sales values.\n```"}}
		got, err := SuggestTransforms(context.Background(), cm, "test-planner", nil, tbl)
		require.NoError(t, err)
		assert.Equal(t, "Drop rows with missing sales values.", got)
	})

	t.Run("rejects an empty table", func(t *testing.T) {
		cm := &scriptedModel{}
		_, err := SuggestTransforms(context.Background(), cm, "test-planner", nil, table.Empty())
		require.Error(t, err)
		assert.Zero(t, cm.calls)
	})
}
