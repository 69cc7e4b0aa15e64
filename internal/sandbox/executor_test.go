package sandbox

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errx "github.com/tablepilot-core-poc/server/internal/core/error"
	"github.com/tablepilot-core-poc/server/internal/table"
)

func inputTable(t *testing.T) *table.Table {
	t.Helper()
	tbl, err := table.New([]string{"region", "amount"}, [][]any{
		{"north", 100.0},
		{"south", nil},
		{"north", 25.0},
	})
	require.NoError(t, err)
	return tbl
}

func TestRunAppliesTransformation(t *testing.T) {
	e := NewExecutor()
	in := inputTable(t)

	out, err := e.Run(context.Background(), `t = t.DropNulls()`, in)
	require.NoError(t, err)

	assert.Equal(t, 2, out.NumRows())
	// the caller's table is untouched
	assert.Equal(t, 3, in.NumRows())
}

func TestRunChainsMethods(t *testing.T) {
	e := NewExecutor()
	in := inputTable(t)

	out, err := e.Run(context.Background(), `t = t.DropNulls().Sort("amount", true)`, in)
	require.NoError(t, err)

	require.Equal(t, 2, out.NumRows())
	assert.Equal(t, 25.0, out.Row(0)["amount"])
}

func TestRunWithoutRebindIsInvalidOutput(t *testing.T) {
	e := NewExecutor()
	in := inputTable(t)

	out, err := e.Run(context.Background(), `x := t.DropNulls()
_ = x`, in)

	assert.Nil(t, out)
	require.ErrorIs(t, err, errx.ErrInvalidOutput)
	// prior table unchanged
	assert.Equal(t, 3, in.NumRows())
}

func TestRunRuntimeErrorIsExecutionError(t *testing.T) {
	e := NewExecutor()
	in := inputTable(t)

	out, err := e.Run(context.Background(), `t = t.NoSuchMethod()`, in)

	assert.Nil(t, out)
	require.ErrorIs(t, err, errx.ErrExecution)
	assert.Equal(t, 3, in.NumRows())
}

func TestRunRejectsForbiddenImports(t *testing.T) {
	e := NewExecutor()
	in := inputTable(t)

	_, err := e.Run(context.Background(), "import \"os\"\nt = t.DropNulls()", in)

	require.ErrorIs(t, err, errx.ErrExecution)
	assert.Contains(t, err.Error(), "forbidden imports")
}

func TestRunAllowsWhitelistedImports(t *testing.T) {
	e := NewExecutor()
	in := inputTable(t)

	code := `import "strings"
t = t.Filter("region", func(v interface{}) bool {
	s, ok := v.(string)
	return ok && strings.HasPrefix(s, "north")
})`
	out, err := e.Run(context.Background(), code, in)
	require.NoError(t, err)
	assert.Equal(t, 2, out.NumRows())
}
