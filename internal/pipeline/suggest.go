package pipeline

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"

	"github.com/tablepilot-core-poc/server/internal/pipeline/model"
	"github.com/tablepilot-core-poc/server/internal/pipeline/parsers"
	"github.com/tablepilot-core-poc/server/internal/pipeline/prompts"
	"github.com/tablepilot-core-poc/server/internal/table"
)

// SuggestTransforms asks the planner for preprocessing recommendations for a
// result table and returns them as plain text. It is a standalone helper, not
// a graph stage; callers use it to propose an instruction before a run.
func SuggestTransforms(ctx context.Context, cm einomodel.BaseChatModel, modelName string, sink model.CostSink, tbl *table.Table) (string, error) {
	if tbl == nil || tbl.NumRows() == 0 {
		return "", fmt.Errorf("cannot suggest preprocessing for an empty table")
	}

	msgs, err := prompts.RenderSuggest(ctx, tbl)
	if err != nil {
		return "", fmt.Errorf("render suggest prompt: %w", err)
	}
	out, err := cm.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("suggest transforms: %w", err)
	}
	if sink != nil && out.ResponseMeta != nil {
		sink(ctx, modelName, out.ResponseMeta.Usage)
	}

	return strings.TrimSpace(parsers.StripFences(out.Content)), nil
}
