package prompts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"

	"github.com/tablepilot-core-poc/server/internal/pipeline/model"
	"github.com/tablepilot-core-poc/server/internal/table"
)

//go:embed template/transform_relevance_prompt.txt
var transformRelevanceSystemPrompt string

//go:embed template/codegen_prompt.txt
var codegenSystemPrompt string

//go:embed template/cost_estimate_prompt.txt
var costEstimateSystemPrompt string

//go:embed template/suggest_prompt.txt
var suggestSystemPrompt string

// RenderTransformRelevance builds the preprocessing relevance-gate messages.
func RenderTransformRelevance(ctx context.Context, tbl *table.Table, instruction string) ([]*schema.Message, error) {
	profile := tbl.Profile(0)
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(transformRelevanceSystemPrompt),
		schema.UserMessage("Instruction: {{.Instruction}}"),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"Columns":     tbl.Columns(),
		"Types":       profile.ColumnTypes,
		"Instruction": instruction,
	})
	if err != nil {
		return nil, fmt.Errorf("transform relevance prompt render: %w", err)
	}
	return msgs, nil
}

// RenderCodeGen builds the transformation code-generation messages.
func RenderCodeGen(ctx context.Context, tbl *table.Table, instruction string) ([]*schema.Message, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(codegenSystemPrompt),
		schema.UserMessage("Please provide the Go code:"),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"Description": tbl.Describe(),
		"Instruction": instruction,
	})
	if err != nil {
		return nil, fmt.Errorf("codegen prompt render: %w", err)
	}
	return msgs, nil
}

// RenderCostEstimate builds the advisory cost-estimate messages for the risk
// assessor's model layer.
func RenderCostEstimate(ctx context.Context, code string, profile table.Profile, cfg model.RiskConfig) ([]*schema.Message, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(costEstimateSystemPrompt),
		schema.UserMessage("Respond with the JSON:"),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"Rows":           profile.Rows,
		"Cols":           profile.Cols,
		"SizeMB":         fmt.Sprintf("%.1f", profile.SizeMB),
		"Cardinalities":  profile.Cardinalities,
		"MemoryBudgetMB": cfg.MemoryBudgetMB,
		"TimeBudgetSecs": cfg.TimeBudgetSecs,
		"Code":           code,
	})
	if err != nil {
		return nil, fmt.Errorf("cost estimate prompt render: %w", err)
	}
	return msgs, nil
}

// RenderSuggest builds the preprocessing-suggestion messages.
func RenderSuggest(ctx context.Context, tbl *table.Table) ([]*schema.Message, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(suggestSystemPrompt),
		schema.UserMessage("Table description:\n{{.Description}}\n\nWhat preprocessing steps do you suggest?"),
	)
	msgs, err := tpl.Format(ctx, map[string]any{"Description": tbl.Describe()})
	if err != nil {
		return nil, fmt.Errorf("suggest prompt render: %w", err)
	}
	return msgs, nil
}
