package prompts

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed template/relevance_prompt.txt
var relevanceSystemPrompt string

//go:embed template/intent_prompt.txt
var intentSystemPrompt string

//go:embed template/query_gen_prompt.txt
var queryGenSystemPrompt string

//go:embed template/query_check_prompt.txt
var queryCheckSystemPrompt string

// RenderRelevance builds the relevance-gate messages via the Eino prompt
// component (enables prompt callbacks).
func RenderRelevance(ctx context.Context, schemaText, question string) ([]*schema.Message, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(relevanceSystemPrompt),
		schema.UserMessage("Database schema:\n{{.Schema}}\n\nUser question:\n{{.Question}}\n\nIs this question answerable using the database?"),
	)
	msgs, err := tpl.Format(ctx, map[string]any{"Schema": schemaText, "Question": question})
	if err != nil {
		return nil, fmt.Errorf("relevance prompt render: %w", err)
	}
	return msgs, nil
}

// RenderIntent builds the table/column extraction messages.
func RenderIntent(ctx context.Context, schemaText, question string) ([]*schema.Message, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(intentSystemPrompt),
		schema.UserMessage("===Database schema:\n{{.Schema}}\n\n===User question:\n{{.Question}}\n\nIdentify relevant tables and columns:"),
	)
	msgs, err := tpl.Format(ctx, map[string]any{"Schema": schemaText, "Question": question})
	if err != nil {
		return nil, fmt.Errorf("intent prompt render: %w", err)
	}
	return msgs, nil
}

// RenderQueryGen builds the query-generation messages. On retry rounds the
// prior round's validation issues are injected so the model can correct them.
func RenderQueryGen(ctx context.Context, schemaText, question string, intentTables []string, intent map[string][]string, issues string) ([]*schema.Message, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(queryGenSystemPrompt),
		schema.UserMessage("===Database schema:\n{{.Schema}}\n\n===Relevant tables and columns:\n{{.Intent}}\n\n===User question:\n{{.Question}}\n\n===SQL validation issues:\n{{.Issues}}\n\nIf there are SQL validation issues, generate a corrected SQL query.\nIf not, generate the SQL query:"),
	)
	msgs, err := tpl.Format(ctx, map[string]any{
		"Schema":   schemaText,
		"Intent":   FormatIntent(intentTables, intent),
		"Question": question,
		"Issues":   issues,
	})
	if err != nil {
		return nil, fmt.Errorf("query gen prompt render: %w", err)
	}
	return msgs, nil
}

// RenderQueryCheck builds the validator messages.
func RenderQueryCheck(ctx context.Context, schemaText, query string) ([]*schema.Message, error) {
	tpl := prompt.FromMessages(
		schema.GoTemplate,
		schema.SystemMessage(queryCheckSystemPrompt),
		schema.UserMessage("===Database schema:\n{{.Schema}}\n\n===SQL to validate:\n{{.Query}}\n\nRespond with the JSON:"),
	)
	msgs, err := tpl.Format(ctx, map[string]any{"Schema": schemaText, "Query": query})
	if err != nil {
		return nil, fmt.Errorf("query check prompt render: %w", err)
	}
	return msgs, nil
}

// FormatIntent renders the parsed intent as one "table: col, col" line per
// table, preserving discovery order.
func FormatIntent(tables []string, intent map[string][]string) string {
	if len(tables) == 0 {
		return "(none identified)"
	}
	var b strings.Builder
	for _, t := range tables {
		b.WriteString(t)
		if cols := intent[t]; len(cols) > 0 {
			b.WriteString(": ")
			b.WriteString(strings.Join(cols, ", "))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
