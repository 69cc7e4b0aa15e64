// Package query implements the bounded generate/validate loop that turns a
// question plus extracted intent into a checked SQL candidate.
package query

import (
	"context"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"

	pmodel "github.com/tablepilot-core-poc/server/internal/pipeline/model"
	"github.com/tablepilot-core-poc/server/internal/pipeline/parsers"
	"github.com/tablepilot-core-poc/server/internal/pipeline/prompts"
	logx "github.com/tablepilot-core-poc/server/pkg/logger"
)

// NotEnoughInfo is emitted by the generator when the schema cannot answer
// the question at all.
const NotEnoughInfo = "NOT_ENOUGH_INFO"

// Result is the outcome of one full build loop.
type Result struct {
	// Query is the best candidate seen, even when invalid.
	Query string
	Valid bool
	// Issues holds the last round's validation issues when Valid is false.
	Issues string
	// Attempts counts validation rounds consumed, never above the cap.
	Attempts int
}

// Builder runs generate, validate, and on failure regenerate with the issues
// folded back into the prompt. The loop is hard-capped, and an exhausted loop
// is a normal outcome rather than an error.
type Builder struct {
	cm        einomodel.BaseChatModel
	validator *Validator
	cfg       pmodel.QueryLoopConfig
	modelName string
	sink      pmodel.CostSink
}

func NewBuilder(cm einomodel.BaseChatModel, validator *Validator, cfg pmodel.QueryLoopConfig, modelName string, sink pmodel.CostSink) *Builder {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Builder{cm: cm, validator: validator, cfg: cfg, modelName: modelName, sink: sink}
}

func (b *Builder) Build(ctx context.Context, schemaText, question string, intentTables []string, intent map[string][]string) (*Result, error) {
	res := &Result{}
	issues := ""

	for res.Attempts < b.cfg.MaxAttempts {
		candidate, err := b.generate(ctx, schemaText, question, intentTables, intent, issues)
		if err != nil {
			return nil, err
		}
		if strings.EqualFold(strings.TrimSpace(candidate), NotEnoughInfo) {
			res.Query = ""
			res.Valid = false
			res.Issues = "schema does not contain enough information to answer the question"
			res.Attempts++
			logx.Info().Str("question", question).Msg("query generation reported not enough info")
			return res, nil
		}
		res.Query = candidate

		verdict, err := b.validator.Validate(ctx, schemaText, candidate)
		if err != nil {
			return nil, err
		}
		res.Attempts++
		if verdict.CorrectedQuery != "" {
			res.Query = verdict.CorrectedQuery
		}
		if verdict.Valid {
			res.Valid = true
			res.Issues = ""
			logx.Debug().Int("attempts", res.Attempts).Msg("query validated")
			return res, nil
		}

		issues = verdict.Issues
		if issues == "" {
			issues = "the previous query was rejected without a stated reason"
		}
		res.Issues = issues
		logx.Debug().
			Int("attempt", res.Attempts).
			Str("issues", issues).
			Msg("query rejected, retrying")
	}

	logx.Warn().
		Int("attempts", res.Attempts).
		Str("issues", res.Issues).
		Msg("query loop exhausted without a valid candidate")
	return res, nil
}

func (b *Builder) generate(ctx context.Context, schemaText, question string, intentTables []string, intent map[string][]string, issues string) (string, error) {
	msgs, err := prompts.RenderQueryGen(ctx, schemaText, question, intentTables, intent, issues)
	if err != nil {
		return "", err
	}
	out, err := b.cm.Generate(ctx, msgs)
	if err != nil {
		return "", err
	}
	if b.sink != nil && out.ResponseMeta != nil {
		b.sink(ctx, b.modelName, out.ResponseMeta.Usage)
	}
	return parsers.StripFences(out.Content), nil
}
