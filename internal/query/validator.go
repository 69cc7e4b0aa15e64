package query

import (
	"context"

	einomodel "github.com/cloudwego/eino/components/model"

	pmodel "github.com/tablepilot-core-poc/server/internal/pipeline/model"
	"github.com/tablepilot-core-poc/server/internal/pipeline/parsers"
	"github.com/tablepilot-core-poc/server/internal/pipeline/prompts"
	logx "github.com/tablepilot-core-poc/server/pkg/logger"
)

// Verdict is the checked outcome for one candidate query.
type Verdict struct {
	Valid bool
	// Issues is empty when Valid is true.
	Issues string
	// CorrectedQuery, when non-empty, replaces the candidate as the new
	// baseline even if the verdict is invalid.
	CorrectedQuery string
}

// Validator asks the planner model to check a candidate query against the
// schema. A malformed model response is never an error: it degrades to an
// invalid verdict carrying a parse-failure issue, so the loop keeps moving.
type Validator struct {
	cm        einomodel.BaseChatModel
	modelName string
	sink      pmodel.CostSink
}

func NewValidator(cm einomodel.BaseChatModel, modelName string, sink pmodel.CostSink) *Validator {
	return &Validator{cm: cm, modelName: modelName, sink: sink}
}

func (v *Validator) Validate(ctx context.Context, schemaText, candidate string) (*Verdict, error) {
	msgs, err := prompts.RenderQueryCheck(ctx, schemaText, candidate)
	if err != nil {
		return nil, err
	}
	out, err := v.cm.Generate(ctx, msgs)
	if err != nil {
		return nil, err
	}
	if v.sink != nil && out.ResponseMeta != nil {
		v.sink(ctx, v.modelName, out.ResponseMeta.Usage)
	}

	parsed, err := parsers.ParseValidatorVerdict(out.Content)
	if err != nil {
		logx.Warn().Err(err).Msg("validator output unparseable, treating as invalid")
		return &Verdict{Valid: false, Issues: "validator response could not be parsed: " + err.Error()}, nil
	}

	verdict := &Verdict{Valid: parsed.Valid}
	if parsed.Issues != nil {
		verdict.Issues = *parsed.Issues
	}
	if parsed.CorrectedQuery != nil {
		verdict.CorrectedQuery = parsers.StripFences(*parsed.CorrectedQuery)
	}
	if verdict.Valid {
		// A valid verdict carries no issues by contract.
		verdict.Issues = ""
	}
	return verdict, nil
}
