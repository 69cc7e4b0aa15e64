// Package risk gates generated transformation code before it reaches the
// sandbox. A rule layer inspects the code against the actual table and is
// authoritative; an optional model layer adds an advisory cost estimate that
// can only tighten the verdict, never loosen it.
package risk

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	einomodel "github.com/cloudwego/eino/components/model"

	pmodel "github.com/tablepilot-core-poc/server/internal/pipeline/model"
	"github.com/tablepilot-core-poc/server/internal/pipeline/parsers"
	"github.com/tablepilot-core-poc/server/internal/pipeline/prompts"
	"github.com/tablepilot-core-poc/server/internal/table"
	logx "github.com/tablepilot-core-poc/server/pkg/logger"
)

var (
	oneHotPattern      = regexp.MustCompile(`OneHotEncode\(\s*"([^"]+)"`)
	rollingPattern     = regexp.MustCompile(`RollingMean\(\s*"[^"]+"\s*,\s*(\d+)`)
	rollingCallPattern = regexp.MustCompile(`RollingMean\(`)
	pivotPattern       = regexp.MustCompile(`Pivot\(\s*"[^"]+"\s*,\s*"([^"]+)"`)
	groupPattern       = regexp.MustCompile(`GroupBy\w*\(`)
	crossPattern       = regexp.MustCompile(`CrossJoin\(`)
	forPattern         = regexp.MustCompile(`\bfor\b`)
)

// Assessment is the gate's outcome. Reasons is empty exactly when the
// verdict is safe.
type Assessment struct {
	Verdict pmodel.RiskVerdict
	Reasons []string
}

// Assessor evaluates transformation code against the table it would run on.
// Assess is a pure function of its inputs, so repeated calls on the same
// code and table always return the same verdict.
type Assessor struct {
	cfg       pmodel.RiskConfig
	cm        einomodel.BaseChatModel
	modelName string
	sink      pmodel.CostSink
}

func NewAssessor(cfg pmodel.RiskConfig, cm einomodel.BaseChatModel, modelName string, sink pmodel.CostSink) *Assessor {
	return &Assessor{cfg: cfg, cm: cm, modelName: modelName, sink: sink}
}

func (a *Assessor) Assess(ctx context.Context, code string, tbl *table.Table) Assessment {
	reasons := a.ruleLayer(code, tbl)

	if len(reasons) == 0 && a.cfg.ModelLayer && a.cm != nil {
		if r := a.modelLayer(ctx, code, tbl); r != "" {
			reasons = append(reasons, r)
		}
	}

	if len(reasons) > 0 {
		logx.Info().Strs("reasons", reasons).Msg("transformation code flagged as unsafe")
		return Assessment{Verdict: pmodel.RiskUnsafe, Reasons: reasons}
	}
	return Assessment{Verdict: pmodel.RiskSafe}
}

// ruleLayer checks the code text against hard thresholds measured on the
// actual table, not on model claims.
func (a *Assessor) ruleLayer(code string, tbl *table.Table) []string {
	var reasons []string

	for _, m := range oneHotPattern.FindAllStringSubmatch(code, -1) {
		col := m[1]
		if !tbl.HasColumn(col) {
			continue
		}
		if card := tbl.Cardinality(col); card > a.cfg.MaxCardinality {
			reasons = append(reasons, fmt.Sprintf(
				"one-hot encoding column %q with %d distinct values exceeds the cardinality limit of %d",
				col, card, a.cfg.MaxCardinality))
		}
	}

	for _, m := range pivotPattern.FindAllStringSubmatch(code, -1) {
		col := m[1]
		if !tbl.HasColumn(col) {
			continue
		}
		if card := tbl.Cardinality(col); card > a.cfg.MaxCardinality {
			reasons = append(reasons, fmt.Sprintf(
				"pivoting on column %q with %d distinct values exceeds the cardinality limit of %d",
				col, card, a.cfg.MaxCardinality))
		}
	}

	for _, m := range rollingPattern.FindAllStringSubmatch(code, -1) {
		if w, err := strconv.Atoi(m[1]); err == nil && w > a.cfg.MaxRollingWindow {
			reasons = append(reasons, fmt.Sprintf(
				"rolling window of %d exceeds the limit of %d", w, a.cfg.MaxRollingWindow))
		}
	}

	if groupPattern.MatchString(code) && rollingCallPattern.MatchString(code) &&
		tbl.NumRows() > a.cfg.MaxRows {
		reasons = append(reasons, fmt.Sprintf(
			"grouped rolling computation on %d rows exceeds the limit of %d rows",
			tbl.NumRows(), a.cfg.MaxRows))
	}

	if crossPattern.MatchString(code) {
		rows := tbl.NumRows()
		if rows > 0 && rows*rows > a.cfg.MaxRows {
			reasons = append(reasons, fmt.Sprintf(
				"cross join on %d rows would produce %d rows, above the limit of %d",
				rows, rows*rows, a.cfg.MaxRows))
		}
	}

	if len(forPattern.FindAllString(code, -1)) >= 2 {
		reasons = append(reasons, "nested explicit loops are not allowed in transformation code")
	}

	// Size is a property of the table alone; any code at all is too risky to
	// run against a dataset this large.
	if size := tbl.SizeMB(); size > a.cfg.MaxDatasetMB {
		reasons = append(reasons, fmt.Sprintf(
			"dataset of %.1f MB exceeds the %.0f MB limit",
			size, a.cfg.MaxDatasetMB))
	}

	return reasons
}

// modelLayer asks the coder model for a cost estimate. Any failure here
// fails open: the rule-layer verdict stands and only a warning is logged.
func (a *Assessor) modelLayer(ctx context.Context, code string, tbl *table.Table) string {
	msgs, err := prompts.RenderCostEstimate(ctx, code, tbl.Profile(3), a.cfg)
	if err != nil {
		logx.Warn().Err(err).Msg("cost estimate prompt failed, skipping model layer")
		return ""
	}
	out, err := a.cm.Generate(ctx, msgs)
	if err != nil {
		logx.Warn().Err(err).Msg("cost estimate call failed, skipping model layer")
		return ""
	}
	if a.sink != nil && out.ResponseMeta != nil {
		a.sink(ctx, a.modelName, out.ResponseMeta.Usage)
	}

	est, err := parsers.ParseCostEstimate(out.Content)
	if err != nil {
		logx.Warn().Err(err).Msg("cost estimate unparseable, skipping model layer")
		return ""
	}

	switch {
	case !est.Feasible:
		if est.Reason != "" {
			return "estimated cost is infeasible: " + est.Reason
		}
		return "estimated cost is infeasible"
	case est.EstimatedMemoryMB > a.cfg.MemoryBudgetMB:
		return fmt.Sprintf("estimated memory of %.0f MB exceeds the %.0f MB budget",
			est.EstimatedMemoryMB, a.cfg.MemoryBudgetMB)
	case est.EstimatedSeconds > a.cfg.TimeBudgetSecs:
		return fmt.Sprintf("estimated runtime of %.0f seconds exceeds the %.0f second budget",
			est.EstimatedSeconds, a.cfg.TimeBudgetSecs)
	}
	return ""
}
