package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	errx "github.com/tablepilot-core-poc/server/internal/core/error"
	"github.com/tablepilot-core-poc/server/internal/pipeline/model"
	"github.com/tablepilot-core-poc/server/internal/pipeline/parsers"
	"github.com/tablepilot-core-poc/server/internal/pipeline/prompts"
	"github.com/tablepilot-core-poc/server/internal/query"
	"github.com/tablepilot-core-poc/server/internal/risk"
	"github.com/tablepilot-core-poc/server/internal/sandbox"
	"github.com/tablepilot-core-poc/server/internal/table"
	"github.com/tablepilot-core-poc/server/internal/viz"
	logx "github.com/tablepilot-core-poc/server/pkg/logger"
)

// NewRelevanceGatePreHandler seeds the request state from the public input.
func NewRelevanceGatePreHandler() func(context.Context, model.PipelineInput, *model.RequestState) (model.PipelineInput, error) {
	return func(ctx context.Context, in model.PipelineInput, s *model.RequestState) (model.PipelineInput, error) {
		if in.RunID == "" {
			in.RunID = uuid.NewString()
		}
		s.RunID = in.RunID
		s.Question = in.Question
		s.TransformInstruction = strings.TrimSpace(in.TransformInstruction)
		s.Append(schema.UserMessage(in.Question))
		return in, nil
	}
}

// NewRelevanceGateNode fetches the schema once and asks the planner whether
// the question is answerable against it.
func NewRelevanceGateNode(cms *ChatModels, schemaProvider model.SchemaProvider, sink model.CostSink) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.PipelineInput) (model.PipelineInput, error) {
		schemaText, err := schemaProvider.Schema(ctx)
		if err != nil {
			return in, fmt.Errorf("fetch schema context: %w", err)
		}

		msgs, err := prompts.RenderRelevance(ctx, schemaText, in.Question)
		if err != nil {
			return in, fmt.Errorf("render relevance prompt: %w", err)
		}
		out, err := invokeModel(ctx, cms.Planner, cms.PlannerModelName, sink, msgs)
		if err != nil {
			return in, fmt.Errorf("relevance check: %w", err)
		}
		relevant := parsers.ParseBoolWord(out.Content)

		err = compose.ProcessState(ctx, func(_ context.Context, state *model.RequestState) error {
			state.SchemaContext = schemaText
			state.IsRelevant = &relevant
			if !relevant {
				state.Halt(NodeRelevanceGate, errx.ErrNotRelevant.Error()+": the question cannot be answered from the available schema")
				state.Append(schema.AssistantMessage("The question is not relevant to the available data.", nil))
			}
			return nil
		})
		if err != nil {
			return in, err
		}

		logx.Debug().Str("run_id", in.RunID).Bool("relevant", relevant).Msg("relevance gate decided")
		return in, nil
	})
}

// NewRelevanceCondition routes irrelevant questions straight to the finalizer.
func NewRelevanceCondition() func(context.Context, model.PipelineInput) (string, error) {
	return func(ctx context.Context, in model.PipelineInput) (string, error) {
		relevant := false
		compose.ProcessState(ctx, func(_ context.Context, state *model.RequestState) error {
			relevant = state.IsRelevant != nil && *state.IsRelevant
			return nil
		})
		if relevant {
			return NodeIntentExtract, nil
		}
		return NodeFinalizer, nil
	}
}

// NewIntentExtractNode asks the planner which tables and columns the
// question needs. A malformed response degrades to an empty intent; query
// generation still works from the full schema.
func NewIntentExtractNode(cms *ChatModels, sink model.CostSink) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.PipelineInput) (model.PipelineInput, error) {
		var schemaText string
		compose.ProcessState(ctx, func(_ context.Context, state *model.RequestState) error {
			schemaText = state.SchemaContext
			return nil
		})

		msgs, err := prompts.RenderIntent(ctx, schemaText, in.Question)
		if err != nil {
			return in, fmt.Errorf("render intent prompt: %w", err)
		}
		out, err := invokeModel(ctx, cms.Planner, cms.PlannerModelName, sink, msgs)
		if err != nil {
			return in, fmt.Errorf("intent extraction: %w", err)
		}

		tables, intent, err := parsers.ParseIntent(out.Content)
		if err != nil {
			logx.Warn().Err(err).Msg("intent output unparseable, continuing with full schema")
			tables, intent = nil, nil
		}

		return in, compose.ProcessState(ctx, func(_ context.Context, state *model.RequestState) error {
			state.IntentTables = tables
			state.ParsedIntent = intent
			state.Append(schema.AssistantMessage(
				fmt.Sprintf("Identified %d relevant table(s).", len(tables)), nil))
			return nil
		})
	})
}

// NewQueryLoopNode runs the bounded generate/validate loop.
func NewQueryLoopNode(builder *query.Builder) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.PipelineInput) (model.PipelineInput, error) {
		var (
			schemaText string
			tables     []string
			intent     map[string][]string
		)
		compose.ProcessState(ctx, func(_ context.Context, state *model.RequestState) error {
			schemaText = state.SchemaContext
			tables = state.IntentTables
			intent = state.ParsedIntent
			return nil
		})

		res, err := builder.Build(ctx, schemaText, in.Question, tables, intent)
		if err != nil {
			return in, fmt.Errorf("query loop: %w", err)
		}

		return in, compose.ProcessState(ctx, func(_ context.Context, state *model.RequestState) error {
			valid := res.Valid
			state.QueryCandidate = res.Query
			state.QueryValid = &valid
			state.QueryIssues = res.Issues
			state.AttemptCount = res.Attempts
			if valid {
				state.Append(schema.AssistantMessage(
					fmt.Sprintf("Produced a validated query in %d attempt(s).", res.Attempts), nil))
			} else {
				state.Append(schema.AssistantMessage(
					fmt.Sprintf("Query still invalid after %d attempt(s): %s", res.Attempts, res.Issues), nil))
			}
			return nil
		})
	})
}

// NewExecuteQueryNode runs the final candidate. An invalid candidate or a
// zero-row result becomes an empty table, never a raised error.
func NewExecuteQueryNode(executor model.QueryExecutor) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.PipelineInput) (model.PipelineInput, error) {
		var (
			candidate string
			valid     bool
			issues    string
		)
		compose.ProcessState(ctx, func(_ context.Context, state *model.RequestState) error {
			candidate = state.QueryCandidate
			valid = state.QueryValid != nil && *state.QueryValid
			issues = state.QueryIssues
			return nil
		})

		setEmpty := func(stage, reason, note string) error {
			return compose.ProcessState(ctx, func(_ context.Context, state *model.RequestState) error {
				state.ResultTable = table.Empty()
				state.ResultRows = []map[string]any{}
				state.Halt(stage, reason)
				state.Append(schema.AssistantMessage(note, nil))
				return nil
			})
		}

		if !valid || candidate == "" {
			reason := errx.ErrValidationFailure.Error()
			if issues != "" {
				reason += ": " + issues
			}
			return in, setEmpty(NodeQueryLoop, reason, "No valid query could be produced; returning an empty result.")
		}

		res, err := executor.Run(ctx, candidate)
		switch {
		case err == nil:
			tbl, terr := table.New(res.Columns, res.Rows)
			if terr != nil {
				return in, setEmpty(NodeExecuteQuery, errx.ErrExecution.Error()+": "+terr.Error(),
					"The query result could not be loaded into a table.")
			}
			return in, compose.ProcessState(ctx, func(_ context.Context, state *model.RequestState) error {
				state.ResultTable = tbl
				state.ResultRows = tbl.Rows()
				state.Append(schema.AssistantMessage(
					fmt.Sprintf("Query returned %d row(s) across %d column(s).", tbl.NumRows(), tbl.NumCols()), nil))
				return nil
			})
		case err == model.ErrNoRows || strings.Contains(err.Error(), model.ErrNoRows.Error()):
			return in, setEmpty(NodeExecuteQuery, "the query returned no rows",
				"The query ran successfully but returned no rows.")
		default:
			logx.Warn().Err(err).Str("run_id", in.RunID).Msg("query execution failed")
			return in, setEmpty(NodeExecuteQuery, errx.ErrExecution.Error()+": "+err.Error(),
				"The query failed to execute; returning an empty result.")
		}
	})
}

// NewExecuteCondition decides what follows a populated result table.
func NewExecuteCondition() func(context.Context, model.PipelineInput) (string, error) {
	return func(ctx context.Context, in model.PipelineInput) (string, error) {
		var (
			halted         bool
			hasInstruction bool
		)
		compose.ProcessState(ctx, func(_ context.Context, state *model.RequestState) error {
			halted = state.HaltStage != ""
			hasInstruction = state.TransformInstruction != ""
			return nil
		})
		switch {
		case halted:
			return NodeFinalizer, nil
		case hasInstruction:
			return NodeTransformGate, nil
		default:
			return NodeVizFeasibility, nil
		}
	}
}

// NewTransformGateNode checks whether the preprocessing instruction applies
// to the result table at all.
func NewTransformGateNode(cms *ChatModels, sink model.CostSink) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.PipelineInput) (model.PipelineInput, error) {
		var (
			tbl         *table.Table
			instruction string
		)
		compose.ProcessState(ctx, func(_ context.Context, state *model.RequestState) error {
			tbl = state.ResultTable
			instruction = state.TransformInstruction
			return nil
		})

		msgs, err := prompts.RenderTransformRelevance(ctx, tbl, instruction)
		if err != nil {
			return in, fmt.Errorf("render transform relevance prompt: %w", err)
		}
		out, err := invokeModel(ctx, cms.Planner, cms.PlannerModelName, sink, msgs)
		if err != nil {
			return in, fmt.Errorf("transform relevance check: %w", err)
		}

		relevant := false
		issues := ""
		verdict, perr := parsers.ParseTransformVerdict(out.Content)
		if perr != nil {
			logx.Warn().Err(perr).Msg("transform verdict unparseable, treating as not relevant")
			issues = "the relevance verdict could not be parsed"
		} else {
			relevant = verdict.IsRelevant
			if verdict.Issues != nil {
				issues = *verdict.Issues
			}
		}

		return in, compose.ProcessState(ctx, func(_ context.Context, state *model.RequestState) error {
			state.TransformRelevant = &relevant
			state.TransformIssues = issues
			if !relevant {
				reason := errx.ErrNotRelevant.Error() + ": the instruction does not apply to the result table"
				if issues != "" {
					reason = issues
				}
				state.Halt(NodeTransformGate, reason)
				state.Append(schema.AssistantMessage("The preprocessing instruction is not applicable: "+reason, nil))
			}
			return nil
		})
	})
}

// NewTransformGateCondition routes inapplicable instructions to the finalizer.
func NewTransformGateCondition() func(context.Context, model.PipelineInput) (string, error) {
	return func(ctx context.Context, in model.PipelineInput) (string, error) {
		relevant := false
		compose.ProcessState(ctx, func(_ context.Context, state *model.RequestState) error {
			relevant = state.TransformRelevant != nil && *state.TransformRelevant
			return nil
		})
		if relevant {
			return NodeCodeGen, nil
		}
		return NodeFinalizer, nil
	}
}

// NewCodeGenNode asks the coder model for transformation code.
func NewCodeGenNode(cms *ChatModels, sink model.CostSink) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.PipelineInput) (model.PipelineInput, error) {
		var (
			tbl         *table.Table
			instruction string
		)
		compose.ProcessState(ctx, func(_ context.Context, state *model.RequestState) error {
			tbl = state.ResultTable
			instruction = state.TransformInstruction
			return nil
		})

		msgs, err := prompts.RenderCodeGen(ctx, tbl, instruction)
		if err != nil {
			return in, fmt.Errorf("render codegen prompt: %w", err)
		}
		out, err := invokeModel(ctx, cms.Coder, cms.CoderModelName, sink, msgs)
		if err != nil {
			return in, fmt.Errorf("code generation: %w", err)
		}
		code := parsers.StripFences(out.Content)

		return in, compose.ProcessState(ctx, func(_ context.Context, state *model.RequestState) error {
			state.TransformCode = code
			if code == "" {
				applied := false
				state.TransformApplied = &applied
				state.Halt(NodeCodeGen, "no transformation code was produced")
				state.Append(schema.AssistantMessage("No transformation code could be generated.", nil))
			} else {
				state.Append(schema.AssistantMessage("Generated transformation code for review.", nil))
			}
			return nil
		})
	})
}

// NewRiskGateNode runs the safety assessment over the generated code.
func NewRiskGateNode(assessor *risk.Assessor) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.PipelineInput) (model.PipelineInput, error) {
		var (
			code   string
			tbl    *table.Table
			halted bool
		)
		compose.ProcessState(ctx, func(_ context.Context, state *model.RequestState) error {
			code = state.TransformCode
			tbl = state.ResultTable
			halted = state.HaltStage != ""
			return nil
		})
		if halted || code == "" {
			return in, nil
		}

		assessment := assessor.Assess(ctx, code, tbl)

		return in, compose.ProcessState(ctx, func(_ context.Context, state *model.RequestState) error {
			state.RiskVerdict = assessment.Verdict
			state.RiskReasons = assessment.Reasons
			if assessment.Verdict == model.RiskUnsafe {
				applied := false
				state.TransformApplied = &applied
				state.Halt(NodeRiskGate, errx.ErrUnsafeOperation.Error()+": "+strings.Join(assessment.Reasons, "; "))
				state.Append(schema.AssistantMessage(
					"The transformation was rejected as unsafe: "+strings.Join(assessment.Reasons, "; "), nil))
			}
			return nil
		})
	})
}

// NewRiskCondition only lets code proven safe reach the sandbox.
func NewRiskCondition() func(context.Context, model.PipelineInput) (string, error) {
	return func(ctx context.Context, in model.PipelineInput) (string, error) {
		safe := false
		compose.ProcessState(ctx, func(_ context.Context, state *model.RequestState) error {
			safe = state.HaltStage == "" && state.RiskVerdict == model.RiskSafe
			return nil
		})
		if safe {
			return NodeSandboxExecute, nil
		}
		return NodeFinalizer, nil
	}
}

// NewSandboxExecuteNode runs approved code. The prior table survives any
// failure; the pipeline proceeds to visualization either way.
func NewSandboxExecuteNode(executor *sandbox.Executor) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.PipelineInput) (model.PipelineInput, error) {
		var (
			code string
			tbl  *table.Table
		)
		compose.ProcessState(ctx, func(_ context.Context, state *model.RequestState) error {
			code = state.TransformCode
			tbl = state.ResultTable
			return nil
		})

		out, err := executor.Run(ctx, code, tbl)

		return in, compose.ProcessState(ctx, func(_ context.Context, state *model.RequestState) error {
			applied := err == nil
			state.TransformApplied = &applied
			if err != nil {
				state.TransformIssues = err.Error()
				state.Append(schema.AssistantMessage(
					"The transformation failed and was not applied: "+err.Error(), nil))
				return nil
			}
			state.ResultTable = out
			state.ResultRows = out.Rows()
			state.Append(schema.AssistantMessage(
				fmt.Sprintf("Applied the transformation; the table now has %d row(s) and %d column(s).",
					out.NumRows(), out.NumCols()), nil))
			return nil
		})
	})
}

// NewVizFeasibilityNode gates visualization on the table's shape.
func NewVizFeasibilityNode(selector *viz.Selector) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.PipelineInput) (model.PipelineInput, error) {
		return in, compose.ProcessState(ctx, func(_ context.Context, state *model.RequestState) error {
			ok, reason := selector.Feasible(state.ResultTable)
			state.VizFeasible = &ok
			state.FeasibilityReason = reason
			if !ok {
				state.VizTypes = nil
				state.Halt(NodeVizFeasibility, errx.ErrInfeasibleVisualization.Error()+": "+reason)
				state.Append(schema.AssistantMessage("The result cannot be visualized: "+reason, nil))
			}
			return nil
		})
	})
}

// NewVizCondition routes infeasible tables to the finalizer.
func NewVizCondition() func(context.Context, model.PipelineInput) (string, error) {
	return func(ctx context.Context, in model.PipelineInput) (string, error) {
		feasible := false
		compose.ProcessState(ctx, func(_ context.Context, state *model.RequestState) error {
			feasible = state.VizFeasible != nil && *state.VizFeasible
			return nil
		})
		if feasible {
			return NodeVizClassify, nil
		}
		return NodeFinalizer, nil
	}
}

// NewVizClassifyNode selects chart types for the table.
func NewVizClassifyNode(selector *viz.Selector) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.PipelineInput) (model.PipelineInput, error) {
		return in, compose.ProcessState(ctx, func(_ context.Context, state *model.RequestState) error {
			state.VizTypes = selector.Classify(state.ResultTable)
			names := make([]string, 0, len(state.VizTypes))
			for _, t := range state.VizTypes {
				names = append(names, string(t))
			}
			state.Append(schema.AssistantMessage(
				"Selected chart type(s): "+strings.Join(names, ", "), nil))
			return nil
		})
	})
}

// NewVizPrepareNode shapes data for each selected type, skipping types the
// table cannot serve. All types skipped is a terminal condition.
func NewVizPrepareNode(selector *viz.Selector) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.PipelineInput) (model.PipelineInput, error) {
		return in, compose.ProcessState(ctx, func(_ context.Context, state *model.RequestState) error {
			state.Prepared = selector.Prepare(state.ResultTable, state.VizTypes)
			state.VizParams = make(map[model.ChartType]model.ChartParams, len(state.Prepared))
			for _, p := range state.Prepared {
				state.VizParams[p.Type] = p.Params
			}
			if len(state.Prepared) == 0 {
				state.Halt(NodeVizPrepare, "no selected chart type could be prepared")
				state.Append(schema.AssistantMessage("No chart could be prepared from the result table.", nil))
			}
			return nil
		})
	})
}

// NewVizRenderNode renders every prepared chart. Individual render failures
// are logged and skipped.
func NewVizRenderNode(renderer model.ChartRenderer) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.PipelineInput) (model.PipelineInput, error) {
		var prepared []model.PreparedChart
		compose.ProcessState(ctx, func(_ context.Context, state *model.RequestState) error {
			if state.HaltStage == "" {
				prepared = state.Prepared
			}
			return nil
		})
		if len(prepared) == 0 {
			return in, nil
		}

		var figures []*model.Figure
		for _, chart := range prepared {
			fig, err := renderer.Render(ctx, chart)
			if err != nil {
				logx.Warn().Str("chart", string(chart.Type)).Err(err).Msg("chart render failed")
				continue
			}
			figures = append(figures, fig)
		}

		return in, compose.ProcessState(ctx, func(_ context.Context, state *model.RequestState) error {
			state.Figures = figures
			state.Append(schema.AssistantMessage(
				fmt.Sprintf("Rendered %d figure(s).", len(figures)), nil))
			return nil
		})
	})
}

// NewFinalizerNode appends the single terminal summary message and persists
// the run trail. Every path through the graph ends here.
func NewFinalizerNode(repo model.AuditRepository) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.PipelineInput) (*schema.Message, error) {
		var summary *schema.Message
		err := compose.ProcessState(ctx, func(sctx context.Context, state *model.RequestState) error {
			var text string
			if state.HaltStage == "" {
				text = fmt.Sprintf("Pipeline completed: %d row(s), %d figure(s).",
					len(state.ResultRows), len(state.Figures))
			} else {
				text = fmt.Sprintf("Pipeline stopped at %s: %s", state.HaltStage, state.HaltReason)
			}

			summary = schema.AssistantMessage(text, nil)
			summary.Extra = map[string]any{
				"run_id":               state.RunID,
				"usage_cost_total_usd": state.TotalCostUSD,
			}
			state.Append(summary)

			if repo != nil {
				trail := make([]*model.AuditMessage, 0, len(state.Messages))
				for _, m := range state.Messages {
					if m == nil {
						continue
					}
					trail = append(trail, &model.AuditMessage{Role: string(m.Role), Content: m.Content})
				}
				if err := repo.SaveRun(sctx, state.RunID, trail); err != nil {
					logx.Error().Err(err).Str("run_id", state.RunID).Msg("failed to persist run trail")
				}
			}

			logx.Info().
				Str("run_id", state.RunID).
				Str("halt_stage", state.HaltStage).
				Float64("total_cost_usd", state.TotalCostUSD).
				Msg("pipeline finished")
			return nil
		})
		if err != nil {
			return nil, err
		}
		return summary, nil
	})
}
