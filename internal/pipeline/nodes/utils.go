package nodes

import (
	"context"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/tablepilot-core-poc/server/internal/pipeline/model"
	logx "github.com/tablepilot-core-poc/server/pkg/logger"
)

// Graph node names. These double as the stage labels recorded in Halt and in
// terminal messages.
const (
	NodeRelevanceGate  = "relevance_check"
	NodeIntentExtract  = "intent_extraction"
	NodeQueryLoop      = "query_loop"
	NodeExecuteQuery   = "execute_query"
	NodeTransformGate  = "preprocess_relevance"
	NodeCodeGen        = "code_generation"
	NodeRiskGate       = "risk_gate"
	NodeSandboxExecute = "sandboxed_execute"
	NodeVizFeasibility = "viz_feasibility"
	NodeVizClassify    = "viz_classify"
	NodeVizPrepare     = "viz_prepare"
	NodeVizRender      = "viz_render"
	NodeFinalizer      = "finalizer"
)

// NewCostSink returns a CostSink that accumulates USD cost into the
// graph-local request state and logs per-call usage.
func NewCostSink() model.CostSink {
	return func(ctx context.Context, modelName string, usage *schema.TokenUsage) {
		if !model.CostEnabled() || usage == nil {
			return
		}
		pricing := model.ResolvePricing(modelName)
		inC, outC, totalC := model.ComputeCost(usage, pricing)
		logx.Debug().
			Str("model", modelName).
			Int("prompt_tokens", usage.PromptTokens).
			Int("completion_tokens", usage.CompletionTokens).
			Int("total_tokens", usage.TotalTokens).
			Float64("input_cost_usd", inC).
			Float64("output_cost_usd", outC).
			Float64("total_cost_usd", totalC).
			Msg("LLM usage")

		err := compose.ProcessState(ctx, func(_ context.Context, state *model.RequestState) error {
			state.TotalCostUSD += totalC
			return nil
		})
		if err != nil {
			logx.Warn().Err(err).Msg("failed to record usage cost in state")
		}
	}
}

// invokeModel runs one blocking model round-trip and feeds usage to the sink.
func invokeModel(ctx context.Context, cm einomodel.BaseChatModel, modelName string, sink model.CostSink, msgs []*schema.Message) (*schema.Message, error) {
	out, err := cm.Generate(ctx, msgs)
	if err != nil {
		return nil, err
	}
	if sink != nil && out.ResponseMeta != nil {
		sink(ctx, modelName, out.ResponseMeta.Usage)
	}
	return out, nil
}
