// Package pipeline wires the question-to-figures flow into a compiled graph:
// relevance gate, intent extraction, the bounded query loop, execution, the
// optional preprocessing path (relevance, code generation, risk gate,
// sandbox), and the visualization stages.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/tablepilot-core-poc/server/internal/pipeline/model"
	"github.com/tablepilot-core-poc/server/internal/pipeline/nodes"
	"github.com/tablepilot-core-poc/server/internal/pipeline/observers"
	"github.com/tablepilot-core-poc/server/internal/query"
	"github.com/tablepilot-core-poc/server/internal/risk"
	"github.com/tablepilot-core-poc/server/internal/sandbox"
	"github.com/tablepilot-core-poc/server/internal/viz"
	logx "github.com/tablepilot-core-poc/server/pkg/logger"
)

// Runner is a thin wrapper to execute the compiled graph with the public PipelineInput.
type Runner interface {
	Invoke(ctx context.Context, in model.PipelineInput) (*schema.Message, error)
}

// Config holds everything needed to compose the full pipeline end-to-end.
// This is a convenience layer over GraphConfig that also constructs the chat
// models and stage components.
type Config struct {
	APIKey  string
	BaseURL string

	Planner   model.PlannerModelConfig
	Coder     model.CoderModelConfig
	QueryLoop model.QueryLoopConfig
	Risk      model.RiskConfig
	Viz       model.VizConfig

	Executor       model.QueryExecutor
	SchemaProvider model.SchemaProvider
	Renderer       model.ChartRenderer
	AuditRepo      model.AuditRepository
}

// GraphConfig holds all constructed collaborators needed to build the graph
type GraphConfig struct {
	ChatModels     *nodes.ChatModels
	QueryBuilder   *query.Builder
	Assessor       *risk.Assessor
	Sandbox        *sandbox.Executor
	Selector       *viz.Selector
	Executor       model.QueryExecutor
	SchemaProvider model.SchemaProvider
	Renderer       model.ChartRenderer
	AuditRepo      model.AuditRepository
	Sink           model.CostSink
}

// GraphBuilder handles the construction of the pipeline graph
type GraphBuilder struct {
	config *GraphConfig
	graph  *compose.Graph[model.PipelineInput, *schema.Message]
}

type graphRunner struct {
	runnable compose.Runnable[model.PipelineInput, *schema.Message]
}

func (r *graphRunner) Invoke(ctx context.Context, in model.PipelineInput) (*schema.Message, error) {
	out, err := r.runnable.Invoke(ctx, in, compose.WithCallbacks(observers.NewAllCallbacks()))
	if err != nil {
		return nil, err
	}
	// Best-effort print Extra (e.g., usage_cost) if present
	if out != nil && len(out.Extra) > 0 {
		if b, err := json.MarshalIndent(out.Extra, "", "  "); err == nil {
			fmt.Printf("Extra: %s\n", string(b))
		}
	}
	return out, nil
}

// BuildPipeline composes chat models and stage components, builds the graph,
// and returns a Runner.
func BuildPipeline(ctx context.Context, cfg Config) (Runner, error) {
	if cfg.Executor == nil || cfg.SchemaProvider == nil {
		return nil, fmt.Errorf("query executor and schema provider are required")
	}
	if cfg.Renderer == nil {
		return nil, fmt.Errorf("chart renderer is required")
	}

	cms, err := nodes.NewChatModels(ctx, nodes.ChatModelConfig{
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		PlannerCfg: &cfg.Planner,
		CoderCfg:   &cfg.Coder,
	})
	if err != nil {
		return nil, err
	}

	sink := nodes.NewCostSink()
	validator := query.NewValidator(cms.Planner, cms.PlannerModelName, sink)
	builder := query.NewBuilder(cms.Planner, validator, cfg.QueryLoop, cms.PlannerModelName, sink)
	assessor := risk.NewAssessor(cfg.Risk, cms.Coder, cms.CoderModelName, sink)

	runnable, err := BuildGraph(ctx, &GraphConfig{
		ChatModels:     cms,
		QueryBuilder:   builder,
		Assessor:       assessor,
		Sandbox:        sandbox.NewExecutor(),
		Selector:       viz.NewSelector(cfg.Viz),
		Executor:       cfg.Executor,
		SchemaProvider: cfg.SchemaProvider,
		Renderer:       cfg.Renderer,
		AuditRepo:      cfg.AuditRepo,
		Sink:           sink,
	})
	if err != nil {
		return nil, err
	}

	logx.Debug().Msg("Pipeline graph built successfully")
	return &graphRunner{runnable: runnable}, nil
}

// BuildGraph constructs and returns the compiled pipeline graph
func BuildGraph(ctx context.Context, config *GraphConfig) (compose.Runnable[model.PipelineInput, *schema.Message], error) {
	if config == nil {
		return nil, fmt.Errorf("graph config is nil")
	}
	if config.ChatModels == nil || config.ChatModels.Planner == nil || config.ChatModels.Coder == nil {
		return nil, fmt.Errorf("chat models are not properly initialized")
	}
	if config.QueryBuilder == nil || config.Assessor == nil || config.Sandbox == nil || config.Selector == nil {
		return nil, fmt.Errorf("stage components are not properly initialized")
	}

	builder := &GraphBuilder{
		config: config,
		graph: compose.NewGraph[model.PipelineInput, *schema.Message](
			compose.WithGenLocalState(func(ctx context.Context) *model.RequestState {
				return &model.RequestState{}
			}),
		),
	}

	builder.addNodes()
	builder.addEdges()

	if err := builder.addBranches(); err != nil {
		return nil, err
	}

	return builder.compile(ctx)
}

// addNodes adds all processing nodes to the graph
func (b *GraphBuilder) addNodes() {
	b.graph.AddLambdaNode(nodes.NodeRelevanceGate,
		nodes.NewRelevanceGateNode(b.config.ChatModels, b.config.SchemaProvider, b.config.Sink),
		compose.WithStatePreHandler(nodes.NewRelevanceGatePreHandler()),
	)

	b.graph.AddLambdaNode(nodes.NodeIntentExtract,
		nodes.NewIntentExtractNode(b.config.ChatModels, b.config.Sink),
	)

	b.graph.AddLambdaNode(nodes.NodeQueryLoop,
		nodes.NewQueryLoopNode(b.config.QueryBuilder),
	)

	b.graph.AddLambdaNode(nodes.NodeExecuteQuery,
		nodes.NewExecuteQueryNode(b.config.Executor),
	)

	b.graph.AddLambdaNode(nodes.NodeTransformGate,
		nodes.NewTransformGateNode(b.config.ChatModels, b.config.Sink),
	)

	b.graph.AddLambdaNode(nodes.NodeCodeGen,
		nodes.NewCodeGenNode(b.config.ChatModels, b.config.Sink),
	)

	b.graph.AddLambdaNode(nodes.NodeRiskGate,
		nodes.NewRiskGateNode(b.config.Assessor),
	)

	b.graph.AddLambdaNode(nodes.NodeSandboxExecute,
		nodes.NewSandboxExecuteNode(b.config.Sandbox),
	)

	b.graph.AddLambdaNode(nodes.NodeVizFeasibility,
		nodes.NewVizFeasibilityNode(b.config.Selector),
	)

	b.graph.AddLambdaNode(nodes.NodeVizClassify,
		nodes.NewVizClassifyNode(b.config.Selector),
	)

	b.graph.AddLambdaNode(nodes.NodeVizPrepare,
		nodes.NewVizPrepareNode(b.config.Selector),
	)

	b.graph.AddLambdaNode(nodes.NodeVizRender,
		nodes.NewVizRenderNode(b.config.Renderer),
	)

	b.graph.AddLambdaNode(nodes.NodeFinalizer,
		nodes.NewFinalizerNode(b.config.AuditRepo),
	)
}

// addEdges creates the unconditional flow connections between nodes
func (b *GraphBuilder) addEdges() {
	edges := [][2]string{
		{compose.START, nodes.NodeRelevanceGate},
		{nodes.NodeIntentExtract, nodes.NodeQueryLoop},
		{nodes.NodeQueryLoop, nodes.NodeExecuteQuery},
		{nodes.NodeCodeGen, nodes.NodeRiskGate},
		{nodes.NodeSandboxExecute, nodes.NodeVizFeasibility},
		{nodes.NodeVizClassify, nodes.NodeVizPrepare},
		{nodes.NodeVizPrepare, nodes.NodeVizRender},
		{nodes.NodeVizRender, nodes.NodeFinalizer},
		{nodes.NodeFinalizer, compose.END},
	}

	for _, edge := range edges {
		b.graph.AddEdge(edge[0], edge[1])
	}
}

// addBranches creates the gate routing. Every negative branch lands on the
// finalizer so each run appends exactly one terminal message.
func (b *GraphBuilder) addBranches() error {
	branches := []struct {
		from    string
		branch  *compose.GraphBranch
		failure string
	}{
		{
			from: nodes.NodeRelevanceGate,
			branch: compose.NewGraphBranch(nodes.NewRelevanceCondition(), map[string]bool{
				nodes.NodeIntentExtract: true,
				nodes.NodeFinalizer:     true,
			}),
			failure: "relevance",
		},
		{
			from: nodes.NodeExecuteQuery,
			branch: compose.NewGraphBranch(nodes.NewExecuteCondition(), map[string]bool{
				nodes.NodeTransformGate:  true,
				nodes.NodeVizFeasibility: true,
				nodes.NodeFinalizer:      true,
			}),
			failure: "execute",
		},
		{
			from: nodes.NodeTransformGate,
			branch: compose.NewGraphBranch(nodes.NewTransformGateCondition(), map[string]bool{
				nodes.NodeCodeGen:   true,
				nodes.NodeFinalizer: true,
			}),
			failure: "transform gate",
		},
		{
			from: nodes.NodeRiskGate,
			branch: compose.NewGraphBranch(nodes.NewRiskCondition(), map[string]bool{
				nodes.NodeSandboxExecute: true,
				nodes.NodeFinalizer:      true,
			}),
			failure: "risk gate",
		},
		{
			from: nodes.NodeVizFeasibility,
			branch: compose.NewGraphBranch(nodes.NewVizCondition(), map[string]bool{
				nodes.NodeVizClassify: true,
				nodes.NodeFinalizer:   true,
			}),
			failure: "viz feasibility",
		},
	}

	for _, br := range branches {
		if err := b.graph.AddBranch(br.from, br.branch); err != nil {
			logx.Error().Err(err).Msg("Error adding " + br.failure + " branch")
			return fmt.Errorf("error adding %s branch: %w", br.failure, err)
		}
	}
	return nil
}

// compile finalizes and compiles the graph
func (b *GraphBuilder) compile(ctx context.Context) (compose.Runnable[model.PipelineInput, *schema.Message], error) {
	// The flow is linear with gates, so a small fixed step budget is enough.
	runnable, err := b.graph.Compile(ctx, compose.WithMaxRunSteps(20))
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Msg("Graph compiled successfully")
	return runnable, nil
}
