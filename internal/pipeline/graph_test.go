package pipeline

import (
	"context"
	"fmt"
	"strings"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tablepilot-core-poc/server/internal/pipeline/model"
	"github.com/tablepilot-core-poc/server/internal/pipeline/nodes"
	"github.com/tablepilot-core-poc/server/internal/query"
	"github.com/tablepilot-core-poc/server/internal/risk"
	"github.com/tablepilot-core-poc/server/internal/sandbox"
	"github.com/tablepilot-core-poc/server/internal/viz"
)

// scriptedModel replays canned responses in call order.
type scriptedModel struct {
	responses []string
	calls     int
}

func (m *scriptedModel) Generate(ctx context.Context, msgs []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	if m.calls >= len(m.responses) {
		return nil, fmt.Errorf("no scripted response for call %d", m.calls)
	}
	resp := m.responses[m.calls]
	m.calls++
	return schema.AssistantMessage(resp, nil), nil
}

func (m *scriptedModel) Stream(ctx context.Context, msgs []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("streaming not supported in tests")
}

type fakeExecutor struct {
	result  *model.QueryResult
	err     error
	queries []string
}

func (f *fakeExecutor) Run(ctx context.Context, q string) (*model.QueryResult, error) {
	f.queries = append(f.queries, q)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeSchemaProvider struct{}

func (fakeSchemaProvider) Schema(ctx context.Context) (string, error) {
	return "CREATE TABLE sales (date TEXT, sales REAL);", nil
}

type fakeRenderer struct {
	rendered []model.ChartType
}

func (f *fakeRenderer) Render(ctx context.Context, chart model.PreparedChart) (*model.Figure, error) {
	f.rendered = append(f.rendered, chart.Type)
	return &model.Figure{Type: chart.Type, HTML: []byte("<html></html>")}, nil
}

type recordingAuditRepo struct {
	savedRunID string
	savedTrail []*model.AuditMessage
}

func (r *recordingAuditRepo) SaveRun(ctx context.Context, runID string, messages []*model.AuditMessage) error {
	r.savedRunID = runID
	r.savedTrail = messages
	return nil
}

func (r *recordingAuditRepo) LoadRun(ctx context.Context, runID string) ([]*model.AuditMessage, error) {
	return r.savedTrail, nil
}

func (r *recordingAuditRepo) DeleteRun(ctx context.Context, runID string) error {
	r.savedTrail = nil
	return nil
}

const (
	intentJSON  = `{"relevant_tables": [{"table_name": "sales", "columns": ["date", "sales"]}]}`
	validJSON   = `{"valid": true, "issues": null, "corrected_query": null}`
	invalidJSON = `{"valid": false, "issues": "unknown column", "corrected_query": null}`
	salesQuery  = "SELECT date, sales FROM sales ORDER BY date;"
)

func salesResult() *model.QueryResult {
	return &model.QueryResult{
		Columns: []string{"date", "sales"},
		Rows: [][]any{
			{"2026-07-01", 100.0},
			{"2026-07-02", 120.0},
			{"2026-07-03", 90.0},
			{"2026-07-04", 140.0},
			{"2026-07-05", 110.0},
		},
	}
}

type fixture struct {
	planner  *scriptedModel
	coder    *scriptedModel
	executor *fakeExecutor
	renderer *fakeRenderer
	audit    *recordingAuditRepo
	runner   Runner
}

func newFixture(t *testing.T, plannerResponses, coderResponses []string, result *model.QueryResult) *fixture {
	t.Helper()

	f := &fixture{
		planner:  &scriptedModel{responses: plannerResponses},
		coder:    &scriptedModel{responses: coderResponses},
		executor: &fakeExecutor{result: result},
		renderer: &fakeRenderer{},
		audit:    &recordingAuditRepo{},
	}

	cms := &nodes.ChatModels{
		Planner:          f.planner,
		Coder:            f.coder,
		PlannerModelName: "test-planner",
		CoderModelName:   "test-coder",
	}
	validator := query.NewValidator(cms.Planner, cms.PlannerModelName, nil)
	builder := query.NewBuilder(cms.Planner, validator, model.QueryLoopConfig{MaxAttempts: 3}, cms.PlannerModelName, nil)
	assessor := risk.NewAssessor(model.RiskConfig{
		MaxCardinality:   100,
		MaxDatasetMB:     1000,
		MaxRows:          100000,
		MaxRollingWindow: 10000,
		ModelLayer:       false,
	}, cms.Coder, cms.CoderModelName, nil)

	runnable, err := BuildGraph(context.Background(), &GraphConfig{
		ChatModels:     cms,
		QueryBuilder:   builder,
		Assessor:       assessor,
		Sandbox:        sandbox.NewExecutor(),
		Selector:       viz.NewSelector(model.VizConfig{}),
		Executor:       f.executor,
		SchemaProvider: fakeSchemaProvider{},
		Renderer:       f.renderer,
		AuditRepo:      f.audit,
		Sink:           nodes.NewCostSink(),
	})
	require.NoError(t, err)

	f.runner = &graphRunner{runnable: runnable}
	return f
}

func TestGraphHappyPathWithoutTransform(t *testing.T) {
	f := newFixture(t,
		[]string{"true", intentJSON, salesQuery, validJSON},
		nil,
		salesResult(),
	)

	out, err := f.runner.Invoke(context.Background(), model.PipelineInput{
		RunID:    "run-happy",
		Question: "How did sales develop over time?",
	})
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, "Pipeline completed: 5 row(s), 2 figure(s).", out.Content)
	assert.Equal(t, "run-happy", out.Extra["run_id"])
	assert.Equal(t, 4, f.planner.calls)
	assert.Zero(t, f.coder.calls)
	assert.Equal(t, []string{salesQuery}, f.executor.queries)
	assert.Equal(t, []model.ChartType{model.ChartLine, model.ChartHistogram}, f.renderer.rendered)
}

func TestGraphHappyPathWithTransform(t *testing.T) {
	result := salesResult()
	result.Rows[2][1] = nil

	f := newFixture(t,
		[]string{"true", intentJSON, salesQuery, validJSON, `{"is_relevant": true, "issues": null}`},
		[]string{"```go\nt = t.DropNulls()\n```"},
		result,
	)

	out, err := f.runner.Invoke(context.Background(), model.PipelineInput{
		RunID:                "run-transform",
		Question:             "How did sales develop over time?",
		TransformInstruction: "drop rows with missing values",
	})
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, "Pipeline completed: 4 row(s), 2 figure(s).", out.Content)
	assert.Equal(t, 5, f.planner.calls)
	assert.Equal(t, 1, f.coder.calls)
	assert.Equal(t, []model.ChartType{model.ChartLine, model.ChartHistogram}, f.renderer.rendered)
}

func TestGraphIrrelevantQuestionStopsAtRelevanceGate(t *testing.T) {
	f := newFixture(t, []string{"false"}, nil, salesResult())

	out, err := f.runner.Invoke(context.Background(), model.PipelineInput{
		RunID:    "run-irrelevant",
		Question: "What is the weather in Bangkok?",
	})
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, "Pipeline stopped at relevance_check: not relevant: the question cannot be answered from the available schema", out.Content)
	assert.Equal(t, 1, f.planner.calls)
	assert.Empty(t, f.executor.queries)
	assert.Empty(t, f.renderer.rendered)
}

func TestGraphExhaustedValidationYieldsEmptyResult(t *testing.T) {
	f := newFixture(t,
		[]string{
			"true", intentJSON,
			salesQuery, invalidJSON,
			salesQuery, invalidJSON,
			salesQuery, invalidJSON,
		},
		nil,
		salesResult(),
	)

	out, err := f.runner.Invoke(context.Background(), model.PipelineInput{
		RunID:    "run-exhausted",
		Question: "How did sales develop over time?",
	})
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.True(t, strings.HasPrefix(out.Content, "Pipeline stopped at query_loop: query validation failed"))
	assert.Contains(t, out.Content, "unknown column")
	assert.Equal(t, 8, f.planner.calls)
	assert.Empty(t, f.executor.queries, "an invalid candidate must never reach the store")
	assert.Empty(t, f.renderer.rendered)
}

func TestGraphUnsafeCodeStopsAtRiskGate(t *testing.T) {
	f := newFixture(t,
		[]string{"true", intentJSON, salesQuery, validJSON, `{"is_relevant": true, "issues": null}`},
		[]string{"```go\nfor i := 0; i < 10; i++ {\n\tfor j := 0; j < 10; j++ {\n\t\tt = t.CrossJoin(t)\n\t}\n}\n```"},
		salesResult(),
	)

	out, err := f.runner.Invoke(context.Background(), model.PipelineInput{
		RunID:                "run-unsafe",
		Question:             "How did sales develop over time?",
		TransformInstruction: "blow the table up",
	})
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.True(t, strings.HasPrefix(out.Content, "Pipeline stopped at risk_gate: unsafe operation:"), out.Content)
	assert.Empty(t, f.renderer.rendered)
	assert.Equal(t, []string{salesQuery}, f.executor.queries, "the query itself still ran before the gate")
}

func TestGraphPersistsAuditTrail(t *testing.T) {
	f := newFixture(t,
		[]string{"true", intentJSON, salesQuery, validJSON},
		nil,
		salesResult(),
	)

	out, err := f.runner.Invoke(context.Background(), model.PipelineInput{
		RunID:    "run-audit",
		Question: "How did sales develop over time?",
	})
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, "run-audit", f.audit.savedRunID)
	require.NotEmpty(t, f.audit.savedTrail)
	assert.Equal(t, "user", f.audit.savedTrail[0].Role)
	assert.Equal(t, "How did sales develop over time?", f.audit.savedTrail[0].Content)
	last := f.audit.savedTrail[len(f.audit.savedTrail)-1]
	assert.Equal(t, "assistant", last.Role)
	assert.Equal(t, out.Content, last.Content)
}

func TestGraphNoRowsIsAnEmptyResultNotAFailure(t *testing.T) {
	f := newFixture(t,
		[]string{"true", intentJSON, salesQuery, validJSON},
		nil,
		nil,
	)
	f.executor.err = model.ErrNoRows

	out, err := f.runner.Invoke(context.Background(), model.PipelineInput{
		RunID:    "run-norows",
		Question: "Sales for a region that does not exist?",
	})
	require.NoError(t, err)
	require.NotNil(t, out)

	assert.Equal(t, "Pipeline stopped at execute_query: the query returned no rows", out.Content)
	assert.Empty(t, f.renderer.rendered)
}
