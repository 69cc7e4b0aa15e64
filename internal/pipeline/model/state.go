package model

import (
	"github.com/cloudwego/eino/schema"

	"github.com/tablepilot-core-poc/server/internal/table"
)

// RiskVerdict is the risk gate's overall decision for generated code.
type RiskVerdict string

const (
	RiskUnknown RiskVerdict = ""
	RiskSafe    RiskVerdict = "safe"
	RiskUnsafe  RiskVerdict = "unsafe"
)

// RequestState stores per-request state for the pipeline graph.
// Concurrency model:
//   - This struct is registered as Graph Local State via compose.WithGenLocalState.
//   - All reads/writes happen only inside Eino state handlers:
//     WithStatePreHandler, WithStatePostHandler, or compose.ProcessState.
//   - Eino serializes access to state within these handlers, so no additional
//     mutex/atomic is required as long as you never touch it outside handlers.
//   - Each request owns its own instance; nothing is shared across requests,
//     and the state is discarded after the terminal message is appended.
type RequestState struct {
	RunID         string
	Question      string // immutable once set
	SchemaContext string // fetched once, read-only afterwards

	// Relevance gate
	IsRelevant *bool // nil means "not yet assessed"

	// Intent extraction: table name → ordered columns, with IntentTables
	// preserving discovery order (maps alone lose it).
	IntentTables []string
	ParsedIntent map[string][]string

	// Query loop artifacts; overwritten each retry round. Only the last
	// issues text survives a round, injected into the next generation prompt.
	QueryCandidate string
	QueryValid     *bool
	QueryIssues    string
	AttemptCount   int

	// Query execution output. An empty ResultRows means "no data", not
	// absence of state.
	ResultRows  []map[string]any
	ResultTable *table.Table

	// Transformation stage
	TransformInstruction string
	TransformRelevant    *bool
	TransformCode        string
	TransformIssues      string
	TransformApplied     *bool

	// Risk gate
	RiskVerdict RiskVerdict
	RiskReasons []string

	// Visualization stage
	VizFeasible       *bool
	FeasibilityReason string
	VizTypes          []ChartType
	VizParams         map[ChartType]ChartParams
	Prepared          []PreparedChart
	Figures           []*Figure

	// Messages is the append-only audit trail. Entries are never mutated.
	Messages []*schema.Message

	// Terminal bookkeeping: which stage halted progress and why. Set by the
	// gate that short-circuits; consumed by the finalizer.
	HaltStage  string
	HaltReason string

	// Accumulated total LLM cost (USD) across model invocations for this request.
	TotalCostUSD float64
}

// Append adds a message to the audit trail. The trail is append-only; no
// caller may rewrite an existing entry.
func (s *RequestState) Append(msg *schema.Message) {
	if msg == nil {
		return
	}
	s.Messages = append(s.Messages, msg)
}

// Halt records the first terminal condition. Later calls keep the original
// stage so the summary names where progress actually stopped.
func (s *RequestState) Halt(stage, reason string) {
	if s.HaltStage != "" {
		return
	}
	s.HaltStage = stage
	s.HaltReason = reason
}

// PipelineInput is the public input for one pipeline run.
type PipelineInput struct {
	RunID                string `json:"run_id"`
	Question             string `json:"question"`
	TransformInstruction string `json:"transform_instruction,omitempty"`
}
