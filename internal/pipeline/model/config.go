package model

// ================ Config ================

// PlannerModelConfig drives the low-temperature model used for relevance,
// intent extraction, query generation and query validation.
type PlannerModelConfig struct {
	Model       string  `envconfig:"PLANNER_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"PLANNER_MAX_TOKENS" default:"2000"`
	Temperature float32 `envconfig:"PLANNER_TEMPERATURE" default:"0.1"`
}

// CoderModelConfig drives the model used for transformation code generation
// and the advisory cost estimate.
type CoderModelConfig struct {
	Model       string  `envconfig:"CODER_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"CODER_MAX_TOKENS" default:"3000"`
	Temperature float32 `envconfig:"CODER_TEMPERATURE" default:"0.2"`
}

// QueryLoopConfig bounds the self-correcting query loop.
type QueryLoopConfig struct {
	MaxAttempts int `envconfig:"QUERY_MAX_ATTEMPTS" default:"3"`
}

// RiskConfig holds the rule-layer thresholds and the budgets quoted to the
// model layer.
type RiskConfig struct {
	MaxCardinality   int     `envconfig:"RISK_MAX_CARDINALITY" default:"100"`
	MaxDatasetMB     float64 `envconfig:"RISK_MAX_DATASET_MB" default:"1000"`
	MaxRows          int     `envconfig:"RISK_MAX_ROWS" default:"100000"`
	MaxRollingWindow int     `envconfig:"RISK_MAX_ROLLING_WINDOW" default:"10000"`
	MemoryBudgetMB   float64 `envconfig:"RISK_MEMORY_BUDGET_MB" default:"2000"`
	TimeBudgetSecs   float64 `envconfig:"RISK_TIME_BUDGET_SECS" default:"60"`
	ModelLayer       bool    `envconfig:"RISK_MODEL_LAYER" default:"true"`
}

// VizConfig tunes the visualization selector.
type VizConfig struct {
	MaxTypes         int `envconfig:"VIZ_MAX_TYPES" default:"3"`
	PieMaxCategories int `envconfig:"VIZ_PIE_MAX_CATEGORIES" default:"6"`
	SampleRows       int `envconfig:"VIZ_SAMPLE_ROWS" default:"3"`
}

// AuditConfig tunes run-trail persistence.
type AuditConfig struct {
	TTL string `envconfig:"AUDIT_TTL" default:"24h"`
}
