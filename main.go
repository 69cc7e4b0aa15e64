package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/tablepilot-core-poc/server/internal/audit"
	"github.com/tablepilot-core-poc/server/internal/core"
	"github.com/tablepilot-core-poc/server/internal/pipeline"
	"github.com/tablepilot-core-poc/server/internal/pipeline/model"
	"github.com/tablepilot-core-poc/server/internal/store"
	"github.com/tablepilot-core-poc/server/internal/viz/render"
	logx "github.com/tablepilot-core-poc/server/pkg/logger"
	pkgredis "github.com/tablepilot-core-poc/server/pkg/redis"
	pkgsqlite "github.com/tablepilot-core-poc/server/pkg/sqlite"
)

// AppConfig defines all configurable parameters for the pipeline example,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Env string `envconfig:"APP_ENV" default:"development"`

	// Infrastructure
	Sqlite pkgsqlite.Config
	Redis  pkgredis.Config

	// LLM provider
	APIKey  string `envconfig:"GEMINI_API_KEY" required:"true"`
	BaseURL string `envconfig:"GEMINI_BASE_URL"`

	// Pipeline configs
	Planner   model.PlannerModelConfig
	Coder     model.CoderModelConfig
	QueryLoop model.QueryLoopConfig
	Risk      model.RiskConfig
	Viz       model.VizConfig
	Audit     model.AuditConfig
}

func main() {
	fmt.Println("Testing tabular Q&A pipeline...")
	ctx := context.Background()
	// Load .env file
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	// Load structured config from env
	var envCfg AppConfig
	if err := envconfig.Process("", &envCfg); err != nil {
		log.Fatalf("Failed to process environment config: %v", err)
	}
	logx.Init(logx.LoggerOpts{Environment: core.ParseEnvironment(envCfg.Env)})

	db, err := envCfg.Sqlite.New()
	if err != nil {
		log.Fatalf("Failed to open sqlite database: %v", err)
	}
	defer db.Close()
	if err := seedDemoData(ctx, db); err != nil {
		log.Fatalf("Failed to seed demo data: %v", err)
	}
	fmt.Println("Connected to sqlite successfully")

	// Run trail persistence is optional for local runs
	var auditRepo model.AuditRepository
	if envCfg.Redis.URL != "" {
		rdb, err := envCfg.Redis.New()
		if err != nil {
			log.Fatalf("Failed to initialise Redis client: %v", err)
		}
		defer rdb.Close()

		ttl, err := time.ParseDuration(envCfg.Audit.TTL)
		if err != nil {
			log.Fatalf("Invalid AUDIT_TTL '%s': %v", envCfg.Audit.TTL, err)
		}
		auditRepo = audit.NewRedisRunRepository(rdb, ttl)
		fmt.Println("Connected to Redis successfully")
	}

	// ====================================================
	// Build pipeline config entirely from env
	executor := store.NewSQLExecutor(db)

	runner, err := pipeline.BuildPipeline(ctx, pipeline.Config{
		APIKey:         envCfg.APIKey,
		BaseURL:        envCfg.BaseURL,
		Planner:        envCfg.Planner,
		Coder:          envCfg.Coder,
		QueryLoop:      envCfg.QueryLoop,
		Risk:           envCfg.Risk,
		Viz:            envCfg.Viz,
		Executor:       executor,
		SchemaProvider: executor,
		Renderer:       render.NewEchartsRenderer(),
		AuditRepo:      auditRepo,
	})
	if err != nil {
		log.Fatalf("Failed to build pipeline: %v", err)
	}

	testRuns := []struct {
		description string
		input       model.PipelineInput
	}{
		{
			description: "Plain aggregation question",
			input: model.PipelineInput{
				Question: "What were the total sales per region last quarter?",
			},
		},
		{
			description: "Time series question with preprocessing",
			input: model.PipelineInput{
				Question:             "How did daily sales develop over time?",
				TransformInstruction: "drop rows with missing values and sort by date",
			},
		},
		{
			description: "Off-topic question hits the relevance gate",
			input: model.PipelineInput{
				Question: "What is the capital of France?",
			},
		},
	}

	for i, test := range testRuns {
		fmt.Printf("\nTest %d: %s\n", i+1, test.description)
		fmt.Printf("Question: %q\n", test.input.Question)
		fmt.Println("Processing...")

		summary, err := runner.Invoke(ctx, test.input)
		if err != nil {
			log.Fatalf("Failed to invoke pipeline for test %d: %v", i+1, err)
		}

		fmt.Printf("Result %d: %s\n", i+1, summary.Content)
		fmt.Println("────────────────────────────────────────────────")

		// slight delay between tests for readability
		time.Sleep(500 * time.Millisecond)
	}

	fmt.Println("All pipeline tests completed!")
}

// seedDemoData creates and fills the demo sales table when it is absent.
func seedDemoData(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS sales (
			date    TEXT NOT NULL,
			region  TEXT NOT NULL,
			product TEXT NOT NULL,
			units   INTEGER NOT NULL,
			amount  REAL NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("create sales table: %w", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sales").Scan(&count); err != nil {
		return fmt.Errorf("count sales rows: %w", err)
	}
	if count > 0 {
		return nil
	}

	rows := [][]any{
		{"2026-07-01", "north", "widget", 12, 1200.0},
		{"2026-07-01", "south", "widget", 7, 700.0},
		{"2026-07-02", "north", "gadget", 5, 950.0},
		{"2026-07-02", "south", "widget", 9, 900.0},
		{"2026-07-03", "north", "widget", 14, 1400.0},
		{"2026-07-03", "south", "gadget", 3, 570.0},
		{"2026-07-04", "north", "gadget", 8, 1520.0},
		{"2026-07-04", "south", "widget", 11, 1100.0},
		{"2026-07-05", "north", "widget", 10, 1000.0},
		{"2026-07-05", "south", "gadget", 6, 1140.0},
	}
	for _, r := range rows {
		if _, err := db.ExecContext(ctx,
			"INSERT INTO sales (date, region, product, units, amount) VALUES (?, ?, ?, ?, ?)",
			r...); err != nil {
			return fmt.Errorf("insert sales row: %w", err)
		}
	}
	return nil
}
