package nodes

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	einomodel "github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	"github.com/tablepilot-core-poc/server/internal/pipeline/model"
	logx "github.com/tablepilot-core-poc/server/pkg/logger"
)

// ChatModelConfig holds the configuration for chat model creation
type ChatModelConfig struct {
	APIKey     string
	BaseURL    string
	PlannerCfg *model.PlannerModelConfig
	CoderCfg   *model.CoderModelConfig
}

// ChatModels holds the planner and coder chat models. The planner handles
// relevance, intent, query generation and validation; the coder handles
// transformation code and cost estimates.
type ChatModels struct {
	Planner          einomodel.BaseChatModel
	Coder            einomodel.BaseChatModel
	PlannerModelName string
	CoderModelName   string
}

// NewChatModels creates both planner and coder chat models with the given configuration
func NewChatModels(ctx context.Context, config ChatModelConfig) (*ChatModels, error) {

	clientCfg := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.BaseURL != "" {
		clientCfg.HTTPOptions.BaseURL = config.BaseURL
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}

	planner, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.PlannerCfg.Model,
		Temperature: &config.PlannerCfg.Temperature,
		MaxTokens:   &config.PlannerCfg.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating planner model")
		return nil, fmt.Errorf("error creating planner model: %w", err)
	}

	coder, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       config.CoderCfg.Model,
		Temperature: &config.CoderCfg.Temperature,
		MaxTokens:   &config.CoderCfg.MaxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating coder model")
		return nil, fmt.Errorf("error creating coder model: %w", err)
	}

	return &ChatModels{
		Planner:          planner,
		Coder:            coder,
		PlannerModelName: config.PlannerCfg.Model,
		CoderModelName:   config.CoderCfg.Model,
	}, nil
}
