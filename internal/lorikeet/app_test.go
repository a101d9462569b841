package lorikeet

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorikeet-ai/lorikeet/internal/core/memory/entity"
	"github.com/lorikeet-ai/lorikeet/internal/lorikeet/options"
)

func TestJudgeModelConfigUsesJudgeModel(t *testing.T) {
	models := options.NewModelOptions()
	models.BaseURL = "https://llm.internal/v1"
	models.APIKey = "sk-test"
	models.Model = "gpt-4o"
	models.Temperature = 0.7

	mem := entity.DefaultConfig()
	mem.JudgeModelName = "gpt-4o-mini"
	mem.JudgeTemperature = 0.1

	cfg := judgeModelConfig(models, mem)
	assert.Equal(t, "gpt-4o-mini", cfg.Model)
	assert.Equal(t, "https://llm.internal/v1", cfg.BaseURL)
	assert.Equal(t, "sk-test", cfg.APIKey)
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.1, float64(*cfg.Temperature), 1e-6)
}

func TestJudgeModelConfigFallsBackToMainModel(t *testing.T) {
	models := options.NewModelOptions()
	models.Model = "gpt-4o"
	models.Temperature = 0.7

	mem := entity.DefaultConfig()
	mem.JudgeModelName = ""

	cfg := judgeModelConfig(models, mem)
	assert.Equal(t, "gpt-4o", cfg.Model)
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.7, float64(*cfg.Temperature), 1e-6)
}
