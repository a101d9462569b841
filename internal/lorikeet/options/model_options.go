package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

// ModelOptions configures the chat model and the embedding endpoint. Both
// speak the OpenAI API shape.
type ModelOptions struct {
	BaseURL     string  `json:"base-url" mapstructure:"base-url"`
	APIKey      string  `json:"api-key" mapstructure:"api-key"`
	Model       string  `json:"model" mapstructure:"model"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max-tokens" mapstructure:"max-tokens"`

	EmbeddingBaseURL string `json:"embedding-base-url" mapstructure:"embedding-base-url"`
	EmbeddingModel   string `json:"embedding-model" mapstructure:"embedding-model"`
}

// NewModelOptions returns the documented defaults.
func NewModelOptions() *ModelOptions {
	return &ModelOptions{
		Model:          "gpt-4o-mini",
		Temperature:    0.7,
		EmbeddingModel: "text-embedding-3-small",
	}
}

// Validate checks ModelOptions fields.
func (o *ModelOptions) Validate() []error {
	var errs []error
	if o.Model == "" {
		errs = append(errs, fmt.Errorf("model is required"))
	}
	if o.Temperature < 0 || o.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature must be in [0,2], got %v", o.Temperature))
	}
	return errs
}

// AddFlags adds flags for the model options.
func (o *ModelOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.BaseURL, "models.base-url", o.BaseURL, "Chat model API base URL.")
	fs.StringVar(&o.APIKey, "models.api-key", o.APIKey, "Chat model API key.")
	fs.StringVar(&o.Model, "models.model", o.Model, "Default chat model ID.")
	fs.Float64Var(&o.Temperature, "models.temperature", o.Temperature, "Sampling temperature.")
	fs.IntVar(&o.MaxTokens, "models.max-tokens", o.MaxTokens, "Completion token cap, 0 for provider default.")
	fs.StringVar(&o.EmbeddingBaseURL, "models.embedding-base-url", o.EmbeddingBaseURL, "Embedding API base URL, defaults to base-url.")
	fs.StringVar(&o.EmbeddingModel, "models.embedding-model", o.EmbeddingModel, "Embedding model ID.")
}
