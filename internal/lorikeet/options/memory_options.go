package options

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/pflag"

	"github.com/lorikeet-ai/lorikeet/internal/core/memory/entity"
)

// MemoryOptions is the three_tier_memory configuration block.
type MemoryOptions struct {
	Enable bool `json:"enable" mapstructure:"enable"`

	PerceptualMaxBlocks           int     `json:"perceptual_max_blocks" mapstructure:"perceptual_max_blocks"`
	PerceptualBlockSize           int     `json:"perceptual_block_size" mapstructure:"perceptual_block_size"`
	PerceptualSimilarityThreshold float64 `json:"perceptual_similarity_threshold" mapstructure:"perceptual_similarity_threshold"`
	PerceptualTopK                int     `json:"perceptual_topk" mapstructure:"perceptual_topk"`

	ShortTermMaxMemories       int     `json:"short_term_max_memories" mapstructure:"short_term_max_memories"`
	ShortTermTransferThreshold float64 `json:"short_term_transfer_threshold" mapstructure:"short_term_transfer_threshold"`
	ShortTermDecayFactor       float64 `json:"short_term_decay_factor" mapstructure:"short_term_decay_factor"`
	ActivationThreshold        int     `json:"activation_threshold" mapstructure:"activation_threshold"`

	LongTermBatchSize            int     `json:"long_term_batch_size" mapstructure:"long_term_batch_size"`
	LongTermDecayFactor          float64 `json:"long_term_decay_factor" mapstructure:"long_term_decay_factor"`
	LongTermAutoTransferInterval int     `json:"long_term_auto_transfer_interval" mapstructure:"long_term_auto_transfer_interval"`

	JudgeModelName       string  `json:"judge_model_name" mapstructure:"judge_model_name"`
	JudgeTemperature     float64 `json:"judge_temperature" mapstructure:"judge_temperature"`
	EnableJudgeRetrieval bool    `json:"enable_judge_retrieval" mapstructure:"enable_judge_retrieval"`
}

// NewMemoryOptions returns the documented defaults.
func NewMemoryOptions() *MemoryOptions {
	d := entity.DefaultConfig()
	return &MemoryOptions{
		Enable:                        d.Enable,
		PerceptualMaxBlocks:           d.PerceptualMaxBlocks,
		PerceptualBlockSize:           d.PerceptualBlockSize,
		PerceptualSimilarityThreshold: d.PerceptualSimilarityThreshold,
		PerceptualTopK:                d.PerceptualTopK,
		ShortTermMaxMemories:          d.ShortTermMaxMemories,
		ShortTermTransferThreshold:    d.ShortTermTransferThreshold,
		ShortTermDecayFactor:          d.ShortTermDecayFactor,
		ActivationThreshold:           d.ActivationThreshold,
		LongTermBatchSize:             d.LongTermBatchSize,
		LongTermDecayFactor:           d.LongTermDecayFactor,
		LongTermAutoTransferInterval:  d.LongTermAutoTransferInterval,
		JudgeModelName:                d.JudgeModelName,
		JudgeTemperature:              d.JudgeTemperature,
		EnableJudgeRetrieval:          d.EnableJudgeRetrieval,
	}
}

// Validate checks MemoryOptions fields.
func (o *MemoryOptions) Validate() []error {
	var errs []error
	if o.PerceptualBlockSize <= 0 {
		errs = append(errs, fmt.Errorf("perceptual_block_size must be positive, got %d", o.PerceptualBlockSize))
	}
	if o.PerceptualSimilarityThreshold < 0 || o.PerceptualSimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("perceptual_similarity_threshold must be in [0,1], got %v", o.PerceptualSimilarityThreshold))
	}
	if o.ShortTermDecayFactor <= 0 || o.ShortTermDecayFactor > 1 {
		errs = append(errs, fmt.Errorf("short_term_decay_factor must be in (0,1], got %v", o.ShortTermDecayFactor))
	}
	if o.LongTermBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("long_term_batch_size must be positive, got %d", o.LongTermBatchSize))
	}
	if o.LongTermAutoTransferInterval <= 0 {
		errs = append(errs, fmt.Errorf("long_term_auto_transfer_interval must be positive, got %d", o.LongTermAutoTransferInterval))
	}
	return errs
}

// ToConfig builds the engine config rooted under dataDir.
func (o *MemoryOptions) ToConfig(dataDir string) entity.Config {
	return entity.Config{
		Enable:                        o.Enable,
		PerceptualMaxBlocks:           o.PerceptualMaxBlocks,
		PerceptualBlockSize:           o.PerceptualBlockSize,
		PerceptualSimilarityThreshold: o.PerceptualSimilarityThreshold,
		PerceptualTopK:                o.PerceptualTopK,
		ShortTermMaxMemories:          o.ShortTermMaxMemories,
		ShortTermTransferThreshold:    o.ShortTermTransferThreshold,
		ShortTermDecayFactor:          o.ShortTermDecayFactor,
		ActivationThreshold:           o.ActivationThreshold,
		LongTermBatchSize:             o.LongTermBatchSize,
		LongTermDecayFactor:           o.LongTermDecayFactor,
		LongTermAutoTransferInterval:  o.LongTermAutoTransferInterval,
		JudgeModelName:                o.JudgeModelName,
		JudgeTemperature:              o.JudgeTemperature,
		EnableJudgeRetrieval:          o.EnableJudgeRetrieval,
		DataDir:                       filepath.Join(dataDir, "memory"),
	}
}

// AddFlags adds flags for the memory options. Only top-level switches are
// exposed; tuning constants come from the config file.
func (o *MemoryOptions) AddFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&o.Enable, "three-tier-memory.enable", o.Enable, "Enable the three-tier memory engine.")
	fs.StringVar(&o.JudgeModelName, "three-tier-memory.judge-model-name", o.JudgeModelName, "Model used for memory judge calls.")
	fs.BoolVar(&o.EnableJudgeRetrieval, "three-tier-memory.enable-judge-retrieval", o.EnableJudgeRetrieval, "Consult the judge before long-term expansion.")
}
