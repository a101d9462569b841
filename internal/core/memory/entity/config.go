package entity

import (
	"time"
)

// Config is the three_tier_memory configuration block.
type Config struct {
	Enable bool `mapstructure:"enable"`

	PerceptualMaxBlocks           int     `mapstructure:"perceptual_max_blocks"`
	PerceptualBlockSize           int     `mapstructure:"perceptual_block_size"`
	PerceptualSimilarityThreshold float64 `mapstructure:"perceptual_similarity_threshold"`
	PerceptualTopK                int     `mapstructure:"perceptual_topk"`

	ShortTermMaxMemories       int     `mapstructure:"short_term_max_memories"`
	ShortTermTransferThreshold float64 `mapstructure:"short_term_transfer_threshold"`
	ShortTermDecayFactor       float64 `mapstructure:"short_term_decay_factor"`
	ActivationThreshold        int     `mapstructure:"activation_threshold"`

	LongTermBatchSize            int     `mapstructure:"long_term_batch_size"`
	LongTermDecayFactor          float64 `mapstructure:"long_term_decay_factor"`
	LongTermAutoTransferInterval int     `mapstructure:"long_term_auto_transfer_interval"`

	JudgeModelName       string  `mapstructure:"judge_model_name"`
	JudgeTemperature     float64 `mapstructure:"judge_temperature"`
	EnableJudgeRetrieval bool    `mapstructure:"enable_judge_retrieval"`

	// DataDir holds the staging journals.
	DataDir string `mapstructure:"data_dir"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		Enable:                        true,
		PerceptualMaxBlocks:           50,
		PerceptualBlockSize:           5,
		PerceptualSimilarityThreshold: 0.55,
		PerceptualTopK:                3,
		ShortTermMaxMemories:          100,
		ShortTermTransferThreshold:    0.6,
		ShortTermDecayFactor:          0.98,
		ActivationThreshold:           3,
		LongTermBatchSize:             10,
		LongTermDecayFactor:           0.95,
		LongTermAutoTransferInterval:  600,
		JudgeModelName:                "gpt-4o-mini",
		JudgeTemperature:              0.1,
		EnableJudgeRetrieval:          true,
		DataDir:                       "data/memory",
	}
}

// TransferInterval returns the consolidation cadence as a duration.
func (c Config) TransferInterval() time.Duration {
	return time.Duration(c.LongTermAutoTransferInterval) * time.Second
}
