package options

import (
	"fmt"

	"github.com/spf13/pflag"
)

// ReplyOptions configures the reply generator.
type ReplyOptions struct {
	// Persona is the static header of every prompt.
	Persona string `json:"persona" mapstructure:"persona"`

	// ReplyThreshold gates replies to group messages not addressed to the
	// bot.
	ReplyThreshold float64 `json:"reply_threshold" mapstructure:"reply_threshold"`
}

// NewReplyOptions returns the documented defaults.
func NewReplyOptions() *ReplyOptions {
	return &ReplyOptions{
		ReplyThreshold: 0.5,
	}
}

// Validate checks ReplyOptions fields.
func (o *ReplyOptions) Validate() []error {
	var errs []error
	if o.ReplyThreshold < 0 || o.ReplyThreshold > 1 {
		errs = append(errs, fmt.Errorf("reply_threshold must be in [0,1], got %v", o.ReplyThreshold))
	}
	return errs
}

// AddFlags adds flags for the reply options.
func (o *ReplyOptions) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Persona, "reply.persona", o.Persona, "Persona header prepended to every prompt.")
	fs.Float64Var(&o.ReplyThreshold, "reply.reply-threshold", o.ReplyThreshold, "Minimum interest for unaddressed group replies.")
}
