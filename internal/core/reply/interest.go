package reply

import (
	"context"

	"github.com/lorikeet-ai/lorikeet/internal/core/envelope"
	"github.com/lorikeet-ai/lorikeet/internal/core/plugin"
	"github.com/lorikeet-ai/lorikeet/pkg/logger"
)

// DefaultReplyThreshold is the minimum aggregate interest for replying to a
// group message that does not address the bot.
const DefaultReplyThreshold = 0.5

// InterestAggregator folds the scores of every enabled INTEREST_CALCULATOR
// component into one value.
type InterestAggregator struct {
	registry *plugin.Registry
}

func NewInterestAggregator(registry *plugin.Registry) *InterestAggregator {
	return &InterestAggregator{registry: registry}
}

// Score averages the calculators enabled for the envelope's stream. With no
// calculators registered the score is neutral (0.5), so group replies fall
// back to the threshold comparison alone.
func (a *InterestAggregator) Score(ctx context.Context, e *envelope.Envelope) float64 {
	if a.registry == nil {
		return 0.5
	}
	components := a.registry.EnabledByKind(plugin.KindInterestCalculator, e.StreamID())
	if len(components) == 0 {
		return 0.5
	}

	var sum float64
	var counted int
	for _, c := range components {
		calc, ok := c.Impl.(plugin.InterestCalculatorLike)
		if !ok {
			continue
		}
		score := calc.Score(ctx, e)
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		sum += score
		counted++
	}
	if counted == 0 {
		return 0.5
	}
	return sum / float64(counted)
}

// ShouldReply decides whether the envelope warrants a reply. Private
// messages and anything addressed to the bot always do; other group traffic
// needs the aggregate interest to clear the threshold.
func ShouldReply(e *envelope.Envelope, score, threshold float64) bool {
	if e.Info.ToMe {
		return true
	}
	switch e.Info.Type {
	case envelope.MessageTypePrivate:
		return true
	case envelope.MessageTypeGroup:
		if score >= threshold {
			return true
		}
		logger.Debug("[Reply] interest %.2f below threshold %.2f, staying quiet on %s",
			score, threshold, e.StreamID())
		return false
	default:
		return false
	}
}
