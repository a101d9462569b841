package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/lorikeet-ai/lorikeet/internal/core/llm"
	"github.com/lorikeet-ai/lorikeet/internal/core/memory/entity"
	"github.com/lorikeet-ai/lorikeet/pkg/utils/json"
)

// ModelOps implements every model-consulting role of the engine on one
// judge client: triple extraction, admission decisions, consolidation
// planning, causality, and retrieval sufficiency.
type ModelOps struct {
	judge *llm.Judge
}

func NewModelOps(judge *llm.Judge) *ModelOps {
	return &ModelOps{judge: judge}
}

var _ Extractor = (*ModelOps)(nil)
var _ Decider = (*ModelOps)(nil)
var _ Planner = (*ModelOps)(nil)
var _ CausalityJudge = (*ModelOps)(nil)
var _ SufficiencyJudge = (*ModelOps)(nil)

const extractSystem = `You distill chat transcripts into structured memories.
Return a JSON object {"triples":[{"subject":...,"topic":...,"object":...,"attributes":{...},"importance":0.0-1.0}]}.
Return {"triples":[]} when nothing is worth remembering.`

func (o *ModelOps) ExtractTriples(ctx context.Context, blockText string) ([]entity.Triple, error) {
	var out struct {
		Triples []entity.Triple `json:"triples"`
	}
	if err := o.judge.Decide(ctx, extractSystem, blockText, &out); err != nil {
		return nil, err
	}
	return out.Triples, nil
}

const decideSystem = `You maintain a short-term memory store. Given a candidate memory and its nearest neighbours,
choose one action: MERGE (fold into a neighbour), UPDATE (replace contradicting attributes on a neighbour),
CREATE_NEW, or DISCARD. Return JSON {"action":...,"target_id":...,"merged_attributes":{...}}.`

func (o *ModelOps) DecideMemory(ctx context.Context, candidate *entity.ShortTermMemory, neighbours []*entity.ShortTermMemory) (entity.Decision, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "candidate: %s\n", candidate.Summary())
	b.WriteString("neighbours:\n")
	for _, n := range neighbours {
		fmt.Fprintf(&b, "  id=%s %s (importance %.2f)\n", n.ID, n.Summary(), n.Importance)
	}

	var decision entity.Decision
	if err := o.judge.Decide(ctx, decideSystem, b.String(), &decision); err != nil {
		return entity.Decision{}, err
	}
	switch decision.Action {
	case entity.ActionMerge, entity.ActionUpdate, entity.ActionCreateNew, entity.ActionDiscard:
		return decision, nil
	default:
		return entity.Decision{}, fmt.Errorf("model returned unknown action %q", decision.Action)
	}
}

const planSystem = `You consolidate short-term memories into a knowledge graph.
Given candidate memories and the relevant neighbourhood, return a JSON array of operations.
Each operation is an object with "op" set to one of CREATE_MEMORY, UPDATE_MEMORY, MERGE_MEMORIES,
CREATE_NODE, UPDATE_NODE, DELETE_NODE, CREATE_EDGE, UPDATE_EDGE, DELETE_EDGE, CREATE_SUBGRAPH, QUERY_GRAPH,
plus the fields that operation needs. Reference nodes by explicit ids.`

func (o *ModelOps) PlanConsolidation(ctx context.Context, batch []QueuedMemory, neighbourhood string) ([]entity.GraphOperation, error) {
	var b strings.Builder
	b.WriteString("memories:\n")
	for _, it := range batch {
		fmt.Fprintf(&b, "  %s (importance %.2f)\n", it.Memory.Summary(), it.Memory.Importance)
	}
	if neighbourhood != "" {
		b.WriteString("existing graph neighbourhood:\n")
		b.WriteString(neighbourhood)
	}

	var raw json.RawMessage
	if err := o.judge.Decide(ctx, planSystem, b.String(), &raw); err != nil {
		return nil, err
	}
	return entity.ParseGraphOperations(raw)
}

const causalSystem = `Given two memories A and B, decide whether A plausibly caused B.
Return JSON {"causal":true|false,"relation":"short label"}.`

func (o *ModelOps) JudgeCausality(ctx context.Context, a, b *entity.LongTermMemory) (bool, string, error) {
	var out struct {
		Causal   bool   `json:"causal"`
		Relation string `json:"relation"`
	}
	prompt := fmt.Sprintf("A: %s\nB: %s", a.Content, b.Content)
	if err := o.judge.Decide(ctx, causalSystem, prompt, &out); err != nil {
		return false, "", err
	}
	return out.Causal, out.Relation, nil
}

const sufficiencySystem = `Given a query and the memory snippets already retrieved, decide whether they
are enough to answer. Return JSON {"sufficient":true|false}.`

func (o *ModelOps) JudgeSufficiency(ctx context.Context, query string, hits []string) (bool, error) {
	var out struct {
		Sufficient bool `json:"sufficient"`
	}
	prompt := "query: " + query + "\nretrieved:\n  " + strings.Join(hits, "\n  ")
	if err := o.judge.Decide(ctx, sufficiencySystem, prompt, &out); err != nil {
		return false, err
	}
	return out.Sufficient, nil
}
