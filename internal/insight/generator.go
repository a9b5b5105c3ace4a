package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/adronaut/strategy-cli/internal/llm"
	"github.com/adronaut/strategy-cli/internal/model"
)

// Placeholder values the model uses for directions it cannot support.
var placeholderInsights = map[string]bool{
	"":                  true,
	"N/A":               true,
	"Not applicable":    true,
	"Insufficient data": true,
}

const insightOutputFormat = `**OUTPUT FORMAT:**

Return ONE JSON object keyed by direction id. Each value is either null or an insight object with ALL of these fields:

{
  "insight": "specific observation grounded in the data, citing concrete figures",
  "hypothesis": "why this pattern exists",
  "proposed_action": "concrete single-lever action with numbers and a timeline",
  "primary_lever": "audience | creative | budget | bidding | funnel",
  "expected_effect": {"direction": "increase | decrease", "metric": "metric name", "magnitude": "small | medium | large", "range": "e.g. 15-25%"},
  "confidence": 0.0,
  "data_support": "strong | moderate | weak",
  "evidence_refs": ["paths into the feature object supporting this"],
  "contrastive_reason": "why this action and not the obvious alternative"
}

Rules: weak data_support requires confidence <= 0.4 and a pilot/test/experiment action. Every numeric claim cites a concrete figure from the data, never a vague qualifier.`

// Generator produces insight candidates from a detected schema and extracted
// features with one generative-model call per invocation.
type Generator struct {
	orch    *llm.Orchestrator
	catalog *Catalog
}

func NewGenerator(orch *llm.Orchestrator, catalog *Catalog) *Generator {
	return &Generator{orch: orch, catalog: catalog}
}

// Generation is the outcome of one generator invocation. Raw is set instead
// of Candidates when the model response could not be parsed.
type Generation struct {
	Candidates []model.InsightCandidate `json:"candidates"`
	Coverage   Coverage                 `json:"coverage"`
	Raw        string                   `json:"raw,omitempty"`
}

// Generate evaluates every catalog direction against the data in a single
// model call. A parse failure is not an error: the result carries the raw
// text for diagnosis and zero candidates.
func (g *Generator) Generate(ctx context.Context, schema model.TableSchema, dictionary string, features map[string]any) (*Generation, error) {
	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "insight: marshal schema")
	}
	featuresJSON, err := json.MarshalIndent(features, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "insight: marshal features")
	}

	prompt := fmt.Sprintf("%s\n\n## Detected Schema\n```json\n%s\n```\n\n## Extracted Features\n```json\n%s\n```\n\nEvaluate every direction against this data and return the JSON object now.",
		dictionary, schemaJSON, featuresJSON)

	var byDirection map[string]json.RawMessage
	if err := g.orch.CallJSON(ctx, llm.TaskInsights, g.systemPrompt(), prompt, &byDirection); err != nil {
		if raw, ok := llm.IsParseError(err); ok {
			zap.L().Warn("insight generation returned unparseable output",
				zap.Int("raw_bytes", len(raw)))
			return &Generation{
				Candidates: []model.InsightCandidate{},
				Coverage:   g.catalog.Coverage(nil),
				Raw:        raw,
			}, nil
		}
		return nil, eris.Wrap(err, "insight: generate")
	}

	candidates := g.collect(byDirection)
	cov := g.catalog.Coverage(candidates)
	zap.L().Info("insight candidates generated",
		zap.Int("directions_returned", len(byDirection)),
		zap.Int("candidates", len(candidates)),
		zap.Float64("coverage", cov.CoverageRate))

	return &Generation{Candidates: candidates, Coverage: cov}, nil
}

func (g *Generator) systemPrompt() string {
	return strings.Join([]string{
		"You are a marketing strategy analyst. Evaluate each predefined insight direction against the dataset and fill in only the directions the data actually supports.",
		CheatSheet(),
		g.catalog.PromptSection(),
		insightOutputFormat,
	}, "\n\n---\n\n")
}

// collect walks the response in catalog order (then any extra keys, sorted)
// so candidate order is deterministic, dropping nulls, placeholders, and
// entries that do not decode.
func (g *Generator) collect(byDirection map[string]json.RawMessage) []model.InsightCandidate {
	ids := make([]string, 0, len(byDirection))
	for _, d := range g.catalog.Directions() {
		if _, ok := byDirection[d.ID]; ok {
			ids = append(ids, d.ID)
		}
	}
	var extras []string
	for id := range byDirection {
		if _, known := g.catalog.Lookup(id); !known {
			extras = append(extras, id)
		}
	}
	sort.Strings(extras)
	ids = append(ids, extras...)

	candidates := []model.InsightCandidate{}
	for _, id := range ids {
		raw := byDirection[id]
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}

		var c model.InsightCandidate
		if err := json.Unmarshal(raw, &c); err != nil {
			zap.L().Warn("skipping malformed insight",
				zap.String("direction_id", id),
				zap.Error(err))
			continue
		}
		if placeholderInsights[strings.TrimSpace(c.Insight)] || c.DataSupport == "none" {
			continue
		}

		c.DirectionID = id
		if d, ok := g.catalog.Lookup(id); ok {
			c.DirectionName = d.Name
		}
		candidates = append(candidates, c)
	}
	return candidates
}
