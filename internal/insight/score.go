package insight

import (
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/adronaut/strategy-cli/internal/model"
)

// learningKeywords mark a proposed action as an experiment rather than a
// direct change. Weak-support insights must carry one.
var learningKeywords = []string{"pilot", "test", "experiment", "trial", "a/b", "validate"}

func hasLearningAction(action string) bool {
	action = strings.ToLower(action)
	for _, kw := range learningKeywords {
		if strings.Contains(action, kw) {
			return true
		}
	}
	return false
}

// ValidateStructure checks a candidate for the required fields and value
// domains. The returned problems are empty for a valid candidate.
func ValidateStructure(c model.InsightCandidate) []string {
	var problems []string

	for _, f := range []struct{ name, value string }{
		{"insight", c.Insight},
		{"hypothesis", c.Hypothesis},
		{"proposed_action", c.ProposedAction},
		{"contrastive_reason", c.ContrastiveReason},
	} {
		if strings.TrimSpace(f.value) == "" {
			problems = append(problems, "missing "+f.name)
		}
	}

	if c.ExpectedEffect == nil {
		problems = append(problems, "missing expected_effect")
	} else if c.ExpectedEffect.Direction == "" || c.ExpectedEffect.Metric == "" {
		problems = append(problems, "expected_effect missing direction or metric")
	}

	if c.EvidenceRefs == nil {
		problems = append(problems, "missing evidence_refs")
	}
	if !c.PrimaryLever.Valid() {
		problems = append(problems, fmt.Sprintf("invalid primary_lever %q", c.PrimaryLever))
	}
	if !c.DataSupport.Valid() {
		problems = append(problems, fmt.Sprintf("invalid data_support %q", c.DataSupport))
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		problems = append(problems, fmt.Sprintf("confidence %.2f outside [0,1]", c.Confidence))
	}

	return problems
}

// AlignmentFlags reports confidence/support mismatches. These flag but never
// exclude a candidate.
func AlignmentFlags(c model.InsightCandidate) []string {
	if c.DataSupport != model.SupportWeak {
		return nil
	}

	var flags []string
	if c.Confidence > 0.4 {
		flags = append(flags, fmt.Sprintf("weak_support_high_confidence: %.2f", c.Confidence))
	}
	if !hasLearningAction(c.ProposedAction) {
		flags = append(flags, "weak_support_without_learning_action")
	}
	return flags
}

// Score computes the deterministic quality score for one candidate:
// +2 for non-empty evidence_refs, +2 strong / +1 moderate support, +1 for an
// expected effect with direction and magnitude, +1 for a valid lever, -1 for
// weak support without a learning action. The raw total is rescaled to 0-100.
func Score(c model.InsightCandidate) int {
	raw := 0

	if len(c.EvidenceRefs) > 0 {
		raw += 2
	}

	switch c.DataSupport {
	case model.SupportStrong:
		raw += 2
	case model.SupportModerate:
		raw++
	}

	if c.ExpectedEffect != nil && c.ExpectedEffect.Direction != "" && c.ExpectedEffect.Magnitude != "" {
		raw++
	}

	if c.PrimaryLever.Valid() {
		raw++
	}

	if c.DataSupport == model.SupportWeak && !hasLearningAction(c.ProposedAction) {
		raw--
	}

	// Max raw is 6, so 12.5 per point leaves headroom at the top of the scale.
	normalized := float64(raw) * 12.5
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 100 {
		normalized = 100
	}
	return int(normalized)
}

// SelectTop validates, scores, and ranks candidates, returning the best k.
// Invalid candidates are excluded before scoring; ordering is descending
// score with original position as the tiebreak, so the result is exactly
// reproducible. k <= 0 selects all valid candidates.
func SelectTop(candidates []model.InsightCandidate, k int) []model.ScoredInsight {
	if len(candidates) == 0 {
		return []model.ScoredInsight{}
	}

	type entry struct {
		idx   int
		score int
	}
	var order []entry
	for i, c := range candidates {
		if problems := ValidateStructure(c); len(problems) > 0 {
			zap.L().Warn("excluding invalid insight candidate",
				zap.String("direction_id", c.DirectionID),
				zap.Strings("problems", problems))
			continue
		}
		if flags := AlignmentFlags(c); len(flags) > 0 {
			zap.L().Warn("insight confidence/support misaligned",
				zap.String("direction_id", c.DirectionID),
				zap.Strings("flags", flags))
		}
		order = append(order, entry{idx: i, score: Score(c)})
	}

	sort.Slice(order, func(i, j int) bool {
		if order[i].score != order[j].score {
			return order[i].score > order[j].score
		}
		return order[i].idx < order[j].idx
	})

	if k <= 0 || k > len(order) {
		k = len(order)
	}

	selected := make([]model.ScoredInsight, 0, k)
	for rank, e := range order[:k] {
		selected = append(selected, model.ScoredInsight{
			InsightCandidate: candidates[e.idx],
			ImpactScore:      e.score,
			ImpactRank:       rank + 1,
		})
	}

	zap.L().Info("selected insights",
		zap.Int("candidates", len(candidates)),
		zap.Int("valid", len(order)),
		zap.Int("selected", len(selected)))
	return selected
}
