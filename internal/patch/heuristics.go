package patch

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/adronaut/strategy-cli/internal/model"
)

// Heuristic limits on a single patch.
const (
	maxBudgetShiftPct   = 25.0
	maxThemesPerSegment = 3
	downscopeFactor     = 0.8
)

var shiftCleaner = regexp.MustCompile(`[^0-9.+-]`)

// parseShift extracts the absolute percentage from strings like "+15%",
// "-10%", or "30%". Unparsable values report ok=false and are skipped.
func parseShift(raw string) (float64, bool) {
	cleaned := shiftCleaner.ReplaceAllString(raw, "")
	if cleaned == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return math.Abs(v), true
}

// ValidationResult aggregates the three heuristic checks over one patch.
type ValidationResult struct {
	HeuristicFlags []string `json:"heuristic_flags"`
	Passed         bool     `json:"passed"`
	Reasons        []string `json:"reasons"`
	BudgetFlags    int      `json:"budget_flags"`
	AudienceFlags  int      `json:"audience_flags"`
	CreativeFlags  int      `json:"creative_flags"`
}

// checkBudget enforces the aggregate reallocation cap: the absolute values
// of every parsed percentage delta must sum to at most 25.
func checkBudget(p *model.StrategyPatch) []string {
	if p.BudgetAllocation == nil || len(p.BudgetAllocation.ChannelBreakdown) == 0 {
		return nil
	}

	var total float64
	for _, value := range p.BudgetAllocation.ChannelBreakdown {
		s, ok := value.(string)
		if !ok {
			continue
		}
		shift, ok := parseShift(s)
		if !ok {
			zap.L().Warn("could not parse budget value", zap.String("value", s))
			continue
		}
		total += shift
	}

	if total > maxBudgetShiftPct {
		return []string{fmt.Sprintf("budget_shift_exceeds_25_percent: total_shift=%.1f%%", total)}
	}
	return nil
}

// checkAudience rejects duplicate (location, age) segment definitions.
// Segments missing either field are skipped, not flagged.
func checkAudience(p *model.StrategyPatch) []string {
	if p.AudienceTargeting == nil || len(p.AudienceTargeting.Segments) == 0 {
		return nil
	}

	type combo struct{ location, age string }
	seen := make(map[combo]bool)
	var flags []string

	for i, seg := range p.AudienceTargeting.Segments {
		location := strings.ToLower(strings.TrimSpace(seg.TargetingCriteria.Location))
		age := strings.ToLower(strings.TrimSpace(seg.TargetingCriteria.Age))
		if location == "" || age == "" {
			continue
		}

		key := combo{location, age}
		if seen[key] {
			flags = append(flags, fmt.Sprintf("overlapping_segment: location='%s', age='%s' (segment_index=%d)", location, age, i))
			continue
		}
		seen[key] = true
	}
	return flags
}

// checkCreative caps messaging themes at three per audience segment.
func checkCreative(p *model.StrategyPatch) []string {
	segmentCount := 0
	if p.AudienceTargeting != nil {
		segmentCount = len(p.AudienceTargeting.Segments)
	}
	if segmentCount == 0 {
		return nil
	}

	themeCount := 0
	if p.MessagingStrategy != nil {
		themeCount = len(p.MessagingStrategy.KeyThemes)
	}

	maxThemes := segmentCount * maxThemesPerSegment
	if themeCount > maxThemes {
		return []string{fmt.Sprintf("excessive_creatives: %d themes for %d segments (max=%d)", themeCount, segmentCount, maxThemes)}
	}
	return nil
}

// Validate runs all heuristic checks. It never mutates the patch, so
// re-validating a passing patch always yields a passing result.
func Validate(p *model.StrategyPatch) ValidationResult {
	budget := checkBudget(p)
	audience := checkAudience(p)
	creative := checkCreative(p)

	var all []string
	all = append(all, budget...)
	all = append(all, audience...)
	all = append(all, creative...)

	reasons := make([]string, len(all))
	for i, flag := range all {
		reasons[i] = strings.SplitN(flag, ":", 2)[0]
	}

	result := ValidationResult{
		HeuristicFlags: all,
		Passed:         len(all) == 0,
		Reasons:        reasons,
		BudgetFlags:    len(budget),
		AudienceFlags:  len(audience),
		CreativeFlags:  len(creative),
	}

	if result.Passed {
		zap.L().Debug("heuristic validation passed")
	} else {
		zap.L().Warn("heuristic validation failed",
			zap.Int("flags", len(all)),
			zap.Strings("reasons", reasons))
	}
	return result
}

// Downscope attempts the single mechanical repair: budget deltas scale by
// 0.8 and excess themes are truncated to the cap. Reports whether anything
// changed.
func Downscope(p *model.StrategyPatch, result ValidationResult) bool {
	if result.Passed {
		return false
	}

	modified := false

	if result.BudgetFlags > 0 && p.BudgetAllocation != nil {
		for channel, value := range p.BudgetAllocation.ChannelBreakdown {
			s, ok := value.(string)
			if !ok || !strings.Contains(s, "%") {
				continue
			}
			cleaned := shiftCleaner.ReplaceAllString(s, "")
			if cleaned == "" || (cleaned[0] != '+' && cleaned[0] != '-') {
				continue
			}
			v, err := strconv.ParseFloat(cleaned, 64)
			if err != nil {
				continue
			}

			scaled := v * downscopeFactor
			next := fmt.Sprintf("%.1f%%", scaled)
			if scaled > 0 {
				next = fmt.Sprintf("+%.1f%%", scaled)
			}
			p.BudgetAllocation.ChannelBreakdown[channel] = next
			modified = true
			zap.L().Debug("downscoped budget shift",
				zap.String("channel", channel),
				zap.String("from", s),
				zap.String("to", next))
		}
	}

	if result.CreativeFlags > 0 && p.MessagingStrategy != nil && p.AudienceTargeting != nil {
		maxThemes := len(p.AudienceTargeting.Segments) * maxThemesPerSegment
		if len(p.MessagingStrategy.KeyThemes) > maxThemes {
			zap.L().Info("trimming key themes",
				zap.Int("from", len(p.MessagingStrategy.KeyThemes)),
				zap.Int("to", maxThemes))
			p.MessagingStrategy.KeyThemes = p.MessagingStrategy.KeyThemes[:maxThemes]
			modified = true
		}
	}

	if !modified {
		zap.L().Info("could not auto-downscope, manual review required")
	}
	return modified
}

// ValidateWithRepair validates the patch, attempts one downscope on failure,
// re-validates, and records the outcome on the patch annotations. A patch
// that still fails after the single repair stays failing and is marked for
// mandatory human review.
func ValidateWithRepair(p *model.StrategyPatch) ValidationResult {
	result := Validate(p)

	if !result.Passed {
		if Downscope(p, result) {
			p.EnsureAnnotations().AutoDownscoped = true
			result = Validate(p)
		}
	}

	ann := p.EnsureAnnotations()
	ann.HeuristicFlags = result.HeuristicFlags
	if !result.Passed {
		ann.RequiresHITLReview = true
	}
	return result
}
