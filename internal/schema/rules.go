package schema

import (
	"regexp"

	"github.com/adronaut/strategy-cli/internal/model"
)

// Column classification is driven by declarative rule tables evaluated in a
// fixed priority order: identifier names win outright, then metric name
// families (efficiency before cost before volume), then comparative pairs,
// then value-range heuristics, then dimension names, then cardinality.

// nameRule maps one name pattern to the column class it implies.
type nameRule struct {
	pattern *regexp.Regexp
	class   model.ColumnClass
}

// comparativePair holds two prefixes whose swap links a column to its
// comparison partner (e.g. current_bid / suggested_bid).
type comparativePair struct {
	first  string
	second string
}

var identifierRules = compileRules(model.ColumnIdentifier,
	`id$`, `_id$`, `^id`, `uuid`, `guid`, `key`,
)

// metricNameRules is ordered: an efficiency name match beats a cost match
// beats a volume match.
var metricNameRules = concatRules(
	compileRules(model.ColumnEfficiency,
		`roas`, `roi`, `return`, `ctr`, `click.*through`, `conversion.*rate`,
		`cvr`, `engagement.*rate`, `quality.*score`, `relevance.*score`,
		`view.*rate`, `completion.*rate`, `vtr`,
	),
	compileRules(model.ColumnCost,
		`cpc`, `cpa`, `cpm`, `cost.*per`, `acos`, `spend`, `budget`,
		`price`, `bid`, `cost`, `expense`, `cpl`, `cpe`,
	),
	compileRules(model.ColumnVolume,
		`impression`, `click`, `view`, `reach`, `order`, `conversion`,
		`sale`, `purchase`, `lead`, `signup`, `install`, `engagement`,
		`share`, `like`, `comment`, `follower`,
	),
)

var dimensionRules = compileRules(model.ColumnDimension,
	`keyword`, `campaign`, `ad.*group`, `creative`, `geo`, `location`,
	`region`, `country`, `city`, `device`, `platform`, `channel`,
	`audience`, `segment`, `age`, `gender`, `interest`, `placement`,
	`match.*type`, `type`, `category`, `product`, `sku`,
)

var comparativePairs = []comparativePair{
	{"current", "suggested"},
	{"current", "benchmark"},
	{"actual", "target"},
	{"actual", "expected"},
	{"previous", "current"},
	{"before", "after"},
}

func compileRules(class model.ColumnClass, patterns ...string) []nameRule {
	rules := make([]nameRule, len(patterns))
	for i, p := range patterns {
		rules[i] = nameRule{
			pattern: regexp.MustCompile(`(?i)` + p),
			class:   class,
		}
	}
	return rules
}

func concatRules(groups ...[]nameRule) []nameRule {
	var out []nameRule
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// matchRules returns the class of the first rule whose pattern matches.
func matchRules(rules []nameRule, name string) (model.ColumnClass, bool) {
	for _, r := range rules {
		if r.pattern.MatchString(name) {
			return r.class, true
		}
	}
	return model.ColumnUnknown, false
}
