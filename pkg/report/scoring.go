package report

import "fmt"

// MaxRating is the rating of a run with no deductions.
const MaxRating = 10

// Counts are the aggregated totals the scorer reads.
type Counts struct {
	Errors   int
	Warnings int
	Failed   int
	Total    int
	APICalls int
}

// Tier deducts points when a count is strictly greater than Above.
type Tier struct {
	Above     int
	Deduction int
}

// Rule applies the first matching tier, checked in order, to one count.
type Rule struct {
	Name  string
	Count func(Counts) int
	Tiers []Tier
}

// Deduction records a rule that cost points.
type Deduction struct {
	Rule   string `json:"rule"`
	Count  int    `json:"count"`
	Points int    `json:"points"`
}

// Rating is the scored outcome of a run.
type Rating struct {
	Value      int
	Deductions []Deduction
}

// DefaultRules is the standard rule table, evaluated in order.
var DefaultRules = []Rule{
	{
		Name:  "console_errors",
		Count: func(c Counts) int { return c.Errors },
		Tiers: []Tier{{Above: 10, Deduction: 3}, {Above: 5, Deduction: 2}, {Above: 0, Deduction: 1}},
	},
	{
		Name:  "failed_results",
		Count: func(c Counts) int { return c.Failed },
		Tiers: []Tier{{Above: 5, Deduction: 3}, {Above: 2, Deduction: 2}, {Above: 0, Deduction: 1}},
	},
	{
		Name:  "console_warnings",
		Count: func(c Counts) int { return c.Warnings },
		Tiers: []Tier{{Above: WarningFindingThreshold, Deduction: 1}},
	},
}

// WarningFindingThreshold is the warning count above which warnings are reported.
const WarningFindingThreshold = 20

// Score applies rules to counts. A nil rule table means DefaultRules.
// The result is clamped to [0, MaxRating].
func Score(c Counts, rules []Rule) Rating {
	if rules == nil {
		rules = DefaultRules
	}
	rating := Rating{Value: MaxRating}
	for _, rule := range rules {
		if rule.Count == nil {
			continue
		}
		n := rule.Count(c)
		for _, tier := range rule.Tiers {
			if n > tier.Above {
				rating.Value -= tier.Deduction
				rating.Deductions = append(rating.Deductions, Deduction{Rule: rule.Name, Count: n, Points: tier.Deduction})
				break
			}
		}
	}
	rating.Value = max(0, min(MaxRating, rating.Value))
	return rating
}

// Findings summarizes counts as ordered, human-readable sentences.
func Findings(c Counts) []string {
	findings := make([]string, 0, 4)

	if c.Errors == 0 {
		findings = append(findings, "No console errors detected - excellent!")
	} else {
		findings = append(findings, fmt.Sprintf("Found %d console errors - needs attention", c.Errors))
	}

	if c.Warnings > WarningFindingThreshold {
		findings = append(findings, fmt.Sprintf("%d warnings detected - consider cleanup", c.Warnings))
	}

	if c.Failed == 0 {
		findings = append(findings, "All tests passed successfully!")
	} else {
		findings = append(findings, fmt.Sprintf("%d tests failed out of %d", c.Failed, c.Total))
	}

	if c.APICalls > 0 {
		findings = append(findings, fmt.Sprintf("API integration working with %d requests", c.APICalls))
	}
	return findings
}
