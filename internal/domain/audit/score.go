package audit

import "time"

// PenaltyTable maps severity to the points subtracted per fail-verdict
// finding. Severities absent from the table cost nothing.
type PenaltyTable map[Severity]int

// DefaultPenalties is the shipped weighting; deployments may override it
// through configuration.
func DefaultPenalties() PenaltyTable {
	return PenaltyTable{
		SeverityCritical: 20,
		SeverityHigh:     10,
		SeverityMedium:   5,
		SeverityLow:      2,
		SeverityInfo:     0,
	}
}

// DefaultCategories is the canonical check-category list.
func DefaultCategories() []Category {
	return []Category{
		"security-policies",
		"system-configuration",
		"network-settings",
		"user-authentication",
		"logging",
		"updates",
		"certificates",
		"intrusion-prevention",
		"web-filtering",
		"application-control",
	}
}

// NewScoredResult scores a finding set: start at 100, subtract the
// severity penalty for every fail verdict, clamp to [0, 100]. Unknown
// verdicts are counted and retained but never scored.
func NewScoredResult(findings []Finding, penalties PenaltyTable, at time.Time) *ScoredResult {
	if penalties == nil {
		penalties = DefaultPenalties()
	}
	res := &ScoredResult{
		Findings:   findings,
		ComputedAt: at,
	}
	score := 100
	for _, f := range findings {
		res.Verdicts.Total++
		switch f.Verdict {
		case VerdictPass:
			res.Verdicts.Pass++
		case VerdictFail:
			res.Verdicts.Fail++
			score -= penalties[f.Severity]
			res.Severities.Total++
			switch f.Severity {
			case SeverityCritical:
				res.Severities.Critical++
			case SeverityHigh:
				res.Severities.High++
			case SeverityMedium:
				res.Severities.Medium++
			case SeverityLow:
				res.Severities.Low++
			case SeverityInfo:
				res.Severities.Info++
			}
		default:
			res.Verdicts.Unknown++
		}
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	res.Score = score
	return res
}
