package audit

import (
	"bytes"
	"encoding/json"
	"strings"
)

// The audit tool emits one known document shape:
//
//	{"categories": {"<category>": {"checks": [
//	    {"name": ..., "status": "passed|failed|warning",
//	     "severity": ..., "description": ..., "recommendation": ...}
//	]}}}
//
// Anything else is Unparseable. There is deliberately no free-text
// fallback: a payload we cannot classify fails the job instead of being
// scored as an empty finding set.
type reportDoc struct {
	Categories map[string]categoryDoc `json:"categories"`
}

type categoryDoc struct {
	Checks []checkDoc `json:"checks"`
}

type checkDoc struct {
	Name           string `json:"name"`
	Status         string `json:"status"`
	Severity       string `json:"severity"`
	Description    string `json:"description"`
	Details        string `json:"details"`
	Recommendation string `json:"recommendation"`
}

// Older tool releases emit snake_case category keys; map the known ones
// onto the canonical list before the generic underscore rewrite.
var categoryAliases = map[string]Category{
	"security_policies":      "security-policies",
	"system_configuration":   "system-configuration",
	"network_settings":       "network-settings",
	"user_authentication":    "user-authentication",
	"logging_configuration":  "logging",
	"update_status":          "updates",
	"certificate_validation": "certificates",
	"intrusion_prevention":   "intrusion-prevention",
	"web_filtering":          "web-filtering",
	"application_control":    "application-control",
}

// NormalizeCategory folds tool spellings onto the canonical category form.
func NormalizeCategory(raw string) Category {
	key := strings.ToLower(strings.TrimSpace(raw))
	if c, ok := categoryAliases[key]; ok {
		return c
	}
	return Category(strings.ReplaceAll(key, "_", "-"))
}

// ToolCategoryKey maps a canonical category back to the spelling the
// audit tool expects in its options file.
func ToolCategoryKey(c Category) string {
	for alias, canonical := range categoryAliases {
		if canonical == c {
			return alias
		}
	}
	return strings.ReplaceAll(string(c), "-", "_")
}

// ParseReport turns raw tool stdout into findings. Empty, non-JSON,
// structurally wrong, or check-free payloads fail with an ExecError of
// kind OutputUnparseable.
func ParseReport(raw []byte) ([]Finding, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, NewExecError(KindOutputUnparseable, "empty tool output", nil)
	}
	if trimmed[0] != '{' {
		return nil, NewExecError(KindOutputUnparseable, "tool output is not a JSON document", nil)
	}

	var doc reportDoc
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, NewExecError(KindOutputUnparseable, "malformed JSON report", err)
	}
	if len(doc.Categories) == 0 {
		return nil, NewExecError(KindOutputUnparseable, "report has no categories", nil)
	}

	var findings []Finding
	for rawCat, cat := range doc.Categories {
		category := NormalizeCategory(rawCat)
		for _, chk := range cat.Checks {
			findings = append(findings, Finding{
				Category:    category,
				Name:        chk.Name,
				Severity:    normalizeSeverity(chk.Severity),
				Verdict:     verdictOf(chk.Status),
				Description: firstNonEmpty(chk.Description, chk.Details),
				Remediation: chk.Recommendation,
			})
		}
	}
	if len(findings) == 0 {
		return nil, NewExecError(KindOutputUnparseable, "report categories carry no checks", nil)
	}
	return findings, nil
}

func verdictOf(status string) Verdict {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "passed", "pass":
		return VerdictPass
	case "failed", "fail":
		return VerdictFail
	}
	// "warning" and anything unrecognized: retained, not scored
	return VerdictUnknown
}

func normalizeSeverity(raw string) Severity {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "critical":
		return SeverityCritical
	case "high":
		return SeverityHigh
	case "medium":
		return SeverityMedium
	case "low":
		return SeverityLow
	case "info", "informational", "":
		return SeverityInfo
	}
	return SeverityInfo
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
