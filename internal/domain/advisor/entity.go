package advisor

import "time"

// AdviceID identifier type
type AdviceID string

// Recommendation is one model-proposed remediation step.
type Recommendation struct {
	Category string `json:"category"`
	Severity string `json:"severity"`
	Action   string `json:"action"`
}

// Advice is the stored remediation guidance for one audit run.
type Advice struct {
	ID              AdviceID         `json:"id"`
	RunID           string           `json:"run_id"`
	Summary         string           `json:"summary"`
	Risk            string           `json:"risk"`
	Recommendations []Recommendation `json:"recommendations"`
	Model           string           `json:"model,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}
