package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	app "github.com/williamsouzadelima/strati-audit/internal/application/audit"
	domain "github.com/williamsouzadelima/strati-audit/internal/domain/audit"
)

// Renderer writes the JSON and HTML report files for a finished run.
// The thresholds drive badge colors only, never the score itself.
type Renderer struct {
	CriticalBelow float64
	WarningBelow  float64
}

func New() *Renderer {
	return &Renderer{CriticalBelow: 60, WarningBelow: 80}
}

// jsonDoc is the machine-readable report envelope.
type jsonDoc struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Client      *domain.Client     `json:"client"`
	Run         *domain.RunResult  `json:"run"`
	Jobs        []*domain.AuditJob `json:"jobs"`
}

func (r *Renderer) Render(ctx context.Context, dir string, in *app.ReportInput) (string, string, error) {
	now := time.Now()

	jsonPath := filepath.Join(dir, "report.json")
	doc := jsonDoc{
		GeneratedAt: now,
		Client:      in.Client,
		Run:         in.Result,
		Jobs:        in.Jobs,
	}
	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("encoding report: %w", err)
	}
	if err := os.WriteFile(jsonPath, payload, 0o644); err != nil {
		return "", "", err
	}

	htmlPath := filepath.Join(dir, "report.html")
	f, err := os.Create(htmlPath)
	if err != nil {
		return "", "", err
	}
	defer f.Close()
	if err := reportTemplate.Execute(f, r.buildView(in, now)); err != nil {
		return "", "", fmt.Errorf("rendering html: %w", err)
	}
	return jsonPath, htmlPath, nil
}

type view struct {
	Client       *domain.Client
	Run          *domain.RunResult
	GeneratedAt  string
	OverallScore string
	OverallLabel string
	Firewalls    []fwView
	Remediations []remView
}

type fwView struct {
	Name       string
	State      domain.JobState
	Score      string
	Label      string
	Attempts   int
	Failure    string
	Verdicts   domain.VerdictCounts
	Severities domain.SeverityCounts
	Findings   []domain.Finding
}

type remView struct {
	Severity domain.Severity
	Firewall string
	Category domain.Category
	Name     string
	Action   string
}

// scoreLabel buckets a score for the badge color: red below the critical
// threshold, amber below the warning one, green otherwise.
func (r *Renderer) scoreLabel(score float64) string {
	switch {
	case score < r.CriticalBelow:
		return "critical"
	case score < r.WarningBelow:
		return "warning"
	}
	return "ok"
}

func (r *Renderer) buildView(in *app.ReportInput, now time.Time) *view {
	v := &view{
		Client:       in.Client,
		Run:          in.Result,
		GeneratedAt:  now.Format("2006-01-02 15:04:05 MST"),
		OverallScore: "n/a",
		OverallLabel: "none",
	}
	if in.Result.OverallScore != nil {
		v.OverallScore = fmt.Sprintf("%.1f", *in.Result.OverallScore)
		v.OverallLabel = r.scoreLabel(*in.Result.OverallScore)
	}

	for _, j := range in.Jobs {
		fw := fwView{
			Name:     j.FirewallName,
			State:    j.State,
			Score:    "n/a",
			Label:    "none",
			Attempts: j.Attempts,
		}
		if fw.Name == "" {
			fw.Name = string(j.FirewallID)
		}
		if j.FailureKind != "" {
			fw.Failure = string(j.FailureKind)
			if j.FailureDetail != "" {
				fw.Failure += ": " + j.FailureDetail
			}
		}
		if j.Result != nil {
			fw.Score = fmt.Sprintf("%d", j.Result.Score)
			fw.Label = r.scoreLabel(float64(j.Result.Score))
			fw.Verdicts = j.Result.Verdicts
			fw.Severities = j.Result.Severities
			fw.Findings = sortedFindings(j.Result.Findings)

			for _, f := range j.Result.Findings {
				if f.Verdict != domain.VerdictFail {
					continue
				}
				action := f.Remediation
				if action == "" {
					action = f.Description
				}
				if action == "" {
					action = "review the configuration of this check"
				}
				v.Remediations = append(v.Remediations, remView{
					Severity: f.Severity,
					Firewall: fw.Name,
					Category: f.Category,
					Name:     f.Name,
					Action:   action,
				})
			}
		}
		v.Firewalls = append(v.Firewalls, fw)
	}

	sort.SliceStable(v.Remediations, func(i, k int) bool {
		return v.Remediations[i].Severity.Rank() > v.Remediations[k].Severity.Rank()
	})
	return v
}

// sortedFindings orders findings highest severity first, fails before
// passes within a severity.
func sortedFindings(findings []domain.Finding) []domain.Finding {
	out := append([]domain.Finding(nil), findings...)
	sort.SliceStable(out, func(i, k int) bool {
		if out[i].Severity.Rank() != out[k].Severity.Rank() {
			return out[i].Severity.Rank() > out[k].Severity.Rank()
		}
		return out[i].Verdict == domain.VerdictFail && out[k].Verdict != domain.VerdictFail
	})
	return out
}
