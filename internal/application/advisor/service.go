package advisor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	domain "github.com/williamsouzadelima/strati-audit/internal/domain/advisor"
	audit "github.com/williamsouzadelima/strati-audit/internal/domain/audit"
)

const cacheSize = 256

// Service generates and serves remediation advice for finished runs.
// Stored advice wins over regeneration; an in-process LRU fronts the repo.
type Service struct {
	store audit.StateStore
	gen   domain.Generator
	repo  domain.Repository
	cache *lru.Cache[string, *domain.Advice]
	log   *logrus.Logger
}

// NewService wires the advisor. gen may be nil (advisor disabled).
func NewService(store audit.StateStore, gen domain.Generator, repo domain.Repository, log *logrus.Logger) *Service {
	cache, _ := lru.New[string, *domain.Advice](cacheSize)
	if log == nil {
		log = logrus.New()
	}
	return &Service{store: store, gen: gen, repo: repo, cache: cache, log: log}
}

// digest is the compact findings payload handed to the generator.
type digest struct {
	RunID     string          `json:"run_id"`
	Status    string          `json:"status"`
	Firewalls []firewallEntry `json:"firewalls"`
}

type firewallEntry struct {
	Name     string         `json:"name"`
	State    string         `json:"state"`
	Score    *int           `json:"score,omitempty"`
	Failure  string         `json:"failure,omitempty"`
	Findings []findingEntry `json:"findings,omitempty"`
}

type findingEntry struct {
	Category string `json:"category"`
	Name     string `json:"name"`
	Severity string `json:"severity"`
	Verdict  string `json:"verdict"`
	Detail   string `json:"detail,omitempty"`
}

// adviceDoc mirrors the JSON schema the generator is instructed to emit.
type adviceDoc struct {
	Summary         string `json:"summary"`
	Risk            string `json:"risk"`
	Recommendations []struct {
		Category string `json:"category"`
		Severity string `json:"severity"`
		Action   string `json:"action"`
	} `json:"recommendations"`
}

// AdviseRun returns remediation advice for a run, generating it on first
// request. Fails with advisor.ErrDisabled when no generator is wired.
func (s *Service) AdviseRun(ctx context.Context, runID audit.RunID) (*domain.Advice, error) {
	key := string(runID)
	if a, ok := s.cache.Get(key); ok {
		return a, nil
	}
	if s.repo != nil {
		if a, err := s.repo.LatestByRun(ctx, key); err == nil && a != nil {
			s.cache.Add(key, a)
			return a, nil
		}
	}
	if s.gen == nil {
		return nil, domain.ErrDisabled
	}

	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	jobs, err := s.store.ListJobsForRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	payload, err := buildDigest(run, jobs)
	if err != nil {
		return nil, fmt.Errorf("build digest: %w", err)
	}
	raw, err := s.gen.Generate(ctx, payload)
	if err != nil {
		return nil, err
	}

	advice, err := parseAdvice(raw)
	if err != nil {
		return nil, fmt.Errorf("advisor returned malformed JSON: %w", err)
	}
	advice.ID = domain.AdviceID(key + "-advice")
	advice.RunID = key
	advice.CreatedAt = time.Now()

	if s.repo != nil {
		if err := s.repo.Save(ctx, advice); err != nil {
			s.log.WithError(err).WithField("run_id", runID).Warn("advice save failed")
		}
	}
	s.cache.Add(key, advice)
	return advice, nil
}

func buildDigest(run *audit.AuditRun, jobs []*audit.AuditJob) (string, error) {
	d := digest{
		RunID:  string(run.ID),
		Status: string(audit.DeriveRunStatus(jobs)),
	}
	for _, j := range jobs {
		entry := firewallEntry{
			Name:    j.FirewallName,
			State:   string(j.State),
			Failure: string(j.FailureKind),
		}
		if j.Result != nil {
			score := j.Result.Score
			entry.Score = &score
			for _, f := range j.Result.Findings {
				// passing checks carry no remediation signal
				if f.Verdict == audit.VerdictPass {
					continue
				}
				entry.Findings = append(entry.Findings, findingEntry{
					Category: string(f.Category),
					Name:     f.Name,
					Severity: string(f.Severity),
					Verdict:  string(f.Verdict),
					Detail:   f.Description,
				})
			}
		}
		d.Firewalls = append(d.Firewalls, entry)
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func parseAdvice(raw string) (*domain.Advice, error) {
	var doc adviceDoc
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &doc); err != nil {
		return nil, err
	}
	a := &domain.Advice{
		Summary: doc.Summary,
		Risk:    doc.Risk,
	}
	for _, r := range doc.Recommendations {
		a.Recommendations = append(a.Recommendations, domain.Recommendation{
			Category: r.Category,
			Severity: strings.ToLower(r.Severity),
			Action:   r.Action,
		})
	}
	return a, nil
}
