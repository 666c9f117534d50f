package pipeline

import (
	"strings"
	"time"
)

type decayStep struct {
	maxMinutes float64
	factor     float64
}

// Step function rather than continuous decay: small clock jitter near a
// boundary must not flip routing relative to the coarse digest cadence.
var freshnessSteps = []decayStep{
	{maxMinutes: 30, factor: 1.0},
	{maxMinutes: 120, factor: 0.9},
	{maxMinutes: 360, factor: 0.75},
	{maxMinutes: 720, factor: 0.6},
	{maxMinutes: 1440, factor: 0.4},
}

const staleFreshnessFactor = 0.25

// FreshnessDecay maps the age of the canonical article to a factor in (0,1].
// Negative ages count as fresh.
func FreshnessDecay(age time.Duration) float64 {
	minutes := age.Minutes()
	for _, step := range freshnessSteps {
		if minutes <= step.maxMinutes {
			return step.factor
		}
	}
	return staleFreshnessFactor
}

// Scorer computes composite priority scores.
type Scorer struct {
	weights  SourceWeights
	severity map[EventType]float64
	primary  map[string]struct{}
	boost    float64
	tier0    float64
}

func NewScorer(cfg Config) *Scorer {
	primary := make(map[string]struct{}, len(cfg.PrimaryTickers))
	for _, t := range cfg.PrimaryTickers {
		if symbol := strings.ToUpper(strings.TrimSpace(t)); symbol != "" {
			primary[symbol] = struct{}{}
		}
	}
	boost := cfg.PrimaryBoost
	if boost < 1 {
		boost = 1
	}
	return &Scorer{
		weights:  NewSourceWeights(cfg.SourceWeights),
		severity: cfg.EventSeverity,
		primary:  primary,
		boost:    boost,
		tier0:    cfg.Tier0Weight,
	}
}

// Score evaluates a cluster at now.
func (s *Scorer) Score(cl Cluster, candidate EventCandidate, now time.Time) EventScore {
	weight := s.weights.Weight(cl.Canonical.Domain)
	if weight < 0 {
		weight = 0
	}

	age := now.Sub(cl.Canonical.PublishedAt)
	if age < 0 {
		age = 0
	}
	decay := FreshnessDecay(age)

	relevance := 1.0
	if _, ok := s.primary[strings.ToUpper(candidate.MainEntity)]; ok && candidate.MainEntity != "" {
		relevance = s.boost
	}

	severity := 1.0
	if v, ok := s.severity[candidate.Type]; ok {
		severity = v
	}

	confidence := clamp01(candidate.Confidence)

	return EventScore{
		Score:           weight * decay * relevance * severity * confidence,
		Confidence:      confidence,
		SourceWeight:    weight,
		FreshnessDecay:  decay,
		EntityRelevance: relevance,
		EventSeverity:   severity,
		AgeMinutes:      age.Minutes(),
		Tier0:           weight >= s.tier0,
	}
}
