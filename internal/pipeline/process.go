package pipeline

import (
	"time"

	"golang.org/x/sync/errgroup"
)

// BatchResult is everything one pipeline pass produced.
type BatchResult struct {
	Window      Window       `json:"window"`
	Evaluations []Evaluation `json:"evaluations"`
	Closed      []Cluster    `json:"closed,omitempty"`
	Excluded    []Exclusion  `json:"excluded,omitempty"`
}

// Decisions returns the route decisions in evaluation order.
func (r BatchResult) Decisions() []RouteDecision {
	out := make([]RouteDecision, 0, len(r.Evaluations))
	for _, e := range r.Evaluations {
		out = append(out, e.Decision)
	}
	return out
}

// Process evaluates a standalone batch and returns one decision per cluster
// produced from it. The output depends only on the arguments.
func Process(articles []Article, cfg Config, now time.Time) []RouteDecision {
	return Run(Window{}, articles, cfg, now).Decisions()
}

// Run clusters a batch on top of a prior window, picks canonicals, then
// classifies, scores and routes every touched cluster. Invalid articles are
// excluded and reported instead of failing the batch.
func Run(prior Window, articles []Article, cfg Config, now time.Time) BatchResult {
	valid := make([]Article, 0, len(articles))
	var excluded []Exclusion
	for _, a := range articles {
		if err := a.Validate(); err != nil {
			excluded = append(excluded, Exclusion{ArticleID: a.ID, Reason: err.Error()})
			continue
		}
		valid = append(valid, a)
	}

	clustered := NewClusterer(cfg.Similarity).Cluster(prior, valid)

	weights := NewSourceWeights(cfg.SourceWeights)
	touched := make([]Cluster, len(clustered.Touched))
	picked := make(map[string]Cluster, len(clustered.Touched))
	for i, c := range clustered.Touched {
		touched[i] = SelectCanonical(c, weights)
		picked[c.Key] = touched[i]
	}
	window := clustered.Window
	for i, c := range window.Clusters {
		if p, ok := picked[c.Key]; ok {
			window.Clusters[i] = p
		}
	}
	closed := clustered.Closed
	for i, c := range closed {
		if p, ok := picked[c.Key]; ok {
			closed[i] = p
		}
	}

	window, expired := window.Expire(now, cfg.Similarity.Window)
	closed = append(closed, expired...)

	return BatchResult{
		Window:      window,
		Evaluations: evaluate(touched, cfg, now),
		Closed:      closed,
		Excluded:    excluded,
	}
}

// evaluate fans classification, scoring and routing out over clusters.
// Results are written by index so ordering never depends on scheduling.
func evaluate(clusters []Cluster, cfg Config, now time.Time) []Evaluation {
	classifier := NewClassifier(cfg)
	scorer := NewScorer(cfg)
	out := make([]Evaluation, len(clusters))

	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for i := range clusters {
		g.Go(func() error {
			cl := clusters[i]
			candidate := classifier.Classify(cl)
			score := scorer.Score(cl, candidate, now)
			out[i] = Evaluation{
				Cluster:   cl,
				Candidate: candidate,
				Score:     score,
				Decision:  Decide(cl.Key, score, cfg.Routing),
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
