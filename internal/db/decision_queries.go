package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/koteev-m/news-bot-sub003/internal/pipeline"
)

const (
	DefaultDecisionLimit = 50
	MaxDecisionLimit     = 500
)

type DecisionFilter struct {
	Limit int
	Route pipeline.Route
	Since time.Time
}

// DecisionRow is one persisted route decision as returned to operators.
type DecisionRow struct {
	RunID       string          `json:"run_id"`
	ClusterKey  string          `json:"cluster_key"`
	Route       pipeline.Route  `json:"route"`
	DropReason  string          `json:"drop_reason,omitempty"`
	EventType   string          `json:"event_type"`
	Rule        string          `json:"rule"`
	MainEntity  string          `json:"main_entity,omitempty"`
	Score       float64         `json:"score"`
	Confidence  float64         `json:"confidence"`
	Headline    string          `json:"headline"`
	URL         string          `json:"url"`
	Explanation json.RawMessage `json:"explanation"`
	EvaluatedAt time.Time       `json:"evaluated_at"`
}

type decisionExplanation struct {
	Candidate pipeline.EventCandidate `json:"candidate"`
	Score     pipeline.EventScore     `json:"score"`
	Members   []string                `json:"members"`
}

// ListDecisions returns the newest route decisions first.
func (s *PipelineStore) ListDecisions(ctx context.Context, filter DecisionFilter) ([]DecisionRow, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("pipeline store is not initialized")
	}

	query, args := buildDecisionQuery(filter)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select route decisions: %w", err)
	}
	defer rows.Close()

	out := make([]DecisionRow, 0)
	for rows.Next() {
		var (
			row         DecisionRow
			route       string
			dropReason  *string
			mainEntity  *string
			explanation []byte
		)
		if err := rows.Scan(
			&row.RunID,
			&row.ClusterKey,
			&route,
			&dropReason,
			&row.EventType,
			&row.Rule,
			&mainEntity,
			&row.Score,
			&row.Confidence,
			&row.Headline,
			&row.URL,
			&explanation,
			&row.EvaluatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan route decision: %w", err)
		}
		row.Route = pipeline.Route(route)
		if dropReason != nil {
			row.DropReason = *dropReason
		}
		if mainEntity != nil {
			row.MainEntity = *mainEntity
		}
		row.Explanation = json.RawMessage(explanation)
		row.EvaluatedAt = row.EvaluatedAt.UTC()
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate route decisions: %w", err)
	}
	return out, nil
}

func buildDecisionQuery(filter DecisionFilter) (string, []any) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultDecisionLimit
	}
	if limit > MaxDecisionLimit {
		limit = MaxDecisionLimit
	}

	var (
		where []string
		args  []any
	)
	if filter.Route != "" {
		args = append(args, string(filter.Route))
		where = append(where, fmt.Sprintf("route = $%d", len(args)))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since.UTC())
		where = append(where, fmt.Sprintf("evaluated_at >= $%d", len(args)))
	}
	args = append(args, limit)

	var b strings.Builder
	b.WriteString(`
SELECT
	run_id::text,
	cluster_key,
	route,
	drop_reason,
	event_type,
	rule,
	main_entity,
	score,
	confidence,
	headline,
	url,
	explanation,
	evaluated_at
FROM newsbot.route_decisions
`)
	if len(where) > 0 {
		b.WriteString("WHERE ")
		b.WriteString(strings.Join(where, " AND "))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "ORDER BY evaluated_at DESC, decision_id DESC\nLIMIT $%d\n", len(args))
	return b.String(), args
}

func newDecisionRecord(runID string, ev pipeline.Evaluation, evaluatedAt time.Time) (RouteDecisionRecord, error) {
	explanation, err := json.Marshal(decisionExplanation{
		Candidate: ev.Candidate,
		Score:     ev.Score,
		Members:   ev.Cluster.MemberIDs(),
	})
	if err != nil {
		return RouteDecisionRecord{}, fmt.Errorf("encode explanation of %s: %w", ev.Cluster.Key, err)
	}

	return RouteDecisionRecord{
		RunID:       runID,
		ClusterKey:  ev.Decision.ClusterKey,
		Route:       string(ev.Decision.Route),
		DropReason:  optionalString(string(ev.Decision.DropReason)),
		EventType:   string(ev.Candidate.Type),
		Rule:        ev.Candidate.Rule,
		MainEntity:  optionalString(ev.Candidate.MainEntity),
		Score:       ev.Score.Score,
		Confidence:  ev.Score.Confidence,
		Explanation: explanation,
		Headline:    ev.Cluster.Canonical.Title,
		URL:         ev.Cluster.Canonical.URL,
		EvaluatedAt: evaluatedAt.UTC(),
	}, nil
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
