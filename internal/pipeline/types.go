package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// Article is an immutable, fingerprinted news item. It is built once by the
// ingestion boundary through NewArticle and never modified afterwards.
type Article struct {
	ID           string       `json:"id"`
	URL          string       `json:"url"`
	Domain       string       `json:"domain"`
	Title        string       `json:"title"`
	Summary      *string      `json:"summary"`
	PublishedAt  time.Time    `json:"published_at"`
	Language     string       `json:"language"`
	Tickers      []string     `json:"tickers"`
	Entities     []string     `json:"entities"`
	Fingerprints Fingerprints `json:"fingerprints"`
}

// Validate reports whether the article carries every field the pipeline
// relies on. Invalid articles are excluded from clustering.
func (a Article) Validate() error {
	switch {
	case strings.TrimSpace(a.ID) == "":
		return fmt.Errorf("id must not be empty")
	case strings.TrimSpace(a.URL) == "":
		return fmt.Errorf("url must not be empty")
	case strings.TrimSpace(a.Domain) == "":
		return fmt.Errorf("domain must not be empty")
	case strings.TrimSpace(a.Title) == "":
		return fmt.Errorf("title must not be empty")
	case a.PublishedAt.IsZero():
		return fmt.Errorf("published_at must be set")
	case strings.TrimSpace(a.Fingerprints.ExactHash) == "":
		return fmt.Errorf("exact hash must be set")
	}
	return nil
}

// Topics returns the sorted union of the article's entities and tickers.
func (a Article) Topics() []string {
	return sortedUnion(a.Entities, a.Tickers)
}

// Cluster groups articles believed to report the same event.
type Cluster struct {
	// Key comes from the founding article's exact hash and stays fixed when
	// a later canonical replaces that article.
	Key       string    `json:"key"`
	Canonical Article   `json:"canonical"`
	Members   []Article `json:"members"`
	Topics    []string  `json:"topics"`
	CreatedAt time.Time `json:"created_at"`
}

// MemberIDs lists member article ids in discovery order.
func (c Cluster) MemberIDs() []string {
	ids := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		ids = append(ids, m.ID)
	}
	return ids
}

type EventType string

const (
	EventRateDecision        EventType = "rate_decision"
	EventRegulatoryStatement EventType = "regulatory_statement"
	EventTradingStatus       EventType = "trading_status"
	EventListing             EventType = "listing"
	EventCorporateAction     EventType = "corporate_action"
	EventMarketNews          EventType = "market_news"
	EventUnknown             EventType = "unknown"
)

var knownEventTypes = []EventType{
	EventRateDecision,
	EventRegulatoryStatement,
	EventTradingStatus,
	EventListing,
	EventCorporateAction,
	EventMarketNews,
	EventUnknown,
}

// ParseEventType accepts the snake_case event type names used in policy files.
func ParseEventType(raw string) (EventType, error) {
	value := EventType(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range knownEventTypes {
		if value == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown event type %q", raw)
}

// EventCandidate is the classification result for one cluster.
type EventCandidate struct {
	Type       EventType `json:"type"`
	MainEntity string    `json:"main_entity,omitempty"`
	Confidence float64   `json:"confidence"`
	Rule       string    `json:"rule"`
}

// EventScore is derived from a cluster, its candidate, config and the
// evaluation time. It is never stored as authoritative state.
type EventScore struct {
	Score           float64 `json:"score"`
	Confidence      float64 `json:"confidence"`
	SourceWeight    float64 `json:"source_weight"`
	FreshnessDecay  float64 `json:"freshness_decay"`
	EntityRelevance float64 `json:"entity_relevance"`
	EventSeverity   float64 `json:"event_severity"`
	AgeMinutes      float64 `json:"age_minutes"`
	Tier0           bool    `json:"tier0"`
}

type Route string

const (
	RoutePublishNow Route = "PUBLISH_NOW"
	RouteDigest     Route = "DIGEST"
	RouteReview     Route = "REVIEW"
	RouteDrop       Route = "DROP"
)

type DropReason string

const (
	DropReasonNone     DropReason = ""
	DropReasonLowScore DropReason = "LOW_SCORE"
)

// RouteDecision is the terminal output of the pipeline for one cluster.
type RouteDecision struct {
	ClusterKey string     `json:"cluster_key"`
	Route      Route      `json:"route"`
	DropReason DropReason `json:"drop_reason,omitempty"`
}

// Evaluation bundles everything the pipeline derived for one cluster.
type Evaluation struct {
	Cluster   Cluster        `json:"cluster"`
	Candidate EventCandidate `json:"candidate"`
	Score     EventScore     `json:"score"`
	Decision  RouteDecision  `json:"decision"`
}

// Exclusion records an article that was left out of a batch.
type Exclusion struct {
	ArticleID string `json:"article_id"`
	Reason    string `json:"reason"`
}
