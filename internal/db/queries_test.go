package db

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm/logger"

	"github.com/koteev-m/news-bot-sub003/internal/pipeline"
)

func sampleCluster() pipeline.Cluster {
	summary := "The Board of Directors raised the key rate."
	published := time.Date(2026, 3, 20, 10, 30, 0, 0, time.UTC)
	canonical := pipeline.Article{
		ID:          "cbr-1",
		URL:         "https://www.cbr.ru/press/pr?file=20032026.htm",
		Domain:      "cbr.ru",
		Title:       "Bank of Russia raises key rate",
		Summary:     &summary,
		PublishedAt: published,
		Language:    "en",
		Tickers:     []string{"SBER"},
		Entities:    []string{"CBR", "SBER"},
		Fingerprints: pipeline.Fingerprints{
			ExactHash: "abc",
			Simhash:   42,
		},
	}
	mirror := canonical
	mirror.ID = "rbc-1"
	mirror.Domain = "rbc.ru"
	mirror.PublishedAt = published.Add(2 * time.Minute)

	return pipeline.Cluster{
		Key:       "c-cbr-1",
		Canonical: canonical,
		Members:   []pipeline.Article{canonical, mirror},
		Topics:    []string{"CBR", "SBER"},
		CreatedAt: published,
	}
}

func TestClusterRecordRoundTrip(t *testing.T) {
	t.Parallel()

	cluster := sampleCluster()
	now := time.Date(2026, 3, 20, 11, 0, 0, 0, time.UTC)
	rec, err := newClusterRecord(cluster, "open", "run-1", 3, now)
	if err != nil {
		t.Fatalf("newClusterRecord: %v", err)
	}
	if rec.MemberCount != 2 || rec.CanonicalArticleID != "cbr-1" || rec.CanonicalDomain != "cbr.ru" {
		t.Fatalf("unexpected record header: %+v", rec)
	}
	if rec.WindowVersion != 3 || rec.LastRunID != "run-1" || !rec.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected record bookkeeping: %+v", rec)
	}

	decoded, err := decodeCluster(rec.ClusterKey, rec.Canonical, rec.Members, rec.Topics, rec.CreatedAt)
	if err != nil {
		t.Fatalf("decodeCluster: %v", err)
	}
	if decoded.Key != cluster.Key || !decoded.CreatedAt.Equal(cluster.CreatedAt) {
		t.Fatalf("unexpected decoded cluster: %+v", decoded)
	}
	if got := strings.Join(decoded.MemberIDs(), ","); got != "cbr-1,rbc-1" {
		t.Fatalf("unexpected members: %s", got)
	}
	if decoded.Canonical.Summary == nil || *decoded.Canonical.Summary != *cluster.Canonical.Summary {
		t.Fatalf("canonical summary was not preserved")
	}
	if decoded.Canonical.Fingerprints.Simhash != 42 {
		t.Fatalf("fingerprints were not preserved: %+v", decoded.Canonical.Fingerprints)
	}
	if strings.Join(decoded.Topics, ",") != "CBR,SBER" {
		t.Fatalf("unexpected topics: %v", decoded.Topics)
	}
}

func TestClusterRecordEmptyTopics(t *testing.T) {
	t.Parallel()

	cluster := sampleCluster()
	cluster.Topics = nil
	rec, err := newClusterRecord(cluster, "closed", "run-2", 1, time.Now())
	if err != nil {
		t.Fatalf("newClusterRecord: %v", err)
	}
	if string(rec.Topics) != "[]" {
		t.Fatalf("expected empty topic array, got %s", rec.Topics)
	}

	decoded, err := decodeCluster(rec.ClusterKey, rec.Canonical, rec.Members, nil, rec.CreatedAt)
	if err != nil {
		t.Fatalf("decodeCluster: %v", err)
	}
	if decoded.Topics != nil {
		t.Fatalf("expected nil topics, got %v", decoded.Topics)
	}
}

func TestDecodeClusterRejectsCorruptJSON(t *testing.T) {
	t.Parallel()

	_, err := decodeCluster("c-x", []byte("{"), []byte("[]"), nil, time.Now())
	if err == nil || !strings.Contains(err.Error(), "c-x") {
		t.Fatalf("expected decode error naming the cluster, got %v", err)
	}
}

func TestNewRunRecordCountsRoutes(t *testing.T) {
	t.Parallel()

	cluster := sampleCluster()
	result := pipeline.BatchResult{
		Window: pipeline.Window{Version: 4, Clusters: []pipeline.Cluster{cluster}},
		Evaluations: []pipeline.Evaluation{
			{Cluster: cluster, Decision: pipeline.RouteDecision{ClusterKey: cluster.Key, Route: pipeline.RoutePublishNow}},
			{Cluster: pipeline.Cluster{Key: "c-2", Members: []pipeline.Article{{ID: "x"}}}, Decision: pipeline.RouteDecision{Route: pipeline.RouteDrop, DropReason: pipeline.DropReasonLowScore}},
			{Cluster: pipeline.Cluster{Key: "c-3"}, Decision: pipeline.RouteDecision{Route: pipeline.RouteDigest}},
		},
		Closed:   []pipeline.Cluster{{Key: "c-old"}},
		Excluded: []pipeline.Exclusion{{ArticleID: "bad", Reason: "title must not be empty"}},
	}

	run, err := newRunRecord("run-9", result, time.Date(2026, 3, 20, 11, 0, 0, 0, time.FixedZone("MSK", 3*3600)))
	if err != nil {
		t.Fatalf("newRunRecord: %v", err)
	}
	if run.PublishNow != 1 || run.Drop != 1 || run.Digest != 1 || run.Review != 0 {
		t.Fatalf("unexpected route counts: %+v", run)
	}
	if run.MemberCount != 3 || run.ClusterCount != 3 || run.ClosedCount != 1 || run.ExcludedCount != 1 {
		t.Fatalf("unexpected counts: %+v", run)
	}
	if run.WindowVersion != 4 || run.EvaluatedAt.Location() != time.UTC {
		t.Fatalf("unexpected run bookkeeping: %+v", run)
	}

	var excluded []pipeline.Exclusion
	if err := json.Unmarshal(run.ExcludedDetail, &excluded); err != nil {
		t.Fatalf("decode excluded detail: %v", err)
	}
	if len(excluded) != 1 || excluded[0].ArticleID != "bad" {
		t.Fatalf("unexpected excluded detail: %s", run.ExcludedDetail)
	}
}

func TestNewRunRecordEmptyExclusions(t *testing.T) {
	t.Parallel()

	run, err := newRunRecord("run-0", pipeline.BatchResult{Window: pipeline.Window{Version: 1}}, time.Now())
	if err != nil {
		t.Fatalf("newRunRecord: %v", err)
	}
	if string(run.ExcludedDetail) != "[]" {
		t.Fatalf("expected empty exclusion array, got %s", run.ExcludedDetail)
	}
}

func TestNewDecisionRecord(t *testing.T) {
	t.Parallel()

	cluster := sampleCluster()
	ev := pipeline.Evaluation{
		Cluster: cluster,
		Candidate: pipeline.EventCandidate{
			Type:       pipeline.EventRateDecision,
			MainEntity: "SBER",
			Confidence: 0.9,
			Rule:       "regulator_rate",
		},
		Score:    pipeline.EventScore{Score: 162, Confidence: 0.9, Tier0: true},
		Decision: pipeline.RouteDecision{ClusterKey: cluster.Key, Route: pipeline.RoutePublishNow},
	}

	rec, err := newDecisionRecord("run-1", ev, time.Date(2026, 3, 20, 11, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("newDecisionRecord: %v", err)
	}
	if rec.Route != "PUBLISH_NOW" || rec.DropReason != nil {
		t.Fatalf("unexpected route fields: %+v", rec)
	}
	if rec.MainEntity == nil || *rec.MainEntity != "SBER" {
		t.Fatalf("unexpected main entity: %v", rec.MainEntity)
	}
	if rec.Headline != cluster.Canonical.Title || rec.URL != cluster.Canonical.URL {
		t.Fatalf("unexpected headline/url: %q %q", rec.Headline, rec.URL)
	}

	var explanation decisionExplanation
	if err := json.Unmarshal(rec.Explanation, &explanation); err != nil {
		t.Fatalf("decode explanation: %v", err)
	}
	if explanation.Candidate.Rule != "regulator_rate" || explanation.Score.Score != 162 || len(explanation.Members) != 2 {
		t.Fatalf("unexpected explanation: %s", rec.Explanation)
	}
}

func TestNewDecisionRecordDrop(t *testing.T) {
	t.Parallel()

	ev := pipeline.Evaluation{
		Cluster:   sampleCluster(),
		Candidate: pipeline.EventCandidate{Type: pipeline.EventUnknown, Rule: "fallback"},
		Decision:  pipeline.RouteDecision{ClusterKey: "c-cbr-1", Route: pipeline.RouteDrop, DropReason: pipeline.DropReasonLowScore},
	}
	rec, err := newDecisionRecord("run-1", ev, time.Now())
	if err != nil {
		t.Fatalf("newDecisionRecord: %v", err)
	}
	if rec.DropReason == nil || *rec.DropReason != "LOW_SCORE" || rec.MainEntity != nil {
		t.Fatalf("unexpected drop record: %+v", rec)
	}
}

func TestBuildDecisionQuery(t *testing.T) {
	t.Parallel()

	query, args := buildDecisionQuery(DecisionFilter{})
	if strings.Contains(query, "WHERE") {
		t.Fatalf("unfiltered query should not have WHERE: %s", query)
	}
	if len(args) != 1 || args[0] != DefaultDecisionLimit {
		t.Fatalf("unexpected args: %v", args)
	}

	since := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)
	query, args = buildDecisionQuery(DecisionFilter{Limit: 10_000, Route: pipeline.RouteReview, Since: since})
	if !strings.Contains(query, "WHERE route = $1 AND evaluated_at >= $2") {
		t.Fatalf("unexpected filter clause: %s", query)
	}
	if !strings.Contains(query, "LIMIT $3") {
		t.Fatalf("unexpected limit placeholder: %s", query)
	}
	if len(args) != 3 || args[0] != "REVIEW" || args[2] != MaxDecisionLimit {
		t.Fatalf("unexpected args: %v", args)
	}
}

func TestResolveGormLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		level string
		env   string
		want  logger.LogLevel
	}{
		{level: "debug", want: logger.Info},
		{level: "", want: logger.Warn},
		{level: "error", want: logger.Error},
		{level: "disabled", want: logger.Silent},
		{level: "verbose", env: "local", want: logger.Warn},
		{level: "verbose", env: "production", want: logger.Error},
	}
	for _, tc := range cases {
		if got := resolveGormLogLevel(tc.level, tc.env); got != tc.want {
			t.Fatalf("resolveGormLogLevel(%q, %q) = %v, want %v", tc.level, tc.env, got, tc.want)
		}
	}
}
