package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/koteev-m/news-bot-sub003/internal/pipeline"
)

const windowStateID = 1

var ErrWindowConflict = errors.New("open cluster window was advanced by another writer")

// PipelineStore persists the open-cluster window, closed clusters, route
// decisions and the per-batch run ledger.
type PipelineStore struct {
	pool   *Pool
	logger zerolog.Logger
}

var _ pipeline.WindowStore = (*PipelineStore)(nil)

func NewPipelineStore(pool *Pool, logger zerolog.Logger) *PipelineStore {
	return &PipelineStore{pool: pool, logger: logger}
}

// LoadWindow rebuilds the last committed window from open cluster rows.
func (s *PipelineStore) LoadWindow(ctx context.Context) (pipeline.Window, error) {
	if s == nil || s.pool == nil {
		return pipeline.Window{}, fmt.Errorf("pipeline store is not initialized")
	}

	var version int64
	err := s.pool.QueryRow(ctx, `SELECT version FROM newsbot.window_state WHERE id = $1`, windowStateID).Scan(&version)
	if err != nil && !IsNoRows(err) {
		return pipeline.Window{}, fmt.Errorf("select window version: %w", err)
	}

	rows, err := s.pool.Query(ctx, `
SELECT cluster_key, canonical, members, topics, created_at
FROM newsbot.clusters
WHERE status = 'open'
ORDER BY created_at ASC, cluster_key ASC
`)
	if err != nil {
		return pipeline.Window{}, fmt.Errorf("select open clusters: %w", err)
	}
	defer rows.Close()

	window := pipeline.Window{Version: uint64(version)}
	for rows.Next() {
		var (
			key                         string
			canonical, members, topics []byte
			createdAt                   time.Time
		)
		if err := rows.Scan(&key, &canonical, &members, &topics, &createdAt); err != nil {
			return pipeline.Window{}, fmt.Errorf("scan open cluster: %w", err)
		}
		cluster, err := decodeCluster(key, canonical, members, topics, createdAt)
		if err != nil {
			return pipeline.Window{}, err
		}
		window.Clusters = append(window.Clusters, cluster)
	}
	if err := rows.Err(); err != nil {
		return pipeline.Window{}, fmt.Errorf("iterate open clusters: %w", err)
	}
	return window, nil
}

// SaveBatch commits one batch atomically. The window version only advances
// when the stored version still equals the batch's prior version.
func (s *PipelineStore) SaveBatch(ctx context.Context, runID string, result pipeline.BatchResult, evaluatedAt time.Time) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("pipeline store is not initialized")
	}

	run, err := newRunRecord(runID, result, evaluatedAt)
	if err != nil {
		return err
	}

	tx, err := s.pool.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := advanceWindowVersion(ctx, tx, runID, result.Window.Version); err != nil {
		return err
	}

	const insertRun = `
INSERT INTO newsbot.pipeline_runs (
	run_id,
	evaluated_at,
	member_count,
	excluded_count,
	cluster_count,
	closed_count,
	window_version,
	publish_now_count,
	digest_count,
	review_count,
	drop_count,
	excluded_detail,
	created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::jsonb, $2)
`
	if _, err := tx.Exec(ctx, insertRun,
		run.RunID, run.EvaluatedAt, run.MemberCount, run.ExcludedCount, run.ClusterCount, run.ClosedCount,
		run.WindowVersion, run.PublishNow, run.Digest, run.Review, run.Drop, string(run.ExcludedDetail),
	); err != nil {
		return fmt.Errorf("insert pipeline_runs: %w", err)
	}

	for _, c := range result.Window.Clusters {
		if err := upsertCluster(ctx, tx, c, "open", runID, result.Window.Version, evaluatedAt); err != nil {
			return err
		}
	}
	for _, c := range result.Closed {
		if err := upsertCluster(ctx, tx, c, "closed", runID, result.Window.Version, evaluatedAt); err != nil {
			return err
		}
	}

	for _, ev := range result.Evaluations {
		if err := insertDecision(ctx, tx, runID, ev, evaluatedAt); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Debug().
		Str("run_id", runID).
		Uint64("window_version", result.Window.Version).
		Int("open_clusters", len(result.Window.Clusters)).
		Int("decisions", len(result.Evaluations)).
		Msg("batch persisted")
	return nil
}

func advanceWindowVersion(ctx context.Context, tx Tx, runID string, version uint64) error {
	if version == 0 {
		return fmt.Errorf("window version must be positive after a batch")
	}
	const q = `
INSERT INTO newsbot.window_state (id, version, last_run_id, updated_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (id) DO UPDATE
SET
	version = EXCLUDED.version,
	last_run_id = EXCLUDED.last_run_id,
	updated_at = EXCLUDED.updated_at
WHERE newsbot.window_state.version = $4
`
	tag, err := tx.Exec(ctx, q, windowStateID, int64(version), runID, int64(version-1))
	if err != nil {
		return fmt.Errorf("advance window version: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return fmt.Errorf("advance window to version %d: %w", version, ErrWindowConflict)
	}
	return nil
}

func upsertCluster(ctx context.Context, tx Tx, c pipeline.Cluster, status, runID string, version uint64, now time.Time) error {
	row, err := newClusterRecord(c, status, runID, version, now)
	if err != nil {
		return err
	}

	const q = `
INSERT INTO newsbot.clusters (
	cluster_key,
	status,
	canonical_article_id,
	canonical_domain,
	canonical,
	members,
	topics,
	member_count,
	created_at,
	window_version,
	last_run_id,
	updated_at
)
VALUES ($1, $2::newsbot.cluster_status, $3, $4, $5::jsonb, $6::jsonb, $7::jsonb, $8, $9, $10, $11, $12)
ON CONFLICT (cluster_key) DO UPDATE
SET
	status = EXCLUDED.status,
	canonical_article_id = EXCLUDED.canonical_article_id,
	canonical_domain = EXCLUDED.canonical_domain,
	canonical = EXCLUDED.canonical,
	members = EXCLUDED.members,
	topics = EXCLUDED.topics,
	member_count = EXCLUDED.member_count,
	created_at = EXCLUDED.created_at,
	window_version = EXCLUDED.window_version,
	last_run_id = EXCLUDED.last_run_id,
	updated_at = EXCLUDED.updated_at
`
	if _, err := tx.Exec(ctx, q,
		row.ClusterKey, row.Status, row.CanonicalArticleID, row.CanonicalDomain,
		string(row.Canonical), string(row.Members), string(row.Topics), row.MemberCount,
		row.CreatedAt, row.WindowVersion, row.LastRunID, row.UpdatedAt,
	); err != nil {
		return fmt.Errorf("upsert cluster %s: %w", c.Key, err)
	}
	return nil
}

func insertDecision(ctx context.Context, tx Tx, runID string, ev pipeline.Evaluation, evaluatedAt time.Time) error {
	row, err := newDecisionRecord(runID, ev, evaluatedAt)
	if err != nil {
		return err
	}

	const q = `
INSERT INTO newsbot.route_decisions (
	run_id,
	cluster_key,
	route,
	drop_reason,
	event_type,
	rule,
	main_entity,
	score,
	confidence,
	explanation,
	headline,
	url,
	evaluated_at,
	created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11, $12, $13, $13)
`
	if _, err := tx.Exec(ctx, q,
		row.RunID, row.ClusterKey, row.Route, row.DropReason, row.EventType, row.Rule, row.MainEntity,
		row.Score, row.Confidence, string(row.Explanation), row.Headline, row.URL, row.EvaluatedAt,
	); err != nil {
		return fmt.Errorf("insert route decision for %s: %w", ev.Cluster.Key, err)
	}
	return nil
}

func newRunRecord(runID string, result pipeline.BatchResult, evaluatedAt time.Time) (PipelineRun, error) {
	excluded := result.Excluded
	if excluded == nil {
		excluded = []pipeline.Exclusion{}
	}
	detail, err := json.Marshal(excluded)
	if err != nil {
		return PipelineRun{}, fmt.Errorf("encode exclusions: %w", err)
	}

	run := PipelineRun{
		RunID:          runID,
		EvaluatedAt:    evaluatedAt.UTC(),
		MemberCount:    countMembers(result.Evaluations),
		ExcludedCount:  len(result.Excluded),
		ClusterCount:   len(result.Evaluations),
		ClosedCount:    len(result.Closed),
		WindowVersion:  int64(result.Window.Version),
		ExcludedDetail: detail,
	}
	for _, ev := range result.Evaluations {
		switch ev.Decision.Route {
		case pipeline.RoutePublishNow:
			run.PublishNow++
		case pipeline.RouteDigest:
			run.Digest++
		case pipeline.RouteReview:
			run.Review++
		case pipeline.RouteDrop:
			run.Drop++
		}
	}
	return run, nil
}

// countMembers totals the members of every cluster evaluated in the batch.
func countMembers(evaluations []pipeline.Evaluation) int {
	n := 0
	for _, ev := range evaluations {
		n += len(ev.Cluster.Members)
	}
	return n
}

func newClusterRecord(c pipeline.Cluster, status, runID string, version uint64, now time.Time) (ClusterRecord, error) {
	canonical, err := json.Marshal(c.Canonical)
	if err != nil {
		return ClusterRecord{}, fmt.Errorf("encode canonical of %s: %w", c.Key, err)
	}
	members, err := json.Marshal(c.Members)
	if err != nil {
		return ClusterRecord{}, fmt.Errorf("encode members of %s: %w", c.Key, err)
	}
	topicList := c.Topics
	if topicList == nil {
		topicList = []string{}
	}
	topics, err := json.Marshal(topicList)
	if err != nil {
		return ClusterRecord{}, fmt.Errorf("encode topics of %s: %w", c.Key, err)
	}

	return ClusterRecord{
		ClusterKey:         c.Key,
		Status:             status,
		CanonicalArticleID: c.Canonical.ID,
		CanonicalDomain:    c.Canonical.Domain,
		Canonical:          canonical,
		Members:            members,
		Topics:             topics,
		MemberCount:        len(c.Members),
		CreatedAt:          c.CreatedAt.UTC(),
		WindowVersion:      int64(version),
		LastRunID:          runID,
		UpdatedAt:          now.UTC(),
	}, nil
}

func decodeCluster(key string, canonical, members, topics []byte, createdAt time.Time) (pipeline.Cluster, error) {
	c := pipeline.Cluster{Key: key, CreatedAt: createdAt.UTC()}
	if err := json.Unmarshal(canonical, &c.Canonical); err != nil {
		return pipeline.Cluster{}, fmt.Errorf("decode canonical of %s: %w", key, err)
	}
	if err := json.Unmarshal(members, &c.Members); err != nil {
		return pipeline.Cluster{}, fmt.Errorf("decode members of %s: %w", key, err)
	}
	if len(topics) > 0 {
		if err := json.Unmarshal(topics, &c.Topics); err != nil {
			return pipeline.Cluster{}, fmt.Errorf("decode topics of %s: %w", key, err)
		}
	}
	if len(c.Topics) == 0 {
		c.Topics = nil
	}
	return c, nil
}
