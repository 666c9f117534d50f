package db

import (
	"encoding/json"
	"time"
)

// PipelineRun maps newsbot.pipeline_runs: one row per processed batch.
type PipelineRun struct {
	RunID          string    `gorm:"column:run_id;type:uuid;primaryKey"`
	EvaluatedAt    time.Time `gorm:"column:evaluated_at;type:timestamptz;not null"`
	MemberCount    int       `gorm:"column:member_count;type:integer;not null;default:0"`
	ExcludedCount  int       `gorm:"column:excluded_count;type:integer;not null;default:0"`
	ClusterCount   int       `gorm:"column:cluster_count;type:integer;not null;default:0"`
	ClosedCount    int       `gorm:"column:closed_count;type:integer;not null;default:0"`
	WindowVersion  int64     `gorm:"column:window_version;type:bigint;not null"`
	PublishNow     int       `gorm:"column:publish_now_count;type:integer;not null;default:0"`
	Digest         int       `gorm:"column:digest_count;type:integer;not null;default:0"`
	Review         int       `gorm:"column:review_count;type:integer;not null;default:0"`
	Drop           int       `gorm:"column:drop_count;type:integer;not null;default:0"`
	ExcludedDetail []byte    `gorm:"column:excluded_detail;type:jsonb"`
	CreatedAt      time.Time `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (PipelineRun) TableName() string { return "newsbot.pipeline_runs" }

// ClusterRecord maps newsbot.clusters. Open rows form the persisted window.
type ClusterRecord struct {
	ClusterKey         string          `gorm:"column:cluster_key;type:text;primaryKey"`
	Status             string          `gorm:"column:status;type:newsbot.cluster_status;not null;default:open"`
	CanonicalArticleID string          `gorm:"column:canonical_article_id;type:text;not null"`
	CanonicalDomain    string          `gorm:"column:canonical_domain;type:text;not null"`
	Canonical          json.RawMessage `gorm:"column:canonical;type:jsonb;not null"`
	Members            json.RawMessage `gorm:"column:members;type:jsonb;not null"`
	Topics             json.RawMessage `gorm:"column:topics;type:jsonb;not null;default:'[]'"`
	MemberCount        int             `gorm:"column:member_count;type:integer;not null;default:1"`
	CreatedAt          time.Time       `gorm:"column:created_at;type:timestamptz;not null"`
	WindowVersion      int64           `gorm:"column:window_version;type:bigint;not null"`
	LastRunID          string          `gorm:"column:last_run_id;type:uuid;not null"`
	UpdatedAt          time.Time       `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (ClusterRecord) TableName() string { return "newsbot.clusters" }

// RouteDecisionRecord maps newsbot.route_decisions, the delivery ledger.
type RouteDecisionRecord struct {
	DecisionID  int64           `gorm:"column:decision_id;primaryKey;autoIncrement"`
	RunID       string          `gorm:"column:run_id;type:uuid;not null;index"`
	ClusterKey  string          `gorm:"column:cluster_key;type:text;not null;index"`
	Route       string          `gorm:"column:route;type:text;not null"`
	DropReason  *string         `gorm:"column:drop_reason;type:text"`
	EventType   string          `gorm:"column:event_type;type:text;not null"`
	Rule        string          `gorm:"column:rule;type:text;not null"`
	MainEntity  *string         `gorm:"column:main_entity;type:text"`
	Score       float64         `gorm:"column:score;type:double precision;not null"`
	Confidence  float64         `gorm:"column:confidence;type:double precision;not null"`
	Explanation json.RawMessage `gorm:"column:explanation;type:jsonb;not null"`
	Headline    string          `gorm:"column:headline;type:text;not null"`
	URL         string          `gorm:"column:url;type:text;not null"`
	EvaluatedAt time.Time       `gorm:"column:evaluated_at;type:timestamptz;not null"`
	CreatedAt   time.Time       `gorm:"column:created_at;type:timestamptz;not null;default:now()"`
}

func (RouteDecisionRecord) TableName() string { return "newsbot.route_decisions" }

// WindowState maps newsbot.window_state, a single-row version counter.
type WindowState struct {
	ID        int16     `gorm:"column:id;type:smallint;primaryKey"`
	Version   int64     `gorm:"column:version;type:bigint;not null;default:0"`
	LastRunID *string   `gorm:"column:last_run_id;type:uuid"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz;not null;default:now()"`
}

func (WindowState) TableName() string { return "newsbot.window_state" }

func autoMigrateModels() []any {
	return []any{
		&PipelineRun{},
		&ClusterRecord{},
		&RouteDecisionRecord{},
		&WindowState{},
	}
}
