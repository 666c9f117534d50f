package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const DefaultEngineQueueSize = 16

var ErrEngineStopped = errors.New("pipeline engine is not running")

// WindowStore persists the open-cluster window between process restarts.
type WindowStore interface {
	LoadWindow(ctx context.Context) (Window, error)
	SaveBatch(ctx context.Context, runID string, result BatchResult, evaluatedAt time.Time) error
}

type EngineOptions struct {
	QueueSize int
	Store     WindowStore
}

// BatchOutcome is returned to callers of Engine.Submit.
type BatchOutcome struct {
	RunID  string      `json:"run_id"`
	Result BatchResult `json:"result"`
}

type batchRequest struct {
	articles []Article
	now      time.Time
	reply    chan batchReply
}

type batchReply struct {
	outcome BatchOutcome
	err     error
}

// Engine owns the open-cluster window for continuously arriving articles.
// A single goroutine (Run) applies batches one at a time, so merge decisions
// never race; callers submit batches and wait for their own result.
type Engine struct {
	cfg    Config
	logger zerolog.Logger
	store  WindowStore

	requests chan batchRequest
	started  chan struct{}
	stopped  chan struct{}

	mu       sync.RWMutex
	snapshot Window
}

func NewEngine(cfg Config, logger zerolog.Logger, opts EngineOptions) *Engine {
	queueSize := opts.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultEngineQueueSize
	}
	return &Engine{
		cfg:      cfg,
		logger:   logger,
		store:    opts.Store,
		requests: make(chan batchRequest, queueSize),
		started:  make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Run loads the stored window (when a store is configured) and processes
// submitted batches until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.stopped)

	window := Window{}
	if e.store != nil {
		loaded, err := e.store.LoadWindow(ctx)
		if err != nil {
			return fmt.Errorf("load open cluster window: %w", err)
		}
		window = loaded
		e.logger.Info().
			Uint64("window_version", window.Version).
			Int("open_clusters", len(window.Clusters)).
			Msg("open cluster window loaded")
	}
	e.publish(window)
	close(e.started)

	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-e.requests:
			outcome, err := e.apply(ctx, window, req)
			if err == nil {
				window = outcome.Result.Window
				e.publish(window)
			}
			req.reply <- batchReply{outcome: outcome, err: err}
		}
	}
}

func (e *Engine) apply(ctx context.Context, window Window, req batchRequest) (BatchOutcome, error) {
	result := Run(window, req.articles, e.cfg, req.now)
	runID := uuid.NewString()

	for _, ex := range result.Excluded {
		e.logger.Warn().
			Str("run_id", runID).
			Str("article_id", ex.ArticleID).
			Str("reason", ex.Reason).
			Msg("article excluded from clustering")
	}

	if e.store != nil {
		if err := e.store.SaveBatch(ctx, runID, result, req.now); err != nil {
			e.logger.Error().Err(err).Str("run_id", runID).Msg("persist batch failed; window not advanced")
			return BatchOutcome{}, fmt.Errorf("persist batch %s: %w", runID, err)
		}
	}

	counts := map[Route]int{}
	for _, ev := range result.Evaluations {
		counts[ev.Decision.Route]++
	}
	e.logger.Info().
		Str("run_id", runID).
		Int("articles", len(req.articles)).
		Int("excluded", len(result.Excluded)).
		Int("clusters", len(result.Evaluations)).
		Int("publish_now", counts[RoutePublishNow]).
		Int("digest", counts[RouteDigest]).
		Int("review", counts[RouteReview]).
		Int("drop", counts[RouteDrop]).
		Uint64("window_version", result.Window.Version).
		Int("open_clusters", len(result.Window.Clusters)).
		Msg("batch processed")

	return BatchOutcome{RunID: runID, Result: result}, nil
}

// Submit queues a batch and waits for its result.
func (e *Engine) Submit(ctx context.Context, articles []Article, now time.Time) (BatchOutcome, error) {
	select {
	case <-e.stopped:
		return BatchOutcome{}, ErrEngineStopped
	default:
	}

	req := batchRequest{
		articles: append([]Article(nil), articles...),
		now:      now,
		reply:    make(chan batchReply, 1),
	}

	select {
	case e.requests <- req:
	case <-e.stopped:
		return BatchOutcome{}, ErrEngineStopped
	case <-ctx.Done():
		return BatchOutcome{}, ctx.Err()
	}

	select {
	case reply := <-req.reply:
		return reply.outcome, reply.err
	case <-e.stopped:
		return BatchOutcome{}, ErrEngineStopped
	case <-ctx.Done():
		return BatchOutcome{}, ctx.Err()
	}
}

// Ready is closed once the engine has loaded its window and accepts batches.
func (e *Engine) Ready() <-chan struct{} {
	return e.started
}

// Window returns the most recently committed open-cluster window.
func (e *Engine) Window() Window {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.snapshot
}

func (e *Engine) publish(w Window) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snapshot = w
}
