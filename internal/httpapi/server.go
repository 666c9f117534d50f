package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/koteev-m/news-bot-sub003/internal/db"
	"github.com/koteev-m/news-bot-sub003/internal/globaltime"
	"github.com/koteev-m/news-bot-sub003/internal/pipeline"
)

const maxBatchBodyBytes = 8 << 20

// BatchEngine is the single owner of the open-cluster window.
type BatchEngine interface {
	Submit(ctx context.Context, articles []pipeline.Article, now time.Time) (pipeline.BatchOutcome, error)
	Window() pipeline.Window
}

type ArticleBuilder interface {
	BuildBatch(raw json.RawMessage) ([]pipeline.Article, error)
}

type DecisionLister interface {
	ListDecisions(ctx context.Context, filter db.DecisionFilter) ([]db.DecisionRow, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires the server to the pipeline. Decisions and Database are nil when
// the service runs without persistence.
type Deps struct {
	Engine    BatchEngine
	Builder   ArticleBuilder
	Decisions DecisionLister
	Database  Pinger
}

type Options struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	deps   Deps
	logger zerolog.Logger
	opts   Options
}

type decisionItem struct {
	ClusterKey string                  `json:"cluster_key"`
	Route      pipeline.Route          `json:"route"`
	DropReason pipeline.DropReason     `json:"drop_reason,omitempty"`
	Headline   string                  `json:"headline"`
	URL        string                  `json:"url"`
	Members    []string                `json:"members"`
	Candidate  pipeline.EventCandidate `json:"candidate"`
	Score      pipeline.EventScore     `json:"score"`
}

type processResponse struct {
	RunID         string               `json:"run_id"`
	EvaluatedAt   time.Time            `json:"evaluated_at"`
	WindowVersion uint64               `json:"window_version"`
	OpenClusters  int                  `json:"open_clusters"`
	Decisions     []decisionItem       `json:"decisions"`
	Closed        []string             `json:"closed"`
	Excluded      []pipeline.Exclusion `json:"excluded"`
}

type windowCluster struct {
	Key         string    `json:"key"`
	CanonicalID string    `json:"canonical_id"`
	Headline    string    `json:"headline"`
	Domain      string    `json:"domain"`
	Members     []string  `json:"members"`
	Topics      []string  `json:"topics"`
	CreatedAt   time.Time `json:"created_at"`
}

func NewServer(deps Deps, logger zerolog.Logger, opts Options) *Server {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		addr = "127.0.0.1:8090"
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}

	return &Server{
		deps:   deps,
		logger: logger,
		opts: Options{
			Addr:            addr,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
		},
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.deps.Engine == nil || s.deps.Builder == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.router()
	httpServer := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", s.opts.Addr).Msg("newsbot api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("newsbot api server stopped")
	return nil
}

func (s *Server) router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := s.logger.Info()
			msg := "http request"
			if v.Error != nil {
				event = s.logger.Error().Err(v.Error)
				msg = "http request failed"
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg(msg)
			return nil
		},
	}))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/window", s.handleWindow)
	api.GET("/decisions", s.handleDecisions)
	api.POST("/process", s.handleProcess, middleware.BodyLimit(strconv.Itoa(maxBatchBodyBytes>>20)+"M"))

	return e
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	window := s.deps.Engine.Window()
	data := map[string]any{
		"service":        "newsbot",
		"time":           globaltime.UTC(),
		"window_version": window.Version,
		"open_clusters":  len(window.Clusters),
		"database":       "disabled",
	}
	if s.deps.Database == nil {
		return success(c, data)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()
	if err := s.deps.Database.Ping(ctx); err != nil {
		s.logger.Error().Err(err).Msg("database ping failed")
		data["database"] = "unreachable"
		return fail(c, http.StatusServiceUnavailable, "Database is unreachable", data)
	}
	data["database"] = "ok"
	return success(c, data)
}

func (s *Server) handleWindow(c echo.Context) error {
	window := s.deps.Engine.Window()
	items := make([]windowCluster, 0, len(window.Clusters))
	for _, cl := range window.Clusters {
		items = append(items, windowCluster{
			Key:         cl.Key,
			CanonicalID: cl.Canonical.ID,
			Headline:    cl.Canonical.Title,
			Domain:      cl.Canonical.Domain,
			Members:     cl.MemberIDs(),
			Topics:      nonNilStrings(cl.Topics),
			CreatedAt:   cl.CreatedAt,
		})
	}
	return success(c, map[string]any{
		"version":  window.Version,
		"clusters": items,
	})
}

func (s *Server) handleProcess(c echo.Context) error {
	now, err := globaltime.Parse(c.QueryParam("now"))
	if err != nil {
		return failValidation(c, map[string]string{"now": "must be RFC3339"})
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return failValidation(c, map[string]string{"body": "could not be read"})
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return failValidation(c, map[string]string{"body": "is required"})
	}

	articles, err := s.deps.Builder.BuildBatch(json.RawMessage(body))
	if err != nil {
		return failValidation(c, map[string]string{"payload": err.Error()})
	}

	outcome, err := s.deps.Engine.Submit(c.Request().Context(), articles, now)
	if err != nil {
		if errors.Is(err, pipeline.ErrEngineStopped) {
			return failUnavailable(c, "Pipeline engine is not running")
		}
		s.logger.Error().Err(err).Int("articles", len(articles)).Msg("process batch failed")
		return internalError(c, "Failed to process batch")
	}

	return success(c, newProcessResponse(outcome, now))
}

func (s *Server) handleDecisions(c echo.Context) error {
	if s.deps.Decisions == nil {
		return failUnavailable(c, "Decision history requires DATABASE_URL")
	}

	limit, err := parsePositiveInt(c.QueryParam("limit"), db.DefaultDecisionLimit, 1, db.MaxDecisionLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}
	route, err := parseRoute(c.QueryParam("route"))
	if err != nil {
		return failValidation(c, map[string]string{"route": err.Error()})
	}
	since, err := parseTimeFilter(c.QueryParam("since"))
	if err != nil {
		return failValidation(c, map[string]string{"since": "must be RFC3339 or YYYY-MM-DD"})
	}

	filter := db.DecisionFilter{Limit: limit, Route: route}
	if since != nil {
		filter.Since = *since
	}
	rows, err := s.deps.Decisions.ListDecisions(c.Request().Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("query decisions failed")
		return internalError(c, "Failed to load decisions")
	}

	return success(c, map[string]any{
		"items": rows,
		"filters": map[string]any{
			"limit": limit,
			"route": route,
			"since": since,
		},
	})
}

func newProcessResponse(outcome pipeline.BatchOutcome, now time.Time) processResponse {
	result := outcome.Result
	resp := processResponse{
		RunID:         outcome.RunID,
		EvaluatedAt:   now.UTC(),
		WindowVersion: result.Window.Version,
		OpenClusters:  len(result.Window.Clusters),
		Decisions:     make([]decisionItem, 0, len(result.Evaluations)),
		Closed:        make([]string, 0, len(result.Closed)),
		Excluded:      result.Excluded,
	}
	if resp.Excluded == nil {
		resp.Excluded = []pipeline.Exclusion{}
	}
	for _, ev := range result.Evaluations {
		resp.Decisions = append(resp.Decisions, decisionItem{
			ClusterKey: ev.Decision.ClusterKey,
			Route:      ev.Decision.Route,
			DropReason: ev.Decision.DropReason,
			Headline:   ev.Cluster.Canonical.Title,
			URL:        ev.Cluster.Canonical.URL,
			Members:    ev.Cluster.MemberIDs(),
			Candidate:  ev.Candidate,
			Score:      ev.Score,
		})
	}
	for _, cl := range result.Closed {
		resp.Closed = append(resp.Closed, cl.Key)
	}
	return resp
}

func parseRoute(raw string) (pipeline.Route, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(raw))
	switch pipeline.Route(trimmed) {
	case "":
		return "", nil
	case pipeline.RoutePublishNow, pipeline.RouteDigest, pipeline.RouteReview, pipeline.RouteDrop:
		return pipeline.Route(trimmed), nil
	}
	return "", fmt.Errorf("must be one of PUBLISH_NOW, DIGEST, REVIEW, DROP")
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}

func parseTimeFilter(raw string) (*time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}

	if ts, err := time.Parse(time.RFC3339, trimmed); err == nil {
		utc := ts.UTC()
		return &utc, nil
	}
	if day, err := time.Parse("2006-01-02", trimmed); err == nil {
		utc := day.UTC()
		return &utc, nil
	}
	return nil, fmt.Errorf("invalid time format")
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
