package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/koteev-m/news-bot-sub003/internal/cli"
	"github.com/koteev-m/news-bot-sub003/internal/db"
	"github.com/koteev-m/news-bot-sub003/internal/globaltime"
	"github.com/koteev-m/news-bot-sub003/internal/ingest"
	"github.com/koteev-m/news-bot-sub003/internal/pipeline"
)

type processedDecision struct {
	ClusterKey string              `json:"cluster_key"`
	Route      pipeline.Route      `json:"route"`
	DropReason pipeline.DropReason `json:"drop_reason,omitempty"`
	EventType  pipeline.EventType  `json:"event_type"`
	Rule       string              `json:"rule"`
	MainEntity string              `json:"main_entity,omitempty"`
	Score      pipeline.EventScore `json:"score"`
	Members    []string            `json:"members"`
	Headline   string              `json:"headline"`
	URL        string              `json:"url"`
}

type processReport struct {
	RunID         string               `json:"run_id"`
	EvaluatedAt   time.Time            `json:"evaluated_at"`
	WindowVersion uint64               `json:"window_version"`
	OpenClusters  int                  `json:"open_clusters"`
	Persisted     bool                 `json:"persisted"`
	Decisions     []processedDecision  `json:"decisions"`
	Closed        []string             `json:"closed"`
	Excluded      []pipeline.Exclusion `json:"excluded"`
}

func runProcess(args []string) int {
	fs := flag.NewFlagSet("process", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	dir := fs.String("dir", "", "Directory containing .json article payload files (files may also be passed as arguments)")
	recursive := fs.Bool("recursive", true, "Recursively scan --dir")
	nowRaw := fs.String("now", "", "Evaluation time as RFC3339 (default: current UTC time)")
	policyPath := fs.String("policy", "", "Routing policy YAML (default: POLICY_PATH or built-in policy)")
	persist := fs.Bool("persist", false, "Load the open-cluster window from and save the batch to the database")
	format := fs.String("format", outputFormatTable, "Output format: table or json")
	timeout := fs.Duration("timeout", 60*time.Second, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 2
	}
	now, err := globaltime.Parse(strings.TrimSpace(*nowRaw))
	if err != nil {
		fmt.Fprintf(os.Stderr, "--now must be RFC3339: %v\n", err)
		return 2
	}
	files, err := collectInputFiles(*dir, *recursive, fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid input: %v\n", err)
		return 2
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "No input files: pass --dir or payload file paths")
		return 2
	}

	cfg, logger, err := bootstrap(envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}

	policy, err := loadPipelineConfig(cfg, *policyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid policy: %v\n", err)
		return 1
	}

	articles, err := loadArticles(ingest.NewBuilder(policy, logger), files)
	if err != nil {
		logger.Error().Err(err).Msg("load article payloads failed")
		fmt.Fprintf(os.Stderr, "Invalid payload: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	opts := pipeline.EngineOptions{QueueSize: cfg.EngineQueueSize}
	if *persist {
		pool, err := db.NewPool(ctx, cfg)
		if err != nil {
			logger.Error().Err(err).Msg("database connection failed")
			fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
			return 1
		}
		defer pool.Close()
		opts.Store = db.NewPipelineStore(pool, logger)
	}

	outcome, err := runBatch(ctx, policy, logger, opts, articles, now)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Process failed: %v\n", err)
		return 1
	}

	report := newProcessReport(outcome, now, *persist)
	for _, ex := range report.Excluded {
		fmt.Fprintf(os.Stderr, "EXCLUDED %s: %s\n", ex.ArticleID, ex.Reason)
	}
	if err := renderProcessReport(os.Stdout, outputFormat, report); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render output: %v\n", err)
		return 1
	}
	return 0
}

// runBatch drives one batch through a short-lived engine so the CLI and the
// server share the same load, apply and persist path.
func runBatch(
	ctx context.Context,
	policy pipeline.Config,
	logger zerolog.Logger,
	opts pipeline.EngineOptions,
	articles []pipeline.Article,
	now time.Time,
) (pipeline.BatchOutcome, error) {
	engine := pipeline.NewEngine(policy, logger, opts)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- engine.Run(runCtx)
	}()

	select {
	case <-engine.Ready():
	case err := <-done:
		if err == nil {
			err = ctx.Err()
		}
		return pipeline.BatchOutcome{}, err
	}

	outcome, err := engine.Submit(runCtx, articles, now)
	cancel()
	if runErr := <-done; runErr != nil && err == nil {
		err = runErr
	}
	return outcome, err
}

func collectInputFiles(dir string, recursive bool, paths []string) ([]string, error) {
	var files []string
	if strings.TrimSpace(dir) != "" {
		found, err := collectJSONFiles(dir, recursive)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}

	seen := make(map[string]struct{}, len(files)+len(paths))
	for _, f := range files {
		seen[f] = struct{}{}
	}
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		files = append(files, p)
	}
	return files, nil
}

// loadArticles builds every payload in files. A single invalid payload fails
// the whole batch.
func loadArticles(builder *ingest.Builder, files []string) ([]pipeline.Article, error) {
	var articles []pipeline.Article
	for _, path := range files {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		built, err := builder.BuildBatch(json.RawMessage(raw))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		articles = append(articles, built...)
	}
	return articles, nil
}

func newProcessReport(outcome pipeline.BatchOutcome, now time.Time, persisted bool) processReport {
	result := outcome.Result
	report := processReport{
		RunID:         outcome.RunID,
		EvaluatedAt:   now.UTC(),
		WindowVersion: result.Window.Version,
		OpenClusters:  len(result.Window.Clusters),
		Persisted:     persisted,
		Decisions:     make([]processedDecision, 0, len(result.Evaluations)),
		Closed:        make([]string, 0, len(result.Closed)),
		Excluded:      result.Excluded,
	}
	if report.Excluded == nil {
		report.Excluded = []pipeline.Exclusion{}
	}
	for _, ev := range result.Evaluations {
		report.Decisions = append(report.Decisions, processedDecision{
			ClusterKey: ev.Decision.ClusterKey,
			Route:      ev.Decision.Route,
			DropReason: ev.Decision.DropReason,
			EventType:  ev.Candidate.Type,
			Rule:       ev.Candidate.Rule,
			MainEntity: ev.Candidate.MainEntity,
			Score:      ev.Score,
			Members:    ev.Cluster.MemberIDs(),
			Headline:   ev.Cluster.Canonical.Title,
			URL:        ev.Cluster.Canonical.URL,
		})
	}
	for _, cl := range result.Closed {
		report.Closed = append(report.Closed, cl.Key)
	}
	return report
}

func renderProcessReport(w io.Writer, format string, report processReport) error {
	if format == outputFormatJSON {
		return printJSON(w, report)
	}

	rows := make([][]string, 0, len(report.Decisions))
	for _, d := range report.Decisions {
		rows = append(rows, []string{
			d.ClusterKey,
			string(d.Route),
			string(d.DropReason),
			string(d.EventType),
			d.MainEntity,
			formatScore(d.Score.Score),
			formatScore(d.Score.Confidence),
			strconv.Itoa(len(d.Members)),
			truncateForTable(d.Headline, 72),
		})
	}
	if err := writeTable(w, []string{"CLUSTER", "ROUTE", "REASON", "EVENT", "ENTITY", "SCORE", "CONF", "MEMBERS", "HEADLINE"}, rows); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w,
		"run_id=%s window_version=%d open_clusters=%d decisions=%d closed=%d excluded=%d persisted=%t\n",
		report.RunID,
		report.WindowVersion,
		report.OpenClusters,
		len(report.Decisions),
		len(report.Closed),
		len(report.Excluded),
		report.Persisted,
	)
	return err
}
