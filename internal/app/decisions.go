package app

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/koteev-m/news-bot-sub003/internal/cli"
	"github.com/koteev-m/news-bot-sub003/internal/db"
	"github.com/koteev-m/news-bot-sub003/internal/pipeline"
)

func runDecisions(args []string) int {
	fs := flag.NewFlagSet("decisions", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	limit := fs.Int("limit", db.DefaultDecisionLimit, fmt.Sprintf("Maximum rows to return (1-%d)", db.MaxDecisionLimit))
	routeRaw := fs.String("route", "", "Only show one route: PUBLISH_NOW, DIGEST, REVIEW or DROP")
	sinceRaw := fs.String("since", "", "Only show decisions evaluated at or after this RFC3339 time")
	format := fs.String("format", outputFormatTable, "Output format: table or json")
	timeout := fs.Duration("timeout", 15*time.Second, "Query timeout")

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
	filter, err := parseDecisionFilter(*limit, *routeRaw, *sinceRaw)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 2
	}

	cfg, logger, err := bootstrap(envLoader)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}

	ctx, cancel, pool, err := connectReadPool(*timeout, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}
	defer cancel()
	defer pool.Close()

	rows, err := db.NewPipelineStore(pool, logger).ListDecisions(ctx, filter)
	if err != nil {
		logger.Error().Err(err).Msg("list decisions failed")
		fmt.Fprintf(os.Stderr, "Failed to list decisions: %v\n", err)
		return 1
	}

	if err := renderDecisions(os.Stdout, outputFormat, rows); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to render output: %v\n", err)
		return 1
	}
	return 0
}

func parseDecisionFilter(limit int, routeRaw, sinceRaw string) (db.DecisionFilter, error) {
	if limit < 1 || limit > db.MaxDecisionLimit {
		return db.DecisionFilter{}, fmt.Errorf("--limit must be between 1 and %d", db.MaxDecisionLimit)
	}
	filter := db.DecisionFilter{Limit: limit}

	route := pipeline.Route(strings.ToUpper(strings.TrimSpace(routeRaw)))
	switch route {
	case "", pipeline.RoutePublishNow, pipeline.RouteDigest, pipeline.RouteReview, pipeline.RouteDrop:
		filter.Route = route
	default:
		return db.DecisionFilter{}, fmt.Errorf("--route must be PUBLISH_NOW, DIGEST, REVIEW or DROP")
	}

	if trimmed := strings.TrimSpace(sinceRaw); trimmed != "" {
		since, err := time.Parse(time.RFC3339, trimmed)
		if err != nil {
			return db.DecisionFilter{}, fmt.Errorf("--since must be RFC3339")
		}
		filter.Since = since.UTC()
	}
	return filter, nil
}

func renderDecisions(w io.Writer, format string, rows []db.DecisionRow) error {
	if format == outputFormatJSON {
		return printJSON(w, map[string]any{"items": rows})
	}

	tableRows := make([][]string, 0, len(rows))
	for _, row := range rows {
		tableRows = append(tableRows, []string{
			formatUTCTimestamp(row.EvaluatedAt),
			row.ClusterKey,
			string(row.Route),
			row.DropReason,
			row.EventType,
			row.MainEntity,
			formatScore(row.Score),
			truncateForTable(row.Headline, 72),
		})
	}
	return writeTable(w, []string{"EVALUATED_AT", "CLUSTER", "ROUTE", "REASON", "EVENT", "ENTITY", "SCORE", "HEADLINE"}, tableRows)
}
