package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/koteev-m/news-bot-sub003/internal/cli"
	"github.com/koteev-m/news-bot-sub003/internal/db"
	"github.com/koteev-m/news-bot-sub003/internal/httpapi"
	"github.com/koteev-m/news-bot-sub003/internal/ingest"
	"github.com/koteev-m/news-bot-sub003/internal/pipeline"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	addr := fs.String("addr", "", "Listen address (default: HTTP_ADDR)")
	policyPath := fs.String("policy", "", "Routing policy YAML (default: POLICY_PATH or built-in policy)")
	readTimeout := fs.Duration("read-timeout", 10*time.Second, "HTTP read timeout")
	writeTimeout := fs.Duration("write-timeout", 30*time.Second, "HTTP write timeout")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
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

	listenAddr := strings.TrimSpace(*addr)
	if listenAddr == "" {
		listenAddr = cfg.HTTPAddr
	}

	deps := httpapi.Deps{Builder: ingest.NewBuilder(policy, logger)}
	opts := pipeline.EngineOptions{QueueSize: cfg.EngineQueueSize}
	if cfg.HasDatabase() {
		dbCtx, dbCancel := context.WithTimeout(context.Background(), 10*time.Second)
		pool, err := db.NewPool(dbCtx, cfg)
		dbCancel()
		if err != nil {
			logger.Error().Err(err).Msg("serve failed to connect to database")
			fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
			return 1
		}
		defer pool.Close()

		store := db.NewPipelineStore(pool, logger)
		opts.Store = store
		deps.Decisions = store
		deps.Database = pool
	} else {
		logger.Warn().Msg("DATABASE_URL is not set; open-cluster window is kept in memory only")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		cancel()
	}()

	engine := pipeline.NewEngine(policy, logger, opts)
	engineDone := make(chan error, 1)
	go func() {
		engineDone <- engine.Run(ctx)
	}()

	select {
	case <-engine.Ready():
	case err := <-engineDone:
		if err != nil {
			logger.Error().Err(err).Msg("pipeline engine failed to start")
			fmt.Fprintf(os.Stderr, "Pipeline engine failed: %v\n", err)
			return 1
		}
		return 0
	}
	deps.Engine = engine

	srv := httpapi.NewServer(deps, logger, httpapi.Options{
		Addr:            listenAddr,
		ReadTimeout:     *readTimeout,
		WriteTimeout:    *writeTimeout,
		ShutdownTimeout: *shutdownTimeout,
	})

	serveErr := srv.Start(ctx)
	cancel()
	if err := <-engineDone; err != nil {
		logger.Error().Err(err).Msg("pipeline engine stopped with error")
	}

	if serveErr != nil {
		logger.Error().Err(serveErr).Str("addr", listenAddr).Msg("server failed")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", serveErr)
		return 1
	}
	return 0
}
