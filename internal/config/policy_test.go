package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/koteev-m/news-bot-sub003/internal/pipeline"
)

func TestParsePolicy_MergesOverDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := ParsePolicy(strings.NewReader(`
mode: Autopublish
thresholds:
  breaking: 75
similarity:
  window: 90m
source_weights:
  example.org: 40
event_severity:
  listing: 1.4
exchange_domains: [spbexchange.ru]
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Routing.Mode != pipeline.ModeAutopublish || cfg.Routing.BreakingThreshold != 75 {
		t.Fatalf("unexpected routing: %+v", cfg.Routing)
	}
	if cfg.Routing.DigestMinScore != pipeline.DefaultDigestMinScore {
		t.Fatalf("expected untouched threshold to keep its default, got %v", cfg.Routing.DigestMinScore)
	}
	if cfg.Similarity.Window != 90*time.Minute {
		t.Fatalf("unexpected window: %v", cfg.Similarity.Window)
	}
	if cfg.SourceWeights["example.org"] != 40 || cfg.SourceWeights["cbr.ru"] != 100 {
		t.Fatalf("expected source weights to merge, got %v", cfg.SourceWeights)
	}
	if cfg.EventSeverity[pipeline.EventListing] != 1.4 || cfg.EventSeverity[pipeline.EventRateDecision] != 1.5 {
		t.Fatalf("expected severity map to merge, got %v", cfg.EventSeverity)
	}
	if len(cfg.ExchangeDomains) != 1 || cfg.ExchangeDomains[0] != "spbexchange.ru" {
		t.Fatalf("expected exchange domains to be replaced, got %v", cfg.ExchangeDomains)
	}
}

func TestParsePolicy_EmptyDocumentYieldsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := ParsePolicy(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Routing.Mode != pipeline.ModeDigestOnly || len(cfg.SourceWeights) != len(pipeline.DefaultConfig().SourceWeights) {
		t.Fatalf("expected defaults, got %+v", cfg.Routing)
	}
}

func TestParsePolicy_Rejects(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"unknown key":       "colour: blue\n",
		"unknown mode":      "mode: manual\n",
		"bad window":        "similarity:\n  window: soon\n",
		"unknown type":      "event_severity:\n  earnings: 2\n",
		"inverted bars":     "thresholds:\n  breaking: 10\n  digest_min: 30\n",
		"negative weight":   "source_weights:\n  rbc.ru: -5\n",
		"jaccard too large": "similarity:\n  jaccard_ratio: 1.5\n",
	}
	for name, doc := range cases {
		if _, err := ParsePolicy(strings.NewReader(doc)); err == nil {
			t.Fatalf("%s: expected policy to be rejected", name)
		}
	}
}

func TestLoadPolicy_ExampleFileRoundTrips(t *testing.T) {
	t.Parallel()

	cfg, err := LoadPolicy(filepath.Join("..", "..", "configs", "policy.example.yaml"))
	if err != nil {
		t.Fatalf("unexpected error loading example policy: %v", err)
	}
	if cfg.Routing.Mode != pipeline.ModeHybrid {
		t.Fatalf("unexpected mode: %s", cfg.Routing.Mode)
	}
	if got := cfg.Keywords[pipeline.EventCorporateAction]; len(got) != 5 {
		t.Fatalf("unexpected keyword override: %v", got)
	}

	rendered, err := MarshalPolicy(cfg)
	if err != nil {
		t.Fatalf("unexpected marshal error: %v", err)
	}
	path := filepath.Join(t.TempDir(), "effective.yaml")
	if err := os.WriteFile(path, rendered, 0o644); err != nil {
		t.Fatalf("write rendered policy: %v", err)
	}
	reloaded, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("rendered policy does not load: %v\n%s", err, rendered)
	}
	if reloaded.Routing != cfg.Routing || reloaded.Similarity != cfg.Similarity {
		t.Fatalf("rendered policy changed routing or similarity settings")
	}
}

func TestLoadPolicy_BlankPathUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadPolicy("  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Workers != pipeline.DefaultWorkers {
		t.Fatalf("unexpected workers: %d", cfg.Workers)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	valid := Config{DBMinConns: 1, DBMaxConns: 8, EngineQueueSize: 16, HTTPAddr: "127.0.0.1:8090"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := valid.RequireDatabase(); err == nil {
		t.Fatalf("expected missing DATABASE_URL to be reported")
	}

	invalid := valid
	invalid.DBMinConns = 9
	if err := invalid.Validate(); err == nil {
		t.Fatalf("expected min > max conns to fail")
	}

	invalid = valid
	invalid.EngineQueueSize = 0
	if err := invalid.Validate(); err == nil {
		t.Fatalf("expected empty queue to fail")
	}
}
