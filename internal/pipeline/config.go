package pipeline

import (
	"fmt"
	"strings"
	"time"
)

const (
	DefaultHammingBits              = 3
	DefaultRelaxedHammingBits       = 24
	DefaultJaccardRatio             = 0.5
	DefaultClusterWindow            = 6 * time.Hour
	DefaultPrimaryBoost             = 1.2
	DefaultTier0Weight              = 90
	DefaultBreakingThreshold        = 60
	DefaultDigestMinScore           = 20
	DefaultMinAutopublishConfidence = 0.7
	DefaultWorkers                  = 4
)

type DeliveryMode string

const (
	ModeDigestOnly  DeliveryMode = "digest_only"
	ModeHybrid      DeliveryMode = "hybrid"
	ModeAutopublish DeliveryMode = "autopublish"
)

// ParseDeliveryMode accepts digest_only, hybrid and autopublish in any case,
// with "-" allowed in place of "_".
func ParseDeliveryMode(raw string) (DeliveryMode, error) {
	value := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_")
	switch DeliveryMode(value) {
	case ModeDigestOnly, ModeHybrid, ModeAutopublish:
		return DeliveryMode(value), nil
	default:
		return "", fmt.Errorf("unknown delivery mode %q", raw)
	}
}

// AllowsAutopublish reports whether breaking events may skip the digest.
func (m DeliveryMode) AllowsAutopublish() bool {
	return m == ModeHybrid || m == ModeAutopublish
}

// RequiresReview reports whether events below the digest bar must go to a human.
func (m DeliveryMode) RequiresReview() bool {
	return m == ModeHybrid
}

type SimilarityConfig struct {
	HammingBits        int           `json:"hamming_bits"`
	RelaxedHammingBits int           `json:"relaxed_hamming_bits"`
	JaccardRatio       float64       `json:"jaccard_ratio"`
	Window             time.Duration `json:"window"`
}

type RoutingConfig struct {
	Mode                     DeliveryMode `json:"mode"`
	ModerationEnabled        bool         `json:"moderation_enabled"`
	BreakingThreshold        float64      `json:"breaking_threshold"`
	DigestMinScore           float64      `json:"digest_min_score"`
	MinAutopublishConfidence float64      `json:"min_autopublish_confidence"`
}

// Config is the immutable per-run configuration consumed by the core.
type Config struct {
	SourceWeights    map[string]float64  `json:"source_weights"`
	ExchangeDomains  []string            `json:"exchange_domains"`
	RegulatorDomains []string            `json:"regulator_domains"`
	DomainEntities   map[string][]string `json:"domain_entities"`
	TickerWhitelist  []string            `json:"ticker_whitelist"`

	Similarity SimilarityConfig `json:"similarity"`

	Keywords      map[EventType][]string `json:"keywords,omitempty"`
	EventSeverity map[EventType]float64  `json:"event_severity"`

	PrimaryTickers []string `json:"primary_tickers"`
	PrimaryBoost   float64  `json:"primary_boost"`
	Tier0Weight    float64  `json:"tier0_weight"`

	Routing RoutingConfig `json:"routing"`

	Workers int `json:"workers"`
}

// DefaultConfig returns the built-in policy for Russian market news.
func DefaultConfig() Config {
	return Config{
		SourceWeights: map[string]float64{
			"cbr.ru":        100,
			"moex.com":      95,
			"minfin.gov.ru": 90,
			"reuters.com":   85,
			"bloomberg.com": 85,
			"interfax.ru":   80,
			"tass.ru":       75,
			"rbc.ru":        70,
			"kommersant.ru": 65,
			"vedomosti.ru":  65,
		},
		ExchangeDomains:  []string{"moex.com"},
		RegulatorDomains: []string{"cbr.ru"},
		DomainEntities: map[string][]string{
			"cbr.ru":        {"Bank of Russia"},
			"moex.com":      {"Moscow Exchange"},
			"minfin.gov.ru": {"Ministry of Finance"},
		},
		TickerWhitelist: []string{
			"AFLT", "ALRS", "CHMF", "GAZP", "GMKN", "LKOH", "MGNT", "MOEX",
			"NVTK", "PLZL", "ROSN", "SBER", "TATN", "VTBR", "YDEX",
		},
		Similarity: SimilarityConfig{
			HammingBits:        DefaultHammingBits,
			RelaxedHammingBits: DefaultRelaxedHammingBits,
			JaccardRatio:       DefaultJaccardRatio,
			Window:             DefaultClusterWindow,
		},
		EventSeverity: map[EventType]float64{
			EventRateDecision:        1.5,
			EventTradingStatus:       1.3,
			EventRegulatoryStatement: 1.2,
			EventListing:             1.1,
		},
		PrimaryTickers: []string{"SBER", "GAZP", "LKOH", "MOEX"},
		PrimaryBoost:   DefaultPrimaryBoost,
		Tier0Weight:    DefaultTier0Weight,
		Routing: RoutingConfig{
			Mode:                     ModeDigestOnly,
			ModerationEnabled:        false,
			BreakingThreshold:        DefaultBreakingThreshold,
			DigestMinScore:           DefaultDigestMinScore,
			MinAutopublishConfidence: DefaultMinAutopublishConfidence,
		},
		Workers: DefaultWorkers,
	}
}

// Validate rejects configurations the pipeline cannot evaluate consistently.
// It is meant to run once at startup, not per batch.
func (c Config) Validate() error {
	if len(c.SourceWeights) == 0 {
		return fmt.Errorf("source weight table must not be empty")
	}
	for domain, weight := range c.SourceWeights {
		if strings.TrimSpace(domain) == "" {
			return fmt.Errorf("source weight table contains an empty domain")
		}
		if weight < 0 {
			return fmt.Errorf("source weight for %s must be >= 0", domain)
		}
	}

	s := c.Similarity
	if s.HammingBits < 0 || s.HammingBits > SimhashBits {
		return fmt.Errorf("similarity.hamming_bits must be within [0,%d]", SimhashBits)
	}
	if s.RelaxedHammingBits < s.HammingBits || s.RelaxedHammingBits > SimhashBits {
		return fmt.Errorf("similarity.relaxed_hamming_bits must be within [hamming_bits,%d]", SimhashBits)
	}
	if s.JaccardRatio <= 0 || s.JaccardRatio > 1 {
		return fmt.Errorf("similarity.jaccard_ratio must be within (0,1]")
	}
	if s.Window <= 0 {
		return fmt.Errorf("similarity.window must be > 0")
	}

	for eventType, severity := range c.EventSeverity {
		if severity < 0 {
			return fmt.Errorf("event severity for %s must be >= 0", eventType)
		}
	}
	if c.PrimaryBoost < 1 {
		return fmt.Errorf("primary_boost must be >= 1")
	}
	if c.Tier0Weight < 0 {
		return fmt.Errorf("tier0_weight must be >= 0")
	}

	r := c.Routing
	if _, err := ParseDeliveryMode(string(r.Mode)); err != nil {
		return err
	}
	if r.BreakingThreshold < 0 {
		return fmt.Errorf("routing.breaking_threshold must be >= 0")
	}
	if r.DigestMinScore < 0 {
		return fmt.Errorf("routing.digest_min_score must be >= 0")
	}
	if r.BreakingThreshold < r.DigestMinScore {
		return fmt.Errorf("routing.breaking_threshold (%g) cannot be below routing.digest_min_score (%g)", r.BreakingThreshold, r.DigestMinScore)
	}
	if r.MinAutopublishConfidence < 0 || r.MinAutopublishConfidence > 1 {
		return fmt.Errorf("routing.min_autopublish_confidence must be within [0,1]")
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must be >= 0")
	}
	return nil
}
