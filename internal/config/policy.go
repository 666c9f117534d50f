package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/koteev-m/news-bot-sub003/internal/pipeline"
)

// Policy is the YAML shape of the routing policy. Every field is optional;
// unset fields keep the built-in defaults. Maps merge key by key over the
// defaults, lists replace them.
type Policy struct {
	Mode              *string `yaml:"mode,omitempty"`
	ModerationEnabled *bool   `yaml:"moderation_enabled,omitempty"`

	Thresholds struct {
		Breaking                 *float64 `yaml:"breaking,omitempty"`
		DigestMin                *float64 `yaml:"digest_min,omitempty"`
		MinAutopublishConfidence *float64 `yaml:"min_autopublish_confidence,omitempty"`
	} `yaml:"thresholds,omitempty"`

	Similarity struct {
		HammingBits        *int     `yaml:"hamming_bits,omitempty"`
		RelaxedHammingBits *int     `yaml:"relaxed_hamming_bits,omitempty"`
		JaccardRatio       *float64 `yaml:"jaccard_ratio,omitempty"`
		Window             *string  `yaml:"window,omitempty"`
	} `yaml:"similarity,omitempty"`

	SourceWeights    map[string]float64  `yaml:"source_weights,omitempty"`
	ExchangeDomains  []string            `yaml:"exchange_domains,omitempty"`
	RegulatorDomains []string            `yaml:"regulator_domains,omitempty"`
	DomainEntities   map[string][]string `yaml:"domain_entities,omitempty"`
	TickerWhitelist  []string            `yaml:"ticker_whitelist,omitempty"`

	EventSeverity map[string]float64  `yaml:"event_severity,omitempty"`
	Keywords      map[string][]string `yaml:"keywords,omitempty"`

	PrimaryTickers []string `yaml:"primary_tickers,omitempty"`
	PrimaryBoost   *float64 `yaml:"primary_boost,omitempty"`
	Tier0Weight    *float64 `yaml:"tier0_weight,omitempty"`

	Workers *int `yaml:"workers,omitempty"`
}

// LoadPolicy reads the policy file at path, merges it over the defaults and
// validates the result. A blank path yields the validated defaults.
func LoadPolicy(path string) (pipeline.Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		cfg := pipeline.DefaultConfig()
		return cfg, cfg.Validate()
	}

	f, err := os.Open(path)
	if err != nil {
		return pipeline.Config{}, fmt.Errorf("open policy %s: %w", path, err)
	}
	defer f.Close()

	cfg, err := ParsePolicy(f)
	if err != nil {
		return pipeline.Config{}, fmt.Errorf("policy %s: %w", path, err)
	}
	return cfg, nil
}

// ParsePolicy decodes a YAML policy. Unknown keys are rejected.
func ParsePolicy(r io.Reader) (pipeline.Config, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var policy Policy
	if err := decoder.Decode(&policy); err != nil && !errors.Is(err, io.EOF) {
		return pipeline.Config{}, fmt.Errorf("decode policy YAML: %w", err)
	}

	cfg, err := policy.Apply(pipeline.DefaultConfig())
	if err != nil {
		return pipeline.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return pipeline.Config{}, fmt.Errorf("invalid policy: %w", err)
	}
	return cfg, nil
}

// Apply overlays the policy on base.
func (p Policy) Apply(base pipeline.Config) (pipeline.Config, error) {
	cfg := base

	if p.Mode != nil {
		mode, err := pipeline.ParseDeliveryMode(*p.Mode)
		if err != nil {
			return pipeline.Config{}, err
		}
		cfg.Routing.Mode = mode
	}
	setIfPresent(&cfg.Routing.ModerationEnabled, p.ModerationEnabled)
	setIfPresent(&cfg.Routing.BreakingThreshold, p.Thresholds.Breaking)
	setIfPresent(&cfg.Routing.DigestMinScore, p.Thresholds.DigestMin)
	setIfPresent(&cfg.Routing.MinAutopublishConfidence, p.Thresholds.MinAutopublishConfidence)

	setIfPresent(&cfg.Similarity.HammingBits, p.Similarity.HammingBits)
	setIfPresent(&cfg.Similarity.RelaxedHammingBits, p.Similarity.RelaxedHammingBits)
	setIfPresent(&cfg.Similarity.JaccardRatio, p.Similarity.JaccardRatio)
	if p.Similarity.Window != nil {
		window, err := time.ParseDuration(strings.TrimSpace(*p.Similarity.Window))
		if err != nil {
			return pipeline.Config{}, fmt.Errorf("similarity.window: %w", err)
		}
		cfg.Similarity.Window = window
	}

	cfg.SourceWeights = mergeMap(base.SourceWeights, p.SourceWeights)
	cfg.DomainEntities = mergeMap(base.DomainEntities, p.DomainEntities)
	replaceIfPresent(&cfg.ExchangeDomains, p.ExchangeDomains)
	replaceIfPresent(&cfg.RegulatorDomains, p.RegulatorDomains)
	replaceIfPresent(&cfg.TickerWhitelist, p.TickerWhitelist)
	replaceIfPresent(&cfg.PrimaryTickers, p.PrimaryTickers)

	severity, err := eventTypeMap(p.EventSeverity)
	if err != nil {
		return pipeline.Config{}, fmt.Errorf("event_severity: %w", err)
	}
	cfg.EventSeverity = mergeMap(base.EventSeverity, severity)

	keywords, err := eventTypeMap(p.Keywords)
	if err != nil {
		return pipeline.Config{}, fmt.Errorf("keywords: %w", err)
	}
	cfg.Keywords = mergeMap(base.Keywords, keywords)

	setIfPresent(&cfg.PrimaryBoost, p.PrimaryBoost)
	setIfPresent(&cfg.Tier0Weight, p.Tier0Weight)
	setIfPresent(&cfg.Workers, p.Workers)
	return cfg, nil
}

// PolicyFromConfig is the inverse of Apply, used to print the effective policy.
func PolicyFromConfig(cfg pipeline.Config) Policy {
	var p Policy
	mode := string(cfg.Routing.Mode)
	window := cfg.Similarity.Window.String()

	p.Mode = &mode
	p.ModerationEnabled = &cfg.Routing.ModerationEnabled
	p.Thresholds.Breaking = &cfg.Routing.BreakingThreshold
	p.Thresholds.DigestMin = &cfg.Routing.DigestMinScore
	p.Thresholds.MinAutopublishConfidence = &cfg.Routing.MinAutopublishConfidence
	p.Similarity.HammingBits = &cfg.Similarity.HammingBits
	p.Similarity.RelaxedHammingBits = &cfg.Similarity.RelaxedHammingBits
	p.Similarity.JaccardRatio = &cfg.Similarity.JaccardRatio
	p.Similarity.Window = &window

	p.SourceWeights = cfg.SourceWeights
	p.ExchangeDomains = cfg.ExchangeDomains
	p.RegulatorDomains = cfg.RegulatorDomains
	p.DomainEntities = cfg.DomainEntities
	p.TickerWhitelist = cfg.TickerWhitelist
	p.PrimaryTickers = cfg.PrimaryTickers
	p.PrimaryBoost = &cfg.PrimaryBoost
	p.Tier0Weight = &cfg.Tier0Weight
	p.Workers = &cfg.Workers

	p.EventSeverity = make(map[string]float64, len(cfg.EventSeverity))
	for k, v := range cfg.EventSeverity {
		p.EventSeverity[string(k)] = v
	}
	if len(cfg.Keywords) > 0 {
		p.Keywords = make(map[string][]string, len(cfg.Keywords))
		for k, v := range cfg.Keywords {
			p.Keywords[string(k)] = v
		}
	}
	return p
}

// MarshalPolicy renders cfg as policy YAML.
func MarshalPolicy(cfg pipeline.Config) ([]byte, error) {
	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(PolicyFromConfig(cfg)); err != nil {
		return nil, fmt.Errorf("encode policy YAML: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("encode policy YAML: %w", err)
	}
	return buf.Bytes(), nil
}

func eventTypeMap[V any](raw map[string]V) (map[pipeline.EventType]V, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[pipeline.EventType]V, len(raw))
	for _, k := range keys {
		eventType, err := pipeline.ParseEventType(k)
		if err != nil {
			return nil, err
		}
		out[eventType] = raw[k]
	}
	return out, nil
}

func mergeMap[K comparable, V any](base, overlay map[K]V) map[K]V {
	if len(base) == 0 && len(overlay) == 0 {
		return base
	}
	out := make(map[K]V, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

func setIfPresent[T any](dst *T, value *T) {
	if value != nil {
		*dst = *value
	}
}

func replaceIfPresent(dst *[]string, value []string) {
	if len(value) > 0 {
		*dst = append([]string(nil), value...)
	}
}
