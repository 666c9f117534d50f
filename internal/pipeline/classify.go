package pipeline

import (
	"sort"
	"strings"
)

type domainScope int

const (
	scopeAnyDomain domainScope = iota
	scopeRegulator
	scopeExchange
)

type classifierRule struct {
	name       string
	eventType  EventType
	confidence float64
	scope      domainScope
	keywords   []string
}

var defaultKeywords = map[EventType][]string{
	EventRateDecision: {
		"key rate", "policy rate", "rate decision", "interest rate", "refinancing rate",
		"ключевая ставка", "ключевую ставку", "ключевой ставк", "ставку рефинансирования",
	},
	EventTradingStatus: {
		"trading halt", "halted", "trading suspended", "suspension of trading", "suspends trading",
		"trading resumed", "resumes trading", "resumption of trading",
		"приостанов", "возобнов", "остановка торгов",
	},
	EventListing: {
		"listing", "delisting", "delisted", "ipo", "initial public offering",
		"листинг", "делистинг", "первичное размещение",
	},
	EventRegulatoryStatement: {
		"statement", "press release", "announces", "warning", "regulation", "license revoked",
		"заявлени", "сообщает", "информирует", "предупрежд", "отзыв лицензии", "предписани",
	},
	EventCorporateAction: {
		"dividend", "buyback", "share buyback", "stock split", "merger", "acquisition", "spin off",
		"дивиденд", "выкуп акций", "байбек", "сплит", "слияни", "поглощени", "допэмисси",
	},
}

// Classifier assigns an event type to a cluster by evaluating an ordered
// rule table against its canonical article. The first matching rule wins.
type Classifier struct {
	rules            []classifierRule
	fallback         classifierRule
	regulatorDomains []string
	exchangeDomains  []string
}

func NewClassifier(cfg Config) *Classifier {
	keywords := func(t EventType) []string {
		list := defaultKeywords[t]
		if override := cfg.Keywords[t]; len(override) > 0 {
			list = override
		}
		cleaned := make([]string, 0, len(list))
		for _, kw := range list {
			if c := CleanText(kw); c != "" {
				cleaned = append(cleaned, c)
			}
		}
		return cleaned
	}

	return &Classifier{
		rules: []classifierRule{
			{name: "regulator_rate_decision", eventType: EventRateDecision, confidence: 0.9, scope: scopeRegulator, keywords: keywords(EventRateDecision)},
			{name: "exchange_trading_status", eventType: EventTradingStatus, confidence: 0.85, scope: scopeExchange, keywords: keywords(EventTradingStatus)},
			{name: "listing_change", eventType: EventListing, confidence: 0.75, scope: scopeAnyDomain, keywords: keywords(EventListing)},
			{name: "regulator_statement", eventType: EventRegulatoryStatement, confidence: 0.7, scope: scopeRegulator, keywords: keywords(EventRegulatoryStatement)},
			{name: "corporate_action", eventType: EventCorporateAction, confidence: 0.65, scope: scopeAnyDomain, keywords: keywords(EventCorporateAction)},
		},
		fallback:         classifierRule{name: "market_news", eventType: EventMarketNews, confidence: 0.45},
		regulatorDomains: normalizeDomainList(cfg.RegulatorDomains),
		exchangeDomains:  normalizeDomainList(cfg.ExchangeDomains),
	}
}

// Classify returns the event candidate for a cluster.
func (c *Classifier) Classify(cl Cluster) EventCandidate {
	canonical := cl.Canonical
	summary := ""
	if canonical.Summary != nil {
		summary = *canonical.Summary
	}
	text := strings.TrimSpace(CleanText(canonical.Title) + " " + CleanText(summary))

	candidate := EventCandidate{MainEntity: mainEntity(cl.Members)}
	if text == "" {
		candidate.Type = EventUnknown
		candidate.Rule = "empty_text"
		return candidate
	}

	rule := c.fallback
	domain := NormalizeDomain(canonical.Domain)
	padded := " " + text
	for _, r := range c.rules {
		if !c.inScope(r.scope, domain) {
			continue
		}
		if containsKeyword(padded, r.keywords) {
			rule = r
			break
		}
	}

	candidate.Type = rule.eventType
	candidate.Confidence = clamp01(rule.confidence)
	candidate.Rule = rule.name
	return candidate
}

func (c *Classifier) inScope(scope domainScope, domain string) bool {
	switch scope {
	case scopeRegulator:
		return matchesAnyDomain(domain, c.regulatorDomains)
	case scopeExchange:
		return matchesAnyDomain(domain, c.exchangeDomains)
	default:
		return true
	}
}

// containsKeyword matches keywords at word starts, so a stem such as
// "dividend" also matches "dividends".
func containsKeyword(paddedText string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(paddedText, " "+kw) {
			return true
		}
	}
	return false
}

// mainEntity picks the ticker mentioned by the most members, falling back to
// the most mentioned entity. Ties resolve to the lexicographically smallest.
func mainEntity(members []Article) string {
	tickerCounts := map[string]int{}
	entityCounts := map[string]int{}
	for _, m := range members {
		for _, t := range sortedUnion(m.Tickers) {
			tickerCounts[t]++
		}
		for _, e := range sortedUnion(m.Entities) {
			entityCounts[e]++
		}
	}
	if best := mostFrequent(tickerCounts); best != "" {
		return best
	}
	return mostFrequent(entityCounts)
}

func mostFrequent(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	best, bestCount := "", 0
	for _, k := range keys {
		if counts[k] > bestCount {
			best, bestCount = k, counts[k]
		}
	}
	return best
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
