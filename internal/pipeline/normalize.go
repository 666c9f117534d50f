package pipeline

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
)

var htmlEntityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&apos;", "'",
	"&nbsp;", " ",
)

var (
	tickerPattern   = regexp.MustCompile(`(\$?)\b([A-Z]{3,5})\b`)
	tagFallbackExpr = regexp.MustCompile(`<[^>]*>`)
)

// Normalized is the output of the text normalizer for one article.
type Normalized struct {
	Summary      *string
	CleanTitle   string
	CleanSummary string
	Tokens       []string
	Tickers      []string
	Entities     []string
}

// Normalizer cleans raw article text and extracts ticker and entity mentions.
// It is safe for concurrent use once built.
type Normalizer struct {
	exchangeDomains []string
	whitelist       map[string]struct{}
	domainEntities  map[string][]string
}

func NewNormalizer(cfg Config) *Normalizer {
	whitelist := make(map[string]struct{}, len(cfg.TickerWhitelist))
	for _, ticker := range cfg.TickerWhitelist {
		if t := strings.ToUpper(strings.TrimSpace(ticker)); t != "" {
			whitelist[t] = struct{}{}
		}
	}

	entities := make(map[string][]string, len(cfg.DomainEntities))
	for domain, names := range cfg.DomainEntities {
		key := NormalizeDomain(domain)
		if key == "" {
			continue
		}
		for _, name := range names {
			if trimmed := strings.TrimSpace(name); trimmed != "" {
				entities[key] = append(entities[key], trimmed)
			}
		}
	}

	return &Normalizer{
		exchangeDomains: normalizeDomainList(cfg.ExchangeDomains),
		whitelist:       whitelist,
		domainEntities:  entities,
	}
}

// Normalize is total: empty or unknown input yields empty output.
func (n *Normalizer) Normalize(title, summary, domain string) Normalized {
	cleanTitle := CleanText(title)
	cleanSummary := CleanText(summary)

	var display *string
	if text := displayText(summary); text != "" {
		display = &text
	}

	tokens := strings.Fields(cleanTitle + " " + cleanSummary)
	rawText := stripTags(htmlEntityReplacer.Replace(title + "\n" + summary))
	tickers := n.extractTickers(rawText, domain)

	return Normalized{
		Summary:      display,
		CleanTitle:   cleanTitle,
		CleanSummary: cleanSummary,
		Tokens:       tokens,
		Tickers:      tickers,
		Entities:     sortedUnion(n.EntitiesForDomain(domain), tickers),
	}
}

// IsExchange reports whether domain belongs to a configured exchange source.
func (n *Normalizer) IsExchange(domain string) bool {
	return matchesAnyDomain(NormalizeDomain(domain), n.exchangeDomains)
}

// EntitiesForDomain returns the fixed entity names configured for a domain.
func (n *Normalizer) EntitiesForDomain(domain string) []string {
	normalized := NormalizeDomain(domain)
	if normalized == "" {
		return nil
	}
	var names []string
	for key, values := range n.domainEntities {
		if domainMatches(normalized, key) {
			names = append(names, values...)
		}
	}
	return sortedUnion(names)
}

func (n *Normalizer) extractTickers(raw, domain string) []string {
	exchange := n.IsExchange(domain)

	var tickers []string
	for _, match := range tickerPattern.FindAllStringSubmatch(raw, -1) {
		cashtag := match[1] == "$"
		symbol := match[2]
		_, whitelisted := n.whitelist[symbol]
		// Exchange feeds are full of upper-case boilerplate codes, so only
		// whitelisted symbols count there; elsewhere an explicit cashtag is enough.
		if !whitelisted && (exchange || !cashtag) {
			continue
		}
		tickers = append(tickers, symbol)
	}
	return sortedUnion(tickers)
}

// CleanText decodes the fixed entity set, strips tags and punctuation,
// lower-cases and collapses whitespace.
func CleanText(input string) string {
	if strings.TrimSpace(input) == "" {
		return ""
	}
	text := stripTags(htmlEntityReplacer.Replace(input))

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(' ')
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func displayText(input string) string {
	if strings.TrimSpace(input) == "" {
		return ""
	}
	text := stripTags(htmlEntityReplacer.Replace(input))
	return strings.Join(strings.Fields(text), " ")
}

func stripTags(input string) string {
	if !strings.Contains(input, "<") {
		return input
	}
	// Padding each tag keeps words from adjacent block elements apart.
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(strings.ReplaceAll(input, "<", " <")))
	if err != nil {
		return tagFallbackExpr.ReplaceAllString(input, " ")
	}
	doc.Find("script, style").Remove()
	return doc.Text()
}

// NormalizeDomain lower-cases a host name and drops a leading "www." and
// any trailing dot.
func NormalizeDomain(raw string) string {
	domain := strings.ToLower(strings.TrimSpace(raw))
	domain = strings.TrimSuffix(domain, ".")
	domain = strings.TrimPrefix(domain, "www.")
	return domain
}

func normalizeDomainList(domains []string) []string {
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		if normalized := NormalizeDomain(d); normalized != "" {
			out = append(out, normalized)
		}
	}
	return out
}

func domainMatches(domain, key string) bool {
	if domain == "" || key == "" {
		return false
	}
	return domain == key || strings.HasSuffix(domain, "."+key)
}

func matchesAnyDomain(domain string, keys []string) bool {
	for _, key := range keys {
		if domainMatches(domain, key) {
			return true
		}
	}
	return false
}

func sortedUnion(lists ...[]string) []string {
	seen := map[string]struct{}{}
	for _, list := range lists {
		for _, v := range list {
			if v == "" {
				continue
			}
			seen[v] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
