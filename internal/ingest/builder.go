// Package ingest converts validated fetch-boundary payloads into pipeline
// articles.
package ingest

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/koteev-m/news-bot-sub003/internal/langdetect"
	"github.com/koteev-m/news-bot-sub003/internal/pipeline"
	"github.com/koteev-m/news-bot-sub003/internal/reader"
	payloadschema "github.com/koteev-m/news-bot-sub003/schema"
)

var trackingQueryKeys = map[string]struct{}{
	"fbclid":  {},
	"gclid":   {},
	"yclid":   {},
	"mc_cid":  {},
	"mc_eid":  {},
	"ref":     {},
	"ref_src": {},
}

type Builder struct {
	normalizer   *pipeline.Normalizer
	logger       zerolog.Logger
	summaryChars int
}

func NewBuilder(cfg pipeline.Config, logger zerolog.Logger) *Builder {
	return &Builder{
		normalizer:   pipeline.NewNormalizer(cfg),
		logger:       logger,
		summaryChars: reader.DefaultSummaryChars,
	}
}

// Build turns one validated payload into an article.
func (b *Builder) Build(p *payloadschema.ArticlePayload) (pipeline.Article, error) {
	if p == nil {
		return pipeline.Article{}, fmt.Errorf("payload is nil")
	}

	canonical, host := normalizeURL(p.URL)
	if canonical == "" {
		return pipeline.Article{}, fmt.Errorf("article %s: url %q is not absolute", p.ID, p.URL)
	}

	domain := host
	if p.Domain != nil && strings.TrimSpace(*p.Domain) != "" {
		domain = *p.Domain
	}

	publishedAt, err := p.PublishedTime()
	if err != nil {
		return pipeline.Article{}, fmt.Errorf("article %s: published_at: %w", p.ID, err)
	}

	summary := ""
	if p.Summary != nil {
		summary = *p.Summary
	}
	if strings.TrimSpace(summary) == "" && p.BodyHTML != nil && strings.TrimSpace(*p.BodyHTML) != "" {
		extracted, err := reader.Summarize(*p.BodyHTML, canonical, b.summaryChars)
		if err != nil {
			b.logger.Warn().Err(err).Str("article_id", p.ID).Msg("summary extraction from body failed")
		} else {
			summary = extracted
		}
	}

	declared := ""
	if p.Language != nil {
		declared = *p.Language
	}
	language := langdetect.Resolve(declared, p.Title+"\n"+summary)

	return pipeline.NewArticle(pipeline.ArticleInput{
		ID:          p.ID,
		URL:         canonical,
		Domain:      domain,
		Title:       p.Title,
		Summary:     summary,
		PublishedAt: publishedAt,
		Language:    language,
		Tickers:     p.Tickers,
	}, b.normalizer), nil
}

// BuildBatch validates raw JSON (one payload or an array) and builds every
// article in it. The first invalid payload fails the whole batch.
func (b *Builder) BuildBatch(raw json.RawMessage) ([]pipeline.Article, error) {
	payloads, err := payloadschema.ValidateArticleBatch(raw)
	if err != nil {
		return nil, err
	}
	articles := make([]pipeline.Article, 0, len(payloads))
	for _, p := range payloads {
		article, err := b.Build(p)
		if err != nil {
			return nil, err
		}
		articles = append(articles, article)
	}
	return articles, nil
}

func normalizeURL(raw string) (canonical string, host string) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", ""
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", ""
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", ""
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Hostname())
	if port := parsed.Port(); port != "" {
		defaultPort := (parsed.Scheme == "http" && port == "80") || (parsed.Scheme == "https" && port == "443")
		if !defaultPort {
			parsed.Host = parsed.Host + ":" + port
		}
	}

	parsed.Fragment = ""
	parsed.RawFragment = ""
	path := parsed.Path
	if path == "" {
		path = "/"
	}
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	if strings.HasSuffix(path, "/") && path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	parsed.Path = path
	parsed.RawPath = ""

	q := parsed.Query()
	for key := range q {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") {
			q.Del(key)
			continue
		}
		if _, ok := trackingQueryKeys[lower]; ok {
			q.Del(key)
		}
	}
	if len(q) > 0 {
		for _, values := range q {
			sort.Strings(values)
		}
		// Encode sorts by key.
		parsed.RawQuery = q.Encode()
	} else {
		parsed.RawQuery = ""
	}

	return parsed.String(), parsed.Hostname()
}
