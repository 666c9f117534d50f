package pipeline

import (
	"strings"
	"time"
)

// ArticleInput carries the raw fields supplied by the fetch boundary.
type ArticleInput struct {
	ID          string
	URL         string
	Domain      string
	Title       string
	Summary     string
	PublishedAt time.Time
	Language    string
	// Tickers declared by the source itself; merged with extracted ones.
	Tickers []string
}

// NewArticle normalizes and fingerprints an input into an immutable Article.
func NewArticle(in ArticleInput, n *Normalizer) Article {
	normalized := n.Normalize(in.Title, in.Summary, in.Domain)

	declared := make([]string, 0, len(in.Tickers))
	for _, t := range in.Tickers {
		if symbol := strings.ToUpper(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(t), "$"))); symbol != "" {
			declared = append(declared, symbol)
		}
	}
	tickers := sortedUnion(normalized.Tickers, declared)

	return Article{
		ID:           strings.TrimSpace(in.ID),
		URL:          strings.TrimSpace(in.URL),
		Domain:       NormalizeDomain(in.Domain),
		Title:        strings.TrimSpace(in.Title),
		Summary:      normalized.Summary,
		PublishedAt:  in.PublishedAt.UTC(),
		Language:     strings.ToLower(strings.TrimSpace(in.Language)),
		Tickers:      tickers,
		Entities:     sortedUnion(normalized.Entities, tickers),
		Fingerprints: Fingerprint(normalized),
	}
}
