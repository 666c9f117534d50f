package pipeline

import (
	"testing"
	"time"
)

var testEpoch = time.Date(2026, 3, 20, 10, 30, 0, 0, time.UTC)

func newTestArticle(t *testing.T, cfg Config, id, domain, title, summary string, publishedAt time.Time) Article {
	t.Helper()

	article := NewArticle(ArticleInput{
		ID:          id,
		URL:         "https://" + domain + "/news/" + id,
		Domain:      domain,
		Title:       title,
		Summary:     summary,
		PublishedAt: publishedAt,
		Language:    "en",
	}, NewNormalizer(cfg))
	if err := article.Validate(); err != nil {
		t.Fatalf("test article %s is invalid: %v", id, err)
	}
	return article
}

func singletonCluster(a Article) Cluster {
	return Cluster{
		Key:       "c-" + a.ID,
		Canonical: a,
		Members:   []Article{a},
		Topics:    a.Topics(),
		CreatedAt: a.PublishedAt,
	}
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
