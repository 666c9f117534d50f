package pipeline

import (
	"testing"
	"time"
)

func TestSourceWeights_SuffixLookup(t *testing.T) {
	t.Parallel()

	weights := NewSourceWeights(map[string]float64{
		"cbr.ru":        100,
		"gov.ru":        10,
		"minfin.gov.ru": 90,
	})

	cases := map[string]float64{
		"cbr.ru":             100,
		"CBR.RU":             100,
		"www.cbr.ru":         100,
		"press.cbr.ru":       100,
		"notcbr.ru":          0,
		"minfin.gov.ru":      90,
		"docs.minfin.gov.ru": 90,
		"other.gov.ru":       10,
		"example.org":        0,
		"":                   0,
	}
	for domain, want := range cases {
		if got := weights.Weight(domain); got != want {
			t.Fatalf("unexpected weight for %q: got %v want %v", domain, got, want)
		}
	}
}

func TestPickCanonical(t *testing.T) {
	t.Parallel()

	weights := NewSourceWeights(map[string]float64{"cbr.ru": 100, "rbc.ru": 70, "tass.ru": 70})
	regulator := Article{ID: "reg", Domain: "cbr.ru", PublishedAt: testEpoch.Add(time.Minute)}
	media := Article{ID: "media", Domain: "rbc.ru", PublishedAt: testEpoch}
	earlierMedia := Article{ID: "early", Domain: "tass.ru", PublishedAt: testEpoch.Add(-time.Minute)}
	sameTime := Article{ID: "same", Domain: "tass.ru", PublishedAt: testEpoch}

	if got := PickCanonical(nil, media, weights); got.ID != "media" {
		t.Fatalf("expected candidate without current canonical, got %s", got.ID)
	}
	if got := PickCanonical(&media, regulator, weights); got.ID != "reg" {
		t.Fatalf("expected heavier source to win, got %s", got.ID)
	}
	if got := PickCanonical(&regulator, earlierMedia, weights); got.ID != "reg" {
		t.Fatalf("expected earlier but lighter source to lose, got %s", got.ID)
	}
	if got := PickCanonical(&media, earlierMedia, weights); got.ID != "early" {
		t.Fatalf("expected earlier article to win on equal weight, got %s", got.ID)
	}
	if got := PickCanonical(&media, sameTime, weights); got.ID != "media" {
		t.Fatalf("expected full tie to keep current canonical, got %s", got.ID)
	}
}

func TestSelectCanonical_IsStable(t *testing.T) {
	t.Parallel()

	weights := NewSourceWeights(DefaultConfig().SourceWeights)
	media := Article{ID: "media", Domain: "rbc.ru", PublishedAt: testEpoch}
	exchange := Article{ID: "exchange", Domain: "moex.com", PublishedAt: testEpoch.Add(2 * time.Minute)}
	regulator := Article{ID: "reg", Domain: "cbr.ru", PublishedAt: testEpoch.Add(5 * time.Minute)}

	cluster := Cluster{Key: "k", Canonical: media, Members: []Article{media, exchange, regulator}}
	once := SelectCanonical(cluster, weights)
	if once.Canonical.ID != "reg" {
		t.Fatalf("expected regulator to become canonical, got %s", once.Canonical.ID)
	}
	twice := SelectCanonical(once, weights)
	if twice.Canonical.ID != once.Canonical.ID {
		t.Fatalf("expected re-selection without new members to keep %s, got %s", once.Canonical.ID, twice.Canonical.ID)
	}
	if twice.Key != "k" {
		t.Fatalf("expected cluster key to survive canonical change, got %q", twice.Key)
	}
}
