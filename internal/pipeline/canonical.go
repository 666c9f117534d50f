package pipeline

import "sort"

type weightEntry struct {
	suffix string
	weight float64
}

// SourceWeights resolves a domain to its configured trust weight. Lookup is
// case-insensitive and matches by domain suffix so subdomains inherit the
// weight of their parent; the longest matching suffix wins.
type SourceWeights struct {
	entries []weightEntry
}

func NewSourceWeights(table map[string]float64) SourceWeights {
	entries := make([]weightEntry, 0, len(table))
	for domain, weight := range table {
		if key := NormalizeDomain(domain); key != "" {
			entries = append(entries, weightEntry{suffix: key, weight: weight})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if len(entries[i].suffix) != len(entries[j].suffix) {
			return len(entries[i].suffix) > len(entries[j].suffix)
		}
		return entries[i].suffix < entries[j].suffix
	})
	return SourceWeights{entries: entries}
}

// Weight returns the weight for domain, or 0 when no entry matches.
func (w SourceWeights) Weight(domain string) float64 {
	normalized := NormalizeDomain(domain)
	for _, e := range w.entries {
		if domainMatches(normalized, e.suffix) {
			return e.weight
		}
	}
	return 0
}

// PickCanonical keeps candidate only when it is strictly heavier than the
// current canonical, or equally heavy and published strictly earlier. Any
// remaining tie keeps current.
func PickCanonical(current *Article, candidate Article, weights SourceWeights) Article {
	if current == nil {
		return candidate
	}
	currentWeight := weights.Weight(current.Domain)
	candidateWeight := weights.Weight(candidate.Domain)
	switch {
	case candidateWeight > currentWeight:
		return candidate
	case candidateWeight == currentWeight && candidate.PublishedAt.Before(current.PublishedAt):
		return candidate
	default:
		return *current
	}
}

// SelectCanonical folds PickCanonical over the members in discovery order,
// starting from the cluster's current canonical.
func SelectCanonical(c Cluster, weights SourceWeights) Cluster {
	var current *Article
	if c.Canonical.ID != "" {
		canonical := c.Canonical
		current = &canonical
	}
	for _, member := range c.Members {
		picked := PickCanonical(current, member, weights)
		current = &picked
	}
	if current != nil {
		c.Canonical = *current
	}
	return c
}
