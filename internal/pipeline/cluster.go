package pipeline

import (
	"fmt"
	"sort"
	"time"
)

const noSimhashDistance = SimhashBits + 1

// Window is the versioned set of clusters still open for new members. It is
// passed explicitly between batches; the caller owns it.
type Window struct {
	Version  uint64    `json:"version"`
	Clusters []Cluster `json:"clusters"`
}

// Expire splits the window into clusters still open at now and clusters
// whose creation time fell out of the similarity window.
func (w Window) Expire(now time.Time, window time.Duration) (Window, []Cluster) {
	open := Window{Version: w.Version, Clusters: make([]Cluster, 0, len(w.Clusters))}
	var closed []Cluster
	for _, c := range w.Clusters {
		if c.CreatedAt.Add(window).Before(now) {
			closed = append(closed, c)
			continue
		}
		open.Clusters = append(open.Clusters, c)
	}
	return open, closed
}

// ClusterResult is the outcome of clustering one batch.
type ClusterResult struct {
	// Window holds every cluster still open after the batch.
	Window Window
	// Touched lists clusters that gained members from this batch, in
	// first-touch order.
	Touched []Cluster
	// Closed lists clusters expired while the batch was processed.
	Closed []Cluster
}

// Clusterer groups articles into event clusters. It keeps no state between
// calls; the open-cluster window is passed in and returned.
type Clusterer struct {
	cfg SimilarityConfig
}

func NewClusterer(cfg SimilarityConfig) Clusterer {
	return Clusterer{cfg: cfg}
}

type openCluster struct {
	cluster Cluster
	hashes  map[string]struct{}
	topics  map[string]struct{}
	touched bool
}

func newOpenCluster(c Cluster) *openCluster {
	oc := &openCluster{
		cluster: c,
		hashes:  make(map[string]struct{}, len(c.Members)),
		topics:  make(map[string]struct{}, len(c.Topics)),
	}
	oc.cluster.Members = append([]Article(nil), c.Members...)
	for _, m := range c.Members {
		oc.hashes[m.Fingerprints.ExactHash] = struct{}{}
		for _, topic := range m.Topics() {
			oc.topics[topic] = struct{}{}
		}
	}
	for _, topic := range c.Topics {
		oc.topics[topic] = struct{}{}
	}
	return oc
}

func (oc *openCluster) add(a Article) {
	oc.cluster.Members = append(oc.cluster.Members, a)
	if a.PublishedAt.Before(oc.cluster.CreatedAt) {
		oc.cluster.CreatedAt = a.PublishedAt
	}
	oc.hashes[a.Fingerprints.ExactHash] = struct{}{}
	for _, topic := range a.Topics() {
		oc.topics[topic] = struct{}{}
	}
}

func (oc *openCluster) snapshot() Cluster {
	c := oc.cluster
	c.Members = append([]Article(nil), oc.cluster.Members...)
	topics := make([]string, 0, len(oc.topics))
	for topic := range oc.topics {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	c.Topics = topics
	return c
}

func (oc *openCluster) sharesTopic(a Article) bool {
	for _, topic := range a.Topics() {
		if _, ok := oc.topics[topic]; ok {
			return true
		}
	}
	return false
}

// Cluster assigns every article, in publication order, to the best matching
// open cluster or to a new singleton cluster.
func (c Clusterer) Cluster(prior Window, articles []Article) ClusterResult {
	ordered := append([]Article(nil), articles...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].PublishedAt.Before(ordered[j].PublishedAt)
	})

	keys := make(map[string]struct{}, len(prior.Clusters)+len(ordered))
	open := make([]*openCluster, 0, len(prior.Clusters)+len(ordered))
	for _, pc := range prior.Clusters {
		keys[pc.Key] = struct{}{}
		open = append(open, newOpenCluster(pc))
	}

	var closed, touched []*openCluster
	for _, article := range ordered {
		open, closed = c.expire(open, closed, article.PublishedAt)

		target := c.bestMatch(open, article)
		if target == nil {
			target = newOpenCluster(Cluster{
				Key:       uniqueClusterKey(article, keys),
				Canonical: article,
				Members:   []Article{article},
				Topics:    article.Topics(),
				CreatedAt: article.PublishedAt,
			})
			open = append(open, target)
		} else {
			target.add(article)
		}

		if !target.touched {
			target.touched = true
			touched = append(touched, target)
		}
	}

	result := ClusterResult{
		Window: Window{Version: prior.Version + 1, Clusters: make([]Cluster, 0, len(open))},
	}
	for _, oc := range open {
		result.Window.Clusters = append(result.Window.Clusters, oc.snapshot())
	}
	for _, oc := range touched {
		result.Touched = append(result.Touched, oc.snapshot())
	}
	for _, oc := range closed {
		result.Closed = append(result.Closed, oc.snapshot())
	}
	return result
}

// expire moves clusters that can no longer accept an article published at t
// (or later) from open to closed. Articles arrive in publication order, so a
// cluster expired here never matches again in this batch.
func (c Clusterer) expire(open, closed []*openCluster, t time.Time) ([]*openCluster, []*openCluster) {
	kept := open[:0]
	for _, oc := range open {
		if oc.cluster.CreatedAt.Add(c.cfg.Window).Before(t) {
			closed = append(closed, oc)
			continue
		}
		kept = append(kept, oc)
	}
	return kept, closed
}

func (c Clusterer) bestMatch(open []*openCluster, a Article) *openCluster {
	var (
		best         *openCluster
		bestDistance int
	)
	for _, oc := range open {
		distance, ok := c.matches(oc, a)
		if !ok {
			continue
		}
		if best == nil || distance < bestDistance ||
			(distance == bestDistance && oc.cluster.Key < best.cluster.Key) {
			best = oc
			bestDistance = distance
		}
	}
	return best
}

// matches applies the temporal and similarity tests against the cluster's
// canonical article and returns the simhash distance used for tie-breaks.
func (c Clusterer) matches(oc *openCluster, a Article) (int, bool) {
	if !withinWindow(a.PublishedAt, oc.cluster.CreatedAt, c.cfg.Window) {
		return 0, false
	}

	canonical := oc.cluster.Canonical.Fingerprints
	distance := noSimhashDistance
	if a.Fingerprints.HasSignal() && canonical.HasSignal() {
		distance = HammingDistance(a.Fingerprints.Simhash, canonical.Simhash)
	}

	if _, ok := oc.hashes[a.Fingerprints.ExactHash]; ok {
		return distance, true
	}
	if !a.Fingerprints.HasSignal() || !canonical.HasSignal() {
		return 0, false
	}
	if distance <= c.cfg.HammingBits {
		return distance, true
	}
	if EstimateJaccard(a.Fingerprints.Minhash, canonical.Minhash) >= c.cfg.JaccardRatio {
		return distance, true
	}
	if distance <= c.cfg.RelaxedHammingBits && oc.sharesTopic(a) {
		return distance, true
	}
	return 0, false
}

func withinWindow(t, createdAt time.Time, window time.Duration) bool {
	diff := t.Sub(createdAt)
	if diff < 0 {
		diff = -diff
	}
	return diff <= window
}

func uniqueClusterKey(a Article, keys map[string]struct{}) string {
	hash := a.Fingerprints.ExactHash
	if len(hash) > 16 {
		hash = hash[:16]
	}
	base := "c" + hash
	key := base
	for n := 2; ; n++ {
		if _, exists := keys[key]; !exists {
			break
		}
		key = fmt.Sprintf("%s-%d", base, n)
	}
	keys[key] = struct{}{}
	return key
}
