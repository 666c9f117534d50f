package pipeline

import (
	"crypto/sha256"
	"encoding/hex"
	"hash/fnv"
	"math"
	"math/bits"
	"strings"
)

const (
	SimhashBits = 64
	MinhashSize = 64
	ShingleSize = 3
)

// Fingerprints holds the three similarity signals computed for an article.
type Fingerprints struct {
	ExactHash  string   `json:"exact_hash"`
	Simhash    uint64   `json:"simhash"`
	Minhash    []uint64 `json:"minhash,omitempty"`
	TokenCount int      `json:"token_count"`
}

// HasSignal reports whether the article had any tokens to fingerprint.
// Articles without tokens match only by exact hash.
func (f Fingerprints) HasSignal() bool {
	return f.TokenCount > 0 && len(f.Minhash) == MinhashSize
}

var minhashSeeds = buildMinhashSeeds()

// simhashStopwords carry no weight in the simhash.
var simhashStopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "has": {}, "have": {}, "in": {}, "is": {}, "it": {}, "its": {},
	"of": {}, "on": {}, "or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {},
	"в": {}, "во": {}, "и": {}, "на": {}, "по": {}, "с": {}, "со": {}, "к": {},
	"о": {}, "об": {}, "за": {}, "из": {}, "от": {}, "до": {}, "для": {}, "что": {},
}

// Fingerprint computes the exact hash, simhash and minhash signature of the
// normalized text.
func Fingerprint(n Normalized) Fingerprints {
	exact := sha256.Sum256([]byte(n.CleanTitle + "\n" + n.CleanSummary))
	fp := Fingerprints{
		ExactHash:  hex.EncodeToString(exact[:]),
		TokenCount: len(n.Tokens),
	}
	if len(n.Tokens) == 0 {
		return fp
	}
	fp.Simhash = simhash64(n.Tokens)
	fp.Minhash = minhashSignature(n.Tokens)
	return fp
}

// HammingDistance counts differing bits between two simhash values.
func HammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// EstimateJaccard estimates shingle-set Jaccard similarity as the fraction of
// matching signature slots. Missing or mismatched signatures estimate 0.
func EstimateJaccard(a, b []uint64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	matches := 0
	for i := range a {
		if a[i] == b[i] {
			matches++
		}
	}
	return float64(matches) / float64(len(a))
}

// simhash64 votes every content token into the fingerprint. Text made only of
// stopwords falls back to voting all tokens.
func simhash64(tokens []string) uint64 {
	weighted := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, stop := simhashStopwords[token]; !stop {
			weighted = append(weighted, token)
		}
	}
	if len(weighted) == 0 {
		weighted = tokens
	}

	var bitWeights [SimhashBits]int
	for _, token := range weighted {
		h := hashToken64(token)
		for bit := 0; bit < SimhashBits; bit++ {
			if h&(uint64(1)<<bit) != 0 {
				bitWeights[bit]++
			} else {
				bitWeights[bit]--
			}
		}
	}

	var result uint64
	for bit := 0; bit < SimhashBits; bit++ {
		if bitWeights[bit] > 0 {
			result |= uint64(1) << bit
		}
	}
	return result
}

func minhashSignature(tokens []string) []uint64 {
	sig := make([]uint64, MinhashSize)
	for i := range sig {
		sig[i] = math.MaxUint64
	}
	for _, shingle := range shingles(tokens, ShingleSize) {
		base := hashToken64(shingle)
		for i, seed := range minhashSeeds {
			if v := splitmix64(base ^ seed); v < sig[i] {
				sig[i] = v
			}
		}
	}
	return sig
}

// shingles returns the contiguous k-token windows of tokens. Texts shorter
// than k produce one shingle holding every token.
func shingles(tokens []string, k int) []string {
	if len(tokens) == 0 {
		return nil
	}
	if len(tokens) <= k {
		return []string{strings.Join(tokens, " ")}
	}
	out := make([]string, 0, len(tokens)-k+1)
	for i := 0; i+k <= len(tokens); i++ {
		out = append(out, strings.Join(tokens[i:i+k], " "))
	}
	return out
}

func hashToken64(token string) uint64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write([]byte(token))
	return hasher.Sum64()
}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

func buildMinhashSeeds() [MinhashSize]uint64 {
	var seeds [MinhashSize]uint64
	state := uint64(0x5eed0f5eed)
	for i := range seeds {
		state = splitmix64(state)
		seeds[i] = state
	}
	return seeds
}
