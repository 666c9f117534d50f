package pipeline

import "testing"

func TestFingerprint_DeterministicAndTextSensitive(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(DefaultConfig())
	a := Fingerprint(n.Normalize("Bank of Russia holds rate", "Decision announced", "cbr.ru"))
	b := Fingerprint(n.Normalize("<b>Bank of Russia</b> holds rate!", "Decision announced.", "rbc.ru"))
	c := Fingerprint(n.Normalize("Bank of Russia cuts rate", "Decision announced", "cbr.ru"))

	if a.ExactHash != b.ExactHash || a.Simhash != b.Simhash {
		t.Fatalf("expected markup and punctuation to be ignored by fingerprints")
	}
	if EstimateJaccard(a.Minhash, b.Minhash) != 1 {
		t.Fatalf("expected identical minhash signatures")
	}
	if a.ExactHash == c.ExactHash {
		t.Fatalf("expected different text to change the exact hash")
	}
	if !a.HasSignal() || a.TokenCount != 7 {
		t.Fatalf("unexpected signal for tokenized text: %+v", a)
	}
}

func TestFingerprint_EmptyTextHasNoSignal(t *testing.T) {
	t.Parallel()

	fp := Fingerprint(NewNormalizer(DefaultConfig()).Normalize("!!!", "", "rbc.ru"))
	if fp.HasSignal() {
		t.Fatalf("expected empty text to carry no similarity signal")
	}
	if fp.ExactHash == "" {
		t.Fatalf("expected exact hash to be set even for empty text")
	}
}

func TestFingerprint_StopwordsCarryNoSimhashWeight(t *testing.T) {
	t.Parallel()

	n := NewNormalizer(DefaultConfig())
	padded := Fingerprint(n.Normalize("The rate of the bank", "", "rbc.ru"))
	bare := Fingerprint(n.Normalize("rate bank", "", "rbc.ru"))
	if padded.Simhash != bare.Simhash {
		t.Fatalf("expected stopwords not to move the simhash: %x vs %x", padded.Simhash, bare.Simhash)
	}
	if padded.ExactHash == bare.ExactHash || padded.TokenCount != 5 {
		t.Fatalf("expected exact hash and token count to keep stopwords: %+v", padded)
	}

	onlyStopwords := Fingerprint(n.Normalize("To be or", "", "rbc.ru"))
	if !onlyStopwords.HasSignal() || onlyStopwords.Simhash != simhash64([]string{"to", "be", "or"}) {
		t.Fatalf("expected stopword-only text to vote every token: %+v", onlyStopwords)
	}
}

func TestHammingDistance(t *testing.T) {
	t.Parallel()

	if got := HammingDistance(0b101010, 0b111000); got != 2 {
		t.Fatalf("unexpected hamming distance: got %d want 2", got)
	}
	if got := HammingDistance(^uint64(0), 0); got != SimhashBits {
		t.Fatalf("unexpected hamming distance: got %d want %d", got, SimhashBits)
	}
}

func TestEstimateJaccard_MissingSignatures(t *testing.T) {
	t.Parallel()

	if got := EstimateJaccard(nil, nil); got != 0 {
		t.Fatalf("expected 0 for missing signatures, got %f", got)
	}
	if got := EstimateJaccard([]uint64{1, 2}, []uint64{1}); got != 0 {
		t.Fatalf("expected 0 for mismatched signatures, got %f", got)
	}
	if got := EstimateJaccard([]uint64{1, 2, 3, 4}, []uint64{1, 2, 9, 9}); got != 0.5 {
		t.Fatalf("unexpected estimate: got %f want 0.5", got)
	}
}

func TestShingles(t *testing.T) {
	t.Parallel()

	if got := shingles([]string{"a", "b"}, 3); !stringsEqual(got, []string{"a b"}) {
		t.Fatalf("unexpected short-text shingles: %v", got)
	}
	if got := shingles([]string{"a", "b", "c", "d"}, 3); !stringsEqual(got, []string{"a b c", "b c d"}) {
		t.Fatalf("unexpected shingles: %v", got)
	}
	if got := shingles(nil, 3); got != nil {
		t.Fatalf("expected no shingles for empty tokens, got %v", got)
	}
}
