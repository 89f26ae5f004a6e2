package memory

import (
	"encoding/binary"
	"hash/fnv"
	"math"
	"sort"
	"strings"
)

// VectorDim is the fixed dimensionality of MemoryPilot's hash-based
// TF-IDF surrogate embeddings.
const VectorDim = 384

// rrfK is the Reciprocal Rank Fusion smoothing constant.
const rrfK = 60.0

var stopwords = buildStopwords()

func buildStopwords() map[string]struct{} {
	words := []string{
		"the", "this", "that", "with", "from", "have", "been", "will",
		"should", "would", "could", "when", "where", "what", "which",
		"their", "there", "they", "them", "then", "than", "these",
		"those", "into", "some", "such", "also", "does", "done", "each",
		"just", "like", "make", "made", "more", "most", "much", "need",
		"only", "over", "very", "well", "about", "after", "again",
		"being", "other", "using", "and", "for", "are", "was", "but",
		"not", "you", "your", "his", "her", "its", "our", "all", "can",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}

// tokenize lowercases text, splits on runs of non-alphanumeric characters,
// and drops tokens shorter than two characters or present in the English
// stopword list.
func tokenize(text string) []string {
	lower := strings.ToLower(text)
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() == 0 {
			return
		}
		tok := cur.String()
		cur.Reset()
		if len(tok) < 2 {
			return
		}
		if _, stop := stopwords[tok]; stop {
			return
		}
		tokens = append(tokens, tok)
	}
	for _, r := range lower {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			cur.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	return tokens
}

// IDFSource supplies corpus-level document-frequency statistics to the
// embedder. The storage layer implements this over its term_doc_freq table;
// it is read-only during a single search or embed call.
type IDFSource interface {
	DocFreq(term string) int
	CorpusSize() int
}

// staticIDF is used when no live corpus is available (e.g. cosine-only
// comparisons in tests): every term behaves as if seen in exactly one of
// one document, i.e. idf collapses to a constant.
type staticIDF struct{}

func (staticIDF) DocFreq(string) int { return 0 }
func (staticIDF) CorpusSize() int    { return 0 }

// NoCorpus is the zero-value IDFSource for callers outside a live store.
var NoCorpus IDFSource = staticIDF{}

func idfWeight(src IDFSource, term string) float64 {
	n := src.CorpusSize()
	df := src.DocFreq(term)
	// Smoothed IDF: always positive, degrades gracefully to 1 with no corpus.
	return math.Log(float64(n+1)/float64(df+1)) + 1
}

// hashTerm returns a stable 64-bit FNV-1a hash of term, seeded so that
// distinct logical hash "channels" don't collide on trivial inputs.
func hashTerm(term string, seed byte) uint64 {
	h := fnv.New64a()
	h.Write([]byte{seed})
	h.Write([]byte(term))
	return h.Sum64()
}

// Embed produces a deterministic 384-dimensional unit vector from text
// using feature hashing and the supplied corpus IDF statistics.
func Embed(text string, idf IDFSource) []float32 {
	vec := make([]float32, VectorDim)
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return vec
	}

	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}

	for term, count := range tf {
		// Sub-linear term-frequency damping.
		weight := (1 + math.Log(float64(count))) * idfWeight(idf, term)
		dim := int(hashTerm(term, 0) % uint64(VectorDim))
		sign := 1.0
		if hashTerm(term, 1)%2 == 1 {
			sign = -1.0
		}
		vec[dim] += float32(weight * sign)
	}

	normalize(vec)
	return vec
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm < 1e-8 {
		return
	}
	for i, v := range vec {
		vec[i] = float32(float64(v) / norm)
	}
}

// Cosine returns the cosine similarity between two equal-length vectors,
// in [-1, 1]. Mismatched lengths or empty vectors yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// VecToBlob serializes an embedding to its fixed-layout binary form: four
// little-endian bytes per dimension (IEEE-754 float32).
func VecToBlob(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// BlobToVec deserializes a fixed-layout embedding blob. A blob whose length
// is not a multiple of 4 is truncated to the nearest complete float32.
func BlobToVec(blob []byte) []float32 {
	n := len(blob) / 4
	vec := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vec[i] = math.Float32frombits(bits)
	}
	return vec
}

// RRF computes the Reciprocal Rank Fusion score for a candidate across a
// set of ranked lists it appears in. A zero rank means "absent from that
// list" and contributes nothing.
func RRF(ranks ...int) float64 {
	var score float64
	for _, r := range ranks {
		if r <= 0 {
			continue
		}
		score += 1.0 / (rrfK + float64(r))
	}
	return score
}

// rankCandidates assigns 1-based ranks to ids in descending score order,
// used identically for both lexical and vector candidate lists.
func rankCandidates(ids []string) map[string]int {
	ranks := make(map[string]int, len(ids))
	for i, id := range ids {
		ranks[id] = i + 1
	}
	return ranks
}

// topByScore sorts ids by the provided score map, descending, and returns
// at most limit of them. Ties are broken by id ascending for determinism.
func topByScore(scores map[string]float64, limit int) []string {
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		si, sj := scores[ids[i]], scores[ids[j]]
		if si != sj {
			return si > sj
		}
		return ids[i] < ids[j]
	})
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}
