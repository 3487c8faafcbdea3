package search

import (
	"cmp"
	"math"
	"regexp"
	"slices"
	"strings"
)

// Tokens are runs of two or more letters, digits or underscores.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// tokenize lowercases text and drops stop words.
func tokenize(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, tok := range raw {
		if _, stop := englishStopWords[tok]; !stop {
			out = append(out, tok)
		}
	}
	return out
}

// term is one non-zero entry of a sparse vector.
type term struct {
	idx    int
	weight float64
}

// vector is a sparse, L2-normalized term weight vector sorted by index.
// Sums run in index order so equal documents get bit-identical scores.
type vector []term

// fitTransform weights every text against a vocabulary built from all of
// them. Term frequency is the raw count; IDF is smoothed,
// ln((1+n)/(1+df)) + 1, so terms present everywhere still count.
func fitTransform(texts []string) []vector {
	vocab := make(map[string]int)
	counts := make([]map[int]int, len(texts))
	var df []int

	for i, text := range texts {
		counts[i] = make(map[int]int)
		for _, tok := range tokenize(text) {
			idx, ok := vocab[tok]
			if !ok {
				idx = len(vocab)
				vocab[tok] = idx
				df = append(df, 0)
			}
			if counts[i][idx] == 0 {
				df[idx]++
			}
			counts[i][idx]++
		}
	}

	n := float64(len(texts))
	idf := make([]float64, len(df))
	for idx, d := range df {
		idf[idx] = math.Log((1+n)/(1+float64(d))) + 1
	}

	vectors := make([]vector, len(texts))
	for i, tc := range counts {
		v := make(vector, 0, len(tc))
		for idx, c := range tc {
			v = append(v, term{idx: idx, weight: float64(c) * idf[idx]})
		}
		slices.SortFunc(v, func(a, b term) int { return cmp.Compare(a.idx, b.idx) })

		var norm float64
		for _, t := range v {
			norm += t.weight * t.weight
		}
		if norm > 0 {
			norm = math.Sqrt(norm)
			for j := range v {
				v[j].weight /= norm
			}
		}
		vectors[i] = v
	}
	return vectors
}

// cosine returns the cosine similarity of two normalized vectors. Empty
// vectors score 0.
func cosine(a, b vector) float64 {
	var dot float64
	for i, j := 0, 0; i < len(a) && j < len(b); {
		switch {
		case a[i].idx == b[j].idx:
			dot += a[i].weight * b[j].weight
			i++
			j++
		case a[i].idx < b[j].idx:
			i++
		default:
			j++
		}
	}
	return dot
}
