package linker

import (
	"strings"

	"github.com/xrash/smetrics"

	"github.com/tyqqj0/paper-parser/internal/domain"
)

// Composite score weights and author-match bounds.
const (
	tokenOverlapWeight = 0.7
	lcsRatioWeight     = 0.3

	// jaroWinklerFloor is the per-surname similarity floor for a match.
	jaroWinklerFloor = 0.8

	// authorMatchFloor is the required fraction of matched surnames.
	authorMatchFloor = 0.5
)

// TokenOverlap computes the Jaccard overlap of the word sets of two
// normalized titles. Returns a value in [0,1].
func TokenOverlap(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

// LCSRatio computes the longest-common-subsequence length of two normalized
// titles relative to the longer one. Returns a value in [0,1].
func LCSRatio(a, b string) float64 {
	ra := []rune(a)
	rb := []rune(b)
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}

	// Two-row DP keeps memory linear in the shorter string.
	if len(rb) > len(ra) {
		ra, rb = rb, ra
	}
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for i := 1; i <= len(ra); i++ {
		for j := 1; j <= len(rb); j++ {
			if ra[i-1] == rb[j-1] {
				curr[j] = prev[j-1] + 1
			} else if prev[j] >= curr[j-1] {
				curr[j] = prev[j]
			} else {
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	lcs := prev[len(rb)]
	return float64(lcs) / float64(len(ra))
}

// TitleSimilarity is the composite title score: token overlap weighted 70%
// and LCS ratio 30%, both over normalized titles.
func TitleSimilarity(a, b string) float64 {
	na := domain.NormalizeTitle(a)
	nb := domain.NormalizeTitle(b)
	return tokenOverlapWeight*TokenOverlap(na, nb) + lcsRatioWeight*LCSRatio(na, nb)
}

// AuthorMatchRate computes the fraction of reference surnames that match a
// candidate surname at Jaro-Winkler >= 0.8. Each candidate surname is
// consumed by at most one reference surname.
func AuthorMatchRate(refAuthors, candAuthors []domain.Author) float64 {
	refSurnames := surnames(refAuthors)
	candSurnames := surnames(candAuthors)
	if len(refSurnames) == 0 || len(candSurnames) == 0 {
		return 0
	}

	used := make([]bool, len(candSurnames))
	matched := 0
	for _, ref := range refSurnames {
		bestIdx := -1
		bestScore := 0.0
		for i, cand := range candSurnames {
			if used[i] {
				continue
			}
			score := smetrics.JaroWinkler(ref, cand, 0.7, 4)
			if score >= jaroWinklerFloor && score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		if bestIdx >= 0 {
			used[bestIdx] = true
			matched++
		}
	}
	return float64(matched) / float64(len(refSurnames))
}

// YearWithin reports whether two years fall within the tolerance. A zero on
// either side is treated as unknown and passes.
func YearWithin(a, b, tolerance int) bool {
	if a == 0 || b == 0 {
		return true
	}
	delta := a - b
	if delta < 0 {
		delta = -delta
	}
	return delta <= tolerance
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(s) {
		set[tok] = struct{}{}
	}
	return set
}

func surnames(authors []domain.Author) []string {
	out := make([]string, 0, len(authors))
	for _, a := range authors {
		if s := a.Surname(); s != "" {
			out = append(out, s)
		}
	}
	return out
}
