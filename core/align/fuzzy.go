package align

// Fuzzy finds the window of text most similar to span and returns its rune
// offset, rune length, and similarity ratio in [0,1]. An exact substring
// match short-circuits with ratio 1. Otherwise windows near the span's
// length slide over the text and are scored by longest-common-subsequence
// ratio; ties keep the earliest offset.
func Fuzzy(text, span string) (offset, length int, ratio float64) {
	tr := []rune(text)
	sr := []rune(span)
	if len(sr) == 0 || len(tr) == 0 {
		return 0, 0, 0
	}

	if off := indexRunes(tr, sr); off >= 0 {
		return off, len(sr), 1
	}

	bestOff, bestLen := 0, 0
	bestRatio := 0.0
	for _, w := range windowSizes(len(sr), len(tr)) {
		for start := 0; start+w <= len(tr); start++ {
			r := similarity(tr[start:start+w], sr)
			if r > bestRatio {
				bestOff, bestLen, bestRatio = start, w, r
			}
		}
	}
	return bestOff, bestLen, bestRatio
}

// windowSizes returns candidate window lengths around the span length,
// clamped to the text length and deduplicated.
func windowSizes(spanLen, textLen int) []int {
	raw := []int{spanLen * 3 / 4, spanLen, spanLen + (spanLen+3)/4}
	var out []int
	for _, w := range raw {
		if w < 1 {
			w = 1
		}
		if w > textLen {
			w = textLen
		}
		dup := false
		for _, seen := range out {
			if seen == w {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, w)
		}
	}
	return out
}

// similarity is the symmetric LCS ratio 2*lcs/(len(a)+len(b)).
func similarity(a, b []rune) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	return 2 * float64(lcsLen(a, b)) / float64(len(a)+len(b))
}

// lcsLen computes the longest-common-subsequence length with a two-row
// dynamic program.
func lcsLen(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
			} else if prev[j] >= cur[j-1] {
				cur[j] = prev[j]
			} else {
				cur[j] = cur[j-1]
			}
		}
		prev, cur = cur, prev
	}
	return prev[len(b)]
}

func indexRunes(text, sub []rune) int {
	if len(sub) > len(text) {
		return -1
	}
	for i := 0; i+len(sub) <= len(text); i++ {
		match := true
		for j := range sub {
			if text[i+j] != sub[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
