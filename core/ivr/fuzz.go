package ivr

import (
	"strings"

	"github.com/agnivade/levenshtein"
)

// partialRatio scores, out of 100, how well the shorter string matches the
// best aligned window of the longer one.
func partialRatio(a, b string) int {
	shorter, longer := []rune(strings.ToLower(a)), []rune(strings.ToLower(b))
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if len(shorter) == 0 {
		if len(longer) == 0 {
			return 100
		}
		return 0
	}

	best := 0
	for start := 0; start+len(shorter) <= len(longer); start++ {
		window := string(longer[start : start+len(shorter)])
		best = max(best, ratio(string(shorter), window))
		if best == 100 {
			break
		}
	}
	return best
}

// ratio is the similarity of two strings, out of 100. A substitution costs
// as much as a deletion plus an insertion.
func ratio(a, b string) int {
	total := len([]rune(a)) + len([]rune(b))
	if total == 0 {
		return 100
	}
	matched := max(total-2*levenshtein.ComputeDistance(a, b), 0)
	return int(100*float64(matched)/float64(total) + 0.5)
}
