package speech

import "strings"

// TrimOverlap returns next without the longest run of leading words that
// repeats the trailing words of prev. The result is trimmed.
func TrimOverlap(prev, next string) string {
	prevWords := strings.Fields(prev)
	nextWords := strings.Fields(next)

	max := len(prevWords)
	if len(nextWords) < max {
		max = len(nextWords)
	}

	for n := max; n > 0; n-- {
		if equalWords(prevWords[len(prevWords)-n:], nextWords[:n]) {
			return strings.Join(nextWords[n:], " ")
		}
	}
	return strings.Join(nextWords, " ")
}

func equalWords(a, b []string) bool {
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}
