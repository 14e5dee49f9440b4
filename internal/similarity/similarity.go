// Package similarity scores how alike two identifiers are.
//
// The score is the Ratcliff/Obershelp ratio: the longest common block is
// found, the search recurses into the unmatched text on either side of it,
// and the ratio is 2*M/T where M is the number of matched characters and T the
// combined length of both inputs. Comparison is case-insensitive.
package similarity

import "strings"

// Ratio returns a similarity score in [0,1]. It is 1.0 iff a and b are equal
// ignoring case, and 0 when they share no characters.
func Ratio(a, b string) float64 {
	ra := []rune(strings.ToLower(a))
	rb := []rune(strings.ToLower(b))

	total := len(ra) + len(rb)
	if total == 0 {
		return 1.0
	}
	return 2.0 * float64(matchingChars(ra, rb)) / float64(total)
}

type span struct {
	alo, ahi, blo, bhi int
}

// matchingChars sums the sizes of all matching blocks between a and b.
func matchingChars(a, b []rune) int {
	matched := 0
	queue := []span{{0, len(a), 0, len(b)}}
	for len(queue) > 0 {
		s := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		i, j, k := longestMatch(a, b, s)
		if k == 0 {
			continue
		}
		matched += k
		if s.alo < i && s.blo < j {
			queue = append(queue, span{s.alo, i, s.blo, j})
		}
		if i+k < s.ahi && j+k < s.bhi {
			queue = append(queue, span{i + k, s.ahi, j + k, s.bhi})
		}
	}
	return matched
}

// longestMatch finds the longest common block of a[alo:ahi] and b[blo:bhi].
// Among equally long blocks the one starting earliest in a wins, then the one
// starting earliest in b.
func longestMatch(a, b []rune, s span) (besti, bestj, bestk int) {
	besti, bestj = s.alo, s.blo
	width := s.bhi - s.blo
	if width <= 0 || s.ahi <= s.alo {
		return besti, bestj, 0
	}

	prev := make([]int, width+1)
	curr := make([]int, width+1)
	for i := s.alo; i < s.ahi; i++ {
		for j := s.blo; j < s.bhi; j++ {
			col := j - s.blo + 1
			if a[i] != b[j] {
				curr[col] = 0
				continue
			}
			k := prev[col-1] + 1
			curr[col] = k
			if k > bestk {
				besti, bestj, bestk = i-k+1, j-k+1, k
			}
		}
		prev, curr = curr, prev
	}
	return besti, bestj, bestk
}
