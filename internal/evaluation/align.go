package evaluation

import (
	"slices"

	"github.com/MrWong99/elocution/internal/textnorm"
)

// move records which neighbour a DP cell was derived from.
type move uint8

const (
	moveNone move = iota
	moveDiag      // consume one expected and one actual word
	moveUp        // consume one expected word
	moveLeft      // consume one actual word
)

// AlignIndices returns the longest order-preserving list of index pairs
// (expected[i], actual[j]) that cmp considers equal.
//
// When skipping an expected word and skipping an actual word lead to equally
// long alignments, the actual word is skipped. For expected "a b c" against
// actual "b c" this reports "a" as missing rather than treating "b" as an
// insertion.
func AlignIndices(expected, actual []string, cmp textnorm.Comparator) []IndexPair {
	score, parent := fillMatrices(expected, actual, cmp)
	return backtrack(score, parent)
}

// fillMatrices computes the LCS score matrix and the matching parent-move
// matrix, both (n+1)×(m+1) with an all-zero first row and column.
func fillMatrices(expected, actual []string, cmp textnorm.Comparator) (*Matrix[int], *Matrix[move]) {
	n, m := len(expected), len(actual)
	score := NewMatrix[int](n+1, m+1)
	parent := NewMatrix[move](n+1, m+1)

	for i := 1; i <= n; i++ {
		for j := 1; j <= m; j++ {
			switch up, left := score.At(i-1, j), score.At(i, j-1); {
			case cmp.AreWordsEqual(expected[i-1], actual[j-1]):
				score.Set(i, j, score.At(i-1, j-1)+1)
				parent.Set(i, j, moveDiag)
			case up > left:
				score.Set(i, j, up)
				parent.Set(i, j, moveUp)
			default:
				score.Set(i, j, left)
				parent.Set(i, j, moveLeft)
			}
		}
	}
	return score, parent
}

// backtrack walks parent from the bottom-right corner until it leaves the
// grid, collecting every diagonal step, and returns them in ascending order.
func backtrack(score *Matrix[int], parent *Matrix[move]) []IndexPair {
	i, j := parent.Rows()-1, parent.Cols()-1
	pairs := make([]IndexPair, 0, score.At(i, j))

	for i > 0 && j > 0 {
		switch parent.At(i, j) {
		case moveDiag:
			pairs = append(pairs, IndexPair{Expected: i - 1, Actual: j - 1})
			i--
			j--
		case moveUp:
			i--
		default:
			j--
		}
	}

	slices.Reverse(pairs)
	return pairs
}
