package evaluation

// BuildPairs expands the sparse list of matched indices into a gap-free,
// ordered list of [WordPair] values covering every expected word and every
// actual word exactly once.
//
// Between two consecutive matches, leftover words are first paired up by
// position (without confidence, since they were never verified as equal),
// then whatever remains on either side is emitted on its own. Words after the
// last match are handled the same way. Finally revert is applied to every
// expected word to restore its display form; a nil revert leaves words as is.
func BuildPairs(expected []string, actual []ActualWord, matches []IndexPair, revert func(string) string) []WordPair {
	pairs := make([]WordPair, 0, max(len(expected), len(actual)))
	i, j := 0, 0

	for _, mp := range matches {
		pairs, i, j = appendGap(pairs, expected, actual, i, j, mp.Expected, mp.Actual)

		// Confidence is read through the cursor j, which appendGap has just
		// advanced to mp.Actual.
		pairs = append(pairs, MatchedPair(expected[mp.Expected], actual[mp.Actual], actual[j].Confidence))
		i++
		j++
	}
	pairs, _, _ = appendGap(pairs, expected, actual, i, j, len(expected), len(actual))

	if revert != nil {
		for k := range pairs {
			if w, ok := pairs[k].Expected.Get(); ok {
				pairs[k].Expected = Some(revert(w))
			}
		}
	}
	return pairs
}

// appendGap emits the pairs for expected[i:ei] and actual[j:ej]: positional
// pairs while both sides have words, then expected-only pairs, then
// actual-only pairs. It returns the extended slice and the advanced cursors.
func appendGap(pairs []WordPair, expected []string, actual []ActualWord, i, j, ei, ej int) ([]WordPair, int, int) {
	for i < ei && j < ej {
		pairs = append(pairs, PositionalPair(expected[i], actual[j]))
		i++
		j++
	}
	for i < ei {
		pairs = append(pairs, ExpectedOnly(expected[i]))
		i++
	}
	for j < ej {
		pairs = append(pairs, ActualOnly(actual[j]))
		j++
	}
	return pairs, i, j
}
