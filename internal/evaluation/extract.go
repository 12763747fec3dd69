package evaluation

import "github.com/MrWong99/elocution/internal/textnorm"

// ExtractPronunciations returns one [UserPronunciation] per expected word in
// pairs, in order. Surrounding punctuation is stripped from the word and a
// missing confidence counts as 0. A token made only of punctuation yields an
// empty Word; stores skip those.
func ExtractPronunciations(pairs []WordPair) []UserPronunciation {
	out := make([]UserPronunciation, 0, len(pairs))
	for _, p := range pairs {
		w, ok := p.Expected.Get()
		if !ok {
			continue
		}
		out = append(out, UserPronunciation{
			Word:       textnorm.StripPunctuation(w),
			Confidence: p.Confidence.Or(0),
		})
	}
	return out
}
