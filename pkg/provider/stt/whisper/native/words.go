package native

import (
	"strings"
	"time"

	"github.com/MrWong99/elocution/pkg/provider/stt"
)

// token is the part of a whisper.cpp text token needed to rebuild words.
type token struct {
	text  string
	p     float32
	start time.Duration
	end   time.Duration
}

// groupWords merges sub-word BPE tokens into words. A token whose text starts
// with a space opens a new word; any other token continues the current one.
// The confidence of a word is the mean probability of its tokens.
func groupWords(tokens []token) []stt.Word {
	var (
		words []stt.Word
		cur   strings.Builder
		sumP  float64
		n     int
		start time.Duration
		end   time.Duration
	)
	flush := func() {
		if w := strings.TrimSpace(cur.String()); w != "" {
			words = append(words, stt.Word{
				Word:       w,
				Start:      start,
				End:        end,
				Confidence: sumP / float64(n),
			})
		}
		cur.Reset()
		sumP, n = 0, 0
	}

	for _, tk := range tokens {
		if tk.text == "" {
			continue
		}
		if strings.HasPrefix(tk.text, " ") || n == 0 {
			flush()
			start = tk.start
		}
		cur.WriteString(tk.text)
		sumP += float64(tk.p)
		n++
		end = tk.end
	}
	if n > 0 {
		flush()
	}
	return words
}
