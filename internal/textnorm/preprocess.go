package textnorm

import (
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"
)

// Preprocessor is a reversible, language-specific text transform. Preprocess
// runs on the expected sentence before tokenisation; RevertWord runs on each
// expected token after alignment to restore the original spelling style for
// display. Transcribed words are never reverted.
//
// Implementations must be safe for concurrent use.
type Preprocessor interface {
	Preprocess(text string) string
	RevertWord(word string) string
}

// Identity is the [Preprocessor] used for languages without special rules.
type Identity struct{}

// Preprocess returns text unchanged.
func (Identity) Preprocess(text string) string { return text }

// RevertWord returns word unchanged.
func (Identity) RevertWord(word string) string { return word }

// French glues high punctuation and guillemets to the neighbouring word.
//
// French typography puts a (often non-breaking) space before ? ! : ; » and %
// and after «, which a whitespace tokenizer would otherwise turn into
// stand-alone tokens that no recogniser ever emits.
type French struct{}

// Plain, no-break and narrow no-break spaces.
const frenchSpaces = " \u00a0\u202f"

var (
	frenchBefore = regexp.MustCompile("[" + frenchSpaces + "]+([?!:;»%])")
	frenchAfter  = regexp.MustCompile("(«)[" + frenchSpaces + "]+")
)

// Preprocess removes the spaces that separate French punctuation from the
// adjacent word: "Ça va ?" becomes "Ça va?" and "« oui »" becomes "«oui»".
func (French) Preprocess(text string) string {
	text = frenchBefore.ReplaceAllString(text, "$1")
	return frenchAfter.ReplaceAllString(text, "$1")
}

// RevertWord puts the typographic spaces back into a glued token:
// "va?" becomes "va ?", "«oui»!" becomes "« oui » !".
func (French) RevertWord(word string) string {
	lead := leadingRun(word, "«")
	rest := word[len(lead):]
	trail := trailingRun(rest, "?!:;»%")
	body := rest[:len(rest)-len(trail)]
	if body == "" {
		return word
	}

	var b strings.Builder
	b.Grow(len(word) + 4)
	if lead != "" {
		b.WriteString(lead)
		b.WriteByte(' ')
	}
	b.WriteString(body)
	prev := rune(0)
	for _, r := range trail {
		// "?!" and "!?" stay together; everything else gets its own space.
		if !(isQuestionOrBang(prev) && isQuestionOrBang(r)) {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
		prev = r
	}
	return b.String()
}

func isQuestionOrBang(r rune) bool { return r == '?' || r == '!' }

func leadingRun(s, set string) string {
	i := 0
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !strings.ContainsRune(set, r) {
			break
		}
		i += size
	}
	return s[:i]
}

func trailingRun(s, set string) string {
	i := len(s)
	for i > 0 {
		r, size := utf8.DecodeLastRuneInString(s[:i])
		if !strings.ContainsRune(set, r) {
			break
		}
		i -= size
	}
	return s[i:]
}

// Registry maps language codes to [Preprocessor] implementations. Unknown
// languages resolve to [Identity]. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	procs map[string]Preprocessor
}

// NewRegistry returns a [Registry] with the built-in preprocessors
// registered (currently French under "fr").
func NewRegistry() *Registry {
	r := &Registry{procs: make(map[string]Preprocessor)}
	r.Register("fr", French{})
	return r
}

// Register binds p to the language code. Subsequent calls with the same code
// overwrite the previous registration. Codes are matched case-insensitively.
func (r *Registry) Register(code string, p Preprocessor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procs[canonicalCode(code)] = p
}

// For returns the preprocessor for code. A regional code such as "fr-CA" is
// looked up verbatim first and then by its primary subtag.
func (r *Registry) For(code string) Preprocessor {
	c := canonicalCode(code)
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.procs[c]; ok {
		return p
	}
	if i := strings.IndexByte(c, '-'); i > 0 {
		if p, ok := r.procs[c[:i]]; ok {
			return p
		}
	}
	return Identity{}
}

func canonicalCode(code string) string {
	c := strings.ToLower(strings.TrimSpace(code))
	return strings.ReplaceAll(c, "_", "-")
}
