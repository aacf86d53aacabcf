package tokenizer

import (
	"iter"
	"slices"
	"unicode"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
)

// GPT2Pattern is the expression the built-in lexer implements.
const GPT2Pattern = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)|\s+`

// PreTokenizer splits text into chunks that are merged independently.
// Chunks are yielded in input order and concatenate back to the input.
type PreTokenizer interface {
	Split(s string) iter.Seq[string]
}

// Segment collects the chunks of s.
func Segment(pre PreTokenizer, s string) []string {
	return slices.Collect(pre.Split(s))
}

// NewPreTokenizer returns the built-in GPT-2 lexer when pattern is empty
// and a regexp2 backed splitter otherwise.
func NewPreTokenizer(pattern string) (PreTokenizer, error) {
	if pattern == "" {
		return lexer{}, nil
	}

	re, err := regexp2.Compile(pattern, regexp2.None)
	if err != nil {
		return nil, err
	}

	return &patternSplitter{re: re}, nil
}

type patternSplitter struct {
	re *regexp2.Regexp
}

func (p *patternSplitter) Split(s string) iter.Seq[string] {
	return func(yield func(string) bool) {
		// regexp2 matches runes; chunks are cut from s by byte offset so
		// invalid UTF-8 bytes survive unchanged
		r := make([]rune, 0, len(s))
		offsets := make([]int, 0, len(s)+1)
		for i := 0; i < len(s); {
			c, size := utf8.DecodeRuneInString(s[i:])
			r = append(r, c)
			offsets = append(offsets, i)
			i += size
		}
		offsets = append(offsets, len(s))

		var offset int
		for m, _ := p.re.FindRunesMatch(r); m != nil; m, _ = p.re.FindNextMatch(m) {
			if m.Length == 0 {
				continue
			}

			if m.Index > offset {
				if !yield(s[offsets[offset]:offsets[m.Index]]) {
					return
				}
			}

			end := m.Index + m.Length
			if !yield(s[offsets[m.Index]:offsets[end]]) {
				return
			}

			offset = end
		}

		if offset < len(r) {
			yield(s[offsets[offset]:])
		}
	}
}

// lexer implements GPT2Pattern by hand. At each position the first rule
// that matches wins.
type lexer struct{}

func (lexer) Split(s string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for i := 0; i < len(s); {
			end := next(s, i)
			if !yield(s[i:end]) {
				return
			}

			i = end
		}
	}
}

func next(s string, i int) int {
	if end := contraction(s, i); end > i {
		return end
	}

	for _, class := range []func(rune) bool{isLetter, isNumber, isOther} {
		if end := spacedRun(s, i, class); end > i {
			return end
		}
	}

	if end := whitespace(s, i); end > i {
		return end
	}

	// unreachable for valid input: every rune is whitespace, letter, number
	// or other. Still guarantee progress.
	_, size := utf8.DecodeRuneInString(s[i:])
	return i + size
}

var contractions = []string{"s", "t", "re", "ve", "m", "ll", "d"}

func contraction(s string, i int) int {
	if s[i] != '\'' {
		return i
	}

	for _, suffix := range contractions {
		if j := i + 1 + len(suffix); j <= len(s) && s[i+1:j] == suffix {
			return j
		}
	}

	return i
}

// spacedRun matches ` ?class+`.
func spacedRun(s string, i int, class func(rune) bool) int {
	j := i
	if s[j] == ' ' {
		j++
	}

	end := run(s, j, class)
	if end == j {
		return i
	}

	return end
}

// whitespace matches `\s+(?!\S)|\s+`. A run followed by non-whitespace
// gives up its last rune so that rune can lead the next chunk.
func whitespace(s string, i int) int {
	end := run(s, i, unicode.IsSpace)
	if end == i || end == len(s) {
		return end
	}

	_, size := utf8.DecodeLastRuneInString(s[i:end])
	if last := end - size; last > i {
		return last
	}

	return end
}

func run(s string, i int, class func(rune) bool) int {
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !class(r) {
			break
		}

		i += size
	}

	return i
}

func isLetter(r rune) bool { return unicode.IsLetter(r) }
func isNumber(r rune) bool { return unicode.IsNumber(r) }

func isOther(r rune) bool {
	return !unicode.IsSpace(r) && !unicode.IsLetter(r) && !unicode.IsNumber(r)
}
