// Package tokenizertest builds small GPT-2 shaped vocabularies for tests.
package tokenizertest

import (
	"cmp"
	"encoding/json"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/ollama/gpt2tok/tokenizer"
)

// Fixture is a dense token table and a ranked merge list. Ids 0..255 are
// the byte symbols in the same order GPT-2 assigns them, so byte tokens
// such as "!" (0) or "G" (38) keep their real ids.
type Fixture struct {
	Values []string
	Merges []tokenizer.Pair

	index map[string]int
	ranks map[tokenizer.Pair]bool
}

func newFixture() *Fixture {
	f := Fixture{
		index: make(map[string]int),
		ranks: make(map[tokenizer.Pair]bool),
	}

	var rest []byte
	for b := range 256 {
		if r := tokenizer.EncodeByte(byte(b)); r == rune(b) {
			f.add(string(r))
		} else {
			rest = append(rest, byte(b))
		}
	}

	for _, b := range rest {
		f.add(string(tokenizer.EncodeByte(b)))
	}

	return &f
}

func (f *Fixture) add(value string) {
	if _, ok := f.index[value]; !ok {
		f.index[value] = len(f.Values)
		f.Values = append(f.Values, value)
	}
}

func (f *Fixture) merge(p tokenizer.Pair) {
	if !f.ranks[p] {
		f.ranks[p] = true
		f.Merges = append(f.Merges, p)
	}

	f.add(p.First + p.Second)
}

// Chain returns a fixture where every word is assembled left to right by
// its own chain of merges. Words are taken as raw text; a leading space
// becomes "Ġ" as usual.
func Chain(words ...string) *Fixture {
	f := newFixture()
	for _, word := range words {
		symbols := strings.Split(tokenizer.EncodeBytes(word), "")
		for i := 1; i < len(symbols); i++ {
			f.merge(tokenizer.Pair{First: strings.Join(symbols[:i], ""), Second: symbols[i]})
		}
	}

	return f
}

// Train learns up to n merges from corpus by repeatedly merging the most
// frequent adjacent pair. Ties go to the smallest pair.
func Train(corpus string, n int) *Fixture {
	f := newFixture()

	pre, err := tokenizer.NewPreTokenizer("")
	if err != nil {
		panic(err)
	}

	counts := make(map[string]int)
	for _, chunk := range tokenizer.Segment(pre, corpus) {
		counts[tokenizer.EncodeBytes(chunk)]++
	}

	type word struct {
		symbols []string
		count   int
	}

	var words []word
	for chunk, count := range counts {
		words = append(words, word{symbols: strings.Split(chunk, ""), count: count})
	}

	for range n {
		pairs := make(map[tokenizer.Pair]int)
		for _, w := range words {
			for i := range len(w.symbols) - 1 {
				pairs[tokenizer.Pair{First: w.symbols[i], Second: w.symbols[i+1]}] += w.count
			}
		}

		if len(pairs) == 0 {
			break
		}

		best := slices.MinFunc(slices.Collect(maps.Keys(pairs)), func(a, b tokenizer.Pair) int {
			return cmp.Or(
				cmp.Compare(pairs[b], pairs[a]),
				cmp.Compare(a.First, b.First),
				cmp.Compare(a.Second, b.Second),
			)
		})

		f.merge(best)
		for i := range words {
			words[i].symbols = join(words[i].symbols, best)
		}
	}

	return f
}

func join(symbols []string, p tokenizer.Pair) []string {
	joined := make([]string, 0, len(symbols))
	for i := 0; i < len(symbols); i++ {
		if i+1 < len(symbols) && symbols[i] == p.First && symbols[i+1] == p.Second {
			joined = append(joined, p.First+p.Second)
			i++
			continue
		}

		joined = append(joined, symbols[i])
	}

	return joined
}

func (f *Fixture) Vocabulary(t testing.TB) *tokenizer.Vocabulary {
	t.Helper()
	vocab, err := tokenizer.NewVocabulary(f.Values, f.Merges)
	if err != nil {
		t.Fatal(err)
	}

	return vocab
}

func (f *Fixture) Tokenizer(t testing.TB, opts tokenizer.Options) *tokenizer.Tokenizer {
	t.Helper()
	tok, err := tokenizer.New(f.Vocabulary(t), opts)
	if err != nil {
		t.Fatal(err)
	}

	return tok
}

// WriteFiles writes vocab.json and merges.txt into a temporary directory
// using the same layout as the published GPT-2 files.
func (f *Fixture) WriteFiles(t testing.TB) (vocabPath, mergesPath string) {
	t.Helper()

	dir := t.TempDir()
	vocabPath = filepath.Join(dir, "vocab.json")
	mergesPath = filepath.Join(dir, "merges.txt")

	table := make(map[string]int, len(f.Values))
	for i, value := range f.Values {
		table[value] = i
	}

	bts, err := json.Marshal(table)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(vocabPath, bts, 0o644); err != nil {
		t.Fatal(err)
	}

	var sb strings.Builder
	sb.WriteString("#version: 0.2\n")
	for _, merge := range f.Merges {
		sb.WriteString(merge.String())
		sb.WriteString("\n")
	}

	if err := os.WriteFile(mergesPath, []byte(sb.String()), 0o644); err != nil {
		t.Fatal(err)
	}

	return vocabPath, mergesPath
}
