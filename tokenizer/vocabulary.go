package tokenizer

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrMalformedVocab  = errors.New("malformed vocabulary")
	ErrMalformedMerges = errors.New("malformed merges")
)

// Pair is two adjacent symbols eligible for merging.
type Pair struct {
	First, Second string
}

func (p Pair) String() string {
	return p.First + " " + p.Second
}

// Vocabulary holds the token table and the ranked merge table. It is
// immutable once built.
type Vocabulary struct {
	values []string
	ids    map[string]int32

	merges int
	ranks  map[Pair]int
}

// NewVocabulary builds a vocabulary where values[i] has id i and merges[i]
// has rank i. When a pair is listed more than once the lowest rank is kept.
func NewVocabulary(values []string, merges []Pair) (*Vocabulary, error) {
	v := Vocabulary{
		values: slices.Clone(values),
		ids:    make(map[string]int32, len(values)),
		merges: len(merges),
		ranks:  make(map[Pair]int, len(merges)),
	}

	for i, value := range values {
		if id, ok := v.ids[value]; ok {
			return nil, errors.Wrapf(ErrMalformedVocab, "token %q has ids %d and %d", value, id, i)
		}

		v.ids[value] = int32(i)
	}

	for i, merge := range merges {
		if _, ok := v.ranks[merge]; !ok {
			v.ranks[merge] = i
		}
	}

	return &v, nil
}

// ReadVocabulary parses a JSON token->id object from vocab and
// whitespace separated pairs from merges. The first and last line of
// merges are always ignored.
func ReadVocabulary(vocab, merges io.Reader) (*Vocabulary, error) {
	values, err := parseValues(vocab)
	if err != nil {
		return nil, err
	}

	pairs, err := parseMerges(merges)
	if err != nil {
		return nil, err
	}

	return NewVocabulary(values, pairs)
}

// LoadVocabulary reads vocab.json and merges.txt style files.
func LoadVocabulary(vocabPath, mergesPath string) (*Vocabulary, error) {
	vf, err := os.Open(vocabPath)
	if err != nil {
		return nil, errors.Wrapf(err, "open vocabulary %s", vocabPath)
	}
	defer vf.Close()

	values, err := parseValues(vf)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", vocabPath)
	}

	mf, err := os.Open(mergesPath)
	if err != nil {
		return nil, errors.Wrapf(err, "open merges %s", mergesPath)
	}
	defer mf.Close()

	pairs, err := parseMerges(mf)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", mergesPath)
	}

	v, err := NewVocabulary(values, pairs)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", vocabPath)
	}

	slog.Debug("loaded vocabulary", "vocab", vocabPath, "merges", mergesPath, "tokens", v.Len(), "ranks", v.MergesLen())
	return v, nil
}

func parseValues(r io.Reader) ([]string, error) {
	var table map[string]int
	if err := json.NewDecoder(r).Decode(&table); err != nil {
		return nil, errors.Wrapf(ErrMalformedVocab, "%v", err)
	}

	values := make([]string, len(table))
	seen := make([]bool, len(table))
	for token, id := range table {
		switch {
		case id < 0 || id >= len(table):
			return nil, errors.Wrapf(ErrMalformedVocab, "token %q has id %d outside [0, %d)", token, id, len(table))
		case seen[id]:
			return nil, errors.Wrapf(ErrMalformedVocab, "id %d is shared by %q and %q", id, values[id], token)
		}

		values[id] = token
		seen[id] = true
	}

	return values, nil
}

func parseMerges(r io.Reader) ([]Pair, error) {
	bts, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(ErrMalformedMerges, "%v", err)
	}

	lines := strings.Split(string(bts), "\n")
	if len(lines) < 2 {
		return nil, nil
	}

	// the first line is a version header and the last is the empty string
	// after the trailing newline
	lines = lines[1 : len(lines)-1]

	pairs := make([]Pair, 0, len(lines))
	for i, line := range lines {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, errors.Wrapf(ErrMalformedMerges, "line %d: %q", i+2, line)
		}

		pairs = append(pairs, Pair{First: fields[0], Second: fields[1]})
	}

	return pairs, nil
}

// Len is the number of tokens.
func (v *Vocabulary) Len() int {
	return len(v.values)
}

// MergesLen is the number of merge rules, duplicates included.
func (v *Vocabulary) MergesLen() int {
	return v.merges
}

func (v *Vocabulary) IDOf(token string) (int32, bool) {
	id, ok := v.ids[token]
	return id, ok
}

func (v *Vocabulary) TokenOf(id int32) (string, bool) {
	if id < 0 || int(id) >= len(v.values) {
		return "", false
	}

	return v.values[id], true
}

// RankOf returns the merge priority of p. ok is false for pairs that are
// never merged.
func (v *Vocabulary) RankOf(p Pair) (rank int, ok bool) {
	rank, ok = v.ranks[p]
	return rank, ok
}
