package tokenizer_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollama/gpt2tok/tokenizer"
	"github.com/ollama/gpt2tok/tokenizer/tokenizertest"
)

func TestLoadVocabulary(t *testing.T) {
	fixture := tokenizertest.Chain(" the", "er")
	vocabPath, mergesPath := fixture.WriteFiles(t)

	vocab, err := tokenizer.LoadVocabulary(vocabPath, mergesPath)
	require.NoError(t, err)

	assert.Equal(t, len(fixture.Values), vocab.Len())
	assert.Equal(t, len(fixture.Merges), vocab.MergesLen())

	for id, value := range fixture.Values {
		got, ok := vocab.IDOf(value)
		require.True(t, ok, value)
		assert.Equal(t, int32(id), got)

		token, ok := vocab.TokenOf(int32(id))
		require.True(t, ok)
		assert.Equal(t, value, token)
	}

	for rank, merge := range fixture.Merges {
		got, ok := vocab.RankOf(merge)
		require.True(t, ok, merge.String())
		assert.Equal(t, rank, got)
	}

	_, ok := vocab.RankOf(tokenizer.Pair{First: "e", Second: "t"})
	assert.False(t, ok)

	_, ok = vocab.IDOf("missing")
	assert.False(t, ok)

	_, ok = vocab.TokenOf(-1)
	assert.False(t, ok)

	_, ok = vocab.TokenOf(int32(vocab.Len()))
	assert.False(t, ok)
}

func TestReadVocabularyMergeLines(t *testing.T) {
	const vocab = `{"a": 0, "b": 1, "c": 2, "ab": 3, "abc": 4}`

	cases := []struct {
		name   string
		merges string
		want   []tokenizer.Pair
	}{
		{
			name:   "header and trailing newline",
			merges: "#version: 0.2\na b\nab c\n",
			want:   []tokenizer.Pair{{First: "a", Second: "b"}, {First: "ab", Second: "c"}},
		},
		{
			name:   "last line dropped without trailing newline",
			merges: "#version: 0.2\na b\nab c",
			want:   []tokenizer.Pair{{First: "a", Second: "b"}},
		},
		{
			name:   "header only",
			merges: "#version: 0.2\n",
		},
		{
			name:   "empty",
			merges: "",
		},
		{
			name:   "extra whitespace",
			merges: "#version: 0.2\n  a \t b\r\n",
			want:   []tokenizer.Pair{{First: "a", Second: "b"}},
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			v, err := tokenizer.ReadVocabulary(strings.NewReader(vocab), strings.NewReader(tt.merges))
			require.NoError(t, err)
			assert.Equal(t, len(tt.want), v.MergesLen())
			for rank, pair := range tt.want {
				got, ok := v.RankOf(pair)
				require.True(t, ok, pair.String())
				assert.Equal(t, rank, got)
			}
		})
	}
}

func TestReadVocabularyMalformed(t *testing.T) {
	cases := []struct {
		name   string
		vocab  string
		merges string
		err    error
	}{
		{"not json", `not json`, "", tokenizer.ErrMalformedVocab},
		{"array", `["a", "b"]`, "", tokenizer.ErrMalformedVocab},
		{"string id", `{"a": "0"}`, "", tokenizer.ErrMalformedVocab},
		{"fractional id", `{"a": 0.5}`, "", tokenizer.ErrMalformedVocab},
		{"negative id", `{"a": -1}`, "", tokenizer.ErrMalformedVocab},
		{"sparse ids", `{"a": 0, "b": 2}`, "", tokenizer.ErrMalformedVocab},
		{"shared id", `{"a": 0, "b": 0}`, "", tokenizer.ErrMalformedVocab},
		{"single field", `{"a": 0}`, "#version: 0.2\na\n", tokenizer.ErrMalformedMerges},
		{"three fields", `{"a": 0}`, "#version: 0.2\na b c\n", tokenizer.ErrMalformedMerges},
		{"blank interior line", `{"a": 0}`, "#version: 0.2\na b\n\na b\n", tokenizer.ErrMalformedMerges},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tokenizer.ReadVocabulary(strings.NewReader(tt.vocab), strings.NewReader(tt.merges))
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected %v, got %v", tt.err, err)
			}
		})
	}
}

func TestLoadVocabularyReportsPath(t *testing.T) {
	dir := t.TempDir()
	vocabPath := filepath.Join(dir, "vocab.json")
	mergesPath := filepath.Join(dir, "merges.txt")

	require.NoError(t, os.WriteFile(vocabPath, []byte(`{"a": 1}`), 0o644))
	require.NoError(t, os.WriteFile(mergesPath, []byte("#version: 0.2\n"), 0o644))

	_, err := tokenizer.LoadVocabulary(vocabPath, mergesPath)
	require.ErrorIs(t, err, tokenizer.ErrMalformedVocab)
	assert.Contains(t, err.Error(), vocabPath)

	require.NoError(t, os.WriteFile(vocabPath, []byte(`{"a": 0}`), 0o644))
	require.NoError(t, os.WriteFile(mergesPath, []byte("#version: 0.2\nbad\n"), 0o644))

	_, err = tokenizer.LoadVocabulary(vocabPath, mergesPath)
	require.ErrorIs(t, err, tokenizer.ErrMalformedMerges)
	assert.Contains(t, err.Error(), mergesPath)

	_, err = tokenizer.LoadVocabulary(filepath.Join(dir, "missing.json"), mergesPath)
	require.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "missing.json")
}

func TestNewVocabularyDuplicateToken(t *testing.T) {
	_, err := tokenizer.NewVocabulary([]string{"a", "b", "a"}, nil)
	require.ErrorIs(t, err, tokenizer.ErrMalformedVocab)
}

func TestNewVocabularyCopiesValues(t *testing.T) {
	values := []string{"a", "b", "ab"}
	vocab, err := tokenizer.NewVocabulary(values, nil)
	require.NoError(t, err)

	values[0] = "z"

	token, ok := vocab.TokenOf(0)
	require.True(t, ok)
	assert.Equal(t, "a", token)

	id, ok := vocab.IDOf("a")
	require.True(t, ok)
	assert.Equal(t, int32(0), id)
}

func TestNewVocabularyDuplicateMergeKeepsFirstRank(t *testing.T) {
	ab := tokenizer.Pair{First: "a", Second: "b"}
	vocab, err := tokenizer.NewVocabulary([]string{"a", "b", "ab"}, []tokenizer.Pair{ab, ab})
	require.NoError(t, err)

	rank, ok := vocab.RankOf(ab)
	require.True(t, ok)
	assert.Equal(t, 0, rank)
	assert.Equal(t, 2, vocab.MergesLen())
}
