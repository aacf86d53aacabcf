package tokenizer

import (
	"strings"
	"testing"
)

// every merge iteration must shrink the word so the loop ends after at
// most len(word)-1 iterations
func TestMergeIterationBound(t *testing.T) {
	cases := []struct {
		name   string
		word   string
		merges []Pair
		want   int
	}{
		{
			name:   "chain",
			word:   "abcdefgh",
			merges: chain("abcdefgh"),
			want:   7,
		},
		{
			name:   "doubling",
			word:   "aaaaaaaa",
			merges: []Pair{{"a", "a"}, {"aa", "aa"}, {"aaaa", "aaaa"}},
			want:   3,
		},
		{
			name: "nothing ranked",
			word: "abc",
			want: 0,
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			vocab, err := NewVocabulary(nil, tt.merges)
			if err != nil {
				t.Fatal(err)
			}

			e := Engine{vocab: vocab}
			word := strings.Split(tt.word, "")

			var iterations int
			for len(word) > 1 {
				best, ok := e.bestPair(word)
				if !ok {
					break
				}

				next := replacePair(word, best)
				if len(next) >= len(word) {
					t.Fatalf("merging %v did not shrink %v", best, word)
				}

				word = next
				iterations++
			}

			if iterations != tt.want {
				t.Errorf("iterations = %d, want %d", iterations, tt.want)
			}

			if iterations > len(tt.word)-1 {
				t.Errorf("iterations = %d exceeds %d", iterations, len(tt.word)-1)
			}

			if got := e.mergeNaive(strings.Split(tt.word, "")); strings.Join(got, "") != tt.word {
				t.Errorf("merge lost symbols: %v", got)
			}
		})
	}
}

func chain(s string) []Pair {
	var pairs []Pair
	for i := 1; i < len(s); i++ {
		pairs = append(pairs, Pair{s[:i], s[i : i+1]})
	}

	return pairs
}

func TestIndex(t *testing.T) {
	word := []string{"a", "b", "a", "c"}
	for _, tt := range []struct {
		s     string
		start int
		want  int
	}{
		{"a", 0, 0},
		{"a", 1, 2},
		{"c", 0, 3},
		{"a", 3, -1},
		{"z", 0, -1},
		{"a", 4, -1},
	} {
		if got := index(word, tt.s, tt.start); got != tt.want {
			t.Errorf("index(%q, %d) = %d, want %d", tt.s, tt.start, got, tt.want)
		}
	}
}
