package tokenizer

import (
	"cmp"
	"fmt"
	"slices"
	"unicode/utf8"

	heap "github.com/emirpasic/gods/v2/trees/binaryheap"
	lru "github.com/hashicorp/golang-lru"
)

type MergeStrategy string

const (
	// StrategyNaive rescans every adjacent pair after each merge.
	StrategyNaive MergeStrategy = "naive"
	// StrategyHeap keeps candidate pairs in a priority queue ordered by
	// rank then position and only revisits pairs around each merge. The
	// output is identical to StrategyNaive.
	StrategyHeap MergeStrategy = "heap"
)

func ParseMergeStrategy(s string) (MergeStrategy, error) {
	switch strategy := MergeStrategy(s); strategy {
	case "":
		return StrategyNaive, nil
	case StrategyNaive, StrategyHeap:
		return strategy, nil
	default:
		return "", fmt.Errorf("unknown merge strategy %q", s)
	}
}

// Engine merges byte-mapped chunks into subword symbols.
type Engine struct {
	vocab *Vocabulary
	merge func([]string) []string

	// cache is keyed by byte-mapped chunk; nil when disabled
	cache *lru.Cache
}

func NewEngine(vocab *Vocabulary, strategy MergeStrategy, cacheSize int) (*Engine, error) {
	e := Engine{vocab: vocab}
	switch strategy {
	case StrategyNaive, "":
		e.merge = e.mergeNaive
	case StrategyHeap:
		e.merge = e.mergeHeap
	default:
		return nil, fmt.Errorf("unknown merge strategy %q", strategy)
	}

	if cacheSize > 0 {
		cache, err := lru.New(cacheSize)
		if err != nil {
			return nil, err
		}

		e.cache = cache
	}

	return &e, nil
}

// BPE splits chunk into one symbol per rune and applies merges until no
// ranked pair remains.
func (e *Engine) BPE(chunk string) []string {
	if e.cache != nil {
		if v, ok := e.cache.Get(chunk); ok {
			return slices.Clone(v.([]string))
		}
	}

	word := symbols(chunk)
	if len(word) > 1 {
		word = e.merge(word)
	}

	if e.cache != nil {
		e.cache.Add(chunk, slices.Clone(word))
	}

	return word
}

func symbols(chunk string) []string {
	word := make([]string, 0, len(chunk))
	for i := 0; i < len(chunk); {
		_, size := utf8.DecodeRuneInString(chunk[i:])
		word = append(word, chunk[i:i+size])
		i += size
	}

	return word
}

func (e *Engine) mergeNaive(word []string) []string {
	for len(word) > 1 {
		best, ok := e.bestPair(word)
		if !ok {
			break
		}

		word = replacePair(word, best)
	}

	return word
}

// bestPair returns the lowest ranked adjacent pair. Ties go to the
// leftmost pair.
func (e *Engine) bestPair(word []string) (Pair, bool) {
	var best Pair
	bestRank := -1
	for i := range len(word) - 1 {
		p := Pair{First: word[i], Second: word[i+1]}
		if rank, ok := e.vocab.RankOf(p); ok && (bestRank < 0 || rank < bestRank) {
			best, bestRank = p, rank
		}
	}

	return best, bestRank >= 0
}

// replacePair joins every non-overlapping occurrence of p, scanning left
// to right.
func replacePair(word []string, p Pair) []string {
	merged := make([]string, 0, len(word))
	for i := 0; i < len(word); {
		j := index(word, p.First, i)
		if j < 0 {
			merged = append(merged, word[i:]...)
			break
		}

		merged = append(merged, word[i:j]...)
		if j+1 < len(word) && word[j+1] == p.Second {
			merged = append(merged, p.First+p.Second)
			i = j + 2
		} else {
			merged = append(merged, word[j])
			i = j + 1
		}
	}

	return merged
}

// index returns the position of the first symbol equal to s at or after
// start, or -1.
func index(word []string, s string, start int) int {
	if j := slices.Index(word[start:], s); j >= 0 {
		return start + j
	}

	return -1
}

// candidate is a ranked pair of live symbols at positions a and b
type candidate struct {
	a, b        int
	rank        int
	left, right string
}

// node is a symbol in a doubly linked list over the word; merged away
// nodes have an empty value
type node struct {
	p, n  int
	value string
}

func (e *Engine) mergeHeap(word []string) []string {
	nodes := make([]node, len(word))
	for i := range word {
		nodes[i] = node{p: i - 1, n: i + 1, value: word[i]}
	}

	pairwise := func(a, b int) *candidate {
		if a < 0 || b >= len(nodes) {
			return nil
		}

		left, right := nodes[a].value, nodes[b].value
		rank, ok := e.vocab.RankOf(Pair{First: left, Second: right})
		if !ok {
			return nil
		}

		return &candidate{a: a, b: b, rank: rank, left: left, right: right}
	}

	pairs := heap.NewWith(func(i, j *candidate) int {
		return cmp.Or(cmp.Compare(i.rank, j.rank), cmp.Compare(i.a, j.a))
	})

	for i := range len(word) - 1 {
		if pair := pairwise(i, i+1); pair != nil {
			pairs.Push(pair)
		}
	}

	for !pairs.Empty() {
		// merge every occurrence of the lowest rank before queueing the
		// pairs those merges create, as one naive pass would
		top, _ := pairs.Peek()

		var merged []int
		for !pairs.Empty() {
			pair, _ := pairs.Peek()
			if pair.rank != top.rank {
				break
			}

			pairs.Pop()

			left, right := nodes[pair.a], nodes[pair.b]
			if left.n != pair.b || left.value != pair.left || right.value != pair.right {
				continue
			}

			nodes[pair.a].value = left.value + right.value
			nodes[pair.b].value = ""

			nodes[pair.a].n = right.n
			if right.n < len(nodes) {
				nodes[right.n].p = pair.a
			}

			merged = append(merged, pair.a)
		}

		for _, a := range merged {
			if nodes[a].value == "" {
				continue
			}

			if pair := pairwise(nodes[a].p, a); pair != nil {
				pairs.Push(pair)
			}

			if pair := pairwise(a, nodes[a].n); pair != nil {
				pairs.Push(pair)
			}
		}
	}

	merged := make([]string, 0, len(word))
	for _, node := range nodes {
		if node.value != "" {
			merged = append(merged, node.value)
		}
	}

	return merged
}
