package tokenizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ollama/gpt2tok/logutil"
)

//go:generate go run ./internal/fetchgpt2 -dir testdata/gpt2

var (
	ErrUnknownToken = errors.New("unknown token")
	ErrUnknownID    = errors.New("unknown id")
)

type Options struct {
	// Pattern replaces the built-in GPT-2 lexer with a regular expression.
	Pattern string

	Strategy MergeStrategy

	// CacheSize is the number of merged chunks to remember. Zero disables
	// caching.
	CacheSize int

	// Specials are matched verbatim before pre-tokenization. Entries
	// missing from the vocabulary are ignored.
	Specials []string
}

// Tokenizer turns text into GPT-2 style subword tokens. It is safe for
// concurrent use.
type Tokenizer struct {
	vocab    *Vocabulary
	pre      PreTokenizer
	engine   *Engine
	specials []string
}

func New(vocab *Vocabulary, opts Options) (*Tokenizer, error) {
	pre, err := NewPreTokenizer(opts.Pattern)
	if err != nil {
		return nil, fmt.Errorf("pre-tokenizer: %w", err)
	}

	engine, err := NewEngine(vocab, opts.Strategy, opts.CacheSize)
	if err != nil {
		return nil, err
	}

	var specials []string
	for _, special := range opts.Specials {
		if special == "" {
			continue
		}

		if _, ok := vocab.IDOf(special); !ok {
			slog.Warn("special token not in vocabulary", "token", special)
			continue
		}

		specials = append(specials, special)
	}

	return &Tokenizer{
		vocab:    vocab,
		pre:      pre,
		engine:   engine,
		specials: specials,
	}, nil
}

// Load reads the vocabulary and merge files and builds a Tokenizer.
func Load(vocabPath, mergesPath string, opts Options) (*Tokenizer, error) {
	vocab, err := LoadVocabulary(vocabPath, mergesPath)
	if err != nil {
		return nil, err
	}

	return New(vocab, opts)
}

func (t *Tokenizer) Vocabulary() *Vocabulary {
	return t.vocab
}

// Segment returns the pre-tokenizer chunks of text. Special tokens are
// returned as their own chunks.
func (t *Tokenizer) Segment(text string) []string {
	var chunks []string
	for _, frag := range splitSpecialTokens(text, t.specials) {
		if frag.special {
			chunks = append(chunks, frag.value)
			continue
		}

		chunks = append(chunks, Segment(t.pre, frag.value)...)
	}

	return chunks
}

// Tokenize returns the subword tokens of text in input order.
func (t *Tokenizer) Tokenize(text string) []string {
	var tokens []string
	for _, frag := range splitSpecialTokens(text, t.specials) {
		if frag.special {
			tokens = append(tokens, frag.value)
			continue
		}

		for chunk := range t.pre.Split(frag.value) {
			tokens = append(tokens, t.engine.BPE(EncodeBytes(chunk))...)
		}
	}

	return tokens
}

// Encode tokenizes text and maps every token to its id.
func (t *Tokenizer) Encode(text string) ([]int32, error) {
	tokens := t.Tokenize(text)
	ids, err := t.ConvertTokensToIDs(tokens)
	if err != nil {
		return nil, err
	}

	logutil.Trace("encoded", "text", text, "tokens", len(tokens), "ids", ids)
	return ids, nil
}

// EncodeBatch encodes texts with up to parallel workers. The result is
// ordered like texts.
func (t *Tokenizer) EncodeBatch(ctx context.Context, texts []string, parallel int) ([][]int32, error) {
	results := make([][]int32, len(texts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(parallel, 1))
	for i, text := range texts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			ids, err := t.Encode(text)
			if err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}

			results[i] = ids
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

func (t *Tokenizer) ConvertTokensToIDs(tokens []string) ([]int32, error) {
	ids := make([]int32, 0, len(tokens))
	for _, token := range tokens {
		id, ok := t.vocab.IDOf(token)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownToken, token)
		}

		ids = append(ids, id)
	}

	return ids, nil
}

func (t *Tokenizer) ConvertIDsToTokens(ids []int32) ([]string, error) {
	tokens := make([]string, 0, len(ids))
	for _, id := range ids {
		token, ok := t.vocab.TokenOf(id)
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnknownID, id)
		}

		tokens = append(tokens, token)
	}

	return tokens, nil
}

// Decode maps ids back to the text they were encoded from.
func (t *Tokenizer) Decode(ids []int32) (string, error) {
	tokens, err := t.ConvertIDsToTokens(ids)
	if err != nil {
		return "", err
	}

	return t.DecodeTokens(tokens)
}

// DecodeTokens joins tokens back into text. Special tokens are copied
// verbatim; any other token must be made of byte-mapped codepoints.
func (t *Tokenizer) DecodeTokens(tokens []string) (string, error) {
	var sb strings.Builder
	for _, token := range tokens {
		if slices.Contains(t.specials, token) {
			sb.WriteString(token)
			continue
		}

		bts, err := DecodeString(token)
		if err != nil {
			return "", fmt.Errorf("token %q: %w", token, err)
		}

		sb.Write(bts)
	}

	logutil.Trace("decoded", "text", sb.String(), "tokens", len(tokens))
	return sb.String(), nil
}
