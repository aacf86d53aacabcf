package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ollama/gpt2tok/envconfig"
	"github.com/ollama/gpt2tok/server"
	"github.com/ollama/gpt2tok/tokenizer"
	"github.com/ollama/gpt2tok/tokenizer/tokenizertest"
	"github.com/ollama/gpt2tok/version"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testVocab struct {
	vocab, merges string
	tok           *tokenizer.Tokenizer
}

func newTestVocab(t *testing.T) testVocab {
	t.Helper()
	fixture := tokenizertest.Chain(" hello", " world")
	vocabPath, mergesPath := fixture.WriteFiles(t)

	tok, err := tokenizer.Load(vocabPath, mergesPath, tokenizer.Options{})
	require.NoError(t, err)

	return testVocab{vocab: vocabPath, merges: mergesPath, tok: tok}
}

func (v testVocab) id(t *testing.T, token string) int32 {
	t.Helper()
	id, ok := v.tok.Vocabulary().IDOf(token)
	require.True(t, ok, token)
	return id
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	cli := NewCLI()
	cli.SetArgs(args)
	cli.SetIn(strings.NewReader(stdin))
	cli.SetOut(&out)
	cli.SetErr(&out)

	err := cli.Execute()
	return out.String(), err
}

func TestTokenizeCommand(t *testing.T) {
	v := newTestVocab(t)
	flags := []string{"--vocab", v.vocab, "--merges", v.merges}

	t.Run("argument", func(t *testing.T) {
		out, err := run(t, "", append(flags, "tokenize", " hello world")...)
		require.NoError(t, err)
		assert.Equal(t, "Ġhello\nĠworld\n", out)
	})

	t.Run("ids", func(t *testing.T) {
		out, err := run(t, "", append(flags, "tokenize", "--ids", " hello world")...)
		require.NoError(t, err)

		want := fmt.Sprintf("Ġhello\t%d\nĠworld\t%d\n", v.id(t, "Ġhello"), v.id(t, "Ġworld"))
		if diff := cmp.Diff(want, out); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("stdin", func(t *testing.T) {
		out, err := run(t, " world", append(flags, "tokenize")...)
		require.NoError(t, err)
		assert.Equal(t, "Ġworld\n", out)
	})

	t.Run("empty stdin", func(t *testing.T) {
		_, err := run(t, "", append(flags, "tokenize")...)
		require.ErrorIs(t, err, errNoInput)
	})

	t.Run("missing vocabulary", func(t *testing.T) {
		_, err := run(t, "", "--vocab", filepath.Join(t.TempDir(), "vocab.json"), "--merges", v.merges, "tokenize", "hi")
		require.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestSegmentCommand(t *testing.T) {
	v := newTestVocab(t)

	out, err := run(t, "", "--vocab", v.vocab, "--merges", v.merges, "segment", "hello  world's")
	require.NoError(t, err)
	assert.Equal(t, "\"hello\"\n\" \"\n\" world\"\n\"'s\"\n", out)
}

func TestDecodeCommand(t *testing.T) {
	v := newTestVocab(t)
	flags := []string{"--vocab", v.vocab, "--merges", v.merges, "decode"}

	hello, world := v.id(t, "Ġhello"), v.id(t, "Ġworld")

	out, err := run(t, "", append(flags, fmt.Sprint(hello), fmt.Sprint(world))...)
	require.NoError(t, err)
	assert.Equal(t, " hello world\n", out)

	out, err = run(t, "", append(flags, fmt.Sprintf("%d,%d", world, hello))...)
	require.NoError(t, err)
	assert.Equal(t, " world hello\n", out)

	_, err = run(t, "", append(flags, "abc")...)
	require.ErrorContains(t, err, `invalid id "abc"`)

	_, err = run(t, "", append(flags, "99999")...)
	require.ErrorIs(t, err, tokenizer.ErrUnknownID)
}

func TestEncodeCommand(t *testing.T) {
	v := newTestVocab(t)

	input := filepath.Join(t.TempDir(), "input.txt")
	require.NoError(t, os.WriteFile(input, []byte(" hello world\r\n world\n\n hello\n"), 0o644))

	hello, world := v.id(t, "Ġhello"), v.id(t, "Ġworld")
	want := fmt.Sprintf("%d %d\n%d\n\n%d\n", hello, world, world, hello)

	for _, parallel := range []string{"1", "3"} {
		out, err := run(t, "", "--vocab", v.vocab, "--merges", v.merges, "encode", "--file", input, "--parallel", parallel)
		require.NoError(t, err)
		if diff := cmp.Diff(want, out); diff != "" {
			t.Errorf("parallel %s: mismatch (-want +got):\n%s", parallel, diff)
		}
	}

	out, err := run(t, " world\n", "--vocab", v.vocab, "--merges", v.merges, "encode")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%d\n", world), out)
}

const goldenCases = `
- name: greeting
  text: " hello world"
- text: " world!"
`

func TestGoldenCommand(t *testing.T) {
	v := newTestVocab(t)
	dir := t.TempDir()

	casesPath := filepath.Join(dir, "cases.yaml")
	require.NoError(t, os.WriteFile(casesPath, []byte(goldenCases), 0o644))

	bang := v.id(t, "!")
	want := GoldenFile{
		Vocab:  v.tok.Vocabulary().Len(),
		Merges: v.tok.Vocabulary().MergesLen(),
		Cases: []Golden{
			{
				Name:   "greeting",
				Text:   " hello world",
				Chunks: []string{" hello", " world"},
				Tokens: []string{"Ġhello", "Ġworld"},
				IDs:    []int32{v.id(t, "Ġhello"), v.id(t, "Ġworld")},
			},
			{
				Name:   "case-1",
				Text:   " world!",
				Chunks: []string{" world", "!"},
				Tokens: []string{"Ġworld", "!"},
				IDs:    []int32{v.id(t, "Ġworld"), bang},
			},
		},
	}

	t.Run("json", func(t *testing.T) {
		out, err := run(t, "", "--vocab", v.vocab, "--merges", v.merges, "golden", "--cases", casesPath)
		require.NoError(t, err)

		var got GoldenFile
		require.NoError(t, json.Unmarshal([]byte(out), &got))
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("cbor", func(t *testing.T) {
		outPath := filepath.Join(dir, "golden.cbor")
		_, err := run(t, "", "--vocab", v.vocab, "--merges", v.merges, "golden", "--cases", casesPath, "--format", "cbor", "--out", outPath)
		require.NoError(t, err)

		bts, err := os.ReadFile(outPath)
		require.NoError(t, err)

		var got GoldenFile
		require.NoError(t, cbor.Unmarshal(bts, &got))
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		_, err := run(t, "", "--vocab", v.vocab, "--merges", v.merges, "golden", "--cases", casesPath, "--format", "xml")
		require.ErrorContains(t, err, "unknown format")
	})

	t.Run("missing cases", func(t *testing.T) {
		_, err := run(t, "", "--vocab", v.vocab, "--merges", v.merges, "golden")
		require.Error(t, err)
	})
}

func TestRemoteCommands(t *testing.T) {
	v := newTestVocab(t)

	ts := httptest.NewServer(server.New(v.tok).GenerateRoutes())
	t.Cleanup(ts.Close)
	t.Setenv("GPT2TOK_HOST", ts.URL)

	hello, world := v.id(t, "Ġhello"), v.id(t, "Ġworld")

	// no local files are needed
	out, err := run(t, "", "--vocab", "missing.json", "tokenize", "--remote", "--ids", " hello world")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("Ġhello\t%d\nĠworld\t%d\n", hello, world), out)

	out, err = run(t, "", "--vocab", "missing.json", "decode", "--remote", fmt.Sprint(hello), fmt.Sprint(world))
	require.NoError(t, err)
	assert.Equal(t, " hello world\n", out)

	_, err = run(t, "", "decode", "--remote", "99999")
	require.ErrorContains(t, err, "unknown id")

	out, err = run(t, "", "version")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("gpt2tok version is %s\n", version.Version), out)
}

func TestVersionWithoutServer(t *testing.T) {
	ts := httptest.NewServer(nil)
	t.Setenv("GPT2TOK_HOST", ts.URL)
	ts.Close()

	out, err := run(t, "", "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "Warning: could not connect to a running gpt2tok instance")
	assert.Contains(t, out, "Warning: client version is "+version.Version)
}

func TestConfigCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("config paths depend on APPDATA")
	}

	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")

	out, err := run(t, "", "config")
	require.NoError(t, err)
	assert.Equal(t, envconfig.ExampleConfig(), out)

	out, err = run(t, "", "config", "--paths")
	require.NoError(t, err)
	assert.NotContains(t, out, "(loaded)")

	path := filepath.Join(home, ".gpt2tok", "config.toml")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(envconfig.ExampleConfig()), 0o644))

	out, err = run(t, "", "config", "--paths")
	require.NoError(t, err)
	assert.Contains(t, strings.Split(out, "\n"), path+" (loaded)")
}

func TestLoadDotEnv(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	require.NoError(t, LoadDotEnv())

	t.Cleanup(envconfig.LoadConfig)
	t.Setenv("GPT2TOK_CACHE_SIZE", "")
	require.NoError(t, os.Unsetenv("GPT2TOK_CACHE_SIZE"))

	require.NoError(t, os.MkdirAll(filepath.Join(home, ".gpt2tok"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(home, ".gpt2tok", ".env"), []byte("GPT2TOK_CACHE_SIZE=32\n"), 0o644))

	require.NoError(t, LoadDotEnv())
	assert.Equal(t, "32", os.Getenv("GPT2TOK_CACHE_SIZE"))
	assert.Equal(t, 32, envconfig.CacheSize)
}
