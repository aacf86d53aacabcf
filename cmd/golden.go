package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fxamacker/cbor/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ollama/gpt2tok/tokenizer"
)

// GoldenCase is one entry of the cases file.
type GoldenCase struct {
	Name string `yaml:"name"`
	Text string `yaml:"text"`
}

// Golden records how a case is tokenized.
type Golden struct {
	Name   string   `json:"name" cbor:"name"`
	Text   string   `json:"text" cbor:"text"`
	Chunks []string `json:"chunks" cbor:"chunks"`
	Tokens []string `json:"tokens" cbor:"tokens"`
	IDs    []int32  `json:"ids" cbor:"ids"`
}

type GoldenFile struct {
	Vocab  int      `json:"vocab" cbor:"vocab"`
	Merges int      `json:"merges" cbor:"merges"`
	Cases  []Golden `json:"cases" cbor:"cases"`
}

func readGoldenCases(path string) ([]GoldenCase, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cases []GoldenCase
	if err := yaml.NewDecoder(f).Decode(&cases); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	for i, c := range cases {
		if c.Name == "" {
			cases[i].Name = fmt.Sprintf("case-%d", i)
		}
	}

	return cases, nil
}

func buildGolden(tok *tokenizer.Tokenizer, cases []GoldenCase) (*GoldenFile, error) {
	out := GoldenFile{
		Vocab:  tok.Vocabulary().Len(),
		Merges: tok.Vocabulary().MergesLen(),
		Cases:  make([]Golden, 0, len(cases)),
	}

	for _, c := range cases {
		tokens := tok.Tokenize(c.Text)
		ids, err := tok.ConvertTokensToIDs(tokens)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", c.Name, err)
		}

		out.Cases = append(out.Cases, Golden{
			Name:   c.Name,
			Text:   c.Text,
			Chunks: tok.Segment(c.Text),
			Tokens: tokens,
			IDs:    ids,
		})
	}

	return &out, nil
}

func writeGolden(w io.Writer, format string, golden *GoldenFile) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(golden)
	case "cbor":
		return cbor.NewEncoder(w).Encode(golden)
	default:
		return fmt.Errorf("unknown format %q, want json or cbor", format)
	}
}

func writeGoldenFile(path, format string, golden *GoldenFile) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := writeGolden(f, format, golden); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}

	return nil
}

func GoldenHandler(cmd *cobra.Command, _ []string) error {
	casesPath, err := cmd.Flags().GetString("cases")
	if err != nil {
		return err
	}

	outPath, err := cmd.Flags().GetString("out")
	if err != nil {
		return err
	}

	format, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}

	if format != "json" && format != "cbor" {
		return fmt.Errorf("unknown format %q, want json or cbor", format)
	}

	cases, err := readGoldenCases(casesPath)
	if err != nil {
		return err
	}

	tok, err := loadTokenizer(cmd)
	if err != nil {
		return err
	}

	golden, err := buildGolden(tok, cases)
	if err != nil {
		return err
	}

	if outPath == "" {
		if err := writeGolden(cmd.OutOrStdout(), format, golden); err != nil {
			return err
		}
	} else if err := writeGoldenFile(outPath, format, golden); err != nil {
		return err
	}

	slog.Debug("wrote golden cases", "cases", len(golden.Cases), "format", format, "out", outPath)
	return nil
}
