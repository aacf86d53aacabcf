package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ollama/gpt2tok/api"
	"github.com/ollama/gpt2tok/envconfig"
)

// readText returns the first argument or, without one, all of stdin.
func readText(cmd *cobra.Command, args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}

	bts, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", err
	}

	if len(bts) == 0 {
		return "", errNoInput
	}

	return string(bts), nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// printTokens writes a table when w is a terminal and one token per line,
// tab separated from its id, otherwise.
func printTokens(w io.Writer, tokens []string, ids []int32) {
	if !isTerminal(w) {
		for i, token := range tokens {
			if ids != nil {
				fmt.Fprintf(w, "%s\t%d\n", token, ids[i])
			} else {
				fmt.Fprintln(w, token)
			}
		}
		return
	}

	var data [][]string
	for i, token := range tokens {
		row := []string{strconv.Quote(token)}
		if ids != nil {
			row = append(row, strconv.Itoa(int(ids[i])))
		}

		data = append(data, row)
	}

	header := []string{"TOKEN"}
	if ids != nil {
		header = append(header, "ID")
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}

func TokenizeHandler(cmd *cobra.Command, args []string) error {
	text, err := readText(cmd, args)
	if err != nil {
		return err
	}

	showIDs, err := cmd.Flags().GetBool("ids")
	if err != nil {
		return err
	}

	remote, err := cmd.Flags().GetBool("remote")
	if err != nil {
		return err
	}

	var tokens []string
	var ids []int32
	if remote {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return err
		}

		resp, err := client.Tokenize(cmd.Context(), &api.TokenizeRequest{Text: text})
		if err != nil {
			return err
		}

		tokens, ids = resp.Tokens, resp.IDs
	} else {
		tok, err := loadTokenizer(cmd)
		if err != nil {
			return err
		}

		tokens = tok.Tokenize(text)
		if showIDs {
			if ids, err = tok.ConvertTokensToIDs(tokens); err != nil {
				return err
			}
		}
	}

	if !showIDs {
		ids = nil
	}

	printTokens(cmd.OutOrStdout(), tokens, ids)
	return nil
}

func SegmentHandler(cmd *cobra.Command, args []string) error {
	text, err := readText(cmd, args)
	if err != nil {
		return err
	}

	tok, err := loadTokenizer(cmd)
	if err != nil {
		return err
	}

	for _, chunk := range tok.Segment(text) {
		fmt.Fprintln(cmd.OutOrStdout(), strconv.Quote(chunk))
	}

	return nil
}

func parseIDs(args []string) ([]int32, error) {
	ids := make([]int32, 0, len(args))
	for _, arg := range args {
		for _, field := range strings.FieldsFunc(arg, func(r rune) bool { return r == ',' || r == ' ' }) {
			id, err := strconv.ParseInt(field, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("invalid id %q", field)
			}

			ids = append(ids, int32(id))
		}
	}

	return ids, nil
}

func DecodeHandler(cmd *cobra.Command, args []string) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}

	remote, err := cmd.Flags().GetBool("remote")
	if err != nil {
		return err
	}

	var text string
	if remote {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return err
		}

		resp, err := client.Detokenize(cmd.Context(), &api.DetokenizeRequest{IDs: ids})
		if err != nil {
			return err
		}

		text = resp.Text
	} else {
		tok, err := loadTokenizer(cmd)
		if err != nil {
			return err
		}

		if text, err = tok.Decode(ids); err != nil {
			return err
		}
	}

	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}

func EncodeHandler(cmd *cobra.Command, _ []string) error {
	path, err := cmd.Flags().GetString("file")
	if err != nil {
		return err
	}

	parallel, err := cmd.Flags().GetInt("parallel")
	if err != nil {
		return err
	}
	if parallel <= 0 {
		parallel = envconfig.NumParallel
	}

	r := cmd.InOrStdin()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()

		r = f
	}

	bts, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	content := strings.TrimSuffix(string(bts), "\n")
	if content == "" {
		return errNoInput
	}

	lines := strings.Split(content, "\n")
	for i := range lines {
		lines[i] = strings.TrimSuffix(lines[i], "\r")
	}

	tok, err := loadTokenizer(cmd)
	if err != nil {
		return err
	}

	batch, err := tok.EncodeBatch(cmd.Context(), lines, parallel)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	for _, ids := range batch {
		fields := make([]string, len(ids))
		for i, id := range ids {
			fields[i] = strconv.Itoa(int(id))
		}

		fmt.Fprintln(w, strings.Join(fields, " "))
	}

	return nil
}
