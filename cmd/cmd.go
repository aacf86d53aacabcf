package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/ollama/gpt2tok/api"
	"github.com/ollama/gpt2tok/envconfig"
	"github.com/ollama/gpt2tok/logutil"
	"github.com/ollama/gpt2tok/server"
	"github.com/ollama/gpt2tok/tokenizer"
	"github.com/ollama/gpt2tok/version"
)

// loadTokenizer builds a tokenizer from --vocab and --merges, falling back
// to GPT2TOK_VOCAB and GPT2TOK_MERGES.
func loadTokenizer(cmd *cobra.Command) (*tokenizer.Tokenizer, error) {
	vocabPath, err := cmd.Flags().GetString("vocab")
	if err != nil {
		return nil, err
	}
	if vocabPath == "" {
		vocabPath = envconfig.Vocab
	}

	mergesPath, err := cmd.Flags().GetString("merges")
	if err != nil {
		return nil, err
	}
	if mergesPath == "" {
		mergesPath = envconfig.Merges
	}

	strategy, err := tokenizer.ParseMergeStrategy(envconfig.MergeStrategy)
	if err != nil {
		return nil, err
	}

	return tokenizer.Load(vocabPath, mergesPath, tokenizer.Options{
		Pattern:   envconfig.Pattern,
		Strategy:  strategy,
		CacheSize: envconfig.CacheSize,
		Specials:  tokenizer.DefaultSpecials,
	})
}

func RunServer(cmd *cobra.Command, _ []string) error {
	tok, err := loadTokenizer(cmd)
	if err != nil {
		return err
	}

	host, err := envconfig.Host()
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", host.Host)
	if err != nil {
		return err
	}

	return server.Serve(ln, tok)
}

func versionHandler(cmd *cobra.Command, _ []string) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return
	}

	serverVersion, err := client.Version(cmd.Context())
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Warning: could not connect to a running gpt2tok instance")
	}

	if serverVersion != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "gpt2tok version is %s\n", serverVersion)
	}

	if serverVersion != version.Version {
		fmt.Fprintf(cmd.OutOrStdout(), "Warning: client version is %s\n", version.Version)
	}
}

func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "gpt2tok",
		Short:         "GPT-2 byte-level BPE tokenizer",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			verbose, err := cmd.Flags().GetCount("verbose")
			if err != nil {
				return err
			}

			level := min(logutil.Verbosity(verbose), envconfig.LogLevel())
			slog.SetDefault(logutil.NewLogger(os.Stderr, level))
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
				versionHandler(cmd, args)
				return
			}

			cmd.Print(cmd.UsageString())
		},
	}

	rootCmd.Flags().BoolP("version", "V", false, "Show version information")
	rootCmd.PersistentFlags().String("vocab", "", "Path to vocab.json (default $GPT2TOK_VOCAB)")
	rootCmd.PersistentFlags().String("merges", "", "Path to merges.txt (default $GPT2TOK_MERGES)")
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase log verbosity (-vv for traces)")

	tokenizeCmd := &cobra.Command{
		Use:   "tokenize [text]",
		Short: "Split text into GPT-2 tokens",
		Long:  "Split text into GPT-2 tokens. Text is read from stdin when no argument is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  TokenizeHandler,
	}

	tokenizeCmd.Flags().Bool("ids", false, "Show token ids")
	tokenizeCmd.Flags().Bool("remote", false, "Tokenize on the server at $GPT2TOK_HOST")

	segmentCmd := &cobra.Command{
		Use:   "segment [text]",
		Short: "Show pre-tokenizer chunks",
		Args:  cobra.MaximumNArgs(1),
		RunE:  SegmentHandler,
	}

	decodeCmd := &cobra.Command{
		Use:   "decode ID [ID...]",
		Short: "Convert token ids back to text",
		Args:  cobra.MinimumNArgs(1),
		RunE:  DecodeHandler,
	}

	decodeCmd.Flags().Bool("remote", false, "Decode on the server at $GPT2TOK_HOST")

	encodeCmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode every line of a file to token ids",
		Args:  cobra.NoArgs,
		RunE:  EncodeHandler,
	}

	encodeCmd.Flags().StringP("file", "f", "", "Input file, one text per line (default stdin)")
	encodeCmd.Flags().IntP("parallel", "p", 0, "Number of parallel encoders (default $GPT2TOK_NUM_PARALLEL)")

	goldenCmd := &cobra.Command{
		Use:   "golden",
		Short: "Write golden tokenization fixtures",
		Args:  cobra.NoArgs,
		RunE:  GoldenHandler,
	}

	goldenCmd.Flags().String("cases", "", "YAML file listing the cases")
	goldenCmd.Flags().StringP("out", "o", "", "Output file (default stdout)")
	goldenCmd.Flags().String("format", "json", "Output format, json or cbor")
	goldenCmd.MarkFlagRequired("cases")

	serveCmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Start the tokenizer server",
		Args:    cobra.ExactArgs(0),
		RunE:    RunServer,
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Print a sample config.toml",
		Args:  cobra.NoArgs,
		RunE:  ConfigHandler,
	}

	configCmd.Flags().Bool("paths", false, "List the config file locations instead")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run:   versionHandler,
	}

	envVars := envconfig.AsMap()
	envs := []envconfig.EnvVar{envVars["GPT2TOK_HOST"], envVars["GPT2TOK_DEBUG"]}

	for _, cmd := range []*cobra.Command{
		tokenizeCmd,
		segmentCmd,
		decodeCmd,
		encodeCmd,
		goldenCmd,
		serveCmd,
	} {
		switch cmd {
		case serveCmd:
			appendEnvDocs(cmd, []envconfig.EnvVar{
				envVars["GPT2TOK_DEBUG"],
				envVars["GPT2TOK_HOST"],
				envVars["GPT2TOK_VOCAB"],
				envVars["GPT2TOK_MERGES"],
				envVars["GPT2TOK_PATTERN"],
				envVars["GPT2TOK_MERGE_STRATEGY"],
				envVars["GPT2TOK_CACHE_SIZE"],
				envVars["GPT2TOK_ORIGINS"],
			})
		case encodeCmd:
			appendEnvDocs(cmd, append(envs, envVars["GPT2TOK_NUM_PARALLEL"]))
		default:
			appendEnvDocs(cmd, envs)
		}
	}

	rootCmd.AddCommand(
		tokenizeCmd,
		segmentCmd,
		decodeCmd,
		encodeCmd,
		goldenCmd,
		serveCmd,
		configCmd,
		versionCmd,
	)

	return rootCmd
}

var errNoInput = errors.New("no input text")
