package envconfig

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ollama/gpt2tok/logutil"
)

var ErrInvalidHostPort = errors.New("invalid port specified in GPT2TOK_HOST")

const defaultPort = "11435"

var (
	// Set via GPT2TOK_ORIGINS in the environment
	AllowOrigins []string
	// Set via GPT2TOK_DEBUG in the environment
	Debug slog.Level
	// Set via GPT2TOK_VOCAB in the environment
	Vocab string
	// Set via GPT2TOK_MERGES in the environment
	Merges string
	// Set via GPT2TOK_PATTERN in the environment
	Pattern string
	// Set via GPT2TOK_MERGE_STRATEGY in the environment
	MergeStrategy string
	// Set via GPT2TOK_CACHE_SIZE in the environment
	CacheSize int
	// Set via GPT2TOK_NUM_PARALLEL in the environment
	NumParallel int
)

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"GPT2TOK_DEBUG":          {"GPT2TOK_DEBUG", Debug, "Show additional debug information (e.g. GPT2TOK_DEBUG=1, GPT2TOK_DEBUG=2 for traces)"},
		"GPT2TOK_HOST":           {"GPT2TOK_HOST", "", "IP Address for the gpt2tok server (default 127.0.0.1:" + defaultPort + ")"},
		"GPT2TOK_VOCAB":          {"GPT2TOK_VOCAB", Vocab, "Path to vocab.json"},
		"GPT2TOK_MERGES":         {"GPT2TOK_MERGES", Merges, "Path to merges.txt"},
		"GPT2TOK_PATTERN":        {"GPT2TOK_PATTERN", Pattern, "Regular expression replacing the built-in pre-tokenizer"},
		"GPT2TOK_MERGE_STRATEGY": {"GPT2TOK_MERGE_STRATEGY", MergeStrategy, "Merge strategy, naive or heap (default naive)"},
		"GPT2TOK_CACHE_SIZE":     {"GPT2TOK_CACHE_SIZE", CacheSize, "Number of merged chunks to cache (default 0)"},
		"GPT2TOK_NUM_PARALLEL":   {"GPT2TOK_NUM_PARALLEL", NumParallel, "Maximum number of parallel encoders (default 1)"},
		"GPT2TOK_ORIGINS":        {"GPT2TOK_ORIGINS", AllowOrigins, "A comma separated list of allowed origins"},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

var defaultAllowOrigins = []string{
	"localhost",
	"127.0.0.1",
	"0.0.0.0",
}

// Clean quotes and spaces from the value. Unset variables fall back to the
// config file.
func clean(key string) string {
	if v := strings.Trim(os.Getenv(key), "\"' "); v != "" {
		return v
	}

	return ConfigValue(key)
}

func init() {
	LoadConfig()
}

func LoadConfig() {
	loadConfigFile()

	Debug = slog.LevelInfo
	if debug := clean("GPT2TOK_DEBUG"); debug != "" {
		if b, err := strconv.ParseBool(debug); err == nil {
			if b {
				Debug = slog.LevelDebug
			}
		} else if n, err := strconv.Atoi(debug); err == nil {
			Debug = logutil.Verbosity(n)
		} else {
			Debug = slog.LevelDebug
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		slog.Error("failed to lookup home directory", "error", err)
	}

	Vocab = clean("GPT2TOK_VOCAB")
	if Vocab == "" {
		Vocab = filepath.Join(home, ".gpt2tok", "gpt2", "vocab.json")
	}

	Merges = clean("GPT2TOK_MERGES")
	if Merges == "" {
		Merges = filepath.Join(home, ".gpt2tok", "gpt2", "merges.txt")
	}

	// patterns may start or end with a quote or a space
	Pattern = os.Getenv("GPT2TOK_PATTERN")
	if Pattern == "" {
		Pattern = ConfigValue("GPT2TOK_PATTERN")
	}

	MergeStrategy = clean("GPT2TOK_MERGE_STRATEGY")

	CacheSize = 0
	if size := clean("GPT2TOK_CACHE_SIZE"); size != "" {
		val, err := strconv.Atoi(size)
		if err != nil || val < 0 {
			slog.Error("invalid setting, ignoring", "GPT2TOK_CACHE_SIZE", size, "error", err)
		} else {
			CacheSize = val
		}
	}

	NumParallel = 1
	if onp := clean("GPT2TOK_NUM_PARALLEL"); onp != "" {
		val, err := strconv.Atoi(onp)
		if err != nil || val <= 0 {
			slog.Error("invalid setting must be greater than zero", "GPT2TOK_NUM_PARALLEL", onp, "error", err)
		} else {
			NumParallel = val
		}
	}

	AllowOrigins = nil
	if origins := clean("GPT2TOK_ORIGINS"); origins != "" {
		for _, origin := range strings.Split(origins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				AllowOrigins = append(AllowOrigins, origin)
			}
		}
	}
	for _, allowOrigin := range defaultAllowOrigins {
		AllowOrigins = append(AllowOrigins,
			fmt.Sprintf("http://%s", allowOrigin),
			fmt.Sprintf("https://%s", allowOrigin),
			fmt.Sprintf("http://%s:*", allowOrigin),
			fmt.Sprintf("https://%s:*", allowOrigin),
		)
	}
}

// LogLevel reports the level selected by GPT2TOK_DEBUG.
func LogLevel() slog.Level {
	return Debug
}

// AllowedOrigins returns the configured origins followed by the localhost
// defaults.
func AllowedOrigins() []string {
	return AllowOrigins
}

// Host returns the address of the gpt2tok server as set by GPT2TOK_HOST.
// The host defaults to 127.0.0.1 and the port to 11435, or 80 and 443 when
// an http or https scheme is given.
func Host() (*url.URL, error) {
	port := defaultPort
	hostVar := strings.TrimSpace(strings.Trim(strings.TrimSpace(os.Getenv("GPT2TOK_HOST")), "\"'"))
	if hostVar == "" {
		hostVar = ConfigValue("GPT2TOK_HOST")
	}

	scheme, hostport, ok := strings.Cut(hostVar, "://")
	switch {
	case !ok:
		scheme, hostport = "http", hostVar
	case scheme == "http":
		port = "80"
	case scheme == "https":
		port = "443"
	}

	hostport = strings.TrimRight(hostport, "/")

	host, p, err := net.SplitHostPort(hostport)
	if err != nil {
		host = "127.0.0.1"
		if ip := net.ParseIP(strings.Trim(hostport, "[]")); ip != nil {
			host = ip.String()
		} else if hostport != "" {
			host = hostport
		}
	} else {
		port = p
	}

	if n, err := strconv.ParseInt(port, 10, 32); err != nil || n > 65535 || n < 0 {
		return nil, ErrInvalidHostPort
	}

	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, port),
	}, nil
}
