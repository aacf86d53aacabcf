package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// Config is the optional config.toml. Environment variables take
// precedence over any value set here.
type Config struct {
	Server struct {
		Host    string   `toml:"host"`
		Origins []string `toml:"origins"`
	} `toml:"server"`

	Tokenizer struct {
		Vocab         string `toml:"vocab"`
		Merges        string `toml:"merges"`
		Pattern       string `toml:"pattern"`
		MergeStrategy string `toml:"merge_strategy"`
		CacheSize     int    `toml:"cache_size"`
		NumParallel   int    `toml:"num_parallel"`
	} `toml:"tokenizer"`

	Logging struct {
		Debug int `toml:"debug"`
	} `toml:"logging"`
}

var (
	configMu   sync.Mutex
	config     *Config
	configPath string
)

// ConfigPaths returns the config file locations for the current OS in the
// order they are tried.
func ConfigPaths() []string {
	var paths []string

	home, err := os.UserHomeDir()
	switch runtime.GOOS {
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			paths = append(paths, filepath.Join(appData, "gpt2tok", "config.toml"))
		}
		if err == nil {
			paths = append(paths, filepath.Join(home, ".gpt2tok", "config.toml"))
		}
	case "darwin":
		if err == nil {
			paths = append(paths,
				filepath.Join(home, "Library", "Application Support", "gpt2tok", "config.toml"),
				filepath.Join(home, ".config", "gpt2tok", "config.toml"),
				filepath.Join(home, ".gpt2tok", "config.toml"),
			)
		}
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			paths = append(paths, filepath.Join(xdgConfig, "gpt2tok", "config.toml"))
		}
		if err == nil {
			paths = append(paths,
				filepath.Join(home, ".config", "gpt2tok", "config.toml"),
				filepath.Join(home, ".gpt2tok", "config.toml"),
			)
		}
		paths = append(paths, "/etc/gpt2tok/config.toml")
	}

	return paths
}

// ReadConfigFile decodes the first config file that exists. It returns a
// nil Config when there is none.
func ReadConfigFile() (*Config, string, error) {
	for _, path := range ConfigPaths() {
		if _, err := os.Stat(path); err != nil {
			continue
		}

		var cfg Config
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, "", fmt.Errorf("error parsing config file %s: %w", path, err)
		}

		return &cfg, path, nil
	}

	return nil, "", nil
}

func loadConfigFile() {
	configMu.Lock()
	defer configMu.Unlock()

	var err error
	config, configPath, err = ReadConfigFile()
	if err != nil {
		slog.Warn("failed to load config file", "error", err)
	} else if config != nil {
		slog.Debug("loaded config file", "path", configPath)
	}
}

// ConfigValue returns the config file value standing in for the
// environment variable key, or "" when unset.
func ConfigValue(key string) string {
	configMu.Lock()
	defer configMu.Unlock()

	if config == nil {
		return ""
	}

	switch key {
	case "GPT2TOK_HOST":
		return config.Server.Host
	case "GPT2TOK_ORIGINS":
		return strings.Join(config.Server.Origins, ",")
	case "GPT2TOK_VOCAB":
		return config.Tokenizer.Vocab
	case "GPT2TOK_MERGES":
		return config.Tokenizer.Merges
	case "GPT2TOK_PATTERN":
		return config.Tokenizer.Pattern
	case "GPT2TOK_MERGE_STRATEGY":
		return config.Tokenizer.MergeStrategy
	case "GPT2TOK_CACHE_SIZE":
		if config.Tokenizer.CacheSize > 0 {
			return strconv.Itoa(config.Tokenizer.CacheSize)
		}
	case "GPT2TOK_NUM_PARALLEL":
		if config.Tokenizer.NumParallel > 0 {
			return strconv.Itoa(config.Tokenizer.NumParallel)
		}
	case "GPT2TOK_DEBUG":
		if config.Logging.Debug > 0 {
			return strconv.Itoa(config.Logging.Debug)
		}
	}

	return ""
}

// ExampleConfig returns a commented config.toml.
func ExampleConfig() string {
	return `# gpt2tok configuration
# Environment variables (GPT2TOK_*) override these values.

[server]
# Address the server listens on (default: "127.0.0.1:11435")
host = "127.0.0.1:11435"
# Extra allowed CORS origins
origins = ["http://localhost:3000"]

[tokenizer]
vocab = "/path/to/vocab.json"
merges = "/path/to/merges.txt"
# Regular expression replacing the built-in pre-tokenizer
# pattern = ""
# naive or heap (default: "naive")
merge_strategy = "naive"
# Merged chunks to cache, 0 disables (default: 0)
cache_size = 0
# Parallel encoders for batch requests (default: 1)
num_parallel = 1

[logging]
# 1 for debug, 2 for trace (default: 0)
debug = 0
`
}
