package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/ollama/gpt2tok/envconfig"
)

// LoadDotEnv loads environment variables from ~/.gpt2tok/.env and reloads
// the configuration. Variables already set in the environment are kept.
// A missing file is not an error.
func LoadDotEnv() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get user home directory: %w", err)
	}

	envPath := filepath.Join(home, ".gpt2tok", ".env")

	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to check if .env file exists: %w", err)
	}

	if err := godotenv.Load(envPath); err != nil {
		return fmt.Errorf("could not load %s: %w", envPath, err)
	}

	envconfig.LoadConfig()
	return nil
}
