// fetchgpt2 downloads the published GPT-2 vocabulary and merge table and
// checks that they load.
//
//	go run ./tokenizer/internal/fetchgpt2 -dir tokenizer/testdata/gpt2
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/ollama/gpt2tok/logutil"
	"github.com/ollama/gpt2tok/tokenizer"
)

const baseURL = "https://huggingface.co/openai-community/gpt2/resolve/main/"

var files = []string{"vocab.json", "merges.txt"}

func main() {
	dir := flag.String("dir", filepath.Join("testdata", "gpt2"), "destination directory")
	base := flag.String("url", baseURL, "base URL of the model files")
	force := flag.Bool("force", false, "download even when the files exist")
	flag.Parse()

	slog.SetDefault(logutil.NewLogger(os.Stderr, slog.LevelInfo))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, *base, *dir, *force); err != nil {
		slog.Error("fetch gpt2", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, base, dir string, force bool) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	client := &http.Client{Timeout: 5 * time.Minute}
	for _, name := range files {
		dest := filepath.Join(dir, name)
		if _, err := os.Stat(dest); err == nil && !force {
			slog.Info("exists", "file", dest)
			continue
		}

		if err := download(ctx, client, base+name, dest); err != nil {
			return err
		}
	}

	vocab, err := tokenizer.LoadVocabulary(filepath.Join(dir, "vocab.json"), filepath.Join(dir, "merges.txt"))
	if err != nil {
		return err
	}

	slog.Info("loaded", "dir", dir, "tokens", vocab.Len(), "merges", vocab.MergesLen())
	return nil
}

// download writes url to dest through a temporary file so an interrupted
// transfer never leaves a partial file behind.
func download(ctx context.Context, client *http.Client, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}

	f, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(f.Name())

	n, err := io.Copy(f, resp.Body)
	if err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", dest, err)
	}

	if err := f.Close(); err != nil {
		return err
	}

	if n == 0 {
		return fmt.Errorf("GET %s: empty body", url)
	}

	slog.Info("downloaded", "file", dest, "bytes", n)
	return os.Rename(f.Name(), dest)
}
