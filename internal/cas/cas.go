package cas

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/traitdex/traitdex/internal/config"
)

// Dir returns the snippet store directory path.
func Dir() string {
	return config.SnippetDir()
}

// path returns the sharded file path for a hash: snippets/<first2>/<rest>.html.zst
func path(hash string) string {
	return filepath.Join(Dir(), hash[:2], hash[2:]+".html.zst")
}

// Write stores a rendered snippet, returning its SHA-256 hash.
// If the snippet already exists, this is a no-op.
func Write(snippet string) (string, error) {
	hash := fmt.Sprintf("%x", sha256.Sum256([]byte(snippet)))

	p := path(hash)
	if _, err := os.Stat(p); err == nil {
		return hash, nil
	}

	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return "", fmt.Errorf("creating snippet directory: %w", err)
	}

	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		return "", fmt.Errorf("creating zstd writer: %w", err)
	}
	if _, err := w.Write([]byte(snippet)); err != nil {
		w.Close()
		return "", fmt.Errorf("compressing snippet: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("closing zstd writer: %w", err)
	}

	if err := os.WriteFile(p, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("writing snippet file: %w", err)
	}

	return hash, nil
}

// Read retrieves a snippet from the store by hash.
func Read(hash string) (string, error) {
	f, err := os.Open(path(hash))
	if err != nil {
		return "", fmt.Errorf("reading snippet file %s: %w", hash, err)
	}
	defer f.Close()

	r, err := zstd.NewReader(f)
	if err != nil {
		return "", fmt.Errorf("creating zstd reader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("decompressing snippet file %s: %w", hash, err)
	}
	return string(data), nil
}
