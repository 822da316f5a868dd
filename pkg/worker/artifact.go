package worker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/natefinch/atomic"
)

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

// Slug lowercases s and replaces runs of non-alphanumerics with "_".
func Slug(s string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(s), "_"), "_")
}

// WriteArtifact atomically writes v as indented JSON to dir/name and
// returns the full path.
func WriteArtifact(dir, name string, v any) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("failed to encode %s: %w", name, err)
	}

	path := filepath.Join(dir, name)
	if err := atomic.WriteFile(path, &buf); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}
