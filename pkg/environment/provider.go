// Package environment resolves secrets such as API keys from layered sources.
package environment

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// Well-known variable names.
const (
	TavilyAPIKey    = "TAVILY_API_KEY"
	OpenAIAPIKey    = "OPENAI_API_KEY"
	AnthropicAPIKey = "ANTHROPIC_API_KEY"
)

// Provider looks up environment values by name.
type Provider interface {
	Get(ctx context.Context, name string) (string, bool)
}

// MapProvider serves values from an in-memory map. The map must not be
// modified after creation.
type MapProvider struct {
	values map[string]string
}

func NewMapProvider(values map[string]string) *MapProvider {
	return &MapProvider{values: values}
}

func (p *MapProvider) Get(_ context.Context, name string) (string, bool) {
	v, ok := p.values[name]
	return v, ok
}

// OSProvider reads the process environment.
type OSProvider struct{}

func NewOSProvider() *OSProvider { return &OSProvider{} }

func (*OSProvider) Get(_ context.Context, name string) (string, bool) {
	return os.LookupEnv(name)
}

// MultiProvider asks each provider in turn and returns the first non-empty hit.
type MultiProvider struct {
	providers []Provider
}

func NewMultiProvider(providers ...Provider) *MultiProvider {
	return &MultiProvider{providers: providers}
}

func (p *MultiProvider) Get(ctx context.Context, name string) (string, bool) {
	for _, provider := range p.providers {
		if v, ok := provider.Get(ctx, name); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// NewEnvFileProvider parses a dotenv style file of KEY=VALUE lines. Blank
// lines and # comments are skipped and surrounding quotes are removed. A
// missing file yields an empty provider.
func NewEnvFileProvider(path string) (*MapProvider, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewMapProvider(map[string]string{}), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open env file: %w", err)
	}
	defer f.Close()

	values := map[string]string{}
	scanner := bufio.NewScanner(f)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("%s:%d: expected KEY=VALUE", path, lineNo)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if len(value) >= 2 && (value[0] == '"' || value[0] == '\'') && value[len(value)-1] == value[0] {
			value = value[1 : len(value)-1]
		}
		if key != "" && value != "" {
			values[key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read env file: %w", err)
	}
	return NewMapProvider(values), nil
}

// MissingError is returned by Require for unset variables.
type MissingError struct {
	Name string
}

func (e *MissingError) Error() string {
	return "environment variable " + e.Name + " is not set"
}

// Require returns the value of name or a *MissingError.
func Require(ctx context.Context, p Provider, name string) (string, error) {
	if v, ok := p.Get(ctx, name); ok && v != "" {
		return v, nil
	}
	return "", &MissingError{Name: name}
}

// Default builds the usual chain: process environment first, then the
// dotenv file at envFile.
func Default(envFile string) (Provider, error) {
	fileProvider, err := NewEnvFileProvider(envFile)
	if err != nil {
		return nil, err
	}
	return NewMultiProvider(NewOSProvider(), fileProvider), nil
}
