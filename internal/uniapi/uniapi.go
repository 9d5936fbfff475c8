// Package uniapi renders the uni-api routing file that points a downstream uni-api
// instance at gpt-load's per-group proxy endpoints.
package uniapi

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nulzo/gptload-sync/internal/store/model"
	"gopkg.in/yaml.v3"
)

var (
	// ErrNoAuthKey is returned when no gpt-load auth key is configured.
	ErrNoAuthKey = errors.New("gpt-load auth key not configured")
	// ErrInvalid is returned when a generated document fails validation.
	ErrInvalid = errors.New("invalid uni-api configuration")
)

const (
	defaultUserKey   = "sk-user-key"
	defaultRateLimit = "999999/min"
)

type Document struct {
	Providers   []ProviderEntry `yaml:"providers"`
	APIKeys     []APIKey        `yaml:"api_keys"`
	Preferences Preferences     `yaml:"preferences"`
}

// ProviderEntry is one gpt-load group as seen by uni-api. An empty model list lets uni-api
// discover models itself.
type ProviderEntry struct {
	Provider string   `yaml:"provider"`
	BaseURL  string   `yaml:"base_url"`
	API      string   `yaml:"api"`
	Model    []string `yaml:"model"`
}

type APIKey struct {
	API   string   `yaml:"api"`
	Role  string   `yaml:"role"`
	Model []string `yaml:"model"`
}

type Preferences struct {
	RateLimit string `yaml:"rate_limit"`
}

// Generate builds the document from tracked groups: every aggregate first, then each
// standard group whose model is not already served by an aggregate.
func Generate(groups []model.GroupRecord, gptloadURL, authKey string) (*Document, error) {
	if authKey == "" {
		return nil, ErrNoAuthKey
	}
	base := strings.TrimRight(gptloadURL, "/")

	aggregated := make(map[string]bool)
	doc := &Document{
		Providers: []ProviderEntry{},
		APIKeys: []APIKey{
			{API: defaultUserKey, Role: "user", Model: []string{"all"}},
		},
		Preferences: Preferences{RateLimit: defaultRateLimit},
	}

	for _, g := range groups {
		if g.GroupType != model.GroupTypeAggregate {
			continue
		}
		if g.NormalizedModel.Valid && g.NormalizedModel.String != "" {
			aggregated[g.NormalizedModel.String] = true
		}
		doc.Providers = append(doc.Providers, entry(base, g.Name, authKey))
	}

	for _, g := range groups {
		if g.GroupType != model.GroupTypeStandard {
			continue
		}
		if g.NormalizedModel.Valid && aggregated[g.NormalizedModel.String] {
			continue
		}
		doc.Providers = append(doc.Providers, entry(base, g.Name, authKey))
	}

	if err := Validate(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func entry(base, group, authKey string) ProviderEntry {
	return ProviderEntry{
		Provider: group,
		BaseURL:  base + "/proxy/" + group,
		API:      authKey,
		Model:    []string{},
	}
}

// Validate checks the fields uni-api requires of every provider entry.
func Validate(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: empty document", ErrInvalid)
	}
	for i, p := range doc.Providers {
		switch {
		case p.Provider == "":
			return fmt.Errorf("%w: provider %d has no name", ErrInvalid, i)
		case p.API == "":
			return fmt.Errorf("%w: provider %d has no api key", ErrInvalid, i)
		case !strings.HasPrefix(p.BaseURL, "http://") && !strings.HasPrefix(p.BaseURL, "https://"):
			return fmt.Errorf("%w: provider %d has invalid base_url %q", ErrInvalid, i, p.BaseURL)
		case p.Model == nil:
			return fmt.Errorf("%w: provider %d model must be a list", ErrInvalid, i)
		}
	}
	return nil
}

// Marshal renders the document as YAML, keys in declaration order.
func (d *Document) Marshal() ([]byte, error) {
	return yaml.Marshal(d)
}

// Export writes data to path, creating parent directories.
func Export(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create export directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write uni-api config to %s: %w", path, err)
	}
	return nil
}
