package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/nulzo/gptload-sync/internal/cli"
	"github.com/nulzo/gptload-sync/internal/config"
	"github.com/nulzo/gptload-sync/internal/planner"
	"github.com/nulzo/gptload-sync/internal/store"
	"github.com/nulzo/gptload-sync/internal/store/model"
	"github.com/nulzo/gptload-sync/internal/store/sqlite"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type seedProvider struct {
	Name        string            `yaml:"name"`
	BaseURL     string            `yaml:"base_url"`
	APIKey      string            `yaml:"api_key"`
	ChannelType string            `yaml:"channel_type"`
	Models      []string          `yaml:"models"`
	Renames     map[string]string `yaml:"renames"`
}

var demoCatalog = []seedProvider{
	{
		Name:    "OpenAI",
		BaseURL: "https://api.openai.com/v1",
		APIKey:  "sk-demo-openai",
		Models:  []string{"gpt-4o", "gpt-4o-mini", "o3-mini"},
	},
	{
		Name:    "OpenRouter",
		BaseURL: "https://openrouter.ai/api/v1",
		APIKey:  "sk-demo-openrouter",
		Models:  []string{"openai/gpt-4o", "deepseek/deepseek-chat", "anthropic/claude-3.5-sonnet"},
		Renames: map[string]string{"openai/gpt-4o": "gpt-4o", "deepseek/deepseek-chat": "deepseek-chat"},
	},
	{
		Name:    "DeepSeek",
		BaseURL: "https://api.deepseek.com/v1",
		APIKey:  "sk-demo-deepseek",
		Models:  []string{"deepseek-chat", "deepseek-reasoner"},
	},
}

func main() {
	file := flag.String("file", "", "YAML file with a list of providers (defaults to a demo catalog)")
	flag.Parse()

	if err := run(*file); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", cli.CrossMark(), err)
		os.Exit(1)
	}
}

func run(file string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	catalog := demoCatalog
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return err
		}
		catalog = nil
		if err := yaml.Unmarshal(data, &catalog); err != nil {
			return fmt.Errorf("parse %s: %w", file, err)
		}
	}

	repo, err := sqlite.NewSQLiteStorage(cfg.Database.DSN, zap.NewNop())
	if err != nil {
		return err
	}
	defer func() {
		_ = repo.Close()
	}()

	ctx := context.Background()
	for _, sp := range catalog {
		if err := seed(ctx, repo, sp); err != nil {
			if errors.Is(err, store.ErrConflict) {
				fmt.Printf("%s %s already exists, skipped\n", cli.Arrow(), sp.Name)
				continue
			}
			return fmt.Errorf("seed %s: %w", sp.Name, err)
		}
		fmt.Printf("%s %s (%d models)\n", cli.CheckMark(), sp.Name, len(sp.Models))
	}

	providers, renames, err := repo.Providers().Catalog(ctx)
	if err != nil {
		return err
	}
	desired, err := planner.Desired(providers, renames)
	if err != nil {
		return err
	}

	fmt.Printf("\n%s planned %s\n", cli.Arrow(), desired.Summary())
	cli.PrettyPrint(desired.Aggregates)
	return nil
}

func seed(ctx context.Context, repo store.Repository, sp seedProvider) error {
	return repo.WithTx(ctx, func(tx store.Repository) error {
		p := &model.Provider{
			Name:        sp.Name,
			BaseURL:     sp.BaseURL,
			APIKey:      sp.APIKey,
			ChannelType: sp.ChannelType,
		}
		if err := tx.Providers().Create(ctx, p); err != nil {
			return err
		}
		models, err := tx.Providers().UpsertModels(ctx, p.ID, sp.Models)
		if err != nil {
			return err
		}
		for _, m := range models {
			if normalized, ok := sp.Renames[m.OriginalName]; ok {
				if _, err := tx.Providers().Normalize(ctx, m.ID, normalized); err != nil {
					return err
				}
			}
		}
		return nil
	})
}
