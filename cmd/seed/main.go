// Command seed loads survey template fixtures from a YAML file into the
// database. Meant for development and first-run provisioning.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"log/slog"

	"gopkg.in/yaml.v3"

	"github.com/pulsohq/pulso/internal/adapter/observability"
	"github.com/pulsohq/pulso/internal/adapter/repo/postgres"
	"github.com/pulsohq/pulso/internal/config"
	"github.com/pulsohq/pulso/internal/domain"
)

type fixtureFile struct {
	Templates []fixtureTemplate `yaml:"templates"`
}

type fixtureTemplate struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Active      bool              `yaml:"active"`
	Questions   []fixtureQuestion `yaml:"questions"`
}

type fixtureQuestion struct {
	Text     string   `yaml:"text"`
	Type     string   `yaml:"type"`
	Required bool     `yaml:"required"`
	Options  []string `yaml:"options"`
}

func main() {
	file := flag.String("file", "seed/templates.yaml", "path to the template fixture file")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	slog.SetDefault(observability.SetupLogger(cfg))

	if err := run(context.Background(), cfg, *file); err != nil {
		slog.Error("seed failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, file string) error {
	raw, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("op=seed.read: %w", err)
	}
	var fixtures fixtureFile
	if err := yaml.Unmarshal(raw, &fixtures); err != nil {
		return fmt.Errorf("op=seed.parse: %w", err)
	}
	if len(fixtures.Templates) == 0 {
		return fmt.Errorf("op=seed: no templates in %s", file)
	}

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("op=seed.connect: %w", err)
	}
	defer pool.Close()
	repo := postgres.NewTemplateRepo(pool)

	for _, ft := range fixtures.Templates {
		t, err := toTemplate(ft)
		if err != nil {
			return err
		}
		id, err := repo.Create(ctx, t)
		if err != nil {
			return fmt.Errorf("op=seed.create template=%s: %w", ft.Name, err)
		}
		slog.Info("template seeded",
			slog.String("id", id),
			slog.String("name", ft.Name),
			slog.Int("questions", len(ft.Questions)))
	}
	return nil
}

func toTemplate(ft fixtureTemplate) (domain.Template, error) {
	t := domain.Template{Name: ft.Name, Description: ft.Description, Active: ft.Active}
	for i, fq := range ft.Questions {
		qt := domain.QuestionType(fq.Type)
		switch qt {
		case domain.QuestionFreeText, domain.QuestionNumeric, domain.QuestionSingleSelect, domain.QuestionMultiSelect:
		default:
			return domain.Template{}, fmt.Errorf("op=seed: template %q question %d: unknown type %q", ft.Name, i+1, fq.Type)
		}
		if qt.HasOptions() && len(fq.Options) == 0 {
			return domain.Template{}, fmt.Errorf("op=seed: template %q question %d: %s requires options", ft.Name, i+1, fq.Type)
		}
		q := domain.Question{Order: i + 1, Text: fq.Text, Type: qt, Required: fq.Required}
		for _, label := range fq.Options {
			q.Options = append(q.Options, domain.Option{Label: label, Value: label})
		}
		t.Questions = append(t.Questions, q)
	}
	return t, nil
}
