package main

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Wikid82/keyroom/internal/api/routes"
	"github.com/Wikid82/keyroom/internal/config"
	"github.com/Wikid82/keyroom/internal/database"
	"github.com/Wikid82/keyroom/internal/logger"
	"github.com/Wikid82/keyroom/internal/models"
	"github.com/Wikid82/keyroom/internal/services"
)

//go:embed fixtures.yaml
var defaultFixtures []byte

type Fixtures struct {
	Employees []struct {
		Name       string `yaml:"name"`
		CardID     string `yaml:"card_id"`
		Department string `yaml:"department"`
	} `yaml:"employees"`
	Keys []struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
	} `yaml:"keys"`
	Takes []struct {
		Key    string `yaml:"key"`
		CardID string `yaml:"card_id"`
	} `yaml:"takes"`
}

// Summary counts what a seed run actually created.
type Summary struct {
	Employees int
	Keys      int
	Takes     int
}

var seedSession = &services.Session{Username: "seed", IsAdmin: true}

func main() {
	if err := newSeedCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newSeedCmd() *cobra.Command {
	var fixturesPath string
	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Load demo employees, keys and custody events into the database",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger.Init(false, cmd.ErrOrStderr())

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			raw := defaultFixtures
			if fixturesPath != "" {
				if raw, err = os.ReadFile(fixturesPath); err != nil {
					return fmt.Errorf("read fixtures: %w", err)
				}
			}
			fixtures, err := parseFixtures(raw)
			if err != nil {
				return fmt.Errorf("parse fixtures: %w", err)
			}

			db, err := database.Connect(cfg.DatabasePath)
			if err != nil {
				return fmt.Errorf("connect database: %w", err)
			}

			summary, err := seed(routes.NewServices(db, cfg, nil), fixtures)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Seeded %d employees, %d keys, %d takes\n", summary.Employees, summary.Keys, summary.Takes)
			return nil
		},
	}
	cmd.Flags().StringVar(&fixturesPath, "fixtures", "", "YAML fixtures file (defaults to the built-in demo data)")
	return cmd
}

func parseFixtures(raw []byte) (Fixtures, error) {
	var f Fixtures
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return Fixtures{}, err
	}
	return f, nil
}

// seed loads fixtures through the services. Existing employees (by card id),
// keys (by name) and keys that are already held are left alone, so running it
// twice is harmless.
func seed(svc routes.Services, f Fixtures) (Summary, error) {
	var summary Summary

	for _, e := range f.Employees {
		_, err := svc.Directory.GetEmployeeByCardID(e.CardID)
		if err == nil {
			continue
		}
		if !errors.Is(err, services.ErrNotFound) {
			return summary, err
		}
		if _, err := svc.Directory.CreateEmployee(seedSession, e.Name, e.CardID, e.Department); err != nil {
			return summary, fmt.Errorf("employee %s: %w", e.CardID, err)
		}
		summary.Employees++
	}

	existing, err := svc.Directory.ListKeys()
	if err != nil {
		return summary, err
	}
	keysByName := make(map[string]models.Key, len(existing))
	for _, k := range existing {
		keysByName[k.Name] = k
	}
	for _, k := range f.Keys {
		if _, ok := keysByName[k.Name]; ok {
			continue
		}
		key, err := svc.Directory.CreateKey(seedSession, k.Name, k.Description)
		if err != nil {
			return summary, fmt.Errorf("key %s: %w", k.Name, err)
		}
		keysByName[key.Name] = *key
		summary.Keys++
	}

	for _, t := range f.Takes {
		key, ok := keysByName[t.Key]
		if !ok {
			return summary, fmt.Errorf("take references unknown key %q", t.Key)
		}
		employee, err := svc.Directory.GetEmployeeByCardID(t.CardID)
		if err != nil {
			return summary, fmt.Errorf("take references card %s: %w", t.CardID, err)
		}
		state, err := svc.Custody.Holder(key.UUID)
		if err != nil {
			return summary, err
		}
		if state.Held {
			continue
		}
		if _, err := svc.Custody.Take(seedSession, key.UUID, employee.UUID); err != nil {
			return summary, fmt.Errorf("take %s: %w", t.Key, err)
		}
		summary.Takes++
	}

	return summary, nil
}
