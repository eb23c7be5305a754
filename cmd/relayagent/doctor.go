package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ciaranashton/relay-agent/internal/config"
	"github.com/ciaranashton/relay-agent/internal/registry"
	"github.com/ciaranashton/relay-agent/internal/store"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks against a config",
		Long: `Verifies that the config loads, every component builds, the model provider
answers, the dedup database is writable and the server port is free.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ExpandPath(configPath)
			fmt.Printf("relayagent doctor v%s\n\n", version)

			passed, failed, warned := 0, 0, 0

			if _, err := os.Stat(path); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", path))
				return fmt.Errorf("config file not found")
			}
			printPass("Config file", path)
			passed++

			cfg, logger, err := loadConfig()
			if err != nil {
				printFail("Config validation", err.Error())
				return fmt.Errorf("1 check(s) failed")
			}
			printPass("Config validation", "valid")
			passed++

			c, err := registry.Build(cfg, registry.Deps{Logger: quiet(logger)})
			if err != nil {
				printFail("Components", err.Error())
				failed++
			} else {
				defer c.Close()
				printPass("Components", fmt.Sprintf("inbound %s, %d sources, %d actions", c.Inbound.Name(), len(c.Sources), len(c.Actions)))
				passed++

				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				err := c.Provider.Healthy(ctx)
				cancel()
				if err != nil {
					printWarn("Provider", fmt.Sprintf("%s: %v", c.Provider.Name(), err))
					warned++
				} else {
					printPass("Provider", c.Provider.Name())
					passed++
				}
			}

			if d := cfg.Server.Dedup; d.Enabled && d.DBPath != "" {
				if err := checkDatabase(config.ExpandPath(d.DBPath)); err != nil {
					printFail("Dedup database", err.Error())
					failed++
				} else {
					detail := d.DBPath
					if v, err := schemaVersion(config.ExpandPath(d.DBPath)); err == nil {
						detail = fmt.Sprintf("%s (schema v%d)", d.DBPath, v)
					}
					printPass("Dedup database", detail)
					passed++
				}
			}

			if err := checkPort(cfg.Server.Port); err != nil {
				printWarn("Server port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
				warned++
			} else {
				printPass("Server port", fmt.Sprintf(":%d available", cfg.Server.Port))
				passed++
			}

			fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				return fmt.Errorf("%d check(s) failed", failed)
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	db, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")
	return nil
}

func schemaVersion(dbPath string) (int, error) {
	db, err := store.OpenReadOnly(dbPath)
	if err != nil {
		return 0, err
	}
	defer db.Close()
	return store.SchemaVersion(db)
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
