// Package main provides leavectl, the operator CLI for the leave engine.
// It works directly on the SQLite database the server uses.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/MiltronBee/leave-engine/config"
	"github.com/MiltronBee/leave-engine/factory"
	"github.com/MiltronBee/leave-engine/store/sqlite"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globals are the persistent flags shared by every command.
type globals struct {
	dbPath   string
	seedFile string
	logLevel string
}

func rootCmd() *cobra.Command {
	g := &globals{}

	cmd := &cobra.Command{
		Use:   "leavectl",
		Short: "Operate the annual leave engine",
		Long: `leavectl inspects rotation calendars and entitlement bands and runs the
program operations an operator may need outside the HTTP API: ensuring next
year's program, auto-assigning days and escalating expired blocks.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&g.dbPath, "db", "", "SQLite database path (default DATABASE_PATH)")
	cmd.PersistentFlags().StringVar(&g.seedFile, "seed", "", "Seed YAML applied before the command (default SEED_FILE)")
	cmd.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		resolveCmd(g),
		entitlementCmd(g),
		ensureProgramCmd(g),
		planCmd(g),
		escalateCmd(g),
	)
	return cmd
}

// session is an open database with the engine built over it.
type session struct {
	store  *sqlite.Store
	engine *factory.Engine
	logger *slog.Logger
}

func (g *globals) open(ctx context.Context) (*session, error) {
	logger := newLogger(g.logLevel)
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if g.dbPath != "" {
		cfg.Database.Path = g.dbPath
	}
	if g.seedFile != "" {
		cfg.Seed.File = g.seedFile
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	engine, err := factory.NewEngine(ctx, cfg, store, factory.EngineOptions{Logger: logger})
	if err != nil {
		store.Close()
		return nil, err
	}
	return &session{store: store, engine: engine, logger: logger}, nil
}

func (s *session) Close() error { return s.store.Close() }

func newLogger(level string) *slog.Logger {
	lvl := slog.LevelWarn
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "error":
		lvl = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
