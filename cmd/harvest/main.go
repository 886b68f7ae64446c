package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/harvestmcp/harvest/internal/config"
	"github.com/harvestmcp/harvest/internal/db"
	"github.com/harvestmcp/harvest/internal/mcpserver"
	"github.com/harvestmcp/harvest/internal/oracle"
	"github.com/harvestmcp/harvest/internal/session"
	"github.com/harvestmcp/harvest/internal/web"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "harvest",
		Short: "Turn a recorded browser session into a runnable API client",
		Long: "harvest analyzes an HTTP Archive plus a natural-language goal, builds the\n" +
			"dependency graph of the primary action, and generates a standalone client.\n" +
			"It runs as an MCP server over stdio; an optional HTTP dashboard shows live\n" +
			"session diagnostics.",
		RunE: run,
	}

	f := rootCmd.Flags()
	f.String("oracle-model", "claude-sonnet-4-5", "model used for oracle function calls")
	f.Int("oracle-timeout", 30, "seconds per oracle call")
	f.Int("oracle-retries", 3, "retry budget for transient oracle failures")
	f.Bool("oracle-disabled", false, "run on heuristics only, without a language model")
	f.Int("session-capacity", session.DefaultCapacity, "max live sessions before LRU eviction")
	f.String("state-path", "", "SQLite path for session persistence (empty = in-memory only)")
	f.Float64("session-consistency-threshold", 0.3, "min consistency for session-pattern candidates")
	f.Float64("fallback-consistency-threshold", 0.5, "stricter consistency used when the oracle is down")
	f.Int("dashboard-port", 0, "HTTP port for the diagnostics dashboard (0 = disabled)")
	f.Bool("verbose", false, "verbose logging to stderr")

	// Bind flags to viper. Viper keys use underscores (oracle_model) so they
	// match the env var suffix after stripping the HARVEST_ prefix.
	for _, name := range []string{
		"oracle-model", "oracle-timeout", "oracle-retries", "oracle-disabled",
		"session-capacity", "state-path",
		"session-consistency-threshold", "fallback-consistency-threshold",
		"dashboard-port", "verbose",
	} {
		key := strings.ReplaceAll(name, "-", "_")
		_ = viper.BindPFlag(key, f.Lookup(name))
	}
	viper.SetEnvPrefix("HARVEST")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var o oracle.Oracle
	if cfg.OracleDisabled {
		o = oracle.Disabled
		fmt.Fprintln(os.Stderr, "oracle disabled: running on heuristics only")
	} else {
		o = oracle.NewClient(cfg.OracleModel,
			oracle.WithTimeout(time.Duration(cfg.OracleTimeout)*time.Second),
			oracle.WithRetries(cfg.OracleRetries),
		)
	}

	engine := session.NewEngine(o,
		session.WithConsistencyThresholds(cfg.SessionConsistencyThreshold, cfg.FallbackConsistencyThreshold))
	store := session.NewStore(cfg.SessionCapacity)

	var database *db.DB
	if cfg.StatePath != "" {
		var err error
		database, err = db.Open(cfg.StatePath)
		if err != nil {
			return fmt.Errorf("open state db: %w", err)
		}
		defer database.Close()
	}

	if cfg.DashboardPort > 0 {
		dash, err := web.NewServer(store, cfg.DashboardPort)
		if err != nil {
			return err
		}
		go func() {
			if err := dash.Run(ctx); err != nil {
				log.Printf("[web] dashboard stopped: %v", err)
			}
		}()
		fmt.Fprintf(os.Stderr, "dashboard listening on :%d\n", cfg.DashboardPort)
	}

	return mcpserver.NewServer(engine, store, database).Serve(ctx)
}
