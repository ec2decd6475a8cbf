package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"omnipong/internal/config"
	"omnipong/internal/logging"
	sqlitestore "omnipong/internal/store/sqlite"
)

var (
	configPath  string
	addrFlag    string
	dbPathFlag  string
	storageFlag string
	logLevel    string

	reportsAgent string
	reportsLimit int
)

var rootCmd = &cobra.Command{
	Use:   "omnipong",
	Short: "Agent orchestrator with adaptive task distribution",
	Long: `omnipong runs a pool of agents behind a capability-matched task queue.

Tasks arrive over HTTP or the in-process transport, optionally pass through the
priority scheduler, and are dispatched to the first registered agent that can
handle them. Reports are merged into a shared knowledge base.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Print the most recent agent reports from the database",
	RunE:  runReports,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.toml (default: ~/.omnipong/config.toml)")
	rootCmd.PersistentFlags().StringVar(&dbPathFlag, "db", "", "sqlite database path override")
	rootCmd.Flags().StringVar(&addrFlag, "addr", "", "http listen address override")
	rootCmd.Flags().StringVar(&storageFlag, "storage", "", "document storage backend override (file or sqlite)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "log level override")

	reportsCmd.Flags().StringVar(&reportsAgent, "agent", "", "only show reports from this agent")
	reportsCmd.Flags().IntVar(&reportsLimit, "limit", 20, "number of reports to show")
	rootCmd.AddCommand(reportsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	cfg.HTTP.Addr = firstNonEmpty(addrFlag, cfg.HTTP.Addr)
	cfg.Storage.DBPath = firstNonEmpty(dbPathFlag, cfg.Storage.DBPath)
	cfg.Storage.Backend = firstNonEmpty(storageFlag, cfg.Storage.Backend)
	cfg.Log.Level = firstNonEmpty(logLevel, cfg.Log.Level)
	return cfg, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Log, os.Stderr)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	logger.Info("omnipong started",
		"addr", cfg.HTTP.Addr,
		"storage", cfg.Storage.Backend,
		"db", cfg.Storage.DBPath,
		"agents", len(cfg.Agents),
	)
	return a.run(ctx)
}

func runReports(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	store, err := sqlitestore.Open(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	entries, err := store.ListReports(ctx, reportsAgent, reportsLimit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No reports recorded.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tAGENT\tOUTCOME\tKEYS")
	for _, e := range entries {
		outcome := "ok"
		if e.Failed {
			outcome = "error: " + e.Report.Err()
		}
		keys := make([]string, 0, len(e.Report))
		for k := range e.Report {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			e.ID, e.CreatedAt.Format("2006-01-02 15:04:05"), e.AgentID, outcome, strings.Join(keys, ","))
	}
	return w.Flush()
}
