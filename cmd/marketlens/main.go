// marketlens: multi-asset NSE market data fetching, look-through portfolio
// decomposition and driver attribution.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/seenimoa/marketlens/api"
	"github.com/seenimoa/marketlens/internal/config"
	"github.com/seenimoa/marketlens/internal/logger"
	"github.com/seenimoa/marketlens/pkg/utils"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "marketlens",
	Short: "marketlens: NSE market data, portfolio look-through and driver attribution",
	Long: `marketlens fetches NSE prices from a brokerage API (spot quotes, option
chains, futures) with a public history provider as fallback, decomposes ETF
portfolios into underlying stock exposure, and attributes index and asset
moves to their constituents and macro drivers.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		level := cfg.Logging.Level
		if override, _ := cmd.Flags().GetString("log-level"); override != "" {
			level = override
		}
		if err := logger.GetLogger().Configure(level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
			return fmt.Errorf("failed to configure logger: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(expiryCmd)
	rootCmd.AddCommand(futuresCmd)
	rootCmd.AddCommand(quotesCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(optionsCmd)
	rootCmd.AddCommand(decomposeCmd)
	rootCmd.AddCommand(contributionCmd)
	rootCmd.AddCommand(attributeCmd)
	rootCmd.AddCommand(changesCmd)
	rootCmd.AddCommand(instrumentsCmd)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	// config is not needed to print the version
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("marketlens %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Serve Command (API Server) ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := buildServices(cmd.Context(), true)
		api.Version = version

		deps := api.Services{
			Fetcher:     svc.fetcher,
			Decomposer:  svc.decomposer,
			Attribution: svc.attribution,
			Metrics:     svc.metrics,
		}
		if svc.dir != nil {
			deps.Directory = svc.dir
		}

		addr := cfg.API.Addr()
		fmt.Printf("🌐 Starting marketlens API server on %s\n", addr)
		return api.NewServer(cfg, deps).ListenAndServe(addr)
	},
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		now := utils.NowIST()
		fmt.Println("═══════════════════════════════════════")
		fmt.Println("  marketlens: System Status")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:       %s (%s)\n", version, commit)
		fmt.Printf("  Market Status: %s\n", utils.MarketStatus(now))
		fmt.Printf("  Time (IST):    %s\n", utils.FormatDateTimeIST(now))
		fmt.Println()

		fmt.Println("  Configuration:")
		primary := "disabled (no access token)"
		if cfg.Upstox.Configured() {
			primary = "Upstox " + cfg.Upstox.BaseURL
		}
		fmt.Printf("    Primary:       %s\n", primary)
		fmt.Printf("    Secondary:     Yahoo Finance %s\n", cfg.YFinance.BaseURL)
		fmt.Printf("    Short history: %d days\n", cfg.Fetch.ShortHistoryDays)
		fmt.Printf("    Instruments:   %s (dump %s)\n", cfg.Instruments.MasterPath, cfg.Instruments.DumpPath)
		fmt.Printf("    Snapshots:     %s\n", cfg.Snapshot.Path)
		fmt.Printf("    API Server:    %s\n", cfg.API.Addr())
		fmt.Println()

		fmt.Println("  API Keys:")
		for _, k := range config.CheckAPIKeys(cfg) {
			status := "❌ not set"
			if k.IsSet {
				status = fmt.Sprintf("✅ set (%s: %s)", k.Source, k.Masked)
			}
			fmt.Printf("    %-25s %s\n", k.Name+":", status)
		}

		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}
