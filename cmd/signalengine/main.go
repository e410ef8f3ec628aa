package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"signalengine/internal/adminweb"
	"signalengine/internal/config"
	"signalengine/internal/gate"
	"signalengine/internal/logx"
	"signalengine/internal/orchestrator"
	"signalengine/internal/provider"
	"signalengine/internal/ratelimit"
	"signalengine/internal/store/kvstore"
	"signalengine/internal/store/sqlitestore"
	"signalengine/internal/transport"
	"signalengine/pkg/model"
)

var (
	cfgFile string
	jsonOut bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "signalengine",
		Short: "Daily stock/fund signal engine and notification gate",
		Long: `signalengine ingests daily OHLCV data for a tracked instrument list,
derives upside/downside/risk/trend signals, aggregates a BUY/SELL/HOLD/WATCH
decision per instrument, and gates outbound notifications through a
cooldown/hysteresis/daily-quota state machine.

Subcommands:
  run      - execute one scheduled tick immediately and exit
  daemon   - run the scheduled tick loop plus the admin HTTP server
  web      - run only the admin HTTP server
  init-db  - create/migrate the SQLite schema at the configured data dir`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yaml", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run one monitoring tick and exit",
		RunE:  runOnce,
	}
	runCmd.Flags().BoolVar(&jsonOut, "json", false, "print persisted decisions as JSON instead of a table")

	daemonCmd := &cobra.Command{
		Use:   "daemon",
		Short: "run the scheduled tick loop and admin server until interrupted",
		RunE:  runDaemon,
	}

	webCmd := &cobra.Command{
		Use:   "web",
		Short: "run only the admin HTTP server",
		RunE:  runWeb,
	}

	initDBCmd := &cobra.Command{
		Use:   "init-db",
		Short: "create or migrate the SQLite schema and exit",
		RunE:  runInitDB,
	}

	rootCmd.AddCommand(runCmd, daemonCmd, webCmd, initDBCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// build wires the shared collaborators (store, kv, providers, gate,
// orchestrator) from configuration. Every subcommand except init-db uses it.
func build() (*config.Config, logx.Logger, *sqlitestore.Store, *orchestrator.Orchestrator, *adminweb.Server, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("invalid config: %w", err)
	}

	log := logx.New()

	dbPath := cfg.DataDir + "/signalengine.db"
	ts, err := sqlitestore.Open(dbPath)
	if err != nil {
		return nil, nil, nil, nil, nil, fmt.Errorf("opening tabular store: %w", err)
	}

	kvPath := cfg.DataDir + "/state.json"
	kv, err := kvstore.New(kvPath)
	if err != nil {
		ts.Close()
		return nil, nil, nil, nil, nil, fmt.Errorf("opening kv store: %w", err)
	}

	prices := buildPriceAdapter(cfg)

	tr := transport.NewPushClient(cfg.Push.Endpoint)
	g := gate.New(kv, ts, tr, cfg.Push.Token, cfg.Push.Recipient, nil)

	orch := orchestrator.New(ts, kv, prices, g, log)
	admin := adminweb.New(orch, g, ts, cfg.Admin.JWTSecret, log)

	return cfg, log, ts, orch, admin, nil
}

// buildPriceAdapter wires one named limiter per provider into a shared
// MultiLimiter, so each adapter paces and retries independently of the
// others instead of contending on a single rate.
func buildPriceAdapter(cfg *config.Config) provider.PriceAdapter {
	limiters := ratelimit.NewMultiLimiter()
	limiters.Add("csv", cfg.Providers.CSVRateLimit)
	limiters.Add("quote", cfg.Providers.QuoteRateLimit)
	limiters.Add("fund", cfg.Providers.FundRateLimit)

	var adapters []provider.PriceAdapter
	if cfg.Providers.CSVBaseURL != "" {
		adapters = append(adapters, provider.NewCSVAdapter(cfg.Providers.CSVBaseURL, limiters.Get("csv")))
	}
	if cfg.Providers.QuoteBaseURL != "" {
		adapters = append(adapters, provider.NewQuoteAdapter(cfg.Providers.QuoteBaseURL, limiters.Get("quote")))
	}
	if cfg.Providers.FundBaseURL != "" {
		adapters = append(adapters, provider.NewFundScraper(cfg.Providers.FundBaseURL, cfg.Providers.FundCodes, limiters.Get("fund")))
	}
	return provider.NewFallback(adapters...)
}

func runOnce(cmd *cobra.Command, args []string) error {
	_, _, ts, orch, _, err := build()
	if err != nil {
		return err
	}
	defer ts.Close()

	ctx := context.Background()
	if err := orch.RunMonitoringTick(ctx, time.Now()); err != nil {
		return fmt.Errorf("running tick: %w", err)
	}

	instruments, err := ts.GetAllSymbols(ctx, true)
	if err != nil {
		return fmt.Errorf("listing instruments: %w", err)
	}

	var decisions []*model.Decision
	for _, in := range instruments {
		d, err := ts.GetLatestSignalHistory(ctx, in.ID)
		if err != nil {
			return fmt.Errorf("reading decision for %s: %w", in.ID, err)
		}
		if d != nil {
			decisions = append(decisions, d)
		}
	}

	if jsonOut {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(decisions)
	}
	return printDecisionTable(decisions)
}

func printDecisionTable(decisions []*model.Decision) error {
	if len(decisions) == 0 {
		fmt.Println("No non-HOLD decisions this tick.")
		return nil
	}

	table := tablewriter.NewTable(os.Stdout,
		tablewriter.WithHeader([]string{"Instrument", "Action", "Confidence", "Horizon", "Reasons"}),
	)
	for _, d := range decisions {
		reasons := ""
		if len(d.Reasons) > 0 {
			reasons = d.Reasons[0]
		}
		table.Append([]string{
			d.InstrumentID,
			string(d.Action),
			fmt.Sprintf("%.0f%%", d.Confidence*100),
			fmt.Sprintf("%dd", d.HorizonDays),
			reasons,
		})
	}
	table.Render()
	return nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, log, ts, orch, admin, err := build()
	if err != nil {
		return err
	}
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutdown signal received, stopping daemon")
		cancel()
	}()

	go func() {
		if err := admin.Start(cfg.Admin.Addr); err != nil && err != http.ErrServerClosed {
			log.Error("admin server stopped: %v", err)
		}
	}()

	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("ticking"),
		progressbar.OptionSpinnerType(14),
	)

	ticker := time.NewTicker(cfg.Daemon.TickInterval)
	defer ticker.Stop()

	log.Info("daemon started, tick interval %s", cfg.Daemon.TickInterval)
	for {
		select {
		case <-ctx.Done():
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return admin.Shutdown(shutdownCtx)
		case now := <-ticker.C:
			bar.Add(1)
			if err := orch.RouteTick(ctx, now); err != nil {
				log.Error("routing tick: %v", err)
			}
		}
	}
}

func runWeb(cmd *cobra.Command, args []string) error {
	cfg, log, ts, _, admin, err := build()
	if err != nil {
		return err
	}
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutting down admin server")
		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 5*time.Second)
		defer shutdownCancel()
		admin.Shutdown(shutdownCtx)
	}()

	return admin.Start(cfg.Admin.Addr)
}

func runInitDB(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	ts, err := sqlitestore.Open(cfg.DataDir + "/signalengine.db")
	if err != nil {
		return fmt.Errorf("opening/migrating tabular store: %w", err)
	}
	defer ts.Close()
	fmt.Printf("schema ready at %s\n", cfg.DataDir+"/signalengine.db")
	return nil
}
