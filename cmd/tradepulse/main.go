package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tradepulse/core/internal/broker"
	"github.com/tradepulse/core/internal/cache"
	"github.com/tradepulse/core/internal/config"
	"github.com/tradepulse/core/internal/consensus"
	"github.com/tradepulse/core/internal/domain"
	"github.com/tradepulse/core/internal/gate"
	"github.com/tradepulse/core/internal/interfaces/alerts"
	httpserver "github.com/tradepulse/core/internal/interfaces/http"
	"github.com/tradepulse/core/internal/metrics"
	"github.com/tradepulse/core/internal/persistence"
	"github.com/tradepulse/core/internal/persistence/memory"
	"github.com/tradepulse/core/internal/persistence/postgres"
	"github.com/tradepulse/core/internal/queue"
	"github.com/tradepulse/core/internal/risk"
)

const (
	appName = "tradepulse"
	version = "v1.4.0"
)

var (
	configPath string
	alertsFile string
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Decision and admission core for the trading platform",
		Version: version,
		Long: `TradePulse runs the decision-making core: consensus over external signal
sources, correlation-aware exposure gating, risk compliance monitoring, and
the persistent execution admission queue.`,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/tradepulse.yaml", "Path to YAML config")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the decision core and monitoring server",
		RunE:  runServe,
	}
	serveCmd.Flags().StringVar(&alertsFile, "alerts-file", "", "Append risk alerts to this JSONL file")

	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Queue operations",
	}
	queueListCmd := &cobra.Command{
		Use:   "list [status]",
		Short: "List queued signals by status (default PENDING)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runQueueList,
	}
	queueCmd.AddCommand(queueListCmd)

	riskCmd := &cobra.Command{
		Use:   "risk",
		Short: "Risk monitor operations",
	}
	riskStatusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show the latest persisted risk snapshot",
		RunE:  runRiskStatus,
	}
	riskCmd.AddCommand(riskStatusCmd)

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s %s\n", appName, version)
		},
	}

	rootCmd.AddCommand(serveCmd, queueCmd, riskCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies the log level
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	return cfg, nil
}

// openStore picks the configured persistence backend. The in-memory store
// keeps single-process deployments and local development dependency-free.
func openStore(cfg *config.Config) (*persistence.Store, func(), error) {
	if !cfg.Database.Enabled {
		log.Warn().Msg("Database disabled; queue state will not survive restarts")
		return memory.NewStore(), func() {}, nil
	}

	store, db, err := postgres.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}

	return store, func() { db.Close() }, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log.Info().Str("version", version).Msg("TradePulse starting")

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	registry := metrics.NewRegistry()

	var consensusCache cache.Cache
	if cfg.Cache.Redis.Addr != "" {
		consensusCache = cache.NewRedis(cfg.Cache.Redis.Addr, cfg.Cache.Redis.DB)
		log.Info().Str("addr", cfg.Cache.Redis.Addr).Msg("Using Redis consensus cache")
	} else {
		consensusCache = cache.NewMemory(cfg.Consensus.CacheMaxSize)
	}

	engine := consensus.NewEngine(&cfg.Consensus, consensusCache, registry)

	matrix := gate.NewCorrelationMatrix(cfg.Gate.LookbackPeriods)
	exposureGate := gate.NewExposureGate(&cfg.Gate, matrix, registry)

	brokerClient := broker.NewClient(cfg.Broker)
	monitor := risk.NewMonitor(&cfg.Risk, brokerClient, store.Snapshots, store.Incidents, registry)
	monitor.SetPortfolioSource(func(ctx context.Context) ([]domain.Position, float64, error) {
		positions, err := broker.FetchPortfolio(ctx, brokerClient, cfg.Broker.Executors, cfg.Broker.RequestTimeout)
		if err != nil {
			return nil, 0, err
		}
		return positions, exposureGate.PortfolioCorrelation(positions), nil
	})
	if alertsFile != "" {
		monitor.RegisterAlertHandler(alerts.NewEmitter(alertsFile).Handler())
		log.Info().Str("path", alertsFile).Msg("Risk alert artifact enabled")
	}
	admissionQueue := queue.NewAdmissionQueue(&cfg.Queue, store.Signals, store.Incidents, registry)
	promoter := queue.NewPromoter(&cfg.Queue, cfg.Broker.Executors, cfg.Broker.RequestTimeout, brokerClient, store.Signals, store.Incidents, registry)

	handlers := httpserver.NewHandlers(engine, exposureGate, monitor, admissionQueue, store.Incidents, version)
	server, err := httpserver.NewServer(cfg.HTTP, handlers)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Broker.EquityFeedURL != "" {
		feed := broker.NewEquityFeed(cfg.Broker.EquityFeedURL)
		go feed.Run(ctx, func(sample broker.EquitySample) {
			monitor.UpdateEquity(sample.Equity)
		})
	} else {
		log.Warn().Msg("No equity feed configured; risk monitor idles until equity arrives")
	}

	go monitor.Run(ctx)
	go promoter.Run(ctx)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("Monitoring server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("Server shutdown incomplete")
	}

	log.Info().Msg("TradePulse stopped")
	return nil
}

func runQueueList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	status := domain.StatusPending
	if len(args) == 1 {
		status = domain.SignalStatus(args[0])
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	signals, err := store.Signals.ListByStatus(ctx, status, 100)
	if err != nil {
		return fmt.Errorf("list %s signals: %w", status, err)
	}

	if len(signals) == 0 {
		fmt.Printf("No %s signals.\n", status)
		return nil
	}

	fmt.Printf("%-38s %-10s %-6s %8s %8s  %s\n", "SIGNAL", "SYMBOL", "ACTION", "PRIORITY", "RETRIES", "QUEUED")
	for _, s := range signals {
		fmt.Printf("%-38s %-10s %-6s %8.2f %8d  %s\n",
			s.SignalID, s.Symbol, s.Action, s.Priority, s.RetryCount, s.QueuedAt.Format(time.RFC3339))
	}
	return nil
}

func runRiskStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	latest, err := store.Snapshots.Latest(ctx)
	if err == persistence.ErrNotFound {
		fmt.Println("No risk snapshots recorded yet.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("latest snapshot: %w", err)
	}

	fmt.Printf("Risk level:            %s\n", latest.RiskLevel)
	fmt.Printf("Drawdown:              %.2f%% (limit %.2f%%)\n", latest.DrawdownPct, cfg.Risk.MaxDrawdownPct)
	fmt.Printf("Daily P&L:             %.2f%% (loss limit %.2f%%)\n", latest.DailyPnLPct, cfg.Risk.DailyLossPct)
	fmt.Printf("Equity:                %.2f (peak %.2f)\n", latest.AccountEquity, latest.PeakEquity)
	fmt.Printf("Open positions:        %d (%d correlated)\n", latest.OpenPositions, latest.CorrelatedPositions)
	fmt.Printf("Portfolio correlation: %.2f\n", latest.PortfolioCorrelation)
	fmt.Printf("As of:                 %s\n", latest.Timestamp.Format(time.RFC3339))
	return nil
}
