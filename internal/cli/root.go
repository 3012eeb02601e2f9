package cli

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"tradegate/internal/backtest"
	"tradegate/internal/broker"
	"tradegate/internal/config"
	"tradegate/internal/logging"
	"tradegate/internal/marketdata"
	"tradegate/internal/security"
	"tradegate/internal/store"
	"tradegate/internal/strategy"
)

// Version information
const (
	Version = "0.1.0"
)

// App holds the application dependencies.
type App struct {
	Config      *config.Config
	Logger      zerolog.Logger
	Store       store.DataStore
	Creds       *store.CredentialSource
	Hub         *marketdata.Hub
	Registry    *broker.Registry
	Scheduler   *strategy.Scheduler
	Backtest    *backtest.Engine
	Instruments *store.InstrumentMaster
}

// newApp wires every component. A missing encryption key leaves Creds nil;
// commands that need credentials check and fail with guidance.
func newApp(cfg *config.Config, logger zerolog.Logger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	dataStore, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	app.Store = dataStore

	if cfg.Crypto.Key != "" {
		cipher, err := security.NewCipher(cfg.Crypto.Key)
		if err != nil {
			return nil, fmt.Errorf("initializing credential cipher: %w", err)
		}
		app.Creds = store.NewCredentialSource(dataStore, cipher)
	} else {
		logger.Warn().Msg("TRADEGATE_CRYPTO_KEY not set; credential operations disabled")
	}

	app.Hub = marketdata.NewHubWithConfig(marketdata.HubConfig{
		SubscriberBuffer: cfg.Hub.SubscriberBuffer,
		MaxDrops:         cfg.Hub.MaxDrops,
	}, logger)

	reader := broker.CredentialReader(nil)
	if app.Creds != nil {
		reader = app.Creds.Read
	}

	angelEP := cfg.Broker("angelone")
	dhanEP := cfg.Broker("dhan")
	fyersEP := cfg.Broker("fyers")

	registry, err := broker.NewRegistry(
		broker.NewAngelOne(broker.AngelOneConfig{
			BaseURL:       angelEP.BaseURL,
			AuthPath:      angelEP.AuthPath,
			OrderPath:     angelEP.OrderPath,
			PositionsPath: angelEP.PositionsPath,
			CandlesPath:   angelEP.CandlesPath,
			WSURL:         angelEP.WSURL,
		}, reader, app.Hub, logger),
		broker.NewDhan(broker.DhanConfig{
			BaseURL:       dhanEP.BaseURL,
			OrderPath:     dhanEP.OrderPath,
			PositionsPath: dhanEP.PositionsPath,
			CandlesPath:   dhanEP.CandlesPath,
		}, reader, logger),
		broker.NewFyers(broker.FyersConfig{
			BaseURL:       fyersEP.BaseURL,
			AuthPath:      fyersEP.AuthPath,
			OrderPath:     fyersEP.OrderPath,
			PositionsPath: fyersEP.PositionsPath,
			CandlesPath:   fyersEP.CandlesPath,
		}, reader, logger),
		broker.NewPaper(app.Hub, logger),
	)
	if err != nil {
		return nil, fmt.Errorf("building broker registry: %w", err)
	}
	app.Registry = registry

	app.Scheduler = strategy.NewScheduler(registry, strategy.SchedulerConfig{
		Period:    cfg.Scheduler.Period(),
		StopGrace: cfg.Scheduler.StopGrace(),
	}, logger)

	app.Backtest = backtest.NewEngine(logger)
	app.Instruments = store.NewInstrumentMaster(logger)

	return app, nil
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) (*cobra.Command, error) {
	app, err := newApp(cfg, logger)
	if err != nil {
		return nil, err
	}

	rootCmd := &cobra.Command{
		Use:   "tradegate",
		Short: "Multi-broker trading gateway for Indian markets",
		Long: `Tradegate is a multi-broker trading integration core for the Indian
stock market. It normalizes order placement, positions, market data and
authentication across Angel One, Dhan and Fyers behind one canonical
model, and runs periodic trading strategies against linked accounts.

Use 'tradegate help <command>' for more information about a command.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newAccountCmd(app),
		newOrderCmd(app),
		newPositionsCmd(app),
		newCandlesCmd(app),
		newStreamCmd(app),
		newInstrumentsCmd(app),
		newStrategyCmd(app),
		newBacktestCmd(app),
		newBrokersCmd(app),
	)

	return rootCmd, nil
}

// Execute loads configuration, builds the command tree and runs it.
func Execute() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLoggerWithConfig(logging.LogConfig{
		Level:    cfg.Log.Level,
		Console:  cfg.Log.Console,
		File:     cfg.Log.File,
		FilePath: cfg.Log.FilePath,
	})

	rootCmd, err := NewRootCmd(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup error: %v\n", err)
		os.Exit(1)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
