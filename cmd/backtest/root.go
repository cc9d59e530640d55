package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"factor-backtest-go/internal/backtest"
	"factor-backtest-go/internal/config"
	"factor-backtest-go/internal/database"
	"factor-backtest-go/internal/logger"
	"factor-backtest-go/internal/store"
	"factor-backtest-go/internal/tushare"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app holds what every subcommand needs once the configuration is loaded.
type app struct {
	configPath string
	cfg        config.Config
	log        *zap.Logger
	db         *gorm.DB
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "backtest",
		Short: "Event-driven factor backtesting on daily A-share bars",
		Long: `Backtest simulates a strategy day by day over stored or downloaded daily bars
and reports its return, risk and trading statistics.

Bars are downloaded from Tushare Pro into a local SQLite store with "sync";
"run" and "sweep" then read them from the store unless backtest.data_source
is set to "tushare".`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "./configs", "directory containing config.yml")

	root.AddCommand(
		newRunCmd(a),
		newSyncCmd(a),
		newSweepCmd(a),
		newQualityCmd(a),
	)
	return root
}

// Execute runs the root command until it finishes or a shutdown signal arrives.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{}
	defer a.close()
	return newRootCmd(a).ExecuteContext(ctx)
}

func (a *app) setup() error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return err
	}
	a.cfg = cfg

	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.log = log
	a.log.Info("Configuration loaded", zap.String("path", a.configPath))

	db, err := database.NewDatabase(&cfg.Database)
	if err != nil {
		return err
	}
	a.db = db
	a.log.Info("Database connection successful and schema migrated.", zap.String("dsn", cfg.Database.DSN))
	return nil
}

func (a *app) close() {
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

// dataSource returns the configured bar source, or the one named by override.
func (a *app) dataSource(override string) (backtest.DataSource, error) {
	name := a.cfg.Backtest.DataSource
	if override != "" {
		name = override
	}
	switch name {
	case "store":
		return store.NewBarStore(a.db, a.log), nil
	case "tushare":
		return tushare.NewClient(&a.cfg.Tushare, a.log.Named("tushare")), nil
	default:
		return nil, fmt.Errorf("unknown data source %q", name)
	}
}
