package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DateLayout is the compact date format used in config files and by Tushare.
const DateLayout = "20060102"

// Config holds all configuration for the application.
type Config struct {
	Tushare  Tushare  `mapstructure:"tushare"`
	Backtest Backtest `mapstructure:"backtest"`
	Strategy Strategy `mapstructure:"strategy"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
}

// Tushare holds the configuration for the Tushare Pro data API.
type Tushare struct {
	Token          string  `mapstructure:"token"`
	BaseURL        string  `mapstructure:"base_url"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	MaxAPICalls    int     `mapstructure:"max_api_calls"`
	Retry          Retry   `mapstructure:"retry"`
}

// Retry describes how failed data fetches are retried.
type Retry struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	Multiplier  float64       `mapstructure:"multiplier"`
}

// Backtest holds the engine level settings of a run.
type Backtest struct {
	Symbols        []string `mapstructure:"symbols"`
	StartDate      string   `mapstructure:"start_date"`
	EndDate        string   `mapstructure:"end_date"`
	InitialCapital float64  `mapstructure:"initial_capital"`
	// CommissionRate is accepted for compatibility but not applied to any trade.
	CommissionRate float64 `mapstructure:"commission_rate"`
	RiskFreeRate   float64 `mapstructure:"risk_free_rate"`
	// DataSource selects where bars come from: "store" or "tushare".
	DataSource string `mapstructure:"data_source"`
}

// Strategy holds the parameters of the configured strategy.
type Strategy struct {
	Name           string  `mapstructure:"name"`
	LookbackPeriod int     `mapstructure:"lookback_period"`
	SelectionRatio float64 `mapstructure:"selection_ratio"`
	PositionSize   float64 `mapstructure:"position_size"`
	StopLoss       float64 `mapstructure:"stop_loss"`
}

// Server holds the configuration for the report server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StartTime parses the configured start date.
func (b Backtest) StartTime() (time.Time, error) {
	return parseDate("backtest.start_date", b.StartDate)
}

// EndTime parses the configured end date.
func (b Backtest) EndTime() (time.Time, error) {
	return parseDate("backtest.end_date", b.EndDate)
}

func parseDate(key, value string) (time.Time, error) {
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: %w", key, value, err)
	}
	return t, nil
}

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("tushare.token", "")
	v.SetDefault("tushare.base_url", "http://api.tushare.pro")
	v.SetDefault("tushare.rate_limit", 1)       // requests per second
	v.SetDefault("tushare.rate_limit_burst", 1) // burst size
	v.SetDefault("tushare.max_api_calls", 500)
	v.SetDefault("tushare.retry.max_attempts", 3)
	v.SetDefault("tushare.retry.base_delay", "2s")
	v.SetDefault("tushare.retry.multiplier", 2.0)

	v.SetDefault("backtest.initial_capital", 1000000.0)
	v.SetDefault("backtest.commission_rate", 0.0003)
	v.SetDefault("backtest.risk_free_rate", 0.03)
	v.SetDefault("backtest.data_source", "store")

	v.SetDefault("strategy.name", "momentum")
	v.SetDefault("strategy.lookback_period", 20)
	v.SetDefault("strategy.selection_ratio", 0.2)
	v.SetDefault("strategy.position_size", 0.3)
	v.SetDefault("strategy.stop_loss", -0.02)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.dsn", "data/market.db")
}

// LoadConfig reads configuration from file or environment variables.
// A .env file in the working directory, if any, is loaded first so that
// secrets such as TUSHARE_TOKEN can be kept out of the YAML file.
func LoadConfig(path string) (config Config, err error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	SetDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return config, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("failed to decode config: %w", err)
	}
	err = config.Validate()
	return
}

// Validate checks the values that would otherwise fail deep inside a run.
func (c Config) Validate() error {
	if c.Backtest.InitialCapital <= 0 {
		return fmt.Errorf("backtest.initial_capital must be positive, got %v", c.Backtest.InitialCapital)
	}
	if c.Strategy.PositionSize <= 0 || c.Strategy.PositionSize > 1 {
		return fmt.Errorf("strategy.position_size must be in (0, 1], got %v", c.Strategy.PositionSize)
	}
	if c.Strategy.SelectionRatio < 0 || c.Strategy.SelectionRatio > 1 {
		return fmt.Errorf("strategy.selection_ratio must be in [0, 1], got %v", c.Strategy.SelectionRatio)
	}
	if c.Strategy.LookbackPeriod < 1 {
		return fmt.Errorf("strategy.lookback_period must be at least 1, got %d", c.Strategy.LookbackPeriod)
	}
	if c.Tushare.Retry.MaxAttempts < 1 {
		return fmt.Errorf("tushare.retry.max_attempts must be at least 1, got %d", c.Tushare.Retry.MaxAttempts)
	}
	switch c.Backtest.DataSource {
	case "store", "tushare":
	default:
		return fmt.Errorf("backtest.data_source must be \"store\" or \"tushare\", got %q", c.Backtest.DataSource)
	}
	return nil
}
