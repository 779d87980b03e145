package infra

import (
	"fmt"
	"os"
	"time"

	"emerald_exchange/internal/engine"
	"emerald_exchange/internal/infra/storage"
	"emerald_exchange/internal/service"

	"gopkg.in/yaml.v3"
)

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 민감 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name     string `yaml:"name"`
		Version  string `yaml:"version"`
		Currency string `yaml:"currency"` // display symbol, e.g. "$"
	} `yaml:"app"`

	Prices struct {
		Buy  float64 `yaml:"buy"`  // what a trader pays per unit
		Sell float64 `yaml:"sell"` // what a trader receives per unit
	} `yaml:"prices"`

	DynamicPricing struct {
		Enabled            bool    `yaml:"enabled"`
		MinPrice           float64 `yaml:"min_price"`
		MaxPrice           float64 `yaml:"max_price"`
		WindowSec          int     `yaml:"window_sec"`
		UpdateIntervalSec  int     `yaml:"update_interval_sec"`
		DemandSensitivity  float64 `yaml:"demand_sensitivity"`
		SupplySensitivity  float64 `yaml:"supply_sensitivity"`
		DepletionRate      float64 `yaml:"depletion_rate"`
		RecoveryPeriodSec  int     `yaml:"recovery_period_sec"`
		MaxImpactPerTrade  int64   `yaml:"max_impact_per_trade"`
		TransactionTaxRate float64 `yaml:"transaction_tax_rate"`
	} `yaml:"dynamic_pricing"`

	Limits struct {
		// Pointer so an explicit 0 (cooldown disabled) survives
		// defaulting.
		CooldownSec      *int `yaml:"cooldown_sec"`
		RateLimitEnabled bool `yaml:"rate_limit_enabled"`
		MaxPerMinute     int  `yaml:"max_per_minute"`
	} `yaml:"limits"`

	Storage struct {
		Backend           string `yaml:"backend"` // postgres | sqlite | yaml
		DataDir           string `yaml:"data_dir"`
		SQLiteFile        string `yaml:"sqlite_file"`
		HealthIntervalSec int    `yaml:"health_interval_sec"`

		Postgres struct {
			Host     string `yaml:"host"`
			Port     int    `yaml:"port"`
			User     string `yaml:"user"`
			Password string `yaml:"password"`
			Database string `yaml:"database"`
			SSLMode  string `yaml:"ssl_mode"`
			PoolSize int    `yaml:"pool_size"`
		} `yaml:"postgres"`
	} `yaml:"storage"`

	TransactionLog struct {
		File    string `yaml:"file"`
		Console bool   `yaml:"console"`
	} `yaml:"transaction_log"`

	Feed struct {
		Enabled     bool   `yaml:"enabled"`
		ListenAddr  string `yaml:"listen_addr"`
		IntervalSec int    `yaml:"interval_sec"`
	} `yaml:"feed"`

	Logging struct {
		Level      string `yaml:"level"`
		Dir        string `yaml:"dir"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"logging"`
}

// applyDefaults는 생략된 필드를 운영 기본값으로 채웁니다.
func (c *Config) applyDefaults() {
	if c.App.Currency == "" {
		c.App.Currency = "$"
	}
	if c.Prices.Buy == 0 {
		c.Prices.Buy = 9.5
	}
	if c.Prices.Sell == 0 {
		c.Prices.Sell = 10.0
	}
	d := &c.DynamicPricing
	if d.MinPrice == 0 {
		d.MinPrice = 1.0
	}
	if d.MaxPrice == 0 {
		d.MaxPrice = 1000.0
	}
	if d.WindowSec == 0 {
		d.WindowSec = 300
	}
	if d.UpdateIntervalSec == 0 {
		d.UpdateIntervalSec = 5
	}
	if d.DemandSensitivity == 0 {
		d.DemandSensitivity = 0.02
	}
	if d.SupplySensitivity == 0 {
		d.SupplySensitivity = 0.02
	}
	if d.DepletionRate == 0 {
		d.DepletionRate = 0.0001
	}
	if d.RecoveryPeriodSec == 0 {
		d.RecoveryPeriodSec = 3600
	}
	if d.MaxImpactPerTrade == 0 {
		d.MaxImpactPerTrade = 100
	}
	if d.TransactionTaxRate == 0 {
		d.TransactionTaxRate = 0.05
	}
	if c.Limits.CooldownSec == nil {
		cooldown := 3
		c.Limits.CooldownSec = &cooldown
	}
	if c.Limits.MaxPerMinute == 0 {
		c.Limits.MaxPerMinute = 20
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "yaml"
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "data"
	}
	if c.Storage.SQLiteFile == "" {
		c.Storage.SQLiteFile = "exchange.db"
	}
	if c.Storage.HealthIntervalSec == 0 {
		c.Storage.HealthIntervalSec = 30
	}
	if c.Storage.Postgres.Port == 0 {
		c.Storage.Postgres.Port = 5432
	}
	if c.Storage.Postgres.SSLMode == "" {
		c.Storage.Postgres.SSLMode = "disable"
	}
	if c.TransactionLog.File == "" {
		c.TransactionLog.File = "transactions.log"
	}
	if c.Feed.ListenAddr == "" {
		c.Feed.ListenAddr = ":8787"
	}
	if c.Feed.IntervalSec == 0 {
		c.Feed.IntervalSec = 5
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
	if c.Logging.File == "" {
		c.Logging.File = "exchange.log"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 10
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = 28
	}
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	// 보안 우선 - 환경 변수 오버라이드 지원
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	d := &c.DynamicPricing
	if d.MinPrice <= 0 || d.MaxPrice <= d.MinPrice {
		return fmt.Errorf("price bounds must satisfy 0 < min < max, got [%v, %v]", d.MinPrice, d.MaxPrice)
	}
	if c.Prices.Buy < d.MinPrice || c.Prices.Buy > d.MaxPrice {
		return fmt.Errorf("base buy price %v outside bounds [%v, %v]", c.Prices.Buy, d.MinPrice, d.MaxPrice)
	}
	if c.Prices.Sell < d.MinPrice || c.Prices.Sell > d.MaxPrice {
		return fmt.Errorf("base sell price %v outside bounds [%v, %v]", c.Prices.Sell, d.MinPrice, d.MaxPrice)
	}
	if d.DemandSensitivity < 0 || d.SupplySensitivity < 0 {
		return fmt.Errorf("sensitivities must be non-negative")
	}
	if d.DepletionRate < 0 {
		return fmt.Errorf("depletion rate must be non-negative")
	}
	if d.TransactionTaxRate < 0 || d.TransactionTaxRate >= 1 {
		return fmt.Errorf("transaction tax rate must be in [0, 1), got %v", d.TransactionTaxRate)
	}
	if d.WindowSec <= 0 || d.UpdateIntervalSec <= 0 {
		return fmt.Errorf("pricing window and update interval must be positive")
	}
	if d.MaxImpactPerTrade <= 0 {
		return fmt.Errorf("max impact per trade must be positive")
	}
	if c.Limits.MaxPerMinute <= 0 {
		return fmt.Errorf("rate limit ceiling must be positive")
	}
	if c.Limits.CooldownSec != nil && *c.Limits.CooldownSec < 0 {
		return fmt.Errorf("cooldown must be non-negative, got %d", *c.Limits.CooldownSec)
	}
	if c.Storage.Backend == "postgres" && c.Storage.Postgres.Host == "" {
		return fmt.Errorf("postgres backend selected but no host configured")
	}
	return nil
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	if pass := os.Getenv("EXCHANGE_DB_PASSWORD"); pass != "" {
		cfg.Storage.Postgres.Password = pass
	}
	if host := os.Getenv("EXCHANGE_DB_HOST"); host != "" {
		cfg.Storage.Postgres.Host = host
	}
	if backend := os.Getenv("EXCHANGE_STORAGE_BACKEND"); backend != "" {
		cfg.Storage.Backend = backend
	}
}

// EngineSettings maps the configuration onto the pricing engine.
func (c *Config) EngineSettings() engine.Settings {
	d := &c.DynamicPricing
	return engine.Settings{
		Enabled:           d.Enabled,
		BaseBuy:           c.Prices.Buy,
		BaseSell:          c.Prices.Sell,
		MinPrice:          d.MinPrice,
		MaxPrice:          d.MaxPrice,
		Window:            time.Duration(d.WindowSec) * time.Second,
		UpdateInterval:    time.Duration(d.UpdateIntervalSec) * time.Second,
		DemandSensitivity: d.DemandSensitivity,
		SupplySensitivity: d.SupplySensitivity,
		DepletionRate:     d.DepletionRate,
		RecoveryPeriod:    time.Duration(d.RecoveryPeriodSec) * time.Second,
		MaxImpact:         d.MaxImpactPerTrade,
		TaxRate:           d.TransactionTaxRate,
	}
}

// LimiterConfig maps the configuration onto the rate limiter.
func (c *Config) LimiterConfig() service.LimiterConfig {
	cooldown := 0
	if c.Limits.CooldownSec != nil {
		cooldown = *c.Limits.CooldownSec
	}
	return service.LimiterConfig{
		Cooldown:     time.Duration(cooldown) * time.Second,
		Enabled:      c.Limits.RateLimitEnabled,
		MaxPerMinute: c.Limits.MaxPerMinute,
		Window:       time.Minute,
	}
}

// StorageOptions maps the configuration onto the storage gateway.
func (c *Config) StorageOptions() storage.Options {
	p := &c.Storage.Postgres
	dsn := ""
	if p.Host != "" {
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
			p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
	}
	return storage.Options{
		Preferred:        storage.KindFromString(c.Storage.Backend),
		DataDir:          c.Storage.DataDir,
		SQLiteFile:       c.Storage.SQLiteFile,
		PostgresDSN:      dsn,
		PostgresPoolSize: p.PoolSize,
		HealthInterval:   time.Duration(c.Storage.HealthIntervalSec) * time.Second,
	}
}
