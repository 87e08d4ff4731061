package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

// Config 聚合了交易引擎运行所需的全部配置项。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Venue    VenueConfig    `mapstructure:"venue"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Backtest BacktestConfig `mapstructure:"backtest"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// 运行模式。
const (
	ModeLive     = "live"
	ModeBacktest = "backtest"
)

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
	Mode        string `mapstructure:"mode"`
	MonitorPort int    `mapstructure:"monitor_port"`
}

// ExchangeConfig 描述交易所连接信息。
type ExchangeConfig struct {
	Name       string      `mapstructure:"name"`
	Crypto     string      `mapstructure:"crypto"`
	Fiat       string      `mapstructure:"fiat"`
	APIKey     string      `mapstructure:"api_key"`
	APISecret  string      `mapstructure:"api_secret"`
	APIPass    string      `mapstructure:"api_password"`
	WsURL      string      `mapstructure:"ws_url"`
	UseSandbox bool        `mapstructure:"use_sandbox"`
	Retry      RetryConfig `mapstructure:"retry"`
}

// Product 返回交易对符号，例如 BTC/USD。
func (c ExchangeConfig) Product() string {
	return c.Crypto + "/" + c.Fiat
}

// VenueConfig 描述交易所的市场约束参数。
type VenueConfig struct {
	// MinOrderSize 为交易所允许的最小下单数量。
	MinOrderSize decimal.Decimal `mapstructure:"min_order_size"`
	// PriceIncrement 为报价的最小变动单位，追价时以此为步长。
	PriceIncrement decimal.Decimal `mapstructure:"price_increment"`
	// SizePrecision 为下单数量的小数位数，计算结果向下取整到该精度。
	SizePrecision int32 `mapstructure:"size_precision"`
	// PriceSanityFloor 低于该值的盘口价格视为不可信，拒绝交易。
	PriceSanityFloor decimal.Decimal `mapstructure:"price_sanity_floor"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// FeedConfig 控制K线聚合与历史数据引导。
type FeedConfig struct {
	// CandleDuration 为单根K线覆盖的时间窗口。
	CandleDuration time.Duration `mapstructure:"candle_duration"`
	// HistoryWindow 为启动时需要回补的历史区间。
	HistoryWindow time.Duration `mapstructure:"history_window"`
	// BatchSize 为单次历史请求最多返回的K线数量。
	BatchSize int `mapstructure:"batch_size"`
	// RequestsPerSecond 为历史请求的限速。
	RequestsPerSecond int `mapstructure:"requests_per_second"`
	// BootstrapRetries 为单批数据为空时的最大重试次数。
	BootstrapRetries int `mapstructure:"bootstrap_retries"`
	// WarmupCandles 为引导完成后向策略重放的K线数量。
	WarmupCandles int `mapstructure:"warmup_candles"`
}

// EngineConfig 控制订单状态机的重试策略。
type EngineConfig struct {
	// InsufficientFundsRetryLimit 为资金不足拒单的最大整体重试次数。
	InsufficientFundsRetryLimit int `mapstructure:"insufficient_funds_retry_limit"`
	// PostOnlyRetryLimit 为 post-only 拒单的最大重价重试次数，0 表示不限制。
	PostOnlyRetryLimit int `mapstructure:"post_only_retry_limit"`
	// HistorySeed 为启动时从数据库加载的历史成交数量。
	HistorySeed int `mapstructure:"history_seed"`
}

// BacktestConfig 控制回测模式的行情重放与模拟撮合。
type BacktestConfig struct {
	DataFile       string          `mapstructure:"data_file"`
	InitialFiat    decimal.Decimal `mapstructure:"initial_fiat"`
	ReplayDelay    time.Duration   `mapstructure:"replay_delay"`
	Spread         decimal.Decimal `mapstructure:"spread"`
	EmulateLatency bool            `mapstructure:"emulate_latency"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.App.Mode != ModeLive && c.App.Mode != ModeBacktest {
		err = multierr.Append(err, fmt.Errorf("app.mode 必须为 %s 或 %s", ModeLive, ModeBacktest))
	}
	if c.Exchange.Crypto == "" || c.Exchange.Fiat == "" {
		err = multierr.Append(err, errors.New("exchange.crypto 与 exchange.fiat 不能为空"))
	}
	if c.App.Mode == ModeLive {
		if c.Exchange.APIKey == "" || c.Exchange.APISecret == "" {
			err = multierr.Append(err, errors.New("实盘模式下 exchange.api_key 与 exchange.api_secret 不能为空"))
		}
		if c.Exchange.WsURL == "" {
			err = multierr.Append(err, errors.New("实盘模式下 exchange.ws_url 不能为空"))
		}
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}
	if !c.Venue.MinOrderSize.IsPositive() {
		err = multierr.Append(err, errors.New("venue.min_order_size 必须为正"))
	}
	if !c.Venue.PriceIncrement.IsPositive() {
		err = multierr.Append(err, errors.New("venue.price_increment 必须为正"))
	}
	if c.Venue.SizePrecision < 0 {
		err = multierr.Append(err, errors.New("venue.size_precision 不能为负"))
	}
	if c.Venue.PriceSanityFloor.IsNegative() {
		err = multierr.Append(err, errors.New("venue.price_sanity_floor 不能为负"))
	}
	if c.Feed.CandleDuration <= 0 {
		err = multierr.Append(err, errors.New("feed.candle_duration 必须为正"))
	}
	if c.Feed.HistoryWindow < c.Feed.CandleDuration {
		err = multierr.Append(err, errors.New("feed.history_window 不能小于 candle_duration"))
	}
	if c.Feed.BatchSize <= 0 {
		err = multierr.Append(err, errors.New("feed.batch_size 必须大于0"))
	}
	if c.Feed.RequestsPerSecond <= 0 {
		err = multierr.Append(err, errors.New("feed.requests_per_second 必须大于0"))
	}
	if c.Feed.BootstrapRetries <= 0 {
		err = multierr.Append(err, errors.New("feed.bootstrap_retries 必须大于0"))
	}
	if c.Engine.InsufficientFundsRetryLimit <= 0 {
		err = multierr.Append(err, errors.New("engine.insufficient_funds_retry_limit 必须大于0"))
	}
	if c.Engine.PostOnlyRetryLimit < 0 {
		err = multierr.Append(err, errors.New("engine.post_only_retry_limit 不能为负"))
	}
	if c.App.Mode == ModeBacktest {
		if c.Backtest.DataFile == "" {
			err = multierr.Append(err, errors.New("回测模式下 backtest.data_file 不能为空"))
		}
		if !c.Backtest.InitialFiat.IsPositive() {
			err = multierr.Append(err, errors.New("backtest.initial_fiat 必须为正"))
		}
	}
	if !c.Database.InMemory && c.Database.Path == "" {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}

	return err
}
