package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "coin"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.mode", ModeBacktest)
	v.SetDefault("app.monitor_port", 8090)

	v.SetDefault("exchange.name", "coinbaseexchange")
	v.SetDefault("exchange.crypto", "BTC")
	v.SetDefault("exchange.fiat", "USD")
	v.SetDefault("exchange.ws_url", "wss://ws-feed.exchange.coinbase.com")
	v.SetDefault("exchange.use_sandbox", false)
	v.SetDefault("exchange.retry.max_attempts", 5)
	v.SetDefault("exchange.retry.min_delay", "500ms")
	v.SetDefault("exchange.retry.max_delay", "5s")

	v.SetDefault("venue.min_order_size", "0.01")
	v.SetDefault("venue.price_increment", "0.01")
	v.SetDefault("venue.size_precision", 8)
	v.SetDefault("venue.price_sanity_floor", "100")

	v.SetDefault("feed.candle_duration", "30s")
	v.SetDefault("feed.history_window", "6h")
	v.SetDefault("feed.batch_size", 190)
	v.SetDefault("feed.requests_per_second", 3)
	v.SetDefault("feed.bootstrap_retries", 3)
	v.SetDefault("feed.warmup_candles", 425)

	v.SetDefault("engine.insufficient_funds_retry_limit", 10)
	v.SetDefault("engine.post_only_retry_limit", 20)
	v.SetDefault("engine.history_seed", 50)

	v.SetDefault("backtest.data_file", "data/gdax_historical_btc-usd_120d_15m.csv")
	v.SetDefault("backtest.initial_fiat", "10000")
	v.SetDefault("backtest.replay_delay", "25ms")
	v.SetDefault("backtest.spread", "1")
	v.SetDefault("backtest.emulate_latency", false)

	v.SetDefault("database.path", "data/coin_trader.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			stringToDecimalHookFunc(),
		)
	}
}

// stringToDecimalHookFunc 将字符串或数字配置值解析为 decimal.Decimal。
// 资金相关配置必须走十进制，避免浮点误差进入下单路径。
func stringToDecimalHookFunc() mapstructure.DecodeHookFuncType {
	decimalType := reflect.TypeOf(decimal.Decimal{})
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != decimalType {
			return data, nil
		}
		switch value := data.(type) {
		case string:
			return decimal.NewFromString(value)
		case int:
			return decimal.NewFromInt(int64(value)), nil
		case int64:
			return decimal.NewFromInt(value), nil
		case float64:
			return decimal.NewFromString(fmt.Sprintf("%v", value))
		default:
			return data, nil
		}
	}
}
