package market

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"coin-trader/internal/config"
)

// HistoricalFeed 按固定节奏重放 CSV 文件中的历史K线，用于回测。
// 重新调用 Load 会从头开始重放，以支持反复回测。
type HistoricalFeed struct {
	cfg    config.BacktestConfig
	logger *zap.Logger

	bc *broadcaster

	mu      sync.Mutex
	candles []Candle
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewHistoricalFeed 创建历史行情源。
func NewHistoricalFeed(cfg config.BacktestConfig, logger *zap.Logger) *HistoricalFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoricalFeed{
		cfg:    cfg,
		logger: logger,
		bc:     &broadcaster{},
	}
}

// Subscribe 注册一个K线订阅者。
func (f *HistoricalFeed) Subscribe(buffer int) <-chan Candle {
	return f.bc.subscribe(buffer)
}

// CurrentPrice 返回最近重放的收盘价。
func (f *HistoricalFeed) CurrentPrice() decimal.Decimal {
	return f.bc.currentPrice()
}

// Load 读取历史K线文件并重置重放进度。
func (f *HistoricalFeed) Load(ctx context.Context) error {
	file, err := os.Open(f.cfg.DataFile)
	if err != nil {
		return fmt.Errorf("market: 打开历史数据文件失败: %w", err)
	}
	defer file.Close()

	candles, err := ReadCandles(file)
	if err != nil {
		return err
	}
	if len(candles) == 0 {
		return fmt.Errorf("market: 历史数据文件 %s 为空", f.cfg.DataFile)
	}

	f.mu.Lock()
	f.candles = candles
	f.started = false
	// 重新加载意味着新一轮重放，订阅关系随之重建。
	f.bc = &broadcaster{}
	f.mu.Unlock()

	f.logger.Info("历史K线加载完成",
		zap.String("file", f.cfg.DataFile),
		zap.Int("candles", len(candles)),
	)
	return nil
}

// Start 开始按 ReplayDelay 的节奏重放全部K线，重放完成后关闭订阅通道。
func (f *HistoricalFeed) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.candles) == 0 {
		return errors.New("market: 必须先调用 Load")
	}
	if f.started {
		return errors.New("market: 历史行情源已启动")
	}
	f.started = true

	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})

	candles := f.candles
	done := f.done
	bc := f.bc
	go f.replay(runCtx, candles, bc, done)
	return nil
}

func (f *HistoricalFeed) replay(ctx context.Context, candles []Candle, bc *broadcaster, done chan struct{}) {
	defer close(done)
	defer bc.closeAll()

	for _, candle := range candles {
		if err := sleepCtx(ctx, f.cfg.ReplayDelay); err != nil {
			return
		}
		bc.publish(candle)
	}

	f.logger.Info("历史K线重放完毕", zap.Int("candles", len(candles)))
}

// Destroy 停止重放，可重复调用。
func (f *HistoricalFeed) Destroy() {
	f.mu.Lock()
	cancel := f.cancel
	done := f.done
	bc := f.bc
	f.cancel = nil
	f.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	bc.closeAll()
}

var _ Feed = (*HistoricalFeed)(nil)
var _ Feed = (*LiveFeed)(nil)
