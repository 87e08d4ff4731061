package market

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"coin-trader/internal/config"
)

// ErrBootstrapFailed 表示历史数据引导失败。带着不完整的历史开始交易
// 会让策略与追价逻辑基于过期数据做决定，必须视为致命错误。
var ErrBootstrapFailed = errors.New("market: 历史数据引导失败")

// HistoryProvider 提供指定区间的历史K线，由实盘连接器实现。
type HistoryProvider interface {
	HistoricCandles(ctx context.Context, start, end time.Time, granularity time.Duration) ([]Candle, error)
}

// LiveFeed 将实时成交流聚合为固定周期的K线。
// 聚合策略：窗口内至少有一笔成交才产出K线，空窗口直接跳过，
// 而不是沿用上一根的收盘价补一根平K线。
type LiveFeed struct {
	cfg     config.FeedConfig
	logger  *zap.Logger
	history HistoryProvider
	ticks   <-chan Match

	bc broadcaster

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewLiveFeed 创建实时行情源。ticks 为连接器提供的成交流。
func NewLiveFeed(cfg config.FeedConfig, history HistoryProvider, ticks <-chan Match, logger *zap.Logger) *LiveFeed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveFeed{
		cfg:     cfg,
		logger:  logger,
		history: history,
		ticks:   ticks,
	}
}

// Subscribe 注册一个K线订阅者。
func (f *LiveFeed) Subscribe(buffer int) <-chan Candle {
	return f.bc.subscribe(buffer)
}

// CurrentPrice 返回最近一笔成交价，引导完成前为零值。
func (f *LiveFeed) CurrentPrice() decimal.Decimal {
	return f.bc.currentPrice()
}

// Load 分批下载历史K线直到追平当前时间，并把尾部的预热K线重放给订阅者。
func (f *LiveFeed) Load(ctx context.Context) error {
	batchSpan := f.cfg.CandleDuration * time.Duration(f.cfg.BatchSize)
	rateDelay := time.Second / time.Duration(f.cfg.RequestsPerSecond)

	now := time.Now().UTC().Truncate(time.Minute)
	start := now.Add(-f.cfg.HistoryWindow)

	var points []Candle
	totalBatches := int(f.cfg.HistoryWindow/batchSpan) + 1
	batch := 0

	for start.Before(now) {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := start.Add(batchSpan)
		if end.After(now) {
			end = now
		}

		f.logger.Info("下载历史K线",
			zap.Time("start", start),
			zap.Time("end", end),
			zap.Int("batch", batch+1),
			zap.Int("total_batches", totalBatches),
		)

		var candles []Candle
		for attempt := 0; len(candles) == 0 && attempt < f.cfg.BootstrapRetries; attempt++ {
			var err error
			candles, err = f.history.HistoricCandles(ctx, start, end, f.cfg.CandleDuration)
			if err != nil {
				f.logger.Warn("历史K线请求失败",
					zap.Int("attempt", attempt+1),
					zap.Error(err),
				)
				candles = nil
			} else if len(candles) == 0 {
				f.logger.Warn("历史K线返回为空，准备重试", zap.Int("attempt", attempt+1))
			}

			if err := sleepCtx(ctx, rateDelay); err != nil {
				return err
			}
		}

		if len(candles) == 0 {
			return fmt.Errorf("%w: 区间 %s ~ %s 连续 %d 次无数据",
				ErrBootstrapFailed, start.Format(time.RFC3339), end.Format(time.RFC3339), f.cfg.BootstrapRetries)
		}

		points = append(points, candles...)
		start = start.Add(batchSpan)
		batch++
	}

	warmup := points
	if f.cfg.WarmupCandles > 0 && len(points) > f.cfg.WarmupCandles {
		warmup = points[len(points)-f.cfg.WarmupCandles:]
	}
	for _, candle := range warmup {
		f.bc.publish(candle)
	}

	f.logger.Info("历史数据引导完成",
		zap.Int("downloaded", len(points)),
		zap.Int("warmup", len(warmup)),
	)
	return nil
}

// Start 启动聚合循环。必须在 Load 成功之后调用。
func (f *LiveFeed) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return errors.New("market: 实时行情源已启动")
	}
	f.started = true

	runCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})

	go f.run(runCtx)
	return nil
}

func (f *LiveFeed) run(ctx context.Context) {
	defer close(f.done)
	defer f.bc.closeAll()

	ticker := time.NewTicker(f.cfg.CandleDuration)
	defer ticker.Stop()

	window := make([]Match, 0, 64)
	windowStart := time.Now().UTC()

	for {
		select {
		case <-ctx.Done():
			return
		case match, ok := <-f.ticks:
			if !ok {
				f.logger.Warn("成交流已关闭，停止K线聚合")
				return
			}
			window = append(window, match)
			f.bc.setPrice(match.Price)
		case <-ticker.C:
			if len(window) == 0 {
				windowStart = time.Now().UTC()
				continue
			}
			candle := aggregate(windowStart, window)
			f.logger.Debug("新K线聚合完成",
				zap.Int("ticks", len(window)),
				zap.String("close", candle.Close.String()),
			)
			f.bc.publish(candle)
			window = window[:0]
			windowStart = time.Now().UTC()
		}
	}
}

// Destroy 停止聚合循环，可重复调用。
func (f *LiveFeed) Destroy() {
	f.mu.Lock()
	cancel := f.cancel
	done := f.done
	f.cancel = nil
	f.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	f.bc.closeAll()
}

// aggregate 把窗口内的成交合成一根K线。
func aggregate(start time.Time, window []Match) Candle {
	first := window[0]
	last := window[len(window)-1]

	candle := Candle{
		Start: start,
		Open:  first.Price,
		Close: last.Price,
		Low:   first.Price,
		High:  first.Price,
	}
	for _, m := range window {
		if m.Price.LessThan(candle.Low) {
			candle.Low = m.Price
		}
		if m.Price.GreaterThan(candle.High) {
			candle.High = m.Price
		}
		candle.Volume = candle.Volume.Add(m.Volume)
	}
	return candle
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
