package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	ccxt "github.com/ccxt/ccxt/go/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"coin-trader/internal/config"
	"coin-trader/internal/market"
)

// Coinbase 为实盘连接器：REST 会话负责下单、撤单、余额与历史K线，
// websocket 会话负责实时盘口、成交流与订单回报。
type Coinbase struct {
	cfg    config.ExchangeConfig
	venue  config.VenueConfig
	logger *zap.Logger

	rest      *ccxt.Coinbaseexchange
	symbol    string
	productID string

	events chan Event
	ticks  chan market.Match

	// 挂起请求列表：下单按客户端订单号关联，撤单按交易所订单号关联。
	pendingReceive pendingList
	pendingCancel  pendingList

	mu      sync.Mutex
	bestBid decimal.Decimal
	bestAsk decimal.Decimal
	ready   bool

	readyCh chan struct{}

	marketsMu     sync.Mutex
	marketsLoaded bool

	session *wsSession
	destroy sync.Once
	runStop context.CancelFunc
}

// NewCoinbase 构造实盘连接器。
func NewCoinbase(cfg config.ExchangeConfig, venue config.VenueConfig, logger *zap.Logger) *Coinbase {
	if logger == nil {
		logger = zap.NewNop()
	}

	userConfig := map[string]interface{}{
		"enableRateLimit": true,
	}
	if cfg.APIKey != "" {
		userConfig["apiKey"] = cfg.APIKey
	}
	if cfg.APISecret != "" {
		userConfig["secret"] = cfg.APISecret
	}
	if cfg.APIPass != "" {
		userConfig["password"] = cfg.APIPass
	}

	rest := ccxt.NewCoinbaseexchange(userConfig)
	if cfg.UseSandbox {
		rest.SetSandboxMode(true)
	}

	return &Coinbase{
		cfg:       cfg,
		venue:     venue,
		logger:    logger,
		rest:      rest,
		symbol:    cfg.Product(),
		productID: cfg.Crypto + "-" + cfg.Fiat,
		events:    make(chan Event, 256),
		ticks:     make(chan market.Match, 1024),
		readyCh:   make(chan struct{}),
	}
}

// Events 返回异步事件通道。会话中断时通道被关闭。
func (c *Coinbase) Events() <-chan Event {
	return c.events
}

// Ticks 返回公共成交流，供实时K线聚合使用。
func (c *Coinbase) Ticks() <-chan market.Match {
	return c.ticks
}

// Start 建立 REST 与 websocket 会话。只有两个会话都建立完成、
// 且盘口产生了第一组可用价格之后才返回成功。
func (c *Coinbase) Start(ctx context.Context) error {
	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.runStop = cancel

	session, err := dialWsSession(ctx, c.cfg, c.productID, c.logger)
	if err != nil {
		cancel()
		return fmt.Errorf("exchange: 建立行情会话失败: %w", err)
	}
	c.session = session

	go c.readLoop(runCtx)

	select {
	case <-ctx.Done():
		c.Destroy()
		return ctx.Err()
	case <-c.readyCh:
	}

	c.logger.Info("交易所连接器就绪",
		zap.String("symbol", c.symbol),
		zap.String("ws_url", c.cfg.WsURL),
	)
	return nil
}

// AccountBalances 从交易所拉取权威余额。
func (c *Coinbase) AccountBalances(ctx context.Context) (Balances, error) {
	var raw ccxt.Balances
	err := c.callWithRetry(ctx, "fetch_balance", func() error {
		result, err := c.rest.FetchBalance()
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return Balances{}, err
	}

	fiatFree, okFiat := lookupBalance(raw.Free, c.cfg.Fiat)
	cryptoFree, okCrypto := lookupBalance(raw.Free, c.cfg.Crypto)
	if !okFiat || !okCrypto {
		return Balances{}, fmt.Errorf("%w: %s/%s", ErrAccountsNotFound, c.cfg.Crypto, c.cfg.Fiat)
	}

	fiatUsed, _ := lookupBalance(raw.Used, c.cfg.Fiat)
	cryptoUsed, _ := lookupBalance(raw.Used, c.cfg.Crypto)

	return Balances{
		FiatAvailable:   fiatFree,
		FiatHold:        fiatUsed,
		CryptoAvailable: cryptoFree,
		CryptoHold:      cryptoUsed,
	}, nil
}

// MarketPrices 返回当前盘口最优价。盘口未建立或价格低于
// 合理下限时返回假，调用方必须暂停交易。
func (c *Coinbase) MarketPrices() (Quote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ready {
		return Quote{}, false
	}
	if c.bestBid.LessThan(c.venue.PriceSanityFloor) || c.bestAsk.LessThan(c.venue.PriceSanityFloor) {
		return Quote{}, false
	}
	return Quote{Bid: c.bestBid, Ask: c.bestAsk}, true
}

// SubmitOrder 提交 post-only 限价单。交易所拒单通过 OrderRejected
// 事件送达，返回错误仅代表传输层失败。
func (c *Coinbase) SubmitOrder(ctx context.Context, ticket OrderTicket) error {
	c.pendingReceive.add(ticket.ClientOID, ticket)

	params := map[string]interface{}{
		"post_only":  true,
		"client_oid": ticket.ClientOID,
	}

	err := c.callWithRetry(ctx, "create_limit_order", func() error {
		_, err := c.rest.CreateLimitOrder(
			c.symbol,
			string(ticket.Side),
			ticket.Size.InexactFloat64(),
			ticket.Price.InexactFloat64(),
			ccxt.WithCreateLimitOrderParams(params),
		)
		return err
	})
	if err == nil {
		return nil
	}

	if _, found := c.pendingReceive.take(ticket.ClientOID); !found {
		// 回报先于 REST 响应到达，订单实际已被接收。
		return nil
	}

	if IsRetryable(err) {
		return fmt.Errorf("exchange: 下单失败: %w", err)
	}

	reason, message := ClassifyReject(err)
	c.logger.Warn("订单被交易所拒绝",
		zap.String("client_oid", ticket.ClientOID),
		zap.String("reason", string(reason)),
		zap.String("message", message),
	)
	c.emit(OrderRejected{ClientOID: ticket.ClientOID, Reason: reason, Message: message})
	return nil
}

// CancelOrder 请求撤单。订单已完成导致的撤单失败通过
// CancelRejected{TooLate} 事件送达，不视为错误。
func (c *Coinbase) CancelOrder(ctx context.Context, req CancelRequest) error {
	c.pendingCancel.add(req.ID, OrderTicket{ClientOID: req.ClientOID})

	err := c.callWithRetry(ctx, "cancel_order", func() error {
		_, err := c.rest.CancelOrder(req.ID, ccxt.WithCancelOrderSymbol(c.symbol))
		return err
	})
	if err == nil {
		return nil
	}

	c.pendingCancel.take(req.ID)
	if IsCancelTooLate(err) {
		c.emit(CancelRejected{ID: req.ID, TooLate: true})
		return nil
	}
	return fmt.Errorf("exchange: 撤单失败: %w", err)
}

// HistoricCandles 拉取一段历史K线，供实时行情源引导使用。
func (c *Coinbase) HistoricCandles(ctx context.Context, start, end time.Time, granularity time.Duration) ([]market.Candle, error) {
	if err := c.ensureMarketsLoaded(ctx); err != nil {
		return nil, err
	}

	limit := int64(end.Sub(start)/granularity) + 1

	var raw []ccxt.OHLCV
	err := c.callWithRetry(ctx, "fetch_ohlcv", func() error {
		result, err := c.rest.FetchOHLCV(
			c.symbol,
			ccxt.WithFetchOHLCVTimeframe(timeframeString(granularity)),
			ccxt.WithFetchOHLCVSince(start.UnixMilli()),
			ccxt.WithFetchOHLCVLimit(limit),
		)
		if err != nil {
			return err
		}
		raw = result
		return nil
	})
	if err != nil {
		return nil, err
	}

	candles := make([]market.Candle, 0, len(raw))
	for _, item := range raw {
		ts := time.UnixMilli(item.Timestamp).UTC()
		if !ts.Before(end) {
			continue
		}
		candles = append(candles, market.Candle{
			Start:  ts,
			Open:   decimal.NewFromFloat(item.Open),
			High:   decimal.NewFromFloat(item.High),
			Low:    decimal.NewFromFloat(item.Low),
			Close:  decimal.NewFromFloat(item.Close),
			Volume: decimal.NewFromFloat(item.Volume),
		})
	}
	return candles, nil
}

// Destroy 关闭全部会话，可重复调用。
func (c *Coinbase) Destroy() {
	c.destroy.Do(func() {
		if c.runStop != nil {
			c.runStop()
		}
		if c.session != nil {
			c.session.close()
		}
	})
}

func (c *Coinbase) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("事件通道已满，丢弃事件", zap.Any("event", ev))
	}
}

func (c *Coinbase) ensureMarketsLoaded(ctx context.Context) error {
	if c.marketsLoaded {
		return nil
	}

	c.marketsMu.Lock()
	defer c.marketsMu.Unlock()

	if c.marketsLoaded {
		return nil
	}

	loadErr := c.callWithRetry(ctx, "load_markets", func() error {
		_, err := c.rest.LoadMarkets()
		return err
	})
	if loadErr != nil {
		return loadErr
	}

	c.marketsLoaded = true
	c.logger.Info("已完成市场元数据加载", zap.String("symbol", c.symbol))
	return nil
}

func (c *Coinbase) callWithRetry(ctx context.Context, operation string, fn func() error) error {
	attempt := 0
	delay := c.cfg.Retry.MinDelay
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	maxDelay := c.cfg.Retry.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 5 * time.Second
	}

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		attempt++
		start := time.Now()
		err := fn()
		duration := time.Since(start)
		if err == nil {
			if attempt > 1 {
				c.logger.Info("交易所调用重试后成功",
					zap.String("operation", operation),
					zap.Int("attempts", attempt),
					zap.Duration("latency", duration),
				)
			}
			return nil
		}

		if !c.isTransient(err) || attempt >= c.cfg.Retry.MaxAttempts {
			return err
		}

		wait := delay
		if wait > maxDelay {
			wait = maxDelay
		}

		c.logger.Warn("交易所调用失败，等待重试",
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

func (c *Coinbase) isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if IsRetryable(err) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func lookupBalance(m map[string]*float64, code string) (decimal.Decimal, bool) {
	if m == nil {
		return decimal.Zero, false
	}
	value, ok := m[code]
	if !ok || value == nil {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(*value), true
}

// timeframeString 把时间窗口转为 ccxt 的 timeframe 表示。
func timeframeString(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

var _ Connector = (*Coinbase)(nil)
var _ market.HistoryProvider = (*Coinbase)(nil)
