package exchange

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"coin-trader/internal/config"
	"coin-trader/internal/market"
)

// Simulated 为回测连接器：以行情源的K线收盘价构造盘口，
// 在内存中维护账户并用随机分片撮合订单。
type Simulated struct {
	cfg    config.BacktestConfig
	venue  config.VenueConfig
	logger *zap.Logger
	feed   market.Feed

	events chan Event

	mu       sync.Mutex
	balances Balances
	price    decimal.Decimal
	orders   map[string]*simOrder
	rng      *rand.Rand
	closed   bool

	cancelRun context.CancelFunc
	destroy   sync.Once
}

type simOrder struct {
	ticket    OrderTicket
	id        string
	remaining decimal.Decimal
	canceled  bool
	filled    bool
}

// NewSimulated 构造回测连接器，初始账户只有法币。
func NewSimulated(cfg config.BacktestConfig, venue config.VenueConfig, feed market.Feed, logger *zap.Logger) *Simulated {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulated{
		cfg:    cfg,
		venue:  venue,
		logger: logger,
		feed:   feed,
		events: make(chan Event, 256),
		balances: Balances{
			FiatAvailable: cfg.InitialFiat,
		},
		orders: make(map[string]*simOrder),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Events 返回异步事件通道。行情重放结束后通道被关闭。
func (s *Simulated) Events() <-chan Event {
	return s.events
}

// Start 订阅行情源并开始跟随K线更新盘口。
func (s *Simulated) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancelRun = cancel

	candles := s.feed.Subscribe(64)
	go s.followFeed(runCtx, candles)

	if current := s.feed.CurrentPrice(); current.IsPositive() {
		s.mu.Lock()
		s.price = current
		s.mu.Unlock()
	}

	s.logger.Info("回测连接器就绪",
		zap.String("initial_fiat", s.cfg.InitialFiat.String()),
		zap.String("spread", s.cfg.Spread.String()),
	)
	return nil
}

// AccountBalances 返回模拟账户的当前余额。
func (s *Simulated) AccountBalances(ctx context.Context) (Balances, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances, nil
}

// MarketPrices 以最近收盘价加减半个点差构造盘口。
func (s *Simulated) MarketPrices() (Quote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.price.IsPositive() {
		return Quote{}, false
	}
	half := s.cfg.Spread.Div(decimal.NewFromInt(2))
	bid := s.price.Sub(half)
	ask := s.price.Add(half)
	if !bid.IsPositive() {
		return Quote{}, false
	}
	return Quote{Bid: bid, Ask: ask}, true
}

// SubmitOrder 接受订单并启动随机撮合。资金不足时发出拒单事件。
func (s *Simulated) SubmitOrder(ctx context.Context, ticket OrderTicket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ticket.Side {
	case SideBuy:
		cost := ticket.Price.Mul(ticket.Size)
		if s.balances.FiatAvailable.LessThan(cost) {
			s.emitLocked(OrderRejected{
				ClientOID: ticket.ClientOID,
				Reason:    RejectInsufficientFunds,
				Message:   "insufficient funds",
			})
			return nil
		}
		s.balances.FiatAvailable = s.balances.FiatAvailable.Sub(cost)
		s.balances.FiatHold = s.balances.FiatHold.Add(cost)
	case SideSell:
		if s.balances.CryptoAvailable.LessThan(ticket.Size) {
			s.emitLocked(OrderRejected{
				ClientOID: ticket.ClientOID,
				Reason:    RejectInsufficientFunds,
				Message:   "insufficient funds",
			})
			return nil
		}
		s.balances.CryptoAvailable = s.balances.CryptoAvailable.Sub(ticket.Size)
		s.balances.CryptoHold = s.balances.CryptoHold.Add(ticket.Size)
	}

	order := &simOrder{
		ticket:    ticket,
		id:        uuid.NewString(),
		remaining: ticket.Size,
	}
	s.orders[order.id] = order
	s.emitLocked(OrderReceived{ID: order.id, ClientOID: ticket.ClientOID})
	s.emitLocked(OrderOpen{ID: order.id})

	go s.fillOrder(order)
	return nil
}

// CancelOrder 立即取消订单。已完全成交的订单返回"太迟"事件。
func (s *Simulated) CancelOrder(ctx context.Context, req CancelRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[req.ID]
	if !ok || order.filled {
		s.emitLocked(CancelRejected{ID: req.ID, TooLate: true})
		return nil
	}
	if order.canceled {
		return nil
	}
	order.canceled = true
	s.releaseHoldLocked(order)
	s.emitLocked(OrderCanceled{ID: req.ID, External: false})
	return nil
}

// Destroy 停止跟随行情。
func (s *Simulated) Destroy() {
	s.destroy.Do(func() {
		if s.cancelRun != nil {
			s.cancelRun()
		}
	})
}

func (s *Simulated) followFeed(ctx context.Context, candles <-chan market.Candle) {
	defer func() {
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case candle, ok := <-candles:
			if !ok {
				s.logger.Info("行情重放结束，回测连接器退出")
				return
			}
			s.mu.Lock()
			s.price = candle.Close
			s.mu.Unlock()

			if quote, ok := s.MarketPrices(); ok {
				s.emit(PriceChanged{Bid: quote.Bid, Ask: quote.Ask})
			}
		}
	}
}

// fillOrder 以随机分片撮合订单直到成交完毕或被取消。成交入账与
// 事件发送在同一临界区内完成，保证撤单确认之后不会再出现该订单的
// 成交事件。
func (s *Simulated) fillOrder(order *simOrder) {
	for {
		s.sleepLatency()

		s.mu.Lock()
		if order.canceled || order.filled {
			s.mu.Unlock()
			return
		}

		chunk := fillChunk(order.ticket.Size, order.remaining, s.rng)
		order.remaining = order.remaining.Sub(chunk)
		s.applyFillLocked(order.ticket, chunk)

		last := order.remaining.IsZero()
		if last {
			order.filled = true
		}
		s.emitLocked(OrderMatched{
			ID:        order.id,
			FillSize:  chunk,
			FillPrice: order.ticket.Price,
		})
		if last {
			s.emitLocked(OrderDone{ID: order.id})
		}
		s.mu.Unlock()

		if last {
			return
		}
	}
}

// fillChunk 按订单原始数量的随机倍数（0.5 到 3 倍）切分成交，
// 封顶为剩余数量，使小额订单也能走到部分成交路径。
func fillChunk(total, remaining decimal.Decimal, rng *rand.Rand) decimal.Decimal {
	chunk := total.Mul(decimal.NewFromFloat(0.5 + rng.Float64()*2.5))
	if chunk.GreaterThan(remaining) {
		chunk = remaining
	}
	return chunk
}

func (s *Simulated) applyFillLocked(ticket OrderTicket, size decimal.Decimal) {
	value := ticket.Price.Mul(size)
	switch ticket.Side {
	case SideBuy:
		s.balances.FiatHold = s.balances.FiatHold.Sub(value)
		s.balances.CryptoAvailable = s.balances.CryptoAvailable.Add(size)
	case SideSell:
		s.balances.CryptoHold = s.balances.CryptoHold.Sub(size)
		s.balances.FiatAvailable = s.balances.FiatAvailable.Add(value)
	}
}

func (s *Simulated) releaseHoldLocked(order *simOrder) {
	switch order.ticket.Side {
	case SideBuy:
		value := order.ticket.Price.Mul(order.remaining)
		s.balances.FiatHold = s.balances.FiatHold.Sub(value)
		s.balances.FiatAvailable = s.balances.FiatAvailable.Add(value)
	case SideSell:
		s.balances.CryptoHold = s.balances.CryptoHold.Sub(order.remaining)
		s.balances.CryptoAvailable = s.balances.CryptoAvailable.Add(order.remaining)
	}
}

func (s *Simulated) sleepLatency() {
	if !s.cfg.EmulateLatency {
		time.Sleep(time.Millisecond)
		return
	}
	time.Sleep(time.Duration(50+s.rng.Intn(200)) * time.Millisecond)
}

func (s *Simulated) emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(ev)
}

// emitLocked 在持锁状态下发送事件。关闭判断与发送同锁，避免向
// 已关闭的通道写入。
func (s *Simulated) emitLocked(ev Event) {
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("事件通道已满，丢弃事件", zap.Any("event", ev))
	}
}

var _ Connector = (*Simulated)(nil)
