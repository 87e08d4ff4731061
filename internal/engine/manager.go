package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"coin-trader/internal/account"
	"coin-trader/internal/config"
	"coin-trader/internal/exchange"
)

var (
	// ErrInvalidPrices 表示盘口尚未建立或价格不可信，本次交易尝试中止。
	ErrInvalidPrices = errors.New("engine: 盘口价格不可用")
	// ErrSessionClosed 表示交易所事件流已关闭，所有交易必须停止。
	ErrSessionClosed = errors.New("engine: 交易所事件流已关闭")
)

// Publisher 接收状态机产生的遥测事件。方法在管理器锁内调用，
// 实现必须快速返回且不得回调管理器。
type Publisher interface {
	TradePlaced(t TradeRecord)
	TradeStateChanged(t TradeRecord)
	OrderPlaced(o OrderRecord)
	OrderStateChanged(o OrderRecord)
	OrderFilled(o OrderRecord, f Fill)
}

// TradeStore 持久化交易快照。存储不是权威状态，实时状态始终由
// 连接器事件重建。
type TradeStore interface {
	SaveTrade(ctx context.Context, record TradeRecord) error
	LoadRecentTrades(ctx context.Context, n int) ([]TradeRecord, error)
}

type nopPublisher struct{}

func (nopPublisher) TradePlaced(TradeRecord)       {}
func (nopPublisher) TradeStateChanged(TradeRecord) {}
func (nopPublisher) OrderPlaced(OrderRecord)       {}
func (nopPublisher) OrderStateChanged(OrderRecord) {}
func (nopPublisher) OrderFilled(OrderRecord, Fill) {}

// Manager 为订单状态机：接收交易请求、驱动连接器、把异步回报
// 归并为订单与交易状态，并实现追价重试与拒单处理策略。
//
// 所有状态变更都在同一把互斥锁内完成，锁同时覆盖活动交易集合
// 与资金账本的配套操作，保证只有一个逻辑写者。
type Manager struct {
	cfg       config.EngineConfig
	venue     config.VenueConfig
	logger    *zap.Logger
	connector exchange.Connector
	ledger    *account.Ledger
	store     TradeStore
	publisher Publisher

	mu      sync.Mutex
	active  []*Trade
	history []TradeRecord

	// fundsRetries 统计每笔交易的资金不足拒单次数，订单被接收后清零。
	fundsRetries map[string]int
	// postOnlyRetries 统计每笔交易的 post-only 拒单次数。
	postOnlyRetries map[string]int
}

// NewManager 构造订单状态机。publisher 与 store 可为 nil。
func NewManager(
	cfg config.EngineConfig,
	venue config.VenueConfig,
	connector exchange.Connector,
	ledger *account.Ledger,
	store TradeStore,
	publisher Publisher,
	logger *zap.Logger,
) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	return &Manager{
		cfg:             cfg,
		venue:           venue,
		logger:          logger,
		connector:       connector,
		ledger:          ledger,
		store:           store,
		publisher:       publisher,
		fundsRetries:    make(map[string]int),
		postOnlyRetries: make(map[string]int),
	}
}

// SeedHistory 启动时从存储加载近期成交作为内存历史。
func (m *Manager) SeedHistory(ctx context.Context) error {
	if m.store == nil || m.cfg.HistorySeed <= 0 {
		return nil
	}
	records, err := m.store.LoadRecentTrades(ctx, m.cfg.HistorySeed)
	if err != nil {
		return fmt.Errorf("engine: 加载历史成交失败: %w", err)
	}

	m.mu.Lock()
	m.history = records
	m.mu.Unlock()

	m.logger.Info("历史成交已加载", zap.Int("count", len(records)))
	return nil
}

// Run 消费连接器事件直至上下文取消或会话中断。
func (m *Manager) Run(ctx context.Context) error {
	events := m.connector.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return ErrSessionClosed
			}
			m.dispatch(ctx, ev)
		}
	}
}

// Trade 执行一笔交易：撤掉所有在途订单（同一时刻只允许一笔交易
// 占用资金），定价、定量、预占资金后提交订单。
// 对已完成的交易调用是无操作。
func (m *Manager) Trade(ctx context.Context, t *Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.State == TradeComplete {
		m.logger.Info("交易已完成，忽略重复执行", zap.String("trade_id", t.ID))
		return nil
	}

	m.cancelAllLocked(ctx)

	tracked := m.trackedLocked(t)
	if !tracked {
		m.active = append(m.active, t)
	}
	err := m.beginTradeLocked(ctx, t)
	if err != nil && !tracked && len(t.Orders) == 0 {
		// 定价失败的交易没有产生任何状态，不能留在活动集合里。
		m.untrackLocked(t)
	}
	return err
}

// ActiveTrades 返回活动交易的快照。
func (m *Manager) ActiveTrades() []TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := make([]TradeRecord, 0, len(m.active))
	for _, t := range m.active {
		records = append(records, snapshotTrade(t))
	}
	return records
}

// History 返回已完成交易的快照。
func (m *Manager) History() []TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := make([]TradeRecord, len(m.history))
	copy(records, m.history)
	return records
}

func (m *Manager) dispatch(ctx context.Context, ev exchange.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch e := ev.(type) {
	case exchange.OrderReceived:
		m.onReceived(e)
	case exchange.OrderOpen:
		m.onOpen(e)
	case exchange.OrderMatched:
		m.onMatched(e)
	case exchange.OrderDone:
		m.onDone(e)
	case exchange.OrderCanceled:
		m.onCanceled(ctx, e)
	case exchange.OrderRejected:
		m.onRejected(ctx, e)
	case exchange.CancelRejected:
		m.onCancelRejected(e)
	case exchange.PriceChanged:
		m.onPriceChanged(ctx, e)
	}
}

// cancelAllLocked 对所有在途订单发出撤单。撤单按序发出，确认与
// 资金释放由后续的 OrderCanceled 事件完成。
func (m *Manager) cancelAllLocked(ctx context.Context) {
	for _, t := range m.active {
		o := t.workingOrder()
		if o == nil || o.pendingCancel {
			continue
		}
		if o.ID == "" {
			m.logger.Warn("订单尚未获得交易所订单号，无法撤单",
				zap.String("trade_id", t.ID),
				zap.String("client_oid", o.ClientOID),
			)
			continue
		}
		o.pendingCancel = true
		o.resubmit = false
		if err := m.connector.CancelOrder(ctx, exchange.CancelRequest{ID: o.ID, ClientOID: o.ClientOID}); err != nil {
			o.pendingCancel = false
			m.logger.Error("撤单请求失败",
				zap.String("trade_id", t.ID),
				zap.String("order_id", o.ID),
				zap.Error(err),
			)
		}
	}
}

// beginTradeLocked 为交易定价、定量并提交订单。首次调用确定数量，
// 之后的重试与追价沿用剩余数量。
func (m *Manager) beginTradeLocked(ctx context.Context, t *Trade) error {
	quote, ok := m.connector.MarketPrices()
	if !ok {
		m.logger.Error("盘口价格不可用，中止本次交易尝试", zap.String("trade_id", t.ID))
		return ErrInvalidPrices
	}

	price := m.suggestedPrice(t.Side, quote)

	if !t.sized {
		snap := m.ledger.Snapshot()
		var size decimal.Decimal
		switch t.Side {
		case exchange.SideBuy:
			size = snap.FiatAvailable.Div(price).Mul(t.Percent)
		case exchange.SideSell:
			size = snap.CryptoAvailable.Mul(t.Percent)
		}
		size = size.RoundDown(m.venue.SizePrecision)
		t.TotalSize = size
		t.RemainingSize = size
		t.sized = true
	}

	size := t.RemainingSize
	if size.LessThan(m.venue.MinOrderSize) {
		m.logger.Warn("数量低于最小下单量，放弃交易",
			zap.String("trade_id", t.ID),
			zap.String("size", size.String()),
			zap.String("min_order_size", m.venue.MinOrderSize.String()),
		)
		m.completeTradeLocked(t)
		return nil
	}

	// 资金预占必须发生在异步提交之前，避免其他交易占用同一笔资金。
	switch t.Side {
	case exchange.SideBuy:
		m.ledger.HoldFiat(size.Mul(price))
	case exchange.SideSell:
		m.ledger.HoldCrypto(size)
	}

	o := newOrder(t.Side, price, size)
	t.Orders = append(t.Orders, o)
	t.AskingPrice = price
	t.State = TradeOpen

	if len(t.Orders) == 1 {
		m.publisher.TradePlaced(snapshotTrade(t))
		m.saveTradeAsync(t)
	}
	m.publisher.OrderPlaced(snapshotOrder(t, o))

	m.logger.Info("提交订单",
		zap.String("trade_id", t.ID),
		zap.String("client_oid", o.ClientOID),
		zap.String("side", string(o.Side)),
		zap.String("price", price.String()),
		zap.String("size", size.String()),
	)

	ticket := exchange.OrderTicket{
		ClientOID: o.ClientOID,
		Side:      o.Side,
		Price:     price,
		Size:      size,
	}
	if err := m.connector.SubmitOrder(ctx, ticket); err != nil {
		// 传输层失败不等于交易所拒单：释放资金、记下失败的订单，
		// 交易保持活动，等待下一次盘口更新重新提交。
		m.releaseHoldLocked(o)
		o.State = OrderRejected
		o.RejectReason = exchange.RejectOther
		o.RejectMessage = err.Error()
		m.publisher.OrderStateChanged(snapshotOrder(t, o))
		m.logger.Error("订单提交失败，交易保持活动等待重试",
			zap.String("trade_id", t.ID),
			zap.Error(err),
		)
		return fmt.Errorf("engine: 订单提交失败: %w", err)
	}
	return nil
}

func (m *Manager) onReceived(ev exchange.OrderReceived) {
	t, o := m.findByClientOIDLocked(ev.ClientOID)
	if o == nil {
		return
	}
	o.ID = ev.ID
	if o.State == OrderPending {
		o.State = OrderReceived
	}
	// 交易所接收订单说明资金争用已经解除。
	delete(m.fundsRetries, t.ID)
	m.publisher.OrderStateChanged(snapshotOrder(t, o))
}

func (m *Manager) onOpen(ev exchange.OrderOpen) {
	t, o := m.findByIDLocked(ev.ID)
	if o == nil || o.terminal() {
		return
	}
	o.State = OrderOpen
	m.publisher.OrderStateChanged(snapshotOrder(t, o))
}

func (m *Manager) onMatched(ev exchange.OrderMatched) {
	t, o := m.findByIDLocked(ev.ID)
	if o == nil {
		return
	}
	// 撤单确认已释放该订单的预占资金，迟到的成交回报不能再入账。
	if o.terminal() {
		m.logger.Warn("订单已终结，忽略迟到的成交回报",
			zap.String("order_id", o.ID),
			zap.String("fill_size", ev.FillSize.String()),
		)
		return
	}

	size := ev.FillSize
	if size.GreaterThan(o.RemainingSize) {
		m.logger.Warn("成交数量超过订单剩余数量，按剩余数量截断",
			zap.String("order_id", o.ID),
			zap.String("fill_size", size.String()),
			zap.String("remaining", o.RemainingSize.String()),
		)
		size = o.RemainingSize
	}

	fill := Fill{
		ID:    uuid.NewString(),
		Time:  time.Now().UTC(),
		Size:  size,
		Price: ev.FillPrice,
	}
	o.Fills = append(o.Fills, fill)
	o.RemainingSize = o.RemainingSize.Sub(size)
	t.RemainingSize = t.RemainingSize.Sub(size)

	switch o.Side {
	case exchange.SideBuy:
		m.ledger.ApplyBuyFill(size, ev.FillPrice)
	case exchange.SideSell:
		m.ledger.ApplySellFill(size, ev.FillPrice)
	}

	m.publisher.OrderFilled(snapshotOrder(t, o), fill)
}

func (m *Manager) onDone(ev exchange.OrderDone) {
	t, o := m.findByIDLocked(ev.ID)
	if o == nil || o.terminal() {
		return
	}
	o.State = OrderDone
	o.pendingCancel = false
	o.resubmit = false
	m.publisher.OrderStateChanged(snapshotOrder(t, o))
	m.completeTradeLocked(t)
}

func (m *Manager) onCanceled(ctx context.Context, ev exchange.OrderCanceled) {
	t, o := m.findByIDLocked(ev.ID)
	if o == nil || o.terminal() {
		return
	}

	chase := o.resubmit && !ev.External
	o.State = OrderCanceled
	o.pendingCancel = false
	o.resubmit = false
	m.releaseHoldLocked(o)
	m.publisher.OrderStateChanged(snapshotOrder(t, o))

	if ev.External {
		m.logger.Warn("订单被交易所外部取消，交易结束",
			zap.String("trade_id", t.ID),
			zap.String("order_id", o.ID),
		)
		m.completeTradeLocked(t)
		return
	}
	if !chase {
		m.completeTradeLocked(t)
		return
	}

	// 追价路径：剩余数量不足最小下单量的尾量无法重新提交。
	if t.RemainingSize.LessThan(m.venue.MinOrderSize) {
		m.logger.Info("剩余数量不足最小下单量，交易按完成处理",
			zap.String("trade_id", t.ID),
			zap.String("remaining", t.RemainingSize.String()),
		)
		m.completeTradeLocked(t)
		return
	}
	if err := m.beginTradeLocked(ctx, t); err != nil {
		m.logger.Warn("追价重新提交失败，等待下一次盘口更新",
			zap.String("trade_id", t.ID),
			zap.Error(err),
		)
	}
}

func (m *Manager) onRejected(ctx context.Context, ev exchange.OrderRejected) {
	var t *Trade
	var o *Order
	if ev.ID != "" {
		t, o = m.findByIDLocked(ev.ID)
	}
	if o == nil && ev.ClientOID != "" {
		t, o = m.findByClientOIDLocked(ev.ClientOID)
	}
	if o == nil || o.terminal() {
		return
	}

	o.State = OrderRejected
	o.RejectReason = ev.Reason
	o.RejectMessage = ev.Message
	o.pendingCancel = false
	o.resubmit = false
	m.releaseHoldLocked(o)
	m.publisher.OrderStateChanged(snapshotOrder(t, o))

	switch ev.Reason {
	case exchange.RejectInsufficientFunds:
		// 撤单后交易所可能尚未释放资金，这类拒单通常是暂时的。
		m.fundsRetries[t.ID]++
		if m.fundsRetries[t.ID] <= m.cfg.InsufficientFundsRetryLimit {
			m.logger.Warn("资金不足拒单，整体重试",
				zap.String("trade_id", t.ID),
				zap.Int("attempt", m.fundsRetries[t.ID]),
			)
			if err := m.beginTradeLocked(ctx, t); err != nil {
				m.logger.Warn("重试提交失败，等待下一次盘口更新",
					zap.String("trade_id", t.ID),
					zap.Error(err),
				)
			}
			return
		}
		m.logger.Error("资金不足拒单超过重试上限，放弃交易",
			zap.String("trade_id", t.ID),
			zap.Int("limit", m.cfg.InsufficientFundsRetryLimit),
		)
		m.completeTradeLocked(t)
	case exchange.RejectPostOnly:
		m.postOnlyRetries[t.ID]++
		if m.cfg.PostOnlyRetryLimit == 0 || m.postOnlyRetries[t.ID] <= m.cfg.PostOnlyRetryLimit {
			m.logger.Info("post-only 拒单，重新定价后重试",
				zap.String("trade_id", t.ID),
				zap.Int("attempt", m.postOnlyRetries[t.ID]),
			)
			if err := m.beginTradeLocked(ctx, t); err != nil {
				m.logger.Warn("重试提交失败，等待下一次盘口更新",
					zap.String("trade_id", t.ID),
					zap.Error(err),
				)
			}
			return
		}
		m.logger.Error("post-only 拒单超过重试上限，放弃交易",
			zap.String("trade_id", t.ID),
			zap.Int("limit", m.cfg.PostOnlyRetryLimit),
		)
		m.completeTradeLocked(t)
	default:
		m.logger.Error("订单被拒绝，放弃交易",
			zap.String("trade_id", t.ID),
			zap.String("reason", string(ev.Reason)),
			zap.String("message", ev.Message),
		)
		m.completeTradeLocked(t)
	}
}

func (m *Manager) onCancelRejected(ev exchange.CancelRejected) {
	t, o := m.findByIDLocked(ev.ID)
	if o == nil {
		return
	}
	// 撤单太迟说明订单正在完成，后续的成交事件会修正状态。
	o.pendingCancel = false
	o.resubmit = false
	m.logger.Info("撤单被拒绝",
		zap.String("trade_id", t.ID),
		zap.String("order_id", o.ID),
		zap.Bool("too_late", ev.TooLate),
	)
}

// onPriceChanged 实现追价：对每个在途订单重新计算有利报价，
// 报价相对盘口不利漂移时撤单，撤单确认后重新提交。提交失败后
// 留在活动集合里的交易借盘口更新重试。
func (m *Manager) onPriceChanged(ctx context.Context, ev exchange.PriceChanged) {
	quote := exchange.Quote{Bid: ev.Bid, Ask: ev.Ask}
	working := 0
	var idle []*Trade
	for _, t := range m.active {
		o := t.workingOrder()
		if o == nil {
			idle = append(idle, t)
			continue
		}
		working++
		if o.pendingCancel || o.ID == "" {
			continue
		}

		suggested := m.suggestedPrice(t.Side, quote)
		drifted := (t.Side == exchange.SideSell && o.AskingPrice.GreaterThan(suggested)) ||
			(t.Side == exchange.SideBuy && o.AskingPrice.LessThan(suggested))
		if !drifted {
			continue
		}

		m.logger.Info("报价漂移，撤单追价",
			zap.String("trade_id", t.ID),
			zap.String("order_id", o.ID),
			zap.String("asking", o.AskingPrice.String()),
			zap.String("suggested", suggested.String()),
		)

		o.pendingCancel = true
		o.resubmit = true
		if err := m.connector.CancelOrder(ctx, exchange.CancelRequest{ID: o.ID, ClientOID: o.ClientOID}); err != nil {
			o.pendingCancel = false
			o.resubmit = false
			m.logger.Error("追价撤单失败",
				zap.String("trade_id", t.ID),
				zap.String("order_id", o.ID),
				zap.Error(err),
			)
		}
	}

	// 同一时刻只允许一笔交易占用资金：仅在没有在途订单时重试，
	// 且每次盘口更新只重试最近的一笔。
	if working == 0 && len(idle) > 0 {
		t := idle[len(idle)-1]
		if len(t.Orders) > 0 {
			if err := m.beginTradeLocked(ctx, t); err != nil {
				m.logger.Warn("重新提交失败，等待下一次盘口更新",
					zap.String("trade_id", t.ID),
					zap.Error(err),
				)
			}
		}
	}
}

// suggestedPrice 取盘口向内一个最小变动单位的有利价，保证订单
// 以 maker 身份挂入订单簿。
func (m *Manager) suggestedPrice(side exchange.Side, quote exchange.Quote) decimal.Decimal {
	if side == exchange.SideBuy {
		return quote.Ask.Sub(m.venue.PriceIncrement)
	}
	return quote.Bid.Add(m.venue.PriceIncrement)
}

func (m *Manager) releaseHoldLocked(o *Order) {
	if o.RemainingSize.IsZero() {
		return
	}
	switch o.Side {
	case exchange.SideBuy:
		m.ledger.ReleaseFiat(o.RemainingSize.Mul(o.AskingPrice))
	case exchange.SideSell:
		m.ledger.ReleaseCrypto(o.RemainingSize)
	}
}

// completeTradeLocked 结束交易并按标识过滤移出活动集合。
func (m *Manager) completeTradeLocked(t *Trade) {
	t.State = TradeComplete
	m.publisher.TradeStateChanged(snapshotTrade(t))
	m.untrackLocked(t)

	m.history = append(m.history, snapshotTrade(t))
	delete(m.fundsRetries, t.ID)
	delete(m.postOnlyRetries, t.ID)
	m.saveTradeAsync(t)

	m.logger.Info("交易结束",
		zap.String("trade_id", t.ID),
		zap.String("side", string(t.Side)),
		zap.String("total_size", t.TotalSize.String()),
		zap.String("remaining", t.RemainingSize.String()),
	)
}

func (m *Manager) saveTradeAsync(t *Trade) {
	if m.store == nil {
		return
	}
	record := snapshotTrade(t)
	go func() {
		if err := m.store.SaveTrade(context.Background(), record); err != nil {
			m.logger.Error("保存交易失败", zap.String("trade_id", record.ID), zap.Error(err))
		}
	}()
}

// untrackLocked 按标识把交易移出活动集合。
func (m *Manager) untrackLocked(t *Trade) {
	remaining := m.active[:0]
	for _, candidate := range m.active {
		if candidate != t {
			remaining = append(remaining, candidate)
		}
	}
	m.active = remaining
}

func (m *Manager) trackedLocked(t *Trade) bool {
	for _, candidate := range m.active {
		if candidate == t {
			return true
		}
	}
	return false
}

func (m *Manager) findByIDLocked(id string) (*Trade, *Order) {
	for i := len(m.active) - 1; i >= 0; i-- {
		t := m.active[i]
		for j := len(t.Orders) - 1; j >= 0; j-- {
			if t.Orders[j].ID == id {
				return t, t.Orders[j]
			}
		}
	}
	return nil, nil
}

func (m *Manager) findByClientOIDLocked(clientOID string) (*Trade, *Order) {
	for i := len(m.active) - 1; i >= 0; i-- {
		t := m.active[i]
		for j := len(t.Orders) - 1; j >= 0; j-- {
			if t.Orders[j].ClientOID == clientOID {
				return t, t.Orders[j]
			}
		}
	}
	return nil, nil
}
