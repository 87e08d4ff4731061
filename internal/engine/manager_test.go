package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"coin-trader/internal/account"
	"coin-trader/internal/config"
	"coin-trader/internal/exchange"
)

type mockConnector struct {
	events    chan exchange.Event
	quote     exchange.Quote
	hasQuote  bool
	submitted []exchange.OrderTicket
	canceled  []exchange.CancelRequest
	submitErr error
}

func newMockConnector() *mockConnector {
	return &mockConnector{
		events:   make(chan exchange.Event, 64),
		hasQuote: true,
	}
}

func (m *mockConnector) Start(ctx context.Context) error { return nil }

func (m *mockConnector) AccountBalances(ctx context.Context) (exchange.Balances, error) {
	return exchange.Balances{}, nil
}

func (m *mockConnector) MarketPrices() (exchange.Quote, bool) {
	return m.quote, m.hasQuote
}

func (m *mockConnector) SubmitOrder(ctx context.Context, ticket exchange.OrderTicket) error {
	if m.submitErr != nil {
		return m.submitErr
	}
	m.submitted = append(m.submitted, ticket)
	return nil
}

func (m *mockConnector) CancelOrder(ctx context.Context, req exchange.CancelRequest) error {
	m.canceled = append(m.canceled, req)
	return nil
}

func (m *mockConnector) Events() <-chan exchange.Event { return m.events }

func (m *mockConnector) Destroy() {}

func d(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func testVenue() config.VenueConfig {
	return config.VenueConfig{
		MinOrderSize:     d("0.01"),
		PriceIncrement:   d("0.01"),
		SizePrecision:    8,
		PriceSanityFloor: d("100"),
	}
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		InsufficientFundsRetryLimit: 10,
		PostOnlyRetryLimit:          20,
	}
}

func newTestManager(conn *mockConnector, ledger *account.Ledger) *Manager {
	return NewManager(testEngineConfig(), testVenue(), conn, ledger, nil, nil, nil)
}

// lastTicket 返回最近一次提交的订单。
func lastTicket(t *testing.T, conn *mockConnector) exchange.OrderTicket {
	t.Helper()
	if len(conn.submitted) == 0 {
		t.Fatal("expected at least one submitted order")
	}
	return conn.submitted[len(conn.submitted)-1]
}

func TestTradeBuySizingAndHold(t *testing.T) {
	conn := newMockConnector()
	conn.quote = exchange.Quote{Bid: d("99.99"), Ask: d("100.01")}

	ledger := account.New()
	ledger.SetBalances(exchange.Balances{FiatAvailable: d("1000")})

	m := newTestManager(conn, ledger)
	trade := NewTrade(exchange.SideBuy, d("0.5"))

	if err := m.Trade(context.Background(), trade); err != nil {
		t.Fatalf("Trade returned error: %v", err)
	}

	ticket := lastTicket(t, conn)
	if !ticket.Price.Equal(d("100")) {
		t.Errorf("expected asking price 100 (ask - increment), got %s", ticket.Price)
	}
	if !ticket.Size.Equal(d("5")) {
		t.Errorf("expected size 5 (1000/100*0.5), got %s", ticket.Size)
	}

	snap := ledger.Snapshot()
	if !snap.FiatHold.Equal(d("500")) {
		t.Errorf("expected fiat hold 500, got %s", snap.FiatHold)
	}
	if !snap.FiatAvailable.Equal(d("500")) {
		t.Errorf("expected fiat available 500, got %s", snap.FiatAvailable)
	}
}

func TestTradeOnCompleteTradeIsNoop(t *testing.T) {
	conn := newMockConnector()
	conn.quote = exchange.Quote{Bid: d("99.99"), Ask: d("100.01")}

	ledger := account.New()
	ledger.SetBalances(exchange.Balances{FiatAvailable: d("1000")})

	m := newTestManager(conn, ledger)
	trade := NewTrade(exchange.SideBuy, d("0.5"))
	trade.State = TradeComplete

	if err := m.Trade(context.Background(), trade); err != nil {
		t.Fatalf("Trade returned error: %v", err)
	}
	if len(conn.submitted) != 0 {
		t.Errorf("expected no submissions for completed trade, got %d", len(conn.submitted))
	}
	snap := ledger.Snapshot()
	if !snap.FiatHold.IsZero() {
		t.Errorf("expected no funds held, got %s", snap.FiatHold)
	}
}

func TestTradeAbortsWithoutPrices(t *testing.T) {
	conn := newMockConnector()
	conn.hasQuote = false

	ledger := account.New()
	ledger.SetBalances(exchange.Balances{FiatAvailable: d("1000")})

	m := newTestManager(conn, ledger)
	trade := NewTrade(exchange.SideBuy, d("0.5"))

	if err := m.Trade(context.Background(), trade); err != ErrInvalidPrices {
		t.Fatalf("expected ErrInvalidPrices, got %v", err)
	}
	if len(conn.submitted) != 0 {
		t.Errorf("expected no submissions, got %d", len(conn.submitted))
	}
	if !ledger.Snapshot().FiatHold.IsZero() {
		t.Error("expected no funds held after aborted trade")
	}
	if len(m.ActiveTrades()) != 0 {
		t.Error("expected aborted trade not to linger in the active set")
	}
}

func TestSubmitFailureKeepsTradeRetriable(t *testing.T) {
	conn := newMockConnector()
	conn.quote = exchange.Quote{Bid: d("99.99"), Ask: d("100.01")}
	conn.submitErr = errors.New("dial tcp: connection refused")

	ledger := account.New()
	ledger.SetBalances(exchange.Balances{FiatAvailable: d("1000")})

	m := newTestManager(conn, ledger)
	ctx := context.Background()

	trade := NewTrade(exchange.SideBuy, d("0.5"))
	if err := m.Trade(ctx, trade); err == nil {
		t.Fatal("expected submit failure to surface as an error")
	}

	if trade.State == TradeComplete {
		t.Error("expected trade not to be terminated by a transport failure")
	}
	if len(m.ActiveTrades()) != 1 {
		t.Fatalf("expected trade to stay active, got %d active trades", len(m.ActiveTrades()))
	}
	snap := ledger.Snapshot()
	if !snap.FiatHold.IsZero() || !snap.FiatAvailable.Equal(d("1000")) {
		t.Errorf("expected hold released after failed submit, got hold=%s available=%s",
			snap.FiatHold, snap.FiatAvailable)
	}

	// 传输恢复后，下一次盘口更新触发重新提交
	conn.submitErr = nil
	m.dispatch(ctx, exchange.PriceChanged{Bid: d("99.99"), Ask: d("100.01")})

	if len(conn.submitted) != 1 {
		t.Fatalf("expected resubmission on next price update, got %d", len(conn.submitted))
	}
	if !ledger.Snapshot().FiatHold.Equal(d("500")) {
		t.Errorf("expected funds held again for the retry, got %s", ledger.Snapshot().FiatHold)
	}
}

func TestTradeBelowMinimumSizeAbandons(t *testing.T) {
	conn := newMockConnector()
	conn.quote = exchange.Quote{Bid: d("99.99"), Ask: d("100.01")}

	ledger := account.New()
	ledger.SetBalances(exchange.Balances{FiatAvailable: d("1")})

	m := newTestManager(conn, ledger)
	trade := NewTrade(exchange.SideBuy, d("0.5"))

	if err := m.Trade(context.Background(), trade); err != nil {
		t.Fatalf("Trade returned error: %v", err)
	}
	// 1/100*0.5 = 0.005 < 0.01 最小下单量
	if len(conn.submitted) != 0 {
		t.Errorf("expected no submissions, got %d", len(conn.submitted))
	}
	if trade.State != TradeComplete {
		t.Errorf("expected trade complete, got %s", trade.State)
	}
	if len(m.ActiveTrades()) != 0 {
		t.Error("expected trade moved out of active set")
	}
}

func TestFillRoundTrip(t *testing.T) {
	conn := newMockConnector()
	conn.quote = exchange.Quote{Bid: d("99.99"), Ask: d("100.01")}

	ledger := account.New()
	ledger.SetBalances(exchange.Balances{FiatAvailable: d("1000")})

	m := newTestManager(conn, ledger)
	trade := NewTrade(exchange.SideBuy, d("0.5"))
	ctx := context.Background()

	if err := m.Trade(ctx, trade); err != nil {
		t.Fatalf("Trade returned error: %v", err)
	}
	coid := lastTicket(t, conn).ClientOID

	m.dispatch(ctx, exchange.OrderReceived{ID: "venue-1", ClientOID: coid})
	m.dispatch(ctx, exchange.OrderOpen{ID: "venue-1"})
	m.dispatch(ctx, exchange.OrderMatched{ID: "venue-1", FillSize: d("2"), FillPrice: d("100")})
	m.dispatch(ctx, exchange.OrderMatched{ID: "venue-1", FillSize: d("3"), FillPrice: d("100")})

	order := trade.Orders[0]
	var filled decimal.Decimal
	for _, f := range order.Fills {
		filled = filled.Add(f.Size)
	}
	if !order.RemainingSize.Equal(order.TotalSize.Sub(filled)) {
		t.Errorf("invariant violated: remaining %s != total %s - fills %s",
			order.RemainingSize, order.TotalSize, filled)
	}

	m.dispatch(ctx, exchange.OrderDone{ID: "venue-1"})

	if !order.RemainingSize.IsZero() {
		t.Errorf("expected remaining size 0, got %s", order.RemainingSize)
	}
	if trade.State != TradeComplete {
		t.Errorf("expected trade complete, got %s", trade.State)
	}

	snap := ledger.Snapshot()
	if !snap.FiatHold.IsZero() {
		t.Errorf("expected fiat hold 0 after full fill, got %s", snap.FiatHold)
	}
	if !snap.CryptoAvailable.Equal(d("5")) {
		t.Errorf("expected crypto available 5, got %s", snap.CryptoAvailable)
	}
	if !snap.FiatAvailable.Equal(d("500")) {
		t.Errorf("expected fiat available 500, got %s", snap.FiatAvailable)
	}

	history := m.History()
	if len(history) != 1 || history[0].ID != trade.ID {
		t.Fatalf("expected trade in history, got %+v", history)
	}
}

func TestSingleActiveTradePolicy(t *testing.T) {
	conn := newMockConnector()
	conn.quote = exchange.Quote{Bid: d("99.99"), Ask: d("100.01")}

	ledger := account.New()
	ledger.SetBalances(exchange.Balances{FiatAvailable: d("1000"), CryptoAvailable: d("10")})

	m := newTestManager(conn, ledger)
	ctx := context.Background()

	first := NewTrade(exchange.SideBuy, d("0.5"))
	if err := m.Trade(ctx, first); err != nil {
		t.Fatalf("first Trade returned error: %v", err)
	}
	m.dispatch(ctx, exchange.OrderReceived{ID: "venue-1", ClientOID: lastTicket(t, conn).ClientOID})

	second := NewTrade(exchange.SideSell, d("0.5"))
	if err := m.Trade(ctx, second); err != nil {
		t.Fatalf("second Trade returned error: %v", err)
	}

	if len(conn.canceled) != 1 || conn.canceled[0].ID != "venue-1" {
		t.Fatalf("expected cancel of first order, got %+v", conn.canceled)
	}

	// 撤单确认后第一笔交易结束，活动集合里只剩新交易持有工作订单
	m.dispatch(ctx, exchange.OrderCanceled{ID: "venue-1", External: false})

	if first.State != TradeComplete {
		t.Errorf("expected displaced trade complete, got %s", first.State)
	}

	working := 0
	for _, record := range m.ActiveTrades() {
		if record.State == TradeOpen {
			working++
		}
	}
	if working != 1 {
		t.Errorf("expected exactly one active trade with an open order, got %d", working)
	}
}

func TestPriceChaseCancelsAndResubmits(t *testing.T) {
	conn := newMockConnector()
	conn.quote = exchange.Quote{Bid: d("100"), Ask: d("100.02")}

	ledger := account.New()
	ledger.SetBalances(exchange.Balances{CryptoAvailable: d("10")})

	m := newTestManager(conn, ledger)
	ctx := context.Background()

	trade := NewTrade(exchange.SideSell, d("0.5"))
	if err := m.Trade(ctx, trade); err != nil {
		t.Fatalf("Trade returned error: %v", err)
	}
	if !lastTicket(t, conn).Price.Equal(d("100.01")) {
		t.Fatalf("expected initial price 100.01, got %s", lastTicket(t, conn).Price)
	}
	m.dispatch(ctx, exchange.OrderReceived{ID: "venue-1", ClientOID: lastTicket(t, conn).ClientOID})
	m.dispatch(ctx, exchange.OrderOpen{ID: "venue-1"})

	// 买价下跌，卖单报价高于新的有利价，触发撤单
	conn.quote = exchange.Quote{Bid: d("99"), Ask: d("99.02")}
	m.dispatch(ctx, exchange.PriceChanged{Bid: d("99"), Ask: d("99.02")})

	if len(conn.canceled) != 1 {
		t.Fatalf("expected one cancel request, got %d", len(conn.canceled))
	}

	m.dispatch(ctx, exchange.OrderCanceled{ID: "venue-1", External: false})

	if len(conn.submitted) != 2 {
		t.Fatalf("expected resubmission, got %d submissions", len(conn.submitted))
	}
	resubmitted := lastTicket(t, conn)
	if !resubmitted.Price.Equal(d("99.01")) {
		t.Errorf("expected resubmit price 99.01, got %s", resubmitted.Price)
	}
	if !resubmitted.Size.Equal(d("5")) {
		t.Errorf("expected resubmit size 5 (carried over), got %s", resubmitted.Size)
	}
	if trade.State != TradeOpen {
		t.Errorf("expected trade still open, got %s", trade.State)
	}
}

func TestLateFillAfterChaseCancelIsIgnored(t *testing.T) {
	conn := newMockConnector()
	conn.quote = exchange.Quote{Bid: d("100"), Ask: d("100.02")}

	ledger := account.New()
	ledger.SetBalances(exchange.Balances{CryptoAvailable: d("10")})

	m := newTestManager(conn, ledger)
	ctx := context.Background()

	trade := NewTrade(exchange.SideSell, d("0.5"))
	if err := m.Trade(ctx, trade); err != nil {
		t.Fatalf("Trade returned error: %v", err)
	}
	m.dispatch(ctx, exchange.OrderReceived{ID: "venue-1", ClientOID: lastTicket(t, conn).ClientOID})
	m.dispatch(ctx, exchange.OrderOpen{ID: "venue-1"})

	conn.quote = exchange.Quote{Bid: d("99"), Ask: d("99.02")}
	m.dispatch(ctx, exchange.PriceChanged{Bid: d("99"), Ask: d("99.02")})
	m.dispatch(ctx, exchange.OrderCanceled{ID: "venue-1", External: false})

	if len(conn.submitted) != 2 {
		t.Fatalf("expected resubmission, got %d submissions", len(conn.submitted))
	}
	m.dispatch(ctx, exchange.OrderReceived{ID: "venue-2", ClientOID: lastTicket(t, conn).ClientOID})
	m.dispatch(ctx, exchange.OrderOpen{ID: "venue-2"})

	// 旧订单撤单确认后才送达的成交回报不得入账
	m.dispatch(ctx, exchange.OrderMatched{ID: "venue-1", FillSize: d("2"), FillPrice: d("100.01")})

	if len(trade.Orders[0].Fills) != 0 {
		t.Errorf("expected no fills on the canceled order, got %d", len(trade.Orders[0].Fills))
	}
	if !trade.RemainingSize.Equal(d("5")) {
		t.Errorf("expected trade remaining 5, got %s", trade.RemainingSize)
	}
	if !ledger.Snapshot().CryptoHold.Equal(d("5")) {
		t.Errorf("expected replacement order hold intact at 5, got %s", ledger.Snapshot().CryptoHold)
	}

	// 替换订单全部成交，账本必须守恒收平
	m.dispatch(ctx, exchange.OrderMatched{ID: "venue-2", FillSize: d("5"), FillPrice: d("99.01")})
	m.dispatch(ctx, exchange.OrderDone{ID: "venue-2"})

	snap := ledger.Snapshot()
	if !snap.CryptoHold.IsZero() {
		t.Errorf("expected crypto hold 0 after full fill, got %s", snap.CryptoHold)
	}
	if !snap.CryptoAvailable.Equal(d("5")) {
		t.Errorf("expected crypto available 5 (only 5 of 10 sold), got %s", snap.CryptoAvailable)
	}
	if !snap.FiatAvailable.Equal(d("495.05")) {
		t.Errorf("expected fiat proceeds 495.05, got %s", snap.FiatAvailable)
	}
}

func TestPriceChaseDustCompletesTrade(t *testing.T) {
	conn := newMockConnector()
	conn.quote = exchange.Quote{Bid: d("100"), Ask: d("100.02")}

	ledger := account.New()
	ledger.SetBalances(exchange.Balances{CryptoAvailable: d("10")})

	m := newTestManager(conn, ledger)
	ctx := context.Background()

	trade := NewTrade(exchange.SideSell, d("0.5"))
	if err := m.Trade(ctx, trade); err != nil {
		t.Fatalf("Trade returned error: %v", err)
	}
	m.dispatch(ctx, exchange.OrderReceived{ID: "venue-1", ClientOID: lastTicket(t, conn).ClientOID})
	m.dispatch(ctx, exchange.OrderOpen{ID: "venue-1"})

	// 成交后剩余 0.005，低于最小下单量 0.01
	m.dispatch(ctx, exchange.OrderMatched{ID: "venue-1", FillSize: d("4.995"), FillPrice: d("100.01")})

	conn.quote = exchange.Quote{Bid: d("99"), Ask: d("99.02")}
	m.dispatch(ctx, exchange.PriceChanged{Bid: d("99"), Ask: d("99.02")})
	m.dispatch(ctx, exchange.OrderCanceled{ID: "venue-1", External: false})

	if len(conn.submitted) != 1 {
		t.Errorf("expected no resubmission for dust remainder, got %d submissions", len(conn.submitted))
	}
	if trade.State != TradeComplete {
		t.Errorf("expected trade complete, got %s", trade.State)
	}
	if !ledger.Snapshot().CryptoHold.IsZero() {
		t.Errorf("expected crypto hold released, got %s", ledger.Snapshot().CryptoHold)
	}
}

func TestInsufficientFundsRetryCap(t *testing.T) {
	conn := newMockConnector()
	conn.quote = exchange.Quote{Bid: d("99.99"), Ask: d("100.01")}

	ledger := account.New()
	ledger.SetBalances(exchange.Balances{FiatAvailable: d("1000")})

	m := newTestManager(conn, ledger)
	ctx := context.Background()

	trade := NewTrade(exchange.SideBuy, d("0.5"))
	if err := m.Trade(ctx, trade); err != nil {
		t.Fatalf("Trade returned error: %v", err)
	}

	for i := 0; i < 11; i++ {
		m.dispatch(ctx, exchange.OrderRejected{
			ClientOID: lastTicket(t, conn).ClientOID,
			Reason:    exchange.RejectInsufficientFunds,
			Message:   "insufficient funds",
		})
	}

	// 初始提交 1 次，前 10 次拒单各重试一次，第 11 次不再重试
	if len(conn.submitted) != 11 {
		t.Errorf("expected 11 submissions (initial + 10 retries), got %d", len(conn.submitted))
	}
	if trade.State != TradeComplete {
		t.Errorf("expected trade abandoned, got %s", trade.State)
	}

	snap := ledger.Snapshot()
	if !snap.FiatHold.IsZero() {
		t.Errorf("expected all holds released, got %s", snap.FiatHold)
	}
	if !snap.FiatAvailable.Equal(d("1000")) {
		t.Errorf("expected fiat available restored to 1000, got %s", snap.FiatAvailable)
	}
}

func TestPostOnlyRejectRetriesWithFreshPrice(t *testing.T) {
	conn := newMockConnector()
	conn.quote = exchange.Quote{Bid: d("99.99"), Ask: d("100.01")}

	ledger := account.New()
	ledger.SetBalances(exchange.Balances{FiatAvailable: d("1000")})

	m := newTestManager(conn, ledger)
	ctx := context.Background()

	trade := NewTrade(exchange.SideBuy, d("0.5"))
	if err := m.Trade(ctx, trade); err != nil {
		t.Fatalf("Trade returned error: %v", err)
	}

	conn.quote = exchange.Quote{Bid: d("100.99"), Ask: d("101.01")}
	m.dispatch(ctx, exchange.OrderRejected{
		ClientOID: lastTicket(t, conn).ClientOID,
		Reason:    exchange.RejectPostOnly,
		Message:   "post only mode",
	})

	if len(conn.submitted) != 2 {
		t.Fatalf("expected immediate retry, got %d submissions", len(conn.submitted))
	}
	if !lastTicket(t, conn).Price.Equal(d("101")) {
		t.Errorf("expected recomputed price 101, got %s", lastTicket(t, conn).Price)
	}
}

func TestRejectTooSmallAbandons(t *testing.T) {
	conn := newMockConnector()
	conn.quote = exchange.Quote{Bid: d("99.99"), Ask: d("100.01")}

	ledger := account.New()
	ledger.SetBalances(exchange.Balances{FiatAvailable: d("1000")})

	m := newTestManager(conn, ledger)
	ctx := context.Background()

	trade := NewTrade(exchange.SideBuy, d("0.5"))
	if err := m.Trade(ctx, trade); err != nil {
		t.Fatalf("Trade returned error: %v", err)
	}

	m.dispatch(ctx, exchange.OrderRejected{
		ClientOID: lastTicket(t, conn).ClientOID,
		Reason:    exchange.RejectTooSmall,
		Message:   "size too small",
	})

	if len(conn.submitted) != 1 {
		t.Errorf("expected no retry for too-small rejection, got %d submissions", len(conn.submitted))
	}
	if trade.State != TradeComplete {
		t.Errorf("expected trade abandoned, got %s", trade.State)
	}
	if !ledger.Snapshot().FiatAvailable.Equal(d("1000")) {
		t.Errorf("expected funds restored, got %s", ledger.Snapshot().FiatAvailable)
	}
}

func TestExternalCancelCompletesTrade(t *testing.T) {
	conn := newMockConnector()
	conn.quote = exchange.Quote{Bid: d("99.99"), Ask: d("100.01")}

	ledger := account.New()
	ledger.SetBalances(exchange.Balances{FiatAvailable: d("1000")})

	m := newTestManager(conn, ledger)
	ctx := context.Background()

	trade := NewTrade(exchange.SideBuy, d("0.5"))
	if err := m.Trade(ctx, trade); err != nil {
		t.Fatalf("Trade returned error: %v", err)
	}
	m.dispatch(ctx, exchange.OrderReceived{ID: "venue-1", ClientOID: lastTicket(t, conn).ClientOID})
	m.dispatch(ctx, exchange.OrderOpen{ID: "venue-1"})

	m.dispatch(ctx, exchange.OrderCanceled{ID: "venue-1", External: true})

	if trade.State != TradeComplete {
		t.Errorf("expected trade complete after external cancel, got %s", trade.State)
	}
	if len(conn.submitted) != 1 {
		t.Errorf("expected no resubmission after external cancel, got %d", len(conn.submitted))
	}
	if !ledger.Snapshot().FiatAvailable.Equal(d("1000")) {
		t.Errorf("expected funds restored, got %s", ledger.Snapshot().FiatAvailable)
	}
}

func TestCancelTooLateKeepsOrderWorking(t *testing.T) {
	conn := newMockConnector()
	conn.quote = exchange.Quote{Bid: d("100"), Ask: d("100.02")}

	ledger := account.New()
	ledger.SetBalances(exchange.Balances{CryptoAvailable: d("10")})

	m := newTestManager(conn, ledger)
	ctx := context.Background()

	trade := NewTrade(exchange.SideSell, d("0.5"))
	if err := m.Trade(ctx, trade); err != nil {
		t.Fatalf("Trade returned error: %v", err)
	}
	m.dispatch(ctx, exchange.OrderReceived{ID: "venue-1", ClientOID: lastTicket(t, conn).ClientOID})
	m.dispatch(ctx, exchange.OrderOpen{ID: "venue-1"})

	conn.quote = exchange.Quote{Bid: d("99"), Ask: d("99.02")}
	m.dispatch(ctx, exchange.PriceChanged{Bid: d("99"), Ask: d("99.02")})
	m.dispatch(ctx, exchange.CancelRejected{ID: "venue-1", TooLate: true})

	// 撤单太迟：订单实际在成交，随后的事件修正状态
	m.dispatch(ctx, exchange.OrderMatched{ID: "venue-1", FillSize: d("5"), FillPrice: d("100.01")})
	m.dispatch(ctx, exchange.OrderDone{ID: "venue-1"})

	if trade.State != TradeComplete {
		t.Errorf("expected trade complete, got %s", trade.State)
	}
	if !trade.RemainingSize.IsZero() {
		t.Errorf("expected remaining size 0, got %s", trade.RemainingSize)
	}
}
