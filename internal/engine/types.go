package engine

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"coin-trader/internal/exchange"
)

// OrderState 表示订单生命周期状态。Done、Canceled、Rejected 为终态，
// 订单到达终态后不再复用。
type OrderState string

const (
	OrderPending  OrderState = "pending"
	OrderReceived OrderState = "received"
	OrderOpen     OrderState = "open"
	OrderDone     OrderState = "done"
	OrderCanceled OrderState = "canceled"
	OrderRejected OrderState = "rejected"
)

// TradeState 表示交易生命周期状态。
type TradeState string

const (
	TradePending  TradeState = "pending"
	TradeOpen     TradeState = "open"
	TradeComplete TradeState = "complete"
)

// Fill 为一笔成交记录，创建后不再修改。
type Fill struct {
	ID    string
	Time  time.Time
	Size  decimal.Decimal
	Price decimal.Decimal
}

// Order 为提交到交易所的单个订单。状态迁移完全由连接器事件驱动。
type Order struct {
	// ClientOID 在提交前本地生成，用于在交易所分配订单号之前关联回报。
	ClientOID string
	// ID 为交易所在接收订单后分配的订单号。
	ID            string
	Side          exchange.Side
	TotalSize     decimal.Decimal
	AskingPrice   decimal.Decimal
	RemainingSize decimal.Decimal
	State         OrderState
	Fills         []Fill
	RejectReason  exchange.RejectReason
	RejectMessage string

	// pendingCancel 表示已发出撤单请求、尚未收到确认。
	pendingCancel bool
	// resubmit 表示撤单确认后按当前盘口重新定价提交（追价路径）。
	resubmit bool
}

func newOrder(side exchange.Side, price, size decimal.Decimal) *Order {
	return &Order{
		ClientOID:     uuid.NewString(),
		Side:          side,
		TotalSize:     size,
		AskingPrice:   price,
		RemainingSize: size,
		State:         OrderPending,
	}
}

func (o *Order) terminal() bool {
	switch o.State {
	case OrderDone, OrderCanceled, OrderRejected:
		return true
	default:
		return false
	}
}

// working 判断订单是否还挂在交易所侧。
func (o *Order) working() bool {
	switch o.State {
	case OrderPending, OrderReceived, OrderOpen:
		return true
	default:
		return false
	}
}

// Trade 为一次交易意图。正常只有一个订单，追价会追加新订单，
// 任意时刻最多一个订单处于工作状态。
type Trade struct {
	ID      string
	Date    time.Time
	Side    exchange.Side
	Percent decimal.Decimal
	// AskingPrice 跟随当前工作订单的报价。
	AskingPrice decimal.Decimal
	// TotalSize 在首次定价时确定，RemainingSize 随成交递减，
	// 并在追价的新订单之间延续。
	TotalSize     decimal.Decimal
	RemainingSize decimal.Decimal
	Orders        []*Order
	State         TradeState

	// sized 表示已完成首次定量，重试与追价不再重新计算数量。
	sized bool
}

// NewTrade 构造一次待执行的交易。
func NewTrade(side exchange.Side, percent decimal.Decimal) *Trade {
	return &Trade{
		ID:      uuid.NewString(),
		Date:    time.Now().UTC(),
		Side:    side,
		Percent: percent,
		State:   TradePending,
	}
}

// workingOrder 返回当前挂在交易所侧的订单，没有则返回 nil。
func (t *Trade) workingOrder() *Order {
	for i := len(t.Orders) - 1; i >= 0; i-- {
		if t.Orders[i].working() {
			return t.Orders[i]
		}
	}
	return nil
}

// TradeRecord 为交易的不可变快照，用于持久化与事件发布。
type TradeRecord struct {
	ID            string
	Date          time.Time
	Side          exchange.Side
	Percent       decimal.Decimal
	AskingPrice   decimal.Decimal
	TotalSize     decimal.Decimal
	RemainingSize decimal.Decimal
	State         TradeState
	OrderCount    int
}

// OrderRecord 为订单的不可变快照。
type OrderRecord struct {
	TradeID       string
	ClientOID     string
	ID            string
	Side          exchange.Side
	AskingPrice   decimal.Decimal
	TotalSize     decimal.Decimal
	RemainingSize decimal.Decimal
	State         OrderState
	RejectReason  exchange.RejectReason
	RejectMessage string
}

func snapshotTrade(t *Trade) TradeRecord {
	return TradeRecord{
		ID:            t.ID,
		Date:          t.Date,
		Side:          t.Side,
		Percent:       t.Percent,
		AskingPrice:   t.AskingPrice,
		TotalSize:     t.TotalSize,
		RemainingSize: t.RemainingSize,
		State:         t.State,
		OrderCount:    len(t.Orders),
	}
}

func snapshotOrder(t *Trade, o *Order) OrderRecord {
	return OrderRecord{
		TradeID:       t.ID,
		ClientOID:     o.ClientOID,
		ID:            o.ID,
		Side:          o.Side,
		AskingPrice:   o.AskingPrice,
		TotalSize:     o.TotalSize,
		RemainingSize: o.RemainingSize,
		State:         o.State,
		RejectReason:  o.RejectReason,
		RejectMessage: o.RejectMessage,
	}
}
