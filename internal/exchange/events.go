package exchange

import "github.com/shopspring/decimal"

// Side 表示订单方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite 返回相反方向。
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// RejectReason 为拒单原因的封闭分类。
type RejectReason string

const (
	// RejectInsufficientFunds 资金不足。撤单后交易所可能尚未释放资金，
	// 这种拒单通常是暂时性的，可以整体重试。
	RejectInsufficientFunds RejectReason = "insufficient_funds"
	// RejectPostOnly post-only 订单会立即吃掉对手盘而被拒，重新定价后可立即重试。
	RejectPostOnly RejectReason = "post_only"
	// RejectTooSmall 数量低于交易所最小下单量，重试没有意义。
	RejectTooSmall RejectReason = "too_small"
	// RejectOther 其他原因，终止该笔交易并记录日志。
	RejectOther RejectReason = "other"
)

// Event 为连接器异步事件的封闭集合。同一订单的事件按会话顺序到达，
// 不同订单之间不保证先后。
type Event interface {
	isEvent()
}

// OrderReceived 表示交易所已接收订单并分配了订单号。
type OrderReceived struct {
	ID        string
	ClientOID string
}

// OrderOpen 表示订单已挂入订单簿。
type OrderOpen struct {
	ID string
}

// OrderMatched 表示订单发生一笔成交，同一订单可能出现多次。
type OrderMatched struct {
	ID        string
	FillSize  decimal.Decimal
	FillPrice decimal.Decimal
}

// OrderDone 表示订单完全成交，每个订单最多出现一次且在全部成交之后。
type OrderDone struct {
	ID string
}

// OrderCanceled 表示订单已取消。External 为真说明取消并非本引擎发起。
type OrderCanceled struct {
	ID       string
	External bool
}

// OrderRejected 表示订单被拒绝。提交阶段被拒时交易所可能尚未分配订单号，
// 此时通过 ClientOID 关联。
type OrderRejected struct {
	ID        string
	ClientOID string
	Reason    RejectReason
	Message   string
}

// CancelRejected 表示撤单请求被拒绝。TooLate 为真说明订单已经完成，
// 随后到达的 Done/Match 事件会修正状态，不应视为错误。
type CancelRejected struct {
	ID      string
	TooLate bool
}

// PriceChanged 表示盘口最优价发生变化。
type PriceChanged struct {
	Bid decimal.Decimal
	Ask decimal.Decimal
}

func (OrderReceived) isEvent()  {}
func (OrderOpen) isEvent()      {}
func (OrderMatched) isEvent()   {}
func (OrderDone) isEvent()      {}
func (OrderCanceled) isEvent()  {}
func (OrderRejected) isEvent()  {}
func (CancelRejected) isEvent() {}
func (PriceChanged) isEvent()   {}
