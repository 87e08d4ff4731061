package exchange

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrAccountsNotFound 表示在交易所账户列表中找不到预期的两种资产账户。
	ErrAccountsNotFound = errors.New("exchange: 找不到交易对对应的资产账户")
	// ErrNotReady 表示连接器尚未完成启动。
	ErrNotReady = errors.New("exchange: 连接器尚未就绪")
)

// Quote 表示盘口最优买卖价。
type Quote struct {
	Bid decimal.Decimal
	Ask decimal.Decimal
}

// Balances 表示账户中法币与加密资产的可用/冻结余额。
type Balances struct {
	FiatAvailable   decimal.Decimal
	FiatHold        decimal.Decimal
	CryptoAvailable decimal.Decimal
	CryptoHold      decimal.Decimal
}

// OrderTicket 为一次下单请求。价格与数量已按交易所精度处理完毕。
type OrderTicket struct {
	ClientOID string
	Side      Side
	Price     decimal.Decimal
	Size      decimal.Decimal
}

// CancelRequest 为一次撤单请求。
type CancelRequest struct {
	ID        string
	ClientOID string
}

// Connector 抽象交易所连接。实现负责协议会话的生命周期，
// 订单与撤单为异步操作，结果通过 Events 通道送达。
//
// Start 返回成功意味着订单会话与行情会话都已建立，且盘口已产生
// 可用的最优价。会话中断时实现关闭 Events 通道，由上层决定重启。
type Connector interface {
	Start(ctx context.Context) error
	AccountBalances(ctx context.Context) (Balances, error)
	// MarketPrices 返回当前盘口。第二个返回值为假表示盘口尚未建立
	// 或价格不可信，调用方必须按"暂停交易"处理，而不是按零价格。
	MarketPrices() (Quote, bool)
	SubmitOrder(ctx context.Context, ticket OrderTicket) error
	CancelOrder(ctx context.Context, req CancelRequest) error
	Events() <-chan Event
	Destroy()
}
