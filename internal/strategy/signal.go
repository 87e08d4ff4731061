package strategy

import (
	"context"

	"github.com/shopspring/decimal"

	"coin-trader/internal/exchange"
	"coin-trader/internal/market"
)

// Signal 为上游策略产生的交易信号：方向与投入可用余额的比例。
type Signal struct {
	Side    exchange.Side
	Percent decimal.Decimal
}

// Source 抽象信号来源。策略逻辑本身是外部协作方，引擎只消费
// 其产生的信号序列。
type Source interface {
	// Run 消费K线序列直至上下文取消。
	Run(ctx context.Context, candles <-chan market.Candle) error
	// Signals 返回信号通道。Run 退出时通道被关闭。
	Signals() <-chan Signal
}
