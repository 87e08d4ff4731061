package market

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Candle 代表单根K线，发出后不再修改。
type Candle struct {
	Start  time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// Match 代表交易所公共成交流中的一笔撮合记录。
type Match struct {
	ID     string
	Price  decimal.Decimal
	Volume decimal.Decimal
	Side   string
	Time   time.Time
}

// Feed 抽象K线行情源。Load 完成历史引导，Start 开始持续发布，
// 两者必须按序调用；Subscribe 可在任意时刻注册。
type Feed interface {
	Load(ctx context.Context) error
	Start(ctx context.Context) error
	Subscribe(buffer int) <-chan Candle
	CurrentPrice() decimal.Decimal
	Destroy()
}
