package market

import (
	"sync"

	"github.com/shopspring/decimal"
)

// broadcaster 将K线扇出给多个订阅者，并记录最新成交价。
// Candle 订阅方消费过慢时丢弃该订阅者的本次推送，行情不允许阻塞聚合循环。
type broadcaster struct {
	mu      sync.Mutex
	subs    []chan Candle
	price   decimal.Decimal
	closed  bool
	dropped int
}

func (b *broadcaster) subscribe(buffer int) <-chan Candle {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Candle, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

func (b *broadcaster) publish(candle Candle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.price = candle.Close
	for _, ch := range b.subs {
		select {
		case ch <- candle:
		default:
			b.dropped++
		}
	}
}

func (b *broadcaster) setPrice(price decimal.Decimal) {
	b.mu.Lock()
	b.price = price
	b.mu.Unlock()
}

func (b *broadcaster) currentPrice() decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.price
}

func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
