package strategy

import (
	"context"

	"coin-trader/internal/market"
)

// Step 为回放脚本中的一步：累计看到指定数量的K线后发出信号。
type Step struct {
	AfterCandles int
	Signal       Signal
}

// Replay 按K线推进节奏回放预先编排的信号序列，用于回测已知的
// 交易脚本而不依赖任何决策逻辑。
type Replay struct {
	steps   []Step
	signals chan Signal
}

// NewReplay 构造信号回放源。步骤按 AfterCandles 升序执行。
func NewReplay(steps []Step) *Replay {
	return &Replay{
		steps:   steps,
		signals: make(chan Signal, len(steps)),
	}
}

// Run 消费K线序列并在脚本步骤到期时发出信号。K线通道关闭或
// 脚本执行完毕后返回，信号通道随之关闭。
func (r *Replay) Run(ctx context.Context, candles <-chan market.Candle) error {
	defer close(r.signals)

	seen := 0
	next := 0
	for next < len(r.steps) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-candles:
			if !ok {
				return nil
			}
			seen++
			for next < len(r.steps) && seen >= r.steps[next].AfterCandles {
				r.signals <- r.steps[next].Signal
				next++
			}
		}
	}
	return nil
}

// Signals 返回信号通道。
func (r *Replay) Signals() <-chan Signal {
	return r.signals
}

var _ Source = (*Replay)(nil)
