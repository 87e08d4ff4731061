package account

import (
	"sync"

	"github.com/shopspring/decimal"

	"coin-trader/internal/exchange"
)

// Snapshot 为账本在某一时刻的只读视图。
type Snapshot struct {
	FiatAvailable   decimal.Decimal
	FiatHold        decimal.Decimal
	CryptoAvailable decimal.Decimal
	CryptoHold      decimal.Decimal
}

// TotalFiat 返回法币可用与冻结之和。
func (s Snapshot) TotalFiat() decimal.Decimal {
	return s.FiatAvailable.Add(s.FiatHold)
}

// TotalCrypto 返回加密资产可用与冻结之和。
func (s Snapshot) TotalCrypto() decimal.Decimal {
	return s.CryptoAvailable.Add(s.CryptoHold)
}

// Ledger 为本地账本，跟踪法币与加密资产的可用/冻结余额。
// 交易所余额是权威值，本地账本用于下单前的资金预占与校验，
// 通过 SetBalances 定期与交易所对齐。
type Ledger struct {
	mu              sync.Mutex
	fiatAvailable   decimal.Decimal
	fiatHold        decimal.Decimal
	cryptoAvailable decimal.Decimal
	cryptoHold      decimal.Decimal
	onChange        func(Snapshot)
}

// New 构造空账本。
func New() *Ledger {
	return &Ledger{}
}

// OnChange 注册余额变化回调。回调在锁外执行。
func (l *Ledger) OnChange(fn func(Snapshot)) {
	l.mu.Lock()
	l.onChange = fn
	l.mu.Unlock()
}

// Snapshot 返回当前余额视图。
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

// SetBalances 用交易所返回的权威余额覆盖本地账本。
func (l *Ledger) SetBalances(b exchange.Balances) {
	l.mu.Lock()
	l.fiatAvailable = b.FiatAvailable
	l.fiatHold = b.FiatHold
	l.cryptoAvailable = b.CryptoAvailable
	l.cryptoHold = b.CryptoHold
	l.notifyAndUnlock()
}

// HoldFiat 把一笔法币从可用转入冻结，下单前调用。
func (l *Ledger) HoldFiat(amount decimal.Decimal) {
	l.mu.Lock()
	l.fiatAvailable = l.fiatAvailable.Sub(amount)
	l.fiatHold = l.fiatHold.Add(amount)
	l.notifyAndUnlock()
}

// ReleaseFiat 把一笔法币从冻结释放回可用，撤单或拒单后调用。
func (l *Ledger) ReleaseFiat(amount decimal.Decimal) {
	l.mu.Lock()
	l.fiatHold = l.fiatHold.Sub(amount)
	l.fiatAvailable = l.fiatAvailable.Add(amount)
	l.notifyAndUnlock()
}

// HoldCrypto 把一笔加密资产从可用转入冻结。
func (l *Ledger) HoldCrypto(amount decimal.Decimal) {
	l.mu.Lock()
	l.cryptoAvailable = l.cryptoAvailable.Sub(amount)
	l.cryptoHold = l.cryptoHold.Add(amount)
	l.notifyAndUnlock()
}

// ReleaseCrypto 把一笔加密资产从冻结释放回可用。
func (l *Ledger) ReleaseCrypto(amount decimal.Decimal) {
	l.mu.Lock()
	l.cryptoHold = l.cryptoHold.Sub(amount)
	l.cryptoAvailable = l.cryptoAvailable.Add(amount)
	l.notifyAndUnlock()
}

// ApplyBuyFill 结算一笔买单成交：冻结法币减少，可用加密资产增加。
func (l *Ledger) ApplyBuyFill(size, price decimal.Decimal) {
	l.mu.Lock()
	l.fiatHold = l.fiatHold.Sub(size.Mul(price))
	l.cryptoAvailable = l.cryptoAvailable.Add(size)
	l.notifyAndUnlock()
}

// ApplySellFill 结算一笔卖单成交：冻结加密资产减少，可用法币增加。
func (l *Ledger) ApplySellFill(size, price decimal.Decimal) {
	l.mu.Lock()
	l.cryptoHold = l.cryptoHold.Sub(size)
	l.fiatAvailable = l.fiatAvailable.Add(size.Mul(price))
	l.notifyAndUnlock()
}

func (l *Ledger) snapshotLocked() Snapshot {
	return Snapshot{
		FiatAvailable:   l.fiatAvailable,
		FiatHold:        l.fiatHold,
		CryptoAvailable: l.cryptoAvailable,
		CryptoHold:      l.cryptoHold,
	}
}

func (l *Ledger) notifyAndUnlock() {
	fn := l.onChange
	snap := l.snapshotLocked()
	l.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}
