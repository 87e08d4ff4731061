package account

import (
	"testing"

	"github.com/shopspring/decimal"

	"coin-trader/internal/exchange"
)

func d(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func TestHoldReleaseConservesTotals(t *testing.T) {
	ledger := New()
	ledger.SetBalances(exchange.Balances{
		FiatAvailable:   d("1000"),
		CryptoAvailable: d("10"),
	})

	ledger.HoldFiat(d("400"))
	ledger.HoldCrypto(d("3"))
	ledger.ReleaseFiat(d("150"))
	ledger.HoldFiat(d("50"))
	ledger.ReleaseCrypto(d("3"))
	ledger.ReleaseFiat(d("300"))

	snap := ledger.Snapshot()
	if !snap.TotalFiat().Equal(d("1000")) {
		t.Errorf("expected total fiat conserved at 1000, got %s", snap.TotalFiat())
	}
	if !snap.TotalCrypto().Equal(d("10")) {
		t.Errorf("expected total crypto conserved at 10, got %s", snap.TotalCrypto())
	}
	if !snap.FiatHold.IsZero() {
		t.Errorf("expected fiat hold drained, got %s", snap.FiatHold)
	}
}

func TestBuyFillMovesFundsAcrossAssets(t *testing.T) {
	ledger := New()
	ledger.SetBalances(exchange.Balances{FiatAvailable: d("1000")})

	ledger.HoldFiat(d("500"))
	ledger.ApplyBuyFill(d("2"), d("100"))
	ledger.ApplyBuyFill(d("3"), d("100"))

	snap := ledger.Snapshot()
	if !snap.FiatHold.IsZero() {
		t.Errorf("expected fiat hold 0, got %s", snap.FiatHold)
	}
	if !snap.FiatAvailable.Equal(d("500")) {
		t.Errorf("expected fiat available 500, got %s", snap.FiatAvailable)
	}
	if !snap.CryptoAvailable.Equal(d("5")) {
		t.Errorf("expected crypto available 5, got %s", snap.CryptoAvailable)
	}
}

func TestSellFillCreditsFiat(t *testing.T) {
	ledger := New()
	ledger.SetBalances(exchange.Balances{CryptoAvailable: d("10")})

	ledger.HoldCrypto(d("5"))
	ledger.ApplySellFill(d("5"), d("101"))

	snap := ledger.Snapshot()
	if !snap.CryptoHold.IsZero() {
		t.Errorf("expected crypto hold 0, got %s", snap.CryptoHold)
	}
	if !snap.CryptoAvailable.Equal(d("5")) {
		t.Errorf("expected crypto available 5, got %s", snap.CryptoAvailable)
	}
	if !snap.FiatAvailable.Equal(d("505")) {
		t.Errorf("expected fiat available 505, got %s", snap.FiatAvailable)
	}
}

func TestOnChangeCallbackReceivesSnapshot(t *testing.T) {
	ledger := New()

	var seen []Snapshot
	ledger.OnChange(func(snap Snapshot) {
		seen = append(seen, snap)
	})

	ledger.SetBalances(exchange.Balances{FiatAvailable: d("100")})
	ledger.HoldFiat(d("40"))

	if len(seen) != 2 {
		t.Fatalf("expected 2 callbacks, got %d", len(seen))
	}
	last := seen[len(seen)-1]
	if !last.FiatAvailable.Equal(d("60")) || !last.FiatHold.Equal(d("40")) {
		t.Errorf("unexpected snapshot: available=%s hold=%s", last.FiatAvailable, last.FiatHold)
	}
}
