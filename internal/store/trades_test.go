package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"coin-trader/internal/config"
	"coin-trader/internal/engine"
	"coin-trader/internal/exchange"
)

func newTestRepository(t *testing.T) *TradeRepository {
	t.Helper()

	s, err := NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: 1, MaxIdleConns: 1})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	repo, err := NewTradeRepository(s, nil)
	if err != nil {
		t.Fatalf("init repository: %v", err)
	}
	return repo
}

func TestSaveTradeRoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	record := engine.TradeRecord{
		ID:            "trade-1",
		Date:          time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Side:          exchange.SideBuy,
		Percent:       decimal.RequireFromString("0.5"),
		AskingPrice:   decimal.RequireFromString("100.01"),
		TotalSize:     decimal.RequireFromString("5"),
		RemainingSize: decimal.RequireFromString("2.5"),
		State:         engine.TradeOpen,
		OrderCount:    1,
	}
	if err := repo.SaveTrade(ctx, record); err != nil {
		t.Fatalf("save trade: %v", err)
	}

	got, err := repo.LoadRecentTrades(ctx, 10)
	if err != nil {
		t.Fatalf("load trades: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 record, got %d", len(got))
	}
	if got[0].ID != record.ID || got[0].Side != record.Side || got[0].State != record.State {
		t.Fatalf("unexpected record: %+v", got[0])
	}
	if !got[0].Date.Equal(record.Date) {
		t.Fatalf("date mismatch: got %v want %v", got[0].Date, record.Date)
	}
	if !got[0].AskingPrice.Equal(record.AskingPrice) || !got[0].RemainingSize.Equal(record.RemainingSize) {
		t.Fatalf("decimal fields lost precision: %+v", got[0])
	}
}

func TestSaveTradeUpdatesExistingRow(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	record := engine.TradeRecord{
		ID:            "trade-1",
		Date:          time.Now().UTC().Truncate(time.Second),
		Side:          exchange.SideSell,
		Percent:       decimal.RequireFromString("1"),
		AskingPrice:   decimal.RequireFromString("99.99"),
		TotalSize:     decimal.RequireFromString("3"),
		RemainingSize: decimal.RequireFromString("3"),
		State:         engine.TradeOpen,
		OrderCount:    1,
	}
	if err := repo.SaveTrade(ctx, record); err != nil {
		t.Fatalf("save trade: %v", err)
	}

	record.RemainingSize = decimal.Zero
	record.State = engine.TradeComplete
	record.OrderCount = 2
	if err := repo.SaveTrade(ctx, record); err != nil {
		t.Fatalf("update trade: %v", err)
	}

	got, err := repo.LoadRecentTrades(ctx, 10)
	if err != nil {
		t.Fatalf("load trades: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected upsert to keep 1 record, got %d", len(got))
	}
	if got[0].State != engine.TradeComplete || got[0].OrderCount != 2 {
		t.Fatalf("update not applied: %+v", got[0])
	}
	if !got[0].RemainingSize.IsZero() {
		t.Fatalf("expected remaining size zero, got %s", got[0].RemainingSize)
	}
}

func TestLoadRecentTradesOrdersByDateDesc(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		record := engine.TradeRecord{
			ID:            string(rune('a' + i)),
			Date:          base.Add(time.Duration(i) * time.Hour),
			Side:          exchange.SideBuy,
			Percent:       decimal.RequireFromString("1"),
			AskingPrice:   decimal.RequireFromString("100"),
			TotalSize:     decimal.RequireFromString("1"),
			RemainingSize: decimal.Zero,
			State:         engine.TradeComplete,
			OrderCount:    1,
		}
		if err := repo.SaveTrade(ctx, record); err != nil {
			t.Fatalf("save trade %d: %v", i, err)
		}
	}

	got, err := repo.LoadRecentTrades(ctx, 2)
	if err != nil {
		t.Fatalf("load trades: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected limit 2, got %d", len(got))
	}
	if got[0].ID != "c" || got[1].ID != "b" {
		t.Fatalf("expected newest first, got %s, %s", got[0].ID, got[1].ID)
	}
}
