package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"coin-trader/internal/engine"
	"coin-trader/internal/exchange"
)

// TradeRepository 持久化交易快照。金额字段一律以字符串存储，
// 避免经过浮点造成精度损失。
type TradeRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTradeRepository 初始化交易存储，创建所需表结构。
func NewTradeRepository(store *Store, logger *zap.Logger) (*TradeRepository, error) {
	if store == nil {
		return nil, fmt.Errorf("store: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	r := &TradeRepository{
		db:     store.DB(),
		logger: logger,
	}

	if err := r.initSchema(); err != nil {
		return nil, err
	}

	return r, nil
}

func (r *TradeRepository) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS trades (
	id TEXT PRIMARY KEY,
	date TEXT NOT NULL,
	side TEXT NOT NULL,
	percent TEXT NOT NULL,
	asking_price TEXT NOT NULL,
	total_size TEXT NOT NULL,
	remaining_size TEXT NOT NULL,
	state TEXT NOT NULL,
	order_count INTEGER NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_date ON trades(date);
`
	if _, err := r.db.Exec(stmt); err != nil {
		return fmt.Errorf("store: 初始化交易表失败: %w", err)
	}
	return nil
}

// SaveTrade 写入或更新交易快照。
func (r *TradeRepository) SaveTrade(ctx context.Context, record engine.TradeRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO trades (id, date, side, percent, asking_price, total_size, remaining_size, state, order_count, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			asking_price = excluded.asking_price,
			total_size = excluded.total_size,
			remaining_size = excluded.remaining_size,
			state = excluded.state,
			order_count = excluded.order_count,
			updated_at = excluded.updated_at`,
		record.ID,
		record.Date.UTC().Format(time.RFC3339),
		string(record.Side),
		record.Percent.String(),
		record.AskingPrice.String(),
		record.TotalSize.String(),
		record.RemainingSize.String(),
		string(record.State),
		record.OrderCount,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("store: 写入交易失败: %w", err)
	}
	return nil
}

// LoadRecentTrades 按时间倒序读取最近的交易快照。
func (r *TradeRepository) LoadRecentTrades(ctx context.Context, n int) ([]engine.TradeRecord, error) {
	if n <= 0 {
		n = 50
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, date, side, percent, asking_price, total_size, remaining_size, state, order_count
		 FROM trades ORDER BY date DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("store: 查询交易失败: %w", err)
	}
	defer rows.Close()

	records := make([]engine.TradeRecord, 0, n)
	for rows.Next() {
		var (
			id         string
			date       string
			side       string
			percent    string
			asking     string
			total      string
			remaining  string
			state      string
			orderCount int
		)
		if scanErr := rows.Scan(&id, &date, &side, &percent, &asking, &total, &remaining, &state, &orderCount); scanErr != nil {
			return nil, fmt.Errorf("store: 解析交易失败: %w", scanErr)
		}

		record := engine.TradeRecord{
			ID:         id,
			Side:       exchange.Side(side),
			State:      engine.TradeState(state),
			OrderCount: orderCount,
		}
		if ts, parseErr := time.Parse(time.RFC3339, date); parseErr == nil {
			record.Date = ts
		}
		if record.Percent, err = decimal.NewFromString(percent); err != nil {
			return nil, fmt.Errorf("store: 解析 percent 失败: %w", err)
		}
		if record.AskingPrice, err = decimal.NewFromString(asking); err != nil {
			return nil, fmt.Errorf("store: 解析 asking_price 失败: %w", err)
		}
		if record.TotalSize, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("store: 解析 total_size 失败: %w", err)
		}
		if record.RemainingSize, err = decimal.NewFromString(remaining); err != nil {
			return nil, fmt.Errorf("store: 解析 remaining_size 失败: %w", err)
		}

		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: 读取交易失败: %w", err)
	}

	return records, nil
}

var _ engine.TradeStore = (*TradeRepository)(nil)
