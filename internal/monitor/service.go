package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"coin-trader/internal/account"
	"coin-trader/internal/engine"
	"coin-trader/internal/store"
)

// Service 负责持久化并广播监控事件。实现 engine.Publisher，
// 发布方法立即返回，落库在独立协程中完成。
type Service struct {
	db     *sql.DB
	logger *zap.Logger

	mu   sync.Mutex
	subs []chan Event
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:     store.DB(),
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS monitor_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_monitor_events_type ON monitor_events(event_type);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单个事件并广播给订阅者。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO monitor_events (event_type, payload, created_at) VALUES (?, ?, ?)`,
		string(event.Type), string(payload), event.Timestamp.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	s.broadcast(event)
	return nil
}

// Subscribe 注册事件订阅。订阅通道缓冲写满时丢弃事件。
func (s *Service) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

// ListEvents 按类型检索最近事件。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT event_type, payload, created_at FROM monitor_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			typ     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, Event{
			Type:      EventType(typ),
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}

// TradePlaced 记录交易创建。
func (s *Service) TradePlaced(t engine.TradeRecord) {
	s.record(EventTradePlaced, tradePayload(t))
}

// TradeStateChanged 记录交易状态变化。
func (s *Service) TradeStateChanged(t engine.TradeRecord) {
	s.record(EventTradeState, tradePayload(t))
}

// OrderPlaced 记录订单创建。
func (s *Service) OrderPlaced(o engine.OrderRecord) {
	s.record(EventOrderPlaced, orderPayload(o))
}

// OrderStateChanged 记录订单状态变化。
func (s *Service) OrderStateChanged(o engine.OrderRecord) {
	s.record(EventOrderState, orderPayload(o))
}

// OrderFilled 记录单笔成交。
func (s *Service) OrderFilled(o engine.OrderRecord, f engine.Fill) {
	s.record(EventOrderFill, FillPayload{
		Order:  orderPayload(o),
		FillID: f.ID,
		Time:   f.Time,
		Size:   f.Size.String(),
		Price:  f.Price.String(),
	})
}

// AccountChanged 记录账本余额变化，挂接到账本的变更回调。
func (s *Service) AccountChanged(snap account.Snapshot) {
	s.record(EventAccount, accountPayload(snap))
}

// record 异步落库。发布方在状态机锁内调用，不能阻塞。
func (s *Service) record(eventType EventType, payload interface{}) {
	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
	go func() {
		if err := s.Record(context.Background(), event); err != nil {
			s.logger.Warn("记录监控事件失败", zap.Error(err))
		}
	}()
}

func (s *Service) broadcast(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

var _ engine.Publisher = (*Service)(nil)
