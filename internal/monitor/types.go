package monitor

import (
	"time"

	"coin-trader/internal/account"
	"coin-trader/internal/engine"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventTradePlaced EventType = "trade_placed"
	EventTradeState  EventType = "trade_state"
	EventOrderPlaced EventType = "order_placed"
	EventOrderState  EventType = "order_state"
	EventOrderFill   EventType = "order_fill"
	EventAccount     EventType = "account"
)

// Event 封装通用监控事件。
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// 金额字段以字符串发布，消费端自行解析，避免经过浮点损失精度。

// TradePayload 记录交易快照。
type TradePayload struct {
	ID            string    `json:"id"`
	Date          time.Time `json:"date"`
	Side          string    `json:"side"`
	Percent       string    `json:"percent"`
	AskingPrice   string    `json:"asking_price"`
	TotalSize     string    `json:"total_size"`
	RemainingSize string    `json:"remaining_size"`
	State         string    `json:"state"`
	OrderCount    int       `json:"order_count"`
}

// OrderPayload 记录订单快照。
type OrderPayload struct {
	TradeID       string `json:"trade_id"`
	ClientOID     string `json:"client_oid"`
	OrderID       string `json:"order_id,omitempty"`
	Side          string `json:"side"`
	AskingPrice   string `json:"asking_price"`
	TotalSize     string `json:"total_size"`
	RemainingSize string `json:"remaining_size"`
	State         string `json:"state"`
	RejectReason  string `json:"reject_reason,omitempty"`
	RejectMessage string `json:"reject_message,omitempty"`
}

// FillPayload 记录单笔成交。
type FillPayload struct {
	Order  OrderPayload `json:"order"`
	FillID string       `json:"fill_id"`
	Time   time.Time    `json:"time"`
	Size   string       `json:"size"`
	Price  string       `json:"price"`
}

// AccountPayload 记录账本余额。
type AccountPayload struct {
	FiatAvailable   string `json:"fiat_available"`
	FiatHold        string `json:"fiat_hold"`
	CryptoAvailable string `json:"crypto_available"`
	CryptoHold      string `json:"crypto_hold"`
}

func tradePayload(t engine.TradeRecord) TradePayload {
	return TradePayload{
		ID:            t.ID,
		Date:          t.Date,
		Side:          string(t.Side),
		Percent:       t.Percent.String(),
		AskingPrice:   t.AskingPrice.String(),
		TotalSize:     t.TotalSize.String(),
		RemainingSize: t.RemainingSize.String(),
		State:         string(t.State),
		OrderCount:    t.OrderCount,
	}
}

func orderPayload(o engine.OrderRecord) OrderPayload {
	return OrderPayload{
		TradeID:       o.TradeID,
		ClientOID:     o.ClientOID,
		OrderID:       o.ID,
		Side:          string(o.Side),
		AskingPrice:   o.AskingPrice.String(),
		TotalSize:     o.TotalSize.String(),
		RemainingSize: o.RemainingSize.String(),
		State:         string(o.State),
		RejectReason:  string(o.RejectReason),
		RejectMessage: o.RejectMessage,
	}
}

func accountPayload(s account.Snapshot) AccountPayload {
	return AccountPayload{
		FiatAvailable:   s.FiatAvailable.String(),
		FiatHold:        s.FiatHold.String(),
		CryptoAvailable: s.CryptoAvailable.String(),
		CryptoHold:      s.CryptoHold.String(),
	}
}
