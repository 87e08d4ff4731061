package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"coin-trader/internal/config"
	"coin-trader/internal/market"
)

// wsSession 包装一条交易所 websocket 连接。
type wsSession struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

func (s *wsSession) close() {
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = s.conn.Close()
	})
}

// wsSubscribe 为订阅请求。签名字段存在时交易所会在回报消息中
// 附带用户标识，借此区分自己的订单与公共成交流。
type wsSubscribe struct {
	Type       string   `json:"type"`
	ProductIDs []string `json:"product_ids"`
	Channels   []string `json:"channels"`
	Signature  string   `json:"signature,omitempty"`
	Key        string   `json:"key,omitempty"`
	Passphrase string   `json:"passphrase,omitempty"`
	Timestamp  string   `json:"timestamp,omitempty"`
}

// wsMessage 覆盖我们关心的全部消息类型的字段并集。
type wsMessage struct {
	Type          string          `json:"type"`
	ProductID     string          `json:"product_id"`
	Price         decimal.Decimal `json:"price"`
	BestBid       decimal.Decimal `json:"best_bid"`
	BestAsk       decimal.Decimal `json:"best_ask"`
	TradeID       int64           `json:"trade_id"`
	Side          string          `json:"side"`
	Size          decimal.Decimal `json:"size"`
	Time          time.Time       `json:"time"`
	OrderID       string          `json:"order_id"`
	ClientOID     string          `json:"client_oid"`
	MakerOrderID  string          `json:"maker_order_id"`
	TakerOrderID  string          `json:"taker_order_id"`
	Reason        string          `json:"reason"`
	RemainingSize decimal.Decimal `json:"remaining_size"`
	UserID        string          `json:"user_id"`
	Message       string          `json:"message"`
}

func dialWsSession(ctx context.Context, cfg config.ExchangeConfig, productID string, logger *zap.Logger) (*wsSession, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.WsURL, nil)
	if err != nil {
		return nil, err
	}

	sub := wsSubscribe{
		Type:       "subscribe",
		ProductIDs: []string{productID},
		Channels:   []string{"ticker", "full"},
	}
	if cfg.APIKey != "" && cfg.APISecret != "" {
		timestamp := strconv.FormatInt(time.Now().Unix(), 10)
		signature, err := signWsRequest(cfg.APISecret, timestamp)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("签名订阅请求失败: %w", err)
		}
		sub.Signature = signature
		sub.Key = cfg.APIKey
		sub.Passphrase = cfg.APIPass
		sub.Timestamp = timestamp
	}

	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		return nil, err
	}

	logger.Info("行情会话已建立",
		zap.String("url", cfg.WsURL),
		zap.String("product_id", productID),
		zap.Bool("authenticated", sub.Key != ""),
	)
	return &wsSession{conn: conn}, nil
}

// signWsRequest 按订阅鉴权要求对时间戳做 HMAC-SHA256 签名。
func signWsRequest(secret, timestamp string) (string, error) {
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(timestamp + "GET" + "/users/self/verify"))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// readLoop 消费 websocket 消息直至会话中断。退出时关闭事件通道，
// 通知上层会话已失效。
func (c *Coinbase) readLoop(ctx context.Context) {
	defer func() {
		close(c.events)
		close(c.ticks)
	}()

	for {
		var raw json.RawMessage
		if err := c.session.conn.ReadJSON(&raw); err != nil {
			if ctx.Err() == nil {
				c.logger.Error("行情会话中断", zap.Error(err))
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Warn("无法解析行情消息", zap.Error(err), zap.ByteString("payload", raw))
			continue
		}

		switch msg.Type {
		case "ticker":
			c.handleTicker(msg)
		case "match", "last_match":
			c.handleMatch(msg)
		case "received":
			if msg.UserID != "" {
				c.pendingReceive.take(msg.ClientOID)
				c.emit(OrderReceived{ID: msg.OrderID, ClientOID: msg.ClientOID})
			}
		case "open":
			if msg.UserID != "" {
				c.emit(OrderOpen{ID: msg.OrderID})
			}
		case "done":
			if msg.UserID != "" {
				c.handleDone(msg)
			}
		case "error":
			c.logger.Error("交易所返回错误消息", zap.String("message", msg.Message))
		case "subscriptions":
			// 订阅确认，无需处理。
		}
	}
}

func (c *Coinbase) handleTicker(msg wsMessage) {
	if !msg.BestBid.IsPositive() || !msg.BestAsk.IsPositive() {
		return
	}

	c.mu.Lock()
	c.bestBid = msg.BestBid
	c.bestAsk = msg.BestAsk
	first := !c.ready
	c.ready = true
	c.mu.Unlock()

	if first {
		close(c.readyCh)
	}
	c.emit(PriceChanged{Bid: msg.BestBid, Ask: msg.BestAsk})
}

// handleMatch 同时服务两个消费者：所有撮合都进入公共成交流供K线
// 聚合，带用户标识的撮合另发订单成交事件。post-only 订单只会以
// maker 身份成交，因此用 maker_order_id 关联。
func (c *Coinbase) handleMatch(msg wsMessage) {
	tick := market.Match{
		ID:     strconv.FormatInt(msg.TradeID, 10),
		Price:  msg.Price,
		Volume: msg.Size,
		Side:   msg.Side,
		Time:   msg.Time,
	}
	select {
	case c.ticks <- tick:
	default:
		c.logger.Warn("成交流通道已满，丢弃撮合记录", zap.String("trade_id", tick.ID))
	}

	if msg.Type == "match" && msg.UserID != "" {
		c.emit(OrderMatched{
			ID:        msg.MakerOrderID,
			FillSize:  msg.Size,
			FillPrice: msg.Price,
		})
	}
}

func (c *Coinbase) handleDone(msg wsMessage) {
	switch msg.Reason {
	case "filled":
		c.emit(OrderDone{ID: msg.OrderID})
	case "canceled":
		_, requested := c.pendingCancel.take(msg.OrderID)
		c.emit(OrderCanceled{ID: msg.OrderID, External: !requested})
	default:
		c.logger.Warn("未知的订单终结原因",
			zap.String("order_id", msg.OrderID),
			zap.String("reason", msg.Reason),
		)
	}
}
