package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"coin-trader/internal/engine"
	"coin-trader/internal/exchange"
	"coin-trader/internal/monitor"
)

type tradeRequest struct {
	Side    string `json:"side"`
	Percent string `json:"percent"`
}

func startMonitorServer(ctx context.Context, svc *monitor.Service, manager *engine.Manager, port int, logger *zap.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		limit := 200
		if qs := q.Get("limit"); qs != "" {
			if v, err := strconv.Atoi(qs); err == nil && v > 0 {
				if v > 1000 {
					v = 1000
				}
				limit = v
			}
		}

		eventType := monitor.EventType("")
		if typ := strings.TrimSpace(q.Get("type")); typ != "" {
			eventType = monitor.EventType(strings.ToLower(typ))
		}

		events, err := svc.ListEvents(r.Context(), eventType, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(events); err != nil {
			logger.Warn("写入监控响应失败", zap.Error(err))
		}
	})

	mux.HandleFunc("/trades", func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]interface{}{
			"active":  manager.ActiveTrades(),
			"history": manager.History(),
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			logger.Warn("写入交易列表失败", zap.Error(err))
		}
	})

	// 手动交易指令，与策略信号走同一入口。
	mux.HandleFunc("/trade", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req tradeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		side := exchange.Side(strings.ToLower(req.Side))
		if side != exchange.SideBuy && side != exchange.SideSell {
			http.Error(w, "side 必须为 buy 或 sell", http.StatusBadRequest)
			return
		}
		percent, err := decimal.NewFromString(req.Percent)
		if err != nil || !percent.IsPositive() || percent.GreaterThan(decimal.NewFromInt(1)) {
			http.Error(w, "percent 必须在 (0, 1] 区间", http.StatusBadRequest)
			return
		}

		trade := engine.NewTrade(side, percent)
		if err := manager.Trade(r.Context(), trade); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{"trade_id": trade.ID}); err != nil {
			logger.Warn("写入交易响应失败", zap.Error(err))
		}
	})

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			logger.Warn("关闭监控服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("监控服务异常", zap.Error(err))
		}
	}()

	logger.Info("监控接口已启动", zap.String("addr", addr))
	return nil
}
