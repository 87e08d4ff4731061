package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"coin-trader/internal/account"
	"coin-trader/internal/config"
	"coin-trader/internal/engine"
	"coin-trader/internal/exchange"
	"coin-trader/internal/market"
	"coin-trader/internal/monitor"
	"coin-trader/internal/store"
	"coin-trader/internal/strategy"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
	source strategy.Source
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// SetSignalSource 注入信号来源。未设置时交易只能通过监控接口触发。
func (a *App) SetSignalSource(src strategy.Source) {
	a.source = src
}

// Run 按运行模式组装连接器与行情源，启动订单状态机并阻塞运行，
// 直至退出信号或交易所会话中断。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.String("mode", a.cfg.App.Mode),
		zap.String("product", a.cfg.Exchange.Product()),
	)

	monitorSvc, err := monitor.NewService(a.store, a.logger)
	if err != nil {
		return err
	}

	trades, err := store.NewTradeRepository(a.store, a.logger)
	if err != nil {
		return err
	}

	ledger := account.New()
	ledger.OnChange(monitorSvc.AccountChanged)

	var (
		connector exchange.Connector
		feed      market.Feed
	)

	switch a.cfg.App.Mode {
	case config.ModeLive:
		connector, feed, err = a.buildLive(ctx)
	case config.ModeBacktest:
		connector, feed, err = a.buildBacktest(ctx)
	default:
		err = fmt.Errorf("app: 未知的运行模式 %q", a.cfg.App.Mode)
	}
	if err != nil {
		return err
	}
	defer connector.Destroy()
	defer feed.Destroy()

	balances, err := connector.AccountBalances(ctx)
	if err != nil {
		return fmt.Errorf("app: 获取初始余额失败: %w", err)
	}
	ledger.SetBalances(balances)
	a.logger.Info("初始余额已同步",
		zap.String("fiat_available", balances.FiatAvailable.String()),
		zap.String("crypto_available", balances.CryptoAvailable.String()),
	)

	manager := engine.NewManager(a.cfg.Engine, a.cfg.Venue, connector, ledger, trades, monitorSvc, a.logger)
	if err := manager.SeedHistory(ctx); err != nil {
		a.logger.Warn("加载历史成交失败", zap.Error(err))
	}

	if err := startMonitorServer(ctx, monitorSvc, manager, a.cfg.App.MonitorPort, a.logger); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return manager.Run(gctx)
	})

	if a.cfg.App.Mode == config.ModeLive {
		g.Go(func() error {
			a.refreshBalances(gctx, connector, ledger)
			return nil
		})
	}

	if a.source != nil {
		candles := feed.Subscribe(64)
		src := a.source
		g.Go(func() error {
			return src.Run(gctx, candles)
		})
		g.Go(func() error {
			a.consumeSignals(gctx, src, manager)
			return nil
		})
	}

	if err := feed.Start(gctx); err != nil {
		return fmt.Errorf("app: 启动行情源失败: %w", err)
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		// 回测中事件流随重放结束而关闭，属于正常终止。
		if a.cfg.App.Mode == config.ModeBacktest && errors.Is(err, engine.ErrSessionClosed) {
			a.logger.Info("回测运行结束")
			return nil
		}
		return err
	}
	a.logger.Info("系统收到退出信号，正在停止")
	return nil
}

// buildLive 组装实盘连接器与实时行情源。先建立交易所会话，
// 再用其历史接口引导行情源。
func (a *App) buildLive(ctx context.Context) (exchange.Connector, market.Feed, error) {
	connector := exchange.NewCoinbase(a.cfg.Exchange, a.cfg.Venue, a.logger)
	if err := connector.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("app: 启动交易所连接器失败: %w", err)
	}

	feed := market.NewLiveFeed(a.cfg.Feed, connector, connector.Ticks(), a.logger)
	if err := feed.Load(ctx); err != nil {
		connector.Destroy()
		return nil, nil, fmt.Errorf("app: 历史数据引导失败: %w", err)
	}
	return connector, feed, nil
}

// buildBacktest 组装历史行情源与模拟连接器。连接器必须在行情
// 重放开始前完成订阅。
func (a *App) buildBacktest(ctx context.Context) (exchange.Connector, market.Feed, error) {
	feed := market.NewHistoricalFeed(a.cfg.Backtest, a.logger)
	if err := feed.Load(ctx); err != nil {
		return nil, nil, fmt.Errorf("app: 加载回测数据失败: %w", err)
	}

	connector := exchange.NewSimulated(a.cfg.Backtest, a.cfg.Venue, feed, a.logger)
	if err := connector.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("app: 启动回测连接器失败: %w", err)
	}
	return connector, feed, nil
}

// consumeSignals 把信号来源产生的信号逐个交给状态机执行。
// 单笔信号执行失败只记日志，不中断后续信号。
func (a *App) consumeSignals(ctx context.Context, src strategy.Source, manager *engine.Manager) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-src.Signals():
			if !ok {
				return
			}
			trade := engine.NewTrade(sig.Side, sig.Percent)
			if err := manager.Trade(ctx, trade); err != nil {
				a.logger.Warn("执行交易信号失败",
					zap.String("side", string(sig.Side)),
					zap.String("percent", sig.Percent.String()),
					zap.Error(err),
				)
			}
		}
	}
}

// refreshBalances 定期与交易所对齐本地账本。交易所余额是权威值，
// 本地冻结记录会被权威值覆盖。
func (a *App) refreshBalances(ctx context.Context, connector exchange.Connector, ledger *account.Ledger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			balances, err := connector.AccountBalances(ctx)
			if err != nil {
				a.logger.Warn("刷新余额失败", zap.Error(err))
				continue
			}
			ledger.SetBalances(balances)
		}
	}
}
