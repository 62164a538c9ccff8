package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/piaqi001/funding-rate-bot/internal/detector"
	"github.com/piaqi001/funding-rate-bot/internal/domain"
	"github.com/piaqi001/funding-rate-bot/internal/executor"
	"github.com/piaqi001/funding-rate-bot/internal/ledger"
	"github.com/piaqi001/funding-rate-bot/internal/marketdata"
	"github.com/piaqi001/funding-rate-bot/internal/pnl"
	"github.com/piaqi001/funding-rate-bot/internal/risk"
)

// command is one operator instruction received on the command channel. Close
// may address the order by id instead of its symbol; with one active order
// per symbol the two are interchangeable, but id-addressed closes stay valid
// if that rule is ever relaxed.
type command struct {
	Action  string `json:"action"` // "open" or "close"
	Symbol  string `json:"symbol,omitempty"`
	OrderID string `json:"order_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// core holds the trading subsystems shared by the modes.
type core struct {
	ledger     *ledger.Ledger
	pnl        *pnl.Service
	aggregator *marketdata.Aggregator
	detector   *detector.Detector
	executor   *executor.Executor
	monitor    *risk.Monitor
}

// buildCore assembles the trading core on top of the wired dependencies. The
// ledger is restored from the order store so exclusivity and exposure limits
// survive restarts.
func (a *App) buildCore(ctx context.Context, deps *Dependencies) (*core, error) {
	led := ledger.New(a.logger, deps.OrderStore, deps.TradeStore)
	if err := led.Restore(ctx); err != nil {
		return nil, fmt.Errorf("restore ledger: %w", err)
	}

	pnlSvc := pnl.NewService(a.logger, deps.TradeStore, deps.RateStore, deps.PnLStore)

	agg := marketdata.New(a.logger, a.marketConfig(), deps.Venues, deps.RateStore, deps.SpreadCache, deps.SignalBus)

	det := detector.New(a.logger, a.detectorConfig(), agg, led, deps.SignalBus)

	exec := executor.New(a.logger, executor.Config{
		BatchFraction:         a.cfg.Execution.BatchFraction,
		MinBatchNotional:      a.cfg.Execution.MinBatchNotional,
		FillTolerance:         a.cfg.Execution.FillTolerance,
		MinViableFillFraction: a.cfg.Execution.MinViableFillFraction,
		FillPollInterval:      a.cfg.Execution.FillPollInterval.Duration,
		BatchTimeout:          a.cfg.Execution.BatchTimeout.Duration,
		MaxRetries:            a.cfg.Execution.MaxRetries,
		RetryBackoff:          a.cfg.Execution.RetryBackoff.Duration,
		LockTTL:               a.cfg.Execution.LockTTL.Duration,
		StopLossPercent:       a.cfg.Risk.StopLossPercent,
		TakeProfitPercent:     a.cfg.Risk.TakeProfitPercent,
		LiqSafetyMarginPct:    a.cfg.Risk.LiqSafetyMarginPct,
	}, deps.Venues, led, deps.LockManager, pnlSvc, deps.SignalBus, deps.Notifier, deps.AuditStore)

	mon := risk.New(a.logger, risk.Config{
		Interval:           a.cfg.Risk.Interval.Duration,
		MaxImbalance:       a.cfg.Risk.MaxImbalance,
		LiqSafetyMarginPct: a.cfg.Risk.LiqSafetyMarginPct,
		MinBalance:         a.cfg.Risk.MinBalance,
		BalanceInterval:    a.cfg.Risk.BalanceInterval.Duration,
		AutoClose:          a.cfg.Strategy.AutoClose,
	}, deps.Venues, led, agg, exec, det, deps.Notifier, deps.SignalBus)

	return &core{
		ledger:     led,
		pnl:        pnlSvc,
		aggregator: agg,
		detector:   det,
		executor:   exec,
		monitor:    mon,
	}, nil
}

func (a *App) marketConfig() marketdata.Config {
	return marketdata.Config{
		Symbols:       a.cfg.Market.Symbols,
		RateInterval:  a.cfg.Market.RateInterval.Duration,
		PriceInterval: a.cfg.Market.PriceInterval.Duration,
		WindowHorizon: a.cfg.Market.WindowHorizon.Duration,
		StaleAfter:    a.cfg.Market.StaleAfter.Duration,
	}
}

func (a *App) detectorConfig() detector.Config {
	return detector.Config{
		FundingRateThreshold: a.cfg.Strategy.FundingRateThreshold,
		NotionalPerTrade:     a.cfg.Strategy.NotionalPerTrade,
		MaxTotalPosition:     a.cfg.Strategy.MaxTotalPosition,
		Leverage:             a.cfg.Strategy.Leverage,
		MaxHolding:           a.cfg.Strategy.MaxHolding.Duration,
	}
}

// TradingMode runs the full loop: market data aggregation, opportunity
// detection, execution, risk monitoring, the operator command listener, and
// the archive loop when archiving is enabled.
func (a *App) TradingMode(ctx context.Context, deps *Dependencies) error {
	c, err := a.buildCore(ctx, deps)
	if err != nil {
		return fmt.Errorf("trading mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.aggregator.Run(ctx) })
	g.Go(func() error { return c.monitor.Run(ctx) })
	g.Go(func() error { return a.runScanLoop(ctx, c) })
	g.Go(func() error { return a.runCommandListener(ctx, deps, c) })

	if deps.Archiver != nil {
		g.Go(func() error { return a.runArchiveLoop(ctx, deps.Archiver) })
	}

	if !a.cfg.Strategy.AutoExecute {
		a.logger.InfoContext(ctx, "strategy.auto_execute is false; opportunities are published, not traded")
	}

	return g.Wait()
}

// MonitorMode runs market data aggregation and detection only. Opportunities
// are published on the bus for external consumers; no orders are placed.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	led := ledger.New(a.logger, deps.OrderStore, deps.TradeStore)
	if err := led.Restore(ctx); err != nil {
		return fmt.Errorf("monitor mode: restore ledger: %w", err)
	}

	agg := marketdata.New(a.logger, a.marketConfig(), deps.Venues, deps.RateStore, deps.SpreadCache, deps.SignalBus)
	det := detector.New(a.logger, a.detectorConfig(), agg, led, deps.SignalBus)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return agg.Run(ctx) })
	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Market.RateInterval.Duration)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				det.Scan(ctx)
			}
		}
	})
	return g.Wait()
}

// runScanLoop periodically scans for opportunities and, when auto-execution
// is on, opens them. Exclusivity conflicts are expected under concurrent
// commands and logged at debug only.
func (a *App) runScanLoop(ctx context.Context, c *core) error {
	ticker := time.NewTicker(a.cfg.Market.RateInterval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			opps := c.detector.Scan(ctx)
			if !a.cfg.Strategy.AutoExecute {
				continue
			}
			for _, opp := range opps {
				if _, err := c.executor.Open(ctx, opp); err != nil {
					if errors.Is(err, domain.ErrExclusivityConflict) {
						a.logger.DebugContext(ctx, "symbol busy, skipping opportunity",
							slog.String("symbol", opp.Symbol))
						continue
					}
					a.logger.ErrorContext(ctx, "open failed",
						slog.String("symbol", opp.Symbol),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}
}

// runCommandListener subscribes to the operator command channel and applies
// manual open and close instructions.
func (a *App) runCommandListener(ctx context.Context, deps *Dependencies, c *core) error {
	ch, err := deps.SignalBus.Subscribe(ctx, domain.ChannelCommands)
	if err != nil {
		return fmt.Errorf("command listener: subscribe: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-ch:
			if !ok {
				return nil
			}
			var cmd command
			if err := json.Unmarshal(payload, &cmd); err != nil {
				a.logger.WarnContext(ctx, "malformed command", slog.String("error", err.Error()))
				continue
			}
			a.handleCommand(ctx, c, cmd)
		}
	}
}

func (a *App) handleCommand(ctx context.Context, c *core, cmd command) {
	switch cmd.Action {
	case "open":
		opp, err := c.detector.Evaluate(cmd.Symbol)
		if err != nil {
			a.logger.WarnContext(ctx, "manual open rejected",
				slog.String("symbol", cmd.Symbol),
				slog.String("error", err.Error()),
			)
			return
		}
		if _, err := c.executor.Open(ctx, opp); err != nil {
			a.logger.ErrorContext(ctx, "manual open failed",
				slog.String("symbol", cmd.Symbol),
				slog.String("error", err.Error()),
			)
		}
	case "close":
		symbol := cmd.Symbol
		if symbol == "" && cmd.OrderID != "" {
			order, ok := c.ledger.OpenOrderByID(cmd.OrderID)
			if !ok {
				a.logger.WarnContext(ctx, "close rejected, no active order",
					slog.String("order_id", cmd.OrderID))
				return
			}
			symbol = order.Symbol
		}
		reason := cmd.Reason
		if reason == "" {
			reason = "manual close"
		}
		if _, err := c.executor.Close(ctx, symbol, reason); err != nil {
			a.logger.ErrorContext(ctx, "manual close failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	default:
		a.logger.WarnContext(ctx, "unknown command action", slog.String("action", cmd.Action))
	}
}

// runArchiveLoop periodically moves records older than the retention window
// to cold storage.
func (a *App) runArchiveLoop(ctx context.Context, arch domain.Archiver) error {
	interval := a.cfg.Archive.Interval.Duration
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
			if _, err := arch.ArchiveRates(ctx, cutoff); err != nil {
				a.logger.ErrorContext(ctx, "archive rates failed", slog.String("error", err.Error()))
			}
			if _, err := arch.ArchiveTrades(ctx, cutoff); err != nil {
				a.logger.ErrorContext(ctx, "archive trades failed", slog.String("error", err.Error()))
			}
			if _, err := arch.ArchiveOrders(ctx, cutoff); err != nil {
				a.logger.ErrorContext(ctx, "archive orders failed", slog.String("error", err.Error()))
			}
		}
	}
}
