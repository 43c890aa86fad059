package bananomics

import (
	"context"
	"fmt"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/robfig/cron/v3"
)

// Engine is the virtual economy backend: cached player accounts, the
// marketplace, and the background aggregators, all persisting through one
// retrying store client.
type Engine interface {
	Accounts() *AccountRegistry
	Market() *MarketListingStore
	Leaderboard() *LeaderboardStore
	Audit() *AuditLog
	Snapshot() *SnapshotAggregator
	Gacha() *GachaSystem
	GlobalConfig() *GlobalConfigStore
	Catalog() *Catalog
	Metrics() *MetricsWindow

	// SessionStart warms the user's account cache; SessionEnd flushes and
	// evicts it. Wire these to the host server's session hooks.
	SessionStart(ctx context.Context, logger runtime.Logger, userID string)
	SessionEnd(ctx context.Context, logger runtime.Logger, userID string)

	// AwardSlotCurrency credits an NPC slot payout, validating the slot index
	// against the user's unlocked slots.
	AwardSlotCurrency(userID string, slot int, amount int64) MutationResult

	// Shutdown stops the periodic jobs and flushes dirty state best-effort.
	Shutdown(ctx context.Context, logger runtime.Logger)
}

// Option adjusts engine construction.
type Option func(*engineImpl)

// WithRequestBudget installs the host's store rate budget. Without it every
// operation sees an unlimited budget.
func WithRequestBudget(budget RequestBudget) Option {
	return func(e *engineImpl) {
		e.budget = budget
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *engineImpl) {
		e.now = now
	}
}

type engineImpl struct {
	cfg    *Config
	budget RequestBudget
	now    func() time.Time

	metrics      *MetricsWindow
	client       *StoreClient
	catalog      *Catalog
	globalConfig *GlobalConfigStore
	leaderboard  *LeaderboardStore
	accounts     *AccountRegistry
	audit        *AuditLog
	market       *MarketListingStore
	gacha        *GachaSystem
	snapshot     *SnapshotAggregator

	cron *cron.Cron
}

// Init builds the engine from the configuration, registers its RPCs, and
// starts the periodic jobs. The context and logger passed here drive the
// background work for the life of the process.
func Init(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule, initializer runtime.Initializer, config *Config, opts ...Option) (Engine, error) {
	cfg := config.withDefaults()

	e := &engineImpl{
		cfg:    cfg,
		budget: unlimitedBudget{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.metrics = NewMetricsWindow(time.Duration(cfg.Store.MetricWindowSec)*time.Second, cfg.Store.MetricMaxEntries)
	e.client = NewStoreClient(nk, e.metrics, e.budget, cfg.Store)
	e.catalog = NewCatalog(cfg.Catalog)
	e.globalConfig = NewGlobalConfigStore(e.client)
	e.leaderboard = NewLeaderboardStore(e.client, cfg.Leaderboard)
	e.accounts = NewAccountRegistry(ctx, logger, e.client, e.catalog, e.leaderboard, cfg.Accounts)
	e.audit = NewAuditLog(e.client, cfg.Audit)
	e.market = NewMarketListingStore(e.client, e.accounts, e.audit, e.catalog, e.globalConfig, cfg.Market)
	e.gacha = NewGachaSystem(e.accounts, e.audit, e.catalog, e.globalConfig, cfg.Gacha)
	e.snapshot = NewSnapshotAggregator(e.client, e.accounts, e.market, e.leaderboard, e.audit, e.metrics)

	e.audit.now = e.now
	e.gacha.now = e.now
	e.globalConfig.now = e.now
	e.snapshot.now = e.now

	e.leaderboard.EnsureBackingLeaderboard(ctx, logger, nk)

	if initializer != nil {
		if err := e.registerRpcs(initializer); err != nil {
			return nil, err
		}
	}

	if err := e.startJobs(ctx, logger); err != nil {
		return nil, err
	}

	logger.Info("bananomics engine initialized, leaderboard %s, %d catalog items", cfg.Leaderboard.ID, len(e.catalog.Items()))
	return e, nil
}

func (e *engineImpl) Accounts() *AccountRegistry       { return e.accounts }
func (e *engineImpl) Market() *MarketListingStore      { return e.market }
func (e *engineImpl) Leaderboard() *LeaderboardStore   { return e.leaderboard }
func (e *engineImpl) Audit() *AuditLog                 { return e.audit }
func (e *engineImpl) Snapshot() *SnapshotAggregator    { return e.snapshot }
func (e *engineImpl) Gacha() *GachaSystem              { return e.gacha }
func (e *engineImpl) GlobalConfig() *GlobalConfigStore { return e.globalConfig }
func (e *engineImpl) Catalog() *Catalog                { return e.catalog }
func (e *engineImpl) Metrics() *MetricsWindow          { return e.metrics }

func (e *engineImpl) SessionStart(ctx context.Context, logger runtime.Logger, userID string) {
	e.accounts.SessionStart(ctx, logger, userID)
}

func (e *engineImpl) SessionEnd(ctx context.Context, logger runtime.Logger, userID string) {
	e.accounts.SessionEnd(ctx, logger, userID)
}

// AwardSlotCurrency pays out an NPC slot sale. The slot must be one the user
// has unlocked.
func (e *engineImpl) AwardSlotCurrency(userID string, slot int, amount int64) MutationResult {
	if slot < NpcSlotMin || slot > e.accounts.NpcSlotCount(userID) {
		return mutationFail(ReasonInvalidSlotCount)
	}
	res := e.accounts.AddCurrency(userID, amount, "SLOT_AWARD")
	if res.OK {
		e.audit.Record(userID, "SLOT_AWARD", "SLOT_AWARD", map[string]any{
			"slot":   slot,
			"amount": amount,
		})
	}
	return res
}

// startJobs schedules the periodic flushes. Each job reuses the init context
// and logger; the cron runner serializes nothing, the systems guard
// themselves.
func (e *engineImpl) startJobs(ctx context.Context, logger runtime.Logger) error {
	c := cron.New()
	jobs := []struct {
		every int
		run   func()
	}{
		{e.cfg.Accounts.SweepIntervalSec, func() { e.accounts.Sweep(ctx, logger) }},
		{e.cfg.Leaderboard.FlushIntervalSec, func() { e.leaderboard.Flush(ctx, logger) }},
		{e.cfg.Audit.FlushIntervalSec, func() { e.audit.Flush(ctx, logger) }},
		{e.cfg.Snapshot.FlushIntervalSec, func() { e.snapshot.Flush(ctx, logger) }},
	}
	for _, job := range jobs {
		if _, err := c.AddFunc(fmt.Sprintf("@every %ds", job.every), job.run); err != nil {
			return err
		}
	}
	c.Start()
	e.cron = c
	return nil
}

// Shutdown stops the job runner, waits briefly for in-flight jobs, then
// drains the aggregators and force-flushes every dirty account with a single
// write attempt each.
func (e *engineImpl) Shutdown(ctx context.Context, logger runtime.Logger) {
	if e.cron != nil {
		stopCtx := e.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
			logger.Warn("periodic jobs did not quiesce before shutdown flush")
		}
	}

	e.leaderboard.Flush(ctx, logger)
	e.audit.Flush(ctx, logger)
	e.accounts.Close()
	e.accounts.FlushAll(ctx, logger)
	logger.Info("bananomics engine shut down")
}
