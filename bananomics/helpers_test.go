package bananomics

import (
	"context"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
)

// mockLogger is a no-op runtime.Logger for tests.
type mockLogger struct{}

func (l *mockLogger) Debug(format string, v ...interface{})                   {}
func (l *mockLogger) Info(format string, v ...interface{})                    {}
func (l *mockLogger) Warn(format string, v ...interface{})                    {}
func (l *mockLogger) Error(format string, v ...interface{})                   {}
func (l *mockLogger) WithField(key string, v interface{}) runtime.Logger      { return l }
func (l *mockLogger) WithFields(fields map[string]interface{}) runtime.Logger { return l }
func (l *mockLogger) Fields() map[string]interface{}                          { return nil }

// zeroBudget reports an exhausted request budget for every operation kind.
type zeroBudget struct{}

func (zeroBudget) Remaining(OpKind) int { return 0 }

// fastTestConfig keeps the retry schedule in the low milliseconds so failure
// paths run quickly. The debounce stays at its production default so
// background flushes never race the assertions; tests that exercise the
// debounce machinery build their own config.
func fastTestConfig() *Config {
	cfg := &Config{
		Store: &StoreConfig{
			RetryDelaysSec: []float64{0.001, 0.002, 0.002},
		},
	}
	return cfg.withDefaults()
}

type testHarness struct {
	ctx         context.Context
	logger      runtime.Logger
	nk          *MemoryNakama
	cfg         *Config
	metrics     *MetricsWindow
	client      *StoreClient
	catalog     *Catalog
	globalCfg   *GlobalConfigStore
	leaderboard *LeaderboardStore
	accounts    *AccountRegistry
	audit       *AuditLog
	market      *MarketListingStore
	gacha       *GachaSystem
	snapshot    *SnapshotAggregator
}

func newHarness(cfg *Config) *testHarness {
	if cfg == nil {
		cfg = fastTestConfig()
	}
	h := &testHarness{
		ctx:    context.Background(),
		logger: &mockLogger{},
		nk:     NewMemoryNakama(),
		cfg:    cfg,
	}
	h.metrics = NewMetricsWindow(time.Duration(cfg.Store.MetricWindowSec)*time.Second, cfg.Store.MetricMaxEntries)
	h.client = NewStoreClient(h.nk, h.metrics, nil, cfg.Store)
	h.catalog = NewCatalog(cfg.Catalog)
	h.globalCfg = NewGlobalConfigStore(h.client)
	h.leaderboard = NewLeaderboardStore(h.client, cfg.Leaderboard)
	h.accounts = NewAccountRegistry(h.ctx, h.logger, h.client, h.catalog, h.leaderboard, cfg.Accounts)
	h.audit = NewAuditLog(h.client, cfg.Audit)
	h.market = NewMarketListingStore(h.client, h.accounts, h.audit, h.catalog, h.globalCfg, cfg.Market)
	h.gacha = NewGachaSystem(h.accounts, h.audit, h.catalog, h.globalCfg, cfg.Gacha)
	h.snapshot = NewSnapshotAggregator(h.client, h.accounts, h.market, h.leaderboard, h.audit, h.metrics)
	h.leaderboard.EnsureBackingLeaderboard(h.ctx, h.logger, h.nk)
	return h
}

// startSession seeds a session with an account record already in memory.
func (h *testHarness) startSession(userID string) {
	h.accounts.SessionStart(h.ctx, h.logger, userID)
}
