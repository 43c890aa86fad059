package bananomics

import "time"

// Storage collections and fixed keys. Nakama scopes objects by collection, so
// no key prefixes are needed beyond what identifies the record.
const (
	accountCollection      = "economy_account"
	listingCollection      = "market_listing"
	auditCollection        = "economy_audit"
	snapshotCollection     = "server_snapshot"
	globalConfigCollection = "global_config"

	accountKey      = "account"
	snapshotKey     = "snapshot"
	globalConfigKey = "config"
)

const DefaultSchemaVersion = 1

const (
	NpcSlotMin          = 1
	NpcSlotMax          = 3
	DefaultNpcSlotCount = 1
)

// Config is the top level engine configuration, loaded from JSON by the host
// and passed to Init. Every section is optional; zero values fall back to the
// defaults below.
type Config struct {
	Store       *StoreConfig       `json:"store,omitempty"`
	Accounts    *AccountsConfig    `json:"accounts,omitempty"`
	Market      *MarketConfig      `json:"market,omitempty"`
	Leaderboard *LeaderboardConfig `json:"leaderboard,omitempty"`
	Audit       *AuditConfig       `json:"audit,omitempty"`
	Snapshot    *SnapshotConfig    `json:"snapshot,omitempty"`
	Gacha       *GachaConfig       `json:"gacha,omitempty"`
	Catalog     []*CatalogItem     `json:"catalog,omitempty"`
}

// StoreConfig tunes the retrying store client and its metrics window.
type StoreConfig struct {
	Attempts         int       `json:"attempts,omitempty"`
	RetryDelaysSec   []float64 `json:"retry_delays_sec,omitempty"`
	LogSuccess       bool      `json:"log_success,omitempty"`
	MetricWindowSec  int       `json:"metric_window_sec,omitempty"`
	MetricMaxEntries int       `json:"metric_max_entries,omitempty"`
}

type AccountsConfig struct {
	DebounceMs       int64 `json:"debounce_ms,omitempty"`
	SweepIntervalSec int   `json:"sweep_interval_sec,omitempty"`
}

type MarketConfig struct {
	PriceMin    int64 `json:"price_min,omitempty"`
	PriceMax    int64 `json:"price_max,omitempty"`
	QuantityMin int64 `json:"quantity_min,omitempty"`
}

type LeaderboardConfig struct {
	ID               string `json:"id,omitempty"`
	FlushIntervalSec int    `json:"flush_interval_sec,omitempty"`
}

type AuditConfig struct {
	FlushIntervalSec   int `json:"flush_interval_sec,omitempty"`
	MaxEventsPerBucket int `json:"max_events_per_bucket,omitempty"`
}

type SnapshotConfig struct {
	FlushIntervalSec int `json:"flush_interval_sec,omitempty"`
}

type GachaConfig struct {
	// CooldownSec throttles pulls per user when > 0. The cooldown timestamp
	// lives on the account record so it survives restarts.
	CooldownSec int64 `json:"cooldown_sec,omitempty"`
}

func (c *Config) withDefaults() *Config {
	out := &Config{}
	if c != nil {
		*out = *c
	}
	if out.Store == nil {
		out.Store = &StoreConfig{}
	}
	if out.Store.Attempts <= 0 {
		out.Store.Attempts = 3
	}
	if len(out.Store.RetryDelaysSec) == 0 {
		out.Store.RetryDelaysSec = []float64{0.5, 1, 2}
	}
	if out.Store.MetricWindowSec <= 0 {
		out.Store.MetricWindowSec = 300
	}
	if out.Store.MetricMaxEntries <= 0 {
		out.Store.MetricMaxEntries = 500
	}
	if out.Accounts == nil {
		out.Accounts = &AccountsConfig{}
	}
	if out.Accounts.DebounceMs <= 0 {
		out.Accounts.DebounceMs = 3000
	}
	if out.Accounts.SweepIntervalSec <= 0 {
		out.Accounts.SweepIntervalSec = 15
	}
	if out.Market == nil {
		out.Market = &MarketConfig{}
	}
	if out.Market.PriceMin <= 0 {
		out.Market.PriceMin = 1
	}
	if out.Market.PriceMax <= 0 {
		out.Market.PriceMax = 1_000_000
	}
	if out.Market.QuantityMin <= 0 {
		out.Market.QuantityMin = 1
	}
	if out.Leaderboard == nil {
		out.Leaderboard = &LeaderboardConfig{}
	}
	if out.Leaderboard.ID == "" {
		out.Leaderboard.ID = "currency"
	}
	if out.Leaderboard.FlushIntervalSec <= 0 {
		out.Leaderboard.FlushIntervalSec = 45
	}
	if out.Audit == nil {
		out.Audit = &AuditConfig{}
	}
	if out.Audit.FlushIntervalSec <= 0 {
		out.Audit.FlushIntervalSec = 20
	}
	if out.Audit.MaxEventsPerBucket <= 0 {
		out.Audit.MaxEventsPerBucket = 200
	}
	if out.Snapshot == nil {
		out.Snapshot = &SnapshotConfig{}
	}
	if out.Snapshot.FlushIntervalSec <= 0 {
		out.Snapshot.FlushIntervalSec = 120
	}
	if out.Gacha == nil {
		out.Gacha = &GachaConfig{}
	}
	return out
}

func (c *StoreConfig) retryDelays() []time.Duration {
	delays := make([]time.Duration, 0, len(c.RetryDelaysSec))
	for _, sec := range c.RetryDelaysSec {
		delays = append(delays, time.Duration(sec*float64(time.Second)))
	}
	return delays
}
