package bananomics

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
)

// GlobalConfigRecord holds the operator-controlled economy tuning and feature
// gates. It is persisted as a single system record and cached in process with
// a short TTL so operator changes land on every instance without a restart.
type GlobalConfigRecord struct {
	Economy       GlobalEconomyTuning `json:"economy"`
	Features      GlobalFeatureGates  `json:"features"`
	UpdatedAt     int64               `json:"updated_at"`
	UpdatedBy     string              `json:"updated_by,omitempty"`
	SchemaVersion int                 `json:"schema_version"`
}

type GlobalEconomyTuning struct {
	TaxRate         float64 `json:"tax_rate"`
	PriceMultiplier float64 `json:"price_multiplier"`
}

type GlobalFeatureGates struct {
	MarketEnabled bool `json:"market_enabled"`
	GachaEnabled  bool `json:"gacha_enabled"`
}

func defaultGlobalConfigRecord(now int64) *GlobalConfigRecord {
	return &GlobalConfigRecord{
		Economy:       GlobalEconomyTuning{TaxRate: 0, PriceMultiplier: 1},
		Features:      GlobalFeatureGates{MarketEnabled: true, GachaEnabled: true},
		UpdatedAt:     now,
		SchemaVersion: DefaultSchemaVersion,
	}
}

const globalConfigCacheTTL = 30 * time.Second

type GlobalConfigStore struct {
	client *StoreClient
	now    func() time.Time

	mu       sync.Mutex
	cached   *GlobalConfigRecord
	cachedAt time.Time
}

func NewGlobalConfigStore(client *StoreClient) *GlobalConfigStore {
	return &GlobalConfigStore{client: client, now: time.Now}
}

// Get returns the current gates, serving from cache inside the TTL. A read
// failure falls back to the last cached record, or the permissive defaults
// when nothing was ever read.
func (g *GlobalConfigStore) Get(ctx context.Context, logger runtime.Logger) *GlobalConfigRecord {
	g.mu.Lock()
	if g.cached != nil && g.now().Sub(g.cachedAt) < globalConfigCacheTTL {
		rec := *g.cached
		g.mu.Unlock()
		return &rec
	}
	g.mu.Unlock()

	op := StoreOp{Store: globalConfigCollection, Key: globalConfigKey, Kind: OpGet, Reason: "CONFIG_GET"}
	obj, res := g.client.Get(ctx, logger, op)

	g.mu.Lock()
	defer g.mu.Unlock()
	if !res.OK {
		if g.cached != nil {
			rec := *g.cached
			return &rec
		}
		return defaultGlobalConfigRecord(g.now().Unix())
	}
	rec := defaultGlobalConfigRecord(g.now().Unix())
	if obj.Found {
		if err := json.Unmarshal(obj.Value, rec); err != nil {
			logger.Warn("global config did not parse: %v", err)
			rec = defaultGlobalConfigRecord(g.now().Unix())
		}
	}
	g.cached = rec
	g.cachedAt = g.now()
	out := *rec
	return &out
}

// Update applies fn to the stored record under a conditional write and
// refreshes the cache on success.
func (g *GlobalConfigStore) Update(ctx context.Context, logger runtime.Logger, fn func(rec *GlobalConfigRecord)) (*GlobalConfigRecord, error) {
	var updated *GlobalConfigRecord
	op := StoreOp{Store: globalConfigCollection, Key: globalConfigKey, Kind: OpUpdate, Reason: "CONFIG_UPDATE"}
	outcome, res := g.client.Update(ctx, logger, op, func(current []byte) ([]byte, bool) {
		rec := defaultGlobalConfigRecord(g.now().Unix())
		if current != nil {
			if err := json.Unmarshal(current, rec); err != nil {
				rec = defaultGlobalConfigRecord(g.now().Unix())
			}
		}
		fn(rec)
		rec.UpdatedAt = g.now().Unix()
		next, err := json.Marshal(rec)
		if err != nil {
			return nil, false
		}
		updated = rec
		return next, true
	})
	if !res.OK {
		return nil, res.Err
	}
	if !outcome.Applied || updated == nil {
		return nil, ErrInternal
	}

	g.mu.Lock()
	g.cached = updated
	g.cachedAt = g.now()
	g.mu.Unlock()

	out := *updated
	return &out, nil
}

// MarketEnabled reports the marketplace gate.
func (g *GlobalConfigStore) MarketEnabled(ctx context.Context, logger runtime.Logger) bool {
	return g.Get(ctx, logger).Features.MarketEnabled
}

// GachaEnabled reports the gacha gate.
func (g *GlobalConfigStore) GachaEnabled(ctx context.Context, logger runtime.Logger) bool {
	return g.Get(ctx, logger).Features.GachaEnabled
}
