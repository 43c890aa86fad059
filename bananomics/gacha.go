package bananomics

import (
	"context"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
)

// GachaResult is the outcome of recording a pull.
type GachaResult struct {
	OK            bool
	ItemID        string
	CooldownUntil int64
	Reason        string
}

// GachaSystem records pull outcomes against the account. The weighted draw
// itself happens in the game layer; the caller passes the item it rolled and
// this system applies the grant, the cooldown, and the audit trail.
type GachaSystem struct {
	accounts     *AccountRegistry
	audit        *AuditLog
	catalog      *Catalog
	globalConfig *GlobalConfigStore
	cfg          *GachaConfig
	now          func() time.Time
}

func NewGachaSystem(accounts *AccountRegistry, audit *AuditLog, catalog *Catalog, globalConfig *GlobalConfigStore, cfg *GachaConfig) *GachaSystem {
	return &GachaSystem{
		accounts:     accounts,
		audit:        audit,
		catalog:      catalog,
		globalConfig: globalConfig,
		cfg:          cfg,
		now:          time.Now,
	}
}

// RecordPull grants the drawn item to the user and stamps the pull cooldown.
// Rejects pulls while the gate is off, for unknown items, or while the user's
// previous cooldown is still running.
func (g *GachaSystem) RecordPull(ctx context.Context, logger runtime.Logger, userID, itemID string) GachaResult {
	if !g.globalConfig.GachaEnabled(ctx, logger) {
		return GachaResult{Reason: ReasonGachaDisabled}
	}
	if !g.catalog.Has(itemID) {
		return GachaResult{Reason: ReasonInvalidItem}
	}
	now := g.now().Unix()
	if g.cfg.CooldownSec > 0 {
		if until := g.accounts.GachaCooldownUntil(userID); until > now {
			return GachaResult{Reason: ReasonGachaCooldown, CooldownUntil: until}
		}
	}

	grant := g.accounts.AddItem(userID, itemID, 1, "GACHA")
	if !grant.OK {
		return GachaResult{Reason: grant.Reason}
	}

	var until int64
	if g.cfg.CooldownSec > 0 {
		until = now + g.cfg.CooldownSec
		g.accounts.SetGachaCooldown(userID, until, "GACHA")
	}
	g.audit.Record(userID, "GACHA", "GACHA", map[string]any{
		"item_id": itemID,
	})

	return GachaResult{OK: true, ItemID: itemID, CooldownUntil: until}
}
