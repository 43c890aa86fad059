package bananomics

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/heroiclabs/nakama-common/runtime"
)

// Operator RPC handlers: leaderboard top, global config read and update. The
// update is server-to-server only and refuses calls carrying a session user.

type leaderboardEntry struct {
	UserID   string `json:"user_id"`
	Username string `json:"username,omitempty"`
	Score    int64  `json:"score"`
	Rank     int64  `json:"rank"`
}

func rpcLeaderboardTop(e *engineImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		var request struct {
			Limit int `json:"limit"`
		}
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &request); err != nil {
				logger.Error("Failed to unmarshal leaderboard top request: %v", err)
				return "", ErrPayloadDecode
			}
		}

		records, err := e.leaderboard.Top(ctx, logger, request.Limit)
		if err != nil {
			logger.Error("Error listing leaderboard records: %v", err)
			return "", ErrInternal
		}

		entries := make([]leaderboardEntry, 0, len(records))
		for _, rec := range records {
			entries = append(entries, leaderboardEntry{
				UserID:   rec.GetOwnerId(),
				Username: rec.GetUsername().GetValue(),
				Score:    rec.GetScore(),
				Rank:     rec.GetRank(),
			})
		}
		responseData, err := json.Marshal(struct {
			Entries []leaderboardEntry `json:"entries"`
		}{Entries: entries})
		if err != nil {
			logger.Error("Failed to marshal response: %v", err)
			return "", ErrPayloadEncode
		}
		return string(responseData), nil
	}
}

func rpcGlobalConfigGet(e *engineImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		rec := e.globalConfig.Get(ctx, logger)
		responseData, err := json.Marshal(rec)
		if err != nil {
			logger.Error("Failed to marshal response: %v", err)
			return "", ErrPayloadEncode
		}
		return string(responseData), nil
	}
}

func rpcGlobalConfigUpdate(e *engineImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		if userID, ok := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string); ok && userID != "" {
			logger.Error("Global config update called with user ID in context")
			return "", ErrSessionUser
		}

		var request struct {
			TaxRate         *float64 `json:"tax_rate,omitempty"`
			PriceMultiplier *float64 `json:"price_multiplier,omitempty"`
			MarketEnabled   *bool    `json:"market_enabled,omitempty"`
			GachaEnabled    *bool    `json:"gacha_enabled,omitempty"`
			UpdatedBy       string   `json:"updated_by,omitempty"`
		}
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal global config update request: %v", err)
			return "", ErrPayloadDecode
		}

		rec, err := e.globalConfig.Update(ctx, logger, func(rec *GlobalConfigRecord) {
			if request.TaxRate != nil {
				rec.Economy.TaxRate = *request.TaxRate
			}
			if request.PriceMultiplier != nil {
				rec.Economy.PriceMultiplier = *request.PriceMultiplier
			}
			if request.MarketEnabled != nil {
				rec.Features.MarketEnabled = *request.MarketEnabled
			}
			if request.GachaEnabled != nil {
				rec.Features.GachaEnabled = *request.GachaEnabled
			}
			if request.UpdatedBy != "" {
				rec.UpdatedBy = request.UpdatedBy
			}
		})
		if err != nil {
			logger.Error("Error updating global config: %v", err)
			return "", ErrInternal
		}

		responseData, err := json.Marshal(rec)
		if err != nil {
			logger.Error("Failed to marshal response: %v", err)
			return "", ErrPayloadEncode
		}
		return string(responseData), nil
	}
}

// registerRpcs binds every handler to its RPC identifier.
func (e *engineImpl) registerRpcs(initializer runtime.Initializer) error {
	rpcs := map[string]func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error){
		"economy_inventory_snapshot": rpcInventorySnapshot(e),
		"economy_gacha_pull":         rpcGachaPull(e),
		"economy_slot_award":         rpcSlotAward(e),
		"market_listing_create":      rpcMarketListingCreate(e),
		"market_listing_cancel":      rpcMarketListingCancel(e),
		"market_listing_buy":         rpcMarketListingBuy(e),
		"market_listing_get":         rpcMarketListingGet(e),
		"leaderboard_top":            rpcLeaderboardTop(e),
		"economy_config_get":         rpcGlobalConfigGet(e),
		"economy_config_update":      rpcGlobalConfigUpdate(e),
	}
	for id, fn := range rpcs {
		if err := initializer.RegisterRpc(id, fn); err != nil {
			return err
		}
	}
	return nil
}
