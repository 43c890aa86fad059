package bananomics

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/heroiclabs/nakama-common/runtime"
)

// Economy RPC handlers: inventory snapshot, gacha pull, slot payouts.

type inventorySnapshotResponse struct {
	Loaded  bool                     `json:"loaded"`
	Balance int64                    `json:"balance"`
	Slots   int                      `json:"slots"`
	Items   []*InventorySnapshotItem `json:"items"`
}

func rpcInventorySnapshot(e *engineImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		userID, ok := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)
		if !ok || userID == "" {
			logger.Error("No user ID in context")
			return "", ErrNoSessionUser
		}

		snap := e.accounts.InventorySnapshot(userID)
		response := inventorySnapshotResponse{
			Loaded:  snap.Loaded,
			Balance: e.accounts.Balance(userID),
			Slots:   e.accounts.NpcSlotCount(userID),
			Items:   snap.Items,
		}
		responseData, err := json.Marshal(&response)
		if err != nil {
			logger.Error("Failed to marshal response: %v", err)
			return "", ErrPayloadEncode
		}
		return string(responseData), nil
	}
}

type gachaPullResponse struct {
	OK            bool   `json:"ok"`
	ItemID        string `json:"item_id,omitempty"`
	ItemName      string `json:"item_name,omitempty"`
	CooldownUntil int64  `json:"cooldown_until,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

func rpcGachaPull(e *engineImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		var request struct {
			ItemID string `json:"item_id"`
		}
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal gacha pull request: %v", err)
			return "", ErrPayloadDecode
		}

		userID, ok := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)
		if !ok || userID == "" {
			logger.Error("No user ID in context")
			return "", ErrNoSessionUser
		}

		result := e.gacha.RecordPull(ctx, logger, userID, request.ItemID)
		response := gachaPullResponse{
			OK:            result.OK,
			ItemID:        result.ItemID,
			CooldownUntil: result.CooldownUntil,
			Reason:        result.Reason,
		}
		if result.OK {
			response.ItemName = e.catalog.Name(result.ItemID)
		}
		responseData, err := json.Marshal(&response)
		if err != nil {
			logger.Error("Failed to marshal response: %v", err)
			return "", ErrPayloadEncode
		}
		return string(responseData), nil
	}
}

type slotAwardResponse struct {
	OK      bool   `json:"ok"`
	Balance int64  `json:"balance,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

func rpcSlotAward(e *engineImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		var request struct {
			Slot   int   `json:"slot"`
			Amount int64 `json:"amount"`
		}
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal slot award request: %v", err)
			return "", ErrPayloadDecode
		}

		userID, ok := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)
		if !ok || userID == "" {
			logger.Error("No user ID in context")
			return "", ErrNoSessionUser
		}

		result := e.AwardSlotCurrency(userID, request.Slot, request.Amount)
		response := slotAwardResponse{OK: result.OK, Balance: result.Value, Reason: result.Reason}
		responseData, err := json.Marshal(&response)
		if err != nil {
			logger.Error("Failed to marshal response: %v", err)
			return "", ErrPayloadEncode
		}
		return string(responseData), nil
	}
}
