package bananomics

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/heroiclabs/nakama-common/runtime"
)

// Marketplace RPC handlers. Every response carries ok plus a reason code on
// refusal; hard failures surface as runtime errors.

type marketCreateResponse struct {
	OK        bool   `json:"ok"`
	ListingID string `json:"listing_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

func rpcMarketListingCreate(e *engineImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		var request struct {
			ItemID   string `json:"item_id"`
			Quantity int64  `json:"quantity"`
			Price    int64  `json:"price"`
		}
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal listing create request: %v", err)
			return "", ErrPayloadDecode
		}

		userID, ok := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)
		if !ok || userID == "" {
			logger.Error("No user ID in context")
			return "", ErrNoSessionUser
		}

		result := e.market.CreateListing(ctx, logger, userID, request.ItemID, request.Quantity, request.Price)
		response := marketCreateResponse{OK: result.OK, ListingID: result.ListingID, Reason: result.Reason}
		responseData, err := json.Marshal(&response)
		if err != nil {
			logger.Error("Failed to marshal response: %v", err)
			return "", ErrPayloadEncode
		}
		return string(responseData), nil
	}
}

type marketActionResponse struct {
	OK      bool           `json:"ok"`
	Listing *ListingRecord `json:"listing,omitempty"`
	Reason  string         `json:"reason,omitempty"`
}

func rpcMarketListingCancel(e *engineImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		var request struct {
			ListingID string `json:"listing_id"`
		}
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal listing cancel request: %v", err)
			return "", ErrPayloadDecode
		}
		if request.ListingID == "" {
			return "", ErrBadInput
		}

		userID, ok := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)
		if !ok || userID == "" {
			logger.Error("No user ID in context")
			return "", ErrNoSessionUser
		}

		result := e.market.CancelListing(ctx, logger, userID, request.ListingID)
		response := marketActionResponse{OK: result.OK, Listing: result.Listing, Reason: result.Reason}
		responseData, err := json.Marshal(&response)
		if err != nil {
			logger.Error("Failed to marshal response: %v", err)
			return "", ErrPayloadEncode
		}
		return string(responseData), nil
	}
}

func rpcMarketListingBuy(e *engineImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		var request struct {
			ListingID string `json:"listing_id"`
		}
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal listing buy request: %v", err)
			return "", ErrPayloadDecode
		}
		if request.ListingID == "" {
			return "", ErrBadInput
		}

		userID, ok := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)
		if !ok || userID == "" {
			logger.Error("No user ID in context")
			return "", ErrNoSessionUser
		}

		result := e.market.BuyListing(ctx, logger, userID, request.ListingID)
		response := marketActionResponse{OK: result.OK, Listing: result.Listing, Reason: result.Reason}
		responseData, err := json.Marshal(&response)
		if err != nil {
			logger.Error("Failed to marshal response: %v", err)
			return "", ErrPayloadEncode
		}
		return string(responseData), nil
	}
}

func rpcMarketListingGet(e *engineImpl) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		var request struct {
			ListingID string `json:"listing_id"`
		}
		if err := json.Unmarshal([]byte(payload), &request); err != nil {
			logger.Error("Failed to unmarshal listing get request: %v", err)
			return "", ErrPayloadDecode
		}
		if request.ListingID == "" {
			return "", ErrBadInput
		}

		listing, found := e.market.GetListing(ctx, logger, request.ListingID)
		response := marketActionResponse{OK: found, Listing: listing}
		responseData, err := json.Marshal(&response)
		if err != nil {
			logger.Error("Failed to marshal response: %v", err)
			return "", ErrPayloadEncode
		}
		return string(responseData), nil
	}
}
