package bananomics

import (
	"github.com/heroiclabs/nakama-common/runtime"
)

var (
	ErrInternal           = runtime.NewError("internal error occurred", 13) // INTERNAL
	ErrBadInput           = runtime.NewError("bad input", 3)                // INVALID_ARGUMENT
	ErrNoSessionUser      = runtime.NewError("no user ID in session", 3)    // INVALID_ARGUMENT
	ErrSessionUser        = runtime.NewError("user ID in session", 7)       // PERMISSION_DENIED
	ErrPayloadDecode      = runtime.NewError("cannot decode json", 13)      // INTERNAL
	ErrPayloadEncode      = runtime.NewError("cannot encode json", 13)      // INTERNAL
	ErrSystemNotAvailable = runtime.NewError("system not available", 13)    // INTERNAL
)

// Reason codes surfaced to callers for economic-logic failures. Persistence
// trouble is never reported through these: mutations are accepted in memory
// and durability is handled by the flush/retry machinery.
const (
	ReasonInvalidAmount        = "invalid_amount"
	ReasonInsufficientFunds    = "insufficient_funds"
	ReasonInvalidItem          = "invalid_item"
	ReasonInvalidCount         = "invalid_count"
	ReasonInsufficientQuantity = "insufficient_quantity"
	ReasonInvalidSlotCount     = "invalid_slot_count"
	ReasonNoSession            = "no_session"
	ReasonInvalidQuantity      = "invalid_quantity"
	ReasonInvalidPrice         = "invalid_price"
	ReasonListingExists        = "listing_exists"
	ReasonSaveFailed           = "save_failed"
	ReasonCannotCancel         = "cannot_cancel"
	ReasonCannotBuy            = "cannot_buy"
	ReasonMarketDisabled       = "market_disabled"
	ReasonGachaDisabled        = "gacha_disabled"
	ReasonGachaCooldown        = "gacha_cooldown"
)

// MutationResult is the synchronous outcome of an in-memory account mutation.
// Value carries the new balance or quantity when OK is true.
type MutationResult struct {
	OK     bool
	Value  int64
	Reason string
}

func mutationOK(value int64) MutationResult {
	return MutationResult{OK: true, Value: value}
}

func mutationFail(reason string) MutationResult {
	return MutationResult{Reason: reason}
}
