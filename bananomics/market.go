package bananomics

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/heroiclabs/nakama-common/runtime"
)

type ListingStatus string

const (
	ListingStatusOpen      ListingStatus = "OPEN"
	ListingStatusSold      ListingStatus = "SOLD"
	ListingStatusCancelled ListingStatus = "CANCELLED"
)

// ListingRecord is one marketplace offer. The store owns the record; there is
// no long-lived cache, every mutation is a conditional update so concurrent
// processes are serialized by the backing store. Status moves Open->Sold or
// Open->Cancelled exactly once and terminal records are never deleted.
type ListingRecord struct {
	ListingID     string        `json:"listing_id"`
	SellerUserID  string        `json:"seller_user_id"`
	BuyerUserID   string        `json:"buyer_user_id,omitempty"`
	ItemID        string        `json:"item_id"`
	Quantity      int64         `json:"quantity"`
	Price         int64         `json:"price"`
	Status        ListingStatus `json:"status"`
	CreatedAt     int64         `json:"created_at"`
	UpdatedAt     int64         `json:"updated_at"`
	SoldAt        int64         `json:"sold_at,omitempty"`
	SchemaVersion int           `json:"schema_version"`
}

// ListingResult is the outcome of a listing creation.
type ListingResult struct {
	OK        bool
	ListingID string
	Reason    string
}

// ListingActionResult is the outcome of a cancel or buy.
type ListingActionResult struct {
	OK      bool
	Listing *ListingRecord
	Reason  string
}

// MarketListingStore runs the listing lifecycle. Items are escrowed out of the
// seller's live inventory when a listing is created and restored exactly once
// on cancellation or on a failed create.
type MarketListingStore struct {
	client       *StoreClient
	accounts     *AccountRegistry
	audit        *AuditLog
	catalog      *Catalog
	globalConfig *GlobalConfigStore
	cfg          *MarketConfig

	mu           sync.Mutex
	openListings int64 // process-local counter, feeds the snapshot
}

func NewMarketListingStore(client *StoreClient, accounts *AccountRegistry, audit *AuditLog, catalog *Catalog, globalConfig *GlobalConfigStore, cfg *MarketConfig) *MarketListingStore {
	return &MarketListingStore{
		client:       client,
		accounts:     accounts,
		audit:        audit,
		catalog:      catalog,
		globalConfig: globalConfig,
		cfg:          cfg,
	}
}

// OpenListingCount reports the process-local count of listings opened and not
// yet resolved by this process.
func (m *MarketListingStore) OpenListingCount() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openListings
}

func (m *MarketListingStore) incrementOpen() {
	m.mu.Lock()
	m.openListings++
	m.mu.Unlock()
}

func (m *MarketListingStore) decrementOpen() {
	m.mu.Lock()
	if m.openListings > 0 {
		m.openListings--
	}
	m.mu.Unlock()
}

func (m *MarketListingStore) clampPrice(price int64) int64 {
	if price < m.cfg.PriceMin {
		return m.cfg.PriceMin
	}
	if price > m.cfg.PriceMax {
		return m.cfg.PriceMax
	}
	return price
}

// CreateListing escrows quantity of the item out of the seller's inventory,
// then writes the new listing only if no record occupies the generated key.
// Any failure after the escrow restores the items before returning.
func (m *MarketListingStore) CreateListing(ctx context.Context, logger runtime.Logger, sellerID, itemID string, quantity, price int64) ListingResult {
	if !m.globalConfig.MarketEnabled(ctx, logger) {
		return ListingResult{Reason: ReasonMarketDisabled}
	}
	if !m.catalog.Has(itemID) {
		return ListingResult{Reason: ReasonInvalidItem}
	}
	if quantity < m.cfg.QuantityMin {
		return ListingResult{Reason: ReasonInvalidQuantity}
	}
	if price < m.cfg.PriceMin || price > m.cfg.PriceMax {
		return ListingResult{Reason: ReasonInvalidPrice}
	}

	reserve := m.accounts.RemoveItem(sellerID, itemID, quantity, "LIST_CREATE")
	if !reserve.OK {
		return ListingResult{Reason: reserve.Reason}
	}

	listingID := uuid.NewString()
	now := time.Now().Unix()
	listing := &ListingRecord{
		ListingID:     listingID,
		SellerUserID:  sellerID,
		ItemID:        itemID,
		Quantity:      quantity,
		Price:         m.clampPrice(price),
		Status:        ListingStatusOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
		SchemaVersion: DefaultSchemaVersion,
	}
	payload, err := json.Marshal(listing)
	if err != nil {
		m.accounts.AddItem(sellerID, itemID, quantity, "LIST_CREATE_ROLLBACK")
		logger.Error("listing %s failed to marshal: %v", listingID, err)
		return ListingResult{Reason: ReasonSaveFailed}
	}

	op := StoreOp{Store: listingCollection, Key: listingID, Kind: OpCreate, Reason: "LIST_CREATE"}
	outcome, res := m.client.Update(ctx, logger, op, func(current []byte) ([]byte, bool) {
		if current != nil {
			// Key collision: keep the existing record untouched.
			return nil, false
		}
		return payload, true
	})
	if !res.OK {
		m.accounts.AddItem(sellerID, itemID, quantity, "LIST_CREATE_ROLLBACK")
		return ListingResult{Reason: ReasonSaveFailed}
	}
	if !outcome.Applied {
		m.accounts.AddItem(sellerID, itemID, quantity, "LIST_CREATE_ROLLBACK")
		return ListingResult{Reason: ReasonListingExists}
	}

	m.incrementOpen()
	m.audit.Record(sellerID, "LIST_CREATE", "LIST_CREATE", map[string]any{
		"listing_id": listingID,
		"item_id":    itemID,
		"quantity":   quantity,
		"price":      listing.Price,
	})
	// Escrow must be durable before the listing is acknowledged.
	m.accounts.Flush(ctx, logger, sellerID, "LIST_CREATE")

	return ListingResult{OK: true, ListingID: listingID}
}

// CancelListing transitions Open->Cancelled only when the requester is the
// seller and the listing is still open; anything else leaves the record
// untouched and reports cannot_cancel. The escrowed items return to the
// seller exactly once, on the winning transition.
func (m *MarketListingStore) CancelListing(ctx context.Context, logger runtime.Logger, requesterID, listingID string) ListingActionResult {
	var cancelled *ListingRecord
	op := StoreOp{Store: listingCollection, Key: listingID, Kind: OpUpdate, Reason: "LIST_CANCEL"}
	outcome, res := m.client.Update(ctx, logger, op, func(current []byte) ([]byte, bool) {
		cancelled = nil
		var rec ListingRecord
		if current == nil || json.Unmarshal(current, &rec) != nil {
			return nil, false
		}
		if rec.Status != ListingStatusOpen || rec.SellerUserID != requesterID {
			return nil, false
		}
		rec.Status = ListingStatusCancelled
		rec.UpdatedAt = time.Now().Unix()
		next, err := json.Marshal(&rec)
		if err != nil {
			return nil, false
		}
		cancelled = &rec
		return next, true
	})
	if !res.OK || !outcome.Applied || cancelled == nil {
		return ListingActionResult{Reason: ReasonCannotCancel}
	}

	m.accounts.AddItem(requesterID, cancelled.ItemID, cancelled.Quantity, "LIST_CANCEL")
	m.decrementOpen()
	m.audit.Record(requesterID, "LIST_CANCEL", "LIST_CANCEL", map[string]any{
		"listing_id": listingID,
		"item_id":    cancelled.ItemID,
		"quantity":   cancelled.Quantity,
	})
	m.accounts.Flush(ctx, logger, requesterID, "LIST_CANCEL")

	return ListingActionResult{OK: true, Listing: cancelled}
}

// BuyListing transitions Open->Sold, stamping the buyer, then settles: the
// buyer is charged and receives the items, the seller is credited when
// online. An offline seller's credit is recorded only as a pending audit
// event; there is no deferred-credit ledger.
//
// The transition happens before the buyer's funds are checked. When the
// charge fails the listing stays Sold with no payment settled and no
// compensating transition back to Open. That ordering is a known defect kept
// for compatibility with the deployed behavior; see DESIGN.md.
func (m *MarketListingStore) BuyListing(ctx context.Context, logger runtime.Logger, buyerID, listingID string) ListingActionResult {
	var sold *ListingRecord
	op := StoreOp{Store: listingCollection, Key: listingID, Kind: OpUpdate, Reason: "MARKET_BUY"}
	outcome, res := m.client.Update(ctx, logger, op, func(current []byte) ([]byte, bool) {
		sold = nil
		var rec ListingRecord
		if current == nil || json.Unmarshal(current, &rec) != nil {
			return nil, false
		}
		if rec.Status != ListingStatusOpen {
			return nil, false
		}
		now := time.Now().Unix()
		rec.Status = ListingStatusSold
		rec.BuyerUserID = buyerID
		rec.UpdatedAt = now
		rec.SoldAt = now
		next, err := json.Marshal(&rec)
		if err != nil {
			return nil, false
		}
		sold = &rec
		return next, true
	})
	if !res.OK || !outcome.Applied || sold == nil {
		return ListingActionResult{Reason: ReasonCannotBuy}
	}

	charge := m.accounts.SpendCurrency(buyerID, sold.Price, "MARKET_BUY")
	if !charge.OK {
		m.audit.Record(buyerID, "MARKET_BUY_FAIL", "MARKET_BUY", map[string]any{
			"listing_id": listingID,
			"reason":     charge.Reason,
		})
		return ListingActionResult{Reason: ReasonInsufficientFunds}
	}

	m.accounts.AddItem(buyerID, sold.ItemID, sold.Quantity, "MARKET_BUY")

	if m.accounts.IsOnline(sold.SellerUserID) {
		m.accounts.AddCurrency(sold.SellerUserID, sold.Price, "MARKET_BUY")
		m.accounts.Flush(ctx, logger, sold.SellerUserID, "MARKET_BUY")
	} else {
		m.audit.Record(sold.SellerUserID, "MARKET_BUY_PENDING", "MARKET_BUY", map[string]any{
			"listing_id": listingID,
			"price":      sold.Price,
		})
	}

	m.decrementOpen()
	m.audit.Record(buyerID, "MARKET_BUY", "MARKET_BUY", map[string]any{
		"listing_id":     listingID,
		"seller_user_id": sold.SellerUserID,
		"item_id":        sold.ItemID,
		"quantity":       sold.Quantity,
		"price":          sold.Price,
	})
	m.accounts.Flush(ctx, logger, buyerID, "MARKET_BUY")

	return ListingActionResult{OK: true, Listing: sold}
}

// GetListing reads a listing without mutating it.
func (m *MarketListingStore) GetListing(ctx context.Context, logger runtime.Logger, listingID string) (*ListingRecord, bool) {
	op := StoreOp{Store: listingCollection, Key: listingID, Kind: OpGet, Reason: "LIST_GET"}
	obj, res := m.client.Get(ctx, logger, op)
	if !res.OK || !obj.Found {
		return nil, false
	}
	var rec ListingRecord
	if err := json.Unmarshal(obj.Value, &rec); err != nil {
		logger.Warn("listing %s did not parse: %v", listingID, err)
		return nil, false
	}
	return &rec, true
}
