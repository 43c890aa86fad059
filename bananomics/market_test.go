package bananomics

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storedListing(t *testing.T, h *testHarness, listingID string) *ListingRecord {
	t.Helper()
	value, ok := h.nk.GetObject(listingCollection, listingID, "")
	require.True(t, ok, "listing %s not persisted", listingID)
	var rec ListingRecord
	require.NoError(t, json.Unmarshal([]byte(value), &rec))
	return &rec
}

func sellerWithItem(h *testHarness, userID, itemID string, qty int64) {
	h.startSession(userID)
	h.accounts.AddItem(userID, itemID, qty, "test")
}

func TestMarket_CreateListingEscrowsItems(t *testing.T) {
	h := newHarness(nil)
	sellerWithItem(h, "seller", "gold_banana", 2)

	result := h.market.CreateListing(h.ctx, h.logger, "seller", "gold_banana", 2, 100)
	require.True(t, result.OK)
	require.NotEmpty(t, result.ListingID)

	assert.False(t, h.accounts.HasItem("seller", "gold_banana"), "escrow must leave the live inventory")
	assert.Equal(t, int64(1), h.market.OpenListingCount())

	rec := storedListing(t, h, result.ListingID)
	assert.Equal(t, ListingStatusOpen, rec.Status)
	assert.Equal(t, "seller", rec.SellerUserID)
	assert.Equal(t, int64(2), rec.Quantity)
	assert.Equal(t, int64(100), rec.Price)
	assert.Equal(t, DefaultSchemaVersion, rec.SchemaVersion)

	// The escrow was force-flushed.
	fields := storedAccount(t, h, "seller")
	assert.JSONEq(t, `{}`, string(fields["inventory"]))
}

func TestMarket_CreateListingValidation(t *testing.T) {
	h := newHarness(nil)
	sellerWithItem(h, "seller", "gold_banana", 1)

	result := h.market.CreateListing(h.ctx, h.logger, "seller", "nope", 1, 100)
	assert.Equal(t, ReasonInvalidItem, result.Reason)

	result = h.market.CreateListing(h.ctx, h.logger, "seller", "gold_banana", 0, 100)
	assert.Equal(t, ReasonInvalidQuantity, result.Reason)

	result = h.market.CreateListing(h.ctx, h.logger, "seller", "gold_banana", 1, 0)
	assert.Equal(t, ReasonInvalidPrice, result.Reason)

	result = h.market.CreateListing(h.ctx, h.logger, "seller", "gold_banana", 1, 1_000_001)
	assert.Equal(t, ReasonInvalidPrice, result.Reason)

	result = h.market.CreateListing(h.ctx, h.logger, "seller", "gold_banana", 2, 100)
	assert.Equal(t, ReasonInsufficientQuantity, result.Reason)

	assert.Equal(t, int64(0), h.market.OpenListingCount())
	assert.True(t, h.accounts.HasItem("seller", "gold_banana"))
}

func TestMarket_CreateListingRollsBackOnPersistFailure(t *testing.T) {
	h := newHarness(nil)
	sellerWithItem(h, "seller", "gold_banana", 1)

	h.nk.FailNextWrites(3)
	result := h.market.CreateListing(h.ctx, h.logger, "seller", "gold_banana", 1, 100)
	assert.Equal(t, ReasonSaveFailed, result.Reason)

	assert.True(t, h.accounts.HasItem("seller", "gold_banana"), "escrow must be returned")
	assert.Equal(t, int64(0), h.market.OpenListingCount())
}

func TestMarket_CancelListingReturnsItemsOnce(t *testing.T) {
	h := newHarness(nil)
	sellerWithItem(h, "seller", "gold_banana", 2)
	created := h.market.CreateListing(h.ctx, h.logger, "seller", "gold_banana", 2, 100)
	require.True(t, created.OK)

	result := h.market.CancelListing(h.ctx, h.logger, "seller", created.ListingID)
	require.True(t, result.OK)
	assert.Equal(t, ListingStatusCancelled, result.Listing.Status)
	assert.True(t, h.accounts.HasItem("seller", "gold_banana"))
	assert.Equal(t, int64(0), h.market.OpenListingCount())

	// A second cancel finds a terminal listing and must not return items again.
	result = h.market.CancelListing(h.ctx, h.logger, "seller", created.ListingID)
	assert.Equal(t, ReasonCannotCancel, result.Reason)
	snap := h.accounts.InventorySnapshot("seller")
	require.Len(t, snap.Items, 1)
	assert.Equal(t, int64(2), snap.Items[0].Qty)
}

func TestMarket_CancelListingRequiresSeller(t *testing.T) {
	h := newHarness(nil)
	sellerWithItem(h, "seller", "gold_banana", 1)
	h.startSession("intruder")
	created := h.market.CreateListing(h.ctx, h.logger, "seller", "gold_banana", 1, 100)
	require.True(t, created.OK)

	result := h.market.CancelListing(h.ctx, h.logger, "intruder", created.ListingID)
	assert.Equal(t, ReasonCannotCancel, result.Reason)
	assert.Equal(t, ListingStatusOpen, storedListing(t, h, created.ListingID).Status)
}

func TestMarket_CancelUnknownListing(t *testing.T) {
	h := newHarness(nil)
	h.startSession("seller")

	result := h.market.CancelListing(h.ctx, h.logger, "seller", "no-such-listing")
	assert.Equal(t, ReasonCannotCancel, result.Reason)
}

func TestMarket_BuyListingSettlesBothSides(t *testing.T) {
	h := newHarness(nil)
	sellerWithItem(h, "seller", "gold_banana", 1)
	h.startSession("buyer")
	h.accounts.AddCurrency("buyer", 150, "test")
	created := h.market.CreateListing(h.ctx, h.logger, "seller", "gold_banana", 1, 100)
	require.True(t, created.OK)

	result := h.market.BuyListing(h.ctx, h.logger, "buyer", created.ListingID)
	require.True(t, result.OK)
	assert.Equal(t, ListingStatusSold, result.Listing.Status)
	assert.Equal(t, "buyer", result.Listing.BuyerUserID)
	assert.NotZero(t, result.Listing.SoldAt)

	assert.Equal(t, int64(50), h.accounts.Balance("buyer"))
	assert.True(t, h.accounts.HasItem("buyer", "gold_banana"))
	assert.Equal(t, int64(100), h.accounts.Balance("seller"))
	assert.Equal(t, int64(0), h.market.OpenListingCount())

	rec := storedListing(t, h, created.ListingID)
	assert.Equal(t, ListingStatusSold, rec.Status)
}

func TestMarket_BuyListingTwiceFails(t *testing.T) {
	h := newHarness(nil)
	sellerWithItem(h, "seller", "gold_banana", 1)
	h.startSession("buyer")
	h.accounts.AddCurrency("buyer", 200, "test")
	created := h.market.CreateListing(h.ctx, h.logger, "seller", "gold_banana", 1, 100)
	require.True(t, created.OK)

	first := h.market.BuyListing(h.ctx, h.logger, "buyer", created.ListingID)
	require.True(t, first.OK)

	second := h.market.BuyListing(h.ctx, h.logger, "buyer", created.ListingID)
	assert.Equal(t, ReasonCannotBuy, second.Reason)
	assert.Equal(t, int64(100), h.accounts.Balance("buyer"), "buyer must be charged exactly once")
}

func TestMarket_BuyListingInsufficientFunds(t *testing.T) {
	h := newHarness(nil)
	sellerWithItem(h, "seller", "gold_banana", 1)
	h.startSession("buyer")
	h.accounts.AddCurrency("buyer", 10, "test")
	created := h.market.CreateListing(h.ctx, h.logger, "seller", "gold_banana", 1, 100)
	require.True(t, created.OK)

	result := h.market.BuyListing(h.ctx, h.logger, "buyer", created.ListingID)
	assert.Equal(t, ReasonInsufficientFunds, result.Reason)

	// The transition happened before the charge and is not compensated: the
	// listing remains Sold with no payment, and the open counter is not
	// decremented on this path.
	rec := storedListing(t, h, created.ListingID)
	assert.Equal(t, ListingStatusSold, rec.Status)
	assert.Equal(t, int64(10), h.accounts.Balance("buyer"))
	assert.False(t, h.accounts.HasItem("buyer", "gold_banana"))
	assert.Equal(t, int64(0), h.accounts.Balance("seller"))
	assert.Equal(t, int64(1), h.market.OpenListingCount())
}

func TestMarket_BuyListingOfflineSellerCreditDeferredToAudit(t *testing.T) {
	h := newHarness(nil)
	sellerWithItem(h, "seller", "gold_banana", 1)
	created := h.market.CreateListing(h.ctx, h.logger, "seller", "gold_banana", 1, 100)
	require.True(t, created.OK)
	h.accounts.SessionEnd(h.ctx, h.logger, "seller")

	h.startSession("buyer")
	h.accounts.AddCurrency("buyer", 150, "test")

	result := h.market.BuyListing(h.ctx, h.logger, "buyer", created.ListingID)
	require.True(t, result.OK)

	// The offline seller is not credited; the sale is only visible in the
	// audit trail as a pending event.
	assert.Equal(t, int64(0), h.accounts.Balance("seller"))
	h.audit.Flush(h.ctx, h.logger)
	events, err := h.audit.EventsForDay(h.ctx, h.logger, auditDayKey(result.Listing.SoldAt))
	require.NoError(t, err)
	var pending int
	for _, evt := range events {
		if evt.Type == "MARKET_BUY_PENDING" && evt.UserID == "seller" {
			pending++
		}
	}
	assert.Equal(t, 1, pending)
}

func TestMarket_SnapshotOfOfflineSellerDoesNotPhantomCredit(t *testing.T) {
	h := newHarness(nil)
	sellerWithItem(h, "seller", "gold_banana", 1)
	h.accounts.AddCurrency("seller", 5000, "test")
	created := h.market.CreateListing(h.ctx, h.logger, "seller", "gold_banana", 1, 100)
	require.True(t, created.OK)
	h.accounts.SessionEnd(h.ctx, h.logger, "seller")

	// A read-only snapshot of the offline seller must not fabricate a
	// session the sale settlement would then credit and flush.
	snap := h.accounts.InventorySnapshot("seller")
	assert.False(t, snap.Loaded)
	assert.False(t, h.accounts.IsOnline("seller"))

	h.startSession("buyer")
	h.accounts.AddCurrency("buyer", 150, "test")
	result := h.market.BuyListing(h.ctx, h.logger, "buyer", created.ListingID)
	require.True(t, result.OK)

	fields := storedAccount(t, h, "seller")
	var balance int64
	require.NoError(t, json.Unmarshal(fields["balance"], &balance))
	assert.Equal(t, int64(5000), balance, "stored seller record must survive the sale")

	h.audit.Flush(h.ctx, h.logger)
	events, err := h.audit.EventsForDay(h.ctx, h.logger, auditDayKey(result.Listing.SoldAt))
	require.NoError(t, err)
	var pending int
	for _, evt := range events {
		if evt.Type == "MARKET_BUY_PENDING" && evt.UserID == "seller" {
			pending++
		}
	}
	assert.Equal(t, 1, pending)
}

func TestMarket_ConcurrentBuyExactlyOneWinner(t *testing.T) {
	h := newHarness(nil)
	sellerWithItem(h, "seller", "gold_banana", 1)
	h.startSession("b1")
	h.startSession("b2")
	h.accounts.AddCurrency("b1", 200, "test")
	h.accounts.AddCurrency("b2", 200, "test")
	created := h.market.CreateListing(h.ctx, h.logger, "seller", "gold_banana", 1, 100)
	require.True(t, created.OK)

	var wg sync.WaitGroup
	results := make([]ListingActionResult, 2)
	for i, buyer := range []string{"b1", "b2"} {
		wg.Add(1)
		go func(i int, buyer string) {
			defer wg.Done()
			results[i] = h.market.BuyListing(h.ctx, h.logger, buyer, created.ListingID)
		}(i, buyer)
	}
	wg.Wait()

	wins := 0
	for _, res := range results {
		if res.OK {
			wins++
		}
	}
	require.Equal(t, 1, wins, "exactly one buyer must win the race")

	rec := storedListing(t, h, created.ListingID)
	assert.Equal(t, ListingStatusSold, rec.Status)
	assert.Contains(t, []string{"b1", "b2"}, rec.BuyerUserID)
	charged := h.accounts.Balance("b1") + h.accounts.Balance("b2")
	assert.Equal(t, int64(300), charged, "only the winner is charged")
}

func TestMarket_ConcurrentCancelRestoresItemsExactlyOnce(t *testing.T) {
	h := newHarness(nil)
	sellerWithItem(h, "seller", "gold_banana", 3)
	created := h.market.CreateListing(h.ctx, h.logger, "seller", "gold_banana", 3, 100)
	require.True(t, created.OK)

	var wg sync.WaitGroup
	results := make([]ListingActionResult, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = h.market.CancelListing(h.ctx, h.logger, "seller", created.ListingID)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, res := range results {
		if res.OK {
			wins++
		}
	}
	require.Equal(t, 1, wins, "exactly one cancel must win")

	snap := h.accounts.InventorySnapshot("seller")
	require.Len(t, snap.Items, 1)
	assert.Equal(t, int64(3), snap.Items[0].Qty, "escrow restored exactly once")
}

func TestMarket_DisabledGateBlocksCreate(t *testing.T) {
	h := newHarness(nil)
	sellerWithItem(h, "seller", "gold_banana", 1)

	_, err := h.globalCfg.Update(h.ctx, h.logger, func(rec *GlobalConfigRecord) {
		rec.Features.MarketEnabled = false
	})
	require.NoError(t, err)

	result := h.market.CreateListing(h.ctx, h.logger, "seller", "gold_banana", 1, 100)
	assert.Equal(t, ReasonMarketDisabled, result.Reason)
	assert.True(t, h.accounts.HasItem("seller", "gold_banana"))
}

func TestMarket_GetListing(t *testing.T) {
	h := newHarness(nil)
	sellerWithItem(h, "seller", "gold_banana", 1)
	created := h.market.CreateListing(h.ctx, h.logger, "seller", "gold_banana", 1, 100)
	require.True(t, created.OK)

	rec, found := h.market.GetListing(h.ctx, h.logger, created.ListingID)
	require.True(t, found)
	assert.Equal(t, created.ListingID, rec.ListingID)

	_, found = h.market.GetListing(h.ctx, h.logger, "nope")
	assert.False(t, found)
}
