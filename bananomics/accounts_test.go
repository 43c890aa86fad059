package bananomics

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storedAccount(t *testing.T, h *testHarness, userID string) map[string]json.RawMessage {
	t.Helper()
	value, ok := h.nk.GetObject(accountCollection, accountKey, userID)
	require.True(t, ok, "no account record persisted for %s", userID)
	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(value), &fields))
	return fields
}

func TestAccountRegistry_SessionStartLoadsRecord(t *testing.T) {
	h := newHarness(nil)
	h.nk.SetObject(accountCollection, accountKey, "u1",
		`{"balance":250,"inventory":{"classic_banana":{"qty":3,"first_at":100,"updated_at":100}},"npc_slot_count":2,"schema_version":1}`)

	h.startSession("u1")

	assert.True(t, h.accounts.IsOnline("u1"))
	assert.Equal(t, int64(250), h.accounts.Balance("u1"))
	assert.True(t, h.accounts.HasItem("u1", "classic_banana"))
	assert.Equal(t, 2, h.accounts.NpcSlotCount("u1"))
}

func TestAccountRegistry_SessionStartMissingRecordUsesDefaults(t *testing.T) {
	h := newHarness(nil)

	h.startSession("u1")

	assert.Equal(t, int64(0), h.accounts.Balance("u1"))
	assert.Equal(t, DefaultNpcSlotCount, h.accounts.NpcSlotCount("u1"))
	snap := h.accounts.InventorySnapshot("u1")
	assert.True(t, snap.Loaded)
	assert.Empty(t, snap.Items)
}

func TestAccountRegistry_LoadFailureFailsOpen(t *testing.T) {
	h := newHarness(nil)
	h.nk.FailNextReads(3)

	h.startSession("u1")

	// The session proceeds on defaults and the baseline is rewritten.
	assert.True(t, h.accounts.IsOnline("u1"))
	h.accounts.Flush(h.ctx, h.logger, "u1", "test")
	fields := storedAccount(t, h, "u1")
	assert.Contains(t, fields, "schema_version")
}

func TestAccountRegistry_CorruptRecordReplacedWithDefaults(t *testing.T) {
	h := newHarness(nil)
	h.nk.SetObject(accountCollection, accountKey, "u1", `{{{not json`)

	h.startSession("u1")
	assert.Equal(t, int64(0), h.accounts.Balance("u1"))

	h.accounts.Flush(h.ctx, h.logger, "u1", "test")
	fields := storedAccount(t, h, "u1")
	assert.Contains(t, fields, "balance")
}

func TestAccountRegistry_NormalizationClampsAndDrops(t *testing.T) {
	h := newHarness(nil)
	h.nk.SetObject(accountCollection, accountKey, "u1",
		`{"balance":-50,"inventory":{"classic_banana":{"qty":0},"gold_banana":{"qty":2}},"npc_slot_count":99}`)

	h.startSession("u1")

	assert.Equal(t, int64(0), h.accounts.Balance("u1"))
	assert.False(t, h.accounts.HasItem("u1", "classic_banana"))
	assert.True(t, h.accounts.HasItem("u1", "gold_banana"))
	assert.Equal(t, NpcSlotMax, h.accounts.NpcSlotCount("u1"))
}

func TestAccountRegistry_UnknownFieldsSurviveSave(t *testing.T) {
	h := newHarness(nil)
	h.nk.SetObject(accountCollection, accountKey, "u1",
		`{"balance":10,"schema_version":3,"prestige":{"level":4}}`)

	h.startSession("u1")
	h.accounts.AddCurrency("u1", 5, "test")
	h.accounts.Flush(h.ctx, h.logger, "u1", "test")

	fields := storedAccount(t, h, "u1")
	assert.JSONEq(t, `{"level":4}`, string(fields["prestige"]))

	var version int
	require.NoError(t, json.Unmarshal(fields["schema_version"], &version))
	assert.Equal(t, 3, version, "newer schema version must not be downgraded")
}

func TestAccountRegistry_LegacyItemsFieldAccepted(t *testing.T) {
	h := newHarness(nil)
	h.nk.SetObject(accountCollection, accountKey, "u1",
		`{"items":{"classic_banana":{"qty":1,"first_at":5,"updated_at":5}}}`)

	h.startSession("u1")
	assert.True(t, h.accounts.HasItem("u1", "classic_banana"))
}

func TestAccountRegistry_CurrencyMutations(t *testing.T) {
	h := newHarness(nil)
	h.startSession("u1")

	res := h.accounts.AddCurrency("u1", 100, "test")
	require.True(t, res.OK)
	assert.Equal(t, int64(100), res.Value)

	res = h.accounts.AddCurrency("u1", 0, "test")
	assert.Equal(t, ReasonInvalidAmount, res.Reason)

	res = h.accounts.SpendCurrency("u1", 30, "test")
	require.True(t, res.OK)
	assert.Equal(t, int64(70), res.Value)

	res = h.accounts.SpendCurrency("u1", 71, "test")
	assert.Equal(t, ReasonInsufficientFunds, res.Reason)
	assert.Equal(t, int64(70), h.accounts.Balance("u1"))
}

func TestAccountRegistry_ItemMutations(t *testing.T) {
	h := newHarness(nil)
	h.startSession("u1")

	res := h.accounts.AddItem("u1", "not_a_thing", 1, "test")
	assert.Equal(t, ReasonInvalidItem, res.Reason)

	res = h.accounts.AddItem("u1", "classic_banana", 3, "test")
	require.True(t, res.OK)
	assert.Equal(t, int64(3), res.Value)

	res = h.accounts.RemoveItem("u1", "classic_banana", 5, "test")
	assert.Equal(t, ReasonInsufficientQuantity, res.Reason)

	res = h.accounts.RemoveItem("u1", "classic_banana", 3, "test")
	require.True(t, res.OK)
	assert.False(t, h.accounts.HasItem("u1", "classic_banana"))

	// The exhausted stack is gone, not stored at zero.
	h.accounts.Flush(h.ctx, h.logger, "u1", "test")
	fields := storedAccount(t, h, "u1")
	assert.JSONEq(t, `{}`, string(fields["inventory"]))
}

func TestAccountRegistry_UpgradeSlots(t *testing.T) {
	h := newHarness(nil)
	h.startSession("u1")
	h.accounts.AddCurrency("u1", 100, "test")

	res := h.accounts.UpgradeSlots("u1", 2, 150, "test")
	assert.Equal(t, ReasonInsufficientFunds, res.Reason)

	res = h.accounts.UpgradeSlots("u1", 99, 50, "test")
	require.True(t, res.OK)
	assert.Equal(t, NpcSlotMax, h.accounts.NpcSlotCount("u1"))
	assert.Equal(t, int64(50), h.accounts.Balance("u1"))
}

func TestAccountRegistry_MutationsQueueLeaderboard(t *testing.T) {
	h := newHarness(nil)
	h.startSession("u1")

	h.accounts.AddCurrency("u1", 40, "test")
	h.accounts.SpendCurrency("u1", 10, "test")
	assert.Equal(t, 1, h.leaderboard.PendingCount())

	h.leaderboard.Flush(h.ctx, h.logger)
	score, ok := h.nk.LeaderboardScore(h.cfg.Leaderboard.ID, "u1")
	require.True(t, ok)
	assert.Equal(t, int64(30), score)
}

func TestAccountRegistry_DebounceDefersSave(t *testing.T) {
	h := newHarness(nil)
	h.startSession("u1")

	h.accounts.AddCurrency("u1", 10, "test")
	_, persisted := h.nk.GetObject(accountCollection, accountKey, "u1")
	assert.False(t, persisted, "mutation must not write synchronously")

	h.accounts.Flush(h.ctx, h.logger, "u1", "test")
	_, persisted = h.nk.GetObject(accountCollection, accountKey, "u1")
	assert.True(t, persisted)
}

func TestAccountRegistry_DebounceTimerFires(t *testing.T) {
	cfg := fastTestConfig()
	cfg.Accounts.DebounceMs = 5
	h := newHarness(cfg)
	h.startSession("u1")

	h.accounts.AddCurrency("u1", 10, "test")

	require.Eventually(t, func() bool {
		_, persisted := h.nk.GetObject(accountCollection, accountKey, "u1")
		return persisted
	}, time.Second, 2*time.Millisecond)
}

func TestAccountRegistry_SweepFlushesQuietRecords(t *testing.T) {
	cfg := fastTestConfig()
	cfg.Accounts.DebounceMs = 1
	h := newHarness(cfg)
	h.startSession("u1")

	h.accounts.AddCurrency("u1", 10, "test")
	time.Sleep(10 * time.Millisecond)
	h.accounts.Sweep(h.ctx, h.logger)

	_, persisted := h.nk.GetObject(accountCollection, accountKey, "u1")
	assert.True(t, persisted)
}

func TestAccountRegistry_SessionEndFlushesAndEvicts(t *testing.T) {
	h := newHarness(nil)
	h.startSession("u1")
	h.accounts.AddCurrency("u1", 77, "test")

	h.accounts.SessionEnd(h.ctx, h.logger, "u1")

	assert.False(t, h.accounts.IsOnline("u1"))
	fields := storedAccount(t, h, "u1")
	var balance int64
	require.NoError(t, json.Unmarshal(fields["balance"], &balance))
	assert.Equal(t, int64(77), balance)
}

func TestAccountRegistry_FailedFlushKeepsRecordDirty(t *testing.T) {
	h := newHarness(nil)
	h.startSession("u1")
	h.accounts.AddCurrency("u1", 15, "test")

	h.nk.FailNextWrites(3)
	h.accounts.Flush(h.ctx, h.logger, "u1", "test")
	_, persisted := h.nk.GetObject(accountCollection, accountKey, "u1")
	assert.False(t, persisted)

	// The record is still dirty, the next flush lands it.
	h.accounts.Flush(h.ctx, h.logger, "u1", "test")
	_, persisted = h.nk.GetObject(accountCollection, accountKey, "u1")
	assert.True(t, persisted)
}

func TestAccountRegistry_FlushAllOnShutdown(t *testing.T) {
	h := newHarness(nil)
	h.startSession("u1")
	h.startSession("u2")
	h.accounts.AddCurrency("u1", 1, "test")
	h.accounts.AddCurrency("u2", 2, "test")

	h.accounts.FlushAll(h.ctx, h.logger)

	_, ok1 := h.nk.GetObject(accountCollection, accountKey, "u1")
	_, ok2 := h.nk.GetObject(accountCollection, accountKey, "u2")
	assert.True(t, ok1)
	assert.True(t, ok2)
}

func TestAccountRegistry_ReadsAndMutationsNeedSession(t *testing.T) {
	h := newHarness(nil)
	h.nk.SetObject(accountCollection, accountKey, "u1", `{"balance":5000,"schema_version":1}`)

	snap := h.accounts.InventorySnapshot("u1")
	assert.False(t, snap.Loaded)
	assert.Empty(t, snap.Items)
	assert.False(t, h.accounts.IsOnline("u1"), "a read must not create a session")
	assert.Equal(t, 0, h.accounts.ActiveCount())

	res := h.accounts.AddCurrency("u1", 10, "test")
	assert.Equal(t, ReasonNoSession, res.Reason)
	res = h.accounts.AddItem("u1", "classic_banana", 1, "test")
	assert.Equal(t, ReasonNoSession, res.Reason)

	// The stored record is untouched.
	fields := storedAccount(t, h, "u1")
	var balance int64
	require.NoError(t, json.Unmarshal(fields["balance"], &balance))
	assert.Equal(t, int64(5000), balance)
}

func TestAccountRegistry_CloseStopsDebounceTimers(t *testing.T) {
	cfg := fastTestConfig()
	cfg.Accounts.DebounceMs = 5
	h := newHarness(cfg)
	h.startSession("u1")

	h.accounts.AddCurrency("u1", 10, "test")
	h.accounts.Close()

	time.Sleep(30 * time.Millisecond)
	_, persisted := h.nk.GetObject(accountCollection, accountKey, "u1")
	assert.False(t, persisted, "stopped timer must not write")

	// The final flush still lands the dirty record.
	h.accounts.FlushAll(h.ctx, h.logger)
	_, persisted = h.nk.GetObject(accountCollection, accountKey, "u1")
	assert.True(t, persisted)
}

func TestAccountRegistry_InventorySnapshotOrdering(t *testing.T) {
	h := newHarness(nil)
	h.nk.SetObject(accountCollection, accountKey, "u1",
		`{"inventory":{"classic_banana":{"qty":1,"first_at":10,"updated_at":30},"gold_banana":{"qty":2,"first_at":5,"updated_at":20}}}`)
	h.startSession("u1")

	snap := h.accounts.InventorySnapshot("u1")
	require.Len(t, snap.Items, 2)
	assert.Equal(t, "gold_banana", snap.Items[0].ID)
	assert.Equal(t, "classic_banana", snap.Items[1].ID)
	assert.NotEmpty(t, snap.Items[0].Name)
}
