package bananomics

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
)

// accountState is the per-user cache entry. The mutex covers every field; the
// saving flag keeps two flush attempts for the same user from both issuing
// writes.
type accountState struct {
	mu sync.Mutex

	userID  string
	record  *AccountRecord
	unknown map[string]json.RawMessage

	loaded        bool
	dirty         bool
	saving        bool
	debounceArmed bool
	debounceTimer *time.Timer
	lastChangeAt  time.Time
	lastReason    string
	failedSaves   int
}

// AccountRegistry owns every cached account for this process, with an explicit
// session lifecycle: SessionStart loads and caches, SessionEnd force-flushes
// and evicts. Mutations are synchronous in-memory and schedule a debounced
// flush; a background sweep catches records whose debounce fire was skipped
// behind a slow save.
type AccountRegistry struct {
	mu     sync.Mutex
	states map[string]*accountState
	closed bool

	client      *StoreClient
	catalog     *Catalog
	leaderboard *LeaderboardStore

	debounce time.Duration

	// Background flushes (debounce timers, sweep) run outside any request, so
	// they use the context and logger the engine was initialized with.
	ctx    context.Context
	logger runtime.Logger
}

func NewAccountRegistry(ctx context.Context, logger runtime.Logger, client *StoreClient, catalog *Catalog, leaderboard *LeaderboardStore, cfg *AccountsConfig) *AccountRegistry {
	return &AccountRegistry{
		states:      make(map[string]*accountState),
		client:      client,
		catalog:     catalog,
		leaderboard: leaderboard,
		debounce:    time.Duration(cfg.DebounceMs) * time.Millisecond,
		ctx:         ctx,
		logger:      logger,
	}
}

// getOrCreate is only called from SessionStart. Every other entry point goes
// through lookup so that reads and mutations never invent cache state for a
// user with no session.
func (r *AccountRegistry) getOrCreate(userID string) *accountState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[userID]; ok {
		return st
	}
	st := &accountState{
		userID:     userID,
		record:     defaultAccountRecord(time.Now()),
		lastReason: "init",
	}
	r.states[userID] = st
	return st
}

func (r *AccountRegistry) lookup(userID string) *accountState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[userID]
}

// SessionStart loads the user's record into the cache. A load failure
// installs a default record marked dirty, so a later flush establishes a
// baseline; the session proceeds either way.
func (r *AccountRegistry) SessionStart(ctx context.Context, logger runtime.Logger, userID string) {
	st := r.getOrCreate(userID)

	op := StoreOp{Store: accountCollection, Key: accountKey, Owner: userID, Kind: OpGet}
	obj, res := r.client.Get(ctx, logger, op)

	now := time.Now()
	st.mu.Lock()
	defer st.mu.Unlock()
	switch {
	case res.OK && obj.Found:
		rec, unknown, parsed := normalizeAccountRecord(obj.Value, now)
		st.record = rec
		st.unknown = unknown
		if !parsed {
			// Corrupt payload: persist a clean default on the next flush.
			logger.Warn("account record for user %s did not parse, replaced with defaults", userID)
			st.dirty = true
			st.lastChangeAt = now
			st.lastReason = "load_corrupt"
		}
	case res.OK:
		st.record = defaultAccountRecord(now)
		st.unknown = nil
	default:
		logger.Warn("account load failed for user %s: %v", userID, res.Err)
		st.record = defaultAccountRecord(now)
		st.unknown = nil
		st.dirty = true
		st.lastChangeAt = now
		st.lastReason = "load_failed"
	}
	st.loaded = true
}

// SessionEnd force-flushes the user's record and drops the cache entry. The
// next session reloads from storage.
func (r *AccountRegistry) SessionEnd(ctx context.Context, logger runtime.Logger, userID string) {
	st := r.lookup(userID)
	if st == nil {
		return
	}
	st.mu.Lock()
	if st.dirty {
		st.lastReason = "session_end"
	}
	st.mu.Unlock()

	r.flushState(ctx, logger, st, true, false)

	r.mu.Lock()
	delete(r.states, userID)
	r.mu.Unlock()
}

// IsOnline reports whether the user currently has a cached session.
func (r *AccountRegistry) IsOnline(userID string) bool {
	return r.lookup(userID) != nil
}

func (r *AccountRegistry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.states)
}

// Balance returns the cached balance, 0 for users without a session.
func (r *AccountRegistry) Balance(userID string) int64 {
	st := r.lookup(userID)
	if st == nil {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.record.Balance
}

// HasItem reports whether a loaded user holds at least one of the item.
func (r *AccountRegistry) HasItem(userID, itemID string) bool {
	st := r.lookup(userID)
	if st == nil {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.loaded {
		return false
	}
	entry, ok := st.record.Inventory[itemID]
	return ok && entry.Qty > 0
}

// GachaCooldownUntil returns the cached cooldown timestamp for the user.
func (r *AccountRegistry) GachaCooldownUntil(userID string) int64 {
	st := r.lookup(userID)
	if st == nil {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.record.GachaCooldownUntil
}

// NpcSlotCount returns the cached slot count, the default for users without a
// session.
func (r *AccountRegistry) NpcSlotCount(userID string) int {
	st := r.lookup(userID)
	if st == nil {
		return DefaultNpcSlotCount
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.record.NpcSlotCount
}

// InventorySnapshot builds the pull-based snapshot for the presentation
// layer, sorted by update time ascending. Users without a session get an
// unloaded snapshot; reads never create cache state.
func (r *AccountRegistry) InventorySnapshot(userID string) *InventorySnapshot {
	st := r.lookup(userID)
	if st == nil {
		return &InventorySnapshot{Items: []*InventorySnapshotItem{}}
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	items := make([]*InventorySnapshotItem, 0, len(st.record.Inventory))
	for id, entry := range st.record.Inventory {
		items = append(items, &InventorySnapshotItem{
			ID:              id,
			Name:            r.catalog.Name(id),
			Qty:             entry.Qty,
			FirstAcquiredAt: entry.FirstAcquiredAt,
			UpdatedAt:       entry.UpdatedAt,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].UpdatedAt != items[j].UpdatedAt {
			return items[i].UpdatedAt < items[j].UpdatedAt
		}
		return items[i].ID < items[j].ID
	})
	return &InventorySnapshot{Loaded: st.loaded, Items: items}
}

// AddCurrency credits the user's balance.
func (r *AccountRegistry) AddCurrency(userID string, amount int64, reason string) MutationResult {
	if amount <= 0 {
		return mutationFail(ReasonInvalidAmount)
	}
	st := r.lookup(userID)
	if st == nil {
		return mutationFail(ReasonNoSession)
	}
	st.mu.Lock()
	st.record.Balance += amount
	balance := st.record.Balance
	r.markDirtyLocked(st, reason)
	st.mu.Unlock()

	r.leaderboard.Queue(userID, balance)
	return mutationOK(balance)
}

// SpendCurrency debits the user's balance, refusing to go negative.
func (r *AccountRegistry) SpendCurrency(userID string, amount int64, reason string) MutationResult {
	if amount <= 0 {
		return mutationFail(ReasonInvalidAmount)
	}
	st := r.lookup(userID)
	if st == nil {
		return mutationFail(ReasonNoSession)
	}
	st.mu.Lock()
	next := st.record.Balance - amount
	if next < 0 {
		st.mu.Unlock()
		return mutationFail(ReasonInsufficientFunds)
	}
	st.record.Balance = next
	r.markDirtyLocked(st, reason)
	st.mu.Unlock()

	r.leaderboard.Queue(userID, next)
	return mutationOK(next)
}

// AddItem grants count of a catalog item, creating or growing the stack.
func (r *AccountRegistry) AddItem(userID, itemID string, count int64, reason string) MutationResult {
	if !r.catalog.Has(itemID) {
		return mutationFail(ReasonInvalidItem)
	}
	if count <= 0 {
		return mutationFail(ReasonInvalidCount)
	}
	st := r.lookup(userID)
	if st == nil {
		return mutationFail(ReasonNoSession)
	}
	now := time.Now().Unix()

	st.mu.Lock()
	entry, ok := st.record.Inventory[itemID]
	if ok {
		entry.Qty += count
		entry.UpdatedAt = now
	} else {
		entry = &InventoryEntry{Qty: count, FirstAcquiredAt: now, UpdatedAt: now}
		st.record.Inventory[itemID] = entry
	}
	qty := entry.Qty
	r.markDirtyLocked(st, reason)
	st.mu.Unlock()

	return mutationOK(qty)
}

// RemoveItem takes count of an item from the user's stack; the stack is
// deleted when it reaches zero.
func (r *AccountRegistry) RemoveItem(userID, itemID string, count int64, reason string) MutationResult {
	if !r.catalog.Has(itemID) {
		return mutationFail(ReasonInvalidItem)
	}
	if count <= 0 {
		return mutationFail(ReasonInvalidCount)
	}
	st := r.lookup(userID)
	if st == nil {
		return mutationFail(ReasonNoSession)
	}

	st.mu.Lock()
	entry, ok := st.record.Inventory[itemID]
	if !ok || entry.Qty < count {
		st.mu.Unlock()
		return mutationFail(ReasonInsufficientQuantity)
	}
	entry.Qty -= count
	entry.UpdatedAt = time.Now().Unix()
	qty := entry.Qty
	if entry.Qty <= 0 {
		delete(st.record.Inventory, itemID)
	}
	r.markDirtyLocked(st, reason)
	st.mu.Unlock()

	return mutationOK(qty)
}

// SetGachaCooldown records when the user may pull again.
func (r *AccountRegistry) SetGachaCooldown(userID string, until int64, reason string) MutationResult {
	st := r.lookup(userID)
	if st == nil {
		return mutationFail(ReasonNoSession)
	}
	st.mu.Lock()
	st.record.GachaCooldownUntil = until
	r.markDirtyLocked(st, reason)
	st.mu.Unlock()
	return mutationOK(until)
}

// UpgradeSlots debits cost and sets the NPC slot count in one in-memory step.
// The count is clamped to the valid range rather than rejected.
func (r *AccountRegistry) UpgradeSlots(userID string, newCount int, cost int64, reason string) MutationResult {
	next := clampSlots(newCount)
	if cost < 0 {
		cost = 0
	}
	st := r.lookup(userID)
	if st == nil {
		return mutationFail(ReasonNoSession)
	}

	st.mu.Lock()
	if cost > 0 && st.record.Balance < cost {
		st.mu.Unlock()
		return mutationFail(ReasonInsufficientFunds)
	}
	st.record.Balance -= cost
	st.record.NpcSlotCount = next
	balance := st.record.Balance
	r.markDirtyLocked(st, reason)
	st.mu.Unlock()

	r.leaderboard.Queue(userID, balance)
	return mutationOK(int64(next))
}

// markDirtyLocked stamps the change and arms the debounce timer if it is not
// already armed. The timer fire is a no-op when the record is clean by then.
func (r *AccountRegistry) markDirtyLocked(st *accountState, reason string) {
	st.dirty = true
	st.lastChangeAt = time.Now()
	st.lastReason = reason
	if st.debounceArmed {
		return
	}
	st.debounceArmed = true
	st.debounceTimer = time.AfterFunc(r.debounce, func() {
		st.mu.Lock()
		st.debounceArmed = false
		st.debounceTimer = nil
		st.mu.Unlock()
		if r.isClosed() {
			return
		}
		r.flushState(r.ctx, r.logger, st, false, false)
	})
}

func (r *AccountRegistry) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Close stops every outstanding debounce timer and marks the registry down so
// a timer that already fired issues no further writes. Call before the final
// FlushAll; mutations after Close still land in memory but nothing schedules
// their persistence.
func (r *AccountRegistry) Close() {
	r.mu.Lock()
	r.closed = true
	states := make([]*accountState, 0, len(r.states))
	for _, st := range r.states {
		states = append(states, st)
	}
	r.mu.Unlock()

	for _, st := range states {
		st.mu.Lock()
		if st.debounceTimer != nil {
			st.debounceTimer.Stop()
			st.debounceTimer = nil
		}
		st.debounceArmed = false
		st.mu.Unlock()
	}
}

// Flush force-persists the user's record immediately, recording reason as the
// save cause. Used for session end and listing escrow durability.
func (r *AccountRegistry) Flush(ctx context.Context, logger runtime.Logger, userID, reason string) {
	st := r.lookup(userID)
	if st == nil {
		return
	}
	st.mu.Lock()
	if st.dirty {
		st.lastReason = reason
	}
	st.mu.Unlock()
	r.flushState(ctx, logger, st, true, false)
}

// Sweep flushes every record whose quiet period has elapsed. It backstops
// debounce fires that were skipped because a save was already in flight.
func (r *AccountRegistry) Sweep(ctx context.Context, logger runtime.Logger) {
	for _, st := range r.snapshotStates() {
		r.flushState(ctx, logger, st, false, false)
	}
}

// FlushAll is the best-effort shutdown flush: one attempt per record, no
// backoff. Sustained backend unavailability here can lose the most recent
// debounce window of mutations.
func (r *AccountRegistry) FlushAll(ctx context.Context, logger runtime.Logger) {
	for _, st := range r.snapshotStates() {
		r.flushState(ctx, logger, st, true, true)
	}
}

func (r *AccountRegistry) snapshotStates() []*accountState {
	r.mu.Lock()
	defer r.mu.Unlock()
	states := make([]*accountState, 0, len(r.states))
	for _, st := range r.states {
		states = append(states, st)
	}
	return states
}

func (r *AccountRegistry) flushState(ctx context.Context, logger runtime.Logger, st *accountState, immediate, singleAttempt bool) {
	st.mu.Lock()
	if st.saving || !st.dirty {
		st.mu.Unlock()
		return
	}
	if !immediate && time.Since(st.lastChangeAt) < r.debounce {
		st.mu.Unlock()
		return
	}
	st.saving = true
	st.record.UpdatedAt = time.Now().Unix()
	payload, err := marshalAccountRecord(st.record, st.unknown)
	changeMark := st.lastChangeAt
	reason := st.lastReason
	userID := st.userID
	st.mu.Unlock()

	if err != nil {
		logger.Error("account record for user %s failed to marshal: %v", userID, err)
		st.mu.Lock()
		st.saving = false
		st.mu.Unlock()
		return
	}

	op := StoreOp{Store: accountCollection, Key: accountKey, Owner: userID, Kind: OpUpdate, Reason: reason}
	var res StoreResult
	if singleAttempt {
		res = r.client.PutOnce(ctx, logger, op, payload)
	} else {
		res = r.client.Put(ctx, logger, op, payload)
	}

	st.mu.Lock()
	if res.OK {
		st.failedSaves = 0
		// A mutation that landed during the write keeps the record dirty.
		if st.lastChangeAt.Equal(changeMark) {
			st.dirty = false
		}
	} else {
		st.failedSaves++
	}
	st.saving = false
	st.mu.Unlock()
}
