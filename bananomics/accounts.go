package bananomics

import (
	"encoding/json"
	"time"
)

// InventoryEntry is one stack of an item in a user's inventory. Entries always
// hold a positive quantity; a stack that reaches zero is deleted, never stored.
type InventoryEntry struct {
	Qty             int64 `json:"qty"`
	FirstAcquiredAt int64 `json:"first_at"`
	UpdatedAt       int64 `json:"updated_at"`
}

// AccountRecord is a user's durable economic state. The cached copy is owned
// exclusively by the AccountRegistry while the user's session is live; the
// persisted copy is owned by the store.
type AccountRecord struct {
	Balance            int64                      `json:"balance"`
	Inventory          map[string]*InventoryEntry `json:"inventory"`
	GachaCooldownUntil int64                      `json:"gacha_cooldown_until"`
	NpcSlotCount       int                        `json:"npc_slot_count"`
	SchemaVersion      int                        `json:"schema_version"`
	CreatedAt          int64                      `json:"created_at"`
	UpdatedAt          int64                      `json:"updated_at"`
}

func defaultAccountRecord(now time.Time) *AccountRecord {
	ts := now.Unix()
	return &AccountRecord{
		Inventory:     make(map[string]*InventoryEntry),
		NpcSlotCount:  DefaultNpcSlotCount,
		SchemaVersion: DefaultSchemaVersion,
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}
}

// Fields the engine owns on the persisted record. Anything else is carried
// through saves untouched so a newer schema's data survives older processes.
var knownAccountFields = map[string]bool{
	"balance":              true,
	"inventory":            true,
	"items":                true, // legacy name for inventory
	"gacha_cooldown_until": true,
	"npc_slot_count":       true,
	"schema_version":       true,
	"created_at":           true,
	"updated_at":           true,
}

// normalizeAccountRecord rebuilds a typed record from a raw stored payload,
// defaulting missing or malformed fields, clamping the slot count, and
// dropping non-positive inventory stacks. The second return value holds
// unknown top-level fields to be re-merged on save. ok=false means the payload
// did not parse at all and the defaults stand in for it.
func normalizeAccountRecord(raw []byte, now time.Time) (rec *AccountRecord, unknown map[string]json.RawMessage, ok bool) {
	rec = defaultAccountRecord(now)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return rec, nil, false
	}

	if v, present := fields["balance"]; present {
		var balance int64
		if json.Unmarshal(v, &balance) == nil && balance > 0 {
			rec.Balance = balance
		}
	}

	inventoryRaw, present := fields["inventory"]
	if !present {
		inventoryRaw = fields["items"]
	}
	rec.Inventory = normalizeInventory(inventoryRaw, now)

	if v, present := fields["gacha_cooldown_until"]; present {
		var until int64
		if json.Unmarshal(v, &until) == nil {
			rec.GachaCooldownUntil = until
		}
	}

	if v, present := fields["npc_slot_count"]; present {
		var slots int
		if json.Unmarshal(v, &slots) == nil {
			rec.NpcSlotCount = clampSlots(slots)
		}
	}

	if v, present := fields["schema_version"]; present {
		var version int
		if json.Unmarshal(v, &version) == nil && version > DefaultSchemaVersion {
			// Never downgrade a newer schema's version stamp.
			rec.SchemaVersion = version
		}
	}

	if v, present := fields["created_at"]; present {
		var created int64
		if json.Unmarshal(v, &created) == nil && created > 0 {
			rec.CreatedAt = created
		}
	}
	rec.UpdatedAt = now.Unix()

	for key, value := range fields {
		if knownAccountFields[key] {
			continue
		}
		if unknown == nil {
			unknown = make(map[string]json.RawMessage)
		}
		unknown[key] = value
	}
	return rec, unknown, true
}

func normalizeInventory(raw json.RawMessage, now time.Time) map[string]*InventoryEntry {
	normalized := make(map[string]*InventoryEntry)
	if len(raw) == 0 {
		return normalized
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return normalized
	}

	ts := now.Unix()
	for id, entryRaw := range entries {
		var entry InventoryEntry
		if err := json.Unmarshal(entryRaw, &entry); err != nil {
			continue
		}
		if entry.Qty <= 0 {
			continue
		}
		if entry.FirstAcquiredAt <= 0 {
			entry.FirstAcquiredAt = ts
		}
		if entry.UpdatedAt <= 0 {
			entry.UpdatedAt = ts
		}
		normalized[id] = &entry
	}
	return normalized
}

func clampSlots(n int) int {
	if n < NpcSlotMin {
		return NpcSlotMin
	}
	if n > NpcSlotMax {
		return NpcSlotMax
	}
	return n
}

// marshalAccountRecord serializes the record with any retained unknown fields
// layered back in, so round-tripping a newer schema loses nothing.
func marshalAccountRecord(rec *AccountRecord, unknown map[string]json.RawMessage) ([]byte, error) {
	if len(unknown) == 0 {
		return json.Marshal(rec)
	}

	typed, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(typed, &merged); err != nil {
		return nil, err
	}
	for key, value := range unknown {
		if _, present := merged[key]; !present {
			merged[key] = value
		}
	}
	return json.Marshal(merged)
}

// InventorySnapshotItem is one row of the pull-based inventory snapshot
// exposed to the presentation layer.
type InventorySnapshotItem struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Qty             int64  `json:"qty"`
	FirstAcquiredAt int64  `json:"first_at"`
	UpdatedAt       int64  `json:"updated_at"`
}

// InventorySnapshot reports a user's current cached inventory. Loaded=false
// means the account has not finished loading and the caller should retry.
type InventorySnapshot struct {
	Loaded bool                     `json:"loaded"`
	Items  []*InventorySnapshotItem `json:"items"`
}
