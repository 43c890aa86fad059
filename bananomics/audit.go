package bananomics

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
)

// AuditEvent is one recorded economy action.
type AuditEvent struct {
	Timestamp int64          `json:"ts"`
	UserID    string         `json:"user_id"`
	Type      string         `json:"type"`
	Reason    string         `json:"reason"`
	Data      map[string]any `json:"data,omitempty"`
}

type auditDayRecord struct {
	Day           string       `json:"day"`
	Events        []AuditEvent `json:"events"`
	SchemaVersion int          `json:"schema_version"`
}

// AuditLog buffers economy events in memory and appends them to per-day
// storage records on a timer. Recording never blocks the caller on a storage
// write; durability is bounded by the flush interval. Each day record keeps
// at most MaxEventsPerBucket events, oldest dropped first.
type AuditLog struct {
	client *StoreClient
	cfg    *AuditConfig
	now    func() time.Time

	mu      sync.Mutex
	pending []AuditEvent
}

func NewAuditLog(client *StoreClient, cfg *AuditConfig) *AuditLog {
	return &AuditLog{
		client: client,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Record buffers one event for the next flush.
func (a *AuditLog) Record(userID, eventType, reason string, data map[string]any) {
	evt := AuditEvent{
		Timestamp: a.now().Unix(),
		UserID:    userID,
		Type:      eventType,
		Reason:    reason,
		Data:      data,
	}
	a.mu.Lock()
	a.pending = append(a.pending, evt)
	a.mu.Unlock()
}

// PendingCount reports how many events await a flush.
func (a *AuditLog) PendingCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

func auditDayKey(ts int64) string {
	return "a_" + time.Unix(ts, 0).UTC().Format("20060102")
}

// Flush appends the buffered events to their day records. Events whose day
// record fails to persist go back into the buffer for the next tick.
func (a *AuditLog) Flush(ctx context.Context, logger runtime.Logger) {
	a.mu.Lock()
	if len(a.pending) == 0 {
		a.mu.Unlock()
		return
	}
	batch := a.pending
	a.pending = nil
	a.mu.Unlock()

	byDay := make(map[string][]AuditEvent)
	for _, evt := range batch {
		day := auditDayKey(evt.Timestamp)
		byDay[day] = append(byDay[day], evt)
	}

	for day, events := range byDay {
		if !a.flushDay(ctx, logger, day, events) {
			a.mu.Lock()
			a.pending = append(events, a.pending...)
			a.mu.Unlock()
		}
	}
}

func (a *AuditLog) flushDay(ctx context.Context, logger runtime.Logger, day string, events []AuditEvent) bool {
	op := StoreOp{Store: auditCollection, Key: day, Kind: OpUpdate, Reason: "AUDIT_FLUSH"}
	outcome, res := a.client.Update(ctx, logger, op, func(current []byte) ([]byte, bool) {
		rec := auditDayRecord{Day: day, SchemaVersion: DefaultSchemaVersion}
		if current != nil {
			if err := json.Unmarshal(current, &rec); err != nil {
				// A corrupt day record is replaced rather than lost events.
				logger.Warn("audit day %s did not parse: %v", day, err)
				rec = auditDayRecord{Day: day, SchemaVersion: DefaultSchemaVersion}
			}
		}
		rec.Events = append(rec.Events, events...)
		if max := a.cfg.MaxEventsPerBucket; max > 0 && len(rec.Events) > max {
			rec.Events = rec.Events[len(rec.Events)-max:]
		}
		next, err := json.Marshal(&rec)
		if err != nil {
			return nil, false
		}
		return next, true
	})
	return res.OK && outcome != nil && outcome.Applied
}

// EventsForDay reads one day record, newest events last.
func (a *AuditLog) EventsForDay(ctx context.Context, logger runtime.Logger, day string) ([]AuditEvent, error) {
	op := StoreOp{Store: auditCollection, Key: day, Kind: OpGet, Reason: "AUDIT_READ"}
	obj, res := a.client.Get(ctx, logger, op)
	if !res.OK {
		return nil, res.Err
	}
	if !obj.Found {
		return nil, nil
	}
	var rec auditDayRecord
	if err := json.Unmarshal(obj.Value, &rec); err != nil {
		return nil, err
	}
	return rec.Events, nil
}
