package bananomics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
)

// OpKind classifies store operations for budget accounting.
type OpKind string

const (
	OpGet        OpKind = "get"
	OpUpdate     OpKind = "update"
	OpCreate     OpKind = "create"
	OpSortedList OpKind = "sorted_list"
)

// RequestBudget reports how many store operations of a given kind may still be
// issued in the current window. Implementations come from the host process;
// the engine only consumes the counter and treats an exhausted budget as a
// transient failure.
type RequestBudget interface {
	Remaining(kind OpKind) int
}

type unlimitedBudget struct{}

func (unlimitedBudget) Remaining(OpKind) int { return 1 }

var errBudgetExhausted = errors.New("budget_exhausted")

// StoreOp identifies one logical operation against the backing store, for
// budget accounting and logging.
type StoreOp struct {
	Store  string
	Key    string
	Owner  string // owning user ID, empty for system records
	Kind   OpKind
	Reason string
}

// StoreResult is the outcome of a store operation. Execute never panics or
// returns a Go error directly; every outcome, including budget exhaustion and
// retries running out, is reported through this value.
type StoreResult struct {
	OK       bool
	Value    any
	Err      error
	Attempts int
	Duration time.Duration
}

// UpdateFn maps the current stored value (nil when the record is absent) to
// its replacement. Returning write=false leaves the record untouched and the
// caller receives the unchanged value.
type UpdateFn func(current []byte) (next []byte, write bool)

// UpdateOutcome reports whether a conditional update applied its write, and
// the record value afterwards: the new value when applied, the unchanged
// stored value when the precondition failed.
type UpdateOutcome struct {
	Applied bool
	Value   []byte
}

// StoredObject is the result of a read: the raw value and the version used as
// the compare-and-swap precondition on subsequent conditional writes.
type StoredObject struct {
	Found   bool
	Value   []byte
	Version string
}

// StoreClient is the sole point of contact with the backing store. It wraps
// every call with a budget check, bounded retries with a fixed backoff
// schedule, per-attempt metrics, and structured logging.
type StoreClient struct {
	nk         runtime.NakamaModule
	metrics    *MetricsWindow
	budget     RequestBudget
	attempts   int
	delays     []time.Duration
	logSuccess bool
}

func NewStoreClient(nk runtime.NakamaModule, metrics *MetricsWindow, budget RequestBudget, cfg *StoreConfig) *StoreClient {
	if budget == nil {
		budget = unlimitedBudget{}
	}
	return &StoreClient{
		nk:         nk,
		metrics:    metrics,
		budget:     budget,
		attempts:   cfg.Attempts,
		delays:     cfg.retryDelays(),
		logSuccess: cfg.LogSuccess,
	}
}

// Execute runs action with the full retry budget.
func (c *StoreClient) Execute(ctx context.Context, logger runtime.Logger, op StoreOp, action func(ctx context.Context) (any, error)) StoreResult {
	return c.execute(ctx, logger, op, action, c.attempts)
}

// ExecuteOnce runs action with a single attempt and no backoff. Used by the
// shutdown flush path, where waiting out the retry schedule is not an option.
func (c *StoreClient) ExecuteOnce(ctx context.Context, logger runtime.Logger, op StoreOp, action func(ctx context.Context) (any, error)) StoreResult {
	return c.execute(ctx, logger, op, action, 1)
}

func (c *StoreClient) execute(ctx context.Context, logger runtime.Logger, op StoreOp, action func(ctx context.Context) (any, error), attempts int) StoreResult {
	lastErr := errors.New("unknown")
	var duration time.Duration

	for attempt := 1; attempt <= attempts; attempt++ {
		if c.budget.Remaining(op.Kind) <= 0 {
			lastErr = errBudgetExhausted
			if attempt < attempts {
				if !c.wait(ctx, attempt) {
					lastErr = ctx.Err()
					c.logOp(logger, op, attempt, duration, false, lastErr)
					return StoreResult{Err: lastErr, Attempts: attempt, Duration: duration}
				}
				continue
			}
			c.logOp(logger, op, attempt, duration, false, lastErr)
			c.metrics.Record(time.Now(), duration, false)
			return StoreResult{Err: lastErr, Attempts: attempt, Duration: duration}
		}

		start := time.Now()
		value, err := c.runAction(ctx, action)
		duration = time.Since(start)
		c.metrics.Record(time.Now(), duration, err == nil)

		if err == nil {
			c.logOp(logger, op, attempt, duration, true, nil)
			return StoreResult{OK: true, Value: value, Attempts: attempt, Duration: duration}
		}

		lastErr = err
		if attempt < attempts {
			if !c.wait(ctx, attempt) {
				lastErr = ctx.Err()
				c.logOp(logger, op, attempt, duration, false, lastErr)
				return StoreResult{Err: lastErr, Attempts: attempt, Duration: duration}
			}
			continue
		}
		c.logOp(logger, op, attempt, duration, false, lastErr)
		return StoreResult{Err: lastErr, Attempts: attempt, Duration: duration}
	}

	c.logOp(logger, op, attempts, duration, false, lastErr)
	return StoreResult{Err: lastErr, Attempts: attempts, Duration: duration}
}

// runAction is the recovery boundary: a panicking store call surfaces as a
// failed attempt instead of unwinding into business logic.
func (c *StoreClient) runAction(ctx context.Context, action func(ctx context.Context) (any, error)) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("store action panic: %v", r)
		}
	}()
	return action(ctx)
}

func (c *StoreClient) wait(ctx context.Context, attempt int) bool {
	delay := c.delays[len(c.delays)-1]
	if attempt-1 < len(c.delays) {
		delay = c.delays[attempt-1]
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

func (c *StoreClient) logOp(logger runtime.Logger, op StoreOp, attempt int, duration time.Duration, success bool, err error) {
	if success && !c.logSuccess {
		return
	}
	reason := op.Reason
	if reason == "" {
		reason = "-"
	}
	if success {
		logger.Info("store op=%s store=%s key=%s reason=%s attempt=%d duration_ms=%d success=true",
			op.Kind, op.Store, op.Key, reason, attempt, duration.Milliseconds())
		return
	}
	logger.Warn("store op=%s store=%s key=%s reason=%s attempt=%d duration_ms=%d success=false error=%v",
		op.Kind, op.Store, op.Key, reason, attempt, duration.Milliseconds(), err)
}

// Get reads the object identified by op. A missing object is a successful read
// with Found=false, not a failure.
func (c *StoreClient) Get(ctx context.Context, logger runtime.Logger, op StoreOp) (*StoredObject, StoreResult) {
	res := c.Execute(ctx, logger, op, func(ctx context.Context) (any, error) {
		objects, err := c.nk.StorageRead(ctx, []*runtime.StorageRead{{
			Collection: op.Store,
			Key:        op.Key,
			UserID:     op.Owner,
		}})
		if err != nil {
			return nil, err
		}
		if len(objects) == 0 {
			return &StoredObject{}, nil
		}
		return &StoredObject{
			Found:   true,
			Value:   []byte(objects[0].Value),
			Version: objects[0].Version,
		}, nil
	})
	if !res.OK {
		return nil, res
	}
	return res.Value.(*StoredObject), res
}

// Update performs a conditional read-modify-write. Each attempt reads the
// current object, applies fn, and writes the result with the read version as
// the compare-and-swap precondition ("*" enforces create-only when the object
// was absent). A write that loses the version race fails the attempt and the
// next attempt re-reads, so the loser of a race observes the already-updated
// record and fn can decline the write.
func (c *StoreClient) Update(ctx context.Context, logger runtime.Logger, op StoreOp, fn UpdateFn) (*UpdateOutcome, StoreResult) {
	res := c.Execute(ctx, logger, op, c.updateAction(op, fn))
	if !res.OK {
		return nil, res
	}
	return res.Value.(*UpdateOutcome), res
}

func (c *StoreClient) updateAction(op StoreOp, fn UpdateFn) func(ctx context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		objects, err := c.nk.StorageRead(ctx, []*runtime.StorageRead{{
			Collection: op.Store,
			Key:        op.Key,
			UserID:     op.Owner,
		}})
		if err != nil {
			return nil, err
		}

		var current []byte
		version := "*"
		if len(objects) > 0 {
			current = []byte(objects[0].Value)
			version = objects[0].Version
		}

		next, write := fn(current)
		if !write {
			return &UpdateOutcome{Value: current}, nil
		}

		if _, err := c.nk.StorageWrite(ctx, []*runtime.StorageWrite{{
			Collection:      op.Store,
			Key:             op.Key,
			UserID:          op.Owner,
			Value:           string(next),
			Version:         version,
			PermissionRead:  runtime.STORAGE_PERMISSION_OWNER_READ,
			PermissionWrite: runtime.STORAGE_PERMISSION_OWNER_WRITE,
		}}); err != nil {
			return nil, err
		}
		return &UpdateOutcome{Applied: true, Value: next}, nil
	}
}

// Put overwrites the object unconditionally (last writer wins). Account
// records use this: a user's session is pinned to one process, so full-record
// overwrite is the accepted consistency level for them.
func (c *StoreClient) Put(ctx context.Context, logger runtime.Logger, op StoreOp, value []byte) StoreResult {
	return c.Execute(ctx, logger, op, c.putAction(op, value))
}

// PutOnce is Put with a single attempt, for the shutdown path.
func (c *StoreClient) PutOnce(ctx context.Context, logger runtime.Logger, op StoreOp, value []byte) StoreResult {
	return c.ExecuteOnce(ctx, logger, op, c.putAction(op, value))
}

func (c *StoreClient) putAction(op StoreOp, value []byte) func(ctx context.Context) (any, error) {
	return func(ctx context.Context) (any, error) {
		if _, err := c.nk.StorageWrite(ctx, []*runtime.StorageWrite{{
			Collection:      op.Store,
			Key:             op.Key,
			UserID:          op.Owner,
			Value:           string(value),
			PermissionRead:  runtime.STORAGE_PERMISSION_OWNER_READ,
			PermissionWrite: runtime.STORAGE_PERMISSION_OWNER_WRITE,
		}}); err != nil {
			return nil, err
		}
		return nil, nil
	}
}
