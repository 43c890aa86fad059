package bananomics

import (
	"context"
	"sync"

	"github.com/heroiclabs/nakama-common/api"
	"github.com/heroiclabs/nakama-common/runtime"
)

// LeaderboardStore buffers currency totals and pushes them to the backing
// leaderboard on a timer. Only the latest queued total per user is written;
// entries leave the buffer when their write succeeds, so a failed flush
// retries the same users on the next tick.
type LeaderboardStore struct {
	client *StoreClient
	cfg    *LeaderboardConfig

	mu      sync.Mutex
	pending map[string]int64
}

func NewLeaderboardStore(client *StoreClient, cfg *LeaderboardConfig) *LeaderboardStore {
	return &LeaderboardStore{
		client:  client,
		cfg:     cfg,
		pending: make(map[string]int64),
	}
}

// EnsureBackingLeaderboard creates the leaderboard if it does not exist. An
// error here is logged and ignored, the create is retried implicitly on the
// next boot and writes to a missing leaderboard fail visibly in the flush.
func (l *LeaderboardStore) EnsureBackingLeaderboard(ctx context.Context, logger runtime.Logger, nk runtime.NakamaModule) {
	if err := nk.LeaderboardCreate(ctx, l.cfg.ID, false, "desc", "set", "", nil, false); err != nil {
		logger.Warn("leaderboard %s create: %v", l.cfg.ID, err)
	}
}

// Queue records a user's latest currency total for the next flush. Later
// calls for the same user overwrite earlier ones.
func (l *LeaderboardStore) Queue(userID string, total int64) {
	l.mu.Lock()
	l.pending[userID] = total
	l.mu.Unlock()
}

// PendingCount reports how many users are waiting for a flush.
func (l *LeaderboardStore) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

// Flush writes every queued total. Each user is written independently, a
// failure keeps that user queued and does not block the others.
func (l *LeaderboardStore) Flush(ctx context.Context, logger runtime.Logger) {
	l.mu.Lock()
	if len(l.pending) == 0 {
		l.mu.Unlock()
		return
	}
	batch := make(map[string]int64, len(l.pending))
	for userID, total := range l.pending {
		batch[userID] = total
	}
	l.mu.Unlock()

	for userID, total := range batch {
		op := StoreOp{Store: l.cfg.ID, Key: userID, Owner: userID, Kind: OpSortedList, Reason: "LEADERBOARD_FLUSH"}
		uid, score := userID, total
		res := l.client.Execute(ctx, logger, op, func(ctx context.Context) (any, error) {
			rec, err := l.client.nk.LeaderboardRecordWrite(ctx, l.cfg.ID, uid, "", score, 0, nil, nil)
			return rec, err
		})
		if !res.OK {
			continue
		}
		l.mu.Lock()
		// A newer total queued during the flush stays for the next pass.
		if l.pending[userID] == total {
			delete(l.pending, userID)
		}
		l.mu.Unlock()
	}
}

// Top returns the highest totals on the backing leaderboard.
func (l *LeaderboardStore) Top(ctx context.Context, logger runtime.Logger, limit int) ([]*api.LeaderboardRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	op := StoreOp{Store: l.cfg.ID, Kind: OpSortedList, Reason: "LEADERBOARD_TOP"}
	res := l.client.Execute(ctx, logger, op, func(ctx context.Context) (any, error) {
		records, _, _, _, err := l.client.nk.LeaderboardRecordsList(ctx, l.cfg.ID, nil, limit, "", 0)
		if err != nil {
			return nil, err
		}
		return records, nil
	})
	if !res.OK {
		return nil, res.Err
	}
	records, _ := res.Value.([]*api.LeaderboardRecord)
	return records, nil
}
