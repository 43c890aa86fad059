package bananomics

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/heroiclabs/nakama-common/api"
	"github.com/heroiclabs/nakama-common/runtime"
	"go.uber.org/zap"
)

// MemoryNakama is an in-memory NakamaModule standing in for the game server
// in tests and local harnesses. It implements the storage and leaderboard
// surface this package touches, with version bookkeeping matching the
// server's compare-and-swap contract, plus failure injection. Everything else
// panics through the embedded nil interface.
type MemoryNakama struct {
	runtime.NakamaModule

	mu          sync.Mutex
	objects     map[string]*memoryObject
	versionSeq  int
	leaderboard map[string]map[string]int64

	// Failure injection: the next N storage calls of the kind fail.
	failReads  int
	failWrites int

	ReadCalls  int
	WriteCalls int
}

type memoryObject struct {
	collection string
	key        string
	userID     string
	value      string
	version    string
}

func NewMemoryNakama() *MemoryNakama {
	return &MemoryNakama{
		objects:     make(map[string]*memoryObject),
		leaderboard: make(map[string]map[string]int64),
	}
}

func memoryKey(collection, key, userID string) string {
	return collection + "/" + key + "/" + userID
}

// FailNextReads makes the next n StorageRead calls return an error.
func (m *MemoryNakama) FailNextReads(n int) {
	m.mu.Lock()
	m.failReads = n
	m.mu.Unlock()
}

// FailNextWrites makes the next n StorageWrite calls return an error.
func (m *MemoryNakama) FailNextWrites(n int) {
	m.mu.Lock()
	m.failWrites = n
	m.mu.Unlock()
}

// SetObject seeds a stored value directly, bypassing version checks.
func (m *MemoryNakama) SetObject(collection, key, userID, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.versionSeq++
	m.objects[memoryKey(collection, key, userID)] = &memoryObject{
		collection: collection,
		key:        key,
		userID:     userID,
		value:      value,
		version:    strconv.Itoa(m.versionSeq),
	}
}

// GetObject returns a stored value, empty when absent.
func (m *MemoryNakama) GetObject(collection, key, userID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[memoryKey(collection, key, userID)]
	if !ok {
		return "", false
	}
	return obj.value, true
}

func (m *MemoryNakama) StorageRead(ctx context.Context, reads []*runtime.StorageRead) ([]*api.StorageObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadCalls++
	if m.failReads > 0 {
		m.failReads--
		return nil, fmt.Errorf("storage read unavailable")
	}
	out := make([]*api.StorageObject, 0, len(reads))
	for _, read := range reads {
		obj, ok := m.objects[memoryKey(read.Collection, read.Key, read.UserID)]
		if !ok {
			continue
		}
		out = append(out, &api.StorageObject{
			Collection: obj.collection,
			Key:        obj.key,
			UserId:     obj.userID,
			Value:      obj.value,
			Version:    obj.version,
		})
	}
	return out, nil
}

func (m *MemoryNakama) StorageWrite(ctx context.Context, writes []*runtime.StorageWrite) ([]*api.StorageObjectAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.WriteCalls++
	if m.failWrites > 0 {
		m.failWrites--
		return nil, fmt.Errorf("storage write unavailable")
	}
	acks := make([]*api.StorageObjectAck, 0, len(writes))
	for _, write := range writes {
		id := memoryKey(write.Collection, write.Key, write.UserID)
		existing, exists := m.objects[id]
		switch {
		case write.Version == "*" && exists:
			return nil, fmt.Errorf("storage write rejected: object exists")
		case write.Version != "" && write.Version != "*" && (!exists || existing.version != write.Version):
			return nil, fmt.Errorf("storage write rejected: version mismatch")
		}
		m.versionSeq++
		obj := &memoryObject{
			collection: write.Collection,
			key:        write.Key,
			userID:     write.UserID,
			value:      write.Value,
			version:    strconv.Itoa(m.versionSeq),
		}
		m.objects[id] = obj
		acks = append(acks, &api.StorageObjectAck{
			Collection: obj.collection,
			Key:        obj.key,
			UserId:     obj.userID,
			Version:    obj.version,
		})
	}
	return acks, nil
}

func (m *MemoryNakama) StorageDelete(ctx context.Context, deletes []*runtime.StorageDelete) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, del := range deletes {
		delete(m.objects, memoryKey(del.Collection, del.Key, del.UserID))
	}
	return nil
}

func (m *MemoryNakama) LeaderboardCreate(ctx context.Context, id string, authoritative bool, sortOrder, operator, resetSchedule string, metadata map[string]interface{}, enableRanks bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.leaderboard[id]; !ok {
		m.leaderboard[id] = make(map[string]int64)
	}
	return nil
}

func (m *MemoryNakama) LeaderboardRecordWrite(ctx context.Context, id, ownerID, username string, score, subscore int64, metadata map[string]interface{}, overrideOperator *int) (*api.LeaderboardRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	board, ok := m.leaderboard[id]
	if !ok {
		return nil, fmt.Errorf("leaderboard %s not found", id)
	}
	board[ownerID] = score
	return &api.LeaderboardRecord{
		LeaderboardId: id,
		OwnerId:       ownerID,
		Score:         score,
	}, nil
}

func (m *MemoryNakama) LeaderboardRecordsList(ctx context.Context, id string, ownerIDs []string, limit int, cursor string, expiry int64) ([]*api.LeaderboardRecord, []*api.LeaderboardRecord, string, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	board, ok := m.leaderboard[id]
	if !ok {
		return nil, nil, "", "", fmt.Errorf("leaderboard %s not found", id)
	}
	records := make([]*api.LeaderboardRecord, 0, len(board))
	for owner, score := range board {
		records = append(records, &api.LeaderboardRecord{
			LeaderboardId: id,
			OwnerId:       owner,
			Score:         score,
		})
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].Score != records[j].Score {
			return records[i].Score > records[j].Score
		}
		return records[i].OwnerId < records[j].OwnerId
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	for i, rec := range records {
		rec.Rank = int64(i + 1)
	}
	return records, nil, "", "", nil
}

// LeaderboardScore reads a score back out of the in-memory board.
func (m *MemoryNakama) LeaderboardScore(id, ownerID string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	board, ok := m.leaderboard[id]
	if !ok {
		return 0, false
	}
	score, ok := board[ownerID]
	return score, ok
}

// zapLogger adapts a zap SugaredLogger to the runtime.Logger printf contract.
type zapLogger struct {
	sugar  *zap.SugaredLogger
	fields map[string]interface{}
}

// NewZapLogger returns a development-mode runtime.Logger for tests and local
// harnesses.
func NewZapLogger() runtime.Logger {
	logger, _ := zap.NewDevelopment(zap.AddCallerSkip(1))
	return &zapLogger{sugar: logger.Sugar(), fields: map[string]interface{}{}}
}

func (l *zapLogger) Debug(format string, v ...interface{}) { l.sugar.Debugf(format, v...) }
func (l *zapLogger) Info(format string, v ...interface{})  { l.sugar.Infof(format, v...) }
func (l *zapLogger) Warn(format string, v ...interface{})  { l.sugar.Warnf(format, v...) }
func (l *zapLogger) Error(format string, v ...interface{}) { l.sugar.Errorf(format, v...) }

func (l *zapLogger) WithField(key string, v interface{}) runtime.Logger {
	return l.WithFields(map[string]interface{}{key: v})
}

func (l *zapLogger) WithFields(fields map[string]interface{}) runtime.Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		merged[k] = v
		args = append(args, k, v)
	}
	return &zapLogger{sugar: l.sugar.With(args...), fields: merged}
}

func (l *zapLogger) Fields() map[string]interface{} {
	return l.fields
}
