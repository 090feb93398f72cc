package health

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Satoappco/SatoApp-sub002/internal/storage"
)

type memStore struct {
	mu      sync.Mutex
	records map[string]*storage.ConnectionRecord
}

func newMemStore(ids ...string) *memStore {
	s := &memStore{records: make(map[string]*storage.ConnectionRecord)}
	for _, id := range ids {
		s.records[id] = &storage.ConnectionRecord{ID: id, CampaignerID: "camp-1"}
	}
	return s
}

func (s *memStore) UpdateConnection(id string, fn func(*storage.ConnectionRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return storage.ErrNotFound
	}
	return fn(rec)
}

func (s *memStore) get(id string) *storage.ConnectionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id]
}

type memNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (n *memNotifier) Notify(title, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
}

func (n *memNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.titles)
}

func TestRecordFailureIncrementsCount(t *testing.T) {
	store := newMemStore("conn-1")
	r := NewRecorder(store, nil, zaptest.NewLogger(t))

	for i := 1; i <= 4; i++ {
		assert.True(t, r.RecordFailure("conn-1", "token_refresh_failed: server_error", false))
		assert.Equal(t, i, store.get("conn-1").FailureCount)
	}

	rec := store.get("conn-1")
	assert.Equal(t, "token_refresh_failed: server_error", rec.FailureReason)
	require.NotNil(t, rec.LastFailureAt)
	assert.False(t, rec.NeedsReauth)
}

func TestRecordFailureSetsNeedsReauthAndNotifies(t *testing.T) {
	store := newMemStore("conn-1")
	notifier := &memNotifier{}
	r := NewRecorder(store, notifier, zaptest.NewLogger(t))

	assert.True(t, r.RecordFailure("conn-1", "token_refresh_failed: invalid_grant", true))

	rec := store.get("conn-1")
	assert.True(t, rec.NeedsReauth)
	assert.Equal(t, 1, notifier.count())
}

func TestRecordFailureMissingConnection(t *testing.T) {
	r := NewRecorder(newMemStore(), nil, zaptest.NewLogger(t))
	assert.False(t, r.RecordFailure("ghost", "reason", true))
	assert.False(t, r.RecordFailure("", "reason", false))
}

func TestRecordSuccessResetsCounters(t *testing.T) {
	store := newMemStore("conn-1")
	rec := store.get("conn-1")
	rec.FailureCount = 2
	rec.FailureReason = "token_refresh_failed: server_error"
	rec.NeedsReauth = true

	r := NewRecorder(store, nil, zaptest.NewLogger(t))
	assert.True(t, r.RecordSuccess("conn-1", true))
	assert.True(t, r.RecordSuccess("conn-1", true))

	rec = store.get("conn-1")
	assert.Equal(t, 0, rec.FailureCount)
	assert.Empty(t, rec.FailureReason)
	assert.Nil(t, rec.LastFailureAt)
	assert.False(t, rec.NeedsReauth)
	require.NotNil(t, rec.LastValidatedAt)
	require.NotNil(t, rec.LastUsedAt)
}

func TestRecordSuccessWithoutResetKeepsCount(t *testing.T) {
	store := newMemStore("conn-1")
	store.get("conn-1").FailureCount = 2
	store.get("conn-1").NeedsReauth = true

	r := NewRecorder(store, nil, zaptest.NewLogger(t))
	assert.True(t, r.RecordSuccess("conn-1", false))

	rec := store.get("conn-1")
	assert.Equal(t, 2, rec.FailureCount)
	// needs_reauth clears on any success; the credential demonstrably works.
	assert.False(t, rec.NeedsReauth)
	require.NotNil(t, rec.LastValidatedAt)
}

func TestRecordSuccessMissingConnection(t *testing.T) {
	r := NewRecorder(newMemStore(), nil, zaptest.NewLogger(t))
	assert.False(t, r.RecordSuccess("ghost", true))
	assert.False(t, r.RecordSuccess("", false))
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name        string
		count       int
		maxFailures int
		want        bool
	}{
		{"fresh connection", 0, 3, true},
		{"under threshold", 2, 3, true},
		{"at threshold", 3, 3, false},
		{"over threshold", 5, 3, false},
		{"default threshold applies", 2, 0, true},
		{"default threshold blocks", 3, 0, false},
		{"custom threshold", 3, 5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &storage.ConnectionRecord{FailureCount: tt.count}
			assert.Equal(t, tt.want, ShouldRetry(conn, tt.maxFailures))
		})
	}
}
