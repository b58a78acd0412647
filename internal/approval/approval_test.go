package approval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/kv"
)

func newTestStore(t *testing.T) (*Store, *kv.Memory) {
	t.Helper()
	mem := kv.NewMemory()
	return NewStore(mem, 120*time.Second), mem
}

func TestQueueAndGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	req, err := store.Queue(ctx, "alice", "execute: rm -rf temp/", map[string]interface{}{"command": "rm -rf temp/"}, "HIGH", 90*time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, req.ID)
	assert.Equal(t, "alice", req.UserID)
	assert.Equal(t, StatusPending, req.Status)
	assert.Equal(t, 90*time.Second, req.ExpiresAt.Sub(req.CreatedAt.Truncate(time.Second)))

	got, err := store.Get(ctx, req.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, req.ID, got.ID)
	assert.Equal(t, "execute: rm -rf temp/", got.Operation)
	assert.Equal(t, "rm -rf temp/", got.Details["command"])
}

func TestQueueUsesDefaultTTL(t *testing.T) {
	store, _ := newTestStore(t)

	req, err := store.Queue(context.Background(), "alice", "edit_file: a.txt", nil, "PROMPT", 0)
	require.NoError(t, err)
	assert.Equal(t, 120*time.Second, req.ExpiresAt.Sub(req.CreatedAt.Truncate(time.Second)))
	assert.NotNil(t, req.Details)
}

func TestGetMissing(t *testing.T) {
	store, _ := newTestStore(t)

	got, err := store.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestApprove(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	req, err := store.Queue(ctx, "alice", "execute: npm install", nil, "PROMPT", 0)
	require.NoError(t, err)

	ok, err := store.Approve(ctx, req.ID, "alice")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.Get(ctx, req.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusApproved, got.Status)
	assert.Equal(t, "alice", got.Details["approved_by"])
	assert.NotEmpty(t, got.Details["approved_at"])

	// Terminal states are final.
	ok, err = store.Approve(ctx, req.ID, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = store.Reject(ctx, req.ID, "alice", "too late")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReject(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	req, err := store.Queue(ctx, "alice", "execute: git push", nil, "HIGH", 0)
	require.NoError(t, err)

	ok, err := store.Reject(ctx, req.ID, "alice", "not now")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := store.Get(ctx, req.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusRejected, got.Status)
	assert.Equal(t, "not now", got.Details["rejection_reason"])

	ok, err = store.Reject(ctx, req.ID, "alice", "again")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApproveMissing(t *testing.T) {
	store, _ := newTestStore(t)

	ok, err := store.Approve(context.Background(), "nope", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPendingForUser(t *testing.T) {
	store, mem := newTestStore(t)
	ctx := context.Background()

	first, err := store.Queue(ctx, "alice", "op-1", nil, "PROMPT", 0)
	require.NoError(t, err)
	second, err := store.Queue(ctx, "alice", "op-2", nil, "HIGH", 0)
	require.NoError(t, err)
	decided, err := store.Queue(ctx, "alice", "op-3", nil, "PROMPT", 0)
	require.NoError(t, err)
	_, err = store.Queue(ctx, "bob", "op-4", nil, "PROMPT", 0)
	require.NoError(t, err)

	_, err = store.Approve(ctx, decided.ID, "alice")
	require.NoError(t, err)

	pending, err := store.PendingForUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, first.ID, pending[0].ID)
	assert.Equal(t, second.ID, pending[1].ID)

	// An expired record is pruned from the user index on read.
	require.NoError(t, mem.Del(ctx, keyPrefix+first.ID))
	pending, err = store.PendingForUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)

	ids, err := mem.SMembers(ctx, userIndexPrefix+"alice")
	require.NoError(t, err)
	assert.NotContains(t, ids, first.ID)
}

func TestPendingForUserEmpty(t *testing.T) {
	store, _ := newTestStore(t)

	pending, err := store.PendingForUser(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestWaitForDecisionApproved(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	req, err := store.Queue(ctx, "alice", "execute: pip install requests", nil, "PROMPT", 0)
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		store.Approve(ctx, req.ID, "alice")
	}()

	got, err := store.WaitForDecision(ctx, req.ID, 10*time.Millisecond, 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusApproved, got.Status)
}

func TestWaitForDecisionTimesOutPending(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	req, err := store.Queue(ctx, "alice", "op", nil, "PROMPT", 0)
	require.NoError(t, err)

	got, err := store.WaitForDecision(ctx, req.ID, 10*time.Millisecond, 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusPending, got.Status)
}

func TestWaitForDecisionExpired(t *testing.T) {
	store, mem := newTestStore(t)
	ctx := context.Background()

	req, err := store.Queue(ctx, "alice", "op", nil, "PROMPT", 0)
	require.NoError(t, err)
	require.NoError(t, mem.Del(ctx, keyPrefix+req.ID))

	got, err := store.WaitForDecision(ctx, req.ID, 10*time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestWaitForDecisionContextCancelled(t *testing.T) {
	store, _ := newTestStore(t)

	req, err := store.Queue(context.Background(), "alice", "op", nil, "PROMPT", 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err = store.WaitForDecision(ctx, req.ID, 10*time.Millisecond, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNotifier(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	var events []string
	store.SetNotifier(func(event string, req Request) {
		events = append(events, event+":"+string(req.Status))
	})

	req, err := store.Queue(ctx, "alice", "op", nil, "PROMPT", 0)
	require.NoError(t, err)
	_, err = store.Approve(ctx, req.ID, "alice")
	require.NoError(t, err)

	assert.Equal(t, []string{"approval_requested:pending", "approval_resolved:approved"}, events)
}
