package usersettings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/kv"
)

func TestGetAbsentReturnsZeroValue(t *testing.T) {
	store := NewStore(kv.NewMemory())

	settings := store.Get(context.Background(), "alice")
	assert.Empty(t, settings.ExtraBlockedPatterns)
	assert.Empty(t, settings.AutoApprove)
	assert.Zero(t, settings.DefaultTimeoutSec)
}

func TestPutGetRoundTrip(t *testing.T) {
	store := NewStore(kv.NewMemory())
	ctx := context.Background()

	in := Settings{
		ExtraBlockedPatterns: []string{"*.sqlite", "backups/**"},
		AutoApprove:          []string{"read_file"},
		DefaultTimeoutSec:    60,
	}
	require.NoError(t, store.Put(ctx, "alice", in))

	out := store.Get(ctx, "alice")
	assert.Equal(t, in, out)

	// Other users are unaffected.
	assert.Empty(t, store.Get(ctx, "bob").ExtraBlockedPatterns)
}

func TestGetCorruptBlobReturnsZeroValue(t *testing.T) {
	mem := kv.NewMemory()
	store := NewStore(mem)
	ctx := context.Background()

	require.NoError(t, mem.Set(ctx, keyPrefix+"alice", "{not json"))

	settings := store.Get(ctx, "alice")
	assert.Equal(t, Settings{}, settings)
}

func TestAutoApproves(t *testing.T) {
	s := Settings{AutoApprove: []string{"read_file", "get_structure"}}

	assert.True(t, s.AutoApproves("read_file"))
	assert.True(t, s.AutoApproves("get_structure"))
	assert.False(t, s.AutoApproves("execute"))
	assert.False(t, Settings{}.AutoApproves("read_file"))
}
