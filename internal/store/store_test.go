package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tandem-dev/tandem/pkg/session"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(Config{
		Driver: DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	}, logr.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStore_SaveIsAnUpsert(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	info := session.Info{
		ID:             "sess-1",
		Model:          "m1",
		Mode:           session.ModeDefault,
		Status:         session.StatusStreaming,
		CreatedAt:      now,
		LastActivityAt: now,
	}
	require.NoError(t, st.Save(ctx, info))

	// The same session saved again with new state replaces the row.
	info.ConversationID = "conv-9"
	info.Status = session.StatusClosed
	info.LastActivityAt = now.Add(time.Minute)
	require.NoError(t, st.Save(ctx, info))

	recs, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "sess-1", recs[0].ID)
	assert.Equal(t, "conv-9", recs[0].ConversationID)
	assert.Equal(t, string(session.StatusClosed), recs[0].Status)
}

func TestStore_ListOrdersByActivity(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Second)

	for i, id := range []string{"old", "new", "mid"} {
		offsets := []time.Duration{0, 2 * time.Hour, time.Hour}
		require.NoError(t, st.Save(ctx, session.Info{
			ID:             id,
			Mode:           session.ModeDefault,
			Status:         session.StatusIdle,
			CreatedAt:      base,
			LastActivityAt: base.Add(offsets[i]),
		}))
	}

	recs, err := st.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "new", recs[0].ID)
	assert.Equal(t, "mid", recs[1].ID)
	assert.Equal(t, "old", recs[2].ID)
}

func TestNew_UnknownDriver(t *testing.T) {
	_, err := New(Config{Driver: "oracle"}, logr.Discard())
	assert.Error(t, err)
}
