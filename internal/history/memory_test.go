package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msgAt(id string, ts time.Time) Message {
	return Message{
		ID:        id,
		FromAgent: "a",
		ToAgent:   "b",
		Message:   "hello",
		Timestamp: ts,
		Status:    StatusPending,
	}
}

func TestMemoryStoreRecentOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(ctx, msgAt(fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Second))))
	}

	out, err := s.Recent(ctx, 3)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "m4", out[0].ID)
	assert.Equal(t, "m3", out[1].ID)
	assert.Equal(t, "m2", out[2].ID)

	// Limit larger than the history returns everything.
	out, err = s.Recent(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, out, 5)

	// Non-positive limits yield an empty slice.
	out, err = s.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestMemoryStoreRecordReplacesByID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	m := msgAt("m1", time.Now())
	require.NoError(t, s.Record(ctx, m))

	m.Status = StatusDelivered
	m.Response = "ok"
	require.NoError(t, s.Record(ctx, m))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	out, err := s.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, out[0].Status)
	assert.Equal(t, "ok", out[0].Response)
}

func TestMemoryStoreClosed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Record(ctx, msgAt("m1", time.Now())), ErrStoreClosed)
	_, err := s.Recent(ctx, 1)
	assert.ErrorIs(t, err, ErrStoreClosed)
}
