package history

import (
	"context"
	"fmt"
	"testing"

	"github.com/example/artisanhub/internal/storage"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type owner string

func (o owner) UserID() string { return string(o) }

func ids(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return out
}

func TestRecord_MovesToFront(t *testing.T) {
	ctx := context.Background()
	h := New(storage.NewMemoryStore().View("tab-a"), owner(""), zerolog.Nop())

	for _, id := range []string{"a", "b", "c", "a"} {
		require.NoError(t, h.Record(ctx, id))
	}

	assert.Equal(t, []string{"a", "c", "b"}, h.Items())
}

func TestRecord_BoundedToMax(t *testing.T) {
	ctx := context.Background()
	tier := storage.NewMemoryStore().View("tab-a")
	h := New(tier, owner(""), zerolog.Nop())

	for _, id := range ids("p", MaxEntries+10) {
		require.NoError(t, h.Record(ctx, id))
	}

	items := h.Items()
	assert.Len(t, items, MaxEntries)
	assert.Equal(t, fmt.Sprintf("p%d", MaxEntries+9), items[0])

	stored, err := Read(ctx, tier, storage.KeyViewHistory, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, items, stored)
}

func TestRecord_RejectsEmptyID(t *testing.T) {
	h := New(storage.NewMemoryStore().View("tab-a"), owner(""), zerolog.Nop())
	assert.ErrorIs(t, h.Record(context.Background(), ""), ErrInvalidProduct)
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name   string
		recent []string
		older  []string
		want   []string
	}{
		{"recent first", []string{"a", "b"}, []string{"c"}, []string{"a", "b", "c"}},
		{"keeps most recent occurrence", []string{"b", "a"}, []string{"a", "c", "b"}, []string{"b", "a", "c"}},
		{"dedupes within list", []string{"a", "a"}, nil, []string{"a"}},
		{"both empty", nil, nil, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Merge(tt.recent, tt.older))
		})
	}
}

func TestMerge_Truncates(t *testing.T) {
	got := Merge(ids("g", 30), ids("u", 30))

	require.Len(t, got, MaxEntries)
	assert.Equal(t, "g0", got[0])
	assert.Equal(t, "u19", got[MaxEntries-1])
}

func TestLoad_NormalizesStoredList(t *testing.T) {
	ctx := context.Background()
	tier := storage.NewMemoryStore().View("tab-a")
	require.NoError(t, storage.SetJSON(ctx, tier, "viewHistory_user-1", append(ids("p", 60), "p0")))
	h := New(tier, owner("user-1"), zerolog.Nop())

	require.NoError(t, h.Load(ctx))

	assert.Len(t, h.Items(), MaxEntries)
}

func TestLoad_CorruptIsEmpty(t *testing.T) {
	ctx := context.Background()
	tier := storage.NewMemoryStore().View("tab-a")
	require.NoError(t, tier.Set(ctx, storage.KeyViewHistory, `[1,2,3]`))
	h := New(tier, owner(""), zerolog.Nop())

	require.NoError(t, h.Load(ctx))

	assert.Empty(t, h.Items())
	_, ok, err := tier.Get(ctx, storage.KeyViewHistory)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	h := New(storage.NewMemoryStore().View("tab-a"), owner(""), zerolog.Nop())
	require.NoError(t, h.Replace(ctx, "user-1", []string{"a", "b"}))

	h.Reset()

	assert.Empty(t, h.Items())
	require.NoError(t, h.Record(ctx, "c"))
	assert.Equal(t, []string{"c"}, h.Items())
}

func TestOnExternalChange(t *testing.T) {
	ctx := context.Background()
	shared := storage.NewMemoryStore()
	a := New(shared.View("tab-a"), owner(""), zerolog.Nop())
	b := New(shared.View("tab-b"), owner(""), zerolog.Nop())

	require.NoError(t, b.Record(ctx, "vase"))

	assert.True(t, a.OnExternalChange(ctx, storage.ChangeEvent{Key: storage.KeyViewHistory}))
	assert.Equal(t, []string{"vase"}, a.Items())
}
