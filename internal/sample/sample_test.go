package sample

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cachem/cachem/pkg/codec"
	"github.com/cachem/cachem/pkg/persist"
	"github.com/cachem/cachem/pkg/protocol"
	"github.com/cachem/cachem/pkg/router"
)

func TestEntryEncoding(t *testing.T) {
	e := Entry{ID: 7, Val1: 42, Val2: true, Val3: 100}
	assert.Equal(t, []byte{
		0, 0, 0, 7,
		0, 0, 0, 42,
		1,
		0, 0, 0, 0, 0, 0, 0, 100,
	}, codec.Marshal(EntryCodec, e))

	got, err := codec.Unmarshal(EntryCodec, codec.Marshal(EntryCodec, e))
	require.NoError(t, err)
	assert.Equal(t, e, got)
}

func TestProfileRoundTrip(t *testing.T) {
	mgr := uuid.New()
	p := Profile{
		ID:       uuid.New(),
		Name:     "Ada",
		Email:    "ada@example.com",
		Tags:     []string{"admin", "ops"},
		Score:    9.5,
		Updated:  1700000000,
		Manager:  &mgr,
		Sessions: 3,
	}
	got, err := codec.Unmarshal(ProfileCodec, codec.Marshal(ProfileCodec, p))
	require.NoError(t, err)

	p.Sessions = 0
	assert.Equal(t, p, got)
}

func TestCachesRegisterAndPersist(t *testing.T) {
	c := NewCaches()
	b := router.NewBuilder()
	c.Register(b)
	rt, err := b.Build()
	require.NoError(t, err)

	for _, cache := range []protocol.CacheID{EntryCache, ProfileCache} {
		assert.True(t, rt.Handles(protocol.ActionFetch, cache))
		assert.True(t, rt.Handles(protocol.ActionCount, cache))
	}
	assert.False(t, rt.Handles(protocol.ActionFetch, 2))

	c.Entries.Insert(Entry{ID: 1}, Entry{ID: 2})
	c.Profiles.Insert(Profile{ID: uuid.New(), Name: "x"})

	m := persist.NewManager(persist.NewFileSink(t.TempDir()), nil)
	for _, target := range c.Targets() {
		require.NoError(t, m.Register(target))
	}
	require.NoError(t, m.SnapshotAll(context.Background()))

	c.Entries.Replace(nil)
	c.Profiles.Replace(nil)
	require.NoError(t, m.RestoreAll(context.Background()))
	assert.Equal(t, 2, c.Entries.Count())
	assert.Equal(t, 1, c.Profiles.Count())
}
