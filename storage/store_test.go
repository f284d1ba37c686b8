package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"skland-checkin-bot/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T) map[string]registry.Store {
	t.Helper()
	db, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return map[string]registry.Store{
		"memory": NewMemoryStore(),
		"gorm":   NewGormStore(db),
	}
}

func TestStore_PutGetReplace(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

			_, ok, err := s.Get(ctx, "u1")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Put(ctx, "u1", "tok-a", "Alice", now))
			require.NoError(t, s.Put(ctx, "u2", "tok-b", "Bob", now))

			acc, ok, err := s.Get(ctx, "u1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "tok-a", acc.Token)
			assert.Equal(t, "Alice", acc.DisplayName)
			firstSeq := acc.Seq

			require.NoError(t, s.Put(ctx, "u1", "tok-c", "Alice2", now.Add(time.Hour)))
			acc, _, err = s.Get(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, "tok-c", acc.Token)
			assert.Equal(t, "Alice2", acc.DisplayName)
			assert.Equal(t, firstSeq, acc.Seq, "replacing a token keeps registration order")

			all, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, registry.Identity("u1"), all[0].Identity)
			assert.Equal(t, registry.Identity("u2"), all[1].Identity)
		})
	}
}

func TestStore_DeleteIdempotent(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Put(ctx, "u1", "tok", "", time.Now()))

			removed, err := s.Delete(ctx, "u1")
			require.NoError(t, err)
			assert.True(t, removed)

			removed, err = s.Delete(ctx, "u1")
			require.NoError(t, err)
			assert.False(t, removed)

			_, ok, err := s.Get(ctx, "u1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStore_DeleteIfToken(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Put(ctx, "u1", "old", "", time.Now()))
			require.NoError(t, s.Put(ctx, "u1", "new", "", time.Now()))

			removed, err := s.DeleteIfToken(ctx, "u1", "old")
			require.NoError(t, err)
			assert.False(t, removed)

			acc, ok, err := s.Get(ctx, "u1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "new", acc.Token)

			removed, err = s.DeleteIfToken(ctx, "u1", "new")
			require.NoError(t, err)
			assert.True(t, removed)

			removed, err = s.DeleteIfToken(ctx, "missing", "new")
			require.NoError(t, err)
			assert.False(t, removed)
		})
	}
}

func TestStore_ReloginMovesToEnd(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Put(ctx, "u1", "a", "", time.Now()))
			require.NoError(t, s.Put(ctx, "u2", "b", "", time.Now()))
			_, err := s.Delete(ctx, "u1")
			require.NoError(t, err)
			require.NoError(t, s.Put(ctx, "u1", "c", "", time.Now()))

			all, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, all, 2)
			assert.Equal(t, registry.Identity("u2"), all[0].Identity)
			assert.Equal(t, registry.Identity("u1"), all[1].Identity)
		})
	}
}

func TestStore_Members(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.AddMember(ctx, "g1", "u2"))
			require.NoError(t, s.AddMember(ctx, "g1", "u1"))
			require.NoError(t, s.AddMember(ctx, "g1", "u2"))
			require.NoError(t, s.AddMember(ctx, "g2", "u3"))

			members, err := s.Members(ctx, "g1")
			require.NoError(t, err)
			assert.Equal(t, []registry.Identity{"u2", "u1"}, members)

			members, err = s.Members(ctx, "none")
			require.NoError(t, err)
			assert.Empty(t, members)
		})
	}
}

func TestStore_ConcurrentReadersSeeWholeTokens(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Put(ctx, "u1", "token-0", "", time.Now()))

			valid := map[string]bool{"token-0": true, "token-1": true, "token-2": true}
			var wg sync.WaitGroup
			for i := 1; i <= 2; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					tok := "token-1"
					if i == 2 {
						tok = "token-2"
					}
					assert.NoError(t, s.Put(ctx, "u1", tok, "", time.Now()))
				}(i)
			}
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					acc, ok, err := s.Get(ctx, "u1")
					assert.NoError(t, err)
					if assert.True(t, ok) {
						assert.True(t, valid[acc.Token], "unexpected token %q", acc.Token)
					}
				}()
			}
			wg.Wait()
		})
	}
}
