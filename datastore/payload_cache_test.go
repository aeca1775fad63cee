package datastore

import (
	"sync"
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/execution-bridge/common"
	"github.com/stretchr/testify/require"
)

func TestPayloadCache(t *testing.T) {
	t.Run("rejects non-positive capacity", func(t *testing.T) {
		_, err := NewPayloadCache(0)
		require.ErrorIs(t, err, ErrInvalidCacheCapacity)
		_, err = NewPayloadCache(-1)
		require.ErrorIs(t, err, ErrInvalidCacheCapacity)
	})

	t.Run("insert then get returns the payload", func(t *testing.T) {
		cache, err := NewPayloadCache(4)
		require.NoError(t, err)

		payload := common.TestExecutionPayload(common.TestParentHash, 1, 100)
		hash, err := cache.Insert(payload)
		require.NoError(t, err)

		expected, err := payload.ContentHash()
		require.NoError(t, err)
		require.Equal(t, expected, hash)

		got, ok := cache.Get(hash)
		require.True(t, ok)
		require.Same(t, payload, got)
	})

	t.Run("unknown key is a miss", func(t *testing.T) {
		cache, err := NewPayloadCache(4)
		require.NoError(t, err)
		_, ok := cache.Get(ethcommon.HexToHash("0x1234"))
		require.False(t, ok)
	})

	t.Run("insert is idempotent and keeps the first entry", func(t *testing.T) {
		cache, err := NewPayloadCache(4)
		require.NoError(t, err)

		first := common.TestExecutionPayload(common.TestParentHash, 1, 100)
		second := common.TestExecutionPayload(common.TestParentHash, 1, 100)
		h1, err := cache.Insert(first)
		require.NoError(t, err)
		h2, err := cache.Insert(second)
		require.NoError(t, err)
		require.Equal(t, h1, h2)
		require.Equal(t, 1, cache.Len())

		got, ok := cache.Get(h1)
		require.True(t, ok)
		require.Same(t, first, got)
	})

	t.Run("nil payload", func(t *testing.T) {
		cache, err := NewPayloadCache(4)
		require.NoError(t, err)
		_, err = cache.Insert(nil)
		require.ErrorIs(t, err, common.ErrNilPayload)
	})

	t.Run("never exceeds capacity and evicts in insertion order", func(t *testing.T) {
		cache, err := NewPayloadCache(3)
		require.NoError(t, err)
		require.Equal(t, 3, cache.Capacity())

		hashes := make([]ethcommon.Hash, 0, 5)
		for i := uint64(1); i <= 5; i++ {
			hash, err := cache.Insert(common.TestExecutionPayload(common.TestParentHash, i, i))
			require.NoError(t, err)
			hashes = append(hashes, hash)
			require.LessOrEqual(t, cache.Len(), 3)
		}

		for i, hash := range hashes {
			_, ok := cache.Get(hash)
			require.Equal(t, i >= 2, ok, "payload %d", i+1)
		}
	})

	t.Run("reads and re-inserts do not change eviction order", func(t *testing.T) {
		cache, err := NewPayloadCache(2)
		require.NoError(t, err)

		p1 := common.TestExecutionPayload(common.TestParentHash, 1, 1)
		p2 := common.TestExecutionPayload(common.TestParentHash, 2, 2)
		p3 := common.TestExecutionPayload(common.TestParentHash, 3, 3)

		h1, err := cache.Insert(p1)
		require.NoError(t, err)
		h2, err := cache.Insert(p2)
		require.NoError(t, err)

		// touching the oldest entry must not save it from eviction
		_, ok := cache.Get(h1)
		require.True(t, ok)
		_, err = cache.Insert(p1)
		require.NoError(t, err)

		h3, err := cache.Insert(p3)
		require.NoError(t, err)

		_, ok = cache.Get(h1)
		require.False(t, ok)
		_, ok = cache.Get(h2)
		require.True(t, ok)
		_, ok = cache.Get(h3)
		require.True(t, ok)
	})

	t.Run("concurrent inserts", func(t *testing.T) {
		cache, err := NewPayloadCache(16)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := uint64(1); i <= 32; i++ {
			wg.Add(1)
			go func(n uint64) {
				defer wg.Done()
				_, err := cache.Insert(common.TestExecutionPayload(common.TestParentHash, n%8, n))
				require.NoError(t, err)
			}(i)
		}
		wg.Wait()
		require.Equal(t, 8, cache.Len())
	})
}
