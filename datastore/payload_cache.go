package datastore

import (
	"context"
	"errors"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/flashbots/execution-bridge/common"
	"github.com/flashbots/execution-bridge/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
)

var ErrInvalidCacheCapacity = errors.New("payload cache capacity must be positive")

// PayloadCache holds locally built payloads keyed by their content hash. Entries are
// never updated or removed explicitly; once full, the oldest insertion is evicted.
//
// Lookups use Peek and inserts use ContainsOrAdd, neither of which touches the recency
// list, so the underlying LRU degrades to strict insertion order.
type PayloadCache struct {
	cache    *lru.Cache[ethcommon.Hash, *common.ExecutionPayload]
	capacity int
}

func NewPayloadCache(capacity int) (*PayloadCache, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCacheCapacity
	}

	cache, err := lru.NewWithEvict(capacity, func(ethcommon.Hash, *common.ExecutionPayload) {
		metrics.RecordCacheEviction(context.Background())
	})
	if err != nil {
		return nil, err
	}

	return &PayloadCache{
		cache:    cache,
		capacity: capacity,
	}, nil
}

// Insert stores the payload under its content hash and returns the hash. Inserting a
// payload whose hash is already present keeps the existing entry and its position.
func (c *PayloadCache) Insert(payload *common.ExecutionPayload) (ethcommon.Hash, error) {
	hash, err := payload.ContentHash()
	if err != nil {
		return ethcommon.Hash{}, err
	}
	c.cache.ContainsOrAdd(hash, payload)
	return hash, nil
}

func (c *PayloadCache) Get(hash ethcommon.Hash) (*common.ExecutionPayload, bool) {
	payload, ok := c.cache.Peek(hash)
	metrics.RecordCacheLookup(context.Background(), ok)
	return payload, ok
}

func (c *PayloadCache) Len() int {
	return c.cache.Len()
}

func (c *PayloadCache) Capacity() int {
	return c.capacity
}
