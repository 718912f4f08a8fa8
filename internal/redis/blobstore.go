package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/unablepath/memospark-notify/internal/store"
)

// BlobStore implements store.KV on Redis so settings and stats survive
// gateway restarts and are shared with the worker process.
type BlobStore struct {
	client *Client
	prefix string
}

// NewBlobStore creates a KV store namespaced under the given prefix.
func NewBlobStore(client *Client, prefix string) *BlobStore {
	if prefix == "" {
		prefix = "notify"
	}
	return &BlobStore{client: client, prefix: prefix}
}

func (b *BlobStore) key(key string) string {
	return fmt.Sprintf("%s:kv:%s", b.prefix, key)
}

func (b *BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := b.client.rdb.Get(ctx, b.key(key)).Bytes()
	if err == redis.Nil {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return val, nil
}

func (b *BlobStore) Set(ctx context.Context, key string, value []byte) error {
	// Blobs are long-lived; no TTL. Daily rollover of stats happens at
	// load time, not by key expiry.
	if err := b.client.rdb.Set(ctx, b.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (b *BlobStore) Delete(ctx context.Context, key string) error {
	if err := b.client.rdb.Del(ctx, b.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
