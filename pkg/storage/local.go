package storage

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type localEntry struct {
	value     string
	expiresAt time.Time
}

// LocalKV is an in-process KV backed by a bounded LRU. Entries carry their own TTL.
// It is only authoritative for a single process; multi-instance deployments use Redis.
type LocalKV struct {
	cache *expirable.LRU[string, localEntry]
	now   func() time.Time
}

// NewLocalKV creates an in-process KV holding at most size entries.
func NewLocalKV(size int) *LocalKV {
	if size <= 0 {
		size = 10000
	}
	return &LocalKV{
		// ttl 0 disables LRU-wide expiry; expiry is tracked per entry
		cache: expirable.NewLRU[string, localEntry](size, nil, 0),
		now:   time.Now,
	}
}

func (l *LocalKV) Get(_ context.Context, key string) (string, bool, error) {
	entry, ok := l.cache.Get(key)
	if !ok {
		return "", false, nil
	}
	if !entry.expiresAt.IsZero() && !l.now().Before(entry.expiresAt) {
		l.cache.Remove(key)
		return "", false, nil
	}
	return entry.value, true, nil
}

func (l *LocalKV) Set(_ context.Context, key, value string, ttl time.Duration) error {
	entry := localEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = l.now().Add(ttl)
	}
	l.cache.Add(key, entry)
	return nil
}

func (l *LocalKV) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		l.cache.Remove(key)
	}
	return nil
}

// Len returns the number of stored entries, expired ones included until touched.
func (l *LocalKV) Len() int {
	return l.cache.Len()
}
