package utils

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/patrickmn/go-cache"
)

// NewStaticCache 创建用于低频变化数据（类型、平台列表）的缓存
func NewStaticCache(ttl time.Duration) *cache.Cache {
	return cache.New(ttl, 2*ttl)
}

type lruEntry[T any] struct {
	value     T
	expiredAt time.Time
}

// LRUCache 带 TTL 的 LRU 缓存，用于搜索、发现、详情结果
type LRUCache[T any] struct {
	storage *lru.Cache[string, lruEntry[T]]
	ttl     time.Duration
	now     func() time.Time
}

// NewLRUCache size 为最大条数，ttl 为有效期
func NewLRUCache[T any](size int, ttl time.Duration) *LRUCache[T] {
	// lru.New 仅在 size <= 0 时报错
	if size <= 0 {
		size = 1
	}
	c, _ := lru.New[string, lruEntry[T]](size)
	return &LRUCache[T]{storage: c, ttl: ttl, now: time.Now}
}

// Set 写入或覆盖
func (c *LRUCache[T]) Set(key string, value T) {
	c.storage.Add(key, lruEntry[T]{value: value, expiredAt: c.now().Add(c.ttl)})
}

// Get 读取，过期即删除
func (c *LRUCache[T]) Get(key string) (T, bool) {
	var zero T
	item, ok := c.storage.Get(key)
	if !ok {
		return zero, false
	}
	if c.now().After(item.expiredAt) {
		c.storage.Remove(key)
		return zero, false
	}
	return item.value, true
}

// Purge 清空
func (c *LRUCache[T]) Purge() {
	c.storage.Purge()
}

// Len 当前条数
func (c *LRUCache[T]) Len() int {
	return c.storage.Len()
}
