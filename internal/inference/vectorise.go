package inference

import (
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultVectoriseCacheSize is the default number of cached vectorise
// results.
const DefaultVectoriseCacheSize = 1000

// VectoriseCache memoizes vectorise results per model cache key, so
// repeated query texts skip inference entirely.
type VectoriseCache struct {
	cache *lru.Cache[string, []float32]
}

// NewVectoriseCache creates a vectorise cache of the given size.
func NewVectoriseCache(size int) *VectoriseCache {
	if size <= 0 {
		size = DefaultVectoriseCacheSize
	}
	cache, _ := lru.New[string, []float32](size)
	return &VectoriseCache{cache: cache}
}

// cacheKey digests the model key and content into a fixed-length key.
func (c *VectoriseCache) cacheKey(key CacheKey, content string) string {
	hash := sha256.Sum256([]byte(key.Model + "\x00" + key.Device + "\x00" +
		key.PropertiesFingerprint + "\x00" + content))
	return hex.EncodeToString(hash[:])
}

// Get returns a cached vector for the content, if present.
func (c *VectoriseCache) Get(key CacheKey, content string) ([]float32, bool) {
	return c.cache.Get(c.cacheKey(key, content))
}

// Put stores a vector for the content.
func (c *VectoriseCache) Put(key CacheKey, content string, vector []float32) {
	c.cache.Add(c.cacheKey(key, content), vector)
}
