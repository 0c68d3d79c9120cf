// Package inference holds the process-wide model cache surface: loaded
// models keyed by model, device, and properties fingerprint, with
// per-device memory budgets and least-recently-used eviction.
package inference

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/eltociear/marqo/internal/errors"
)

// DefaultModelSizeGB is assumed for models without a size estimate.
const DefaultModelSizeGB = 0.66

// CacheKey identifies one loaded model.
type CacheKey struct {
	Model  string
	Device string
	// PropertiesFingerprint digests the model properties, so the same
	// model name with different properties loads separately.
	PropertiesFingerprint string
}

type cacheEntry struct {
	model            any
	sizeGB           float64
	mostRecentlyUsed time.Time
}

// ModelCache is the process-wide mapping of loaded models. A single mutex
// guards the mapping; loads are mutually exclusive per process, and a
// second concurrent load attempt fails with a transient cache-busy error.
type ModelCache struct {
	mu      sync.RWMutex
	entries map[CacheKey]*cacheEntry

	// budgets are per-device-class memory budgets in GiB.
	cpuBudgetGB  float64
	cudaBudgetGB float64

	loadMu sync.Mutex

	// now is injectable for tests.
	now func() time.Time
}

// NewModelCache creates a cache with the given device budgets.
func NewModelCache(cpuBudgetGB, cudaBudgetGB float64) *ModelCache {
	return &ModelCache{
		entries:      map[CacheKey]*cacheEntry{},
		cpuBudgetGB:  cpuBudgetGB,
		cudaBudgetGB: cudaBudgetGB,
		now:          time.Now,
	}
}

// Get returns a loaded model and touches its recency.
func (c *ModelCache) Get(key CacheKey) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	entry.mostRecentlyUsed = c.now()
	return entry.model, true
}

// Models returns the keys of every loaded model.
func (c *ModelCache) Models() []CacheKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]CacheKey, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	return keys
}

// Evict removes one model.
func (c *ModelCache) Evict(key CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Load loads a model through the loader under the process-wide load lock.
// If the load would exceed the device budget, least-recently-used entries
// on that device are evicted until it fits; if it can never fit, the load
// fails with a capacity error. A concurrent load attempt fails immediately
// with a cache-busy error.
func (c *ModelCache) Load(key CacheKey, sizeGB float64, loader func() (any, error)) (any, error) {
	if model, ok := c.Get(key); ok {
		return model, nil
	}

	if !c.loadMu.TryLock() {
		return nil, errors.Newf(errors.ErrCodeCacheBusy,
			"another model load is in progress, retry later")
	}
	defer c.loadMu.Unlock()

	// Re-check under the load lock; a racing loader may have won.
	if model, ok := c.Get(key); ok {
		return model, nil
	}

	if sizeGB <= 0 {
		sizeGB = DefaultModelSizeGB
	}
	if err := c.makeRoom(key.Device, sizeGB, key.Model); err != nil {
		return nil, err
	}

	model, err := loader()
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = &cacheEntry{model: model, sizeGB: sizeGB, mostRecentlyUsed: c.now()}
	c.mu.Unlock()
	return model, nil
}

// budgetFor resolves the budget for a device.
func (c *ModelCache) budgetFor(device string) (float64, error) {
	switch {
	case strings.HasPrefix(device, "cpu"):
		return c.cpuBudgetGB, nil
	case strings.HasPrefix(device, "cuda"):
		return c.cudaBudgetGB, nil
	default:
		return 0, errors.Internal("unable to check the cache for device %s", device)
	}
}

// makeRoom evicts least-recently-used entries on the device until the new
// model fits.
func (c *ModelCache) makeRoom(device string, sizeGB float64, modelName string) error {
	budget, err := c.budgetFor(device)
	if err != nil {
		return err
	}
	if sizeGB > budget {
		return errors.CapacityExhausted(
			"model %s with size %.2f GiB exceeds the %s budget of %.2f GiB",
			modelName, sizeGB, device, budget)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	type deviceEntry struct {
		key   CacheKey
		entry *cacheEntry
	}
	var onDevice []deviceEntry
	used := 0.0
	for key, entry := range c.entries {
		if key.Device == device {
			onDevice = append(onDevice, deviceEntry{key, entry})
			used += entry.sizeGB
		}
	}
	if used+sizeGB <= budget {
		return nil
	}

	sort.Slice(onDevice, func(i, j int) bool {
		return onDevice[i].entry.mostRecentlyUsed.Before(onDevice[j].entry.mostRecentlyUsed)
	})
	for _, candidate := range onDevice {
		delete(c.entries, candidate.key)
		used -= candidate.entry.sizeGB
		if used+sizeGB <= budget {
			return nil
		}
	}

	return errors.CapacityExhausted(
		"cannot find enough space to load model %s on device %s", modelName, device)
}
