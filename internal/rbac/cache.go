package rbac

import (
	"github.com/org/trustledger/pkg/models"
)

// decisionCache is a bounded cache of permission check results. When an
// insert would exceed capacity the oldest inserted entry is evicted
// (insertion-order FIFO, not recency-based LRU): O(1) operations and
// simple to reason about under concurrent reads. Callers synchronize
// access; the cache itself is not locked.
type decisionCache struct {
	maxSize int
	entries map[string]*models.PermissionResult
	order   []string // insertion order, oldest first
}

func newDecisionCache(maxSize int) *decisionCache {
	return &decisionCache{
		maxSize: maxSize,
		entries: make(map[string]*models.PermissionResult, maxSize),
	}
}

func (c *decisionCache) get(key string) (*models.PermissionResult, bool) {
	r, ok := c.entries[key]
	return r, ok
}

func (c *decisionCache) put(key string, result *models.PermissionResult) {
	if c.maxSize <= 0 {
		return
	}
	if _, exists := c.entries[key]; !exists {
		if len(c.entries) >= c.maxSize {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = result
}

func (c *decisionCache) clear() {
	c.entries = make(map[string]*models.PermissionResult, c.maxSize)
	c.order = nil
}

func (c *decisionCache) len() int {
	return len(c.entries)
}
