package decision

import (
	"encoding/json"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	dec "github.com/arbiterhq/sentinel/internal/domain/decision"
)

// Cache is an in-process L1 cache of recent recommendations keyed by
// request fingerprint, so identical contexts inside the TTL window reuse
// a decision instead of paying for another remote call.
type Cache struct {
	c   *ristretto.Cache[string, []byte]
	ttl time.Duration
}

// NewCache creates a ristretto-backed decision cache. maxCostBytes is the
// maximum total size of cached values in bytes.
func NewCache(maxCostBytes int64, ttl time.Duration) (*Cache, error) {
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCostBytes / 100 * 10, // ~10x expected items
		MaxCost:     maxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c, ttl: ttl}, nil
}

// Get returns a cached recommendation for the request, if present.
func (c *Cache) Get(req dec.Request) (dec.Recommendation, bool) {
	data, found := c.c.Get(req.Fingerprint())
	if !found {
		return dec.Recommendation{}, false
	}
	var rec dec.Recommendation
	if err := json.Unmarshal(data, &rec); err != nil {
		return dec.Recommendation{}, false
	}
	rec.Source = "cache"
	return rec, true
}

// Put stores a recommendation under the request's fingerprint.
func (c *Cache) Put(req dec.Request, rec dec.Recommendation) {
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	c.c.SetWithTTL(req.Fingerprint(), data, int64(len(data)), c.ttl)
}

// Wait blocks until pending writes are applied. Intended for tests.
func (c *Cache) Wait() { c.c.Wait() }

// Close releases cache resources.
func (c *Cache) Close() { c.c.Close() }
