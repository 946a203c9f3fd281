package assessment

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/clodoworks/orchestrator/internal/domain"
)

// CacheKey computes SHA-256(servicePath || canonical(userInputs)),
// canonicalizing userInputs by sorting its keys before
// marshaling so the same logical inputs always hash identically regardless
// of map iteration order.
func CacheKey(servicePath string, userInputs map[string]interface{}) string {
	canonical := canonicalize(userInputs)
	data, _ := json.Marshal(canonical)
	sum := sha256.Sum256(append([]byte(servicePath), data...))
	return hex.EncodeToString(sum[:])
}

func canonicalize(in map[string]interface{}) []keyValue {
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]keyValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, keyValue{Key: k, Value: in[k]})
	}
	return out
}

type keyValue struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

// Cache is a TTL-bounded in-memory store of assessments keyed by CacheKey,
// so running `assess` twice with identical inputs and a valid cache yields
// the cached result instead of re-discovering and
// re-scoring from scratch.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	dir     string // empty for in-memory only
	entries map[string]cacheEntry
}

type cacheEntry struct {
	assessment domain.CapabilityAssessment
	expiresAt  time.Time
}

// persistedEntry is the on-disk shape of one config-cache/<key>.json file.
type persistedEntry struct {
	ExpiresAt  time.Time                   `json:"expires_at"`
	Assessment domain.CapabilityAssessment `json:"assessment"`
}

func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Cache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

// NewPersistentCache is NewCache plus a write-through directory of
// TTL-bounded JSON entries (conventionally config-cache/), so a fresh
// process reuses assessments cached by a previous invocation.
func NewPersistentCache(dir string, ttl time.Duration) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	c := NewCache(ttl)
	c.dir = dir
	return c, nil
}

// Get returns the cached assessment for key if present and unexpired,
// falling back to the persisted entry when memory misses.
func (c *Cache) Get(key string) (domain.CapabilityAssessment, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.assessment, true
	}

	if c.dir == "" {
		return domain.CapabilityAssessment{}, false
	}

	path := filepath.Join(c.dir, key+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.CapabilityAssessment{}, false
	}
	var persisted persistedEntry
	if err := json.Unmarshal(data, &persisted); err != nil || time.Now().After(persisted.ExpiresAt) {
		os.Remove(path)
		return domain.CapabilityAssessment{}, false
	}
	c.entries[key] = cacheEntry{assessment: persisted.Assessment, expiresAt: persisted.ExpiresAt}
	return persisted.Assessment, true
}

// Set writes-through key with the current TTL, persisting the entry when
// the cache is directory-backed.
func (c *Cache) Set(key string, assessment domain.CapabilityAssessment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Now().Add(c.ttl)
	c.entries[key] = cacheEntry{assessment: assessment, expiresAt: expiresAt}

	if c.dir == "" {
		return
	}
	data, err := json.Marshal(persistedEntry{ExpiresAt: expiresAt, Assessment: assessment})
	if err != nil {
		return
	}
	path := filepath.Join(c.dir, key+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return
	}
	os.Rename(tmp, path)
}
