package ollama_provider

import (
	"crypto/md5"
	"encoding/hex"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const defaultCacheSize = 100

var (
	generateCalls = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docresearch_llm_generate_calls_total",
		Help: "Completion requests sent to the language model endpoint.",
	})
	cacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "docresearch_llm_cache_hits_total",
		Help: "Completions served from the response cache.",
	})
)

func cacheKey(prompt, system, model string) string {
	sum := md5.Sum([]byte(prompt + system + model))
	return hex.EncodeToString(sum[:])
}

// responseCache is a capped cache of model completions keyed by content
// hash. Eviction is insertion-order; the cache saves repeat calls, it is
// not correctness-critical.
type responseCache struct {
	mu      sync.Mutex
	max     int
	entries map[string]string
	order   []string
}

func newResponseCache(max int) *responseCache {
	return &responseCache{
		max:     max,
		entries: make(map[string]string),
	}
}

func (c *responseCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *responseCache) put(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		c.order = append(c.order, key)
	}
	c.entries[key] = value
	for len(c.entries) > c.max && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

func (c *responseCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
