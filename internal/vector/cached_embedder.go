package vector

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/localrivet/researchmemory/internal/telemetry"
)

// CachedEmbedder wraps an Embedder with a bounded LRU cache keyed by the
// text's SHA-256. Failures are never cached.
type CachedEmbedder struct {
	inner    Embedder
	capacity int
	metrics  *telemetry.MetricsCollector

	mu    sync.Mutex
	order *list.List // front = most recently used
	items map[string]*list.Element
}

type cacheEntry struct {
	key       string
	embedding []float32
}

// NewCachedEmbedder wraps inner with an LRU of at most capacity vectors.
// metrics may be nil.
func NewCachedEmbedder(inner Embedder, capacity int, metrics *telemetry.MetricsCollector) *CachedEmbedder {
	if capacity <= 0 {
		capacity = 1
	}
	return &CachedEmbedder{
		inner:    inner,
		capacity: capacity,
		metrics:  metrics,
		order:    list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Initialize initializes the wrapped embedder.
func (c *CachedEmbedder) Initialize() error {
	return c.inner.Initialize()
}

// Dimensions reports the wrapped embedder's vector size.
func (c *CachedEmbedder) Dimensions() int {
	return c.inner.Dimensions()
}

// Name reports the wrapped provider's name.
func (c *CachedEmbedder) Name() string {
	return c.inner.Name()
}

// Unwrap returns the wrapped embedder.
func (c *CachedEmbedder) Unwrap() Embedder {
	return c.inner
}

// CreateEmbedding returns a cached vector or asks the wrapped embedder.
// Callers get their own copy of the vector.
func (c *CachedEmbedder) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	hash := sha256.Sum256([]byte(text))
	key := hex.EncodeToString(hash[:])

	if emb, ok := c.get(key); ok {
		c.metrics.IncrementCounter(telemetry.MetricCacheHits, 1)
		return emb, nil
	}
	c.metrics.IncrementCounter(telemetry.MetricCacheMisses, 1)

	start := time.Now()
	emb, err := c.inner.CreateEmbedding(ctx, text)
	c.metrics.RecordTimer(telemetry.MetricEmbedDuration, time.Since(start))
	c.metrics.IncrementCounter(telemetry.MetricEmbedCalls, 1)
	if err != nil {
		c.metrics.IncrementCounter(telemetry.MetricEmbedFailures, 1)
		return nil, err
	}

	c.put(key, emb)
	return copyVector(emb), nil
}

// Len reports the number of cached vectors.
func (c *CachedEmbedder) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *CachedEmbedder) get(key string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return copyVector(el.Value.(*cacheEntry).embedding), true
}

func (c *CachedEmbedder) put(key string, emb []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*cacheEntry).embedding = copyVector(emb)
		c.order.MoveToFront(el)
		return
	}

	c.items[key] = c.order.PushFront(&cacheEntry{key: key, embedding: copyVector(emb)})

	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}

	c.metrics.SetGauge(telemetry.MetricCacheSize, float64(c.order.Len()))
}

func copyVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
