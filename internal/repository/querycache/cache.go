// Package querycache memoizes query embeddings and ranked result
// lists. Entries are derived data: a lost write costs one recompute,
// so last-writer-wins everywhere and no error ever propagates.
package querycache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"github.com/reuseware/patterndex/internal/db"
	"github.com/reuseware/patterndex/internal/domain"
	"github.com/reuseware/patterndex/internal/domain/ranking"
	"github.com/reuseware/patterndex/internal/metrics"
)

var sharedKeyPrefix = domain.KeyPrefix + "qcache:"

// store is the consumer interface for the shared embedding tier (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Cache is a two-tier query cache. Embeddings live in an in-process
// expirable LRU plus an optional shared key-value tier; ranked result
// lists stay in-process only, since they also encode local scoring
// configuration.
type Cache struct {
	embeddings *expirable.LRU[string, domain.QueryEmbedding]
	results    *expirable.LRU[string, []ranking.RankedResult]
	shared     store
	sharedTTL  time.Duration
	logger     *zap.Logger
}

// New creates a cache. Embeddings and result lists are sized and aged
// independently; embeddings are stable across config changes while
// result lists go stale with every ranking tweak, so the latter get
// short TTLs. shared may be nil to disable the cross-process tier.
func New(embCapacity int, embTTL time.Duration, resCapacity int, resTTL time.Duration, shared store, sharedTTL time.Duration, logger *zap.Logger) *Cache {
	return &Cache{
		embeddings: expirable.NewLRU[string, domain.QueryEmbedding](embCapacity, nil, embTTL),
		results:    expirable.NewLRU[string, []ranking.RankedResult](resCapacity, nil, resTTL),
		shared:     shared,
		sharedTTL:  sharedTTL,
		logger:     logger,
	}
}

// Key builds a cache key from its parts. Callers include the vectorizer
// model id so a model swap never serves stale entries.
func Key(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// GetEmbedding returns a cached query embedding.
func (c *Cache) GetEmbedding(ctx context.Context, key string) (domain.QueryEmbedding, bool) {
	if emb, ok := c.embeddings.Get(key); ok {
		c.inc("embedding", "hit")
		return emb, true
	}

	if c.shared != nil {
		if emb, ok := c.getShared(ctx, key); ok {
			c.embeddings.Add(key, emb)
			c.inc("embedding", "hit")
			return emb, true
		}
	}

	c.inc("embedding", "miss")
	return domain.QueryEmbedding{}, false
}

// PutEmbedding stores a query embedding in both tiers.
func (c *Cache) PutEmbedding(ctx context.Context, key string, emb domain.QueryEmbedding) {
	c.embeddings.Add(key, emb)

	if c.shared != nil {
		if err := c.shared.SetWithTTL(ctx, sharedKeyPrefix+key, encodeEmbedding(emb), c.sharedTTL); err != nil {
			c.logger.Warn("Failed to write shared embedding cache", zap.String("key", key), zap.Error(err))
		}
	}
}

// GetResults returns a cached ranked result list.
func (c *Cache) GetResults(_ context.Context, key string) ([]ranking.RankedResult, bool) {
	if res, ok := c.results.Get(key); ok {
		c.inc("results", "hit")
		return res, true
	}
	c.inc("results", "miss")
	return nil, false
}

// PutResults stores a ranked result list.
func (c *Cache) PutResults(_ context.Context, key string, results []ranking.RankedResult) {
	c.results.Add(key, results)
}

func (c *Cache) getShared(ctx context.Context, key string) (domain.QueryEmbedding, bool) {
	data, err := c.shared.Get(ctx, sharedKeyPrefix+key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("Failed to read shared embedding cache", zap.String("key", key), zap.Error(err))
		}
		return domain.QueryEmbedding{}, false
	}

	emb, ok := decodeEmbedding(data)
	if !ok {
		c.logger.Warn("Failed to parse shared embedding cache entry", zap.String("key", key))
		return domain.QueryEmbedding{}, false
	}
	return emb, true
}

func (c *Cache) inc(kind, result string) {
	metrics.QueryCacheTotal.WithLabelValues(kind, result).Inc()
}

// encodeEmbedding packs both vectors into one binary blob:
// uint32 content length, content floats, semantic floats.
func encodeEmbedding(emb domain.QueryEmbedding) []byte {
	buf := make([]byte, 4+4*(len(emb.Content)+len(emb.Semantic)))
	binary.LittleEndian.PutUint32(buf, uint32(len(emb.Content)))
	off := 4
	for _, f := range emb.Content {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(f))
		off += 4
	}
	for _, f := range emb.Semantic {
		binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(f))
		off += 4
	}
	return buf
}

func decodeEmbedding(data []byte) (domain.QueryEmbedding, bool) {
	if len(data) < 4 || (len(data)-4)%4 != 0 {
		return domain.QueryEmbedding{}, false
	}
	contentLen := int(binary.LittleEndian.Uint32(data))
	floats := (len(data) - 4) / 4
	if contentLen > floats {
		return domain.QueryEmbedding{}, false
	}

	vec := make([]float32, floats)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4+i*4:]))
	}
	return domain.QueryEmbedding{
		Content:  vec[:contentLen],
		Semantic: vec[contentLen:],
	}, true
}
