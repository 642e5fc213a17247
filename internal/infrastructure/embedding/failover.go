package embedding

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/auditgrid/audit-assistant/internal/core/ports"
)

// Failover tries the primary embedder first and falls back to the
// secondary when the primary errors. Results are cached by text hash,
// so a document reprocessed after a transient failure does not pay for
// its unchanged chunks twice.
//
// The cache is only safe when both embedders produce vectors in the
// same space; mixing models with different dimensions would corrupt
// the vector index anyway, so that is a deployment invariant.
type Failover struct {
	primary   ports.Embedder
	secondary ports.Embedder
	limiter   *rate.Limiter
	logger    *slog.Logger

	mu    sync.Mutex
	cache map[string]*list.Element
	order *list.List
	limit int
}

type cacheEntry struct {
	key    string
	vector []float32
}

func NewFailover(primary, secondary ports.Embedder, limiter *rate.Limiter, cacheSize int, logger *slog.Logger) *Failover {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheSize <= 0 {
		cacheSize = 2048
	}
	return &Failover{
		primary:   primary,
		secondary: secondary,
		limiter:   limiter,
		logger:    logger,
		cache:     make(map[string]*list.Element),
		order:     list.New(),
		limit:     cacheSize,
	}
}

func (f *Failover) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	missing := make([]string, 0, len(texts))
	missingIdx := make([]int, 0, len(texts))

	for i, text := range texts {
		if vec, ok := f.lookup(text); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	if f.limiter != nil {
		if err := f.limiter.WaitN(ctx, len(missing)); err != nil {
			return nil, fmt.Errorf("embedding rate limit: %w", err)
		}
	}

	vectors, err := f.embedWithFallback(ctx, missing)
	if err != nil {
		return nil, err
	}
	for i, vec := range vectors {
		f.store(missing[i], vec)
		out[missingIdx[i]] = vec
	}
	return out, nil
}

func (f *Failover) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (f *Failover) embedWithFallback(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, primaryErr := f.primary.Embed(ctx, texts)
	if primaryErr == nil {
		return vectors, nil
	}
	if ctx.Err() != nil {
		return nil, primaryErr
	}
	if f.secondary == nil {
		return nil, primaryErr
	}

	f.logger.Warn("primary embedder failed, using fallback", "error", primaryErr)
	vectors, fallbackErr := f.secondary.Embed(ctx, texts)
	if fallbackErr != nil {
		return nil, fmt.Errorf("both embedders failed: primary: %w; fallback: %v", primaryErr, fallbackErr)
	}
	return vectors, nil
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (f *Failover) lookup(text string) ([]float32, bool) {
	key := cacheKey(text)

	f.mu.Lock()
	defer f.mu.Unlock()
	elem, ok := f.cache[key]
	if !ok {
		return nil, false
	}
	f.order.MoveToFront(elem)
	return elem.Value.(*cacheEntry).vector, true
}

func (f *Failover) store(text string, vector []float32) {
	key := cacheKey(text)

	f.mu.Lock()
	defer f.mu.Unlock()
	if elem, ok := f.cache[key]; ok {
		f.order.MoveToFront(elem)
		elem.Value.(*cacheEntry).vector = vector
		return
	}
	f.cache[key] = f.order.PushFront(&cacheEntry{key: key, vector: vector})
	for len(f.cache) > f.limit {
		oldest := f.order.Back()
		if oldest == nil {
			break
		}
		f.order.Remove(oldest)
		delete(f.cache, oldest.Value.(*cacheEntry).key)
	}
}
