// Package catalog loads and caches provider model lists.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ogulcanaydogan/llm-table-fill/pkg/types"
)

// DefaultTTL is how long a fetched model list is reused.
const DefaultTTL = 10 * time.Minute

// Source fetches a provider's full model list.
type Source interface {
	ListModels(ctx context.Context, provider, credential string) ([]types.ModelDescriptor, error)
}

type Loader struct {
	source Source
	group  singleflight.Group
	now    func() time.Time

	ttl   time.Duration
	mu    sync.Mutex
	lists map[string]cachedList
}

type cachedList struct {
	models  []types.ModelDescriptor
	fetched time.Time
}

// NewLoader returns a loader caching results for ttl; ttl <= 0 disables the
// cache.
func NewLoader(source Source, ttl time.Duration) *Loader {
	return &Loader{
		source: source,
		now:    time.Now,
		ttl:    ttl,
		lists:  map[string]cachedList{},
	}
}

// Models returns the model list for provider and credential. On failure no
// partial list is returned. Concurrent calls for the same key share one
// fetch, which keeps running when a caller gives up.
func (l *Loader) Models(ctx context.Context, provider, credential string) ([]types.ModelDescriptor, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if strings.TrimSpace(credential) == "" {
		return nil, fmt.Errorf("%w: no API key for %s", types.ErrInvalidConfig, provider)
	}
	key := cacheKey(provider, credential)
	if models, ok := l.lookup(key); ok {
		return models, nil
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := l.group.DoChan(key, func() (any, error) {
		if models, ok := l.lookup(key); ok {
			return models, nil
		}
		models, err := l.source.ListModels(fetchCtx, provider, credential)
		if err != nil {
			return nil, err
		}
		l.remember(key, models)
		return models, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: list models for %s: %w", types.ErrLoad, provider, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, fmt.Errorf("%w: list models for %s: %w", types.ErrLoad, provider, res.Err)
		}
		return cloneModels(res.Val.([]types.ModelDescriptor)), nil
	}
}

// Invalidate drops every cached list.
func (l *Loader) Invalidate() {
	l.mu.Lock()
	clear(l.lists)
	l.mu.Unlock()
}

func (l *Loader) lookup(key string) ([]types.ModelDescriptor, bool) {
	if l.ttl <= 0 {
		return nil, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.lists[key]
	if !ok {
		return nil, false
	}
	if l.now().Sub(c.fetched) >= l.ttl {
		delete(l.lists, key)
		return nil, false
	}
	return cloneModels(c.models), true
}

func (l *Loader) remember(key string, models []types.ModelDescriptor) {
	if l.ttl <= 0 {
		return
	}
	l.mu.Lock()
	l.lists[key] = cachedList{models: cloneModels(models), fetched: l.now()}
	l.mu.Unlock()
}

func cloneModels(in []types.ModelDescriptor) []types.ModelDescriptor {
	out := make([]types.ModelDescriptor, len(in))
	for i, m := range in {
		out[i] = m
		if m.Pricing != nil {
			p := *m.Pricing
			out[i].Pricing = &p
		}
	}
	return out
}

// Search filters models whose id or name contains query, case-insensitively,
// and sorts the result by id.
func Search(models []types.ModelDescriptor, query string) []types.ModelDescriptor {
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]types.ModelDescriptor, 0, len(models))
	for _, m := range models {
		if q == "" || strings.Contains(strings.ToLower(m.ID), q) || strings.Contains(strings.ToLower(m.Name), q) {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FormatPricing renders pricing as "$prompt/$completion/M".
func FormatPricing(p *types.Pricing) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("$%.2f/$%.2f/M", p.Prompt, p.Completion)
}

func cacheKey(provider, credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return provider + ":" + hex.EncodeToString(sum[:8])
}
