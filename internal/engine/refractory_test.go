package engine

import (
	"context"
	"testing"
	"time"

	"github.com/miradorstack/mirador-anomaly/internal/cache"
	"github.com/miradorstack/mirador-anomaly/internal/models"
)

type mapProvider struct {
	entries map[string][]byte
}

func (p *mapProvider) Get(_ context.Context, key string) ([]byte, error) {
	if v, ok := p.entries[key]; ok {
		return v, nil
	}
	return nil, cache.ErrCacheMiss
}

func (p *mapProvider) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	if p.entries == nil {
		p.entries = make(map[string][]byte)
	}
	p.entries[key] = value
	return nil
}

func (p *mapProvider) Del(_ context.Context, key string) error {
	delete(p.entries, key)
	return nil
}

func (p *mapProvider) Close() error { return nil }

func TestRefractoryStoreRoundTrip(t *testing.T) {
	provider := &mapProvider{}
	store := NewCacheRefractoryStore(provider, nil, 0)
	key := models.DimensionKey{What: "100:{2:alpha}"}
	endSec := time.Now().Unix() + 300

	store.SaveRefractoryEnd("slow-sync", key, endSec)
	got, ok := store.LoadRefractoryEnd("slow-sync", key)
	if !ok || got != endSec {
		t.Fatalf("expected persisted end %d, got %d (ok=%v)", endSec, got, ok)
	}

	if _, ok := store.LoadRefractoryEnd("other-alert", key); ok {
		t.Fatalf("entries must be namespaced per alert")
	}
}

func TestRefractoryStoreSkipsExpiredWindows(t *testing.T) {
	provider := &mapProvider{}
	store := NewCacheRefractoryStore(provider, nil, 0)
	key := models.DimensionKey{What: "100:{2:alpha}"}

	store.SaveRefractoryEnd("slow-sync", key, time.Now().Unix()-10)
	if len(provider.entries) != 0 {
		t.Fatalf("a window already in the past must not be written")
	}
}

func TestRefractoryStoreIgnoresGarbage(t *testing.T) {
	provider := &mapProvider{entries: map[string][]byte{
		refractoryKey("slow-sync", models.DimensionKey{What: "x"}): []byte("not-a-number"),
	}}
	store := NewCacheRefractoryStore(provider, nil, 0)
	if _, ok := store.LoadRefractoryEnd("slow-sync", models.DimensionKey{What: "x"}); ok {
		t.Fatalf("unparsable payload must read as no window")
	}
}
