package index

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type countingIndex struct {
	mu   sync.Mutex
	data map[string][]byte
	gets int
	puts int
}

func newCountingIndex() *countingIndex {
	return &countingIndex{data: map[string][]byte{}}
}

func (f *countingIndex) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	v, ok := f.data[key]
	if !ok {
		return nil, fmt.Errorf("fake GET %q: %w", key, ErrNotFound)
	}
	return v, nil
}

func (f *countingIndex) Put(_ context.Context, key string, val []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts++
	f.data[key] = val
	return nil
}

func (f *countingIndex) Close() error { return nil }

func TestCached_HitServedFromCache(t *testing.T) {
	inner := newCountingIndex()
	inner.data["k"] = []byte("v")
	c := NewCached(inner, 16, time.Minute)

	ctx := context.Background()
	for range 3 {
		got, err := c.Get(ctx, "k")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if string(got) != "v" {
			t.Fatalf("Get=%q", got)
		}
	}
	if inner.gets != 1 {
		t.Fatalf("inner gets=%d want 1", inner.gets)
	}
}

func TestCached_MissNotCached(t *testing.T) {
	inner := newCountingIndex()
	c := NewCached(inner, 16, time.Minute)
	ctx := context.Background()

	if _, err := c.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want ErrNotFound", err)
	}

	// The entry commits out of band; the next read must observe it even
	// though the previous read missed inside the TTL window.
	inner.data["k"] = []byte("v")
	got, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get after commit: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("Get=%q", got)
	}
	if inner.gets != 2 {
		t.Fatalf("inner gets=%d want 2", inner.gets)
	}
}

func TestCached_PutWritesThroughAndPrimes(t *testing.T) {
	inner := newCountingIndex()
	c := NewCached(inner, 16, time.Minute)
	ctx := context.Background()

	if err := c.Put(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if inner.puts != 1 {
		t.Fatalf("inner puts=%d want 1", inner.puts)
	}
	if _, err := c.Get(ctx, "k"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if inner.gets != 0 {
		t.Fatalf("inner gets=%d want 0 (primed by Put)", inner.gets)
	}
}
