package bufcache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeFetcher struct {
	calls   int32
	err     error
	failURL string
}

func (f *fakeFetcher) Fetch(url string, onProgress func(percent float64)) ([]byte, FetchMeta, error) {
	atomic.AddInt32(&f.calls, 1)
	if onProgress != nil {
		onProgress(100)
	}
	if f.err != nil {
		return nil, FetchMeta{}, f.err
	}
	if f.failURL != "" && url == f.failURL {
		return nil, FetchMeta{}, errors.New("http 404")
	}
	return []byte(url), FetchMeta{SampleRate: 44100, Channels: 2}, nil
}

type fakeDecoder struct {
	err error
}

func (d *fakeDecoder) Decode(raw []byte) ([]byte, DecodedMeta, error) {
	if d.err != nil {
		return nil, DecodedMeta{}, d.err
	}
	return raw, DecodedMeta{SampleRate: 44100, Channels: 2, DurationSeconds: 1.5}, nil
}

func newTestCache(maxEntries int64) (*Cache, *fakeFetcher) {
	fetcher := &fakeFetcher{}
	return New(fetcher, &fakeDecoder{}, maxEntries, 6*time.Second, zerolog.Nop()), fetcher
}

func TestLoadCachesAndDeduplicatesConcurrentCalls(t *testing.T) {
	c, fetcher := newTestCache(10)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Load("track-1", LoadOptions{})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Load returned error: %v", err)
		}
	}

	if got := atomic.LoadInt32(&fetcher.calls); got != 1 {
		t.Fatalf("fetcher.Fetch called %d times, want exactly 1 (deduplicated)", got)
	}
}

func TestLoadReturnsCachedEntryOnSecondCall(t *testing.T) {
	c, fetcher := newTestCache(10)

	if _, err := c.Load("track-1", LoadOptions{}); err != nil {
		t.Fatalf("first Load: %v", err)
	}
	if _, err := c.Load("track-1", LoadOptions{}); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if got := atomic.LoadInt32(&fetcher.calls); got != 1 {
		t.Fatalf("fetcher called %d times, want 1 (second call should hit cache)", got)
	}
	info := c.Info()
	if info.CacheHits != 1 {
		t.Fatalf("CacheHits = %d, want 1", info.CacheHits)
	}
}

func TestLoadForceRefetches(t *testing.T) {
	c, fetcher := newTestCache(10)
	_, _ = c.Load("track-1", LoadOptions{})
	_, _ = c.Load("track-1", LoadOptions{Force: true})
	if got := atomic.LoadInt32(&fetcher.calls); got != 2 {
		t.Fatalf("fetcher called %d times, want 2 with Force", got)
	}
}

func TestLoadPropagatesFetchError(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("network down")}
	c := New(fetcher, &fakeDecoder{}, 10, 6*time.Second, zerolog.Nop())

	_, err := c.Load("track-1", LoadOptions{})
	if err == nil {
		t.Fatalf("expected an error from a failing fetcher")
	}
	if c.Has("track-1") {
		t.Fatalf("expected no cache entry after a failed load")
	}
}

func TestEvictionDropsOldestUnpinnedEntryByCount(t *testing.T) {
	c, _ := newTestCache(2)

	for _, u := range []string{"a", "b", "c"} {
		if _, err := c.Load(u, LoadOptions{}); err != nil {
			t.Fatalf("Load(%s): %v", u, err)
		}
		time.Sleep(time.Millisecond)
	}

	if got := c.Info().Count; got != 2 {
		t.Fatalf("resident Count = %d, want 2 (maxCacheSize)", got)
	}
	if c.Has("a") {
		t.Fatalf("expected the oldest entry (a) to have been evicted")
	}
	if !c.Has("c") {
		t.Fatalf("expected the newest entry (c) to remain")
	}
}

func TestPinnedEntrySurvivesEviction(t *testing.T) {
	c, _ := newTestCache(1)

	_, _ = c.Load("a", LoadOptions{})
	c.Pin("a")
	time.Sleep(time.Millisecond)
	_, _ = c.Load("b", LoadOptions{})

	if !c.Has("a") {
		t.Fatalf("expected pinned entry 'a' to survive eviction")
	}
}

func TestPreloadCollectsAllSuccessesAndSkipsFailures(t *testing.T) {
	fetcher := &fakeFetcher{failURL: "b"}
	c := New(fetcher, &fakeDecoder{}, 10, 6*time.Second, zerolog.Nop())

	results := c.Preload([]string{"a", "b", "c"}, PreloadOptions{Concurrency: 2})
	if len(results) != 2 {
		t.Fatalf("Preload results = %d entries, want 2 (a and c)", len(results))
	}
	if results["a"] == nil || results["c"] == nil {
		t.Fatalf("expected a and c in the results, got %v", results)
	}
	if _, ok := results["b"]; ok {
		t.Fatalf("expected the failed URL b to be omitted from the results")
	}
	if c.Has("b") {
		t.Fatalf("expected no cache entry for the failed URL b")
	}
	if got := c.Info().LoadErrors; got != 1 {
		t.Fatalf("LoadErrors = %d, want 1", got)
	}
}

func TestReleaseAndClear(t *testing.T) {
	c, _ := newTestCache(10)
	_, _ = c.Load("a", LoadOptions{})
	_, _ = c.Load("b", LoadOptions{})

	if !c.Release("a") {
		t.Fatalf("expected Release(a) to succeed")
	}
	if c.Has("a") {
		t.Fatalf("expected 'a' gone after Release")
	}
	if n := c.Clear(); n != 1 {
		t.Fatalf("Clear() removed %d, want 1", n)
	}
	if c.Info().Count != 0 {
		t.Fatalf("expected empty cache after Clear")
	}
}
