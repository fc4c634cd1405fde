/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package bufcache implements the Buffer Cache: fetch with progress,
// decode, LRU-eviction keyed by URL, and de-duplicated concurrent
// loads sharing a single in-flight future.
package bufcache

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/circa83/enso-audio/internal/enginerr"
	"github.com/circa83/enso-audio/internal/future"
	"github.com/circa83/enso-audio/internal/session"
	"github.com/circa83/enso-audio/internal/telemetry"
)

// ProgressFunc is called with a monotonically non-decreasing percent
// in [0,100]; download maps to 0-80, decode maps to 80-100.
type ProgressFunc func(url string, percent float64)

// LoadOptions configures a single Load call.
type LoadOptions struct {
	Force      bool
	OnProgress ProgressFunc
}

// PreloadOptions configures a Preload batch.
type PreloadOptions struct {
	Concurrency int
	OnProgress  func(url string, percent float64, overall float64)
}

// Info is the snapshot returned by Cache.Info().
type Info struct {
	Count               int
	TotalBytes          int64
	TotalDurationSeconds float64
	MaxCacheSize        int64
	Pending             int
	CacheHits           int64
	CacheMisses         int64
	LoadErrors          int64
}

// Cache is the Buffer Cache.
type Cache struct {
	mu sync.Mutex

	fetcher Fetcher
	decoder Decoder
	logger  zerolog.Logger

	entries map[string]*session.BufferEntry
	pending map[string]*future.Future[loadResult]

	maxCacheSize       int64
	indeterminatePulse time.Duration

	hits, misses, loadErrors int64
}

type loadResult struct {
	entry *session.BufferEntry
	err   error
}

// New constructs a Cache.
func New(fetcher Fetcher, decoder Decoder, maxCacheSize int64, indeterminatePulse time.Duration, logger zerolog.Logger) *Cache {
	return &Cache{
		fetcher: fetcher, decoder: decoder, maxCacheSize: maxCacheSize,
		indeterminatePulse: indeterminatePulse, logger: logger,
		entries: map[string]*session.BufferEntry{}, pending: map[string]*future.Future[loadResult]{},
	}
}

// Get returns the cached buffer if present, bumping lastAccessed; does
// no I/O.
func (c *Cache) Get(url string) (*session.BufferEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[url]
	if !ok {
		return nil, nil
	}
	e.LastAccessUnixMS = time.Now().UnixMilli()
	return e, nil
}

// Has reports whether url is cached.
func (c *Cache) Has(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[url]
	return ok
}

// Load returns the cached buffer if present and not force; otherwise
// fetches, decodes, inserts, and runs LRU eviction.
func (c *Cache) Load(url string, opts LoadOptions) (*session.BufferEntry, error) {
	if !opts.Force {
		if e, _ := c.Get(url); e != nil {
			c.mu.Lock()
			c.hits++
			c.mu.Unlock()
			telemetry.CacheHits.Inc()
			if opts.OnProgress != nil {
				opts.OnProgress(url, 100)
			}
			return e, nil
		}
	}

	c.mu.Lock()
	if fut, ok := c.pending[url]; ok {
		c.mu.Unlock()
		res := fut.Wait()
		return res.entry, res.err
	}
	c.misses++
	fut := future.New[loadResult](func() {})
	c.pending[url] = fut
	c.mu.Unlock()
	telemetry.CacheMisses.Inc()

	entry, err := c.doLoad(url, opts)

	c.mu.Lock()
	delete(c.pending, url)
	if err != nil {
		c.loadErrors++
	}
	c.mu.Unlock()
	if err != nil {
		telemetry.CacheLoadErrors.Inc()
	}
	c.mu.Lock()
	resident := len(c.entries)
	c.mu.Unlock()
	telemetry.CacheResidentEntries.Set(float64(resident))

	fut.Resolve(loadResult{entry: entry, err: err})
	return entry, err
}

func (c *Cache) doLoad(url string, opts LoadOptions) (*session.BufferEntry, error) {
	raw, meta, err := c.fetcher.Fetch(url, func(pct float64) {
		if opts.OnProgress != nil {
			opts.OnProgress(url, pct*0.8) // download phase is 0-80%
		}
	})
	if err != nil {
		return nil, err
	}
	pcm, decodedMeta, err := c.decoder.Decode(raw)
	if err != nil {
		return nil, enginerr.New(enginerr.Decode, "bufcache.Load", err)
	}
	if opts.OnProgress != nil {
		opts.OnProgress(url, 90)
	}

	sampleRate, channels, duration := decodedMeta.SampleRate, decodedMeta.Channels, decodedMeta.DurationSeconds
	if sampleRate == 0 {
		sampleRate = meta.SampleRate
	}
	if channels == 0 {
		channels = meta.Channels
	}

	now := time.Now().UnixMilli()
	entry := &session.BufferEntry{
		URL: url, PCM: pcm, SizeBytes: int64(len(pcm)),
		DurationSeconds: duration, SampleRate: sampleRate, Channels: channels,
		CreatedUnixMS: now, LastAccessUnixMS: now,
	}

	c.mu.Lock()
	c.entries[url] = entry
	c.evictLocked()
	c.mu.Unlock()

	if opts.OnProgress != nil {
		opts.OnProgress(url, 100)
	}
	return entry, nil
}

// Preload runs at most opts.Concurrency concurrent Loads; individual
// failures are recorded and omitted without aborting others.
func (c *Cache) Preload(urls []string, opts PreloadOptions) map[string]*session.BufferEntry {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	results := make(map[string]*session.BufferEntry)
	var mu sync.Mutex
	var wg sync.WaitGroup
	sem := make(chan struct{}, opts.Concurrency)

	var completed int64
	total := int64(len(urls))

	for _, u := range urls {
		wg.Add(1)
		sem <- struct{}{}
		go func(url string) {
			defer wg.Done()
			defer func() { <-sem }()
			entry, err := c.Load(url, LoadOptions{OnProgress: func(u string, pct float64) {
				if opts.OnProgress != nil {
					mu.Lock()
					overall := (float64(completed) + pct/100.0) / float64(total) * 100.0
					mu.Unlock()
					opts.OnProgress(u, pct, overall)
				}
			}})
			mu.Lock()
			completed++
			if err == nil {
				results[url] = entry
			}
			mu.Unlock()
		}(u)
	}
	wg.Wait()
	return results
}

// Release forcibly removes one entry, regardless of refcount.
func (c *Cache) Release(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[url]; !ok {
		return false
	}
	delete(c.entries, url)
	return true
}

// Clear removes every entry and returns the count removed.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = map[string]*session.BufferEntry{}
	return n
}

// Pin increments a buffer's reference count so it is skipped during
// eviction: a buffer with a non-zero reference count is never evicted.
func (c *Cache) Pin(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[url]; ok {
		e.RefCount++
	}
}

// Unpin decrements a buffer's reference count.
func (c *Cache) Unpin(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[url]; ok && e.RefCount > 0 {
		e.RefCount--
	}
}

// Info returns a snapshot of cache statistics.
func (c *Cache) Info() Info {
	c.mu.Lock()
	defer c.mu.Unlock()
	var totalBytes int64
	var totalDuration float64
	for _, e := range c.entries {
		totalBytes += e.SizeBytes
		totalDuration += e.DurationSeconds
	}
	return Info{
		Count: len(c.entries), TotalBytes: totalBytes, TotalDurationSeconds: totalDuration,
		MaxCacheSize: c.maxCacheSize, Pending: len(c.pending),
		CacheHits: c.hits, CacheMisses: c.misses, LoadErrors: c.loadErrors,
	}
}

// evictLocked removes entries smallest-lastAccessed-first until the
// entry count is <= maxCacheSize (a count of resident URLs, not a byte
// budget), skipping any entry with RefCount > 0.
func (c *Cache) evictLocked() {
	for {
		if int64(len(c.entries)) <= c.maxCacheSize || len(c.entries) == 0 {
			return
		}
		urls := make([]string, 0, len(c.entries))
		for u := range c.entries {
			urls = append(urls, u)
		}
		sort.Slice(urls, func(i, j int) bool {
			return c.entries[urls[i]].LastAccessUnixMS < c.entries[urls[j]].LastAccessUnixMS
		})
		evicted := false
		for _, u := range urls {
			if c.entries[u].RefCount > 0 {
				continue
			}
			delete(c.entries, u)
			evicted = true
			break
		}
		if !evicted {
			return // everything remaining is pinned
		}
	}
}
