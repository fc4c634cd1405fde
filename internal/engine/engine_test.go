package engine

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/circa83/enso-audio/internal/audiohost"
	"github.com/circa83/enso-audio/internal/bufcache"
	"github.com/circa83/enso-audio/internal/config"
	"github.com/circa83/enso-audio/internal/events"
	"github.com/circa83/enso-audio/internal/session"
)

type silentFetcher struct{}

func (silentFetcher) Fetch(url string, onProgress func(percent float64)) ([]byte, bufcache.FetchMeta, error) {
	if onProgress != nil {
		onProgress(100)
	}
	return []byte(url), bufcache.FetchMeta{}, nil
}

type silentDecoder struct{}

func (silentDecoder) Decode(raw []byte) ([]byte, bufcache.DecodedMeta, error) {
	return make([]byte, 8), bufcache.DecodedMeta{SampleRate: 44100, Channels: 1, DurationSeconds: 1}, nil
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.DefaultSessionDurationMS = 1000
	cfg.ProgressTickInterval = 20 * time.Millisecond
	cfg.HighFrequencyTickInterval = 10 * time.Millisecond
	cfg.EventTickInterval = 10 * time.Millisecond
	cfg.MaxCacheEntries = 10
	return cfg
}

func fixtureCollectionForTest() *session.Collection {
	return &session.Collection{
		ID:         "coll",
		LayerOrder: []string{"pad"},
		Layers: map[string][]session.Track{
			"pad": {{ID: "pad-1", AudioURL: "url-1", Layer: "pad"}},
		},
		Phases: []session.PhaseMarker{
			{ID: "pre-onset", Position: 0, State: &session.State{
				Volumes:     map[string]float64{"pad": 0.5},
				ActiveAudio: map[string]string{"pad": "pad-1"},
			}},
		},
		DefaultActiveAudio: map[string]string{"pad": "pad-1"},
		DefaultVolumes:     map[string]float64{"pad": 0.5},
	}
}

func TestNewFailsWithoutBackend(t *testing.T) {
	_, err := New(nil, silentFetcher{}, silentDecoder{}, testConfig(), zerolog.Nop())
	if err == nil {
		t.Fatalf("expected New to fail when backend is nil")
	}
}

func TestLoadCollectionAppliesPreOnsetState(t *testing.T) {
	backend := audiohost.NewMockBackend()
	e, err := New(backend, silentFetcher{}, silentDecoder{}, testConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := e.LoadCollection(fixtureCollectionForTest()); err != nil {
		t.Fatalf("LoadCollection: %v", err)
	}

	if got := e.Volume.GetVolume("pad"); got != 0.5 {
		t.Fatalf("volume(pad) = %v, want 0.5 from pre-onset state", got)
	}
	if got := e.Layers.ActiveTrack("pad"); got != "pad-1" {
		t.Fatalf("ActiveTrack(pad) = %q, want pad-1", got)
	}
}

func TestGetFullStateIncludesRegisteredProviders(t *testing.T) {
	backend := audiohost.NewMockBackend()
	e, err := New(backend, silentFetcher{}, silentDecoder{}, testConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	state := e.GetFullState()
	if _, ok := state["phases"]; !ok {
		t.Fatalf("expected GetFullState to include 'phases'")
	}
	if _, ok := state["cache"]; !ok {
		t.Fatalf("expected GetFullState to include the registered 'cache' provider")
	}
	if _, ok := state["timestamp"]; !ok {
		t.Fatalf("expected GetFullState to include 'timestamp'")
	}
}

func TestGetFullStateSurvivesPanickingProvider(t *testing.T) {
	backend := audiohost.NewMockBackend()
	e, err := New(backend, silentFetcher{}, silentDecoder{}, testConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.RegisterStateProvider("broken", func() any { panic("boom") })

	state := e.GetFullState()
	result, ok := state["broken"].(map[string]any)
	if !ok {
		t.Fatalf("expected a recovered error payload for the panicking provider, got %#v", state["broken"])
	}
	if _, ok := result["error"]; !ok {
		t.Fatalf("expected recovered payload to describe the panic")
	}
}

func TestPreloadPublishesProgressEvents(t *testing.T) {
	backend := audiohost.NewMockBackend()
	e, err := New(backend, silentFetcher{}, silentDecoder{}, testConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	sub := e.Bus.Subscribe(events.Progress)
	defer e.Bus.Unsubscribe(events.Progress, sub)

	loaded := e.Preload([]string{"url-1"})
	if len(loaded) != 1 {
		t.Fatalf("Preload loaded %d entries, want 1", len(loaded))
	}

	select {
	case payload := <-sub:
		if _, ok := payload["url"]; !ok {
			t.Fatalf("expected progress payload to carry 'url', got %#v", payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected a progress event to be published during Preload")
	}
}

func TestStopLeavesNoActiveCrossfade(t *testing.T) {
	backend := audiohost.NewMockBackend()
	e, err := New(backend, silentFetcher{}, silentDecoder{}, testConfig(), zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := e.LoadCollection(fixtureCollectionForTest()); err != nil {
		t.Fatalf("LoadCollection: %v", err)
	}

	e.Start(true)
	e.Stop()
	if e.Crossfade.Active("pad") {
		t.Fatalf("expected Stop to leave no active crossfade")
	}
}
