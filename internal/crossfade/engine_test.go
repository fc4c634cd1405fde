package crossfade

import (
	"testing"
	"time"

	"github.com/circa83/enso-audio/internal/audiohost"
	"github.com/circa83/enso-audio/internal/volume"
)

func newTestEngine(t *testing.T) (*Engine, *audiohost.MockBackend) {
	t.Helper()
	backend := audiohost.NewMockBackend()
	volumeCtl := volume.New(backend, 0.01)
	e := New(backend, volumeCtl, backend.Destination(), 0.05, 30, nil)
	return e, backend
}

func TestCrossfadeCompletesAndReconnectsTarget(t *testing.T) {
	e, backend := newTestEngine(t)

	src := backend.CreateBufferSource(make([]byte, 8), 44100, 1)
	dst := backend.CreateBufferSource(make([]byte, 8), 44100, 1)

	fut := e.Crossfade(Params{
		Layer: "pad", SourceNode: src, TargetNode: dst,
		CurrentVolume: 1.0, DurationMS: 50,
	})

	if !e.Active("pad") {
		t.Fatalf("expected crossfade to be active immediately after starting")
	}

	result := fut.Wait()
	if !result {
		t.Fatalf("expected crossfade future to resolve true on completion")
	}
	if e.Active("pad") {
		t.Fatalf("expected crossfade to no longer be active after completion")
	}
}

func TestCrossfadeDurationClampedToMinFade(t *testing.T) {
	e, backend := newTestEngine(t)
	src := backend.CreateBufferSource(make([]byte, 8), 44100, 1)
	dst := backend.CreateBufferSource(make([]byte, 8), 44100, 1)

	start := time.Now()
	fut := e.Crossfade(Params{
		Layer: "pad", SourceNode: src, TargetNode: dst,
		CurrentVolume: 1.0, DurationMS: 1, // below minFade=0.05s
	})
	fut.Wait()
	elapsed := time.Since(start)
	if elapsed < 40*time.Millisecond {
		t.Fatalf("expected duration clamped up to ~minFade (50ms), completed in %v", elapsed)
	}
}

func TestCrossfadeCancelResolvesFalseAndClearsActive(t *testing.T) {
	e, backend := newTestEngine(t)
	src := backend.CreateBufferSource(make([]byte, 8), 44100, 1)
	dst := backend.CreateBufferSource(make([]byte, 8), 44100, 1)

	fut := e.Crossfade(Params{
		Layer: "pad", SourceNode: src, TargetNode: dst,
		CurrentVolume: 1.0, DurationMS: 5000,
	})
	e.Cancel("pad", true, true)

	if fut.Wait() {
		t.Fatalf("expected cancelled crossfade to resolve false")
	}
	if e.Active("pad") {
		t.Fatalf("expected no active crossfade after Cancel")
	}
}

func TestStartingNewCrossfadeSupersedesPrevious(t *testing.T) {
	e, backend := newTestEngine(t)
	src := backend.CreateBufferSource(make([]byte, 8), 44100, 1)
	mid := backend.CreateBufferSource(make([]byte, 8), 44100, 1)
	dst := backend.CreateBufferSource(make([]byte, 8), 44100, 1)

	first := e.Crossfade(Params{Layer: "pad", SourceNode: src, TargetNode: mid, CurrentVolume: 1.0, DurationMS: 5000})
	second := e.Crossfade(Params{Layer: "pad", SourceNode: mid, TargetNode: dst, CurrentVolume: 1.0, DurationMS: 50})

	if first.Wait() {
		t.Fatalf("expected superseded crossfade to resolve false")
	}
	if !second.Wait() {
		t.Fatalf("expected the superseding crossfade to complete true")
	}
}

func TestCancelAllClearsEveryLayer(t *testing.T) {
	e, backend := newTestEngine(t)
	for _, layer := range []string{"pad", "texture"} {
		src := backend.CreateBufferSource(make([]byte, 8), 44100, 1)
		dst := backend.CreateBufferSource(make([]byte, 8), 44100, 1)
		e.Crossfade(Params{Layer: layer, SourceNode: src, TargetNode: dst, CurrentVolume: 1.0, DurationMS: 5000})
	}

	e.CancelAll()

	if e.Active("pad") || e.Active("texture") {
		t.Fatalf("expected CancelAll to clear every active crossfade")
	}
}
