package audiohost

import "testing"

func TestMockGainLinearRamp(t *testing.T) {
	backend := NewMockBackend()
	gain := backend.CreateGain()
	gain.SetValueAtTime(0, 0)
	gain.LinearRampToValueAtTime(1, 1.0)

	backend.Advance(0.5)
	if got := gain.Value(); got != 0.5 {
		t.Fatalf("midpoint value = %v, want 0.5", got)
	}

	backend.Advance(0.5)
	if got := gain.Value(); got != 1.0 {
		t.Fatalf("final value = %v, want 1.0", got)
	}
}

func TestMockGainCancelScheduledValues(t *testing.T) {
	backend := NewMockBackend()
	gain := backend.CreateGain()
	gain.SetValueAtTime(0, 0)
	gain.LinearRampToValueAtTime(1, 1.0)
	backend.Advance(0.25)
	gain.CancelScheduledValues(backend.CurrentTime())

	backend.Advance(10)
	if got := gain.Value(); got != 0.25 {
		t.Fatalf("value after cancel = %v, want held at 0.25", got)
	}
}

func TestMockSourcePositionAndLifecycle(t *testing.T) {
	backend := NewMockBackend()
	src := backend.CreateBufferSource(make([]byte, 4), 44100, 1)

	src.Start(0)
	src.SetPosition(1.5)
	if got := src.Position(); got != 1.5 {
		t.Fatalf("Position() = %v, want 1.5", got)
	}
	src.Stop(0)
}

func TestMockBackendDestinationIsStable(t *testing.T) {
	backend := NewMockBackend()
	d1 := backend.Destination()
	d2 := backend.Destination()
	if d1.ID() != d2.ID() {
		t.Fatalf("expected the same destination id across calls")
	}
}
