package enginerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMessageWithCause(t *testing.T) {
	cause := errors.New("boom")
	err := New(Decode, "bufcache.decode", cause)

	got := err.Error()
	want := "bufcache.decode: decode_error: boom"
	if got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected Unwrap chain to reach cause")
	}
}

func TestErrorMessageWithoutCause(t *testing.T) {
	err := New(NotFound, "catalog.lookup", nil)
	want := "catalog.lookup: not_found"
	if got := err.Error(); got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestIsMatchesByKindOnly(t *testing.T) {
	a := New(Busy, "crossfade.start", errors.New("one reason"))
	b := New(Busy, "layer.switch", errors.New("different reason"))

	if !errors.Is(a, b) {
		t.Fatalf("expected errors with the same Kind to satisfy errors.Is")
	}
	if errors.Is(a, ErrInvalid) {
		t.Fatalf("did not expect Busy to match Invalid")
	}
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("wrapping: %w", New(Aborted, "timeline.stop", nil))
	if KindOf(wrapped) != Aborted {
		t.Fatalf("KindOf() = %q, want %q", KindOf(wrapped), Aborted)
	}
	if KindOf(errors.New("plain")) != "" {
		t.Fatalf("expected empty Kind for a non-*Error")
	}
}

func TestNewHTTPCarriesStatus(t *testing.T) {
	err := NewHTTP("bufcache.fetch", 404)
	if err.Kind != Http {
		t.Fatalf("expected Kind Http, got %q", err.Kind)
	}
	if err.Status != 404 {
		t.Fatalf("Status = %d, want 404", err.Status)
	}
}
