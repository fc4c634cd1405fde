package timeline

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/circa83/enso-audio/internal/session"
)

func TestStartResetZeroesElapsedAndFiresProgress(t *testing.T) {
	var gotProgress float64
	var gotCount int32
	s := New(1000, 100, 20*time.Millisecond, 10*time.Millisecond, 10*time.Millisecond, Callbacks{
		OnProgress: func(progress float64, elapsedMS int64) {
			atomic.AddInt32(&gotCount, 1)
			gotProgress = progress
		},
	})
	s.Start(true)
	defer s.Stop()

	if atomic.LoadInt32(&gotCount) == 0 {
		t.Fatalf("expected an immediate progress(0,0) callback on reset start")
	}
	if gotProgress != 0 {
		t.Fatalf("progress = %v, want 0 on reset start", gotProgress)
	}
}

func TestPauseFreezesElapsed(t *testing.T) {
	s := New(10_000, 100, 20*time.Millisecond, 10*time.Millisecond, 10*time.Millisecond, Callbacks{})
	s.Start(true)
	time.Sleep(60 * time.Millisecond)
	s.Pause()
	e1 := s.Elapsed()
	time.Sleep(60 * time.Millisecond)
	e2 := s.Elapsed()
	if e1 != e2 {
		t.Fatalf("expected elapsed to stay frozen after Pause: %d != %d", e1, e2)
	}
	if s.Playing() {
		t.Fatalf("expected Playing()==false after Pause")
	}
}

func TestResumeContinuesFromFrozenElapsed(t *testing.T) {
	s := New(10_000, 100, 20*time.Millisecond, 10*time.Millisecond, 10*time.Millisecond, Callbacks{})
	s.Start(true)
	time.Sleep(40 * time.Millisecond)
	s.Pause()
	frozen := s.Elapsed()
	s.Resume()
	defer s.Stop()
	time.Sleep(20 * time.Millisecond)
	if s.Elapsed() < frozen {
		t.Fatalf("expected elapsed to continue increasing from the frozen value")
	}
}

func TestSeekClampsToSessionDuration(t *testing.T) {
	s := New(1000, 100, 50*time.Millisecond, 10*time.Millisecond, 10*time.Millisecond, Callbacks{})
	s.Seek(5000)
	if got := s.Elapsed(); got != 1000 {
		t.Fatalf("Elapsed() = %d, want clamped to 1000", got)
	}
	s.Seek(-500)
	if got := s.Elapsed(); got != 0 {
		t.Fatalf("Elapsed() = %d, want clamped to 0", got)
	}
}

func TestSetSessionDurationRejectsNonPositive(t *testing.T) {
	s := New(1000, 100, 50*time.Millisecond, 10*time.Millisecond, 10*time.Millisecond, Callbacks{})
	if err := s.SetSessionDuration(0); err == nil {
		t.Fatalf("expected error for SetSessionDuration(0)")
	}
	if err := s.SetSessionDuration(5000); err != nil {
		t.Fatalf("SetSessionDuration(5000): %v", err)
	}
}

func TestAddEventRejectsDuplicateID(t *testing.T) {
	s := New(1000, 100, 50*time.Millisecond, 10*time.Millisecond, 10*time.Millisecond, Callbacks{})
	if err := s.AddEvent(Event{ID: "marker-1", TimeMS: 100}, nil); err != nil {
		t.Fatalf("first AddEvent: %v", err)
	}
	if err := s.AddEvent(Event{ID: "marker-1", TimeMS: 200}, nil); err == nil {
		t.Fatalf("expected error for duplicate event id")
	}
}

func TestScheduledEventsFireInOrderOnceElapsed(t *testing.T) {
	var mu sync.Mutex
	var fired []string
	s := New(1000, 100, 50*time.Millisecond, 10*time.Millisecond, 10*time.Millisecond, Callbacks{
		OnScheduledEvent: func(ev Event) {
			mu.Lock()
			fired = append(fired, ev.ID)
			mu.Unlock()
		},
	})
	_ = s.AddEvent(Event{ID: "early", TimeMS: 10}, nil)
	_ = s.AddEvent(Event{ID: "late", TimeMS: 10_000}, nil)

	s.Start(true)
	defer s.Stop()
	time.Sleep(80 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(fired) != 1 || fired[0] != "early" {
		t.Fatalf("fired = %v, want only [early] to have fired by now", fired)
	}
}

func TestCheckCurrentPhasePicksLastPositionAtOrBeforeProgress(t *testing.T) {
	var mu sync.Mutex
	var changes []string
	s := New(1000, 100, 20*time.Millisecond, 10*time.Millisecond, 10*time.Millisecond, Callbacks{
		OnPhaseChange: func(phaseID string, _ *session.State) {
			mu.Lock()
			changes = append(changes, phaseID)
			mu.Unlock()
		},
	})
	s.SetPhases([]session.PhaseMarker{
		{ID: "pre-onset", Position: 0},
		{ID: "plateau", Position: 50},
	})

	s.Seek(0)
	if got := s.CurrentPhaseID(); got != "pre-onset" {
		t.Fatalf("CurrentPhaseID() = %q, want pre-onset at position 0", got)
	}

	s.Seek(600) // 60% of 1000ms
	if got := s.CurrentPhaseID(); got != "plateau" {
		t.Fatalf("CurrentPhaseID() = %q, want plateau at 60%%", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changes) < 2 {
		t.Fatalf("expected at least 2 phase-change callbacks, got %v", changes)
	}
}
