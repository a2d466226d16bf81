package clock_test

import (
	"testing"
	"time"

	"github.com/radieske/rgs-transaction-core/internal/shared/clock"
)

func TestRealNowUsesUTC(t *testing.T) {
	now := clock.Real{}.Now()
	if loc := now.Location(); loc != time.UTC {
		t.Fatalf("expected UTC location, got %v", loc)
	}
}

func TestManualAdvance(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := clock.NewManual(start)

	if got := m.Advance(time.Minute); !got.Equal(start.Add(time.Minute)) {
		t.Fatalf("advance: got %v", got)
	}
	if got := m.Advance(-time.Hour); !got.Equal(start.Add(time.Minute)) {
		t.Fatalf("negative advance must be ignored, got %v", got)
	}
	m.Set(start)
	if !m.Now().Equal(start) {
		t.Fatalf("set: got %v", m.Now())
	}
}
