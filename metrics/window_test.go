package metrics

import (
	"testing"
	"time"
)

func TestTimeWindowManagerAlignsToDurationBoundary(t *testing.T) {
	m := NewTimeWindowManager([]time.Duration{time.Minute}, 5)
	base := time.Date(2026, 1, 1, 10, 0, 37, 0, time.UTC)
	m.Add("latency", KindGauge, base, 10)

	snap, ok := m.Query("latency", time.Minute, base)
	if !ok {
		t.Fatal("expected a window to exist")
	}
	if snap.Start.Second() != 0 {
		t.Fatalf("expected window start aligned to the minute, got %v", snap.Start)
	}
	if snap.Count != 1 || snap.Sum != 10 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestTimeWindowManagerAccumulatesWithinSameWindow(t *testing.T) {
	m := NewTimeWindowManager([]time.Duration{time.Minute}, 5)
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	m.Add("latency", KindGauge, base, 10)
	m.Add("latency", KindGauge, base.Add(30*time.Second), 20)

	snap, ok := m.Query("latency", time.Minute, base)
	if !ok {
		t.Fatal("expected a window to exist")
	}
	if snap.Count != 2 || snap.Sum != 30 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Min != 10 || snap.Max != 20 {
		t.Fatalf("unexpected min/max: %+v", snap)
	}
	if snap.Avg() != 15 {
		t.Fatalf("expected avg 15, got %v", snap.Avg())
	}
}

func TestTimeWindowManagerQueryRangeReturnsOverlappingWindowsAscending(t *testing.T) {
	m := NewTimeWindowManager([]time.Duration{60 * time.Second}, 10)
	epoch := time.Unix(0, 0).UTC()
	at := func(secs float64) time.Time { return epoch.Add(time.Duration(secs * float64(time.Second))) }

	m.Add("latency", KindGauge, at(61), 1)
	m.Add("latency", KindGauge, at(119.9), 2)
	m.Add("latency", KindGauge, at(120), 3)
	m.Add("latency", KindGauge, at(180.1), 4)

	snaps := m.QueryRange("latency", 60*time.Second, at(100), at(200))
	if len(snaps) != 3 {
		t.Fatalf("expected 3 overlapping windows, got %d", len(snaps))
	}
	wantStarts := []int64{60, 120, 180}
	for i, snap := range snaps {
		if snap.Start.Unix() != wantStarts[i] {
			t.Fatalf("window %d: expected start %d, got %d", i, wantStarts[i], snap.Start.Unix())
		}
	}
	if snaps[0].Count != 2 {
		t.Fatalf("expected the 60s window to hold 2 samples, got %d", snaps[0].Count)
	}
}

func TestTimeWindowManagerRotatesOutOldWindows(t *testing.T) {
	m := NewTimeWindowManager([]time.Duration{time.Minute}, 2)
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	m.Add("latency", KindGauge, base, 1)
	m.Add("latency", KindGauge, base.Add(time.Minute), 2)
	m.Add("latency", KindGauge, base.Add(2*time.Minute), 3)

	if _, ok := m.Query("latency", time.Minute, base); ok {
		t.Fatal("expected the oldest window to have been rotated out")
	}
	windows := m.Windows("latency", time.Minute)
	if len(windows) != 2 {
		t.Fatalf("expected 2 retained windows, got %d", len(windows))
	}
}

func TestTimeWindowManagerTracksMultipleDurationsSimultaneously(t *testing.T) {
	m := NewTimeWindowManager([]time.Duration{time.Minute, time.Hour}, 10)
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

	m.Add("latency", KindGauge, base, 10)
	m.Add("latency", KindGauge, base.Add(90*time.Second), 20)

	minuteSnap, ok := m.Query("latency", time.Minute, base)
	if !ok || minuteSnap.Count != 1 || minuteSnap.Sum != 10 {
		t.Fatalf("expected the minute window to hold only the first sample, got %+v ok=%v", minuteSnap, ok)
	}
	secondMinuteSnap, ok := m.Query("latency", time.Minute, base.Add(90*time.Second))
	if !ok || secondMinuteSnap.Count != 1 || secondMinuteSnap.Sum != 20 {
		t.Fatalf("expected a distinct second minute window, got %+v ok=%v", secondMinuteSnap, ok)
	}

	hourSnap, ok := m.Query("latency", time.Hour, base)
	if !ok || hourSnap.Count != 2 || hourSnap.Sum != 30 {
		t.Fatalf("expected both samples to share the same hour window, got %+v ok=%v", hourSnap, ok)
	}
}

func TestTimeWindowManagerQueryAllFiltersByNameAndDuration(t *testing.T) {
	m := NewTimeWindowManager([]time.Duration{time.Minute, time.Hour}, 10)
	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	m.Add("latency", KindGauge, base, 5)
	m.Add("errors", KindCounter, base, 1)

	result := m.QueryAll(QueryFilter{
		Names:      []string{"latency"},
		Durations:  []time.Duration{time.Minute},
		RangeStart: base.Add(-time.Hour),
		RangeEnd:   base.Add(time.Hour),
	})
	if _, ok := result["errors"]; ok {
		t.Fatal("expected the name filter to exclude errors")
	}
	byDuration, ok := result["latency"]
	if !ok {
		t.Fatal("expected a latency entry")
	}
	if _, ok := byDuration[time.Hour]; ok {
		t.Fatal("expected the duration filter to exclude the hour window")
	}
	snaps := byDuration[time.Minute]
	if len(snaps) != 1 || snaps[0].Sum != 5 {
		t.Fatalf("unexpected filtered snapshots: %+v", snaps)
	}
}
