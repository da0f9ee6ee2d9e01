package compliance

import (
	"testing"
	"time"
)

func testScheduler() *Scheduler {
	return NewScheduler(Policy{
		WindowStartHour: 9,
		WindowEndHour:   20,
		SlotHours:       []int{10, 14, 18},
		DailyCap:        3,
		MaxRetryDays:    5,
	}, DefaultNorthAmericanTable())
}

func TestDecideNeverAllowsOutsideWindow(t *testing.T) {
	s := testScheduler()
	ny, _ := time.LoadLocation("America/New_York")

	for hour := 0; hour < 24; hour++ {
		local := time.Date(2026, 6, 15, hour, 30, 0, 0, ny)
		d := s.Decide("+12125550100", History{}, local.UTC())
		inWindow := hour >= 9 && hour < 20
		if d.Allow != inWindow {
			t.Errorf("hour %02d: allow = %v, want %v (reason %q)", hour, d.Allow, inWindow, d.Reason)
		}
		if !d.Allow && d.Exhausted {
			t.Errorf("hour %02d: unexpected exhaustion", hour)
		}
	}
}

func TestDecideLateEveningDefersToNextDayFirstSlot(t *testing.T) {
	s := testScheduler()
	ny, _ := time.LoadLocation("America/New_York")

	// 22:00 destination-local, cap not reached.
	now := time.Date(2026, 6, 15, 22, 0, 0, 0, ny).UTC()
	d := s.Decide("+12125550100", History{UsedToday: 1}, now)
	if d.Allow {
		t.Fatal("expected deferral at 22:00 local")
	}

	want := time.Date(2026, 6, 16, 10, 0, 0, 0, ny)
	if !d.NextAttemptAt.Equal(want) {
		t.Errorf("next = %v, want %v", d.NextAttemptAt, want)
	}
}

func TestDecideMorningDefersToFirstSlotToday(t *testing.T) {
	s := testScheduler()
	ny, _ := time.LoadLocation("America/New_York")

	now := time.Date(2026, 6, 15, 7, 45, 0, 0, ny).UTC()
	d := s.Decide("+12125550100", History{}, now)
	if d.Allow {
		t.Fatal("expected deferral at 07:45 local")
	}

	want := time.Date(2026, 6, 15, 10, 0, 0, 0, ny)
	if !d.NextAttemptAt.Equal(want) {
		t.Errorf("next = %v, want %v", d.NextAttemptAt, want)
	}
}

func TestDecideMidWindowSlotSelection(t *testing.T) {
	s := testScheduler()
	chi, _ := time.LoadLocation("America/Chicago")

	// 20:30 local: window closed, 18:00 slot already past.
	now := time.Date(2026, 6, 15, 20, 30, 0, 0, chi).UTC()
	d := s.Decide("+13125550100", History{}, now)
	want := time.Date(2026, 6, 16, 10, 0, 0, 0, chi)
	if !d.NextAttemptAt.Equal(want) {
		t.Errorf("next = %v, want %v", d.NextAttemptAt, want)
	}
}

func TestEmptySlotListFallsBackToWindowStart(t *testing.T) {
	s := NewScheduler(Policy{
		WindowStartHour: 9,
		WindowEndHour:   20,
		DailyCap:        3,
		MaxRetryDays:    5,
	}, DefaultNorthAmericanTable())
	ny, _ := time.LoadLocation("America/New_York")

	// 22:00 local forces a deferral to tomorrow's first anchor hour.
	now := time.Date(2026, 6, 15, 22, 0, 0, 0, ny).UTC()
	d := s.Decide("+12125550100", History{}, now)
	if d.Allow || d.Exhausted {
		t.Fatalf("decision = %+v, want deferral", d)
	}

	want := time.Date(2026, 6, 16, 9, 0, 0, 0, ny)
	if !d.NextAttemptAt.Equal(want) {
		t.Errorf("next = %v, want window start %v", d.NextAttemptAt, want)
	}
}

func TestDecideDailyCapDefersRegardlessOfSlot(t *testing.T) {
	s := testScheduler()
	ny, _ := time.LoadLocation("America/New_York")

	// Mid-window but cap already consumed.
	now := time.Date(2026, 6, 15, 11, 0, 0, 0, ny).UTC()
	d := s.Decide("+12125550100", History{UsedToday: 3}, now)
	if d.Allow {
		t.Fatal("expected cap deferral")
	}

	want := time.Date(2026, 6, 16, 10, 0, 0, 0, ny)
	if !d.NextAttemptAt.Equal(want) {
		t.Errorf("next = %v, want %v", d.NextAttemptAt, want)
	}
}

func TestDecideExhaustedBeyondHorizon(t *testing.T) {
	s := testScheduler()

	now := time.Date(2026, 6, 15, 15, 0, 0, 0, time.UTC)
	for _, days := range []int{6, 10, 30} {
		first := now.AddDate(0, 0, -days)
		d := s.Decide("+12125550100", History{Attempts: 3, FirstAttemptAt: &first}, now)
		if !d.Exhausted {
			t.Errorf("days=%d: expected exhaustion", days)
		}
		if d.Allow || !d.NextAttemptAt.IsZero() {
			t.Errorf("days=%d: exhausted decision must carry no next time", days)
		}
	}
}

func TestDecideWithinHorizonNotExhausted(t *testing.T) {
	s := testScheduler()
	ny, _ := time.LoadLocation("America/New_York")

	now := time.Date(2026, 6, 15, 11, 0, 0, 0, ny).UTC()
	first := now.AddDate(0, 0, -5)
	d := s.Decide("+12125550100", History{Attempts: 5, FirstAttemptAt: &first}, now)
	if d.Exhausted {
		t.Fatal("5 elapsed days is inside the horizon")
	}
	if !d.Allow {
		t.Fatalf("expected allow mid-window, got %q", d.Reason)
	}
}

func TestZoneTableLongestPrefixWins(t *testing.T) {
	table := NewZoneTable(map[string]string{
		"+1":    "America/New_York",
		"+1415": "America/Los_Angeles",
	}, "UTC")

	loc, err := table.LocationFor("+14155550100")
	if err != nil {
		t.Fatalf("LocationFor: %v", err)
	}
	if loc.String() != "America/Los_Angeles" {
		t.Errorf("zone = %s, want America/Los_Angeles", loc)
	}

	loc, err = table.LocationFor("+12125550100")
	if err != nil {
		t.Fatalf("LocationFor: %v", err)
	}
	if loc.String() != "America/New_York" {
		t.Errorf("zone = %s, want America/New_York", loc)
	}
}

func TestZoneTableFallback(t *testing.T) {
	table := NewZoneTable(nil, "America/Chicago")
	loc, err := table.LocationFor("+441632960000")
	if err != nil {
		t.Fatalf("LocationFor: %v", err)
	}
	if loc.String() != "America/Chicago" {
		t.Errorf("zone = %s, want fallback America/Chicago", loc)
	}
}

func TestZoneTableIgnoresFormatting(t *testing.T) {
	table := DefaultNorthAmericanTable()
	a, _ := table.LocationFor("+1 (212) 555-0100")
	b, _ := table.LocationFor("+12125550100")
	if a.String() != b.String() {
		t.Errorf("formatted lookup %s != plain lookup %s", a, b)
	}
}

func TestLocalDay(t *testing.T) {
	s := testScheduler()
	hi, _ := time.LoadLocation("Pacific/Honolulu")

	// 02:00 UTC June 16 is still June 15 in Honolulu.
	now := time.Date(2026, 6, 16, 2, 0, 0, 0, time.UTC)
	day := s.LocalDay("+18085550100", now)
	want := time.Date(2026, 6, 15, 0, 0, 0, 0, hi)
	if !day.Equal(want) {
		t.Errorf("local day = %v, want %v", day, want)
	}
}
