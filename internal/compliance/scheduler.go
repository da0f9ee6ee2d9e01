package compliance

import (
	"sort"
	"time"
)

// Policy holds the calling-window rules applied to every destination.
type Policy struct {
	// WindowStartHour/WindowEndHour bound permitted local calling hours,
	// half-open [start, end).
	WindowStartHour int
	WindowEndHour   int
	// SlotHours are the fixed local retry hours within a day, ascending.
	SlotHours []int
	// DailyCap limits attempts per destination per local calendar day.
	DailyCap int
	// MaxRetryDays is the retry horizon in whole days since first attempt.
	MaxRetryDays int
}

// History is the attempt bookkeeping the decision depends on.
type History struct {
	Attempts       int
	FirstAttemptAt *time.Time
	// UsedToday is the per-destination counter for the current local day,
	// read by the caller before deciding.
	UsedToday int64
}

// Decision is the scheduler's verdict.
type Decision struct {
	Allow bool
	// NextAttemptAt is the next permissible instant when Allow is false and
	// retries remain.
	NextAttemptAt time.Time
	// Exhausted means the retry horizon has passed; no next time exists.
	Exhausted bool
	Reason    string
}

// Scheduler decides whether a destination may be called right now. It has
// no side effects and performs no I/O.
type Scheduler struct {
	policy Policy
	zones  *ZoneTable
}

// NewScheduler builds a scheduler from a policy and an injected zone table.
func NewScheduler(policy Policy, zones *ZoneTable) *Scheduler {
	slots := append([]int(nil), policy.SlotHours...)
	if len(slots) == 0 {
		// Deferred dials need at least one anchor hour; without slots the
		// start of the calling window is the earliest permissible one.
		slots = []int{policy.WindowStartHour}
	}
	sort.Ints(slots)
	policy.SlotHours = slots
	return &Scheduler{policy: policy, zones: zones}
}

// Decide reports whether dialing the destination is permitted at now, and
// if not, the next permissible instant.
func (s *Scheduler) Decide(dialString string, hist History, now time.Time) Decision {
	if hist.FirstAttemptAt != nil {
		days := int(now.Sub(*hist.FirstAttemptAt).Hours() / 24)
		if days > s.policy.MaxRetryDays {
			return Decision{Exhausted: true, Reason: "retry horizon exceeded"}
		}
	}

	loc, err := s.zones.LocationFor(dialString)
	if err != nil {
		// An unresolvable zone must never produce an out-of-window call.
		loc = time.UTC
	}
	local := now.In(loc)

	if s.policy.DailyCap > 0 && hist.UsedToday >= int64(s.policy.DailyCap) {
		return Decision{
			NextAttemptAt: s.firstSlotTomorrow(local),
			Reason:        "daily attempt cap reached",
		}
	}

	hour := local.Hour()
	if hour >= s.policy.WindowStartHour && hour < s.policy.WindowEndHour {
		return Decision{Allow: true, Reason: "within calling window"}
	}

	return Decision{
		NextAttemptAt: s.nextSlot(local),
		Reason:        "outside calling window",
	}
}

// nextSlot returns the first slot strictly after the current local hour, or
// the first slot tomorrow when none remain today.
func (s *Scheduler) nextSlot(local time.Time) time.Time {
	for _, h := range s.policy.SlotHours {
		if h > local.Hour() {
			return time.Date(local.Year(), local.Month(), local.Day(), h, 0, 0, 0, local.Location())
		}
	}
	return s.firstSlotTomorrow(local)
}

func (s *Scheduler) firstSlotTomorrow(local time.Time) time.Time {
	first := s.policy.SlotHours[0]
	tomorrow := local.AddDate(0, 0, 1)
	return time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), first, 0, 0, 0, local.Location())
}

// NextSlot returns the first retry slot strictly after now in the
// destination's local zone. Used when a dial was permitted but initiation
// itself failed, so no webhook will drive the next step.
func (s *Scheduler) NextSlot(dialString string, now time.Time) time.Time {
	loc, err := s.zones.LocationFor(dialString)
	if err != nil {
		loc = time.UTC
	}
	return s.nextSlot(now.In(loc))
}

// LocalDay returns the destination-local day used to key the daily counter.
func (s *Scheduler) LocalDay(dialString string, now time.Time) time.Time {
	loc, err := s.zones.LocationFor(dialString)
	if err != nil {
		loc = time.UTC
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// DailyCap exposes the configured cap for post-increment verification.
func (s *Scheduler) DailyCap() int {
	return s.policy.DailyCap
}
