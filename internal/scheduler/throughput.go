package scheduler

import (
	"sync"
	"time"
)

// Reservation is a batch allowance taken from the throughput counter.
// It must be returned with Commit once the batch is done.
type Reservation struct {
	N    int
	day  time.Time
	hour time.Time
}

// Throughput tracks published articles in the current day and hour.
// Reservations count against both buckets so overlapping cycles cannot exceed the caps.
type Throughput struct {
	mu   sync.Mutex
	now  func() time.Time
	day  time.Time
	hour time.Time

	publishedDay  int
	publishedHour int
	reservedDay   int
	reservedHour  int
}

// NewThroughput creates a counter. now may be nil.
func NewThroughput(now func() time.Time) *Throughput {
	if now == nil {
		now = time.Now
	}
	t := &Throughput{now: now}
	t.day, t.hour = buckets(now())
	return t
}

func buckets(t time.Time) (day, hour time.Time) {
	day = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	hour = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
	return day, hour
}

// Bounds returns the start of the current day and hour.
func (t *Throughput) Bounds() (day, hour time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollLocked()
	return t.day, t.hour
}

func (t *Throughput) rollLocked() {
	day, hour := buckets(t.now())
	if !day.Equal(t.day) {
		t.day = day
		t.publishedDay = 0
		t.reservedDay = 0
	}
	if !hour.Equal(t.hour) {
		t.hour = hour
		t.publishedHour = 0
		t.reservedHour = 0
	}
}

// Reconcile replaces the published counts, e.g. with totals read from run logs at startup.
func (t *Throughput) Reconcile(today, thisHour int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollLocked()
	t.publishedDay = today
	t.publishedHour = thisHour
}

// Published returns the articles published today and in the current hour.
func (t *Throughput) Published() (today, thisHour int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollLocked()
	return t.publishedDay, t.publishedHour
}

// DailyReached reports whether published and reserved articles reach the daily target.
func (t *Throughput) DailyReached(target int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollLocked()
	return t.publishedDay+t.reservedDay >= target
}

// Reserve takes min(maxPerHour - hour usage, dailyTarget - day usage) slots, never negative.
func (t *Throughput) Reserve(maxPerHour, dailyTarget int) Reservation {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollLocked()

	n := min(maxPerHour-t.publishedHour-t.reservedHour, dailyTarget-t.publishedDay-t.reservedDay)
	n = max(n, 0)
	t.reservedDay += n
	t.reservedHour += n
	return Reservation{N: n, day: t.day, hour: t.hour}
}

// Shrink gives back the slots of r beyond n, e.g. when fewer items were available,
// so overlapping cycles can use them. It returns the reduced reservation.
func (t *Throughput) Shrink(r Reservation, n int) Reservation {
	n = max(n, 0)
	if n >= r.N {
		return r
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollLocked()

	unused := r.N - n
	if r.day.Equal(t.day) {
		t.reservedDay = max(t.reservedDay-unused, 0)
	}
	if r.hour.Equal(t.hour) {
		t.reservedHour = max(t.reservedHour-unused, 0)
	}
	r.N = n
	return r
}

// Commit releases r and counts published articles in the current buckets.
func (t *Throughput) Commit(r Reservation, published int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollLocked()

	if r.day.Equal(t.day) {
		t.reservedDay = max(t.reservedDay-r.N, 0)
	}
	if r.hour.Equal(t.hour) {
		t.reservedHour = max(t.reservedHour-r.N, 0)
	}
	t.publishedDay += published
	t.publishedHour += published
}
