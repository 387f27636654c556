// Package ratelimit guards outbound sends with fixed-window counters:
// a global daily cap per sender and a per-recipient daily cap. The
// in-process implementation suits a single-instance deployment; the
// Guard interface lets a shared store replace it.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

// Guard answers whether one more message may be sent to a recipient,
// and records sends that actually happened.
type Guard interface {
	Allow(sender, recipient string, now time.Time) (bool, string)
	Record(sender, recipient string, now time.Time)
}

type window struct {
	start time.Time
	count int
}

// FixedWindow counts sends in UTC-day windows.
type FixedWindow struct {
	mu sync.Mutex

	dailyLimit    int
	perPhoneDaily int

	bySender map[string]*window
	byPhone  map[string]*window
}

func NewFixedWindow(dailyLimit, perPhoneDaily int) *FixedWindow {
	return &FixedWindow{
		dailyLimit:    dailyLimit,
		perPhoneDaily: perPhoneDaily,
		bySender:      make(map[string]*window),
		byPhone:       make(map[string]*window),
	}
}

func (f *FixedWindow) Allow(sender, recipient string, now time.Time) (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.dailyLimit > 0 {
		w := f.current(f.bySender, sender, now)
		if w.count >= f.dailyLimit {
			return false, fmt.Sprintf("daily limit of %d reached", f.dailyLimit)
		}
	}
	if f.perPhoneDaily > 0 {
		w := f.current(f.byPhone, recipient, now)
		if w.count >= f.perPhoneDaily {
			return false, fmt.Sprintf("recipient daily limit of %d reached", f.perPhoneDaily)
		}
	}
	return true, ""
}

func (f *FixedWindow) Record(sender, recipient string, now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.current(f.bySender, sender, now).count++
	f.current(f.byPhone, recipient, now).count++
}

func (f *FixedWindow) current(m map[string]*window, key string, now time.Time) *window {
	day := now.UTC().Truncate(24 * time.Hour)
	w, ok := m[key]
	if !ok || !w.start.Equal(day) {
		w = &window{start: day}
		m[key] = w
	}
	return w
}
