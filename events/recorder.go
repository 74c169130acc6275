package events

import (
	tmsync "github.com/supragya/NomadConnector/libs/sync"
)

// Recorder keeps the most recent alarms in a ring buffer and counts every event type.
type Recorder struct {
	mtx    tmsync.RWMutex
	buf    []Event
	head   int
	size   int
	counts map[string]int
}

func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = 256
	}
	return &Recorder{buf: make([]Event, capacity), counts: make(map[string]int)}
}

func (r *Recorder) Record(ev Event) {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	r.counts[ev.Type]++
	if !ev.IsAlarm() {
		return
	}
	r.buf[r.head] = ev
	r.head = (r.head + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// Recent returns up to n alarms, newest first.
func (r *Recorder) Recent(n int) []Event {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]Event, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.head - i + len(r.buf)) % len(r.buf)
		out = append(out, r.buf[idx])
	}
	return out
}

func (r *Recorder) Count(eventType string) int {
	r.mtx.RLock()
	defer r.mtx.RUnlock()
	return r.counts[eventType]
}
