package stream

import "github.com/google/uuid"

// Ledger is the per-device buffer-share ledger from spec §3/§4.6. It maps
// a stream's handle to the frames it has committed against the device's
// current buffer; the device cursor can only advance by the minimum
// across every entry, which is also the only legal way to shrink the
// ledger.
type Ledger struct {
	entries map[uuid.UUID]int
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{entries: make(map[uuid.UUID]int)}
}

// Set records (or overwrites) the frames committed by a stream against
// the current device buffer.
func (l *Ledger) Set(stream uuid.UUID, frames int) {
	l.entries[stream] = frames
}

// Drop removes a stream from the ledger, e.g. on detach.
func (l *Ledger) Drop(stream uuid.UUID) {
	delete(l.entries, stream)
}

// Min returns the minimum commit count across all tracked streams, and
// whether the ledger has any entries at all (an empty ledger has no
// meaningful minimum and must not advance anything).
func (l *Ledger) Min() (min int, ok bool) {
	first := true
	for _, v := range l.entries {
		if first || v < min {
			min = v
			first = false
		}
	}
	return min, !first
}

// AdvanceBy computes the minimum commit count across every tracked
// stream, subtracts it from every entry, and returns that (pre-subtraction)
// minimum so the caller can advance the device's read cursor by the same
// amount. This is the only legal advance operation per spec §4.6; ok is
// false when the ledger is empty, in which case nothing advances.
func (l *Ledger) AdvanceBy() (min int, ok bool) {
	min, ok = l.Min()
	if !ok {
		return 0, false
	}
	for k, v := range l.entries {
		l.entries[k] = v - min
	}
	return min, true
}

// Len reports how many streams are currently tracked.
func (l *Ledger) Len() int { return len(l.entries) }
