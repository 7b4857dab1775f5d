package control

import "sync"

// AlertList coalesces repeated notifications of the same kind into a
// single pending entry, mirroring cras_alert.c's "pending" collapsing
// behavior: a burst of volume changes between two client polls produces
// one VOLUME_UPDATE, not one per mutation. This is the collapsing
// primitive only — full alert fan-out (who gets notified, in what order)
// is out of scope (spec.md §1).
type AlertList struct {
	mu      sync.Mutex
	pending map[MsgID]struct{}
	order   []MsgID
}

// NewAlertList constructs an empty alert list.
func NewAlertList() *AlertList {
	return &AlertList{pending: map[MsgID]struct{}{}}
}

// Pend marks id as having a pending notification. A second Pend for the
// same id before the next Drain is a no-op: the notification already
// queued covers it.
func (a *AlertList) Pend(id MsgID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.pending[id]; ok {
		return
	}
	a.pending[id] = struct{}{}
	a.order = append(a.order, id)
}

// Drain returns the pending ids in the order they were first raised and
// clears the pending set.
func (a *AlertList) Drain() []MsgID {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.order) == 0 {
		return nil
	}
	out := a.order
	a.pending = map[MsgID]struct{}{}
	a.order = nil
	return out
}
