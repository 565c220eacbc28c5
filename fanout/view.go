package fanout

import (
	"sort"
	"sync"

	"botstore/models"
)

// View is a subscriber's local picture of order state, keyed by Event.Key.
type View struct {
	mu   sync.RWMutex
	rows map[string]models.Event
}

func NewView() *View {
	return &View{rows: make(map[string]models.Event)}
}

// Replace swaps in the result of a full refresh.
func (v *View) Replace(rows []models.Event) {
	m := make(map[string]models.Event, len(rows))
	for _, r := range rows {
		m[r.Key()] = r
	}
	v.mu.Lock()
	v.rows = m
	v.mu.Unlock()
}

// Apply upserts an order or custom-order event. Audit events are not rows
// and are ignored; the return value reports whether the view changed.
func (v *View) Apply(ev models.Event) bool {
	if ev.EntityType != models.EntityOrder && ev.EntityType != models.EntityCustomOrder {
		return false
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if cur, ok := v.rows[ev.Key()]; ok && cur.At.After(ev.At) {
		return false
	}
	v.rows[ev.Key()] = ev
	return true
}

func (v *View) Get(key string) (models.Event, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ev, ok := v.rows[key]
	return ev, ok
}

// Rows returns the view ordered newest first.
func (v *View) Rows() []models.Event {
	v.mu.RLock()
	out := make([]models.Event, 0, len(v.rows))
	for _, r := range v.rows {
		out = append(out, r)
	}
	v.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	return out
}

func (v *View) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.rows)
}
