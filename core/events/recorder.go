package events

import (
	"sync"

	"veridibloc/core/types"
)

// Attributed is implemented by events that render themselves as a
// broadcastable attribute map.
type Attributed interface {
	Event() *types.Event
}

// DefaultRecorderLimit bounds the recorder when no limit is configured.
const DefaultRecorderLimit = 512

// Recorder is an Emitter that keeps the most recent events for querying.
// Older entries are dropped once the limit is reached.
type Recorder struct {
	mu      sync.Mutex
	limit   int
	entries []*types.Event
}

// NewRecorder creates a recorder. A non-positive limit selects
// DefaultRecorderLimit.
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = DefaultRecorderLimit
	}
	return &Recorder{limit: limit}
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	entry := &types.Event{Type: evt.EventType()}
	if a, ok := evt.(Attributed); ok {
		entry = a.Event()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	if len(r.entries) > r.limit {
		r.entries = r.entries[len(r.entries)-r.limit:]
	}
}

// Recent returns the recorded events, oldest first.
func (r *Recorder) Recent() []*types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.Event, len(r.entries))
	copy(out, r.entries)
	return out
}
