package authgate

import (
	"sync"
)

// DefaultHistoryCapacity is deliberately small. The routing history is a
// short-lived correlation aid, not an audit log.
const DefaultHistoryCapacity = 5

// RoutingHistoryEntry records the outcome of one request, keyed by the
// transport's correlation identifier and the HTTP method.
type RoutingHistoryEntry struct {
	RequestID string
	Path      string
	Method    string
	Err       *ErrorValue
}

// RoutingHistory is a bounded FIFO journal scoped to one session. An HTTP
// redirect carries no body; this journal is the only channel by which the
// follow-up request a browser makes to the redirect target can recover the
// original error.
type RoutingHistory struct {
	mu       sync.Mutex
	capacity int
	entries  []*RoutingHistoryEntry
}

func NewRoutingHistory(capacity int) *RoutingHistory {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &RoutingHistory{capacity: capacity}
}

// Update upserts the entry for (requestID, method). A redirect-class error
// never overwrites an existing non-redirect error: the redirect is a
// mechanism, not a cause. A nil error clears the recorded failure. When a new
// entry pushes the journal past capacity, the oldest entry is evicted.
func (h *RoutingHistory) Update(path, method, requestID string, errVal *ErrorValue) *RoutingHistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, e := range h.entries {
		if e.RequestID == requestID && e.Method == method {
			e.Path = path
			if errVal != nil && isRedirectCode(errVal.Code) && e.Err != nil && !isRedirectCode(e.Err.Code) {
				return e
			}
			e.Err = errVal
			return e
		}
	}

	entry := &RoutingHistoryEntry{RequestID: requestID, Path: path, Method: method, Err: errVal}
	h.entries = append(h.entries, entry)
	if len(h.entries) > h.capacity {
		h.entries = h.entries[len(h.entries)-h.capacity:]
	}
	return entry
}

// ErrorFor recovers the failure recorded for a request identifier, searching
// newest-first. It returns nil when no entry with an error exists; the caller
// degrades to a generic message, never to a distinct "no history" error.
func (h *RoutingHistory) ErrorFor(requestID string) *RoutingHistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.entries) - 1; i >= 0; i-- {
		if h.entries[i].RequestID == requestID && h.entries[i].Err != nil {
			return h.entries[i]
		}
	}
	return nil
}

// Len returns the number of journal entries currently held.
func (h *RoutingHistory) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}
