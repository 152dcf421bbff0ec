package domain

import (
	"slices"
	"sync"
)

type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)

// Track is a read-only view of a local or remote media track.
type Track struct {
	ID       string    `json:"id"`
	StreamID string    `json:"stream_id"`
	Kind     TrackKind `json:"kind"`
	RID      string    `json:"rid,omitempty"`
}

// TrackSet holds the locally sent tracks in attach order and the remotely
// received tracks keyed by id. A remote id is present at most once.
type TrackSet struct {
	mu       sync.RWMutex
	local    []Track
	remote   map[string]Track
	arrivals []string
}

func NewTrackSet() *TrackSet {
	return &TrackSet{remote: make(map[string]Track)}
}

func (ts *TrackSet) AddLocal(t Track) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.local = append(ts.local, t)
}

// AddRemote records t; a repeated id is a no-op and reports false.
func (ts *TrackSet) AddRemote(t Track) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if _, ok := ts.remote[t.ID]; ok {
		return false
	}
	ts.remote[t.ID] = t
	ts.arrivals = append(ts.arrivals, t.ID)
	return true
}

// ToggleRemote adds t when absent and removes it when present. added tells
// which of the two happened.
func (ts *TrackSet) ToggleRemote(t Track) (added bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if _, ok := ts.remote[t.ID]; ok {
		ts.removeLocked(t.ID)
		return false
	}
	ts.remote[t.ID] = t
	ts.arrivals = append(ts.arrivals, t.ID)
	return true
}

func (ts *TrackSet) RemoveRemote(id string) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if _, ok := ts.remote[id]; !ok {
		return false
	}
	ts.removeLocked(id)
	return true
}

func (ts *TrackSet) removeLocked(id string) {
	delete(ts.remote, id)
	if i := slices.Index(ts.arrivals, id); i >= 0 {
		ts.arrivals = slices.Delete(ts.arrivals, i, i+1)
	}
}

func (ts *TrackSet) HasRemote(id string) bool {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	_, ok := ts.remote[id]
	return ok
}

// TrackSnapshot is the JSON view served to the UI.
type TrackSnapshot struct {
	Local  []Track `json:"local"`
	Remote []Track `json:"remote"`
}

// Snapshot copies both sides; remote tracks come back in arrival order.
func (ts *TrackSet) Snapshot() TrackSnapshot {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	snap := TrackSnapshot{
		Local:  slices.Clone(ts.local),
		Remote: make([]Track, 0, len(ts.arrivals)),
	}
	for _, id := range ts.arrivals {
		snap.Remote = append(snap.Remote, ts.remote[id])
	}
	return snap
}

// Reset empties both sides.
func (ts *TrackSet) Reset() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.local = nil
	ts.remote = make(map[string]Track)
	ts.arrivals = nil
}
