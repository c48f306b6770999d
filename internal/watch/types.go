package watch

import (
	"sort"
	"time"

	"github.com/Iron-Ham/roster/internal/record"
)

// MutationKind classifies a change to a key.
type MutationKind string

const (
	KindCreated MutationKind = "created"
	KindUpdated MutationKind = "updated"
	KindDeleted MutationKind = "deleted"
)

// String returns the string representation of the mutation kind.
func (k MutationKind) String() string {
	return string(k)
}

// MutationEvent describes one observed change. Version is the key's version
// after the change, or its last known version for a deletion.
type MutationEvent struct {
	Key       string       `json:"key"`
	Kind      MutationKind `json:"kind"`
	Version   int64        `json:"version"`
	Timestamp time.Time    `json:"timestamp"`
}

// Snapshot maps keys to their stamps at one point in time.
type Snapshot map[string]record.Stamp

// Clone returns a copy of s.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Diff returns the events that turn prev into next, ordered by key. A key
// whose version went backwards, or whose stamp changed without a version
// change, was deleted and created again between the two snapshots and is
// reported as a deletion followed by a creation.
func Diff(prev, next Snapshot, at time.Time) []MutationEvent {
	var events []MutationEvent
	for key, cur := range next {
		old, ok := prev[key]
		switch {
		case !ok:
			events = append(events, MutationEvent{Key: key, Kind: KindCreated, Version: cur.Version, Timestamp: at})
		case cur.Version > old.Version:
			events = append(events, MutationEvent{Key: key, Kind: KindUpdated, Version: cur.Version, Timestamp: at})
		case cur.Version < old.Version || !cur.ModifiedAt.Equal(old.ModifiedAt):
			events = append(events,
				MutationEvent{Key: key, Kind: KindDeleted, Version: old.Version, Timestamp: at},
				MutationEvent{Key: key, Kind: KindCreated, Version: cur.Version, Timestamp: at},
			)
		}
	}
	for key, old := range prev {
		if _, ok := next[key]; !ok {
			events = append(events, MutationEvent{Key: key, Kind: KindDeleted, Version: old.Version, Timestamp: at})
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Key < events[j].Key
	})
	return events
}
