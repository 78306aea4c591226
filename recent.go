package mirror

import (
	"sync/atomic"
	"time"

	"github.com/drpcorg/mirror/state"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Change records when an element last changed.
type Change struct {
	Container state.ContainerID
	Batch     uint64
	At        time.Time
}

// RecentChanges is an Observer remembering the last change of the most
// recently touched elements, bounded by size. Entries of removed elements
// stay until evicted.
type RecentChanges struct {
	NopObserver

	batch atomic.Uint64
	cache *lru.Cache[state.ElementID, Change]
	now   func() time.Time
}

func NewRecentChanges(size int) (*RecentChanges, error) {
	cache, err := lru.New[state.ElementID, Change](size)
	if err != nil {
		return nil, err
	}
	return &RecentChanges{cache: cache, now: time.Now}, nil
}

func (rc *RecentChanges) BatchStarted() {
	rc.batch.Add(1)
}

func (rc *RecentChanges) ElementUpdated(cid state.ContainerID, _ state.Container, eid state.ElementID, _ state.Element) {
	rc.cache.Add(eid, Change{Container: cid, Batch: rc.batch.Load(), At: rc.now()})
}

// Get reports the last recorded change of an element.
func (rc *RecentChanges) Get(eid state.ElementID) (Change, bool) {
	return rc.cache.Peek(eid)
}

// Batches is the number of batches observed so far.
func (rc *RecentChanges) Batches() uint64 {
	return rc.batch.Load()
}

// Elements lists remembered element ids, least recently changed first.
func (rc *RecentChanges) Elements() []state.ElementID {
	return rc.cache.Keys()
}
