package testutils

import (
	"fmt"
	"strings"
	"sync"

	"github.com/drpcorg/mirror/state"
)

// RecordingObserver logs every notification as a short string, e.g.
// "container 1" or "element 1 11".
type RecordingObserver struct {
	lock   sync.Mutex
	events []string
}

func (r *RecordingObserver) add(format string, args ...any) {
	r.lock.Lock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
	r.lock.Unlock()
}

func (r *RecordingObserver) BatchStarted()     { r.add("batch-started") }
func (r *RecordingObserver) BatchFinished()    { r.add("batch-finished") }
func (r *RecordingObserver) StructureUpdated() { r.add("structure") }
func (r *RecordingObserver) DataUpdated()      { r.add("data") }

func (r *RecordingObserver) ContainerUpdated(cid state.ContainerID, _ state.Container) {
	r.add("container %d", cid)
}

func (r *RecordingObserver) ElementUpdated(cid state.ContainerID, _ state.Container, eid state.ElementID, _ state.Element) {
	r.add("element %d %d", cid, eid)
}

func (r *RecordingObserver) Events() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

// Count tells how many events start with prefix.
func (r *RecordingObserver) Count(prefix string) (n int) {
	for _, e := range r.Events() {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return
}

func (r *RecordingObserver) Reset() {
	r.lock.Lock()
	r.events = nil
	r.lock.Unlock()
}
