package mirror

import (
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
	"github.com/drpcorg/mirror/mirror_errors"
	"github.com/drpcorg/mirror/payload"
	"github.com/drpcorg/mirror/state"
	"github.com/google/btree"
)

const btreeDegree = 16

type containerEntry struct {
	id        state.ContainerID
	start     state.ElementID
	container state.Container
}

type elementEntry struct {
	id      state.ElementID
	element state.Element
}

// Store is the mirrored relational state. Containers and elements are kept
// in id order; the two membership maps are updated together on every
// structural change, so removing a container costs its own size only.
//
// Only the Slave mutates a Store.
type Store struct {
	containers *btree.BTreeG[containerEntry]
	elements   *btree.BTreeG[elementEntry]

	containerToElement map[state.ContainerID][]state.ElementID
	elementToContainer map[state.ElementID]state.ContainerID
}

func NewStore() *Store {
	return &Store{
		containers: btree.NewG(btreeDegree, func(a, b containerEntry) bool {
			return a.id < b.id
		}),
		elements: btree.NewG(btreeDegree, func(a, b elementEntry) bool {
			return a.id < b.id
		}),
		containerToElement: make(map[state.ContainerID][]state.ElementID),
		elementToContainer: make(map[state.ElementID]state.ContainerID),
	}
}

func (s *Store) Container(id state.ContainerID) (state.Container, bool) {
	e, ok := s.containers.Get(containerEntry{id: id})
	return e.container, ok
}

func (s *Store) Element(id state.ElementID) (state.Element, bool) {
	e, ok := s.elements.Get(elementEntry{id: id})
	return e.element, ok
}

// ContainerOf reports the owner of an element; false means orphan.
func (s *Store) ContainerOf(id state.ElementID) (state.ContainerID, bool) {
	cid, ok := s.elementToContainer[id]
	return cid, ok
}

// ElementsOf returns a container's element ids in ascending order.
func (s *Store) ElementsOf(id state.ContainerID) []state.ElementID {
	ids := s.containerToElement[id]
	out := make([]state.ElementID, len(ids))
	copy(out, ids)
	return out
}

// Start is the first element id declared for a container.
func (s *Store) Start(id state.ContainerID) (state.ElementID, bool) {
	e, ok := s.containers.Get(containerEntry{id: id})
	return e.start, ok
}

func (s *Store) Len() (containers, elements int) {
	return s.containers.Len(), s.elements.Len()
}

// Digest computes the aggregate a ConsistencyCheck is compared against.
func (s *Store) Digest() (d state.Digest) {
	d.ContainerCount = uint32(s.containers.Len())
	if lo, ok := s.containers.Min(); ok {
		d.MinContainerID = lo.id
	}
	if hi, ok := s.containers.Max(); ok {
		d.MaxContainerID = hi.id
	}
	d.ElementCount = uint32(s.elements.Len())
	if lo, ok := s.elements.Min(); ok {
		d.MinElementID = lo.id
	}
	if hi, ok := s.elements.Max(); ok {
		d.MaxElementID = hi.id
	}
	return
}

// Ascend walks containers in id order.
func (s *Store) Ascend(fn func(id state.ContainerID, c state.Container, elements []state.ElementID) bool) {
	s.containers.Ascend(func(e containerEntry) bool {
		return fn(e.id, e.container, s.containerToElement[e.id])
	})
}

// Fingerprint hashes the whole store: layout, container custom data and
// element values. Two mirrors of the same authority state agree on it.
func (s *Store) Fingerprint() uint64 {
	h := xxhash.New()
	var w payload.Writer
	s.containers.Ascend(func(e containerEntry) bool {
		w.WriteUvarint(uint64(e.id))
		w.WriteUvarint(uint64(e.start))
		w.WriteUvarint(uint64(len(s.containerToElement[e.id])))
		if custom, ok := e.container.(state.CustomCreateData); ok {
			custom.WriteCustomData(&w)
		}
		return true
	})
	s.elements.Ascend(func(e elementEntry) bool {
		w.WriteUvarint(uint64(e.id))
		e.element.WriteTo(&w)
		return true
	})
	_, _ = h.Write(w.Bytes())
	return h.Sum64()
}

// addContainer registers a container and the elements it creates, ids
// start, start+1, ... The store is left untouched on error.
func (s *Store) addContainer(id state.ContainerID, c state.Container, start state.ElementID) ([]state.ElementID, error) {
	if prev, ok := s.containers.Get(containerEntry{id: id}); ok {
		if prev.start == start {
			return nil, fmt.Errorf("%w: Container %d already exists", mirror_errors.ErrContainerExists, id)
		}
		return nil, fmt.Errorf("%w: Container %d already exists at %d", mirror_errors.ErrContainerExists, id, prev.start)
	}
	els := c.CreateElements()
	if uint64(start)+uint64(len(els)) > math.MaxUint32+1 {
		return nil, fmt.Errorf("%w: Container %d element range overflows", mirror_errors.ErrElementExists, id)
	}
	ids := make([]state.ElementID, len(els))
	for i := range els {
		ids[i] = start + state.ElementID(i)
		if owner, ok := s.elementToContainer[ids[i]]; ok {
			return nil, fmt.Errorf("%w: Element %d already owned by container %d", mirror_errors.ErrElementExists, ids[i], owner)
		}
	}
	s.containers.ReplaceOrInsert(containerEntry{id: id, start: start, container: c})
	for i, el := range els {
		s.elements.ReplaceOrInsert(elementEntry{id: ids[i], element: el})
		s.elementToContainer[ids[i]] = id
	}
	s.containerToElement[id] = ids
	out := make([]state.ElementID, len(ids))
	copy(out, ids)
	return out, nil
}

// removeContainer drops a container with all its elements.
func (s *Store) removeContainer(id state.ContainerID) bool {
	if _, ok := s.containers.Delete(containerEntry{id: id}); !ok {
		return false
	}
	for _, eid := range s.containerToElement[id] {
		s.elements.Delete(elementEntry{id: eid})
		delete(s.elementToContainer, eid)
	}
	delete(s.containerToElement, id)
	return true
}

func (s *Store) removeAll() {
	s.containers.Clear(false)
	s.elements.Clear(false)
	clear(s.containerToElement)
	clear(s.elementToContainer)
}
