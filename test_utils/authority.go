package testutils

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/drpcorg/mirror/command"
	"github.com/drpcorg/mirror/elements"
	"github.com/drpcorg/mirror/payload"
	"github.com/drpcorg/mirror/protocol"
	"github.com/drpcorg/mirror/state"
)

type groupType struct {
	name   string
	layout []elements.Kind
}

type authContainer struct {
	tag   state.TypeTag
	start state.ElementID
	group *elements.Group
	els   []state.Element
}

// Authority plays the sending side in tests: it owns the reference state,
// allocates ids and turns local changes into well-formed batches.
type Authority struct {
	types      map[state.TypeTag]groupType
	containers map[state.ContainerID]*authContainer

	nextContainer state.ContainerID
	nextElement   state.ElementID

	created []state.ContainerID
	deleted []state.ContainerID
	dirty   map[state.ElementID]struct{}
}

func NewAuthority() *Authority {
	return &Authority{
		types:         make(map[state.TypeTag]groupType),
		containers:    make(map[state.ContainerID]*authContainer),
		nextContainer: 1,
		nextElement:   10,
		dirty:         make(map[state.ElementID]struct{}),
	}
}

// Define declares a group type; see RegisterInto.
func (a *Authority) Define(tag state.TypeTag, name string, layout ...elements.Kind) {
	a.types[tag] = groupType{name: name, layout: layout}
}

// RegisterInto binds every defined type through a registry's Register.
func (a *Authority) RegisterInto(register func(state.TypeTag, string, state.Factory) error) error {
	for _, tag := range slices.Sorted(maps.Keys(a.types)) {
		t := a.types[tag]
		if err := register(tag, t.name, elements.GroupFactory(t.layout...)); err != nil {
			return err
		}
	}
	return nil
}

// Create adds a group with fresh container and element ids.
func (a *Authority) Create(tag state.TypeTag, name string) state.ContainerID {
	t, ok := a.types[tag]
	if !ok {
		panic(fmt.Sprintf("testutils: type %d not defined", tag))
	}
	g := elements.NewGroup(t.layout...)
	g.Name = name
	c := &authContainer{tag: tag, start: a.nextElement, group: g, els: g.CreateElements()}
	id := a.nextContainer
	a.nextContainer++
	a.nextElement += state.ElementID(len(c.els))
	a.containers[id] = c
	a.created = append(a.created, id)
	return id
}

// Element returns the id of a container's slot.
func (a *Authority) Element(cid state.ContainerID, slot int) state.ElementID {
	return a.containers[cid].start + state.ElementID(slot)
}

// Modify changes one element and queues it for the next update.
func (a *Authority) Modify(cid state.ContainerID, slot int, fn func(e state.Element)) state.ElementID {
	c := a.containers[cid]
	fn(c.els[slot])
	eid := c.start + state.ElementID(slot)
	a.dirty[eid] = struct{}{}
	return eid
}

func (a *Authority) Delete(cid state.ContainerID) {
	c, ok := a.containers[cid]
	if !ok {
		return
	}
	for i := range c.els {
		delete(a.dirty, c.start+state.ElementID(i))
	}
	delete(a.containers, cid)
	if i := slices.Index(a.created, cid); i >= 0 {
		a.created = slices.Delete(a.created, i, i+1)
		return
	}
	a.deleted = append(a.deleted, cid)
}

func (a *Authority) Digest() (d state.Digest) {
	cids := slices.Sorted(maps.Keys(a.containers))
	d.ContainerCount = uint32(len(cids))
	first := true
	for _, cid := range cids {
		c := a.containers[cid]
		if len(c.els) == 0 {
			continue
		}
		lo, hi := c.start, c.start+state.ElementID(len(c.els)-1)
		d.ElementCount += uint32(len(c.els))
		if first || lo < d.MinElementID {
			d.MinElementID = lo
		}
		if first || hi > d.MaxElementID {
			d.MaxElementID = hi
		}
		first = false
	}
	if len(cids) > 0 {
		d.MinContainerID, d.MaxContainerID = cids[0], cids[len(cids)-1]
	}
	return
}

// CreateCommand describes the given containers as one Create.
func (a *Authority) CreateCommand(cids ...state.ContainerID) command.Create {
	var cw, ew payload.Writer
	var create command.Create
	var ids []state.ElementID
	values := make(map[state.ElementID]state.Element)
	for _, cid := range cids {
		c := a.containers[cid]
		create.Containers = append(create.Containers, command.ContainerInfo{Type: c.tag, ID: cid, Start: c.start})
		c.group.WriteCustomData(&cw)
		for i, e := range c.els {
			eid := c.start + state.ElementID(i)
			ids = append(ids, eid)
			values[eid] = e
		}
	}
	slices.Sort(ids)
	for _, eid := range ids {
		values[eid].WriteTo(&ew)
	}
	create.ContainerPayload = cw.Bytes()
	create.ElementPayload = ew.Bytes()
	return create
}

// UpdateCommand carries the current values of ids, in ascending order.
func (a *Authority) UpdateCommand(ids ...state.ElementID) command.Update {
	ids = slices.Clone(ids)
	slices.Sort(ids)
	var w payload.Writer
	for _, eid := range ids {
		a.value(eid).WriteTo(&w)
	}
	return command.Update{IDs: ids, ElementPayload: w.Bytes()}
}

func (a *Authority) value(eid state.ElementID) state.Element {
	for _, c := range a.containers {
		if eid >= c.start && int(eid-c.start) < len(c.els) {
			return c.els[eid-c.start]
		}
	}
	panic(fmt.Sprintf("testutils: element %d not found", eid))
}

// Flush turns everything changed since the last flush into a batch
// ending with a consistency check.
func (a *Authority) Flush() command.Batch {
	var batch command.Batch
	if len(a.deleted) > 0 {
		batch = append(batch, command.Delete{IDs: a.deleted})
	}
	if len(a.created) > 0 {
		batch = append(batch, a.CreateCommand(a.created...))
	}
	if len(a.dirty) > 0 {
		batch = append(batch, a.UpdateCommand(slices.Collect(maps.Keys(a.dirty))...))
	}
	batch = append(batch, command.ConsistencyCheck{Digest: a.Digest()})
	a.created, a.deleted = nil, nil
	clear(a.dirty)
	return batch
}

// Snapshot is the full state as a reset batch, what a mirror gets after
// asking for a resync.
func (a *Authority) Snapshot() command.Batch {
	batch := command.Batch{command.Reset{}}
	if len(a.containers) > 0 {
		batch = append(batch, a.CreateCommand(slices.Sorted(maps.Keys(a.containers))...))
	}
	return append(batch, command.ConsistencyCheck{Digest: a.Digest()})
}

// Pump encodes batches and drains them into d as one record set.
func Pump(ctx context.Context, d protocol.Drainer, batches ...command.Batch) error {
	recs := make(protocol.Records, 0, len(batches))
	for _, b := range batches {
		recs = append(recs, command.EncodeBatch(b))
	}
	return d.Drain(ctx, recs)
}
