package mirror

import "github.com/drpcorg/mirror/state"

// Observer receives change notifications from a Slave. Every batch is
// bracketed by BatchStarted and BatchFinished, even a failed one.
// ContainerUpdated fires once per container per batch, before the
// ElementUpdated calls for that container.
type Observer interface {
	BatchStarted()
	BatchFinished()
	StructureUpdated()
	ContainerUpdated(cid state.ContainerID, c state.Container)
	ElementUpdated(cid state.ContainerID, c state.Container, eid state.ElementID, e state.Element)
	DataUpdated()
}

// NopObserver ignores everything; embed it to implement only some callbacks.
type NopObserver struct{}

func (NopObserver) BatchStarted() {}

func (NopObserver) BatchFinished() {}

func (NopObserver) StructureUpdated() {}

func (NopObserver) ContainerUpdated(state.ContainerID, state.Container) {}

func (NopObserver) ElementUpdated(state.ContainerID, state.Container, state.ElementID, state.Element) {}

func (NopObserver) DataUpdated() {}

// Observers fans every notification out, in slice order.
type Observers []Observer

func (obs Observers) BatchStarted() {
	for _, o := range obs {
		o.BatchStarted()
	}
}

func (obs Observers) BatchFinished() {
	for _, o := range obs {
		o.BatchFinished()
	}
}

func (obs Observers) StructureUpdated() {
	for _, o := range obs {
		o.StructureUpdated()
	}
}

func (obs Observers) ContainerUpdated(cid state.ContainerID, c state.Container) {
	for _, o := range obs {
		o.ContainerUpdated(cid, c)
	}
}

func (obs Observers) ElementUpdated(cid state.ContainerID, c state.Container, eid state.ElementID, e state.Element) {
	for _, o := range obs {
		o.ElementUpdated(cid, c, eid, e)
	}
}

func (obs Observers) DataUpdated() {
	for _, o := range obs {
		o.DataUpdated()
	}
}
