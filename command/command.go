// Package command defines the closed set of messages an authority sends to
// its mirrors, and their TLV wire form.
package command

import (
	"github.com/drpcorg/mirror/state"
)

// Kind doubles as the TLV record type of the command.
type Kind byte

const (
	KindReset  Kind = 'R'
	KindCheck  Kind = 'K'
	KindCreate Kind = 'C'
	KindDelete Kind = 'D'
	KindUpdate Kind = 'U'
	KindEnd    Kind = 'E'
)

func (k Kind) String() string {
	switch k {
	case KindReset:
		return "reset"
	case KindCheck:
		return "check"
	case KindCreate:
		return "create"
	case KindDelete:
		return "delete"
	case KindUpdate:
		return "update"
	case KindEnd:
		return "end"
	}
	return "unknown"
}

// Command is one of Reset, ConsistencyCheck, Create, Delete, Update, End.
// The set is closed: the unexported method keeps other packages from adding
// variants.
type Command interface {
	Kind() Kind
	command()
}

// Reset wipes the whole store.
type Reset struct{}

// ConsistencyCheck carries the authority's digest at send time.
type ConsistencyCheck struct {
	state.Digest
}

// ContainerInfo describes one container of a Create.
type ContainerInfo struct {
	Type  state.TypeTag
	ID    state.ContainerID
	Start state.ElementID
}

// Create registers containers together with their elements. Container
// custom data is read in descriptor order from ContainerPayload; element
// values are read in ascending element id order from ElementPayload.
type Create struct {
	Containers       []ContainerInfo
	ContainerPayload []byte
	ElementPayload   []byte
}

// Delete removes containers along with every element they own.
type Delete struct {
	IDs []state.ContainerID
}

// Update carries new values for existing elements, in ascending id order.
type Update struct {
	IDs            []state.ElementID
	ElementPayload []byte
}

// End stops processing of the rest of the batch.
type End struct{}

func (Reset) Kind() Kind            { return KindReset }
func (ConsistencyCheck) Kind() Kind { return KindCheck }
func (Create) Kind() Kind           { return KindCreate }
func (Delete) Kind() Kind           { return KindDelete }
func (Update) Kind() Kind           { return KindUpdate }
func (End) Kind() Kind              { return KindEnd }

func (Reset) command()            {}
func (ConsistencyCheck) command() {}
func (Create) command()           {}
func (Delete) command()           {}
func (Update) command()           {}
func (End) command()              {}

// Batch is an ordered command list, applied command by command.
type Batch []Command
