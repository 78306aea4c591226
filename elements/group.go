package elements

import (
	"fmt"

	"github.com/drpcorg/mirror/payload"
	"github.com/drpcorg/mirror/state"
)

// Kind selects the element type of one Group slot.
type Kind byte

const (
	KindInt     Kind = 'i'
	KindBool    Kind = 'b'
	KindString  Kind = 's'
	KindTank    Kind = 't'
	KindFlags8  Kind = '1'
	KindFlags16 Kind = '2'
	KindFlags32 Kind = '4'
)

func (k Kind) New() state.Element {
	switch k {
	case KindInt:
		return &Int{}
	case KindBool:
		return &Bool{}
	case KindString:
		return &String{}
	case KindTank:
		return &Tank{}
	case KindFlags8:
		return &Flags{bits: 8}
	case KindFlags16:
		return &Flags{bits: 16}
	case KindFlags32:
		return &Flags{bits: 32}
	}
	panic(fmt.Sprintf("elements: unknown kind %q", byte(k)))
}

// Group is a container with a fixed element layout and a name sent as
// its custom create data.
type Group struct {
	Name   string
	layout []Kind
}

func NewGroup(layout ...Kind) *Group {
	return &Group{layout: layout}
}

func (g *Group) Layout() []Kind {
	return g.layout
}

func (g *Group) CreateElements() []state.Element {
	els := make([]state.Element, len(g.layout))
	for i, k := range g.layout {
		els[i] = k.New()
	}
	return els
}

func (g *Group) ReadCustomData(r *payload.Reader) error {
	name, err := r.ReadString()
	if err == nil {
		g.Name = name
	}
	return err
}

func (g *Group) WriteCustomData(w *payload.Writer) {
	w.WriteString(g.Name)
}

// GroupFactory makes blank groups of one layout, for registration under a
// type tag.
func GroupFactory(layout ...Kind) state.Factory {
	return func() state.Container {
		return NewGroup(layout...)
	}
}

// Plain is a container without custom data.
type Plain struct {
	layout []Kind
}

func PlainFactory(layout ...Kind) state.Factory {
	return func() state.Container {
		return &Plain{layout: layout}
	}
}

func (p *Plain) CreateElements() []state.Element {
	return NewGroup(p.layout...).CreateElements()
}

var (
	_ state.Container        = (*Group)(nil)
	_ state.CustomCreateData = (*Group)(nil)
	_ state.Container        = (*Plain)(nil)
)
