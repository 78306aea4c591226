// Package elements provides ready-made element and container types for
// mechanisms that do not need a custom wire form.
package elements

import (
	"errors"
	"fmt"

	"github.com/drpcorg/mirror/payload"
	"github.com/drpcorg/mirror/state"
)

// Int is a signed counter-like value, zig-zag encoded.
type Int struct {
	Value int64
}

func (e *Int) ReadFrom(r *payload.Reader) error {
	v, err := r.ReadVarint()
	if err == nil {
		e.Value = v
	}
	return err
}

func (e *Int) WriteTo(w *payload.Writer) {
	w.WriteVarint(e.Value)
}

type Bool struct {
	Value bool
}

func (e *Bool) ReadFrom(r *payload.Reader) error {
	v, err := r.ReadBool()
	if err == nil {
		e.Value = v
	}
	return err
}

func (e *Bool) WriteTo(w *payload.Writer) {
	w.WriteBool(e.Value)
}

type String struct {
	Value string
}

func (e *String) ReadFrom(r *payload.Reader) error {
	v, err := r.ReadString()
	if err == nil {
		e.Value = v
	}
	return err
}

func (e *String) WriteTo(w *payload.Writer) {
	w.WriteString(e.Value)
}

// ErrUnnamedFluid is a present tank without a fluid; it would read back
// as an empty tank.
var ErrUnnamedFluid = errors.New("elements: tank fluid has no name")

// Tank holds an optional amount of a named fluid. An empty tank is a
// single zero byte on the wire.
type Tank struct {
	Fluid  string
	Amount int32
}

func (e *Tank) Empty() bool {
	return e.Fluid == ""
}

func (e *Tank) ReadFrom(r *payload.Reader) error {
	present, err := r.ReadBool()
	if err != nil {
		return err
	}
	if !present {
		*e = Tank{}
		return nil
	}
	fluid, err := r.ReadString()
	if err != nil {
		return err
	}
	if fluid == "" {
		return ErrUnnamedFluid
	}
	amount, err := r.ReadUint32()
	if err != nil {
		return err
	}
	e.Fluid, e.Amount = fluid, int32(amount)
	return nil
}

func (e *Tank) WriteTo(w *payload.Writer) {
	if e.Empty() {
		w.WriteBool(false)
		return
	}
	w.WriteBool(true)
	w.WriteString(e.Fluid)
	w.WriteUint32(uint32(e.Amount))
}

func (e *Tank) String() string {
	if e.Empty() {
		return "empty"
	}
	return fmt.Sprintf("%s x%d", e.Fluid, e.Amount)
}

var (
	_ state.Element = (*Int)(nil)
	_ state.Element = (*Bool)(nil)
	_ state.Element = (*String)(nil)
	_ state.Element = (*Tank)(nil)
	_ state.Element = (*Flags)(nil)
)
