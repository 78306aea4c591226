// Package state declares the replicated units: elements, the containers that
// group them, and the ids both are addressed by.
package state

import "github.com/drpcorg/mirror/payload"

type ElementID uint32

type ContainerID uint32

// TypeTag selects the container constructor on the mirror side.
type TypeTag uint32

// Element is the smallest replicated unit. Its value arrives as a slice of a
// shared payload stream, so ReadFrom must consume exactly what WriteTo
// produced.
type Element interface {
	ReadFrom(r *payload.Reader) error
	WriteTo(w *payload.Writer)
}

// Container groups a fixed run of elements. Element ids are consecutive,
// starting at the first element id the authority chose for the container.
type Container interface {
	CreateElements() []Element
}

// CustomCreateData is implemented by containers that carry a payload of
// their own; it is read before the container's elements are registered.
type CustomCreateData interface {
	ReadCustomData(r *payload.Reader) error
	WriteCustomData(w *payload.Writer)
}

// Factory makes a blank container of one type.
type Factory func() Container
