package state

import (
	"fmt"
	"strings"
)

// Digest summarises a store by size and id bounds. Bounds of an empty set
// are zero.
type Digest struct {
	ContainerCount uint32
	MinContainerID ContainerID
	MaxContainerID ContainerID
	ElementCount   uint32
	MinElementID   ElementID
	MaxElementID   ElementID
}

func (d Digest) String() string {
	return fmt.Sprintf("containers %d [%d..%d] elements %d [%d..%d]",
		d.ContainerCount, d.MinContainerID, d.MaxContainerID,
		d.ElementCount, d.MinElementID, d.MaxElementID)
}

// Mismatch names the fields where have differs from want, or returns "".
func (d Digest) Mismatch(want Digest) string {
	var diff []string
	add := func(name string, have, want uint32) {
		if have != want {
			diff = append(diff, fmt.Sprintf("%s %d!=%d", name, have, want))
		}
	}
	add("containerCount", d.ContainerCount, want.ContainerCount)
	add("minContainerId", uint32(d.MinContainerID), uint32(want.MinContainerID))
	add("maxContainerId", uint32(d.MaxContainerID), uint32(want.MaxContainerID))
	add("elementCount", d.ElementCount, want.ElementCount)
	add("minElementId", uint32(d.MinElementID), uint32(want.MinElementID))
	add("maxElementId", uint32(d.MaxElementID), uint32(want.MaxElementID))
	return strings.Join(diff, ", ")
}
