package mirror

import (
	"testing"

	"github.com/drpcorg/mirror/elements"
	testutils "github.com/drpcorg/mirror/test_utils"
	"github.com/stretchr/testify/assert"
)

func TestObserversFanOut(t *testing.T) {
	a, b := &testutils.RecordingObserver{}, &testutils.RecordingObserver{}
	var obs Observer = Observers{a, NopObserver{}, b}

	g := elements.NewGroup(elements.KindInt)
	obs.BatchStarted()
	obs.StructureUpdated()
	obs.ContainerUpdated(1, g)
	obs.ElementUpdated(1, g, 10, &elements.Int{})
	obs.DataUpdated()
	obs.BatchFinished()

	want := []string{"batch-started", "structure", "container 1", "element 1 10", "data", "batch-finished"}
	assert.Equal(t, want, a.Events())
	assert.Equal(t, want, b.Events())
}
