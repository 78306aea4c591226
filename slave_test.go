package mirror

import (
	"context"
	"testing"

	"github.com/drpcorg/mirror/command"
	"github.com/drpcorg/mirror/elements"
	"github.com/drpcorg/mirror/mirror_errors"
	"github.com/drpcorg/mirror/payload"
	"github.com/drpcorg/mirror/state"
	testutils "github.com/drpcorg/mirror/test_utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	pairType   state.TypeTag = 1
	tripleType state.TypeTag = 2
)

type fixture struct {
	slave    *Slave
	observer *testutils.RecordingObserver
	failures []*ConsistencyError
}

func newFixture(t *testing.T) *fixture {
	reg := NewRegistry()
	require.NoError(t, reg.Register(pairType, "pair", elements.PlainFactory(elements.KindInt, elements.KindInt)))
	require.NoError(t, reg.Register(tripleType, "triple", elements.PlainFactory(elements.KindInt, elements.KindInt, elements.KindInt)))
	f := &fixture{observer: &testutils.RecordingObserver{}}
	f.slave = NewSlave(reg, SlaveOptions{
		Observer: f.observer,
		OnConsistencyFailure: func(_ context.Context, err *ConsistencyError) {
			f.failures = append(f.failures, err)
		},
	})
	return f
}

func (f *fixture) run(cmds ...command.Command) error {
	return f.slave.Interpret(context.Background(), command.Batch(cmds))
}

func ints(vals ...int64) []byte {
	var w payload.Writer
	for _, v := range vals {
		w.WriteVarint(v)
	}
	return w.Bytes()
}

// containers {1:{10,11}, 2:{12,13,14}}
func createBase() command.Create {
	return command.Create{
		Containers: []command.ContainerInfo{
			{Type: pairType, ID: 1, Start: 10},
			{Type: tripleType, ID: 2, Start: 12},
		},
		ElementPayload: ints(100, 110, 120, 130, 140),
	}
}

func (f *fixture) value(t *testing.T, eid state.ElementID) int64 {
	var v int64
	f.slave.View(func(s *Store) {
		e, ok := s.Element(eid)
		require.True(t, ok, "element %d", eid)
		v = e.(*elements.Int).Value
	})
	return v
}

func (f *fixture) fingerprint() (fp uint64) {
	f.slave.View(func(s *Store) { fp = s.Fingerprint() })
	return
}

func (f *fixture) digest() (d state.Digest) {
	f.slave.View(func(s *Store) { d = s.Digest() })
	return
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(createBase()))

	for eid, want := range map[state.ElementID]int64{10: 100, 11: 110, 12: 120, 13: 130, 14: 140} {
		assert.Equal(t, want, f.value(t, eid))
	}
	f.slave.View(func(s *Store) {
		assert.Equal(t, []state.ElementID{12, 13, 14}, s.ElementsOf(2))
		cid, ok := s.ContainerOf(11)
		assert.True(t, ok)
		assert.Equal(t, state.ContainerID(1), cid)
	})
	assert.Equal(t, []string{
		"batch-started",
		"structure",
		"container 1", "element 1 10", "element 1 11",
		"container 2", "element 2 12", "element 2 13", "element 2 14",
		"data",
		"batch-finished",
	}, f.observer.Events())
}

func TestConsistencyCheck(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(createBase()))

	good := state.Digest{
		ContainerCount: 2, MinContainerID: 1, MaxContainerID: 2,
		ElementCount: 5, MinElementID: 10, MaxElementID: 14,
	}
	require.NoError(t, f.run(command.ConsistencyCheck{Digest: good}))
	assert.Empty(t, f.failures)

	mutations := map[string]func(d *state.Digest, delta int){
		"containerCount": func(d *state.Digest, delta int) { d.ContainerCount += uint32(delta) },
		"minContainerId": func(d *state.Digest, delta int) { d.MinContainerID += state.ContainerID(delta) },
		"maxContainerId": func(d *state.Digest, delta int) { d.MaxContainerID += state.ContainerID(delta) },
		"elementCount":   func(d *state.Digest, delta int) { d.ElementCount += uint32(delta) },
		"minElementId":   func(d *state.Digest, delta int) { d.MinElementID += state.ElementID(delta) },
		"maxElementId":   func(d *state.Digest, delta int) { d.MaxElementID += state.ElementID(delta) },
	}
	for name, mutate := range mutations {
		for _, delta := range []int{1, -1} {
			t.Run(name, func(t *testing.T) {
				f.failures = nil
				d := good
				mutate(&d, delta)
				err := f.run(command.ConsistencyCheck{Digest: d})
				assert.ErrorIs(t, err, mirror_errors.ErrConsistency)
				assert.ErrorIs(t, err, mirror_errors.ErrDigestMismatch)
				assert.ErrorContains(t, err, name)
				require.Len(t, f.failures, 1)
				assert.Equal(t, command.KindCheck, f.failures[0].Kind)
			})
		}
	}
}

func TestUpdateNotifications(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(createBase()))
	f.observer.Reset()

	// listed out of order, decoded in ascending order
	require.NoError(t, f.run(command.Update{IDs: []state.ElementID{13, 11}, ElementPayload: ints(-11, -13)}))
	assert.Equal(t, int64(-11), f.value(t, 11))
	assert.Equal(t, int64(-13), f.value(t, 13))

	assert.Equal(t, 2, f.observer.Count("container "))
	assert.Equal(t, 2, f.observer.Count("element "))
	assert.Equal(t, 1, f.observer.Count("data"))
	assert.Equal(t, 0, f.observer.Count("structure"))
	assert.Equal(t, []string{
		"batch-started",
		"container 1", "element 1 11",
		"container 2", "element 2 13",
		"data",
		"batch-finished",
	}, f.observer.Events())
}

func TestUpdateSameValueStillReported(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(createBase()))
	f.observer.Reset()

	require.NoError(t, f.run(command.Update{IDs: []state.ElementID{10}, ElementPayload: ints(100)}))
	assert.Equal(t, 1, f.observer.Count("element 1 10"))
}

func TestDuplicateUpdateIDs(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(createBase()))
	f.observer.Reset()

	require.NoError(t, f.run(command.Update{IDs: []state.ElementID{12, 12}, ElementPayload: ints(7)}))
	assert.Equal(t, int64(7), f.value(t, 12))
	assert.Equal(t, 1, f.observer.Count("element "))
}

func TestEndTruncatesBatch(t *testing.T) {
	f := newFixture(t)
	err := f.run(
		command.Create{
			Containers:     []command.ContainerInfo{{Type: pairType, ID: 1, Start: 10}},
			ElementPayload: ints(1, 2),
		},
		command.Update{IDs: []state.ElementID{10}, ElementPayload: ints(5)},
		command.End{},
		command.Delete{IDs: []state.ContainerID{1}},
		command.Create{
			Containers:     []command.ContainerInfo{{Type: pairType, ID: 2, Start: 20}},
			ElementPayload: ints(3, 4),
		},
	)
	require.NoError(t, err)
	assert.Empty(t, f.failures)
	assert.Equal(t, int64(5), f.value(t, 10))
	assert.Equal(t, state.Digest{
		ContainerCount: 1, MinContainerID: 1, MaxContainerID: 1,
		ElementCount: 2, MinElementID: 10, MaxElementID: 11,
	}, f.digest())
	assert.Equal(t, 0, f.observer.Count("container 2"))
}

func TestOrphanedUpdate(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(createBase()))
	before := f.fingerprint()
	f.observer.Reset()

	// 10 would decode first if the orphan were not caught up front
	err := f.run(
		command.Update{IDs: []state.ElementID{10, 99}, ElementPayload: ints(1, 2)},
		command.Delete{IDs: []state.ContainerID{1}},
	)
	var ce *ConsistencyError
	require.ErrorAs(t, err, &ce)
	assert.ErrorIs(t, err, mirror_errors.ErrOrphanedElement)
	assert.Equal(t, 0, ce.Index)
	assert.Equal(t, "Orphaned element 99", ce.Reason)
	require.Len(t, f.failures, 1)
	assert.Same(t, ce, f.failures[0])

	assert.Equal(t, before, f.fingerprint())
	assert.Equal(t, int64(100), f.value(t, 10))
	assert.Equal(t, []string{"batch-started", "batch-finished"}, f.observer.Events())
}

func TestCreateCollision(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(createBase()))
	before := f.fingerprint()

	err := f.run(command.Create{
		Containers:     []command.ContainerInfo{{Type: pairType, ID: 1, Start: 10}},
		ElementPayload: ints(-1, -2),
	})
	assert.ErrorIs(t, err, mirror_errors.ErrConsistency)
	assert.ErrorIs(t, err, mirror_errors.ErrContainerExists)
	assert.ErrorContains(t, err, "Container 1 already exists")
	assert.Equal(t, before, f.fingerprint())

	// fresh container id, element range overlapping container 2
	err = f.run(command.Create{
		Containers:     []command.ContainerInfo{{Type: pairType, ID: 3, Start: 14}},
		ElementPayload: ints(-1, -2),
	})
	assert.ErrorIs(t, err, mirror_errors.ErrElementExists)
	assert.Equal(t, before, f.fingerprint())
	assert.Len(t, f.failures, 2)
}

func TestCreateDeleteRoundTrip(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(createBase()))
	before := f.digest()

	require.NoError(t, f.run(command.Create{
		Containers: []command.ContainerInfo{
			{Type: tripleType, ID: 7, Start: 30},
			{Type: pairType, ID: 5, Start: 40},
		},
		ElementPayload: ints(1, 2, 3, 4, 5),
	}))
	assert.NotEqual(t, before, f.digest())
	require.NoError(t, f.run(command.Delete{IDs: []state.ContainerID{7, 5}}))
	assert.Equal(t, before, f.digest())

	f.slave.View(func(s *Store) {
		_, ok := s.ContainerOf(30)
		assert.False(t, ok)
		assert.Empty(t, s.ElementsOf(7))
	})
}

func TestDeleteUnknownIsNoop(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(createBase()))
	before := f.digest()
	require.NoError(t, f.run(command.Delete{IDs: []state.ContainerID{42}}))
	assert.Equal(t, before, f.digest())
}

func TestPayloadNotConsumed(t *testing.T) {
	f := newFixture(t)
	err := f.run(command.Create{
		Containers:     []command.ContainerInfo{{Type: pairType, ID: 1, Start: 10}},
		ElementPayload: ints(1, 2, 3),
	})
	assert.ErrorIs(t, err, mirror_errors.ErrPayloadNotConsumed)
	assert.ErrorContains(t, err, "Element payload not fully consumed")

	err = f.run(command.Update{IDs: []state.ElementID{10, 11}, ElementPayload: ints(1)})
	assert.ErrorIs(t, err, mirror_errors.ErrConsistency)
	assert.ErrorIs(t, err, payload.ErrShortRead)

	err = f.run(command.Create{
		Containers:       []command.ContainerInfo{{Type: pairType, ID: 2, Start: 20}},
		ContainerPayload: []byte{0},
		ElementPayload:   ints(1, 2),
	})
	assert.ErrorContains(t, err, "Container payload not fully consumed")
	assert.Len(t, f.failures, 3)
}

func TestFailureStopsBatchWithoutRollback(t *testing.T) {
	f := newFixture(t)
	err := f.run(
		createBase(),
		command.Update{IDs: []state.ElementID{10}, ElementPayload: ints(1)},
		command.ConsistencyCheck{},
		command.Delete{IDs: []state.ContainerID{1, 2}},
	)
	var ce *ConsistencyError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 2, ce.Index)
	assert.Equal(t, command.KindCheck, ce.Kind)

	assert.Equal(t, int64(1), f.value(t, 10))
	assert.Equal(t, uint32(2), f.digest().ContainerCount)
	events := f.observer.Events()
	assert.Equal(t, "batch-finished", events[len(events)-1])
	assert.Equal(t, 1, f.observer.Count("structure"))
	assert.Equal(t, 1, f.observer.Count("data"))
}

func TestResetClearsStore(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(createBase()))
	f.observer.Reset()

	require.NoError(t, f.run(command.Reset{}, command.ConsistencyCheck{}))
	assert.Equal(t, state.Digest{}, f.digest())
	assert.Equal(t, []string{"batch-started", "structure", "batch-finished"}, f.observer.Events())
}

func TestNotificationsSkipRemoved(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.run(createBase()))
	f.observer.Reset()

	require.NoError(t, f.run(
		command.Update{IDs: []state.ElementID{10, 12}, ElementPayload: ints(1, 2)},
		command.Delete{IDs: []state.ContainerID{1}},
	))
	assert.Equal(t, []string{
		"batch-started",
		"structure",
		"container 2", "element 2 12",
		"data",
		"batch-finished",
	}, f.observer.Events())
}

func TestIntegrationDefect(t *testing.T) {
	f := newFixture(t)
	err := f.run(command.Create{
		Containers: []command.ContainerInfo{{Type: 77, ID: 1, Start: 10}},
	})
	assert.ErrorIs(t, err, mirror_errors.ErrIntegration)
	assert.ErrorIs(t, err, mirror_errors.ErrUnknownContainerType)
	assert.NotErrorIs(t, err, mirror_errors.ErrConsistency)
	assert.Empty(t, f.failures)
	assert.Equal(t, []string{"batch-started", "batch-finished"}, f.observer.Events())
}

func TestAuthorityRoundTrip(t *testing.T) {
	auth := testutils.NewAuthority()
	auth.Define(10, "tank", elements.KindTank, elements.KindFlags16)
	auth.Define(11, "label", elements.KindString, elements.KindBool, elements.KindInt)

	newSlave := func() *Slave {
		reg := NewRegistry()
		require.NoError(t, auth.RegisterInto(reg.Register))
		return NewSlave(reg, SlaveOptions{})
	}
	live, late := newSlave(), newSlave()
	ctx := context.Background()

	a := auth.Create(10, "boiler")
	b := auth.Create(11, "sign")
	require.NoError(t, live.Interpret(ctx, auth.Flush()))

	auth.Modify(a, 0, func(e state.Element) { *e.(*elements.Tank) = elements.Tank{Fluid: "water", Amount: 500} })
	auth.Modify(b, 0, func(e state.Element) { e.(*elements.String).Value = "hello" })
	c := auth.Create(10, "spare")
	require.NoError(t, live.Interpret(ctx, auth.Flush()))

	auth.Delete(a)
	auth.Modify(c, 1, func(e state.Element) { e.(*elements.Flags).Set(9, true) })
	require.NoError(t, live.Interpret(ctx, auth.Flush()))

	require.NoError(t, late.Interpret(ctx, auth.Snapshot()))

	var liveFP, lateFP uint64
	live.View(func(s *Store) {
		liveFP = s.Fingerprint()
		assert.Equal(t, auth.Digest(), s.Digest())
	})
	late.View(func(s *Store) {
		lateFP = s.Fingerprint()
		container, ok := s.Container(b)
		require.True(t, ok)
		assert.Equal(t, "sign", container.(*elements.Group).Name)
	})
	assert.Equal(t, liveFP, lateFP)
}
