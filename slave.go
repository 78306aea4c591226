package mirror

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/drpcorg/mirror/command"
	"github.com/drpcorg/mirror/mirror_errors"
	"github.com/drpcorg/mirror/payload"
	"github.com/drpcorg/mirror/state"
	"github.com/drpcorg/mirror/utils"
)

// ConsistencyError describes why a batch was abandoned. It matches
// mirror_errors.ErrConsistency as well as the specific cause.
type ConsistencyError struct {
	Index  int
	Kind   command.Kind
	Reason string
	Err    error
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency check failed at %s #%d: %s", e.Kind, e.Index, e.Reason)
}

func (e *ConsistencyError) Unwrap() []error {
	return []error{mirror_errors.ErrConsistency, e.Err}
}

func inconsistent(err error, format string, args ...any) *ConsistencyError {
	return &ConsistencyError{Reason: fmt.Sprintf(format, args...), Err: err}
}

// FailureHook is invoked once per failed batch, typically to ask the
// authority for a full snapshot.
type FailureHook func(ctx context.Context, err *ConsistencyError)

type SlaveOptions struct {
	Observer             Observer
	OnConsistencyFailure FailureHook
	Logger               utils.Logger
}

// Slave replays command batches from an authority onto its Store.
// Batches are applied one at a time; a batch is applied command by command
// and is not rolled back when a later command fails.
type Slave struct {
	registry  *Registry
	store     *Store
	observer  Observer
	onFailure FailureHook
	log       utils.Logger

	lock sync.Mutex
}

func NewSlave(registry *Registry, opts SlaveOptions) *Slave {
	s := &Slave{
		registry:  registry,
		store:     NewStore(),
		observer:  opts.Observer,
		onFailure: opts.OnConsistencyFailure,
		log:       opts.Logger,
	}
	if s.observer == nil {
		s.observer = NopObserver{}
	}
	if s.log == nil {
		s.log = utils.NewNopLogger()
	}
	return s
}

// View runs fn with the store locked against concurrent batches.
func (s *Slave) View(fn func(store *Store)) {
	s.lock.Lock()
	defer s.lock.Unlock()
	fn(s.store)
}

// batchRun is the bookkeeping of one Interpret call.
type batchRun struct {
	store     *Store
	registry  *Registry
	structure bool
	changed   map[state.ContainerID]map[state.ElementID]struct{}
}

func (run *batchRun) mark(cid state.ContainerID, ids ...state.ElementID) {
	set := run.changed[cid]
	if set == nil {
		set = make(map[state.ElementID]struct{}, len(ids))
		run.changed[cid] = set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
}

// Interpret applies one batch and reports the changes to the observer.
// A consistency failure fires the failure hook, skips the rest of the batch
// and is returned as *ConsistencyError. Integration defects are returned
// without firing the hook.
func (s *Slave) Interpret(ctx context.Context, batch command.Batch) (err error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	started := time.Now()
	run := &batchRun{
		store:    s.store,
		registry: s.registry,
		changed:  make(map[state.ContainerID]map[state.ElementID]struct{}),
	}

	s.observer.BatchStarted()
	defer s.observer.BatchFinished()

	applied := 0
loop:
	for i, cmd := range batch {
		CommandCount.WithLabelValues(cmd.Kind().String()).Inc()
		switch c := cmd.(type) {
		case command.End:
			s.log.DebugCtx(ctx, "slave: batch truncated", "at", i, "dropped", len(batch)-i-1)
			break loop
		case command.ConsistencyCheck:
			err = run.check(c)
		case command.Reset:
			run.reset()
		case command.Create:
			err = run.create(c)
		case command.Delete:
			run.delete(c)
		case command.Update:
			err = run.update(c)
		default:
			err = fmt.Errorf("%w: unexpected command %T", mirror_errors.ErrIntegration, cmd)
		}
		if err != nil {
			var ce *ConsistencyError
			if errors.As(err, &ce) {
				ce.Index, ce.Kind = i, cmd.Kind()
				s.fail(ctx, ce)
			} else {
				BatchCount.WithLabelValues(batchDefect).Inc()
				s.log.ErrorCtx(ctx, "slave: batch aborted", "at", i, "kind", cmd.Kind().String(), "err", err)
			}
			break
		}
		applied++
	}
	if err == nil {
		BatchCount.WithLabelValues(batchOK).Inc()
	}

	s.notify(run)
	BatchDuration.Observe(float64(time.Since(started).Microseconds()) / 1000)
	s.log.DebugCtx(ctx, "slave: batch applied", "commands", applied, "of", len(batch), "structure", run.structure, "containers", len(run.changed))
	return err
}

// reject reports a batch that never reached the interpreter, e.g. one that
// could not be decoded. Observers still see a started and finished batch.
func (s *Slave) reject(ctx context.Context, ce *ConsistencyError) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.observer.BatchStarted()
	defer s.observer.BatchFinished()
	s.fail(ctx, ce)
}

func (s *Slave) fail(ctx context.Context, ce *ConsistencyError) {
	BatchCount.WithLabelValues(batchInconsistent).Inc()
	ConsistencyFailures.WithLabelValues(ce.Kind.String()).Inc()
	s.log.WarnCtx(ctx, "slave: consistency check failed", "at", ce.Index, "kind", ce.Kind.String(), "reason", ce.Reason)
	if s.onFailure != nil {
		s.onFailure(ctx, ce)
	}
}

// notify reports what the batch changed. Containers and elements that did
// not survive until the end of the batch are skipped.
func (s *Slave) notify(run *batchRun) {
	if run.structure {
		s.observer.StructureUpdated()
	}
	for _, cid := range slices.Sorted(maps.Keys(run.changed)) {
		container, ok := s.store.Container(cid)
		if !ok {
			continue
		}
		s.observer.ContainerUpdated(cid, container)
		for _, eid := range slices.Sorted(maps.Keys(run.changed[cid])) {
			element, ok := s.store.Element(eid)
			if owner, mapped := s.store.ContainerOf(eid); !ok || !mapped || owner != cid {
				continue
			}
			s.observer.ElementUpdated(cid, container, eid, element)
		}
	}
	if len(run.changed) > 0 {
		s.observer.DataUpdated()
	}
}

func (run *batchRun) check(c command.ConsistencyCheck) error {
	have := run.store.Digest()
	if diff := have.Mismatch(c.Digest); diff != "" {
		return inconsistent(mirror_errors.ErrDigestMismatch, "Validation packet not matched: %s", diff)
	}
	return nil
}

func (run *batchRun) reset() {
	run.store.removeAll()
	run.structure = true
}

func (run *batchRun) delete(c command.Delete) {
	for _, id := range c.IDs {
		run.store.removeContainer(id)
	}
	run.structure = true
}

func (run *batchRun) create(c command.Create) error {
	var created []state.ElementID
	cr := payload.NewReader(c.ContainerPayload)
	for _, info := range c.Containers {
		container, err := run.registry.Create(info.Type)
		if err != nil {
			return err
		}
		if custom, ok := container.(state.CustomCreateData); ok {
			if err := custom.ReadCustomData(cr); err != nil {
				return inconsistent(err, "Container %d payload: %v", info.ID, err)
			}
		}
		ids, err := run.store.addContainer(info.ID, container, info.Start)
		if err != nil {
			return inconsistent(err, "%v", err)
		}
		run.structure = true
		run.mark(info.ID, ids...)
		created = append(created, ids...)
	}
	if cr.Remaining() != 0 {
		return inconsistent(mirror_errors.ErrPayloadNotConsumed, "Container payload not fully consumed")
	}
	slices.Sort(created)
	return run.readElements(created, c.ElementPayload)
}

func (run *batchRun) update(c command.Update) error {
	ids := slices.Clone(c.IDs)
	slices.Sort(ids)
	ids = slices.Compact(ids)
	owners := make([]state.ContainerID, len(ids))
	for i, id := range ids {
		cid, ok := run.store.ContainerOf(id)
		if !ok {
			return inconsistent(mirror_errors.ErrOrphanedElement, "Orphaned element %d", id)
		}
		owners[i] = cid
	}
	if err := run.readElements(ids, c.ElementPayload); err != nil {
		return err
	}
	for i, id := range ids {
		run.mark(owners[i], id)
	}
	return nil
}

// readElements decodes values for ids, which must be ascending, from one
// shared stream that has to be consumed to the last byte.
func (run *batchRun) readElements(ids []state.ElementID, data []byte) error {
	r := payload.NewReader(data)
	for _, id := range ids {
		element, ok := run.store.Element(id)
		if !ok {
			return inconsistent(mirror_errors.ErrElementNotFound, "Element %d not found", id)
		}
		if err := element.ReadFrom(r); err != nil {
			return inconsistent(err, "Element %d payload: %v", id, err)
		}
	}
	if r.Remaining() != 0 {
		return inconsistent(mirror_errors.ErrPayloadNotConsumed, "Element payload not fully consumed")
	}
	return nil
}
