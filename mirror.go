package mirror

import (
	"context"
	"errors"
	"sync"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/drpcorg/mirror/command"
	"github.com/drpcorg/mirror/journal"
	"github.com/drpcorg/mirror/mirror_errors"
	"github.com/drpcorg/mirror/protocol"
	"github.com/drpcorg/mirror/utils"
	pkgerrors "github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const DefaultRecentLimit = 1024

type Options struct {
	// Name labels metrics and log lines.
	Name string
	// JournalDir enables the batch journal. With JournalFS set and no dir,
	// the journal lives in "journal" on that filesystem.
	JournalDir  string
	JournalFS   vfs.FS
	JournalSync bool
	// RecentLimit bounds the recent changes index, negative disables it.
	RecentLimit int

	Observer Observer
	// OnResync is called after a live batch failed its consistency checks,
	// typically to ask the authority for a snapshot. Batches replayed from
	// the journal never trigger it.
	OnResync FailureHook
	Logger   utils.Logger
}

func (o *Options) SetDefaults() {
	if o.Name == "" {
		o.Name = "mirror"
	}
	if o.JournalFS != nil && o.JournalDir == "" {
		o.JournalDir = "journal"
	}
	if o.RecentLimit == 0 {
		o.RecentLimit = DefaultRecentLimit
	}
	if o.Logger == nil {
		o.Logger = utils.NewNopLogger()
	}
}

// Mirror hosts a Slave: it takes TLV batch records from the network,
// journals them and applies them in arrival order.
type Mirror struct {
	opts     Options
	registry *Registry
	slave    *Slave
	journal  *journal.Journal
	recent   *RecentChanges
	log      utils.Logger

	lock   sync.Mutex
	closed bool
}

type replayKey struct{}

func Open(registry *Registry, opts Options) (*Mirror, error) {
	opts.SetDefaults()
	m := &Mirror{
		opts:     opts,
		registry: registry,
		log:      opts.Logger,
	}
	var observers Observers
	if opts.Observer != nil {
		observers = append(observers, opts.Observer)
	}
	if opts.RecentLimit > 0 {
		recent, err := NewRecentChanges(opts.RecentLimit)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "recent changes")
		}
		m.recent = recent
		observers = append(observers, recent)
	}
	m.slave = NewSlave(registry, SlaveOptions{
		Observer:             observers,
		OnConsistencyFailure: m.resync,
		Logger:               opts.Logger,
	})
	if opts.JournalDir != "" {
		j, err := journal.Open(journal.Options{
			Dir:    opts.JournalDir,
			FS:     opts.JournalFS,
			Sync:   opts.JournalSync,
			Logger: opts.Logger,
		})
		if err != nil {
			return nil, err
		}
		m.journal = j
	}
	m.log.Info("mirror: opened", "name", opts.Name, "journal", opts.JournalDir, "types", len(registry.Tags()))
	return m, nil
}

func (m *Mirror) resync(ctx context.Context, ce *ConsistencyError) {
	if ctx.Value(replayKey{}) != nil {
		return
	}
	ResyncCount.Inc()
	if m.opts.OnResync != nil {
		m.opts.OnResync(ctx, ce)
	}
}

// Drain applies batch records. Batches failing their consistency checks
// are reported through OnResync and do not stop the drain; malformed
// batches are treated the same way. Resync requests are ignored, any
// other record type is an error.
func (m *Mirror) Drain(ctx context.Context, recs protocol.Records) error {
	for _, rec := range recs {
		switch lit := protocol.Lit(rec); lit {
		case command.BatchLit:
			if err := m.drainBatch(ctx, rec); err != nil && !errors.Is(err, mirror_errors.ErrConsistency) {
				return err
			}
		case command.ResyncLit:
			m.log.DebugCtx(ctx, "mirror: resync request ignored")
		default:
			return pkgerrors.Wrapf(mirror_errors.ErrBadCommand, "unexpected record %q", lit)
		}
	}
	return nil
}

// Apply journals and interprets one batch, returning the slave's verdict.
func (m *Mirror) Apply(ctx context.Context, batch command.Batch) error {
	return m.drainBatch(ctx, command.EncodeBatch(batch))
}

func (m *Mirror) drainBatch(ctx context.Context, rec []byte) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.closed {
		return mirror_errors.ErrClosed
	}
	batch, err := command.DecodeBatch(rec)
	if err != nil {
		ce := &ConsistencyError{Index: len(batch), Reason: err.Error(), Err: err}
		m.slave.reject(ctx, ce)
		return ce
	}
	var seq uint64
	if m.journal != nil {
		if seq, err = m.journal.Append(rec); err != nil {
			return err
		}
	}
	err = m.slave.Interpret(ctx, batch)
	if m.journal != nil && len(batch) > 0 && batch[0].Kind() == command.KindReset {
		// nothing before a leading reset is needed to rebuild the state
		if terr := m.journal.TruncateBefore(seq); terr != nil {
			m.log.WarnCtx(ctx, "mirror: journal truncation failed", "seq", seq, "err", terr)
		}
	}
	return err
}

// Replay rebuilds the store from the journal. It is meant for a freshly
// opened mirror, before any live batch arrives. Batches that failed live
// fail the same way again and are skipped.
func (m *Mirror) Replay(ctx context.Context) (batches int, err error) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.closed {
		return 0, mirror_errors.ErrClosed
	}
	if m.journal == nil {
		return 0, nil
	}
	rctx := context.WithValue(ctx, replayKey{}, true)
	err = m.journal.Replay(ctx, 0, func(seq uint64, rec []byte) error {
		batch, err := command.DecodeBatch(rec)
		if err != nil {
			return pkgerrors.Wrapf(err, "journal record %d", seq)
		}
		batches++
		bctx := utils.WithDefaultArgs(rctx, "seq", seq)
		err = m.slave.Interpret(bctx, batch)
		switch {
		case err == nil, errors.Is(err, mirror_errors.ErrConsistency):
			return nil
		case errors.Is(err, mirror_errors.ErrIntegration):
			m.log.WarnCtx(bctx, "mirror: journaled batch skipped", "err", err)
			return nil
		}
		return pkgerrors.Wrapf(err, "journal record %d", seq)
	})
	m.log.InfoCtx(ctx, "mirror: journal replayed", "batches", batches, "err", err)
	return batches, err
}

// View gives read access to the store between batches.
func (m *Mirror) View(fn func(store *Store)) {
	m.slave.View(fn)
}

func (m *Mirror) Registry() *Registry {
	return m.registry
}

// Recent is nil when the recent changes index is disabled.
func (m *Mirror) Recent() *RecentChanges {
	return m.recent
}

// Collectors returns the per-mirror prometheus collectors. The package
// level vectors are registered separately.
func (m *Mirror) Collectors() []prometheus.Collector {
	cs := []prometheus.Collector{NewStoreCollector(m.slave, m.opts.Name)}
	if m.journal != nil {
		cs = append(cs, journal.NewCollector(m.journal))
	}
	return cs
}

func (m *Mirror) Close() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.closed {
		return mirror_errors.ErrClosed
	}
	m.closed = true
	m.log.Info("mirror: closed", "name", m.opts.Name)
	if m.journal != nil {
		return m.journal.Close()
	}
	return nil
}
