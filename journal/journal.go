// Package journal keeps the batches a mirror received, in arrival order,
// in a pebble database. Replaying the journal into an empty mirror
// rebuilds its state without asking the authority for a snapshot.
package journal

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/drpcorg/mirror/mirror_errors"
	"github.com/drpcorg/mirror/utils"
	"github.com/pkg/errors"
)

const keyLit = 'B'

const keyLen = 1 + 8

type Options struct {
	Dir string
	// FS overrides the filesystem, vfs.NewMem() in tests.
	FS     vfs.FS
	Sync   bool
	Logger utils.Logger
}

type Journal struct {
	db    *pebble.DB
	wo    *pebble.WriteOptions
	log   utils.Logger
	first uint64
	last  uint64
	lock  sync.Mutex
}

func key(seq uint64) []byte {
	var k [keyLen]byte
	k[0] = keyLit
	binary.BigEndian.PutUint64(k[1:], seq)
	return k[:]
}

func keySeq(k []byte) (uint64, bool) {
	if len(k) != keyLen || k[0] != keyLit {
		return 0, false
	}
	return binary.BigEndian.Uint64(k[1:]), true
}

func Open(opts Options) (*Journal, error) {
	po := &pebble.Options{FS: opts.FS}
	db, err := pebble.Open(opts.Dir, po)
	if err != nil {
		return nil, errors.Wrapf(err, "journal: open %s", opts.Dir)
	}
	j := &Journal{db: db, log: opts.Logger, wo: pebble.NoSync}
	if opts.Sync {
		j.wo = pebble.Sync
	}
	if j.log == nil {
		j.log = utils.NewNopLogger()
	}
	if err := j.loadBounds(); err != nil {
		_ = db.Close()
		return nil, err
	}
	j.log.Debug("journal: opened", "dir", opts.Dir, "first", j.first, "last", j.last)
	return j, nil
}

func (j *Journal) iter() (*pebble.Iterator, error) {
	it, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{keyLit},
		UpperBound: []byte{keyLit + 1},
	})
	return it, errors.Wrap(err, "journal: iterator")
}

func (j *Journal) loadBounds() error {
	it, err := j.iter()
	if err != nil {
		return err
	}
	defer it.Close()
	if it.First() {
		j.first, _ = keySeq(it.Key())
	}
	if it.Last() {
		j.last, _ = keySeq(it.Key())
	}
	return it.Error()
}

// Append stores a batch record under the next sequence number.
func (j *Journal) Append(rec []byte) (uint64, error) {
	j.lock.Lock()
	defer j.lock.Unlock()
	if j.db == nil {
		return 0, mirror_errors.ErrClosed
	}
	seq := j.last + 1
	if err := j.db.Set(key(seq), rec, j.wo); err != nil {
		return 0, errors.Wrapf(err, "journal: append %d", seq)
	}
	j.last = seq
	if j.first == 0 {
		j.first = seq
	}
	return seq, nil
}

// Bounds returns the first and the last stored sequence numbers, zeros
// for an empty journal.
func (j *Journal) Bounds() (first, last uint64) {
	j.lock.Lock()
	defer j.lock.Unlock()
	if j.first > j.last {
		return 0, 0
	}
	return j.first, j.last
}

// Replay feeds stored records to fn in sequence order, starting at from.
func (j *Journal) Replay(ctx context.Context, from uint64, fn func(seq uint64, rec []byte) error) error {
	j.lock.Lock()
	if j.db == nil {
		j.lock.Unlock()
		return mirror_errors.ErrClosed
	}
	snap := j.db.NewSnapshot()
	j.lock.Unlock()
	defer snap.Close()

	it, err := snap.NewIter(&pebble.IterOptions{
		LowerBound: key(from),
		UpperBound: []byte{keyLit + 1},
	})
	if err != nil {
		return errors.Wrap(err, "journal: iterator")
	}
	defer it.Close()
	for ok := it.First(); ok; ok = it.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		seq, valid := keySeq(it.Key())
		if !valid {
			continue
		}
		rec := make([]byte, len(it.Value()))
		copy(rec, it.Value())
		if err := fn(seq, rec); err != nil {
			return err
		}
	}
	return it.Error()
}

// TruncateBefore drops every record older than seq, e.g. once a full
// snapshot made them irrelevant.
func (j *Journal) TruncateBefore(seq uint64) error {
	j.lock.Lock()
	defer j.lock.Unlock()
	if j.db == nil {
		return mirror_errors.ErrClosed
	}
	if seq <= j.first {
		return nil
	}
	if err := j.db.DeleteRange(key(0), key(seq), j.wo); err != nil {
		return errors.Wrapf(err, "journal: truncate before %d", seq)
	}
	j.log.Debug("journal: truncated", "from", j.first, "to", seq)
	j.first = seq
	return nil
}

// Metrics is nil once the journal is closed.
func (j *Journal) Metrics() *pebble.Metrics {
	j.lock.Lock()
	defer j.lock.Unlock()
	if j.db == nil {
		return nil
	}
	return j.db.Metrics()
}

func (j *Journal) Close() error {
	j.lock.Lock()
	defer j.lock.Unlock()
	if j.db == nil {
		return mirror_errors.ErrClosed
	}
	err := j.db.Close()
	j.db = nil
	return errors.Wrap(err, "journal: close")
}
