package command

import (
	"fmt"
	"math"

	"github.com/drpcorg/mirror/mirror_errors"
	"github.com/drpcorg/mirror/payload"
	"github.com/drpcorg/mirror/protocol"
	"github.com/drpcorg/mirror/state"
)

// BatchLit is the record type of a whole batch on the wire.
const BatchLit = 'B'

// ResyncLit is what a mirror sends upstream after a failed batch.
const ResyncLit = 'Q'

// Sub-records of Create and Update.
const (
	litInfo      = 'I'
	litContainer = 'P'
	litElements  = 'V'
)

// readUint32 reads a varint that has to fit an id, count or tag.
func readUint32(r *payload.Reader) (uint32, error) {
	v, err := r.ReadUvarint()
	if err != nil {
		return 0, err
	}
	if v > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %d exceeds 32 bits", payload.ErrOverflow, v)
	}
	return uint32(v), nil
}

func badCommand(format string, args ...any) error {
	return fmt.Errorf("%w: %s", mirror_errors.ErrBadCommand, fmt.Sprintf(format, args...))
}

// Encode renders one command as a TLV record.
func Encode(cmd Command) []byte {
	lit := byte(cmd.Kind())
	switch c := cmd.(type) {
	case Reset, End:
		return protocol.Record(lit)
	case ConsistencyCheck:
		var w payload.Writer
		w.WriteUvarint(uint64(c.ContainerCount))
		w.WriteUvarint(uint64(c.MinContainerID))
		w.WriteUvarint(uint64(c.MaxContainerID))
		w.WriteUvarint(uint64(c.ElementCount))
		w.WriteUvarint(uint64(c.MinElementID))
		w.WriteUvarint(uint64(c.MaxElementID))
		return protocol.Record(lit, w.Bytes())
	case Create:
		var w payload.Writer
		w.WriteUvarint(uint64(len(c.Containers)))
		for _, info := range c.Containers {
			w.WriteUvarint(uint64(info.Type))
			w.WriteUvarint(uint64(info.ID))
			w.WriteUvarint(uint64(info.Start))
		}
		return protocol.Record(lit,
			protocol.Record(litInfo, w.Bytes()),
			protocol.Record(litContainer, c.ContainerPayload),
			protocol.Record(litElements, c.ElementPayload),
		)
	case Delete:
		var w payload.Writer
		w.WriteUvarint(uint64(len(c.IDs)))
		for _, id := range c.IDs {
			w.WriteUvarint(uint64(id))
		}
		return protocol.Record(lit, w.Bytes())
	case Update:
		var w payload.Writer
		w.WriteUvarint(uint64(len(c.IDs)))
		for _, id := range c.IDs {
			w.WriteUvarint(uint64(id))
		}
		return protocol.Record(lit,
			protocol.Record(litInfo, w.Bytes()),
			protocol.Record(litElements, c.ElementPayload),
		)
	}
	panic(fmt.Sprintf("command: unknown kind %q", lit))
}

// EncodeBatch wraps a batch into a single B record.
func EncodeBatch(batch Batch) []byte {
	bmark, rec := protocol.OpenHeader(nil, BatchLit)
	for _, cmd := range batch {
		rec = append(rec, Encode(cmd)...)
	}
	protocol.CloseHeader(rec, bmark)
	return rec
}

// DecodeBatch parses a B record.
func DecodeBatch(rec []byte) (Batch, error) {
	body, rest, err := protocol.TakeWary(BatchLit, rec)
	if err != nil {
		return nil, badCommand("batch record: %v", err)
	}
	if len(rest) != 0 {
		return nil, badCommand("%d bytes after batch record", len(rest))
	}
	var batch Batch
	for len(body) > 0 {
		var lit byte
		var cbody []byte
		lit, cbody, body, err = protocol.TakeAnyWary(body)
		if err != nil {
			return batch, badCommand("command #%d: %v", len(batch), err)
		}
		cmd, err := decode(Kind(lit), cbody)
		if err != nil {
			return batch, err
		}
		batch = append(batch, cmd)
	}
	return batch, nil
}

// Decode parses a single command record.
func Decode(rec []byte) (Command, error) {
	lit, body, rest, err := protocol.TakeAnyWary(rec)
	if err != nil {
		return nil, badCommand("%v", err)
	}
	if len(rest) != 0 {
		return nil, badCommand("%d bytes after %c record", len(rest), lit)
	}
	return decode(Kind(lit), body)
}

func decode(kind Kind, body []byte) (Command, error) {
	switch kind {
	case KindReset, KindEnd:
		if len(body) != 0 {
			return nil, badCommand("%s carries %d bytes", kind, len(body))
		}
		if kind == KindReset {
			return Reset{}, nil
		}
		return End{}, nil
	case KindCheck:
		return decodeCheck(body)
	case KindCreate:
		return decodeCreate(body)
	case KindDelete:
		r := payload.NewReader(body)
		ids, err := readIDs(r)
		if err != nil {
			return nil, badCommand("delete: %v", err)
		}
		if r.Remaining() != 0 {
			return nil, badCommand("delete: %d trailing bytes", r.Remaining())
		}
		del := Delete{IDs: make([]state.ContainerID, len(ids))}
		for i, id := range ids {
			del.IDs[i] = state.ContainerID(id)
		}
		return del, nil
	case KindUpdate:
		return decodeUpdate(body)
	}
	return nil, badCommand("unknown command %q", byte(kind))
}

func decodeCheck(body []byte) (Command, error) {
	r := payload.NewReader(body)
	var vals [6]uint32
	for i := range vals {
		v, err := readUint32(r)
		if err != nil {
			return nil, badCommand("check field %d: %v", i, err)
		}
		vals[i] = v
	}
	if r.Remaining() != 0 {
		return nil, badCommand("check: %d trailing bytes", r.Remaining())
	}
	return ConsistencyCheck{state.Digest{
		ContainerCount: vals[0],
		MinContainerID: state.ContainerID(vals[1]),
		MaxContainerID: state.ContainerID(vals[2]),
		ElementCount:   vals[3],
		MinElementID:   state.ElementID(vals[4]),
		MaxElementID:   state.ElementID(vals[5]),
	}}, nil
}

func decodeCreate(body []byte) (Command, error) {
	info, rest, err := protocol.TakeWary(litInfo, body)
	if err != nil {
		return nil, badCommand("create info: %v", err)
	}
	var c Create
	r := payload.NewReader(info)
	n, err := r.ReadUvarint()
	if err != nil || n > uint64(r.Remaining()) {
		return nil, badCommand("create container count")
	}
	c.Containers = make([]ContainerInfo, 0, n)
	for i := uint64(0); i < n; i++ {
		var vals [3]uint32
		for j := range vals {
			if vals[j], err = readUint32(r); err != nil {
				return nil, badCommand("create descriptor %d: %v", i, err)
			}
		}
		c.Containers = append(c.Containers, ContainerInfo{
			Type:  state.TypeTag(vals[0]),
			ID:    state.ContainerID(vals[1]),
			Start: state.ElementID(vals[2]),
		})
	}
	if r.Remaining() != 0 {
		return nil, badCommand("create info: %d trailing bytes", r.Remaining())
	}
	if c.ContainerPayload, rest, err = protocol.TakeWary(litContainer, rest); err != nil {
		return nil, badCommand("create container payload: %v", err)
	}
	if c.ElementPayload, rest, err = protocol.TakeWary(litElements, rest); err != nil {
		return nil, badCommand("create element payload: %v", err)
	}
	if len(rest) != 0 {
		return nil, badCommand("create: %d trailing bytes", len(rest))
	}
	return c, nil
}

func decodeUpdate(body []byte) (Command, error) {
	info, rest, err := protocol.TakeWary(litInfo, body)
	if err != nil {
		return nil, badCommand("update ids: %v", err)
	}
	r := payload.NewReader(info)
	ids, err := readIDs(r)
	if err != nil {
		return nil, badCommand("update ids: %v", err)
	}
	if r.Remaining() != 0 {
		return nil, badCommand("update ids: %d trailing bytes", r.Remaining())
	}
	u := Update{IDs: make([]state.ElementID, len(ids))}
	for i, id := range ids {
		u.IDs[i] = state.ElementID(id)
	}
	if u.ElementPayload, rest, err = protocol.TakeWary(litElements, rest); err != nil {
		return nil, badCommand("update payload: %v", err)
	}
	if len(rest) != 0 {
		return nil, badCommand("update: %d trailing bytes", len(rest))
	}
	return u, nil
}

func readIDs(r *payload.Reader) ([]uint32, error) {
	n, err := r.ReadUvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(r.Remaining()) {
		return nil, payload.ErrTooLong
	}
	ids := make([]uint32, 0, n)
	for i := uint64(0); i < n; i++ {
		id, err := readUint32(r)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ResyncRequest is the record a mirror sends after a consistency failure.
func ResyncRequest(reason string) []byte {
	return protocol.Record(ResyncLit, []byte(reason))
}
