package command

import (
	"testing"

	"github.com/drpcorg/mirror/mirror_errors"
	"github.com/drpcorg/mirror/payload"
	"github.com/drpcorg/mirror/protocol"
	"github.com/drpcorg/mirror/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchCodec(t *testing.T) {
	batch := Batch{
		Reset{},
		Create{
			Containers: []ContainerInfo{
				{Type: 3, ID: 1, Start: 10},
				{Type: 4, ID: 2, Start: 12},
			},
			ContainerPayload: []byte("name"),
			ElementPayload:   []byte{1, 2, 3, 4, 5},
		},
		Update{IDs: []state.ElementID{13, 11}, ElementPayload: []byte{9, 9}},
		Delete{IDs: []state.ContainerID{2}},
		ConsistencyCheck{state.Digest{ContainerCount: 1, MinContainerID: 1, MaxContainerID: 1, ElementCount: 2, MinElementID: 10, MaxElementID: 11}},
		End{},
	}

	rec := EncodeBatch(batch)
	assert.Equal(t, byte(BatchLit), protocol.Lit(rec))

	decoded, err := DecodeBatch(rec)
	require.NoError(t, err)
	require.Len(t, decoded, len(batch))
	assert.Equal(t, batch, decoded)
}

func TestDecodeSingle(t *testing.T) {
	cmd, err := Decode(Encode(Delete{IDs: []state.ContainerID{7, 300000}}))
	require.NoError(t, err)
	assert.Equal(t, Delete{IDs: []state.ContainerID{7, 300000}}, cmd)
	assert.Equal(t, KindDelete, cmd.Kind())
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode(protocol.Record('Z', []byte("?")))
	assert.ErrorIs(t, err, mirror_errors.ErrBadCommand)

	_, err = Decode(protocol.Record('R', []byte("x")))
	assert.ErrorIs(t, err, mirror_errors.ErrBadCommand)

	_, err = Decode(protocol.Record('U', protocol.Record('I', []byte{5})))
	assert.ErrorIs(t, err, mirror_errors.ErrBadCommand)

	// ids past 32 bits must not wrap onto live ids
	var w payload.Writer
	w.WriteUvarint(1)
	w.WriteUvarint(1<<32 + 11)
	_, err = Decode(protocol.Record('U', protocol.Record('I', w.Bytes()), protocol.Record('V')))
	assert.ErrorIs(t, err, mirror_errors.ErrBadCommand)

	_, err = Decode(protocol.Record('D', w.Bytes()))
	assert.ErrorIs(t, err, mirror_errors.ErrBadCommand)

	var cw payload.Writer
	cw.WriteUvarint(1)
	cw.WriteUvarint(3)
	cw.WriteUvarint(1)
	cw.WriteUvarint(1 << 32)
	_, err = Decode(protocol.Record('C', protocol.Record('I', cw.Bytes()), protocol.Record('P'), protocol.Record('V')))
	assert.ErrorIs(t, err, mirror_errors.ErrBadCommand)

	var kw payload.Writer
	for _, v := range []uint64{1, 1, 1, 1<<33 + 2, 10, 11} {
		kw.WriteUvarint(v)
	}
	_, err = Decode(protocol.Record('K', kw.Bytes()))
	assert.ErrorIs(t, err, mirror_errors.ErrBadCommand)

	rec := EncodeBatch(Batch{Reset{}})
	_, err = DecodeBatch(rec[:len(rec)-1])
	assert.ErrorIs(t, err, mirror_errors.ErrBadCommand)

	_, err = DecodeBatch(append(rec, 'x'))
	assert.ErrorIs(t, err, mirror_errors.ErrBadCommand)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "create", KindCreate.String())
	assert.Equal(t, "unknown", Kind('?').String())
}
