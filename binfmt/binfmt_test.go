package binfmt_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/surrealdb/mtreeidx/binfmt"
)

func TestRoundTripScalars(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binfmt.WriteByte(&buf, 0x42))
	require.NoError(t, binfmt.WriteUint16(&buf, 1234))
	require.NoError(t, binfmt.WriteUint32(&buf, 123456789))
	require.NoError(t, binfmt.WriteUint64(&buf, 0xdeadbeefcafe))
	require.NoError(t, binfmt.WriteFloat64(&buf, 3.14159))

	b, err := binfmt.ReadByte(&buf)
	require.NoError(t, err)
	require.EqualValues(t, 0x42, b)

	u16, err := binfmt.ReadUint16(&buf)
	require.NoError(t, err)
	require.EqualValues(t, 1234, u16)

	u32, err := binfmt.ReadUint32(&buf)
	require.NoError(t, err)
	require.EqualValues(t, 123456789, u32)

	u64, err := binfmt.ReadUint64(&buf)
	require.NoError(t, err)
	require.EqualValues(t, 0xdeadbeefcafe, u64)

	f, err := binfmt.ReadFloat64(&buf)
	require.NoError(t, err)
	require.InDelta(t, 3.14159, f, 1e-12)
}

func TestRoundTripBytes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binfmt.WriteBytes16(&buf, []byte("hello")))
	require.NoError(t, binfmt.WriteBytes32(&buf, bytes.Repeat([]byte{7}, 70000)))

	got16, err := binfmt.ReadBytes16(&buf)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got16)

	got32, err := binfmt.ReadBytes32(&buf)
	require.NoError(t, err)
	require.Len(t, got32, 70000)
}

func TestReadEmptyBytes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, binfmt.WriteBytes16(&buf, nil))
	got, err := binfmt.ReadBytes16(&buf)
	require.NoError(t, err)
	require.Empty(t, got)
}
