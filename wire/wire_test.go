package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, b []byte) (Header, []byte) {
	t.Helper()
	hdr, rest, err := DecodeHeader(b)
	require.NoError(t, err)
	return hdr, rest
}

func TestDataFrameRoundTrip(t *testing.T) {
	sealed := []byte("ciphertext-and-tag-and-nonce")
	b := EncodeData(1, 2, false, 7, 42, 1024, sealed)
	hdr, rest := decode(t, b)
	require.Equal(t, TypeData, hdr.Type)
	require.Equal(t, uint32(1), hdr.SrcConnID)
	require.Equal(t, uint32(2), hdr.DstConnID)

	df, err := DecodeData(hdr, rest)
	require.NoError(t, err)
	require.False(t, df.Fin())
	require.Equal(t, uint16(7), df.StreamID)
	require.Equal(t, uint64(42), df.PacketNumber)
	require.Equal(t, uint64(1024), df.Offset)
	require.Equal(t, sealed, df.Sealed)
}

func TestDataFinFrameRoundTrip(t *testing.T) {
	b := EncodeData(1, 2, true, 7, 42, 1024, []byte{0x01, 0x02})
	hdr, rest := decode(t, b)
	df, err := DecodeData(hdr, rest)
	require.NoError(t, err)
	require.True(t, df.Fin())
}

func TestDataFrameTruncatedIsMalformed(t *testing.T) {
	b := EncodeData(1, 2, false, 7, 42, 1024, []byte{0x01, 0x02, 0x03})
	hdr, rest := decode(t, b)
	_, err := DecodeData(hdr, rest[:len(rest)-1])
	require.ErrorIs(t, err, ErrMalformed)
}

func TestAckFrameRoundTrip(t *testing.T) {
	ranges := []uint64{5, 2, 10, 1}
	b := EncodeAck(9, 4, 100, ranges)
	hdr, rest := decode(t, b)
	require.Equal(t, TypeAck, hdr.Type)

	af, err := DecodeAck(hdr, rest)
	require.NoError(t, err)
	require.Equal(t, uint64(100), af.Largest)
	require.Equal(t, ranges, af.Ranges)
}

func TestAckFrameEmptyRanges(t *testing.T) {
	b := EncodeAck(9, 4, 0, nil)
	hdr, rest := decode(t, b)
	af, err := DecodeAck(hdr, rest)
	require.NoError(t, err)
	require.Empty(t, af.Ranges)
}

func TestSealedFrameRoundTrip(t *testing.T) {
	sealed := []byte("x25519-ephemeral-pubkey-and-box")
	b := EncodeDial(11, 0, sealed)
	hdr, rest := decode(t, b)
	require.Equal(t, TypeDial, hdr.Type)
	sf, err := DecodeSealed(hdr, rest)
	require.NoError(t, err)
	require.Equal(t, sealed, sf.Sealed)

	b2 := EncodeDialConf(11, 22, sealed)
	hdr2, rest2 := decode(t, b2)
	require.Equal(t, TypeDialConf, hdr2.Type)
	sf2, err := DecodeSealed(hdr2, rest2)
	require.NoError(t, err)
	require.Equal(t, sealed, sf2.Sealed)
}

func TestEmptyFrames(t *testing.T) {
	for _, typ := range []Type{TypeConf, TypeRst, TypeCloseConf} {
		b := EncodeEmpty(typ, 1, 2)
		hdr, rest := decode(t, b)
		require.Equal(t, typ, hdr.Type)
		require.Empty(t, rest)
	}
}

func TestSkipAndFlushStreamRoundTrip(t *testing.T) {
	b := EncodeSkipStream(1, 2, 3, 4096)
	hdr, rest := decode(t, b)
	require.Equal(t, TypeSkipStream, hdr.Type)
	sf, err := DecodeStreamOffset(hdr, rest)
	require.NoError(t, err)
	require.Equal(t, uint16(3), sf.StreamID)
	require.Equal(t, uint64(4096), sf.Offset)

	b2 := EncodeFlushStream(1, 2, 3, 8192)
	hdr2, rest2 := decode(t, b2)
	require.Equal(t, TypeFlushStream, hdr2.Type)
	ff, err := DecodeStreamOffset(hdr2, rest2)
	require.NoError(t, err)
	require.Equal(t, uint64(8192), ff.Offset)
}

func TestFlushConfRoundTrip(t *testing.T) {
	b := EncodeFlushConf(1, 2, 9)
	hdr, rest := decode(t, b)
	sf, err := DecodeStream(hdr, rest)
	require.NoError(t, err)
	require.Equal(t, uint16(9), sf.StreamID)
}

func TestCloseRoundTrip(t *testing.T) {
	b := EncodeClose(1, 2, 7)
	hdr, rest := decode(t, b)
	cf, err := DecodeClose(hdr, rest)
	require.NoError(t, err)
	require.Equal(t, uint16(7), cf.Reason)
}

func TestDecodeHeaderRejectsShortBuffer(t *testing.T) {
	_, _, err := DecodeHeader([]byte{0, 0, 0})
	require.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeHeaderRejectsBadVersion(t *testing.T) {
	b := EncodeHeader(TypeConf, 1, 2, 0)
	b[0] = 1
	_, _, err := DecodeHeader(b)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestWrongTypeIsRejectedByEachDecoder(t *testing.T) {
	hdr, _ := decode(t, EncodeEmpty(TypeConf, 1, 2))
	_, err := DecodeData(hdr, nil)
	require.ErrorIs(t, err, ErrMalformed)
	_, err = DecodeAck(hdr, nil)
	require.ErrorIs(t, err, ErrMalformed)
	_, err = DecodeSealed(hdr, nil)
	require.Error(t, err) // DecodeSealed is type-checked too
	_, err = DecodeStreamOffset(hdr, nil)
	require.ErrorIs(t, err, ErrMalformed)
	_, err = DecodeStream(hdr, nil)
	require.ErrorIs(t, err, ErrMalformed)
	_, err = DecodeClose(hdr, nil)
	require.ErrorIs(t, err, ErrMalformed)
}
