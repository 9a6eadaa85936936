package kms

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildInFormats assembles a struct drm_format_modifier_blob with the given
// formats and (mask, offset, modifier) records.
func buildInFormats(formats []uint32, mods [][3]uint64) []byte {
	le := binary.LittleEndian
	const headerLen = 24
	formatsOffset := uint32(headerLen)
	modifiersOffset := formatsOffset + uint32(len(formats))*4

	buf := make([]byte, int(modifiersOffset)+len(mods)*24)
	le.PutUint32(buf[0:], 1) // version
	le.PutUint32(buf[8:], uint32(len(formats)))
	le.PutUint32(buf[12:], formatsOffset)
	le.PutUint32(buf[16:], uint32(len(mods)))
	le.PutUint32(buf[20:], modifiersOffset)

	for i, f := range formats {
		le.PutUint32(buf[formatsOffset+uint32(i)*4:], f)
	}
	for i, m := range mods {
		rec := buf[modifiersOffset+uint32(i)*24:]
		le.PutUint64(rec, m[0])          // format mask
		le.PutUint32(rec[8:], uint32(m[1])) // offset
		le.PutUint64(rec[16:], m[2])     // modifier
	}
	return buf
}

func TestParseInFormats(t *testing.T) {
	const (
		xr24 = 0x34325258
		ar24 = 0x34325241
	)
	const tiled = uint64(0x0100000000000001)

	blob := buildInFormats(
		[]uint32{xr24, ar24},
		[][3]uint64{
			{0b11, 0, 0},     // linear for both formats
			{0b01, 0, tiled}, // tiled only for xr24
		},
	)

	out, err := ParseInFormats(blob)
	require.NoError(t, err)
	require.Equal(t, []uint64{0, tiled}, out[xr24])
	require.Equal(t, []uint64{0}, out[ar24])
}

func TestParseInFormatsTruncated(t *testing.T) {
	_, err := ParseInFormats(make([]byte, 10))
	require.Error(t, err)

	blob := buildInFormats([]uint32{1}, [][3]uint64{{1, 0, 0}})
	_, err = ParseInFormats(blob[:len(blob)-4])
	require.Error(t, err)
}

func TestParseInFormatsOutOfRangeBitIgnored(t *testing.T) {
	// A mask bit pointing past the format list must not crash or invent
	// formats.
	blob := buildInFormats([]uint32{42}, [][3]uint64{{0b10, 0, 7}})
	out, err := ParseInFormats(blob)
	require.NoError(t, err)
	require.Empty(t, out[uint32(42)])
}
