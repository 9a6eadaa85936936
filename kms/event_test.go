package kms

import (
	"encoding/binary"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func flipEventBytes(userData uint64, sec, usec, seq, crtc uint32) []byte {
	le := binary.LittleEndian
	buf := make([]byte, 32)
	le.PutUint32(buf[0:], EventFlipComplete)
	le.PutUint32(buf[4:], 32)
	le.PutUint64(buf[8:], userData)
	le.PutUint32(buf[16:], sec)
	le.PutUint32(buf[20:], usec)
	le.PutUint32(buf[24:], seq)
	le.PutUint32(buf[28:], crtc)
	return buf
}

func TestReadEvents(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	payload := append(flipEventBytes(0xdead, 2, 500, 7, 41),
		flipEventBytes(0xbeef, 3, 0, 8, 42)...)
	_, err = w.Write(payload)
	require.NoError(t, err)

	events, err := ReadEvents(r)
	require.NoError(t, err)
	require.Len(t, events, 2)

	require.Equal(t, uint64(0xdead), events[0].UserData)
	require.Equal(t, CrtcID(41), events[0].Crtc)
	require.Equal(t, uint32(7), events[0].Sequence)
	require.Equal(t, 2*time.Second+500*time.Microsecond, events[0].Time)

	require.Equal(t, CrtcID(42), events[1].Crtc)
}

func TestReadEventsMalformed(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	// Claimed length runs past the buffered data.
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:], EventFlipComplete)
	binary.LittleEndian.PutUint32(buf[4:], 64)
	_, err = w.Write(buf)
	require.NoError(t, err)

	_, err = ReadEvents(r)
	require.Error(t, err)
}
