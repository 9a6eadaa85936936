package kms

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Kernel event types (struct drm_event.type).
const (
	EventVBlank       = 0x01
	EventFlipComplete = 0x02
	EventCrtcSequence = 0x03
)

// FlipEvent is a decoded page-flip (or vblank) completion. The timestamp is
// CLOCK_MONOTONIC when the card advertises CapTimestampMonotonic.
type FlipEvent struct {
	Type     uint32
	Crtc     CrtcID
	UserData uint64
	Sequence uint32
	Time     time.Duration // since clock epoch
}

const eventHeaderLen = 8

// ReadEvents drains pending kernel events from the card fd. The fd is
// expected to be readable (the caller polls it); a short read never splits
// an event, the kernel writes whole events only.
func ReadEvents(file *os.File) ([]FlipEvent, error) {
	buf := make([]byte, 1024)
	n, err := unix.Read(int(file.Fd()), buf)
	if err != nil {
		if err == unix.EAGAIN {
			return nil, nil
		}
		return nil, err
	}

	le := binary.LittleEndian
	var out []FlipEvent
	for off := 0; off+eventHeaderLen <= n; {
		typ := le.Uint32(buf[off:])
		length := int(le.Uint32(buf[off+4:]))
		if length < eventHeaderLen || off+length > n {
			return out, fmt.Errorf("malformed drm event: type=%d length=%d", typ, length)
		}
		if typ == EventVBlank || typ == EventFlipComplete {
			// struct drm_event_vblank
			ev := buf[off+eventHeaderLen : off+length]
			if len(ev) >= 24 {
				sec := le.Uint32(ev[8:])
				usec := le.Uint32(ev[12:])
				out = append(out, FlipEvent{
					Type:     typ,
					UserData: le.Uint64(ev),
					Sequence: le.Uint32(ev[16:]),
					Crtc:     CrtcID(le.Uint32(ev[20:])),
					Time:     time.Duration(sec)*time.Second + time.Duration(usec)*time.Microsecond,
				})
			}
		}
		off += length
	}
	return out, nil
}
