package codec

import (
	"encoding/binary"

	"brokergateway/internal/gwerrors"
)

// DefaultMaxFrameBytes bounds a single frame, header excluded. It exists so
// a corrupt or malicious length prefix can't make the reassembler grow an
// unbounded buffer waiting for bytes that will never arrive.
const DefaultMaxFrameBytes = 1 << 20 // 1 MiB

const frameHeaderLen = 4

// appendFrame prepends a 4-byte big-endian length prefix to payload and
// appends the result to b.
func appendFrame(b []byte, payload []byte) []byte {
	var hdr [frameHeaderLen]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	b = append(b, hdr[:]...)
	b = append(b, payload...)
	return b
}

// Reassembler accumulates bytes read off a stream transport and yields
// complete length-prefixed frames as they become available. At rest it
// holds at most one partial frame; Feed returns a FrameError once the
// advertised length would exceed MaxFrameBytes, since that partial frame
// can never be completed safely.
type Reassembler struct {
	buf          []byte
	maxFrameBytes int
}

// NewReassembler constructs a Reassembler. maxFrameBytes <= 0 selects
// DefaultMaxFrameBytes.
func NewReassembler(maxFrameBytes int) *Reassembler {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}
	return &Reassembler{maxFrameBytes: maxFrameBytes}
}

// Feed appends newly read bytes to the internal buffer and returns every
// complete frame body (length header stripped) it can extract, in order.
// Each body is ready to pass to DecodeFrame. Returned slices are freshly
// allocated copies, safe to retain past the next Feed call.
func (r *Reassembler) Feed(chunk []byte) ([][]byte, error) {
	r.buf = append(r.buf, chunk...)

	var frames [][]byte
	for {
		if len(r.buf) < frameHeaderLen {
			break
		}
		length := binary.BigEndian.Uint32(r.buf[:frameHeaderLen])
		if int(length) > r.maxFrameBytes {
			return frames, &gwerrors.FrameError{Reason: "frame exceeds maximum size"}
		}
		total := frameHeaderLen + int(length)
		if len(r.buf) < total {
			break
		}
		payload := make([]byte, length)
		copy(payload, r.buf[frameHeaderLen:total])
		frames = append(frames, payload)
		r.buf = r.buf[total:]
	}
	return frames, nil
}

// Pending reports how many bytes of an incomplete frame are currently
// buffered, for diagnostics and tests.
func (r *Reassembler) Pending() int {
	return len(r.buf)
}
