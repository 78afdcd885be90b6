package runtime

import (
	"encoding/binary"
	"io"
)

// Docker's multiplexed exec-stream frame: a 1-byte stream type (0=stdin,
// 1=stdout, 2=stderr), 3 bytes of padding, then a big-endian uint32 payload
// size, followed by that many payload bytes.
const frameHeaderSize = 8

const (
	StreamStdin  byte = 0
	StreamStdout byte = 1
	StreamStderr byte = 2
)

// FrameReader demultiplexes a non-tty docker exec stream one frame at a
// time, tolerating frames split across the underlying reader's buffer
// boundaries (spec.md §4.5 "Stream demultiplexing" / §9).
type FrameReader struct {
	r io.Reader
}

func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// ReadFrame blocks until one full frame is available, or returns the
// underlying error (io.EOF on stream end).
func (f *FrameReader) ReadFrame() (streamID byte, payload []byte, err error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(f.r, header[:]); err != nil {
		return 0, nil, err
	}
	size := binary.BigEndian.Uint32(header[4:8])
	payload = make([]byte, size)
	if _, err := io.ReadFull(f.r, payload); err != nil {
		return 0, nil, err
	}
	return header[0], payload, nil
}
