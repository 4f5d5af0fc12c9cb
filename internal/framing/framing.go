// Package framing implements the 4-byte length-prefixed framing
// protocol used between the dispatcher and each worker subprocess.
package framing

import (
	"encoding/binary"
	"fmt"
	"io"
)

// DefaultMaxFrameSize bounds a single IPC message (10MB).
const DefaultMaxFrameSize = 10 * 1024 * 1024

// Framer reads and writes length-prefixed opaque byte messages over a
// stream. Each worker's endpoint carries exactly one in-flight message
// at a time, so no request-ID or multiplexing is needed here.
type Framer struct {
	rw           io.ReadWriter
	maxFrameSize int
}

// NewFramer creates a framer with the default max frame size.
func NewFramer(rw io.ReadWriter) *Framer {
	return &Framer{rw: rw, maxFrameSize: DefaultMaxFrameSize}
}

// NewFramerWithMaxSize creates a framer bounded to maxSize bytes per message.
func NewFramerWithMaxSize(rw io.ReadWriter, maxSize int) *Framer {
	return &Framer{rw: rw, maxFrameSize: maxSize}
}

// WriteMessage writes a framed message: [4 bytes length, big-endian][payload].
func (f *Framer) WriteMessage(data []byte) error {
	if len(data) > f.maxFrameSize {
		return fmt.Errorf("message size %d exceeds max frame size %d", len(data), f.maxFrameSize)
	}

	lengthBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(lengthBuf, uint32(len(data)))

	if _, err := f.rw.Write(lengthBuf); err != nil {
		return fmt.Errorf("failed to write frame length: %w", err)
	}
	if _, err := f.rw.Write(data); err != nil {
		return fmt.Errorf("failed to write frame data: %w", err)
	}
	return nil
}

// ReadMessage reads one framed message, blocking until the length
// header and payload are fully available.
func (f *Framer) ReadMessage() ([]byte, error) {
	lengthBuf := make([]byte, 4)
	if _, err := io.ReadFull(f.rw, lengthBuf); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read frame length: %w", err)
	}

	length := binary.BigEndian.Uint32(lengthBuf)
	if int(length) > f.maxFrameSize {
		return nil, fmt.Errorf("frame size %d exceeds max frame size %d", length, f.maxFrameSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(f.rw, data); err != nil {
		return nil, fmt.Errorf("failed to read frame data: %w", err)
	}
	return data, nil
}
