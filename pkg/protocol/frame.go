package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the size of the big-endian length prefix in front of each record.
const HeaderSize = 4

// DefaultMaxFrameSize caps a single record at 1MB.
const DefaultMaxFrameSize = 1024 * 1024

var (
	// ErrFrameTooLarge is returned when a frame exceeds the allowed size.
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrEmptyFrame is returned when writing a zero-length record.
	ErrEmptyFrame = errors.New("empty frame")
)

// AppendFrame appends the length prefix and payload to dst.
func AppendFrame(dst, payload []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// WriteFrame writes payload as one frame with a single Write call, so a
// caller holding a per-connection lock never interleaves partial frames.
func WriteFrame(w io.Writer, payload []byte, maxSize int) error {
	if len(payload) == 0 {
		return ErrEmptyFrame
	}
	if maxSize > 0 && len(payload) > maxSize {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, len(payload), maxSize)
	}
	buf := AppendFrame(make([]byte, 0, HeaderSize+len(payload)), payload)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads exactly one frame and returns its payload.
// io.EOF is returned only when the stream ends cleanly between frames.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(hdr[:])
	if length == 0 {
		return nil, ErrEmptyFrame
	}
	if maxSize > 0 && uint64(length) > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, length, maxSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}
