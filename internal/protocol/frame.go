package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// HeaderSize is the length of the frame prefix.
const HeaderSize = 4

// DefaultMaxFrameSize bounds a single frame body when the caller has no
// configured limit.
const DefaultMaxFrameSize = 16 << 20

var (
	// ErrStreamClosed means the peer closed the stream exactly at a frame
	// boundary.
	ErrStreamClosed = errors.New("stream closed")
	// ErrShortRead means the stream ended inside a prefix or a body.
	ErrShortRead     = errors.New("short read")
	ErrFrameTooLarge = errors.New("frame too large")
)

// IsEndOfStream reports whether err is an orderly end of session rather than
// a protocol fault.
func IsEndOfStream(err error) bool {
	return errors.Is(err, ErrStreamClosed) || errors.Is(err, ErrShortRead)
}

// Encode produces one complete frame for m.
func Encode(m *Message) ([]byte, error) {
	body, err := Marshal(m)
	if err != nil {
		return nil, err
	}
	if uint64(len(body)) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	out := make([]byte, HeaderSize, HeaderSize+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body)))
	return append(out, body...), nil
}

// FrameOf prefixes an already encoded body with its length.
func FrameOf(body []byte) []byte {
	out := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint32(out, uint32(len(body)))
	copy(out[HeaderSize:], body)
	return out
}

// WriteMessage encodes m and writes it as a single frame.
func WriteMessage(w io.Writer, m *Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// ReadFrame reads one raw frame body. It blocks until the full declared
// length has arrived. maxSize <= 0 selects DefaultMaxFrameSize.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}

	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return nil, ErrStreamClosed
		case errors.Is(err, io.ErrUnexpectedEOF):
			return nil, fmt.Errorf("%w: header", ErrShortRead)
		}
		return nil, err
	}

	n := binary.BigEndian.Uint32(hdr[:])
	if uint64(n) > uint64(maxSize) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, maxSize)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: body %d bytes", ErrShortRead, n)
		}
		return nil, err
	}
	return body, nil
}

// ReadMessage reads and decodes one frame.
func ReadMessage(r io.Reader, maxSize int) (*Message, error) {
	body, err := ReadFrame(r, maxSize)
	if err != nil {
		return nil, err
	}
	return Unmarshal(body)
}
