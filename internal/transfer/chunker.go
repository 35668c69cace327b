package transfer

import (
	"errors"
	"fmt"
	"io"
)

// Split reads r in chunkSize pieces and calls fn with each chunk and its
// offset. The last chunk may be short. An empty reader produces no calls.
func Split(r io.Reader, chunkSize int, fn func(offset int64, chunk []byte) error) error {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	var offset int64
	for {
		buf := make([]byte, chunkSize)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if ferr := fn(offset, buf[:n]); ferr != nil {
				return ferr
			}
			offset += int64(n)
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		default:
			return fmt.Errorf("read chunk at %d: %w", offset, err)
		}
	}
}
