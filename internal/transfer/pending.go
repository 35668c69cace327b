// Package transfer reassembles files sent as offset-tagged chunks.
package transfer

import (
	"sort"
	"time"
)

// DefaultChunkSize is the chunk length senders use.
const DefaultChunkSize = 8192

// File is a fully reassembled transfer.
type File struct {
	Sender   string
	Filename string
	Size     int64
	Data     []byte
}

// Progress is a read-only view of an in-flight transfer.
type Progress struct {
	Sender    string    `json:"sender"`
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	Received  int64     `json:"received"`
	Chunks    int       `json:"chunks"`
	StartedAt time.Time `json:"started_at"`
}

// pendingFile accumulates chunks for one filename. Chunks are keyed by offset;
// a repeated offset replaces the earlier chunk.
type pendingFile struct {
	sender    string
	filename  string
	size      int64
	chunks    map[int64][]byte
	received  int64
	startedAt time.Time
}

func newPendingFile(sender, filename string, size int64, now time.Time) *pendingFile {
	return &pendingFile{
		sender:    sender,
		filename:  filename,
		size:      size,
		chunks:    make(map[int64][]byte),
		startedAt: now,
	}
}

func (p *pendingFile) put(offset int64, data []byte) {
	buf := make([]byte, len(data))
	copy(buf, data)
	if old, ok := p.chunks[offset]; ok {
		p.received -= int64(len(old))
	}
	p.chunks[offset] = buf
	p.received += int64(len(buf))
}

func (p *pendingFile) offsets() []int64 {
	out := make([]int64, 0, len(p.chunks))
	for off := range p.chunks {
		out = append(out, off)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// complete reports whether enough bytes have arrived. In strict mode every
// byte of [0, size) must be covered by some chunk.
func (p *pendingFile) complete(strict bool) bool {
	if p.received < p.size {
		return false
	}
	if !strict {
		return true
	}
	var covered int64
	for _, off := range p.offsets() {
		if off > covered {
			return false
		}
		if end := off + int64(len(p.chunks[off])); end > covered {
			covered = end
		}
		if covered >= p.size {
			return true
		}
	}
	return covered >= p.size
}

// assemble joins chunks in ascending offset order. In strict mode each chunk
// is placed at its offset and the result is exactly size bytes.
func (p *pendingFile) assemble(strict bool) []byte {
	offs := p.offsets()
	if strict {
		out := make([]byte, p.size)
		for _, off := range offs {
			if off < p.size {
				copy(out[off:], p.chunks[off])
			}
		}
		return out
	}
	out := make([]byte, 0, p.received)
	for _, off := range offs {
		out = append(out, p.chunks[off]...)
	}
	return out
}

func (p *pendingFile) progress() Progress {
	return Progress{
		Sender:    p.sender,
		Filename:  p.filename,
		Size:      p.size,
		Received:  p.received,
		Chunks:    len(p.chunks),
		StartedAt: p.startedAt,
	}
}
