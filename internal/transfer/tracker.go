package transfer

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var ErrUnknownTransfer = errors.New("unknown transfer")

type Option func(*Tracker)

// WithStrictCoverage requires every byte of the declared size to be covered
// before a file counts as complete.
func WithStrictCoverage(strict bool) Option {
	return func(t *Tracker) { t.strict = strict }
}

func withClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// Tracker holds every in-flight transfer, keyed by filename.
type Tracker struct {
	mu      sync.Mutex
	pending map[string]*pendingFile
	strict  bool
	now     func() time.Time
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		pending: make(map[string]*pendingFile),
		now:     time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Open starts tracking filename, discarding any previous state for it.
// A zero-size file is complete immediately and returned as done.
func (t *Tracker) Open(sender, filename string, size int64) (replaced bool, done *File) {
	if size < 0 {
		size = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	_, replaced = t.pending[filename]
	if size == 0 {
		delete(t.pending, filename)
		return replaced, &File{Sender: sender, Filename: filename, Data: []byte{}}
	}
	t.pending[filename] = newPendingFile(sender, filename, size, t.now())
	return replaced, nil
}

// Feed stores one chunk. It returns the assembled file exactly once, when the
// chunk completes it; the transfer is forgotten at that point.
func (t *Tracker) Feed(filename string, offset int64, data []byte) (*File, error) {
	if offset < 0 {
		return nil, fmt.Errorf("negative offset %d for %q", offset, filename)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.pending[filename]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTransfer, filename)
	}
	p.put(offset, data)
	if !p.complete(t.strict) {
		return nil, nil
	}
	delete(t.pending, filename)
	return &File{
		Sender:   p.sender,
		Filename: p.filename,
		Size:     p.size,
		Data:     p.assemble(t.strict),
	}, nil
}

// Cancel forgets filename. It reports whether a transfer was pending.
func (t *Tracker) Cancel(filename string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[filename]
	delete(t.pending, filename)
	return ok
}

// CancelSender forgets every transfer opened by sender and returns how many
// were dropped.
func (t *Tracker) CancelSender(sender string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for name, p := range t.pending {
		if p.sender == sender {
			delete(t.pending, name)
			n++
		}
	}
	return n
}

// Pending lists in-flight transfers ordered by filename.
func (t *Tracker) Pending() []Progress {
	t.mu.Lock()
	out := make([]Progress, 0, len(t.pending))
	for _, p := range t.pending {
		out = append(out, p.progress())
	}
	t.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func (t *Tracker) Strict() bool {
	return t.strict
}
