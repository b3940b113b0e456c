package storage

import (
	"errors"
	"sync"
)

var errOverlayClosed = errors.New("storage: overlay already committed or discarded")

// Overlay buffers writes on top of a base database. Reads see buffered
// values first. Commit flushes the buffer in one batch when the base supports
// it; Discard drops it.
type Overlay struct {
	mu     sync.Mutex
	base   Database
	writes map[string][]byte
	closed bool
}

// NewOverlay wraps base with a write buffer.
func NewOverlay(base Database) *Overlay {
	return &Overlay{base: base, writes: make(map[string][]byte)}
}

func (o *Overlay) Put(key []byte, value []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errOverlayClosed
	}
	o.writes[string(key)] = append([]byte(nil), value...)
	return nil
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	o.mu.Lock()
	value, ok := o.writes[string(key)]
	o.mu.Unlock()
	if ok {
		return append([]byte(nil), value...), nil
	}
	return o.base.Get(key)
}

// Pending reports how many keys are buffered.
func (o *Overlay) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.writes)
}

// Commit writes the buffered values to the base database.
func (o *Overlay) Commit() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return errOverlayClosed
	}
	o.closed = true
	if len(o.writes) == 0 {
		return nil
	}
	if batcher, ok := o.base.(Batcher); ok {
		return batcher.WriteBatch(o.writes)
	}
	for key, value := range o.writes {
		if err := o.base.Put([]byte(key), value); err != nil {
			return err
		}
	}
	return nil
}

// Discard drops every buffered write.
func (o *Overlay) Discard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.writes = nil
}

// Close is a no-op; the base database is owned by the caller.
func (o *Overlay) Close() {}
