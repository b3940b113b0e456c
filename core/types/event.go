package types

// Event represents a typed event emitted during state transitions. Height is
// stamped by the executor once the enclosing action commits.
type Event struct {
	Type       string            `json:"type"`
	Height     uint64            `json:"height,omitempty"`
	Attributes map[string]string `json:"attributes"`
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	attrs := make(map[string]string, len(e.Attributes))
	for k, v := range e.Attributes {
		attrs[k] = v
	}
	return &Event{Type: e.Type, Height: e.Height, Attributes: attrs}
}
