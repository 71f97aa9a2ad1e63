// Package edge provides the buffers that carry data between pipeline nodes.
//
// Each edge in the graph owns exactly one DataPacket and one EventRing,
// allocated when the edge is connected and reused for every tick after
// that. Nothing on the per-tick path allocates.
package edge

import "github.com/hxyulin/datavis/pipeline"

// MaxPacketVars is the inline sample capacity of a DataPacket.
const MaxPacketVars = 512

// MaxPacketEvents is the capacity of an EventRing.
const MaxPacketEvents = 32

// Sample is one observed value of one variable.
type Sample struct {
	VarID     pipeline.VarID
	Raw       int64
	Converted float64
}

// DataPacket carries the samples produced for one edge on one tick.
// Timestamp is monotonic nanoseconds since pipeline start.
type DataPacket struct {
	Timestamp int64

	samples [MaxPacketVars]Sample
	n       int
}

// Clear empties the packet. Called by the executor at the start of each
// tick before the upstream node writes.
func (p *DataPacket) Clear() {
	p.n = 0
	p.Timestamp = 0
}

// Push appends a sample. It returns false without writing when the packet
// is full.
func (p *DataPacket) Push(s Sample) bool {
	if p.n == MaxPacketVars {
		return false
	}
	p.samples[p.n] = s
	p.n++
	return true
}

// Len returns the number of samples in the packet.
func (p *DataPacket) Len() int { return p.n }

// IsEmpty reports whether the packet holds no samples.
func (p *DataPacket) IsEmpty() bool { return p.n == 0 }

// At returns the i'th sample. i must be < Len.
func (p *DataPacket) At(i int) Sample { return p.samples[i] }

// Range calls f for each sample in insertion order.
func (p *DataPacket) Range(f func(s Sample)) {
	for i := 0; i < p.n; i++ {
		f(p.samples[i])
	}
}

// Samples returns a view of the packet's samples. The slice aliases the
// packet's buffer and is invalidated by Clear.
func (p *DataPacket) Samples() []Sample { return p.samples[:p.n] }

// CopyFrom makes p a copy of other, timestamp included.
func (p *DataPacket) CopyFrom(other *DataPacket) {
	p.Timestamp = other.Timestamp
	p.n = other.n
	copy(p.samples[:other.n], other.samples[:other.n])
}

// EventKind tags a PipelineEvent.
type EventKind int

const (
	// EventVariableError reports a per-variable read or evaluation failure
	// that did not abort the tick.
	EventVariableError EventKind = iota
)

// PipelineEvent is a non-sample signal carried alongside a packet.
type PipelineEvent struct {
	Kind    EventKind
	VarID   pipeline.VarID
	Message string
}

// VariableError builds an EventVariableError event.
func VariableError(id pipeline.VarID, message string) PipelineEvent {
	return PipelineEvent{Kind: EventVariableError, VarID: id, Message: message}
}

// EventRing is a bounded event buffer. On overflow Push drops the oldest
// event and counts the drop, so a stalled consumer can never grow the ring.
type EventRing struct {
	events [MaxPacketEvents]PipelineEvent
	head   int
	n      int

	// Dropped counts events evicted by overflow since the last Clear.
	Dropped uint64
}

// Clear empties the ring. The drop counter resets with it.
func (r *EventRing) Clear() {
	r.head = 0
	r.n = 0
	r.Dropped = 0
}

// Push appends an event, evicting the oldest when full.
func (r *EventRing) Push(ev PipelineEvent) {
	if r.n == MaxPacketEvents {
		r.events[r.head] = ev
		r.head = (r.head + 1) % MaxPacketEvents
		r.Dropped++
		return
	}
	r.events[(r.head+r.n)%MaxPacketEvents] = ev
	r.n++
}

// Len returns the number of buffered events.
func (r *EventRing) Len() int { return r.n }

// At returns the i'th event, oldest first. i must be < Len.
func (r *EventRing) At(i int) PipelineEvent {
	return r.events[(r.head+i)%MaxPacketEvents]
}

// Range calls f for each event, oldest first.
func (r *EventRing) Range(f func(ev PipelineEvent)) {
	for i := 0; i < r.n; i++ {
		f(r.At(i))
	}
}

// CopyFrom makes r a copy of other, drop count included.
func (r *EventRing) CopyFrom(other *EventRing) {
	*r = *other
}
