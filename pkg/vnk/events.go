package vnk

import "container/heap"

type eventKind int

const (
	eventConnect eventKind = iota
	eventDeliver
)

// event is one entry of the VNK's time-ordered event queue. A Connect
// event fires when a dial resolves into an accept; a Deliver event
// fires when bytes sent on one fd become readable on its peer fd.
type event struct {
	kind     eventKind
	src      Fd // Connect: dialing fd. Deliver: unused.
	dst      Fd // Connect: listening fd. Deliver: destination fd.
	payload  []byte
	deadline int64
	seq      uint64 // insertion order, used to break deadline ties FIFO
}

// eventHeap implements container/heap.Interface, ordered by (deadline,
// seq) ascending so the root is always the earliest-scheduled event.
// This is the same heap.Interface shape objects-cache uses for its
// expiry-ordered eviction heap.
type eventHeap []*event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].deadline != h[j].deadline {
		return h[i].deadline < h[j].deadline
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(v any) {
	*h = append(*h, v.(*event))
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// eventQueue wraps eventHeap with the two targeted-lookup operations the
// VNK spec requires: find the earliest-deadline Connect/Deliver event
// whose target is a specific fd, without disturbing any other event's
// deadline or relative order.
type eventQueue struct {
	h      eventHeap
	nextSeq uint64
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	heap.Init(&q.h)
	return q
}

func (q *eventQueue) pushConnect(src, dst Fd, deadline int64) {
	q.h.Push(&event{kind: eventConnect, src: src, dst: dst, deadline: deadline, seq: q.nextSeq})
	q.nextSeq++
	heap.Fix(&q.h, len(q.h)-1)
}

func (q *eventQueue) pushDeliver(dst Fd, payload []byte, deadline int64) {
	q.h.Push(&event{kind: eventDeliver, dst: dst, payload: payload, deadline: deadline, seq: q.nextSeq})
	q.nextSeq++
	heap.Fix(&q.h, len(q.h)-1)
}

// peek returns the globally earliest-scheduled event without removing
// it. Used by epoll readiness evaluation, which must not consume events.
func (q *eventQueue) peek() (*event, bool) {
	if len(q.h) == 0 {
		return nil, false
	}
	return q.h[0], true
}

// takeConnectFor removes and returns the earliest-deadline Connect
// event whose listener fd is dst, leaving every other event's deadline
// and relative order untouched.
func (q *eventQueue) takeConnectFor(dst Fd) (*event, bool) {
	return q.takeMatching(func(e *event) bool {
		return e.kind == eventConnect && e.dst == dst
	})
}

// takeDeliverFor removes and returns the earliest-deadline Deliver
// event addressed to dst.
func (q *eventQueue) takeDeliverFor(dst Fd) (*event, bool) {
	return q.takeMatching(func(e *event) bool {
		return e.kind == eventDeliver && e.dst == dst
	})
}

func (q *eventQueue) takeMatching(match func(*event) bool) (*event, bool) {
	bestIdx := -1
	for i, e := range q.h {
		if !match(e) {
			continue
		}
		if bestIdx == -1 || q.h.Less(i, bestIdx) {
			bestIdx = i
		}
	}
	if bestIdx == -1 {
		return nil, false
	}
	removed := heap.Remove(&q.h, bestIdx).(*event)
	return removed, true
}

func (q *eventQueue) len() int { return len(q.h) }
