package signaling

import (
	"errors"
	"sync"
)

var (
	errQueueClosed = errors.New("send queue closed")
	errQueueFull   = errors.New("send queue full")
)

// sendQueue is a byte-bounded FIFO of outbound frames. Enqueue never blocks,
// so the relay can hand frames to a slow client without stalling anyone else.
type sendQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	closed   bool

	maxBytes int
	curBytes int
	frames   [][]byte
}

func newSendQueue(maxBytes int) *sendQueue {
	q := &sendQueue{maxBytes: maxBytes}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

// Enqueue appends frame if it fits within the byte budget.
func (q *sendQueue) Enqueue(frame []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errQueueClosed
	}
	if q.curBytes+len(frame) > q.maxBytes {
		return errQueueFull
	}
	q.frames = append(q.frames, frame)
	q.curBytes += len(frame)
	q.notEmpty.Signal()
	return nil
}

// Dequeue blocks until a frame is available. It returns false once the queue
// is closed; frames still pending at that point are discarded.
func (q *sendQueue) Dequeue() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.frames) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.closed {
		return nil, false
	}
	frame := q.frames[0]
	q.frames[0] = nil
	q.frames = q.frames[1:]
	q.curBytes -= len(frame)
	return frame, true
}

func (q *sendQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.frames = nil
	q.curBytes = 0
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}

func (q *sendQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}
