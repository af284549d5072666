package async

import (
	"sync/atomic"
)

// DefaultQueueSize is used when the configured size is not positive
const DefaultQueueSize = 256

// Queue is an in-memory buffer of job signals.
//
// Enqueue never blocks. When the buffer is full the signal is dropped and
// counted; the document stays pending and the pool's sweep picks it up.
type Queue struct {
	ch       chan *Job
	enqueued atomic.Int64
	dropped  atomic.Int64
}

// NewQueue creates a queue holding up to size signals
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan *Job, size)}
}

// Enqueue offers a job without blocking and reports whether it was buffered
func (q *Queue) Enqueue(job *Job) bool {
	select {
	case q.ch <- job:
		q.enqueued.Add(1)
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Len returns the number of buffered signals
func (q *Queue) Len() int {
	return len(q.ch)
}

// Cap returns the buffer size
func (q *Queue) Cap() int {
	return cap(q.ch)
}

// Enqueued returns how many signals were accepted since creation
func (q *Queue) Enqueued() int64 {
	return q.enqueued.Load()
}

// Dropped returns how many signals were refused because the buffer was full
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

func (q *Queue) jobs() <-chan *Job {
	return q.ch
}
