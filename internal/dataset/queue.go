package dataset

import "github.com/lmeterx/st-engine/internal/domain"

// MaxQueueSize bounds the shared prompt queue.
const MaxQueueSize = 10000

// Queue is a shared round-robin FIFO of immutable prompt records. Consumers
// borrow a record and it is returned to the tail, so every record is visited
// once per cycle. An empty queue is legal and means "no dataset".
type Queue struct {
	ch chan domain.PromptRecord
}

// NewQueue builds a queue holding the given records, truncated to
// MaxQueueSize.
func NewQueue(records []domain.PromptRecord) *Queue {
	if len(records) > MaxQueueSize {
		records = records[:MaxQueueSize]
	}
	ch := make(chan domain.PromptRecord, MaxQueueSize)
	for _, r := range records {
		ch <- r
	}
	return &Queue{ch: ch}
}

// Next borrows the head record and re-enqueues it. Returns false when the
// queue is empty.
func (q *Queue) Next() (domain.PromptRecord, bool) {
	if q == nil {
		return domain.PromptRecord{}, false
	}
	select {
	case r := <-q.ch:
		q.ch <- r
		return r, true
	default:
		return domain.PromptRecord{}, false
	}
}

// Len reports the current number of records.
func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	return len(q.ch)
}
