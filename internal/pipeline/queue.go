package pipeline

import (
	"context"
	"time"

	"github.com/trobanga/oaiharvest/internal/models"
)

// recordQueue is the bounded hand-off between producers and the consumer
type recordQueue struct {
	ch chan *models.HarvestedRecord
}

func newRecordQueue(capacity int) *recordQueue {
	return &recordQueue{ch: make(chan *models.HarvestedRecord, capacity)}
}

// offer enqueues rec, waiting up to timeout for space
func (q *recordQueue) offer(rec *models.HarvestedRecord, timeout time.Duration) bool {
	select {
	case q.ch <- rec:
		return true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case q.ch <- rec:
		return true
	case <-timer.C:
		return false
	}
}

// poll dequeues a record, waiting up to timeout or until ctx is done
func (q *recordQueue) poll(ctx context.Context, timeout time.Duration) (*models.HarvestedRecord, bool) {
	select {
	case rec := <-q.ch:
		return rec, true
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case rec := <-q.ch:
		return rec, true
	case <-timer.C:
		return nil, false
	case <-ctx.Done():
		return nil, false
	}
}

// tryPoll dequeues a record without waiting
func (q *recordQueue) tryPoll() (*models.HarvestedRecord, bool) {
	select {
	case rec := <-q.ch:
		return rec, true
	default:
		return nil, false
	}
}

func (q *recordQueue) len() int {
	return len(q.ch)
}
