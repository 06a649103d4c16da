package trading

import (
	"math/big"
	"sync"
	"time"
)

// Priority orders queued work. Stop-loss and deadline exits run high,
// everything else normal: protecting capital beats deploying it.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	}
	return "low"
}

// Action is what a queued request does.
type Action string

const (
	ActionEnter Action = "enter"
	ActionExit  Action = "exit"
)

// Request is one unit of execution work.
type Request struct {
	TradeID  string
	Action   Action
	Priority Priority

	// entry amount, sized at admission
	SellAmountRaw *big.Int

	// exit fields
	Reason  ExitReason
	Percent int
	Price   float64

	// retry bookkeeping
	Attempts  int
	NotBefore time.Time
}

// Queue is a three-level priority queue, FIFO within a level. Pop skips
// requests that are backing off or whose trade holds an execution lease.
type Queue struct {
	mu     sync.Mutex
	levels [3][]*Request
	ready  chan struct{}
}

func NewQueue() *Queue {
	return &Queue{ready: make(chan struct{}, 1)}
}

// Push enqueues a request and wakes one waiting worker.
func (q *Queue) Push(req *Request) {
	q.mu.Lock()
	q.levels[req.Priority] = append(q.levels[req.Priority], req)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Pop returns the highest-priority ready request for which skip is false,
// preserving FIFO order inside each level. Nil when nothing is runnable.
func (q *Queue) Pop(now time.Time, skip func(*Request) bool) *Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	for level := PriorityHigh; level >= PriorityLow; level-- {
		for i, req := range q.levels[level] {
			if req.NotBefore.After(now) {
				continue
			}
			if skip != nil && skip(req) {
				continue
			}
			q.levels[level] = append(q.levels[level][:i], q.levels[level][i+1:]...)
			return req
		}
	}
	return nil
}

// Ready signals that new work may be runnable. Workers also poll on a timer
// since backoffs expire without a Push.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}

// Len counts queued requests across all levels.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, level := range q.levels {
		n += len(level)
	}
	return n
}
