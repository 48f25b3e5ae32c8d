package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vovakirdan/mchat/internal/core"
)

// work is one queued request. Units are created by the public API, owned
// by the queue until the dispatcher pops them, and then either answered by
// a server reply or failed.
type work interface {
	fail(err error)
	String() string
}

type connectWork struct {
	addr string
	name string
	done func(name string, err error)
}

func (w *connectWork) fail(err error) { w.done("", err) }
func (w *connectWork) String() string { return "CONNECT " + w.addr }

type listChatsWork struct {
	done func([]core.Chat, error)
}

func (w *listChatsWork) fail(err error) { w.done(nil, err) }
func (w *listChatsWork) String() string { return "LIST_CHATS" }

type newChatWork struct {
	name        string
	description string
	done        func(error)
}

func (w *newChatWork) fail(err error) { w.done(err) }
func (w *newChatWork) String() string { return "NEW_CHAT " + w.name }

type subscribeWork struct {
	room      string
	done      func([]core.Message, error)
	onMessage func(core.Message)
}

func (w *subscribeWork) fail(err error) { w.done(nil, err) }
func (w *subscribeWork) String() string { return "SUBSCRIBE " + w.room }

type sendWork struct {
	msg      core.Message
	progress *Progress
	done     func(core.Message, error)
}

func (w *sendWork) fail(err error) { w.done(core.Message{}, err) }
func (w *sendWork) String() string { return fmt.Sprintf("MESSAGE %s %q", w.msg.Type, w.msg.Body) }

type getFileWork struct {
	id       uint64
	progress *Progress
	done     func(core.Payload, error)
}

func (w *getFileWork) fail(err error) { w.done(core.Payload{}, err) }
func (w *getFileWork) String() string { return fmt.Sprintf("GET_FILE %d", w.id) }

// workQueue is a FIFO shared by callers and the dispatcher.
type workQueue struct {
	mu     sync.Mutex
	items  []work
	closed bool
	signal chan struct{}
}

func newWorkQueue() *workQueue {
	return &workQueue{signal: make(chan struct{}, 1)}
}

// push appends w. It returns false once the queue is closed.
func (q *workQueue) push(w work) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, w)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// pop returns the oldest unit, waiting up to wait for one to arrive.
func (q *workQueue) pop(ctx context.Context, wait time.Duration) (work, bool) {
	if w, ok := q.tryPop(); ok || wait <= 0 {
		return w, ok
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-q.signal:
			if w, ok := q.tryPop(); ok {
				return w, true
			}
		case <-timer.C:
			return q.tryPop()
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (q *workQueue) tryPop() (work, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	w := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return w, true
}

func (q *workQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// close rejects further pushes and returns whatever was still queued.
func (q *workQueue) close() []work {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	left := q.items
	q.items = nil
	return left
}
