package gateway

import (
	"errors"
	"sync"
)

// ErrSessionClosed 会话已关闭，不再接收消息。
var ErrSessionClosed = errors.New("session closed")

// queue 是无界 FIFO：Push 从不阻塞，Pop 在空队列上等待。
type queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	closed bool
}

func newQueue[T any]() *queue[T] {
	q := &queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push 追加到队尾。
func (q *queue[T]) Push(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrSessionClosed
	}
	q.items = append(q.items, v)
	q.cond.Signal()
	return nil
}

// Pop 取出队首；关闭后先排空剩余元素，再返回 false。
func (q *queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}
	v := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	return v, true
}

// Len 当前积压数量。
func (q *queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close 拒绝后续 Push 并唤醒所有等待者，可重复调用。
func (q *queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
