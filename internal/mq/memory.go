package mq

import (
	"context"
	"sync"
	"time"

	"github.com/shaiso/Sourcing/internal/domain"
)

// MemoryQueue — JobQueue в памяти процесса.
//
// Используется в тестах и при QUEUE_DRIVER=memory. Очереди неограниченные,
// безопасны для нескольких producer'ов и consumer'ов.
type MemoryQueue struct {
	mu     sync.Mutex
	queues map[Queue][]domain.Job
	// signal закрывается и заменяется при каждом Enqueue,
	// будя всех ожидающих consumer'ов.
	signal chan struct{}
	closed bool
}

// NewMemoryQueue создаёт пустую MemoryQueue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		queues: make(map[Queue][]domain.Job),
		signal: make(chan struct{}),
	}
}

// Enqueue добавляет job в хвост очереди.
func (q *MemoryQueue) Enqueue(_ context.Context, queue Queue, job domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrClosed
	}

	q.queues[queue] = append(q.queues[queue], job)
	close(q.signal)
	q.signal = make(chan struct{})
	return nil
}

// Dequeue извлекает job из головы очереди.
func (q *MemoryQueue) Dequeue(ctx context.Context, queue Queue, timeout time.Duration) (*domain.Job, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrClosed
		}
		if jobs := q.queues[queue]; len(jobs) > 0 {
			job := jobs[0]
			q.queues[queue] = jobs[1:]
			q.mu.Unlock()
			return &job, nil
		}
		signal := q.signal
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, ErrEmpty
		case <-signal:
		}
	}
}

// Len возвращает количество jobs в очереди.
func (q *MemoryQueue) Len(queue Queue) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queues[queue])
}

// Close закрывает очередь и будит ожидающих consumer'ов.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.signal)
	}
	return nil
}
