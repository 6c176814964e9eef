package queue

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Queue used by tests and single-node development
// runs. It preserves the same FIFO pop-once semantics as the redis queue.
type Memory struct {
	mu    sync.Mutex
	lists map[string][][]byte
}

var _ Queue = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{lists: make(map[string][][]byte)}
}

func (q *Memory) Push(_ context.Context, key string, payloads ...[]byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range payloads {
		cp := make([]byte, len(p))
		copy(cp, p)
		q.lists[key] = append(q.lists[key], cp)
	}
	return nil
}

func (q *Memory) Pop(_ context.Context, key string) ([]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	list := q.lists[key]
	if len(list) == 0 {
		return nil, ErrEmpty
	}
	head := list[0]
	q.lists[key] = list[1:]
	return head, nil
}

func (q *Memory) Len(_ context.Context, key string) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.lists[key])), nil
}

// MemoryLocker is an in-process Locker with the same acquire/retry contract
// as the redis lock, for tests and single-node development runs.
type MemoryLocker struct {
	// Attempts and Delay override the default acquisition retry budget when
	// set; zero values fall back to the redis lock defaults.
	Attempts uint
	Delay    time.Duration

	mu    sync.Mutex
	holds map[string]memoryHold
}

type memoryHold struct {
	token    string
	deadline time.Time
}

var _ Locker = (*MemoryLocker)(nil)

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{holds: make(map[string]memoryHold)}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lock, error) {
	attempts := l.Attempts
	if attempts == 0 {
		attempts = lockAttempts
	}
	delay := l.Delay
	if delay == 0 {
		delay = lockRetryDelay
	}

	token, err := acquireWithRetry(ctx, key, attempts, delay, func(ctx context.Context, token string) (bool, error) {
		return l.tryAcquire(key, token, ttl), nil
	})
	if err != nil {
		return nil, err
	}
	return &memoryLock{locker: l, key: key, token: token}, nil
}

func (l *MemoryLocker) tryAcquire(key, token string, ttl time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.holds[key]; ok && time.Now().Before(h.deadline) {
		return false
	}
	l.holds[key] = memoryHold{token: token, deadline: time.Now().Add(ttl)}
	return true
}

type memoryLock struct {
	locker *MemoryLocker
	key    string
	token  string
}

func (ml *memoryLock) Release(context.Context) error {
	ml.locker.mu.Lock()
	defer ml.locker.mu.Unlock()
	if h, ok := ml.locker.holds[ml.key]; ok && h.token == ml.token {
		delete(ml.locker.holds, ml.key)
	}
	return nil
}
