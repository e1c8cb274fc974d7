package tree

import (
	"context"
	"sync"
)

// Scheduler runs functions later, one at a time, in the order given.
type Scheduler interface {
	Schedule(fn func())
}

// Loop is a Scheduler backed by a single goroutine. Everything scheduled on
// it runs on the goroutine calling Run, which gives watchers the
// single-threaded delivery they rely on even when the tree is mutated from
// other goroutines.
type Loop struct {
	mu    sync.Mutex
	tasks []func()
	wake  chan struct{}
}

func NewLoop() *Loop {
	return &Loop{wake: make(chan struct{}, 1)}
}

func (l *Loop) Schedule(fn func()) {
	l.mu.Lock()
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run executes scheduled functions until ctx is done and returns ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	for {
		l.mu.Lock()
		tasks := l.tasks
		l.tasks = nil
		l.mu.Unlock()

		for _, task := range tasks {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			task()
		}
		if len(tasks) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}
