// Package worker gives each chat its own job queue and goroutine, with a
// shared semaphore bounding how many jobs run at once across all chats.
// Per-chat ordering is preserved; cross-chat jobs run concurrently.
package worker

import (
	"context"
	"sync"
)

type Pool[J any] struct {
	ctx    context.Context
	sem    chan struct{}
	buffer int
	handle func(context.Context, int64, J)

	mu     sync.Mutex
	queues map[int64]chan J
}

type PoolOptions[J any] struct {
	Ctx context.Context
	// MaxConcurrent bounds jobs executing at the same time, across chats.
	MaxConcurrent int
	// QueueSize is the per-chat buffer; Enqueue blocks when it is full.
	QueueSize int
	Handle    func(ctx context.Context, chatID int64, job J)
}

func NewPool[J any](opts PoolOptions[J]) *Pool[J] {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 16
	}
	return &Pool[J]{
		ctx:    opts.Ctx,
		sem:    make(chan struct{}, opts.MaxConcurrent),
		buffer: opts.QueueSize,
		handle: opts.Handle,
		queues: make(map[int64]chan J),
	}
}

// Enqueue places a job on the chat's queue, starting the chat's worker on
// first use. It blocks while the queue is full and fails once either
// context is done.
func (p *Pool[J]) Enqueue(ctx context.Context, chatID int64, job J) error {
	if ctx == nil {
		ctx = p.ctx
	}
	if err := p.ctx.Err(); err != nil {
		return err
	}
	jobs := p.queue(chatID)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return p.ctx.Err()
	case jobs <- job:
		return nil
	}
}

func (p *Pool[J]) queue(chatID int64) chan J {
	p.mu.Lock()
	defer p.mu.Unlock()
	if jobs, ok := p.queues[chatID]; ok {
		return jobs
	}
	jobs := make(chan J, p.buffer)
	p.queues[chatID] = jobs
	go p.run(chatID, jobs)
	return jobs
}

func (p *Pool[J]) run(chatID int64, jobs <-chan J) {
	for {
		select {
		case <-p.ctx.Done():
			return
		case job, ok := <-jobs:
			if !ok {
				return
			}
			select {
			case p.sem <- struct{}{}:
			case <-p.ctx.Done():
				return
			}
			func() {
				defer func() { <-p.sem }()
				p.handle(p.ctx, chatID, job)
			}()
		}
	}
}
