/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: worker.go
Description: Fixed worker pool for per-tick device work. The pool is sized to the device
count, started once and reused across ticks. Every dispatch is a barrier: it returns only
after all of its jobs finished, and workers hold a session only while running its job.
*/

package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/kleascm/akaylee-droid/pkg/interfaces"
	"github.com/kleascm/akaylee-droid/pkg/mobile"
	"github.com/sirupsen/logrus"
)

type job struct {
	run  func()
	done *sync.WaitGroup
}

// Pool runs device jobs on a fixed set of goroutines.
type Pool struct {
	size   int
	jobs   chan job
	logger *logrus.Logger

	executions int64
	panics     int64

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool starts size workers.
func NewPool(size int, logger *logrus.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{size: size, jobs: make(chan job), logger: logger}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker(i)
	}
	return p
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for j := range p.jobs {
		j.run()
		atomic.AddInt64(&p.executions, 1)
		j.done.Done()
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int { return p.size }

// barrier runs task(i) for i in [0,n) on the workers and waits for all of them.
func (p *Pool) barrier(n int, task func(i int)) {
	var done sync.WaitGroup
	done.Add(n)

	p.mu.RLock()
	for i := 0; i < n; i++ {
		i := i
		if p.closed {
			task(i)
			done.Done()
			continue
		}
		p.jobs <- job{run: func() { task(i) }, done: &done}
	}
	p.mu.RUnlock()

	done.Wait()
}

// recovered converts a panic into an error.
func (p *Pool) recovered(s *mobile.Session, r any) error {
	atomic.AddInt64(&p.panics, 1)
	p.logger.WithFields(logrus.Fields{
		"device": s.Serial(),
		"panic":  r,
	}).Errorf("Device job panicked\n%s", debug.Stack())
	return fmt.Errorf("device job panicked on %s: %v", s.Serial(), r)
}

// Execute runs fn for every session concurrently and returns outcomes in session order.
// A panicking job yields a driver-error outcome.
func (p *Pool) Execute(ctx context.Context, sessions []*mobile.Session, fn func(context.Context, *mobile.Session) interfaces.ActionOutcome) []interfaces.ActionOutcome {
	out := make([]interfaces.ActionOutcome, len(sessions))
	p.barrier(len(sessions), func(i int) {
		s := sessions[i]
		defer func() {
			if r := recover(); r != nil {
				out[i] = interfaces.DriverError(p.recovered(s, r))
			}
		}()
		out[i] = fn(ctx, s)
	})
	return out
}

// Each runs fn for every session concurrently and returns errors in session order.
func (p *Pool) Each(ctx context.Context, sessions []*mobile.Session, fn func(context.Context, *mobile.Session) error) []error {
	out := make([]error, len(sessions))
	p.barrier(len(sessions), func(i int) {
		s := sessions[i]
		defer func() {
			if r := recover(); r != nil {
				out[i] = p.recovered(s, r)
			}
		}()
		out[i] = fn(ctx, s)
	})
	return out
}

// GetStats returns pool counters.
func (p *Pool) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"workers":    p.size,
		"executions": atomic.LoadInt64(&p.executions),
		"panics":     atomic.LoadInt64(&p.panics),
	}
}

// Close stops the workers after queued jobs finish. Dispatches after Close run inline.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()
	close(p.jobs)
	p.wg.Wait()
}

// firstError returns the first non-nil error.
func firstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
