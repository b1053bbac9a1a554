package server

import (
	"sync"
	"sync/atomic"
)

// job is one request handed from a connection goroutine to a worker.
type job struct {
	run  func(worker int)
	done chan struct{}
}

// WorkerPool runs a fixed number of worker goroutines. Each worker owns
// one job at a time and runs it to completion.
type WorkerPool struct {
	jobs chan *job
	quit chan struct{}
	wg   sync.WaitGroup
	size int
	busy atomic.Int32
	once sync.Once
}

// NewPool starts count workers.
func NewPool(count int) *WorkerPool {
	if count <= 0 {
		count = 1
	}

	p := &WorkerPool{
		// unbuffered: a send succeeds only once a worker has taken the job
		jobs: make(chan *job),
		quit: make(chan struct{}),
		size: count,
	}

	p.wg.Add(count)
	for i := 0; i < count; i++ {
		go p.loop(i)
	}
	return p
}

func (p *WorkerPool) loop(id int) {
	defer p.wg.Done()

	for {
		select {
		case j := <-p.jobs:
			p.busy.Add(1)
			func() {
				defer close(j.done)
				defer p.busy.Add(-1)
				j.run(id)
			}()
		case <-p.quit:
			return
		}
	}
}

// Submit waits for a free worker, runs fn on it and returns once fn has
// finished. It returns false without running fn when the pool is stopped.
func (p *WorkerPool) Submit(fn func(worker int)) bool {
	j := &job{run: fn, done: make(chan struct{})}

	select {
	case p.jobs <- j:
	case <-p.quit:
		return false
	}

	<-j.done
	return true
}

// Size returns the number of workers.
func (p *WorkerPool) Size() int { return p.size }

// Busy returns the number of workers currently running a job.
func (p *WorkerPool) Busy() int { return int(p.busy.Load()) }

// Stop lets running jobs finish and stops all workers.
func (p *WorkerPool) Stop() {
	p.once.Do(func() { close(p.quit) })
	p.wg.Wait()
}
