package server

import (
	"sync"

	"yar-rpc/transport"
)

// task is the unit handed from a connection reader to the task pool. It is
// passed by value; the only link back to the connection is connID.
type task struct {
	connID uint64
	frame  transport.Frame
}

// workerPool runs tasks on a fixed number of goroutines. reload swaps in a
// fresh generation of workers; the old ones finish their current task and exit.
type workerPool struct {
	mu    sync.Mutex
	size  int
	tasks <-chan task
	run   func(task)
	quit  chan struct{}
	gen   int
}

func newWorkerPool(size int, tasks <-chan task, run func(task)) *workerPool {
	return &workerPool{size: size, tasks: tasks, run: run}
}

func (p *workerPool) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.quit == nil {
		p.spawn()
	}
}

func (p *workerPool) reload() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.quit != nil {
		close(p.quit)
	}
	p.spawn()
	return p.gen
}

func (p *workerPool) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.quit != nil {
		close(p.quit)
		p.quit = nil
	}
}

func (p *workerPool) spawn() {
	p.quit = make(chan struct{})
	p.gen++
	for i := 0; i < p.size; i++ {
		go p.work(p.quit)
	}
}

func (p *workerPool) work(quit <-chan struct{}) {
	for {
		select {
		case <-quit:
			return
		case t := <-p.tasks:
			p.run(t)
		}
	}
}
