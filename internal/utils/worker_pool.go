package utils

import (
	"sync"
)

// WorkerPool executes submitted tasks on a fixed set of goroutines, bounding
// concurrency for fan-out work such as per-device MQTT publishes.
type WorkerPool struct {
	tasks     chan func()
	waitGroup sync.WaitGroup
}

// NewWorkerPool creates a WorkerPool with the specified number of workers.
func NewWorkerPool(workers int) *WorkerPool {
	pool := &WorkerPool{
		tasks: make(chan func(), workers),
	}

	pool.waitGroup.Add(workers)
	for i := 0; i < workers; i++ {
		go pool.worker()
	}

	return pool
}

// worker processes tasks until the pool is shut down.
func (wp *WorkerPool) worker() {
	defer wp.waitGroup.Done()
	for task := range wp.tasks {
		task()
	}
}

// Submit queues a task for execution. Blocks when all workers are busy and
// the queue is full.
func (wp *WorkerPool) Submit(task func()) {
	wp.tasks <- task
}

// Shutdown stops accepting tasks and waits for queued ones to finish.
func (wp *WorkerPool) Shutdown() {
	close(wp.tasks)
	wp.waitGroup.Wait()
}
