// Package utils holds small pieces of infrastructure shared across the
// server boundary that don't belong to any one domain package.
package utils

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const taskChanSize = 100

// WorkerFunction processes one task. Returning an error kills the worker
// and, via tomb, the whole supervised goroutine tree.
type WorkerFunction[T any] func(t *tomb.Tomb, task T) error

// WorkerPool runs a fixed number of goroutines pulling tasks off a shared
// channel, typed to whatever unit of work the caller dispatches. The TCP
// order-entry server instantiates WorkerPool[net.Conn] to bound how many
// connections are read from concurrently, so the task type flows from the
// wire protocol rather than staying a bare interface{} pass-through.
type WorkerPool[T any] struct {
	n     int               // number of workers
	tasks chan T            // task queue
	work  WorkerFunction[T] // per-task handler
}

func NewWorkerPool[T any](size int) WorkerPool[T] {
	return WorkerPool[T]{
		tasks: make(chan T, taskChanSize),
		n:     size,
	}
}

// AddTask enqueues a unit of work for the pool to pick up.
func (pool *WorkerPool[T]) AddTask(task T) {
	pool.tasks <- task
}

func (pool *WorkerPool[T]) Setup(t *tomb.Tomb, work WorkerFunction[T]) {
	log.Info().Int("activeWorkers", pool.n).Msg("adding workers")
	activeWorkers := 0
	for {
		select {
		case <-t.Dying():
			return
		default:
			if activeWorkers < pool.n {
				t.Go(func() error {
					err := pool.worker(t, work)
					activeWorkers--
					return err
				})
				activeWorkers++
			}
		}
	}
}

// worker waits on tasks in the pool and actions them.
func (pool *WorkerPool[T]) worker(t *tomb.Tomb, work WorkerFunction[T]) error {
	log.Debug().Msg("worker starting")
	select {
	case <-t.Dying():
		return nil
	case task := <-pool.tasks:
		if err := work(t, task); err != nil {
			log.Error().Err(err).Msg("worker exiting")
			return err
		}
	}
	return nil
}
