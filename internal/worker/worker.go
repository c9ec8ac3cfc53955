package worker

import (
	"context"

	"github.com/angelfsepulveda/customchatfree/internal/service/ai"
)

type JobType string

const (
	Complete JobType = "complete"
	Stop     JobType = "stop"
)

// Job is one unit of work handed to a worker.
type Job struct {
	Type JobType
	Task *completionTask
}

type completionTask struct {
	ctx      context.Context
	userID   int64
	req      ai.CompletionRequest
	resultCh chan string
}

type Worker struct {
	id         int
	pool       *jobChannelPool
	backend    Completer
	jobChannel chan Job
}

func NewWorker(id int, pool *jobChannelPool, backend Completer) *Worker {
	return &Worker{
		id:         id,
		pool:       pool,
		backend:    backend,
		jobChannel: make(chan Job),
	}
}

func (w *Worker) Start() {
	go func() {
		for {
			// offer ourselves as idle, then wait for the next job
			if !w.pool.Release(w.jobChannel) {
				w.pool.retire(w.jobChannel)
				return
			}
			job := <-w.jobChannel
			switch job.Type {
			case Complete:
				w.handleComplete(job.Task)
			case Stop:
				w.pool.retire(w.jobChannel)
				w.pool.log.Debug("worker stopped", "worker", w.id)
				return
			}
		}
	}()
}

func (w *Worker) handleComplete(task *completionTask) {
	if task == nil {
		return
	}
	// a caller that gave up while queued does not need the remote call
	if err := task.ctx.Err(); err != nil {
		task.resultCh <- ""
		return
	}
	task.resultCh <- w.backend.Complete(task.ctx, task.req)
}
