package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/angelfsepulveda/customchatfree/internal/logger"
	"github.com/angelfsepulveda/customchatfree/internal/service/ai"
)

var (
	// ErrDispatcherBusy is returned when the job queue is full.
	ErrDispatcherBusy = errors.New("completion queue is full")
	// ErrDispatcherStopped is returned once Stop has been called.
	ErrDispatcherStopped = errors.New("completion dispatcher stopped")
)

// Completer produces the assistant reply for one request.
type Completer interface {
	Complete(ctx context.Context, req ai.CompletionRequest) string
}

type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
}

type userQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher runs completions on a bounded worker pool. Pending jobs are
// served round-robin across users so one busy user cannot starve the rest.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job // interface for outer jobs get in the dispatcher
	log      *logger.Logger

	mu        sync.Mutex
	queues    map[int64]*userQueue // job queue for each user
	ready     *list.List           // round-robin queue storing user IDs
	positions map[int64]*list.Element

	stopOnce sync.Once
	done     chan struct{}
}

func NewDispatcher(cfg DispatcherConfig, backend Completer, log *logger.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	pool := newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.WorkerIdleTimeout, backend, log)

	d := &Dispatcher{
		pool:      pool,
		JobQueue:  make(chan Job, cfg.QueueSize),
		log:       log,
		queues:    make(map[int64]*userQueue),
		ready:     list.New(),
		positions: make(map[int64]*list.Element),
		done:      make(chan struct{}),
	}

	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Complete queues req on behalf of userID and waits for the reply. It never
// blocks on a full queue: ErrDispatcherBusy is returned instead.
func (d *Dispatcher) Complete(ctx context.Context, userID int64, req ai.CompletionRequest) (string, error) {
	select {
	case <-d.done:
		return "", ErrDispatcherStopped
	default:
	}

	task := &completionTask{
		ctx:      ctx,
		userID:   userID,
		req:      req,
		resultCh: make(chan string, 1),
	}
	select {
	case d.JobQueue <- Job{Type: Complete, Task: task}:
	default:
		d.log.Warn("completion queue full", "user_id", userID, "model", req.Model)
		return "", ErrDispatcherBusy
	}

	select {
	case reply := <-task.resultCh:
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return reply, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-d.done:
		return "", ErrDispatcherStopped
	}
}

// Stop stops accepting work and retires the workers.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.done)
		d.pool.close()
	})
}

// Workers reports the number of live workers.
func (d *Dispatcher) Workers() int {
	return d.pool.size()
}

func (d *Dispatcher) run() {
	for {
		// dispatch one job of user in the front of the ready queue
		if !d.dispatchOne() {
			select {
			case job := <-d.JobQueue: // wait for work
				d.enqueueJob(job)
			case <-d.done:
				return
			}
			continue
		}
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		case <-d.done:
			return
		default:
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	userID := job.userID()

	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[userID]
	if q == nil {
		q = &userQueue{}
		d.queues[userID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[userID] = d.ready.PushBack(userID)
}

// dispatchOne hands the next job of the front user to a worker
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	userID := elem.Value.(int64)
	q := d.queues[userID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, userID)
		delete(d.queues, userID)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	if workerChan == nil {
		return false
	}
	d.log.Debug("dispatch completion", "user_id", userID, "worker", d.pool.workerID(workerChan), "model", job.Task.req.Model)
	workerChan <- job
	return true
}

func (job Job) userID() int64 {
	if job.Task == nil {
		return 0
	}
	return job.Task.userID
}
