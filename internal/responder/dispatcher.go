package responder

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

// ErrDispatcherBusy signals that the intake queue is full; the caller may
// retry later, the inbound message itself is already persisted.
var ErrDispatcherBusy = errors.New("responder queue full")

type jobType int

const (
	replyJob jobType = iota
	stopJob
)

// Job is one unit of responder work, keyed by conversation.
type Job struct {
	Type           jobType
	AccountID      string
	ConversationID string
}

type convQueue struct {
	jobs     []Job
	enqueued bool
	inflight bool
}

type DispatcherConfig struct {
	MinWorkers        int
	MaxWorkers        int
	QueueSize         int
	WorkerIdleTimeout time.Duration
}

// Dispatcher fans reply jobs out to the worker pool. Jobs for one
// conversation run strictly one at a time; across conversations the ready
// list rotates LRU so a chatty conversation cannot starve the rest.
type Dispatcher struct {
	pool     *jobChannelPool
	jobQueue chan Job
	wake     chan struct{}
	manager  *Manager

	mu     sync.Mutex
	queues map[string]*convQueue // pending jobs per conversation
	ready  *list.List            // LRU queue of conversation ids
}

func newDispatcher(cfg DispatcherConfig, manager *Manager) *Dispatcher {
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = 1
	}
	if cfg.MaxWorkers < cfg.MinWorkers {
		cfg.MaxWorkers = cfg.MinWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}

	d := &Dispatcher{
		queues:   make(map[string]*convQueue),
		ready:    list.New(),
		jobQueue: make(chan Job, cfg.QueueSize),
		wake:     make(chan struct{}, 1),
		manager:  manager,
	}
	d.pool = newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.WorkerIdleTimeout, d)

	for i := 0; i < cfg.MinWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit places a job on the intake queue without blocking.
func (d *Dispatcher) Submit(job Job) error {
	select {
	case d.jobQueue <- job:
		return nil
	default:
		return ErrDispatcherBusy
	}
}

func (d *Dispatcher) run() {
	for {
		// Hand out one job for the conversation at the front of the LRU.
		if !d.dispatchOne() {
			// Nothing dispatchable: block until new work arrives or a
			// running job finishes and re-arms its conversation.
			select {
			case job := <-d.jobQueue:
				d.enqueueJob(job)
			case <-d.wake:
			}
			continue
		}
		select {
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		default:
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	key := job.ConversationID

	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[key]
	if q == nil {
		q = &convQueue{}
		d.queues[key] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued || q.inflight {
		// already ready, or must wait for the running job to finish
		return
	}
	q.enqueued = true
	d.ready.PushBack(key)
}

// dispatchOne pops the first ready conversation's next job and hands it to a
// worker. The conversation leaves the ready list until jobDone re-arms it.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	key := elem.Value.(string)
	q := d.queues[key]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	q.enqueued = false
	q.inflight = true
	d.ready.Remove(elem)
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	debugLog("[responder] assign reply job for conversation %s", key)
	workerChan <- job
	return true
}

// jobDone is called by workers after finishing a job; it re-arms the
// conversation if more jobs queued up while it was running.
func (d *Dispatcher) jobDone(key string) {
	d.mu.Lock()
	q := d.queues[key]
	if q == nil {
		d.mu.Unlock()
		return
	}
	q.inflight = false
	if len(q.jobs) == 0 {
		delete(d.queues, key)
		d.mu.Unlock()
		return
	}
	q.enqueued = true
	d.ready.PushBack(key)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}
