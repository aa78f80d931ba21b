package responder

type worker struct {
	pool       *jobChannelPool
	dispatcher *Dispatcher
	jobChannel chan Job
}

func newWorker(pool *jobChannelPool, dispatcher *Dispatcher) *worker {
	return &worker{
		pool:       pool,
		dispatcher: dispatcher,
		jobChannel: make(chan Job),
	}
}

func (w *worker) start() {
	go func() {
		for job := range w.jobChannel {
			if job.Type == stopJob {
				w.pool.retire(w.jobChannel)
				return
			}
			w.dispatcher.manager.handleReply(job)
			w.dispatcher.jobDone(job.ConversationID)
			w.pool.release(w.jobChannel)
		}
	}()
}
