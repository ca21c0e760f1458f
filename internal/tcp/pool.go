package tcp

// pool is a small fixed-size goroutine pool with a buffered job channel --
// the Go equivalent of original_source/Server.py's
// `multiprocessing.pool.ThreadPool(processes=max_pumps)`, so one slow pump
// cannot stall another client's unrelated request.
type pool struct {
	jobs chan func()
	done chan struct{}
}

func newPool(workers int) *pool {
	if workers < 1 {
		workers = 1
	}
	p := &pool{
		jobs: make(chan func(), workers*4),
		done: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

func (p *pool) worker() {
	for {
		select {
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			job()
		case <-p.done:
			return
		}
	}
}

// submit enqueues job, blocking if every worker and the job buffer are
// currently busy.
func (p *pool) submit(job func()) {
	p.jobs <- job
}

func (p *pool) stop() {
	close(p.done)
}
