package agent

import (
	"context"
	"errors"
	"sync"
)

var ErrSpoolerClosed = errors.New("agent: spooler closed")

// Job is one unit of printer work. It runs on the spooler goroutine.
type Job func(ctx context.Context) error

type spoolRequest struct {
	ctx context.Context
	job Job
	res chan error
}

// Spooler runs print jobs one at a time on a single goroutine, so the agent
// holds at most one printer link.
type Spooler struct {
	jobs chan spoolRequest
	quit chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// NewSpooler starts the worker. queue is how many jobs may wait behind the
// running one before Submit blocks.
func NewSpooler(queue int) *Spooler {
	if queue < 0 {
		queue = 0
	}
	s := &Spooler{jobs: make(chan spoolRequest, queue), quit: make(chan struct{})}
	s.wg.Add(1)
	go s.loop()
	return s
}

func (s *Spooler) loop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.quit:
			return
		case req := <-s.jobs:
			if err := req.ctx.Err(); err != nil {
				req.res <- err
				continue
			}
			req.res <- req.job(req.ctx)
		}
	}
}

// Submit queues job and waits for its result. If ctx ends first Submit
// returns ctx.Err(); a job that already started sees the same ctx.
func (s *Spooler) Submit(ctx context.Context, job Job) error {
	req := spoolRequest{ctx: ctx, job: job, res: make(chan error, 1)}
	select {
	case <-s.quit:
		return ErrSpoolerClosed
	case <-ctx.Done():
		return ctx.Err()
	case s.jobs <- req:
	}
	select {
	case err := <-req.res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.quit:
		return ErrSpoolerClosed
	}
}

// Close stops the worker after the running job returns. Queued jobs are
// dropped and their callers get ErrSpoolerClosed.
func (s *Spooler) Close() {
	s.once.Do(func() { close(s.quit) })
	s.wg.Wait()
}
