package executor

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"trustd/pkg/bus"
	"trustd/services/scheduler"
)

// Pool is a fixed-size set of execution slots. Each slot independently pulls
// jobs from the shared queue, runs the grader, and reports the outcome to the
// scheduler. Slot failures never take the pool down.
type Pool struct {
	queue    *bus.Queue
	ctrl     *scheduler.Controller
	grader   *Grader
	archiver *Archiver
	logger   *log.Logger
	size     int
}

// NewPool wires a pool of the given size. The archiver may be nil, in which
// case grader output is not persisted to object storage.
func NewPool(queue *bus.Queue, ctrl *scheduler.Controller, grader *Grader, archiver *Archiver, logger *log.Logger, size int) (*Pool, error) {
	if queue == nil {
		return nil, errors.New("queue is required")
	}
	if ctrl == nil {
		return nil, errors.New("controller is required")
	}
	if grader == nil {
		return nil, errors.New("grader is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if size <= 0 {
		size = 4
	}
	return &Pool{
		queue:    queue,
		ctrl:     ctrl,
		grader:   grader,
		archiver: archiver,
		logger:   logger,
		size:     size,
	}, nil
}

// Run blocks until ctx ends, keeping all slots pulling.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			p.runSlot(ctx, slot)
		}(i)
	}
	wg.Wait()
}

func (p *Pool) runSlot(ctx context.Context, slot int) {
	for {
		if ctx.Err() != nil {
			return
		}

		delivery, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Printf("ERROR slot %d dequeue: %v", slot, err)
			sleepCtx(ctx, time.Second)
			continue
		}
		if delivery == nil {
			continue
		}

		p.process(ctx, slot, delivery)
	}
}

// process runs one delivery end to end. The delivery is always settled
// exactly once according to the scheduler's disposition.
func (p *Pool) process(ctx context.Context, slot int, delivery *bus.Delivery) {
	job, err := p.ctrl.Begin(ctx, delivery.JobID)
	if err != nil {
		if errors.Is(err, scheduler.ErrJobNotFound) {
			// Row pruned or malformed id; nothing will ever run this.
			p.logger.Printf("WARN slot %d burying unknown job %s: %v", slot, delivery.JobID, err)
			_ = delivery.Bury()
			return
		}
		// Store hiccup: leave the job for redelivery.
		p.logger.Printf("ERROR slot %d begin job %s: %v", slot, delivery.JobID, err)
		_ = delivery.Nack()
		return
	}

	deadline := time.Now().UTC().Add(scheduler.DefaultAttemptBudget)
	if job.Deadline != nil {
		deadline = *job.Deadline
	}

	res := p.grader.invoke(ctx, job.Locator, deadline)

	logKey, archiveErr := p.archiver.Archive(ctx, job.ID.String(), job.Attempts, res.Stdout, res.Stderr)
	if archiveErr != nil {
		p.logger.Printf("ERROR slot %d archive logs for job %s: %v", slot, job.ID, archiveErr)
	}

	out := p.grader.evaluate(res)
	out.LogKey = logKey

	disposition, err := p.ctrl.Finish(ctx, job, out)
	if err != nil {
		p.logger.Printf("ERROR slot %d finish job %s: %v", slot, job.ID, err)
		_ = delivery.Nack()
		return
	}

	switch disposition {
	case scheduler.DisposeAck:
		if err := delivery.Ack(); err != nil {
			p.logger.Printf("ERROR slot %d ack job %s: %v", slot, job.ID, err)
		}
	case scheduler.DisposeRetry:
		if err := delivery.Nack(); err != nil {
			p.logger.Printf("ERROR slot %d nack job %s: %v", slot, job.ID, err)
		}
	case scheduler.DisposeBury:
		if err := delivery.Bury(); err != nil {
			p.logger.Printf("ERROR slot %d bury job %s: %v", slot, job.ID, err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
