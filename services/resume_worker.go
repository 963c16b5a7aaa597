package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/krshsl/mockprep/queue"
)

// ResumeJobConsumer delivers queued summary jobs to a handler.
type ResumeJobConsumer interface {
	ConsumeResumeJobs(ctx context.Context, workerID int, handle queue.ResumeJobHandler) error
}

const (
	defaultConsumerMinBackoff = time.Second
	defaultConsumerMaxBackoff = 30 * time.Second
)

// ResumeWorker runs a pool of consumers that build resume summaries.
type ResumeWorker struct {
	consumer ResumeJobConsumer
	resumes  *ResumeService
	workers  int

	minBackoff time.Duration
	maxBackoff time.Duration
}

func NewResumeWorker(consumer ResumeJobConsumer, resumes *ResumeService, workers int) *ResumeWorker {
	if workers <= 0 {
		workers = 2
	}
	return &ResumeWorker{
		consumer:   consumer,
		resumes:    resumes,
		workers:    workers,
		minBackoff: defaultConsumerMinBackoff,
		maxBackoff: defaultConsumerMaxBackoff,
	}
}

// Run blocks until ctx is cancelled. A consumer that stops, for instance
// because the broker restarted, is started again after a backoff.
func (w *ResumeWorker) Run(ctx context.Context) error {
	slog.Info("Starting resume worker pool", "workers", w.workers)

	var wg sync.WaitGroup
	for i := range w.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.supervise(ctx, i+1)
		}()
	}
	wg.Wait()
	return nil
}

func (w *ResumeWorker) supervise(ctx context.Context, workerID int) {
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = w.minBackoff
	retry.MaxInterval = w.maxBackoff

	for {
		started := time.Now()
		err := w.consumer.ConsumeResumeJobs(ctx, workerID, w.resumes.HandleJob)
		if ctx.Err() != nil {
			return
		}

		// a consumer that ran for a while had a working connection
		if time.Since(started) > w.maxBackoff {
			retry.Reset()
		}
		wait := retry.NextBackOff()
		slog.Warn("Resume consumer stopped, restarting", "worker_id", workerID, "error", err, "backoff", wait)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}
