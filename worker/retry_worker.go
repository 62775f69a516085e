package worker

import (
	"context"
	"log"
	"time"

	syncengine "chatmirror/sync"
)

// RetryWorker requeues transiently failed downloads so the next sync pass
// picks them up again. Attachments at the attempt cap stay failed until an
// operator retries them explicitly.
type RetryWorker struct {
	store       *syncengine.StateStore
	interval    time.Duration
	maxAttempts int
	logger      *log.Logger
}

func NewRetryWorker(store *syncengine.StateStore, interval time.Duration, maxAttempts int, logger *log.Logger) *RetryWorker {
	return &RetryWorker{
		store:       store,
		interval:    interval,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

func (rw *RetryWorker) Start(ctx context.Context) {
	rw.logger.Println("Starting retry worker...")
	ticker := time.NewTicker(rw.interval)

	for {
		select {
		case <-ticker.C:
			rw.requeue()
		case <-ctx.Done():
			rw.logger.Println("Stopping retry worker...")
			ticker.Stop()
			return
		}
	}
}

func (rw *RetryWorker) requeue() {
	count, err := rw.store.RequeueTransient(rw.maxAttempts)
	if err != nil {
		rw.logger.Printf("Failed to requeue transient failures: %v", err)
		return
	}
	if count > 0 {
		rw.logger.Printf("Requeued %d transiently failed downloads", count)
	}
}
