package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	syncengine "chatmirror/sync"
	"chatmirror/utils"
)

// SyncWorker drives the periodic mirror pass over every tracked conversation
// and active mail source.
type SyncWorker struct {
	engine   *syncengine.Service
	interval time.Duration
	notifier *utils.Notifier
	logger   *log.Logger
}

func NewSyncWorker(engine *syncengine.Service, interval time.Duration, logger *log.Logger) *SyncWorker {
	return &SyncWorker{
		engine:   engine,
		interval: interval,
		notifier: utils.NewNotifier(),
		logger:   logger,
	}
}

func (sw *SyncWorker) Start(ctx context.Context) {
	sw.logger.Println("Starting sync worker...")
	ticker := time.NewTicker(sw.interval)

	for {
		select {
		case <-ticker.C:
			sw.runPass(ctx)
		case <-ctx.Done():
			sw.logger.Println("Stopping sync worker...")
			ticker.Stop()
			return
		}
	}
}

func (sw *SyncWorker) runPass(ctx context.Context) {
	sw.logger.Println("Running scheduled sync pass...")
	started := time.Now()

	summaries := sw.engine.SyncAll(ctx)

	var completed, failed int
	reasons := map[string]int{}
	for _, s := range summaries {
		completed += s.DownloadsCompleted
		failed += s.DownloadsFailed
		for reason, n := range s.FailureReasons {
			reasons[reason] += n
		}
	}

	sw.logger.Printf("Sync pass done in %s: %d conversations, %d downloads completed, %d failed",
		time.Since(started).Round(time.Second), len(summaries), completed, failed)

	if failed > 0 {
		sw.notifyFailures(len(summaries), completed, failed, reasons)
	}
}

func (sw *SyncWorker) notifyFailures(conversations, completed, failed int, reasons map[string]int) {
	if !sw.notifier.Enabled() {
		return
	}

	body := fmt.Sprintf(
		"Scheduled sync pass finished with failures.\n\n"+
			"Conversations: %d\nDownloads completed: %d\nDownloads failed: %d\n\nFailure reasons:\n",
		conversations, completed, failed)
	for reason, n := range reasons {
		body += fmt.Sprintf("  %s: %d\n", reason, n)
	}

	if err := sw.notifier.Send("Sync pass completed with failures", body); err != nil {
		sw.logger.Printf("Failed to send failure notification: %v", err)
	}
}
