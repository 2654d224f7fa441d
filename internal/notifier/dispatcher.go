package notifier

import (
	"context"
	"log"
	"time"

	"revista-press/internal/models"
	"revista-press/internal/telemetry"
)

// Store is the slice of persistence the dispatcher needs.
type Store interface {
	PendingNotifications(ctx context.Context, limit int) ([]models.Notification, error)
	MarkNotified(ctx context.Context, jobID string) (bool, error)
	CountStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Mailer delivers one terminal-status message.
type Mailer interface {
	SendCompletion(ctx context.Context, n models.Notification) error
}

// Summary reports one run for operational visibility.
type Summary struct {
	Attempted int
	Notified  int
	Stale     int64
}

// Dispatcher periodically emails authors whose jobs reached a terminal
// status. Delivery is at-least-once: the notified flag is flipped only after
// a send succeeds, so a crash in between can duplicate one email but never
// lose one.
type Dispatcher struct {
	store      Store
	mailer     Mailer
	batchSize  int
	interval   time.Duration
	staleAfter time.Duration
}

func New(st Store, m Mailer, batchSize int, interval, staleAfter time.Duration) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 10
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Dispatcher{
		store:      st,
		mailer:     m,
		batchSize:  batchSize,
		interval:   interval,
		staleAfter: staleAfter,
	}
}

// Run executes RunOnce on a fixed interval until the context is cancelled.
// Overlap between runs is not prevented here; the conditional MarkNotified
// update keeps concurrent runs from double-flipping the flag.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		summary, err := d.RunOnce(ctx)
		if err != nil {
			log.Printf("notifier: run failed: %v", err)
		} else {
			log.Printf("notifier: attempted=%d notified=%d stale=%d", summary.Attempted, summary.Notified, summary.Stale)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce processes one bounded batch. Jobs are handled independently and
// sequentially: a failing mail transport for one job must never abort the
// rest of the batch, and sequential sends keep the burst rate at the email
// provider bounded.
func (d *Dispatcher) RunOnce(ctx context.Context) (Summary, error) {
	batch, err := d.store.PendingNotifications(ctx, d.batchSize)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Attempted: len(batch)}
	for _, n := range batch {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if err := d.mailer.SendCompletion(ctx, n); err != nil {
			// Left unmarked on purpose: the next run retries this job.
			log.Printf("notifier: send for job=%s failed: %v", n.JobID, err)
			telemetry.NotificationFailures.Inc()
			continue
		}
		marked, err := d.store.MarkNotified(ctx, n.JobID)
		if err != nil {
			log.Printf("notifier: mark for job=%s failed after send: %v", n.JobID, err)
			telemetry.NotificationFailures.Inc()
			continue
		}
		if !marked {
			// A concurrent run won the flag. The author may receive a
			// duplicate; that beats never hearing back.
			log.Printf("notifier: job=%s already marked by another run", n.JobID)
			continue
		}
		summary.Notified++
		telemetry.NotificationsSent.Inc()
	}

	if d.staleAfter > 0 {
		if stale, err := d.store.CountStale(ctx, d.staleAfter); err == nil {
			summary.Stale = stale
		}
	}
	return summary, nil
}
