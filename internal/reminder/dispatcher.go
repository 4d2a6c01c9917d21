package reminder

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"marketplace-gateway/internal/util"
)

// Subscription is one vendor subscription nearing renewal.
type Subscription struct {
	VendorID string
	Email    string
	RenewsAt string
}

// Source lists subscriptions due for a reminder. The marketplace backend
// owns the data; the gateway only triggers the sweep.
type Source interface {
	DueSubscriptions(ctx context.Context) ([]Subscription, error)
}

// Notifier delivers one reminder.
type Notifier interface {
	Notify(ctx context.Context, sub Subscription) error
}

// Dispatcher fans reminder deliveries out with bounded concurrency. One
// failed delivery does not abort the sweep; failures are logged and counted.
type Dispatcher struct {
	source   Source
	notifier Notifier
	workers  int
}

func NewDispatcher(source Source, notifier Notifier, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 8
	}
	return &Dispatcher{source: source, notifier: notifier, workers: workers}
}

// Run performs one sweep and returns how many reminders were dispatched.
func (d *Dispatcher) Run(ctx context.Context) (int, error) {
	subs, err := d.source.DueSubscriptions(ctx)
	if err != nil {
		return 0, err
	}

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(d.workers)

	sent := 0
	results := make(chan struct{}, len(subs))

	for _, sub := range subs {
		sub := sub
		group.Go(func() error {
			if err := d.notifier.Notify(ctx, sub); err != nil {
				util.Warn("Reminder delivery failed",
					zap.String("vendor_id", sub.VendorID),
					zap.Error(err))
				return nil
			}
			results <- struct{}{}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return sent, err
	}
	close(results)
	for range results {
		sent++
	}

	util.Info("Reminder sweep completed",
		zap.Int("due", len(subs)),
		zap.Int("sent", sent))
	return sent, nil
}

// NopSource is the development source: no due subscriptions.
type NopSource struct{}

func (NopSource) DueSubscriptions(ctx context.Context) ([]Subscription, error) {
	return nil, nil
}

// LogNotifier logs instead of delivering.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, sub Subscription) error {
	util.Info("Subscription reminder (log notifier)",
		zap.String("vendor_id", sub.VendorID),
		zap.String("renews_at", sub.RenewsAt))
	return nil
}
