package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type listSource struct {
	subs []Subscription
	err  error
}

func (s listSource) DueSubscriptions(ctx context.Context) ([]Subscription, error) {
	return s.subs, s.err
}

type countingNotifier struct {
	mu       sync.Mutex
	notified []string
	failFor  map[string]bool
}

func (n *countingNotifier) Notify(ctx context.Context, sub Subscription) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failFor[sub.VendorID] {
		return errors.New("delivery failed")
	}
	n.notified = append(n.notified, sub.VendorID)
	return nil
}

func TestRunDispatchesAllDue(t *testing.T) {
	source := listSource{subs: []Subscription{
		{VendorID: "v1", Email: "v1@example.com"},
		{VendorID: "v2", Email: "v2@example.com"},
		{VendorID: "v3", Email: "v3@example.com"},
	}}
	notifier := &countingNotifier{}

	sent, err := NewDispatcher(source, notifier, 2).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sent)
	assert.Len(t, notifier.notified, 3)
}

func TestRunToleratesPerItemFailures(t *testing.T) {
	source := listSource{subs: []Subscription{
		{VendorID: "v1"},
		{VendorID: "v2"},
		{VendorID: "v3"},
	}}
	notifier := &countingNotifier{failFor: map[string]bool{"v2": true}}

	sent, err := NewDispatcher(source, notifier, 2).Run(context.Background())
	require.NoError(t, err, "one failed delivery does not abort the sweep")
	assert.Equal(t, 2, sent)
}

func TestRunPropagatesSourceError(t *testing.T) {
	source := listSource{err: errors.New("backend unreachable")}

	sent, err := NewDispatcher(source, &countingNotifier{}, 2).Run(context.Background())
	assert.Error(t, err)
	assert.Zero(t, sent)
}

func TestRunWithNopSource(t *testing.T) {
	sent, err := NewDispatcher(NopSource{}, LogNotifier{}, 0).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sent)
}
