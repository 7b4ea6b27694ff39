package bus

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testObserver struct {
	publishCount   int
	deliveredCount int
	lastErr        error
}

func (o *testObserver) OnPublish(_, _ string, _ Event) {
	o.publishCount++
}

func (o *testObserver) OnDelivered(_, _ string, handlers int, err error, _ time.Duration) {
	o.deliveredCount += handlers
	o.lastErr = err
}

func TestPublishInSubscriptionOrder(t *testing.T) {
	b := New()
	var order []int
	for i := range 5 {
		_, err := b.Subscribe("ev", func(Event) error { order = append(order, i); return nil })
		require.NoError(t, err)
	}

	require.NoError(t, b.Publish(NewEvent("ev", "test", nil)))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestPublishJoinsHandlerErrors(t *testing.T) {
	b := New()
	errA, errB := errors.New("a"), errors.New("b")
	_, _ = b.Subscribe("ev", func(Event) error { return errA })
	_, _ = b.Subscribe("ev", func(Event) error { return nil })
	_, _ = b.Subscribe("ev", func(Event) error { return errB })

	err := b.Publish(NewEvent("ev", "test", nil))
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
}

func TestCancelDuringDeliverySkipsLaterHandler(t *testing.T) {
	b := New()
	var second Subscription
	calls := 0
	_, _ = b.Subscribe("ev", func(Event) error {
		calls++
		return second.Cancel()
	})
	second, _ = b.Subscribe("ev", func(Event) error {
		calls++
		return nil
	})

	require.NoError(t, b.Publish(NewEvent("ev", "test", nil)))
	assert.Equal(t, 1, calls)
	assert.False(t, second.IsActive())
	assert.NoError(t, second.Cancel())
}

func TestTopicsIsolation(t *testing.T) {
	b := New()
	count1, count2 := 0, 0
	_, _ = b.SubscribeTopic("t1", "ev", func(Event) error { count1++; return nil })
	_, _ = b.SubscribeTopic("t2", "ev", func(Event) error { count2++; return nil })

	_ = b.PublishToTopic("t1", NewEvent("ev", "src", nil))
	assert.Equal(t, 1, count1)
	assert.Equal(t, 0, count2)

	b.CloseTopic("t1")
	_ = b.PublishToTopic("t1", NewEvent("ev", "src", nil))
	assert.Equal(t, 1, count1)

	topics := b.GetTopics()
	require.Len(t, topics, 1)
	assert.Equal(t, "t2", topics[0].Name)
	assert.Equal(t, 1, topics[0].Subs)
}

func TestFiltersDropSilently(t *testing.T) {
	b := New()
	called := false
	_, _ = b.Subscribe("ev", func(Event) error { called = true; return nil })
	obs := &testObserver{}
	b.AddObserver(obs)

	err := b.PublishWithFilters(NewEvent("ev", "src", nil), func(Event) bool { return false })
	assert.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, uint64(1), b.GetMetrics().DroppedByFilters)
}

func TestObserverMetricsOptional(t *testing.T) {
	b := New()
	_, _ = b.Subscribe("e", func(Event) error { return nil })
	_ = b.Publish(NewEvent("e", "s", nil))
	assert.Zero(t, b.GetMetrics().Published)

	obs := &testObserver{}
	b.AddObserver(obs)
	_ = b.Publish(NewEvent("e", "s", nil))
	m := b.GetMetrics()
	assert.Equal(t, uint64(1), m.Published)
	assert.Equal(t, uint64(1), m.DeliveredHandlers)
	assert.Equal(t, 1, obs.publishCount)
	assert.Equal(t, 1, obs.deliveredCount)

	b.RemoveObserver(obs)
	_ = b.Publish(NewEvent("e", "s", nil))
	assert.Equal(t, 1, obs.publishCount)
}

func TestSubscribeRejectsNilHandler(t *testing.T) {
	_, err := New().Subscribe("e", nil)
	assert.ErrorIs(t, err, ErrNilHandler)
}
