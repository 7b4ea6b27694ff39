package replication

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/spacesync/internal/core/models"
	"github.com/zeusync/spacesync/internal/core/observability/log"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newQueue(config Config) (*Queue, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	return NewQueue(config, log.NewNop(), WithClock(clock.Now)), clock
}

type capture struct {
	sent []PendingUpdate
	fail error
}

func (c *capture) send(u *PendingUpdate) error {
	if c.fail != nil {
		return c.fail
	}
	c.sent = append(c.sent, *u)
	return nil
}

func TestMarksCoalesce(t *testing.T) {
	q, _ := newQueue(DefaultConfig())
	id := models.DurableID(1, 1)

	q.MarkDirty(id, true)
	q.MarkDirty(id, false, 2)
	q.MarkDirty(id, false, 2, 3)
	q.MarkOwner(id)

	require.Equal(t, 1, q.Len())
	u, ok := q.Pending(id)
	require.True(t, ok)
	assert.True(t, u.Transform)
	assert.True(t, u.Owner)
	assert.Equal(t, []models.ComponentID{2, 3}, u.DirtyComponents())

	q.MarkRemoved(id, 3)
	assert.Equal(t, []models.ComponentID{2}, u.DirtyComponents())
	assert.Equal(t, []models.ComponentID{3}, u.RemovedComponents())

	q.MarkLock(id)
	q.MarkSelection(id)
	q.MarkParent(id)
	require.Equal(t, 1, q.Len())
	assert.True(t, u.Lock)
	assert.True(t, u.Selection)
	assert.True(t, u.Parent)
}

func TestFlushRespectsBudgetAndOrder(t *testing.T) {
	q, _ := newQueue(DefaultConfig())
	for i := uint32(1); i <= 5; i++ {
		q.MarkDirty(models.DurableID(1, i), true)
	}

	c := &capture{}
	res, err := q.Flush(2, c.send)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 3, res.Remaining)
	require.Len(t, c.sent, 2)
	assert.Equal(t, models.DurableID(1, 1), c.sent[0].EntityID)
	assert.Equal(t, models.DurableID(1, 2), c.sent[1].EntityID)

	res, err = q.Flush(10, c.send)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Sent)
	assert.Zero(t, res.Remaining)
}

func TestFailedSendKeepsUpdates(t *testing.T) {
	q, _ := newQueue(DefaultConfig())
	q.MarkDirty(models.DurableID(1, 1), true)
	q.MarkDirty(models.DurableID(1, 2), true)

	c := &capture{fail: errors.New("disconnected")}
	res, err := q.Flush(10, c.send)
	require.Error(t, err)
	assert.Equal(t, 2, res.Remaining)
	assert.Equal(t, 2, q.Len())

	c.fail = nil
	res, err = q.Flush(10, c.send)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Zero(t, q.Len())
}

func TestEntityPatchRateDefersPatches(t *testing.T) {
	q, clock := newQueue(DefaultConfig())
	id := models.DurableID(1, 1)
	c := &capture{}

	q.MarkDirty(id, true)
	_, err := q.Flush(10, c.send)
	require.NoError(t, err)

	clock.Advance(30 * time.Millisecond)
	q.MarkDirty(id, true)
	res, err := q.Flush(10, c.send)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deferred)
	assert.Equal(t, 1, res.Remaining)

	clock.Advance(60 * time.Millisecond)
	res, err = q.Flush(10, c.send)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Len(t, c.sent, 2)
}

func TestDestroyIsNotDeferred(t *testing.T) {
	q, _ := newQueue(DefaultConfig())
	id := models.DurableID(1, 1)
	c := &capture{}

	q.MarkDirty(id, true)
	_, err := q.Flush(10, c.send)
	require.NoError(t, err)

	q.MarkDirty(id, false, 1)
	q.MarkDestroyed(id)
	res, err := q.Flush(10, c.send)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	require.Len(t, c.sent, 2)
	assert.True(t, c.sent[1].Destroy)
	assert.Empty(t, c.sent[1].Components)
}

func TestDestroyOfUnreplicatedEntityIsForgotten(t *testing.T) {
	q, _ := newQueue(DefaultConfig())
	id := models.ProvisionalID(1)
	q.MarkCreated(id)
	q.MarkDirty(id, true)

	q.MarkDestroyed(id)
	assert.Zero(t, q.Len())
}

func TestFrameLimiter(t *testing.T) {
	q, clock := newQueue(Config{FramesPerSecond: 10, FrameBurst: 2})
	for i := uint32(1); i <= 4; i++ {
		q.MarkDirty(models.DurableID(1, i), true)
	}
	c := &capture{}

	res, err := q.Flush(10, c.send)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 2, res.Remaining)

	clock.Advance(100 * time.Millisecond)
	res, err = q.Flush(10, c.send)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)

	res, err = q.FlushAll(c.send)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Zero(t, res.Remaining)
}

func TestEntityGoneIsDropped(t *testing.T) {
	q, _ := newQueue(DefaultConfig())
	q.MarkDirty(models.DurableID(1, 1), true)
	q.MarkDirty(models.DurableID(1, 2), true)

	calls := 0
	res, err := q.Flush(10, func(u *PendingUpdate) error {
		calls++
		if u.EntityID == models.DurableID(1, 1) {
			return ErrEntityGone
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, res.Dropped)
	assert.Equal(t, 1, res.Sent)
	assert.Zero(t, q.Len())
}

func TestRekeyDuringSend(t *testing.T) {
	q, _ := newQueue(DefaultConfig())
	from := models.ProvisionalID(4)
	to := models.DurableID(2, 4)
	q.MarkCreated(from)

	_, err := q.Flush(1, func(u *PendingUpdate) error {
		q.Rekey(from, to)
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, q.Len())

	q.MarkDirty(to, true)
	u, ok := q.Pending(to)
	require.True(t, ok)
	assert.False(t, u.Create)
}
