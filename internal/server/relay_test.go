package server

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/spacesync/internal/core/models"
	"github.com/zeusync/spacesync/internal/core/observability/log"
	"github.com/zeusync/spacesync/internal/core/observability/metrics"
	"github.com/zeusync/spacesync/internal/core/protocol"
	"github.com/zeusync/spacesync/internal/core/protocol/middlewares"
	"github.com/zeusync/spacesync/internal/core/replicated"
)

func newTestRelay(mws ...protocol.Middleware) *Relay {
	return NewRelay(DefaultRelayConfig(), protocol.NewChain(mws...), log.NewNop(), metrics.NewIsolated())
}

func join(t *testing.T, r *Relay, spaceID string) (*LoopbackTransport, *protocol.Welcome) {
	t.Helper()
	tr := NewLoopbackTransport(r)
	w, err := tr.Connect(context.Background(), protocol.Join{SpaceID: spaceID, UserID: "u"})
	require.NoError(t, err)
	return tr, w
}

func types(frames []*protocol.Frame) []protocol.MessageType {
	out := make([]protocol.MessageType, 0, len(frames))
	for _, f := range frames {
		out = append(out, f.Type)
	}
	return out
}

func objectState(id models.EntityID, owner models.ClientID, typ models.EntityType) models.EntityState {
	return models.EntityState{ID: id, Type: typ, Owner: owner, Name: "thing", Transform: models.DefaultTransform()}
}

func TestJoinAssignsMonotonicIDsPerSpace(t *testing.T) {
	r := newTestRelay()
	_, w1 := join(t, r, "a")
	_, w2 := join(t, r, "a")
	_, w3 := join(t, r, "b")

	assert.Equal(t, models.ClientID(1), w1.ClientID)
	assert.Equal(t, models.ClientID(2), w2.ClientID)
	assert.Equal(t, models.ClientID(1), w3.ClientID)
	assert.Equal(t, []models.ClientID{1, 2}, w2.Members)
	assert.NotEmpty(t, w2.SessionID)
	assert.NotEqual(t, w1.SessionID, w2.SessionID)
	assert.Equal(t, int64(3), r.Clients())
	assert.Len(t, r.Spaces(), 2)
}

func TestJoinRequiresSpaceID(t *testing.T) {
	r := newTestRelay()
	_, err := NewLoopbackTransport(r).Connect(context.Background(), protocol.Join{})
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestJoinHonorsMiddleware(t *testing.T) {
	r := newTestRelay(middlewares.NewAccessMiddleware([]string{"open"}))
	_, err := NewLoopbackTransport(r).Connect(context.Background(), protocol.Join{SpaceID: "closed"})
	assert.ErrorIs(t, err, middlewares.ErrSpaceNotAllowed)

	_, w := join(t, r, "open")
	assert.Equal(t, models.ClientID(1), w.ClientID)
}

func TestMaxClients(t *testing.T) {
	cfg := DefaultRelayConfig()
	cfg.MaxClients = 1
	r := NewRelay(cfg, protocol.NewChain(), log.NewNop(), nil)
	join(t, r, "a")
	_, err := NewLoopbackTransport(r).Connect(context.Background(), protocol.Join{SpaceID: "a"})
	assert.ErrorIs(t, err, ErrMaxClientsReached)
}

func TestLateJoinerGetsSnapshotsThenOthersLearnAboutIt(t *testing.T) {
	r := newTestRelay()
	a, _ := join(t, r, "s")
	require.NoError(t, a.Send(protocol.NewEntityCreate(objectState(models.DurableID(1, 2), 1, models.EntityTypeObject))))
	require.NoError(t, a.Send(protocol.NewEntityCreate(objectState(models.DurableID(1, 1), 1, models.EntityTypeAvatar))))
	name := "renamed"
	require.NoError(t, a.Send(protocol.NewEntityUpdate(models.EntityPatch{ID: models.DurableID(1, 1), Name: &name})))

	b, _ := join(t, r, "s")
	frames := b.Drain()
	require.Equal(t, []protocol.MessageType{protocol.MessageTypeEntityCreate, protocol.MessageTypeEntityCreate}, types(frames))
	assert.Equal(t, models.DurableID(1, 1), frames[0].Create.ID)
	assert.Equal(t, "renamed", frames[0].Create.Name)
	assert.Equal(t, models.DurableID(1, 2), frames[1].Create.ID)

	got := a.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, protocol.MessageTypeClientJoined, got[0].Type)
	assert.Equal(t, models.ClientID(2), got[0].Client)
}

func TestEntityFramesFanOutToOthers(t *testing.T) {
	r := newTestRelay()
	a, _ := join(t, r, "s")
	b, _ := join(t, r, "s")
	c, _ := join(t, r, "s")
	a.Drain()
	b.Drain()
	c.Drain()

	require.NoError(t, b.Send(protocol.NewEntityCreate(objectState(models.DurableID(2, 1), 2, models.EntityTypeObject))))
	require.NoError(t, b.Send(protocol.NewEntityDestroy(models.DurableID(2, 1))))

	assert.Empty(t, b.Drain())
	for _, tr := range []*LoopbackTransport{a, c} {
		frames := tr.Drain()
		require.Equal(t, []protocol.MessageType{protocol.MessageTypeEntityCreate, protocol.MessageTypeEntityDestroy}, types(frames))
		assert.Equal(t, models.ClientID(2), frames[0].From)
	}
	info, err := r.Space("s")
	require.NoError(t, err)
	assert.Equal(t, 0, info.Entities)
}

func TestEventRouting(t *testing.T) {
	r := newTestRelay()
	a, _ := join(t, r, "s")
	b, _ := join(t, r, "s")
	c, _ := join(t, r, "s")
	a.Drain()
	b.Drain()
	c.Drain()

	vals := []replicated.Value{replicated.Int64(7)}

	require.NoError(t, a.Send(protocol.NewNetworkEvent("all", vals, 0)))
	assert.Empty(t, a.Drain())
	assert.Len(t, b.Drain(), 1)
	assert.Len(t, c.Drain(), 1)

	require.NoError(t, a.Send(protocol.NewNetworkEvent("one", vals, 3)))
	assert.Empty(t, b.Drain())
	got := c.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, "one", got[0].Event.Name)
	assert.Equal(t, models.ClientID(1), got[0].From)
	assert.Equal(t, int64(7), got[0].Event.Values[0].AsInt64())

	require.NoError(t, a.Send(protocol.NewNetworkEvent("self", vals, 1)))
	echo := a.Drain()
	require.Len(t, echo, 1)
	assert.Equal(t, "self", echo[0].Event.Name)

	err := a.Send(protocol.NewNetworkEvent("nobody", vals, 42))
	assert.ErrorIs(t, err, ErrClientNotFound)
}

func TestClientFramesOnlyRouteAllowedTypes(t *testing.T) {
	r := newTestRelay()
	a, _ := join(t, r, "s")
	err := a.Send(protocol.NewClientJoined(5))
	assert.ErrorIs(t, err, ErrInvalidMessage)

	err = a.Send(&protocol.Frame{Type: protocol.MessageTypeEntityCreate})
	assert.True(t, errors.Is(err, protocol.ErrMissingPayload))
}

func TestLeaveHandsOffOwnership(t *testing.T) {
	r := newTestRelay()
	a, _ := join(t, r, "s")
	b, _ := join(t, r, "s")
	c, _ := join(t, r, "s")

	avatar := models.DurableID(1, 1)
	object := models.DurableID(1, 2)
	require.NoError(t, a.Send(protocol.NewEntityCreate(objectState(avatar, 1, models.EntityTypeAvatar))))
	require.NoError(t, a.Send(protocol.NewEntityCreate(objectState(object, 1, models.EntityTypeObject))))
	b.Drain()
	c.Drain()

	require.NoError(t, a.Disconnect(context.Background()))
	assert.False(t, a.Connected())
	assert.ErrorIs(t, a.Send(protocol.NewLeave()), protocol.ErrNotConnected)

	for _, tr := range []*LoopbackTransport{b, c} {
		frames := tr.Drain()
		require.Equal(t, []protocol.MessageType{
			protocol.MessageTypeEntityDestroy,
			protocol.MessageTypeEntityUpdate,
			protocol.MessageTypeClientLeft,
		}, types(frames))
		assert.Equal(t, avatar, frames[0].Destroy.ID)
		assert.Equal(t, object, frames[1].Update.ID)
		require.NotNil(t, frames[1].Update.Owner)
		assert.Equal(t, models.ClientID(2), *frames[1].Update.Owner)
		assert.Equal(t, models.ClientID(1), frames[2].Client)
	}

	d, _ := join(t, r, "s")
	frames := d.Drain()
	require.Len(t, frames, 1)
	assert.Equal(t, models.ClientID(2), frames[0].Create.Owner)
	assert.Equal(t, models.EntityTypeObject, frames[0].Create.Type)
}

func TestEmptySpaceIsRemoved(t *testing.T) {
	r := newTestRelay()
	a, _ := join(t, r, "s")
	require.NoError(t, a.Send(protocol.NewEntityCreate(objectState(models.DurableID(1, 1), 1, models.EntityTypeObject))))
	a.Drop()

	assert.Empty(t, r.Spaces())
	_, err := r.Space("s")
	assert.ErrorIs(t, err, ErrSpaceNotFound)
	assert.Equal(t, int64(0), r.Clients())

	_, w := join(t, r, "s")
	assert.Equal(t, models.ClientID(1), w.ClientID)
}

func TestServeConnOverPipe(t *testing.T) {
	r := newTestRelay()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dial := func(context.Context) (protocol.Conn, error) {
		client, relaySide := protocol.Pipe()
		go func() { _ = r.ServeConn(ctx, relaySide) }()
		return client, nil
	}

	tr := protocol.NewStreamTransport(dial, log.NewNop(), 0)
	w, err := tr.Connect(ctx, protocol.Join{SpaceID: "pipe"})
	require.NoError(t, err)
	assert.Equal(t, models.ClientID(1), w.ClientID)

	other, _ := join(t, r, "pipe")
	require.NoError(t, other.Send(protocol.NewNetworkEvent("hello", nil, 0)))

	require.Eventually(t, func() bool {
		for _, f := range tr.Drain() {
			if f.Type == protocol.MessageTypeNetworkEvent && f.Event.Name == "hello" {
				return true
			}
		}
		return false
	}, waitFor, tick)

	require.NoError(t, tr.Disconnect(ctx))
	require.Eventually(t, func() bool { return r.Clients() == 1 }, waitFor, tick)
}

func TestServeConnRejectsFramesBeforeJoin(t *testing.T) {
	r := newTestRelay()
	client, relaySide := protocol.Pipe()
	done := make(chan error, 1)
	go func() { done <- r.ServeConn(context.Background(), relaySide) }()

	require.NoError(t, client.Send(protocol.NewLeave()))
	assert.ErrorIs(t, <-done, ErrInvalidMessage)
}

func TestDestroyedParentDetachesChildrenInSnapshot(t *testing.T) {
	r := newTestRelay()
	a, _ := join(t, r, "s")

	parent := models.DurableID(1, 1)
	child := objectState(models.DurableID(1, 2), 1, models.EntityTypeObject)
	child.Parent = parent
	require.NoError(t, a.Send(protocol.NewEntityCreate(objectState(parent, 1, models.EntityTypeObject))))
	require.NoError(t, a.Send(protocol.NewEntityCreate(child)))
	require.NoError(t, a.Send(protocol.NewEntityDestroy(parent)))

	b, _ := join(t, r, "s")
	frames := b.Drain()
	require.Len(t, frames, 1)
	assert.Equal(t, child.ID, frames[0].Create.ID)
	assert.Zero(t, frames[0].Create.Parent)
}

func TestSnapshotFollowsLockAndSelectionPatches(t *testing.T) {
	r := newTestRelay()
	a, _ := join(t, r, "s")

	id := models.DurableID(1, 1)
	require.NoError(t, a.Send(protocol.NewEntityCreate(objectState(id, 1, models.EntityTypeObject))))
	locked, by := true, models.ClientID(1)
	require.NoError(t, a.Send(protocol.NewEntityUpdate(models.EntityPatch{ID: id, Locked: &locked, SelectedBy: &by})))

	b, _ := join(t, r, "s")
	frames := b.Drain()
	require.Len(t, frames, 1)
	assert.True(t, frames[0].Create.Locked)
	assert.Equal(t, models.ClientID(1), frames[0].Create.SelectedBy)
}

func TestLeaveReleasesSelections(t *testing.T) {
	r := newTestRelay()
	a, _ := join(t, r, "s")
	b, _ := join(t, r, "s")

	id := models.DurableID(2, 1)
	require.NoError(t, b.Send(protocol.NewEntityCreate(objectState(id, 2, models.EntityTypeObject))))
	by := models.ClientID(1)
	require.NoError(t, a.Send(protocol.NewEntityUpdate(models.EntityPatch{ID: id, SelectedBy: &by})))
	b.Drain()

	a.Drop()
	frames := b.Drain()
	require.Equal(t, []protocol.MessageType{
		protocol.MessageTypeEntityUpdate,
		protocol.MessageTypeClientLeft,
	}, types(frames))
	require.NotNil(t, frames[0].Update.SelectedBy)
	assert.Zero(t, *frames[0].Update.SelectedBy)

	c, _ := join(t, r, "s")
	snapshot := c.Drain()
	require.Len(t, snapshot, 1)
	assert.Zero(t, snapshot[0].Create.SelectedBy)
}
