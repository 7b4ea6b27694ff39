package network

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/spacesync/internal/core/observability/log"
	"github.com/zeusync/spacesync/internal/core/protocol"
	"github.com/zeusync/spacesync/internal/core/replicated"
)

func TestSendBuildsEventFrame(t *testing.T) {
	var sent []*protocol.Frame
	b := New(func(f *protocol.Frame) error { sent = append(sent, f); return nil }, log.NewNop())

	require.NoError(t, b.Send("wave", []replicated.Value{replicated.String("hi")}, 4))
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.MessageTypeNetworkEvent, sent[0].Type)
	assert.Equal(t, "wave", sent[0].Event.Name)
	assert.EqualValues(t, 4, sent[0].Event.Target)

	assert.ErrorIs(t, b.Send("", nil, 0), ErrEmptyEventName)
}

func TestSendSurfacesTransportFailure(t *testing.T) {
	b := New(func(*protocol.Frame) error { return protocol.ErrNotConnected }, log.NewNop())
	assert.ErrorIs(t, b.Send("wave", nil, 0), protocol.ErrNotConnected)
}

func TestDeliverFansOutToEverySubscriber(t *testing.T) {
	b := New(func(*protocol.Frame) error { return nil }, log.NewNop())

	var got []Event
	for range 2 {
		_, err := b.Subscribe("wave", func(ev Event) error { got = append(got, ev); return nil })
		require.NoError(t, err)
	}
	_, _ = b.Subscribe("other", func(Event) error { t.Fatal("wrong name delivered"); return nil })

	f := protocol.NewNetworkEvent("wave", []replicated.Value{replicated.Int64(3)}, 0)
	f.From = 9
	require.NoError(t, b.Deliver(f))

	require.Len(t, got, 2)
	assert.EqualValues(t, 9, got[0].From)
	assert.Equal(t, int64(3), got[1].Values[0].AsInt64())

	assert.ErrorIs(t, b.Deliver(protocol.NewLeave()), ErrNotEventFrame)
}

func TestDeliverJoinsHandlerErrors(t *testing.T) {
	b := New(func(*protocol.Frame) error { return nil }, log.NewNop())
	boom := errors.New("boom")
	_, _ = b.Subscribe("wave", func(Event) error { return boom })
	_, _ = b.Subscribe("wave", func(Event) error { return nil })

	assert.ErrorIs(t, b.Deliver(protocol.NewNetworkEvent("wave", nil, 0)), boom)
}

func TestCancelAll(t *testing.T) {
	b := New(func(*protocol.Frame) error { return nil }, log.NewNop())
	calls := 0
	_, _ = b.Subscribe("wave", func(Event) error { calls++; return nil })
	assert.Equal(t, 1, b.Subscriptions())

	b.CancelAll()
	require.NoError(t, b.Deliver(protocol.NewNetworkEvent("wave", nil, 0)))
	assert.Zero(t, calls)
	assert.Zero(t, b.Subscriptions())
}

func TestReservedNames(t *testing.T) {
	assert.True(t, IsReserved(ClientElectionMessage))
	assert.True(t, IsReserved(AssetDetailBlobChanged))
	assert.True(t, IsReserved(ConversationSystem))
	assert.False(t, IsReserved("wave"))
}
