package protocol

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/spacesync/internal/core/models"
	"github.com/zeusync/spacesync/internal/core/observability/log"
	"github.com/zeusync/spacesync/internal/core/replicated"
)

func TestCodecPreservesEntityState(t *testing.T) {
	codec := NewJSONCodec()
	state := models.EntityState{
		ID:        models.DurableID(3, 1),
		Type:      models.EntityTypeObject,
		Owner:     3,
		Name:      "crate",
		Transform: models.DefaultTransform(),
		Components: []models.ComponentState{{
			ID:   1,
			Type: models.ComponentTypeAudio,
			Properties: map[models.PropertyKey]replicated.Value{
				models.AudioVolume: replicated.Float64(0.5),
			},
		}},
	}

	data, err := codec.Encode(NewEntityCreate(state))
	require.NoError(t, err)

	f, err := codec.Decode(data)
	require.NoError(t, err)
	require.Equal(t, MessageTypeEntityCreate, f.Type)
	assert.Equal(t, state.ID, f.Create.ID)
	assert.Equal(t, state.Transform, f.Create.Transform)
	require.Len(t, f.Create.Components, 1)
	assert.True(t, replicated.Float64(0.5).Equal(f.Create.Components[0].Properties[models.AudioVolume]))

	id, ok := f.EntityID()
	assert.True(t, ok)
	assert.Equal(t, state.ID, id)
}

func TestCodecRejectsBadFrames(t *testing.T) {
	codec := NewJSONCodec()

	_, err := codec.Encode(&Frame{Type: MessageTypeEntityUpdate})
	assert.ErrorIs(t, err, ErrMissingPayload)

	_, err = codec.Encode(&Frame{Type: MessageType(99)})
	assert.ErrorIs(t, err, ErrUnknownMessageType)

	_, err = codec.Decode([]byte("{"))
	assert.ErrorIs(t, err, ErrDeserialization)

	codec.MaxFrameSize = 8
	_, err = codec.Encode(NewNetworkEvent("ping", nil, 0))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestLengthPrefixedFraming(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("first")))
	require.NoError(t, WriteFrame(&buf, []byte("second")))

	got, err := ReadFrame(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "first", string(got))

	_, err = ReadFrame(&buf, 3)
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestInboxDrainPreservesOrder(t *testing.T) {
	var in Inbox
	in.Push(NewClientJoined(1))
	in.Push(NewClientJoined(2))
	assert.Equal(t, 2, in.Len())

	frames := in.Drain()
	require.Len(t, frames, 2)
	assert.Equal(t, models.ClientID(1), frames[0].Client)
	assert.Equal(t, models.ClientID(2), frames[1].Client)
	assert.Empty(t, in.Drain())
}

// fakeRelay answers the handshake on the far end of a pipe and echoes
// whatever it receives afterwards.
func fakeRelay(t *testing.T, conn Conn, reply func(f *Frame) *Frame) {
	t.Helper()
	go func() {
		for {
			f, err := conn.Receive(context.Background())
			if err != nil {
				return
			}
			if out := reply(f); out != nil {
				if conn.Send(out) != nil {
					return
				}
			}
		}
	}()
}

func TestStreamTransportLifecycle(t *testing.T) {
	client, server := Pipe()
	fakeRelay(t, server, func(f *Frame) *Frame {
		switch f.Type {
		case MessageTypeJoin:
			return NewWelcome(Welcome{ClientID: 4, SpaceID: f.Join.SpaceID, Members: []models.ClientID{4}})
		case MessageTypeNetworkEvent:
			return f
		}
		return nil
	})

	tr := NewStreamTransport(func(context.Context) (Conn, error) { return client, nil }, log.NewNop(), time.Second)
	assert.ErrorIs(t, tr.Send(NewLeave()), ErrNotConnected)

	welcome, err := tr.Connect(context.Background(), Join{SpaceID: "lobby"})
	require.NoError(t, err)
	assert.Equal(t, models.ClientID(4), welcome.ClientID)
	assert.True(t, tr.Connected())
	assert.Equal(t, models.ClientID(4), tr.ClientID())

	_, err = tr.Connect(context.Background(), Join{SpaceID: "lobby"})
	assert.ErrorIs(t, err, ErrAlreadyConnected)

	require.NoError(t, tr.Send(NewNetworkEvent("ping", []replicated.Value{replicated.Int64(1)}, 0)))
	var got []*Frame
	require.Eventually(t, func() bool {
		got = append(got, tr.Drain()...)
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "ping", got[0].Event.Name)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tr.Disconnect(ctx))
	assert.False(t, tr.Connected())
}

func TestStreamTransportHandshakeTimeout(t *testing.T) {
	client, _ := Pipe()
	tr := NewStreamTransport(func(context.Context) (Conn, error) { return client, nil }, log.NewNop(), 20*time.Millisecond)

	_, err := tr.Connect(context.Background(), Join{SpaceID: "lobby"})
	assert.ErrorIs(t, err, ErrHandshakeTimeout)
	assert.Equal(t, ConnectionStateDisconnected, tr.State())
}

func TestStreamTransportUnexpectedHandshakeReply(t *testing.T) {
	client, server := Pipe()
	fakeRelay(t, server, func(*Frame) *Frame { return NewClientJoined(9) })

	tr := NewStreamTransport(func(context.Context) (Conn, error) { return client, nil }, log.NewNop(), time.Second)
	_, err := tr.Connect(context.Background(), Join{SpaceID: "lobby"})
	assert.ErrorIs(t, err, ErrUnexpectedMessage)
}
