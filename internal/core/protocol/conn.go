package protocol

import (
	"context"
	"sync"
	"time"

	"github.com/zeusync/spacesync/internal/core/models"
)

// Conn is one framed, ordered, bidirectional link between a client and the
// relay. Implementations must allow Send to be called concurrently with
// Receive.
type Conn interface {
	Send(f *Frame) error
	Receive(ctx context.Context) (*Frame, error)
	Close(reason string) error
	RemoteAddr() string
	Transport() string
}

// Inbox buffers frames read off a Conn until the owning connection drains
// them on its tick.
type Inbox struct {
	mu     sync.Mutex
	frames []*Frame
}

func (i *Inbox) Push(f *Frame) {
	i.mu.Lock()
	i.frames = append(i.frames, f)
	i.mu.Unlock()
}

// Drain returns every buffered frame in arrival order and empties the inbox.
func (i *Inbox) Drain() []*Frame {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := i.frames
	i.frames = nil
	return out
}

func (i *Inbox) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.frames)
}

// PeerInfo describes a client connection as seen by the relay.
type PeerInfo struct {
	ClientID      models.ClientID
	SpaceID       string
	UserID        string
	RemoteAddress string
	Transport     string
	ConnectedAt   time.Time
}
