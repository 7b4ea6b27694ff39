package middlewares

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/zeusync/spacesync/internal/core/protocol"
)

var ErrSpaceNotAllowed = errors.New("space is not served by this relay")

// AccessMiddleware restricts which spaces clients may join. An empty list
// allows every space.
type AccessMiddleware struct {
	allowed []string
}

func NewAccessMiddleware(allowed []string) *AccessMiddleware {
	return &AccessMiddleware{allowed: allowed}
}

func (m *AccessMiddleware) Name() string {
	return "access"
}

func (m *AccessMiddleware) Priority() uint16 {
	return 900
}

func (m *AccessMiddleware) OnConnect(_ context.Context, peer protocol.PeerInfo) error {
	if len(m.allowed) == 0 || slices.Contains(m.allowed, peer.SpaceID) {
		return nil
	}
	return fmt.Errorf("%w: %q", ErrSpaceNotAllowed, peer.SpaceID)
}

func (m *AccessMiddleware) BeforeHandle(context.Context, protocol.PeerInfo, *protocol.Frame) error {
	return nil
}

func (m *AccessMiddleware) OnDisconnect(context.Context, protocol.PeerInfo, string) {}
