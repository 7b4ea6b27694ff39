package protocol

import (
	"context"
	"sort"
)

// Middleware hooks into the relay's connection lifecycle. A non-nil error
// from OnConnect rejects the join; from BeforeHandle it drops the frame.
type Middleware interface {
	Name() string
	Priority() uint16
	OnConnect(ctx context.Context, peer PeerInfo) error
	BeforeHandle(ctx context.Context, peer PeerInfo, f *Frame) error
	OnDisconnect(ctx context.Context, peer PeerInfo, reason string)
}

// Chain runs middlewares in descending priority order.
type Chain []Middleware

func NewChain(mws ...Middleware) Chain {
	c := make(Chain, 0, len(mws))
	for _, mw := range mws {
		if mw != nil {
			c = append(c, mw)
		}
	}
	sort.SliceStable(c, func(i, j int) bool { return c[i].Priority() > c[j].Priority() })
	return c
}

func (c Chain) OnConnect(ctx context.Context, peer PeerInfo) error {
	for _, mw := range c {
		if err := mw.OnConnect(ctx, peer); err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) BeforeHandle(ctx context.Context, peer PeerInfo, f *Frame) error {
	for _, mw := range c {
		if err := mw.BeforeHandle(ctx, peer, f); err != nil {
			return err
		}
	}
	return nil
}

func (c Chain) OnDisconnect(ctx context.Context, peer PeerInfo, reason string) {
	for _, mw := range c {
		mw.OnDisconnect(ctx, peer, reason)
	}
}
