package protocol

import (
	"fmt"

	"github.com/zeusync/spacesync/internal/core/models"
	"github.com/zeusync/spacesync/internal/core/replicated"
)

// Frame is the unit exchanged between clients and the relay. Exactly one
// payload field is set, matching Type.
type Frame struct {
	Type MessageType     `json:"type"`
	From models.ClientID `json:"from,omitempty"`
	To   models.ClientID `json:"to,omitempty"`

	Join    *Join               `json:"join,omitempty"`
	Welcome *Welcome            `json:"welcome,omitempty"`
	Client  models.ClientID     `json:"client,omitempty"`
	Create  *models.EntityState `json:"create,omitempty"`
	Update  *models.EntityPatch `json:"update,omitempty"`
	Destroy *EntityDestroy      `json:"destroy,omitempty"`
	Event   *NetworkEvent       `json:"event,omitempty"`
}

// Join is the first frame a client sends on a fresh connection.
type Join struct {
	SpaceID string `json:"spaceId"`
	UserID  string `json:"userId,omitempty"`
}

// Welcome answers a Join with the id the relay assigned to the client and the
// members already present, the new client included.
type Welcome struct {
	ClientID  models.ClientID   `json:"clientId"`
	SpaceID   string            `json:"spaceId"`
	SessionID string            `json:"sessionId"`
	Members   []models.ClientID `json:"members"`
}

type EntityDestroy struct {
	ID models.EntityID `json:"id"`
}

// NetworkEvent is a named array of values. Target zero addresses every other
// client in the space.
type NetworkEvent struct {
	Name   string             `json:"name"`
	Values []replicated.Value `json:"values,omitempty"`
	Target models.ClientID    `json:"target,omitempty"`
}

func NewJoin(spaceID, userID string) *Frame {
	return &Frame{Type: MessageTypeJoin, Join: &Join{SpaceID: spaceID, UserID: userID}}
}

func NewWelcome(w Welcome) *Frame {
	return &Frame{Type: MessageTypeWelcome, To: w.ClientID, Welcome: &w}
}

func NewClientJoined(id models.ClientID) *Frame {
	return &Frame{Type: MessageTypeClientJoined, Client: id}
}

func NewClientLeft(id models.ClientID) *Frame {
	return &Frame{Type: MessageTypeClientLeft, Client: id}
}

func NewLeave() *Frame {
	return &Frame{Type: MessageTypeLeave}
}

func NewEntityCreate(s models.EntityState) *Frame {
	return &Frame{Type: MessageTypeEntityCreate, Create: &s}
}

func NewEntityUpdate(p models.EntityPatch) *Frame {
	return &Frame{Type: MessageTypeEntityUpdate, Update: &p}
}

func NewEntityDestroy(id models.EntityID) *Frame {
	return &Frame{Type: MessageTypeEntityDestroy, Destroy: &EntityDestroy{ID: id}}
}

func NewNetworkEvent(name string, values []replicated.Value, target models.ClientID) *Frame {
	return &Frame{
		Type:  MessageTypeNetworkEvent,
		To:    target,
		Event: &NetworkEvent{Name: name, Values: values, Target: target},
	}
}

// Validate checks that the payload required by Type is present.
func (f *Frame) Validate() error {
	var ok bool
	switch f.Type {
	case MessageTypeJoin:
		ok = f.Join != nil && f.Join.SpaceID != ""
	case MessageTypeWelcome:
		ok = f.Welcome != nil && f.Welcome.ClientID != 0
	case MessageTypeClientJoined, MessageTypeClientLeft:
		ok = f.Client != 0
	case MessageTypeEntityCreate:
		ok = f.Create != nil
	case MessageTypeEntityUpdate:
		ok = f.Update != nil
	case MessageTypeEntityDestroy:
		ok = f.Destroy != nil
	case MessageTypeNetworkEvent:
		ok = f.Event != nil && f.Event.Name != ""
	case MessageTypeLeave:
		ok = true
	default:
		return fmt.Errorf("%w: %d", ErrUnknownMessageType, f.Type)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrMissingPayload, f.Type)
	}
	return nil
}

// EntityID returns the id of the entity an entity frame refers to.
func (f *Frame) EntityID() (models.EntityID, bool) {
	switch {
	case f.Create != nil:
		return f.Create.ID, true
	case f.Update != nil:
		return f.Update.ID, true
	case f.Destroy != nil:
		return f.Destroy.ID, true
	}
	return 0, false
}
