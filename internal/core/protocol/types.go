package protocol

// MessageType identifies the payload carried by a Frame.
type MessageType uint8

const (
	MessageTypeJoin MessageType = iota + 1
	MessageTypeWelcome
	MessageTypeClientJoined
	MessageTypeClientLeft
	MessageTypeEntityCreate
	MessageTypeEntityUpdate
	MessageTypeEntityDestroy
	MessageTypeNetworkEvent
	MessageTypeLeave
)

// MessageType string representation
func (mt MessageType) String() string {
	switch mt {
	case MessageTypeJoin:
		return "join"
	case MessageTypeWelcome:
		return "welcome"
	case MessageTypeClientJoined:
		return "client_joined"
	case MessageTypeClientLeft:
		return "client_left"
	case MessageTypeEntityCreate:
		return "entity_create"
	case MessageTypeEntityUpdate:
		return "entity_update"
	case MessageTypeEntityDestroy:
		return "entity_destroy"
	case MessageTypeNetworkEvent:
		return "network_event"
	case MessageTypeLeave:
		return "leave"
	default:
		return "unknown"
	}
}

// ConnectionState represents the current state of a transport.
type ConnectionState int32

const (
	ConnectionStateDisconnected ConnectionState = iota
	ConnectionStateConnecting
	ConnectionStateConnected
	ConnectionStateDisconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionStateDisconnected:
		return "disconnected"
	case ConnectionStateConnecting:
		return "connecting"
	case ConnectionStateConnected:
		return "connected"
	case ConnectionStateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}
