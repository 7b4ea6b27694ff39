package space

import "errors"

var (
	ErrReservedEvent = errors.New("event name is reserved for internal use")
	ErrNilHandler    = errors.New("handler is nil")
)
