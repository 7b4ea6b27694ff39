package protocol

import "errors"

var (
	// Connection errors

	ErrNotConnected      = errors.New("transport is not connected")
	ErrAlreadyConnected  = errors.New("transport is already connected")
	ErrConnectionClosed  = errors.New("connection is closed")
	ErrHandshake         = errors.New("space handshake failed")
	ErrHandshakeTimeout  = errors.New("space handshake timed out")
	ErrUnexpectedMessage = errors.New("unexpected message")

	// Frame errors

	ErrFrameTooLarge      = errors.New("frame too large")
	ErrInvalidFrame       = errors.New("invalid frame")
	ErrMissingPayload     = errors.New("frame payload missing for its type")
	ErrSerialization      = errors.New("frame serialization failed")
	ErrDeserialization    = errors.New("frame deserialization failed")
	ErrUnknownMessageType = errors.New("unknown message type")
)
