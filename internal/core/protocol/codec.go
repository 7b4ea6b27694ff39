package protocol

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/zeusync/spacesync/pkg/generic"
)

// DefaultMaxFrameSize bounds a single encoded frame.
const DefaultMaxFrameSize = 1024 * 1024

// Codec turns frames into bytes and back.
type Codec interface {
	Encode(f *Frame) ([]byte, error)
	Decode(data []byte) (*Frame, error)
}

var bufferPool = generic.NewPool(
	func() *bytes.Buffer { return bytes.NewBuffer(make([]byte, 0, 512)) },
	func(b *bytes.Buffer) { b.Reset() },
)

// JSONCodec encodes frames as JSON documents.
type JSONCodec struct {
	MaxFrameSize int
}

func NewJSONCodec() *JSONCodec {
	return &JSONCodec{MaxFrameSize: DefaultMaxFrameSize}
}

func (c *JSONCodec) Encode(f *Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	buf := bufferPool.Get()
	defer bufferPool.Put(buf)

	if err := json.NewEncoder(buf).Encode(f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	if c.MaxFrameSize > 0 && buf.Len() > c.MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, buf.Len())
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func (c *JSONCodec) Decode(data []byte) (*Frame, error) {
	if c.MaxFrameSize > 0 && len(data) > c.MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDeserialization, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// WriteFrame writes a length-prefixed frame for stream transports.
func WriteFrame(w io.Writer, data []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(data)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// ReadFrame reads one length-prefixed frame written by WriteFrame.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := int(binary.BigEndian.Uint32(header[:]))
	if maxSize > 0 && size > maxSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}
