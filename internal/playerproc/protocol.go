package playerproc

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxFrameSize bounds a single message in either direction.
const MaxFrameSize = 1 << 20

// Message types.
const (
	TypeCreate   = "create"   // daemon → helper
	TypeRelease  = "release"  // daemon → helper
	TypeCreated  = "created"  // helper → daemon, Error set on failure
	TypeReleased = "released" // helper → daemon, informational
)

// Message is the single envelope used on both pipes. Frames are a 4-byte
// big-endian length followed by the msgpack body.
type Message struct {
	Type      string `msgpack:"type"`
	RequestID string `msgpack:"req_id,omitempty"`
	ItemID    string `msgpack:"item_id,omitempty"`
	Locator   string `msgpack:"locator,omitempty"`
	Purpose   string `msgpack:"purpose,omitempty"`
	Depth     string `msgpack:"depth,omitempty"`
	HandleID  string `msgpack:"handle_id,omitempty"`
	Error     string `msgpack:"error,omitempty"`
}

// WriteMessage writes one length-prefixed frame.
func WriteMessage(w io.Writer, msg Message) error {
	body, err := msgpack.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack message: %w", err)
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("message too large: %d bytes", len(body))
	}

	// One write per frame so concurrent readers never see a torn prefix.
	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

// ReadMessage reads one length-prefixed frame. io.EOF is returned unwrapped
// when the stream ends cleanly between frames.
func ReadMessage(r io.Reader) (Message, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return Message{}, err
	}

	n := binary.BigEndian.Uint32(prefix[:])
	if n > MaxFrameSize {
		return Message{}, fmt.Errorf("frame too large: %d bytes", n)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, fmt.Errorf("failed to read msgpack data (expected %d bytes): %w", n, err)
	}

	var msg Message
	if err := msgpack.Unmarshal(body, &msg); err != nil {
		return Message{}, fmt.Errorf("failed to unmarshal msgpack message: %w", err)
	}
	return msg, nil
}
