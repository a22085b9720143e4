// Package transport implements the peer-mesh wire protocol: frame
// encoding, the registry client/server handshake, per-connection
// back-pressure, and socket tuning (§5, §6).
package transport

import (
	"encoding/binary"
	"io"

	"github.com/ibsim/ibus/engine/model"
)

// Frame is one envelope on the wire: length-prefixed (4-byte
// little-endian), carrying an InterfaceIdentifier-tagged payload plus
// sender/sequencing metadata (§6).
type Frame struct {
	Interface   model.InterfaceIdentifier
	SenderEP    uint64
	Sequence    uint64
	TimestampNs int64
	Payload     []byte
}

// headerSize is the fixed portion of a frame body: interface id (4) +
// sender endpoint id (8) + sequence (8) + timestamp (8).
const headerSize = 4 + 8 + 8 + 8

// maxFrameSize bounds a single frame body to guard against a corrupt or
// malicious length prefix causing an unbounded allocation.
const maxFrameSize = 64 * 1024 * 1024

// Encode serializes f as a length-prefixed frame ready to write to a
// peer connection.
func Encode(f Frame) []byte {
	body := make([]byte, headerSize+len(f.Payload))
	binary.LittleEndian.PutUint32(body[0:4], uint32(f.Interface))
	binary.LittleEndian.PutUint64(body[4:12], f.SenderEP)
	binary.LittleEndian.PutUint64(body[12:20], f.Sequence)
	binary.LittleEndian.PutUint64(body[20:28], uint64(f.TimestampNs))
	copy(body[headerSize:], f.Payload)

	out := make([]byte, 4+len(body))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(body)))
	copy(out[4:], body)
	return out
}

// WriteFrame encodes and writes f to w.
func WriteFrame(w io.Writer, f Frame) error {
	_, err := w.Write(Encode(f))
	if err != nil {
		return model.NewTransportError(err, "write frame")
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, model.NewTransportError(err, "read frame length prefix")
	}
	bodyLen := binary.LittleEndian.Uint32(lenBuf[:])
	if bodyLen < headerSize || bodyLen > maxFrameSize {
		return Frame{}, model.NewProtocolError("frame body length %d out of bounds", bodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, model.NewTransportError(err, "read frame body")
	}

	f := Frame{
		Interface:   model.InterfaceIdentifier(binary.LittleEndian.Uint32(body[0:4])),
		SenderEP:    binary.LittleEndian.Uint64(body[4:12]),
		Sequence:    binary.LittleEndian.Uint64(body[12:20]),
		TimestampNs: int64(binary.LittleEndian.Uint64(body[20:28])),
		Payload:     body[headerSize:],
	}
	return f, nil
}
