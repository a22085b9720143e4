package transport

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibsim/ibus/engine/model"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := Frame{
		Interface:   model.IfidCanMessage,
		SenderEP:    42,
		Sequence:    7,
		TimestampNs: 123456789,
		Payload:     []byte("hello wire"),
	}

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, original))

	decoded, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	encoded := Encode(Frame{Interface: model.IfidGenericData, Payload: []byte("x")})
	// Corrupt the length prefix to claim an absurd body size.
	encoded[0] = 0xff
	encoded[1] = 0xff
	encoded[2] = 0xff
	encoded[3] = 0x7f

	_, err := ReadFrame(bytes.NewReader(encoded))
	require.Error(t, err)
	var protoErr *model.ProtocolError
	require.ErrorAs(t, err, &protoErr)
}

func TestReadFrameRejectsTruncatedStream(t *testing.T) {
	encoded := Encode(Frame{Interface: model.IfidGenericData, Payload: []byte("truncate me")})
	_, err := ReadFrame(bytes.NewReader(encoded[:len(encoded)-3]))
	require.Error(t, err)
	var transportErr *model.TransportError
	require.ErrorAs(t, err, &transportErr)
}

func TestMultipleFramesOnSameStreamPreserveOrder(t *testing.T) {
	var buf bytes.Buffer
	frames := []Frame{
		{Interface: model.IfidCanMessage, Sequence: 1, Payload: []byte("a")},
		{Interface: model.IfidCanMessage, Sequence: 2, Payload: []byte("b")},
		{Interface: model.IfidCanMessage, Sequence: 3, Payload: []byte("c")},
	}
	for _, f := range frames {
		require.NoError(t, WriteFrame(&buf, f))
	}

	for _, want := range frames {
		got, err := ReadFrame(&buf)
		require.NoError(t, err)
		assert.Equal(t, want.Sequence, got.Sequence)
		assert.Equal(t, want.Payload, got.Payload)
	}
}
