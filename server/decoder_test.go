package server

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMask = [4]byte{0x12, 0x34, 0x56, 0x78}

func buildMaskedFrame(fin bool, opcode byte, payload []byte) []byte {
	masked := make([]byte, len(payload))
	copy(masked, payload)
	maskBytes(masked, testMask, 0)

	var hdr []byte
	b0 := opcode
	if fin {
		b0 |= 0x80
	}
	hdr = append(hdr, b0)

	l := len(payload)
	switch {
	case l <= 125:
		hdr = append(hdr, 0x80|byte(l))
	case l < 65536:
		hdr = append(hdr, 0x80|126)
		ext := make([]byte, 2)
		binary.BigEndian.PutUint16(ext, uint16(l))
		hdr = append(hdr, ext...)
	default:
		hdr = append(hdr, 0x80|127)
		ext := make([]byte, 8)
		binary.BigEndian.PutUint64(ext, uint64(l))
		hdr = append(hdr, ext...)
	}
	hdr = append(hdr, testMask[:]...)
	return append(hdr, masked...)
}

type collectedMessage struct {
	handle int
	data   []byte
	opcode byte
}

func newAssemblingConnection(t *testing.T) (*Connection, *[]collectedMessage) {
	t.Helper()
	srv := newTestServer()
	msgs := &[]collectedMessage{}
	srv.onMessage = func(handle int, data []byte, opcode byte) {
		*msgs = append(*msgs, collectedMessage{handle, append([]byte(nil), data...), opcode})
	}
	c := newTestConnection(srv, 1)
	c.ph = phaseOpen
	return c, msgs
}

func (c *Connection) deliverForTest(ev decodeEvent) *wsError {
	return c.deliverDecodeEvent(ev)
}

func TestDecodeSingleFrameTextMessage(t *testing.T) {
	c, msgs := newAssemblingConnection(t)
	frame := buildMaskedFrame(true, wsTextOpcode, []byte("hello"))

	err := c.decodeBuffer(frame, c.deliverForTest)
	require.Nil(t, err)
	require.Len(t, *msgs, 1)
	assert.Equal(t, "hello", string((*msgs)[0].data))
	assert.Equal(t, wsTextOpcode, (*msgs)[0].opcode)
}

func TestDecodeFedInManyTinyPieces(t *testing.T) {
	c, msgs := newAssemblingConnection(t)
	frame := buildMaskedFrame(true, wsTextOpcode, []byte("hello world"))

	for i := 0; i < len(frame); i++ {
		err := c.decodeBuffer(frame[i:i+1], c.deliverForTest)
		require.Nil(t, err)
	}
	require.Len(t, *msgs, 1)
	assert.Equal(t, "hello world", string((*msgs)[0].data))
}

func TestDecodeFragmentedMessage(t *testing.T) {
	c, msgs := newAssemblingConnection(t)
	f1 := buildMaskedFrame(false, wsTextOpcode, []byte("hel"))
	f2 := buildMaskedFrame(false, wsOpContinuation, []byte("lo "))
	f3 := buildMaskedFrame(true, wsOpContinuation, []byte("world"))

	for _, f := range [][]byte{f1, f2, f3} {
		err := c.decodeBuffer(f, c.deliverForTest)
		require.Nil(t, err)
	}
	require.Len(t, *msgs, 1)
	assert.Equal(t, "hello world", string((*msgs)[0].data))
}

func TestDecodePingInterleavedWithFragments(t *testing.T) {
	c, msgs := newAssemblingConnection(t)
	f1 := buildMaskedFrame(false, wsTextOpcode, []byte("ab"))
	ping := buildMaskedFrame(true, wsPingOpcode, []byte("ping-payload"))
	f2 := buildMaskedFrame(true, wsOpContinuation, []byte("cd"))

	var buf []byte
	buf = append(buf, f1...)
	buf = append(buf, ping...)
	buf = append(buf, f2...)

	err := c.decodeBuffer(buf, c.deliverForTest)
	require.Nil(t, err)
	require.Len(t, *msgs, 1)
	assert.Equal(t, "abcd", string((*msgs)[0].data))
	// The PONG reply to the ping should have been queued for write.
	assert.True(t, c.out.pending())
}

func TestDecodeRejectsMissingMaskBit(t *testing.T) {
	c, _ := newAssemblingConnection(t)
	frame := buildMaskedFrame(true, wsTextOpcode, []byte("x"))
	frame[1] &^= 0x80 // clear MASK bit

	err := c.decodeBuffer(frame, c.deliverForTest)
	require.NotNil(t, err)
	assert.Equal(t, CloseUnsupportedData, err.Reason)
}

func TestDecodeRejectsOversizePayload(t *testing.T) {
	c, _ := newAssemblingConnection(t)
	c.srv.opts.MaxPayloadSize = 4

	frame := buildMaskedFrame(true, wsBinaryOpcode, []byte("too long"))
	err := c.decodeBuffer(frame, c.deliverForTest)
	require.NotNil(t, err)
	assert.Equal(t, CloseMessageTooBig, err.Reason)
}

func TestDecodeRejectsContinuationWithoutDataInProgress(t *testing.T) {
	c, _ := newAssemblingConnection(t)
	frame := buildMaskedFrame(true, wsOpContinuation, []byte("x"))
	err := c.decodeBuffer(frame, c.deliverForTest)
	require.NotNil(t, err)
	assert.Equal(t, CloseProtocolError, err.Reason)
}

func TestDecodeRejectsFragmentedControlFrame(t *testing.T) {
	c, _ := newAssemblingConnection(t)
	frame := buildMaskedFrame(false, wsPingOpcode, []byte("x"))
	err := c.decodeBuffer(frame, c.deliverForTest)
	require.NotNil(t, err)
	assert.Equal(t, CloseProtocolError, err.Reason)
}

func TestDecodeRejectsUnclaimedRSVBit(t *testing.T) {
	c, _ := newAssemblingConnection(t)
	frame := buildMaskedFrame(true, wsTextOpcode, []byte("x"))
	frame[0] |= 0x40 // set RSV1 with no negotiated extension

	err := c.decodeBuffer(frame, c.deliverForTest)
	require.NotNil(t, err)
	assert.Equal(t, CloseProtocolError, err.Reason)
}

// TestProcessReadableLargeSingleFrameAcrossMultipleReads drives the real
// processReadable Read loop (not decodeBuffer directly) with a payload
// bigger than readChunkSize, so the frame's bytes only become fully
// available after processReadable has issued a second c.conn.Read into
// its reused buffer. This guards the zero-copy fast path: aliasing the
// first, partial read's buffer across a later Read that overwrites the
// same backing array must not corrupt the delivered message.
func TestProcessReadableLargeSingleFrameAcrossMultipleReads(t *testing.T) {
	c, msgs := newAssemblingConnection(t)

	payload := make([]byte, readChunkSize+5000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	frame := buildMaskedFrame(true, wsBinaryOpcode, payload)

	fc := &fakeConn{}
	fc.Write(frame)
	c.conn = fc

	c.processReadable()

	require.Len(t, *msgs, 1)
	assert.Equal(t, payload, (*msgs)[0].data)
}

func TestDecodeInvalidUTF8TextMessageFailsAtAssembler(t *testing.T) {
	c, _ := newAssemblingConnection(t)
	frame := buildMaskedFrame(true, wsTextOpcode, []byte{0xff, 0xfe})

	err := c.decodeBuffer(frame, c.deliverForTest)
	require.NotNil(t, err)
	assert.Equal(t, CloseInvalidPayload, err.Reason)
}
