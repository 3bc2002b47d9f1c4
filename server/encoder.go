package server

import "encoding/binary"

const maxOutboundFrameHeaderSize = 10 // server->client: no mask, up to 8-byte length

// encodeFrameHeader builds the byte-for-byte RFC 6455 section 5.2
// header layout, ported from the teacher's wsFillFrameHeader: byte0 is
// FIN | RSV bits | opcode; length encoding picks the narrowest of the
// three forms; server->client frames are never masked.
func encodeFrameHeader(dst []byte, final bool, rsv1, rsv2, rsv3 bool, opcode byte, length int) int {
	var b byte
	if final {
		b |= 0x80
	}
	if rsv1 {
		b |= 0x40
	}
	if rsv2 {
		b |= 0x20
	}
	if rsv3 {
		b |= 0x10
	}
	b |= opcode & 0x0f

	switch {
	case length <= 125:
		dst[0] = b
		dst[1] = byte(length)
		return 2
	case length < 65536:
		dst[0] = b
		dst[1] = 126
		binary.BigEndian.PutUint16(dst[2:], uint16(length))
		return 4
	default:
		dst[0] = b
		dst[1] = 127
		binary.BigEndian.PutUint64(dst[2:], uint64(length))
		return 10
	}
}

// encodeFrame builds one complete, contiguous outbound frame: header
// followed by the (unmasked) payload, spec.md section 4.8.
func encodeFrame(final bool, rsv1, rsv2, rsv3 bool, opcode byte, payload []byte) []byte {
	hdr := make([]byte, maxOutboundFrameHeaderSize)
	n := encodeFrameHeader(hdr, final, rsv1, rsv2, rsv3, opcode, len(payload))
	out := make([]byte, n+len(payload))
	copy(out, hdr[:n])
	copy(out[n:], payload)
	return out
}

// encodeCloseBody packs a close status code and optional UTF-8 reason
// into a control-frame payload (spec.md section 4.6/6).
func encodeCloseBody(status uint16, reason string) []byte {
	if status == 0 {
		return nil
	}
	body := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(body, status)
	copy(body[2:], reason)
	return body
}

// encodeMessage builds an outbound data message, running it through the
// extension generate_data pipeline first (spec.md section 4.8), and
// optionally splitting it into BrowserFrameSize-capped frames the way
// the teacher splits compressed output for browser clients
// (SPEC_FULL.md section 2.7).
func (c *Connection) encodeMessage(handle int, payload []byte, opcode byte) ([]byte, *wsError) {
	out, rsv1, rsv2, rsv3, err := c.srv.extensions.generatePipeline(handle, c.extIndices, payload)
	if err != nil {
		return nil, err
	}

	limit := c.srv.opts.BrowserFrameSize
	if limit <= 0 || len(out) <= limit {
		return encodeFrame(true, rsv1, rsv2, rsv3, opcode, out), nil
	}

	var buf []byte
	first := true
	remaining := out
	for len(remaining) > 0 {
		n := limit
		final := false
		if n >= len(remaining) {
			n = len(remaining)
			final = true
		}
		op := opcode
		fr1, fr2, fr3 := rsv1, rsv2, rsv3
		if !first {
			op = wsOpContinuation
			fr1, fr2, fr3 = false, false, false
		}
		buf = append(buf, encodeFrame(final, fr1, fr2, fr3, op, remaining[:n])...)
		remaining = remaining[n:]
		first = false
	}
	return buf, nil
}
