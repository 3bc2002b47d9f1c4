package server

import (
	"io"
)

const readChunkSize = 16 * 1024

// processReadable is the per-connection driver's READ path (spec.md
// section 4.1/4.5–4.7), grounded on the teacher's readLoop: pull
// whatever bytes are currently available, route them through the
// handshake parser or the frame decoder depending on phase, and react
// to whatever each produces.
func (c *Connection) processReadable() {
	buf := make([]byte, readChunkSize)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			if failErr := c.handleInbound(buf[:n]); failErr != nil {
				c.failConnection(failErr)
				return
			}
		}
		if err != nil {
			if err == io.EOF {
				c.processHangup()
				return
			}
			if isWouldBlock(err) {
				return
			}
			c.failConnection(ioFailure(err))
			return
		}
		if n < len(buf) {
			return
		}
	}
}

func (c *Connection) handleInbound(chunk []byte) *wsError {
	if c.ph == phaseAwaitingRequest {
		return c.advanceHandshake(chunk)
	}
	return c.decodeBuffer(chunk, c.deliverDecodeEvent)
}

// advanceHandshake feeds bytes to the handshake parser and acts on its
// outcome (spec.md section 4.2).
func (c *Connection) advanceHandshake(chunk []byte) *wsError {
	outcome := c.feedHandshake(chunk)
	switch outcome.kind {
	case handshakeNeedMore:
		return nil
	case handshakeReject:
		c.queueOutbound(buildRejectResponse(outcome.status, outcome.reason))
		c.closeForDrain = true
		return c.flushOutbound()
	}

	if err := c.srv.checkOrigin(outcome.rawHeaders, headerFirst(outcome.rawHeaders, "host"), false); err != nil {
		c.queueOutbound(buildRejectResponse(403, "origin not allowed: "+err.Error()))
		c.closeForDrain = true
		return c.flushOutbound()
	}
	if err := c.srv.checkNkeyChallenge(outcome.rawHeaders, headerFirst(outcome.rawHeaders, "sec-websocket-key")); err != nil {
		c.queueOutbound(buildRejectResponse(401, err.Error()))
		c.closeForDrain = true
		return c.flushOutbound()
	}
	if err := c.srv.checkJWTCookie(outcome.rawHeaders); err != nil {
		c.queueOutbound(buildRejectResponse(401, err.Error()))
		c.closeForDrain = true
		return c.flushOutbound()
	}

	c.extIndices = c.srv.extensions.negotiate(c.handle, outcome.extOffer)
	extLines := c.srv.extensions.respondToOffers(c.handle, c.extIndices)
	c.subprotocol = outcome.subprotocol

	resp := buildHandshakeResponse(outcome.acceptKey, outcome.subprotocol, extLines)
	if err := c.queueOutbound(resp); err != nil {
		return err
	}
	if err := c.flushOutbound(); err != nil {
		return err
	}
	c.ph = phaseOpen
	return nil
}

// deliverDecodeEvent is the decoder's `deliver` callback: control frames
// are handled immediately (spec.md section 4.6), data messages are
// handed to the Message Assembler (spec.md section 4.7).
func (c *Connection) deliverDecodeEvent(ev decodeEvent) *wsError {
	switch ev.kind {
	case eventControlFrame:
		return c.handleControlFrame(ev.opcode, ev.ctrlPayload)
	case eventDataMessage:
		return c.deliverDataMessage()
	}
	return nil
}

// handleControlFrame implements spec.md section 4.6.
func (c *Connection) handleControlFrame(opcode byte, payload []byte) *wsError {
	switch opcode {
	case wsPingOpcode:
		return c.sendFrame(true, false, false, false, wsPongOpcode, payload)
	case wsPongOpcode:
		return nil
	case wsCloseOpcode:
		return c.handleCloseFrame(payload)
	}
	return nil
}

func (c *Connection) handleCloseFrame(payload []byte) *wsError {
	c.receivedClose = true

	var replyStatus uint16
	switch {
	case len(payload) == 0:
		replyStatus = uint16(CloseNormal)
	case len(payload) == 1:
		return c.initiateClose(uint16(CloseProtocolError), "")
	default:
		status := uint16(payload[0])<<8 | uint16(payload[1])
		reason := payload[2:]
		if !validateUTF8(reason) {
			return c.initiateClose(uint16(CloseInvalidPayload), "invalid close reason")
		}
		mapped, ok := mapCloseStatus(status)
		if !ok {
			replyStatus = 0
		} else {
			replyStatus = mapped
		}
	}

	if c.sentClose {
		c.closeForDrain = true
		if !c.out.pending() {
			return c.closeSocket()
		}
		return nil
	}
	return c.initiateClose(replyStatus, "")
}

// processWritable is the per-connection driver's WRITE path (spec.md
// section 4.8/4.1), grounded on the teacher's flushOutbound.
func (c *Connection) processWritable() {
	if err := c.flushOutbound(); err != nil {
		c.failConnection(err)
	}
}

// processHangup tears a connection down immediately, without attempting
// a close handshake — the peer is already gone (spec.md section 4.1/4.6).
func (c *Connection) processHangup() {
	c.srv.removeConnection(c)
}

// failConnection logs and tears a connection down on a protocol or I/O
// failure, sending a close frame first unless the error says not to
// (spec.md section 4.6/7).
func (c *Connection) failConnection(err *wsError) {
	c.srv.Debugf("websocket connection %d (%s) failing: %v", c.handle, c.traceID, err)
	if !err.NoFrame && !c.sentClose {
		c.sentClose = true
		body := encodeCloseBody(uint16(err.Reason), "")
		c.queueOutbound(encodeFrame(true, false, false, false, wsCloseOpcode, body))
		c.flushOutbound()
	}
	c.srv.removeConnection(c)
}

func isWouldBlock(err error) bool {
	type temporary interface{ Temporary() bool }
	if t, ok := err.(temporary); ok {
		return t.Temporary()
	}
	return false
}
