package server

import (
	"io"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// queueOutbound appends bytes to the pending outbound buffer and arms
// WRITE interest on the reactor if this is the first pending write,
// spec.md section 4.9. It never calls conn.Write directly from outside
// the reactor goroutine — everything funnels through here so the
// pending-buffer bound and rate limiter stay authoritative.
func (c *Connection) queueOutbound(b []byte) *wsError {
	if len(b) == 0 {
		return nil
	}
	max := c.srv.opts.MaxPendingOut
	if int64(c.out.totalLen()+len(b)) > max {
		return internalError(errors.Errorf("outbound buffer would exceed %d bytes", max))
	}

	hadPending := c.out.pending()
	c.out.bytes = append(c.out.bytes, b...)
	if !hadPending && c.out.pending() {
		if err := c.srv.reactor.SetWriteInterest(c.handle, true); err != nil {
			return ioFailure(errors.Wrap(err, "arming write interest"))
		}
		c.writeInt = true
	}
	return nil
}

// flushOutbound is called on a Writable reactor event. It writes as much
// of the pending buffer as the socket will currently accept, honoring
// the rate limiter as a backpressure policy (SPEC_FULL.md section 1):
// once the limiter's token bucket is exhausted, the Writer stops for
// this tick rather than attempting further syscalls, effectively
// throttling abusive output producers instead of closing them outright.
// WRITE interest is disarmed once the buffer drains.
func (c *Connection) flushOutbound() *wsError {
	for c.out.pending() {
		chunk := c.out.bytes[c.out.startOffset:]
		if c.limiter != nil && c.limiter.Limit() != rate.Inf {
			if b := c.limiter.Burst(); len(chunk) > b {
				chunk = chunk[:b]
			}
			if !c.limiter.AllowN(time.Now(), len(chunk)) {
				break
			}
		}
		n, err := c.conn.Write(chunk)
		if n > 0 {
			c.out.startOffset += n
		}
		if err != nil {
			if err == io.ErrShortWrite {
				continue
			}
			return ioFailure(errors.Wrap(err, "writing to connection"))
		}
		if n == 0 {
			break
		}
	}

	if !c.out.pending() {
		c.out.bytes = nil
		c.out.startOffset = 0
		if c.writeInt {
			if err := c.srv.reactor.SetWriteInterest(c.handle, false); err != nil {
				return ioFailure(errors.Wrap(err, "disarming write interest"))
			}
			c.writeInt = false
		}
		if c.closeForDrain {
			return c.closeSocket()
		}
	}
	return nil
}

// closeSocket performs the final socket teardown once both directions of
// the close handshake are settled (spec.md section 4.6).
func (c *Connection) closeSocket() *wsError {
	c.ph = phaseClosed
	c.srv.extensions.closeAll(c.handle, c.extIndices)
	if err := c.conn.Close(); err != nil {
		return ioFailure(errors.Wrap(err, "closing connection"))
	}
	return nil
}

// sendFrame is a convenience wrapper used by the Orchestrator for
// control frames and pre-built frames that bypass the extension
// pipeline (pongs, close frames).
func (c *Connection) sendFrame(final bool, rsv1, rsv2, rsv3 bool, opcode byte, payload []byte) *wsError {
	return c.queueOutbound(encodeFrame(final, rsv1, rsv2, rsv3, opcode, payload))
}

// sendMessage runs payload through the extension generate pipeline and
// queues the resulting frame(s) for delivery (spec.md section 4.8).
func (c *Connection) sendMessage(payload []byte, opcode byte) *wsError {
	framed, err := c.encodeMessage(c.handle, payload, opcode)
	if err != nil {
		return err
	}
	return c.queueOutbound(framed)
}

// initiateClose begins the close handshake (spec.md section 4.6): sends
// a close frame carrying status/reason, marks sentClose, and — if the
// peer's close has already been received — schedules the socket to shut
// once the buffer drains. No timer bounds how long the connection then
// waits for the peer's close frame.
func (c *Connection) initiateClose(status uint16, reason string) *wsError {
	if c.sentClose {
		return nil
	}
	c.sentClose = true
	body := encodeCloseBody(status, reason)
	if err := c.sendFrame(true, false, false, false, wsCloseOpcode, body); err != nil {
		return err
	}
	c.ph = phaseClosing
	if c.receivedClose {
		c.closeForDrain = true
		if !c.out.pending() {
			return c.closeSocket()
		}
	}
	return nil
}

const closeHandshakeGrace = 5 * time.Second
