package server

import "encoding/binary"

// decPhase is the Frame Decoder's state machine position (spec.md
// section 4.5): Idle -> PayloadLen -> Mask -> Payload -> FrameDone.
type decPhase int

const (
	decIdle decPhase = iota
	decLen
	decMask
	decPayload
)

// decodeEventKind distinguishes the two things FrameDone can deliver to
// the Orchestrator.
type decodeEventKind int

const (
	eventControlFrame decodeEventKind = iota
	eventDataMessage
)

// decodeEvent is emitted once per completed frame that the Orchestrator
// must act on: either a full control frame (handled immediately, spec.md
// section 4.6) or a fully-reassembled data message (FIN=1, spec.md
// section 4.7).
type decodeEvent struct {
	kind       decodeEventKind
	opcode     byte
	ctrlPayload []byte // valid when kind == eventControlFrame
}

// decodeBuffer is the byte-incremental decoder of spec.md section 4.5.
// It consumes as much of buf as it can in one call, never blocks, and
// invokes deliver synchronously for every frame it completes along the
// way — synchronously, because the data-frame zero-copy fast path
// aliases buf directly (spec.md section 4.5 option (a)) and a second
// frame later in the same buf must not be decoded into Connection state
// until the Orchestrator has finished reading the first one out. The
// property tested in spec.md section 8 — that feeding buf in one shot or
// in many small pieces yields the same message sequence — falls out of
// persisting all decode state on the Connection rather than on the call
// stack.
func (c *Connection) decodeBuffer(buf []byte, deliver func(decodeEvent) *wsError) *wsError {
	pos := 0
	max := len(buf)

	for pos < max {
		if c.curClass == classNone {
			b0 := buf[pos]
			pos++
			if err := c.startFrame(b0); err != nil {
				return err
			}
		}

		// Accumulate byte1 + any extended length bytes into headerScratch.
		if !c.lenComplete() {
			n := c.feedLen(buf[pos:])
			pos += n
			if !c.lenComplete() {
				break // NeedMore
			}
			if err := c.finishLen(); err != nil {
				return err
			}
		}

		if c.maskBytesFilled < 4 {
			n := copy(c.mask[c.maskBytesFilled:], buf[pos:])
			c.maskBytesFilled += n
			pos += n
			if c.maskBytesFilled < 4 {
				break // NeedMore
			}
		}

		// Payload.
		f := c.activeFrame()
		remaining := f.payloadLen - f.filled
		if remaining > 0 {
			avail := uint64(max - pos)
			n := remaining
			if avail < n {
				n = avail
			}
			if n > 0 {
				chunk := buf[pos : pos+int(n)]
				whole := f.filled == 0 && n == f.payloadLen
				if err := c.consumePayload(f, chunk, whole); err != nil {
					return err
				}
				pos += int(n)
				f.filled += n
			}
			if f.filled < f.payloadLen {
				break // NeedMore
			}
		}

		ev, err := c.finishFrame()
		if err != nil {
			return err
		}
		if ev != nil {
			if err := deliver(*ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// startFrame decodes byte 0 (FIN/RSV/opcode) and validates it against
// spec.md section 4.5's continuation and RSV rules.
func (c *Connection) startFrame(b0 byte) *wsError {
	final := b0&0x80 != 0
	rsv1 := b0&0x40 != 0
	rsv2 := b0&0x20 != 0
	rsv3 := b0&0x10 != 0
	opcode := b0 & 0x0f

	switch opcode {
	case 0, 1, 2, 8, 9, 10:
	default:
		return protocolError("invalid opcode %d", opcode)
	}

	isControl := opcode >= 8
	if isControl && !final {
		return protocolError("fragmented control frame")
	}

	claimedR1, claimedR2, claimedR3 := c.srv.extensions.claimedRSV(c.extIndices)
	if (rsv1 && !claimedR1) || (rsv2 && !claimedR2) || (rsv3 && !claimedR3) {
		return protocolError("unclaimed RSV bits set")
	}

	if isControl {
		c.curClass = classControl
		c.control.reset()
		c.control.isFirst = true
		c.control.isFinal = true
		c.control.opcode = opcode
		c.control.rsv1, c.control.rsv2, c.control.rsv3 = rsv1, rsv2, rsv3
		if c.control.buffer == nil {
			c.control.buffer = make([]byte, controlBufferSize)
		}
		return nil
	}

	switch byte(opcode) {
	case 0: // continuation
		if c.dataInProgress == false {
			return protocolError("continuation frame with no data frame in progress")
		}
		c.data.isFirst = false
		c.data.isFinal = final
	default:
		if c.dataInProgress {
			return protocolError("new data frame started before previous one finished")
		}
		c.dataInProgress = true
		c.data.reset()
		c.data.isFirst = true
		c.data.isFinal = final
		c.data.opcode = opcode
		c.data.rsv1, c.data.rsv2, c.data.rsv3 = rsv1, rsv2, rsv3
	}
	c.curClass = classData
	return nil
}

func (c *Connection) lenComplete() bool {
	if c.headerBytesFilled == 0 {
		return false
	}
	need := c.lenFieldSize()
	return need >= 0 && c.headerBytesFilled >= 1+need
}

// lenFieldSize returns the number of extended-length bytes expected
// (0, 2, or 8), or -1 if byte1 hasn't arrived yet.
func (c *Connection) lenFieldSize() int {
	if c.headerBytesFilled == 0 {
		return -1
	}
	switch c.headerScratch[0] & 0x7f {
	case 126:
		return 2
	case 127:
		return 8
	default:
		return 0
	}
}

// feedLen copies available bytes into headerScratch (byte1, then 0/2/8
// extended-length bytes) and returns how many bytes of buf it consumed.
func (c *Connection) feedLen(buf []byte) int {
	n := 0
	if c.headerBytesFilled == 0 && len(buf) > 0 {
		c.headerScratch[0] = buf[0]
		c.headerBytesFilled = 1
		n++
	}
	need := c.lenFieldSize()
	if need < 0 {
		return n
	}
	total := 1 + need
	for c.headerBytesFilled < total && n < len(buf) {
		c.headerScratch[c.headerBytesFilled] = buf[n]
		c.headerBytesFilled++
		n++
	}
	return n
}

// finishLen validates the MASK bit and decodes the actual payload
// length (spec.md section 4.5).
func (c *Connection) finishLen() *wsError {
	b1 := c.headerScratch[0]
	if b1&0x80 == 0 {
		return unsupportedData("client frame missing MASK bit")
	}
	l := uint64(b1 & 0x7f)
	isControl := c.curClass == classControl
	switch l {
	case 126:
		if isControl {
			return protocolError("control frame length field too large")
		}
		l = uint64(binary.BigEndian.Uint16(c.headerScratch[1:3]))
	case 127:
		if isControl {
			return protocolError("control frame length field too large")
		}
		l = binary.BigEndian.Uint64(c.headerScratch[1:9])
	default:
		if isControl && l > controlBufferSize {
			return protocolError("control frame length exceeds 125 bytes")
		}
	}
	if l > uint64(c.srv.opts.MaxPayloadSize) {
		return tooLarge("payload length %d exceeds maximum %d", l, c.srv.opts.MaxPayloadSize)
	}
	f := c.activeFrame()
	f.payloadLen = l
	if c.curClass == classData && !isZeroCopyCandidate(f) {
		if err := c.growDataBuffer(f.fragmentOffset + l); err != nil {
			return err
		}
	}
	return nil
}

func isZeroCopyCandidate(f *frame) bool {
	return f.isFirst && f.isFinal
}

func (c *Connection) activeFrame() *frame {
	if c.curClass == classControl {
		return &c.control
	}
	return &c.data
}

// consumePayload unmasks chunk in place and appends it to the active
// frame's buffer (or, for the data-frame zero-copy fast path, decodes
// straight out of the reactor's own read buffer without an extra copy,
// per spec.md section 4.5 option (a)). wholePayloadInOneChunk must only
// be true when chunk carries this frame's entire payload — the reactor
// read buffer backing chunk is reused on the caller's next Read before
// this frame is ever delivered, so aliasing it across multiple
// consumePayload calls (a payload split across reads) would hand the
// Message Assembler memory that has already been overwritten. A partial
// chunk always takes the owned-buffer path below instead, even for an
// otherwise zero-copy-eligible frame.
func (c *Connection) consumePayload(f *frame, chunk []byte, wholePayloadInOneChunk bool) *wsError {
	maskBytes(chunk, c.mask, f.filled)
	if c.curClass == classControl {
		copy(f.buffer[f.filled:], chunk)
		return nil
	}
	if isZeroCopyCandidate(f) && f.buffer == nil && wholePayloadInOneChunk {
		f.buffer = chunk // borrowed slice; caller must not reuse buf before delivery
		return nil
	}
	if f.buffer == nil || uint64(len(f.buffer)) < f.fragmentOffset+f.filled+uint64(len(chunk)) {
		if err := c.growDataBuffer(f.fragmentOffset + f.filled + uint64(len(chunk))); err != nil {
			return err
		}
	}
	copy(f.buffer[f.fragmentOffset+f.filled:], chunk)
	return nil
}

// maskBytes XORs buf in place with mask, starting at logical offset
// `from` within the masked stream (spec.md section 4.5).
func maskBytes(buf []byte, mask [4]byte, from uint64) {
	p := int(from % 4)
	for i := range buf {
		buf[i] ^= mask[p]
		p = (p + 1) % 4
	}
}

// finishFrame runs the FrameDone routing of spec.md section 4.5:
// control frames are handled immediately and reported as an event; data
// frames with FIN=0 advance fragmentOffset and loop back to Idle; data
// frames with FIN=1 are reported for delivery to the Message Assembler.
func (c *Connection) finishFrame() (*decodeEvent, *wsError) {
	defer c.resetDecoderFrame()

	if c.curClass == classControl {
		payload := append([]byte(nil), c.control.buffer[:c.control.payloadLen]...)
		return &decodeEvent{kind: eventControlFrame, opcode: c.control.opcode, ctrlPayload: payload}, nil
	}

	f := &c.data
	if !f.isFinal {
		f.fragmentOffset = f.fragmentOffset + f.filled
		f.filled = 0
		return nil, nil
	}
	c.dataInProgress = false
	return &decodeEvent{kind: eventDataMessage, opcode: f.opcode}, nil
}
