package server

// MessageHandler is the user callback invoked once per fully
// reassembled, validated message (spec.md section 4.7). It executes
// synchronously in the reactor goroutine and must not block.
type MessageHandler func(handle int, data []byte, opcode byte)

// deliverDataMessage implements spec.md section 4.7: when the terminal
// fragment of a data message arrives, validate UTF-8 (if TEXT and no
// extensions are negotiated), otherwise run the extension process_data
// pipeline, then hand the result to the user callback.
func (c *Connection) deliverDataMessage() *wsError {
	f := &c.data
	payload := f.buffer[:f.filled]
	if f.fragmentOffset > 0 {
		// Multi-fragment message: buffer holds the whole reassembled
		// message starting at offset 0 (fragmentOffset only tracks
		// where the *current* fragment begins within it).
		payload = f.buffer[:f.fragmentOffset+f.filled]
	}

	if len(c.extIndices) == 0 {
		if f.opcode == wsTextOpcode && !validateUTF8(payload) {
			return invalidPayload("invalid UTF-8 in text message")
		}
	} else {
		out, err := c.srv.extensions.processPipeline(c.handle, c.extIndices, payload, f.rsv1, f.rsv2, f.rsv3)
		if err != nil {
			return err
		}
		payload = out
		if f.opcode == wsTextOpcode && !validateUTF8(payload) {
			return invalidPayload("invalid UTF-8 in text message after extension processing")
		}
	}

	if c.srv.onMessage != nil {
		c.srv.onMessage(c.handle, payload, f.opcode)
	}
	f.reset()
	return nil
}

const (
	wsOpContinuation = byte(0)
	wsTextOpcode     = byte(1)
	wsBinaryOpcode   = byte(2)
	wsCloseOpcode    = byte(8)
	wsPingOpcode     = byte(9)
	wsPongOpcode     = byte(10)
)
