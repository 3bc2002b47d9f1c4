package server

import (
	"io"
	"sync"

	"github.com/nats-io/nuid"
	"golang.org/x/time/rate"
)

// phase is the Connection lifecycle state (spec.md section 3).
type phase int

const (
	phaseAwaitingRequest phase = iota
	phaseOpen
	phaseClosing
	phaseClosed
)

// frameClass distinguishes the two frame records a Connection ever holds
// in flight at once (spec.md section 3).
type frameClass int

const (
	classNone frameClass = iota
	classControl
	classData
)

const (
	maxFrameHeaderSize  = 9 // byte 1 + up to 8 extended-length bytes (byte 0 and the mask are not stored here)
	controlBufferSize   = 125
	dataBufferChunk     = 4096
	maxExtensionsPerConn = 255
)

// frame groups the decoded attributes of one WebSocket frame in
// progress. Ported field-for-field from the original implementation's
// `struct Frame` (clients.h), renamed to Go idiom.
type frame struct {
	isFirst bool
	isFinal bool
	rsv1    bool
	rsv2    bool
	rsv3    bool
	opcode  byte

	payloadLen uint64

	buffer         []byte
	filled         uint64
	fragmentOffset uint64
}

func (f *frame) reset() {
	*f = frame{}
}

// outboundBuffer is the Writer's pending-bytes record (spec.md section 3).
type outboundBuffer struct {
	bytes      []byte
	startOffset int
}

func (b *outboundBuffer) pending() bool { return len(b.bytes)-b.startOffset > 0 }

func (b *outboundBuffer) totalLen() int { return len(b.bytes) - b.startOffset }

// Connection represents one accepted TCP socket after it has entered the
// WebSocket lifecycle candidate state (spec.md section 3).
type Connection struct {
	mu sync.Mutex

	handle  int
	conn    io.ReadWriteCloser
	traceID string // nuid-generated, log-only, never on the wire

	srv *Server

	ph phase

	// Decoder scratch (spec.md section 4.5).
	headerScratch     [maxFrameHeaderSize]byte
	headerBytesFilled int
	mask              [4]byte
	maskBytesFilled   int
	curClass          frameClass

	control frame
	data    frame
	dataInProgress bool

	// Negotiated extensions, in registration order.
	extIndices []int
	// Per-extension opaque state, indexed the same as extIndices.
	extState map[int]interface{}

	// Outbound.
	out      outboundBuffer
	writeInt bool
	limiter  *rate.Limiter

	// Close-handshake flags.
	sentClose     bool
	receivedClose bool
	closeForDrain bool

	// Handshake-time scratch: partial request bytes (spec.md section 4.2).
	pendingRequest []byte

	subprotocol string
}

func newConnection(srv *Server, handle int, conn io.ReadWriteCloser) *Connection {
	c := &Connection{
		handle:   handle,
		conn:     conn,
		traceID:  nuid.Next(),
		srv:      srv,
		ph:       phaseAwaitingRequest,
		extState: make(map[int]interface{}),
	}
	c.control.buffer = make([]byte, controlBufferSize)
	if srv.opts.MaxWriteBytesPerSec > 0 {
		burst := int(srv.opts.MaxWriteBytesPerSec)
		if burst < dataBufferChunk {
			burst = dataBufferChunk
		}
		c.limiter = rate.NewLimiter(rate.Limit(srv.opts.MaxWriteBytesPerSec), burst)
	} else {
		c.limiter = rate.NewLimiter(rate.Inf, 1)
	}
	return c
}

// resetDecoderFrame clears header/mask scratch and frame class, as
// required on FrameDone (spec.md section 4.5).
func (c *Connection) resetDecoderFrame() {
	c.headerBytesFilled = 0
	c.maskBytesFilled = 0
	c.curClass = classNone
}

// growDataBuffer rounds capacity up to a 4 KiB multiple and enforces the
// configured payload ceiling (spec.md section 4.5 option (b)).
func (c *Connection) growDataBuffer(need uint64) *wsError {
	max := uint64(c.srv.opts.MaxPayloadSize)
	if need > max {
		return tooLarge("payload of %d bytes exceeds maximum of %d", need, max)
	}
	if uint64(len(c.data.buffer)) >= need {
		return nil
	}
	newCap := ((need + dataBufferChunk - 1) / dataBufferChunk) * dataBufferChunk
	if newCap > max {
		newCap = max
	}
	buf := make([]byte, newCap)
	copy(buf, c.data.buffer[:c.data.fragmentOffset+c.data.filled])
	c.data.buffer = buf
	return nil
}

func (c *Connection) isExtensionAccepted(idx int) bool {
	for _, i := range c.extIndices {
		if i == idx {
			return true
		}
	}
	return false
}
