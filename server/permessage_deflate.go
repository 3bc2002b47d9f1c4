package server

import (
	"bytes"
	"compress/flate"
	"io"
	"strconv"
	"sync"
)

const (
	pmdToken             = "permessage-deflate"
	pmdMinWindowBits     = 8
	pmdMaxWindowBits     = 15
	pmdDefaultWindowBits = 15
)

// pmdTrailer is the empty stored block that ends a sync-flushed message
// (RFC 7692 section 7.2.2). GenerateData strips it from outbound
// payloads; ProcessData appends it, followed by an empty final block, so
// that compress/flate's reader ends at io.EOF instead of reporting an
// unexpected EOF.
var pmdTrailer = []byte{0x00, 0x00, 0xff, 0xff}

// pmdConnState is the per-connection negotiated configuration and live
// compressor/decompressor pair, grounded on the teacher's per-client
// `ws.compressor`/decompressorPool split, generalized to both
// directions and to the no-context-takeover parameters RFC 7692 adds
// beyond the teacher's always-takeover behavior.
type pmdConnState struct {
	accepted bool

	serverNoContextTakeover bool
	clientNoContextTakeover bool
	serverMaxWindowBits     int
	clientMaxWindowBits     int

	compressor   *flate.Writer
	decompressor io.ReadCloser
}

// permessageDeflate implements the five-method Extension interface for
// RFC 7692 permessage-deflate (spec.md section 4.9), grounded on the
// teacher's wsCollapsePtoNB compression branch and
// original_source/permessage-deflate.c's window-bits/context-takeover
// parameter validation.
type permessageDeflate struct {
	mu    sync.Mutex
	conns map[int]*pmdConnState

	level int
}

func newPermessageDeflate(level int) *permessageDeflate {
	if level == 0 {
		level = flate.BestSpeed
	}
	return &permessageDeflate{conns: make(map[int]*pmdConnState), level: level}
}

func (p *permessageDeflate) Token() string { return pmdToken }

func (p *permessageDeflate) ClaimsRSV() (rsv1, rsv2, rsv3 bool) { return true, false, false }

// ValidateOffer inspects one alternative's parameters per
// original_source/permessage-deflate.c: window-bits values outside
// [8,15] are rejected, context-takeover parameters are recorded, and the
// first alternative this extension accepts wins negotiation for this
// connection (spec.md section 4.4).
func (p *permessageDeflate) ValidateOffer(handle int, params []ExtensionParam) bool {
	st := &pmdConnState{
		serverMaxWindowBits: pmdDefaultWindowBits,
		clientMaxWindowBits: pmdDefaultWindowBits,
	}
	seen := make(map[string]bool, len(params))
	for _, prm := range params {
		if seen[prm.Key] {
			return false
		}
		seen[prm.Key] = true

		switch prm.Key {
		case "server_no_context_takeover":
			st.serverNoContextTakeover = true
		case "client_no_context_takeover":
			st.clientNoContextTakeover = true
		case "server_max_window_bits":
			bits, ok := pmdWindowBits(prm)
			if !ok {
				return false
			}
			st.serverMaxWindowBits = bits
		case "client_max_window_bits":
			if prm.Type == ValueBool {
				// Bare client_max_window_bits (no value): client is
				// willing to receive any value; keep the default.
				continue
			}
			bits, ok := pmdWindowBits(prm)
			if !ok {
				return false
			}
			st.clientMaxWindowBits = bits
		default:
			return false
		}
	}
	st.accepted = true

	p.mu.Lock()
	p.conns[handle] = st
	p.mu.Unlock()
	return true
}

func pmdWindowBits(prm ExtensionParam) (int, bool) {
	if prm.Type != ValueInt {
		return 0, false
	}
	bits := int(prm.IntVal)
	if bits < pmdMinWindowBits || bits > pmdMaxWindowBits {
		return 0, false
	}
	return bits, true
}

// RespondToOffer writes the negotiated response token, including only
// the context-takeover/window-bits parameters that differ from defaults
// (spec.md section 4.4).
func (p *permessageDeflate) RespondToOffer(handle int, out []byte) int {
	p.mu.Lock()
	st := p.conns[handle]
	p.mu.Unlock()
	if st == nil || !st.accepted {
		return 0
	}

	b := append([]byte(nil), pmdToken...)
	if st.serverNoContextTakeover {
		b = append(b, "; server_no_context_takeover"...)
	}
	if st.clientNoContextTakeover {
		b = append(b, "; client_no_context_takeover"...)
	}
	if st.serverMaxWindowBits != pmdDefaultWindowBits {
		b = append(b, "; server_max_window_bits="...)
		b = strconv.AppendInt(b, int64(st.serverMaxWindowBits), 10)
	}
	if st.clientMaxWindowBits != pmdDefaultWindowBits {
		b = append(b, "; client_max_window_bits="...)
		b = strconv.AppendInt(b, int64(st.clientMaxWindowBits), 10)
	}
	if len(b) > len(out) {
		return 0
	}
	return copy(out, b)
}

// ProcessData inflates an assembled inbound message when rsv1 is set
// (spec.md section 4.9): the RFC 7692 trailer is appended before
// inflating so the final DEFLATE block decodes cleanly, and the
// decompressor is retained across messages unless client_no_context_takeover
// was negotiated.
func (p *permessageDeflate) ProcessData(handle int, in []byte, rsv1, rsv2, rsv3 bool) ([]byte, bool) {
	if !rsv1 {
		return in, true
	}
	p.mu.Lock()
	st := p.conns[handle]
	p.mu.Unlock()
	if st == nil || !st.accepted {
		return nil, false
	}

	payload := append(append([]byte(nil), in...), pmdTrailer...)
	// Empty final stored block, so the reader stops with io.EOF.
	payload = append(payload, 0x01, 0x00, 0x00, 0xff, 0xff)
	br := bytes.NewReader(payload)

	if st.decompressor == nil || st.clientNoContextTakeover {
		st.decompressor = flate.NewReader(br)
	} else if resetter, ok := st.decompressor.(flate.Resetter); ok {
		if err := resetter.Reset(br, nil); err != nil {
			return nil, false
		}
	}

	out, err := io.ReadAll(st.decompressor)
	if err != nil {
		return nil, false
	}
	return out, true
}

// GenerateData deflates an outbound payload and reports RSV1 so the
// Encoder sets it on the frame header (spec.md section 4.9).
func (p *permessageDeflate) GenerateData(handle int, in []byte) ([]byte, bool, bool, bool, bool) {
	p.mu.Lock()
	st := p.conns[handle]
	p.mu.Unlock()
	if st == nil || !st.accepted {
		return in, false, false, false, true
	}

	var buf bytes.Buffer
	if st.compressor == nil || st.serverNoContextTakeover {
		w, err := flate.NewWriter(&buf, p.level)
		if err != nil {
			return nil, false, false, false, false
		}
		st.compressor = w
	} else {
		st.compressor.Reset(&buf)
	}

	if _, err := st.compressor.Write(in); err != nil {
		return nil, false, false, false, false
	}
	if err := st.compressor.Flush(); err != nil {
		return nil, false, false, false, false
	}

	out := buf.Bytes()
	// Strip the RFC 7692 section 7.2.1 trailing 0x00 0x00 0xff 0xff that
	// compress/flate's Flush leaves in place of an empty stored block.
	if n := len(out); n >= 4 && bytes.Equal(out[n-4:], pmdTrailer) {
		out = out[:n-4]
	}
	return out, true, false, false, true
}

func (p *permessageDeflate) Close(handle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st := p.conns[handle]; st != nil && st.decompressor != nil {
		st.decompressor.Close()
	}
	delete(p.conns, handle)
}
