package server

import "fmt"

// Extension is the five-method capability every registered extension
// implements (spec.md section 4.4), generalized from the original's
// C function-pointer vtable (extension.h) per the design note in
// spec.md section 9.
//
// All five methods are invoked only from the reactor goroutine for the
// connection identified by handle; no locking is required inside an
// implementation unless it shares state across connections.
type Extension interface {
	// Token is the Sec-WebSocket-Extensions header name, e.g.
	// "permessage-deflate".
	Token() string

	// ValidateOffer inspects one alternative's parameters. If acceptable
	// it records whatever per-connection configuration it needs (keyed
	// by handle) and returns true. The negotiator calls this once per
	// alternative, in document order, and accepts the first true result.
	ValidateOffer(handle int, params []ExtensionParam) bool

	// RespondToOffer writes the negotiated token (and parameters) into
	// a buffer and returns the number of bytes written, or 0 if this
	// extension was not accepted for handle.
	RespondToOffer(handle int, out []byte) int

	// ProcessData transforms an assembled inbound data message before
	// delivery. rsv1/rsv2/rsv3 are the RSV bits the message's frame(s)
	// carried; an extension that depends on a bit it did not claim
	// should fail rather than silently ignore it (DESIGN.md Open
	// Question 1). Returning false fails the pipeline (spec.md section
	// 4.4); on success the returned bytes replace the message.
	ProcessData(handle int, in []byte, rsv1, rsv2, rsv3 bool) ([]byte, bool)

	// GenerateData transforms an outbound payload and reports the RSV
	// bits the output frame should carry. Returning ok=false with
	// nonzero input is a failure.
	GenerateData(handle int, in []byte) (out []byte, rsv1, rsv2, rsv3 bool, ok bool)

	// Close releases any per-connection state for handle.
	Close(handle int)

	// ClaimsRSV reports which RSV bits this extension may set on frames
	// it negotiated (DESIGN.md Open Question 1). permessage-deflate
	// claims only RSV1.
	ClaimsRSV() (rsv1, rsv2, rsv3 bool)
}

const respondBufSize = 512

// extensionRegistry is the process-wide, insertion-ordered sequence of
// registered extensions (spec.md section 3/4.4), bounded at
// maxExtensionsPerConn entries and referenced by stable small-integer
// index.
type extensionRegistry struct {
	list []Extension
}

func newExtensionRegistry() *extensionRegistry {
	return &extensionRegistry{}
}

func (r *extensionRegistry) register(ext Extension) error {
	if len(r.list) >= maxExtensionsPerConn {
		return fmt.Errorf("extension registry full (max %d)", maxExtensionsPerConn)
	}
	r.list = append(r.list, ext)
	return nil
}

func (r *extensionRegistry) byIndex(idx int) Extension {
	if idx < 0 || idx >= len(r.list) {
		return nil
	}
	return r.list[idx]
}

// negotiate evaluates a client's extension offer against the registry
// and returns the accepted extension indices, in registration order
// (spec.md section 4.4). Each token is matched against every registered
// extension sharing that token; the first alternative any matching
// extension accepts wins that token, and a token with no accepting
// extension is simply not selected — it never fails the handshake.
func (r *extensionRegistry) negotiate(handle int, offer ExtensionOffer) []int {
	var accepted []int
	for idx, ext := range r.list {
		for _, alt := range offer.Alternatives(ext.Token()) {
			if ext.ValidateOffer(handle, alt.Params) {
				accepted = append(accepted, idx)
				break
			}
		}
	}
	return accepted
}

// respondToOffers returns each accepted extension's response token, one
// Sec-WebSocket-Extensions line value per extension that wrote a
// nonzero response.
func (r *extensionRegistry) respondToOffers(handle int, accepted []int) []string {
	var lines []string
	buf := make([]byte, respondBufSize)
	for _, idx := range accepted {
		ext := r.byIndex(idx)
		if ext == nil {
			continue
		}
		n := ext.RespondToOffer(handle, buf)
		if n > 0 {
			lines = append(lines, string(buf[:n]))
		}
	}
	return lines
}

// processPipeline runs ProcessData over the accepted extensions in
// registration order; any extension failing the pipeline aborts without
// partial delivery (spec.md section 4.4, Open Question 2 decision in
// DESIGN.md).
func (r *extensionRegistry) processPipeline(handle int, accepted []int, in []byte, rsv1, rsv2, rsv3 bool) ([]byte, *wsError) {
	data := in
	for _, idx := range accepted {
		ext := r.byIndex(idx)
		if ext == nil {
			continue
		}
		out, ok := ext.ProcessData(handle, data, rsv1, rsv2, rsv3)
		if !ok {
			return nil, extensionFailure("extension %q rejected inbound message", ext.Token())
		}
		data = out
	}
	return data, nil
}

// generatePipeline runs GenerateData over the accepted extensions for
// an outbound message, returning the final payload and the RSV bits the
// frame header should carry.
func (r *extensionRegistry) generatePipeline(handle int, accepted []int, in []byte) ([]byte, bool, bool, bool, *wsError) {
	data := in
	var rsv1, rsv2, rsv3 bool
	for _, idx := range accepted {
		ext := r.byIndex(idx)
		if ext == nil {
			continue
		}
		out, r1, r2, r3, ok := ext.GenerateData(handle, data)
		if !ok {
			return nil, false, false, false, extensionFailure("extension %q failed to generate outbound data", ext.Token())
		}
		data = out
		rsv1 = rsv1 || r1
		rsv2 = rsv2 || r2
		rsv3 = rsv3 || r3
	}
	return data, rsv1, rsv2, rsv3, nil
}

// claimedRSV reports, across every accepted extension, which RSV bits
// are claimed — i.e. permitted to be set on inbound frames for this
// connection (DESIGN.md Open Question 1).
func (r *extensionRegistry) claimedRSV(accepted []int) (rsv1, rsv2, rsv3 bool) {
	for _, idx := range accepted {
		ext := r.byIndex(idx)
		if ext == nil {
			continue
		}
		a, b, c := ext.ClaimsRSV()
		rsv1 = rsv1 || a
		rsv2 = rsv2 || b
		rsv3 = rsv3 || c
	}
	return
}

func (r *extensionRegistry) closeAll(handle int, accepted []int) {
	for _, idx := range accepted {
		if ext := r.byIndex(idx); ext != nil {
			ext.Close(handle)
		}
	}
}
