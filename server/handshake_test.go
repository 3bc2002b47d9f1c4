package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The RFC 6455 section 1.3 worked example: this exact key/accept pair
// appears in the spec text itself.
const (
	exampleWSKey    = "dGhlIHNhbXBsZSBub25jZQ=="
	exampleWSAccept = "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
)

func TestWSAcceptKeyMatchesRFCExample(t *testing.T) {
	assert.Equal(t, exampleWSAccept, wsAcceptKey(exampleWSKey))
}

func TestValidWebSocketKey(t *testing.T) {
	assert.True(t, validWebSocketKey(exampleWSKey))
	assert.False(t, validWebSocketKey(""))
	assert.False(t, validWebSocketKey("not-base64!!"))
	assert.False(t, validWebSocketKey("dGVzdA==")) // decodes to 4 bytes, not 16
}

func rawRequest(lines ...string) []byte {
	var b []byte
	for _, l := range lines {
		b = append(b, l...)
		b = append(b, '\r', '\n')
	}
	b = append(b, '\r', '\n')
	return b
}

func validRequestLines() []string {
	return []string{
		"GET /chat HTTP/1.1",
		"Host: example.com",
		"Upgrade: websocket",
		"Connection: Upgrade",
		"Sec-WebSocket-Key: " + exampleWSKey,
		"Sec-WebSocket-Version: 13",
	}
}

func TestParseHandshakeRequestAccepted(t *testing.T) {
	raw := rawRequest(validRequestLines()...)
	out := parseHandshakeRequest(raw)
	require.Equal(t, handshakeAccepted, out.kind)
	assert.Equal(t, exampleWSAccept, out.acceptKey)
}

func TestParseHandshakeRequestRejectsNonGET(t *testing.T) {
	lines := validRequestLines()
	lines[0] = "POST /chat HTTP/1.1"
	out := parseHandshakeRequest(rawRequest(lines...))
	require.Equal(t, handshakeReject, out.kind)
	assert.Equal(t, 405, out.status)
}

func TestParseHandshakeRequestRejectsMissingHost(t *testing.T) {
	lines := []string{
		"GET /chat HTTP/1.1",
		"Upgrade: websocket",
		"Connection: Upgrade",
		"Sec-WebSocket-Key: " + exampleWSKey,
		"Sec-WebSocket-Version: 13",
	}
	out := parseHandshakeRequest(rawRequest(lines...))
	require.Equal(t, handshakeReject, out.kind)
	assert.Equal(t, 400, out.status)
}

func TestParseHandshakeRequestRejectsMissingUpgrade(t *testing.T) {
	lines := []string{
		"GET /chat HTTP/1.1",
		"Host: example.com",
		"Connection: Upgrade",
		"Sec-WebSocket-Key: " + exampleWSKey,
		"Sec-WebSocket-Version: 13",
	}
	out := parseHandshakeRequest(rawRequest(lines...))
	require.Equal(t, handshakeReject, out.kind)
	assert.Equal(t, 400, out.status)
}

func TestParseHandshakeRequestRejectsBadKey(t *testing.T) {
	lines := validRequestLines()
	lines[4] = "Sec-WebSocket-Key: short"
	out := parseHandshakeRequest(rawRequest(lines...))
	require.Equal(t, handshakeReject, out.kind)
	assert.Equal(t, 400, out.status)
}

func TestParseHandshakeRequestRejectsWrongVersion(t *testing.T) {
	lines := validRequestLines()
	lines[5] = "Sec-WebSocket-Version: 8"
	out := parseHandshakeRequest(rawRequest(lines...))
	require.Equal(t, handshakeReject, out.kind)
	assert.Equal(t, 400, out.status)
}

func TestParseHandshakeRequestSelectsFirstSubprotocol(t *testing.T) {
	lines := append(validRequestLines(), "Sec-WebSocket-Protocol: chat, superchat")
	out := parseHandshakeRequest(rawRequest(lines...))
	require.Equal(t, handshakeAccepted, out.kind)
	assert.Equal(t, "chat", out.subprotocol)
}

func TestParseHandshakeRequestParsesExtensionOffer(t *testing.T) {
	lines := append(validRequestLines(), "Sec-WebSocket-Extensions: permessage-deflate; client_max_window_bits")
	out := parseHandshakeRequest(rawRequest(lines...))
	require.Equal(t, handshakeAccepted, out.kind)
	require.Len(t, out.extOffer, 1)
}

func TestParseHandshakeRequestRejectsMalformedExtensions(t *testing.T) {
	lines := append(validRequestLines(), "Sec-WebSocket-Extensions: ; bogus===")
	out := parseHandshakeRequest(rawRequest(lines...))
	require.Equal(t, handshakeReject, out.kind)
	assert.Equal(t, 400, out.status)
}

func TestFeedHandshakeNeedsMoreOnPartialRequest(t *testing.T) {
	srv := newTestServer()
	c := newTestConnection(srv, 1)

	full := rawRequest(validRequestLines()...)
	out := c.feedHandshake(full[:len(full)-10])
	assert.Equal(t, handshakeNeedMore, out.kind)

	out = c.feedHandshake(full[len(full)-10:])
	assert.Equal(t, handshakeAccepted, out.kind)
}

func TestFeedHandshakeRejectsOversizedRequest(t *testing.T) {
	srv := newTestServer()
	c := newTestConnection(srv, 1)

	junk := make([]byte, maxPendingRequestSize+1)
	for i := range junk {
		junk[i] = 'x'
	}
	out := c.feedHandshake(junk)
	require.Equal(t, handshakeReject, out.kind)
	assert.Equal(t, 400, out.status)
}

func TestCheckOriginSameOriginAccepts(t *testing.T) {
	srv := newTestServer()
	srv.opts.SameOrigin = true
	headers := map[string][]string{"origin": {"http://example.com"}}
	assert.Nil(t, srv.checkOrigin(headers, "example.com", false))
}

func TestCheckOriginSameOriginRejectsMismatch(t *testing.T) {
	srv := newTestServer()
	srv.opts.SameOrigin = true
	headers := map[string][]string{"origin": {"http://evil.com"}}
	assert.Equal(t, errOriginMismatch, srv.checkOrigin(headers, "example.com", false))
}

func TestCheckOriginMissingHeaderRejected(t *testing.T) {
	srv := newTestServer()
	srv.opts.SameOrigin = true
	assert.Equal(t, errOriginMissing, srv.checkOrigin(map[string][]string{}, "example.com", false))
}

func TestCheckOriginAllowList(t *testing.T) {
	srv := newTestServer()
	srv.opts.AllowedOrigins = []string{"https://trusted.example"}
	headers := map[string][]string{"origin": {"https://trusted.example"}}
	assert.Nil(t, srv.checkOrigin(headers, "example.com", false))

	headers = map[string][]string{"origin": {"https://untrusted.example"}}
	assert.Equal(t, errOriginNotAllowed, srv.checkOrigin(headers, "example.com", false))
}

func TestCheckOriginDisabledByDefault(t *testing.T) {
	srv := newTestServer()
	assert.Nil(t, srv.checkOrigin(map[string][]string{}, "example.com", false))
}

func TestBuildHandshakeResponseIncludesSubprotocolAndExtensions(t *testing.T) {
	resp := buildHandshakeResponse(exampleWSAccept, "chat", []string{"permessage-deflate"})
	s := string(resp)
	assert.Contains(t, s, "HTTP/1.1 101 Switching Protocols")
	assert.Contains(t, s, "Sec-WebSocket-Accept: "+exampleWSAccept)
	assert.Contains(t, s, "Sec-WebSocket-Protocol: chat")
	assert.Contains(t, s, "Sec-WebSocket-Extensions: permessage-deflate")
}

func TestBuildRejectResponseSetsStatusAndBody(t *testing.T) {
	resp := buildRejectResponse(400, "bad request")
	s := string(resp)
	assert.Contains(t, s, "HTTP/1.1 400 Bad Request")
	assert.Contains(t, s, "Connection: close")
	assert.Contains(t, s, "bad request")
}
