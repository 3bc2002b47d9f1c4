package server

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"time"
)

// Options configures a Server. It generalizes the teacher's
// WebsocketOpts: everything that was a nats-server-specific concept
// (accounts, subject permissions) is dropped; everything that governs
// the transport/handshake/extension layer is kept.
type Options struct {
	// Host/Port the listener binds to (spec.md section 6, env PORT).
	Host string
	Port int

	NoTLS     bool
	TLSConfig *tls.Config

	HandshakeTimeout time.Duration

	// Origin policy (additive to spec.md, see SPEC_FULL.md section 2.3).
	AllowedOrigins []string
	SameOrigin     bool

	// Compression enables permessage-deflate negotiation.
	Compression      bool
	CompressionLevel int

	// MaxPayloadSize bounds a single message's reassembled size
	// (spec.md section 3, default 100 MiB).
	MaxPayloadSize int64

	// MaxPendingOut bounds the Writer's outbound pending buffer per
	// connection (SPEC_FULL.md section 1 / Open Question 3). Zero means
	// use the package default of 4 MiB.
	MaxPendingOut int64

	// MaxWriteBytesPerSec, if nonzero, throttles a connection's flush
	// rate via golang.org/x/time/rate instead of writing as fast as the
	// socket allows (SPEC_FULL.md section 1 / Open Question 3). Zero
	// means unlimited.
	MaxWriteBytesPerSec float64

	// BrowserFrameSize, if nonzero, caps the payload size of outbound
	// data frames on every connection; longer messages are split into
	// continuation frames (SPEC_FULL.md section 2.7).
	BrowserFrameSize int

	// JWTCookieName, if set, names a cookie carrying a bearer JWT that
	// must validate against TrustedKeys for the handshake to succeed.
	JWTCookieName string
	TrustedKeys   []string

	// RequireNkeyChallenge, if true, requires an X-Nkey-Signature header
	// signed by one of NkeySeeds during the handshake.
	RequireNkeyChallenge bool
	NkeySeeds            []string

	NoLog bool
	Debug bool
	Trace bool
}

const (
	defaultMaxPayloadSize = 100 * 1024 * 1024
	defaultMaxPendingOut  = 4 * 1024 * 1024
	defaultHandshakeTO    = 5 * time.Second
)

// setDefaults fills zero-valued fields the way the teacher's
// startWebsocketServer implicitly relies on option defaults.
func (o *Options) setDefaults() {
	if o.MaxPayloadSize == 0 {
		o.MaxPayloadSize = defaultMaxPayloadSize
	}
	if o.MaxPendingOut == 0 {
		o.MaxPendingOut = defaultMaxPendingOut
	}
	if o.HandshakeTimeout == 0 {
		o.HandshakeTimeout = defaultHandshakeTO
	}
	if o.CompressionLevel == 0 {
		o.CompressionLevel = 6
	}
}

// Validate mirrors the teacher's validateWebsocketOptions: TLS is
// required unless NoTLS is explicitly set, allowed origins must parse,
// and a JWT cookie configuration requires trusted keys.
func (o *Options) Validate() error {
	if o.TLSConfig == nil && !o.NoTLS {
		return fmt.Errorf("websocket requires TLS configuration (or NoTLS: true)")
	}
	for _, ao := range o.AllowedOrigins {
		if _, err := url.Parse(ao); err != nil {
			return fmt.Errorf("unable to parse allowed origin %q: %v", ao, err)
		}
	}
	if o.JWTCookieName != "" && len(o.TrustedKeys) == 0 {
		return fmt.Errorf("jwt cookie %q configured, but no trusted keys provided", o.JWTCookieName)
	}
	if o.RequireNkeyChallenge && len(o.NkeySeeds) == 0 {
		return fmt.Errorf("nkey challenge required, but no nkey seeds provided")
	}
	return nil
}
