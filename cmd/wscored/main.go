// Command wscored runs a standalone WebSocket server core, wiring
// flags and environment into server.Options the way the teacher's
// nats-server main wires flags into server.Options.
package main

import (
	"crypto/tls"
	"flag"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/outpost-labs/wscore/server"
)

func main() {
	var (
		host             = flag.String("host", "0.0.0.0", "interface to bind")
		port             = flag.Int("port", 8080, "port to listen on")
		noTLS            = flag.Bool("no_tls", false, "disable TLS (development only)")
		certFile         = flag.String("tlscert", "", "TLS certificate file")
		keyFile          = flag.String("tlskey", "", "TLS key file")
		compression      = flag.Bool("compression", true, "offer permessage-deflate")
		compressionLevel = flag.Int("compression_level", 6, "DEFLATE compression level")
		maxPayload       = flag.Int64("max_payload", 0, "maximum reassembled message size in bytes (0 = default)")
		browserFrame     = flag.Int("browser_frame_size", 0, "cap outbound frame payload size on every connection (0 = unlimited)")
		allowedOrigins   = flag.String("allowed_origins", "", "comma-separated list of allowed origins")
		sameOrigin       = flag.Bool("same_origin", false, "require Origin to match the request Host")
		jwtCookie        = flag.String("jwt_cookie", "", "cookie name carrying a bearer JWT to validate")
		trustedKeys      = flag.String("trusted_keys", "", "comma-separated list of trusted JWT issuer keys")
		debug            = flag.Bool("debug", false, "enable debug logging")
		trace            = flag.Bool("trace", false, "enable trace logging")
	)
	flag.Parse()

	if envPort := os.Getenv("PORT"); envPort != "" {
		if p, err := strconv.Atoi(envPort); err == nil {
			*port = p
		}
	}

	opts := &server.Options{
		Host:             *host,
		Port:             *port,
		NoTLS:            *noTLS,
		Compression:      *compression,
		CompressionLevel: *compressionLevel,
		MaxPayloadSize:   *maxPayload,
		BrowserFrameSize: *browserFrame,
		SameOrigin:       *sameOrigin,
		JWTCookieName:    *jwtCookie,
		NoLog:            false,
		Debug:            *debug,
		Trace:            *trace,
	}
	if *allowedOrigins != "" {
		opts.AllowedOrigins = strings.Split(*allowedOrigins, ",")
	}
	if *trustedKeys != "" {
		opts.TrustedKeys = strings.Split(*trustedKeys, ",")
	}
	if !*noTLS {
		if *certFile == "" || *keyFile == "" {
			log.Fatal("wscored: -tlscert and -tlskey are required unless -no_tls is set")
		}
		cert, err := tls.LoadX509KeyPair(*certFile, *keyFile)
		if err != nil {
			log.Fatalf("wscored: loading TLS certificate: %v", err)
		}
		opts.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	srv, err := server.NewServer(opts)
	if err != nil {
		log.Fatalf("wscored: %v", err)
	}
	srv.SetMessageHandler(func(handle int, data []byte, opcode byte) {
		srv.SendMessage(handle, data, opcode)
	})

	if err := srv.Run(); err != nil {
		log.Fatalf("wscored: %v", err)
	}
}
