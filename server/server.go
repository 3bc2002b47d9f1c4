package server

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"syscall"

	"github.com/pkg/errors"
)

// Server owns a listener, a Reactor, the process-wide Connection
// Registry and Extension Registry, and dispatches every readiness edge
// to the right Connection (spec.md section 1/4.1), generalized from the
// teacher's Server.startWebsocketServer / readLoop split.
type Server struct {
	opts *Options
	log  Logger

	mu         sync.Mutex
	registry   *registry
	extensions *extensionRegistry
	onMessage  MessageHandler

	ln      net.Listener
	reactor Reactor

	shutdown chan struct{}
}

// NewServer validates opts, applies defaults, and builds an idle Server
// — nothing is listening until Run is called.
func NewServer(opts *Options) (*Server, error) {
	if opts == nil {
		opts = &Options{}
	}
	opts.setDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var log Logger
	if opts.NoLog {
		log = noopLogger{}
	} else {
		log = newStdLogger(opts.Debug, opts.Trace)
	}

	s := &Server{
		opts:       opts,
		log:        log,
		registry:   newRegistry(),
		extensions: newExtensionRegistry(),
		shutdown:   make(chan struct{}),
	}
	if opts.Compression {
		if err := s.extensions.register(newPermessageDeflate(opts.CompressionLevel)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// RegisterExtension adds another process-wide Extension beyond whatever
// NewServer registered automatically (spec.md section 4.4).
func (s *Server) RegisterExtension(ext Extension) error {
	return s.extensions.register(ext)
}

// SetMessageHandler installs the user callback invoked for every
// reassembled message (spec.md section 4.7).
func (s *Server) SetMessageHandler(h MessageHandler) {
	s.onMessage = h
}

// WithReactor overrides the platform-default Reactor — required on
// platforms with no built-in backend (see reactor_windows.go) and
// useful in tests that want a deterministic Reactor.
func (s *Server) WithReactor(r Reactor) {
	s.reactor = r
}

// SendMessage queues an outbound data message for handle, running it
// through the extension generate_data pipeline (spec.md section 4.8).
// It runs on the caller's goroutine and takes no lock on the Connection,
// whose state the reactor goroutine also mutates; the queued bytes are
// written on the connection's next Writable event. If the message would
// overflow Options.MaxPendingOut, the connection is failed with 1011.
func (s *Server) SendMessage(handle int, payload []byte, opcode byte) error {
	s.mu.Lock()
	c := s.registry.lookup(handle)
	s.mu.Unlock()
	if c == nil {
		return fmt.Errorf("wscore: no connection for handle %d", handle)
	}
	if err := c.sendMessage(payload, opcode); err != nil {
		if err.Reason == CloseInternalServerErr {
			c.failConnection(err)
		}
		return err
	}
	return nil
}

// Close initiates the close handshake for handle with the given status
// and reason (spec.md section 4.6).
func (s *Server) Close(handle int, status uint16, reason string) error {
	s.mu.Lock()
	c := s.registry.lookup(handle)
	s.mu.Unlock()
	if c == nil {
		return fmt.Errorf("wscore: no connection for handle %d", handle)
	}
	if err := c.initiateClose(status, reason); err != nil {
		return err
	}
	return nil
}

// Run opens the listener and drives the Reactor's event loop until
// Shutdown is called or a fatal initialization error occurs (spec.md
// section 4.1: only init-time reactor errors are fatal).
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrap(err, "listening")
	}
	if !s.opts.NoTLS {
		ln = tls.NewListener(ln, s.opts.TLSConfig)
	}
	s.ln = ln

	listenerFd, err := rawListenerFD(ln)
	if err != nil {
		return errors.Wrap(err, "extracting listener file descriptor")
	}

	if s.reactor == nil {
		r, err := newPlatformReactor(listenerFd)
		if err != nil {
			return errors.Wrap(err, "building reactor")
		}
		s.reactor = r
	}

	s.log.Noticef("websocket core listening on %s", addr)

	return s.reactor.Run(s.acceptLoop, s.onConnEvent)
}

// Shutdown closes every connection in an orderly fashion (via
// registry.rangeConns, SPEC_FULL.md section 2.2) and stops the listener.
func (s *Server) Shutdown() {
	close(s.shutdown)
	if s.ln != nil {
		s.ln.Close()
	}
	s.registry.rangeConns(func(c *Connection) {
		c.initiateClose(uint16(CloseGoingAway), "")
	})
	if s.reactor != nil {
		s.reactor.Close()
	}
}

// acceptLoop drains every pending connection on the listener, grounded
// on the teacher's http.Server accept path replaced with a raw
// Reactor-driven accept (spec.md section 4.1: listener readiness is
// reported the same way connection readiness is).
func (s *Server) acceptLoop() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if isWouldBlock(err) {
				return
			}
			s.log.Errorf("accept error: %v", err)
			return
		}
		s.addConnection(conn)
	}
}

func (s *Server) addConnection(conn net.Conn) {
	fd, err := rawConnFD(conn)
	if err != nil {
		s.log.Errorf("unable to extract file descriptor for new connection: %v", err)
		conn.Close()
		return
	}

	c := newConnection(s, fd, conn)

	s.mu.Lock()
	s.registry.insert(c)
	s.mu.Unlock()

	if err := s.reactor.Add(fd); err != nil {
		s.log.Errorf("unable to register connection %d with reactor: %v", fd, err)
		s.removeConnection(c)
		return
	}
}

// onConnEvent is the Reactor's per-connection callback (spec.md section
// 4.1), routing each readiness edge to the matching Connection.
func (s *Server) onConnEvent(handle int, kind EventKind) {
	s.mu.Lock()
	c := s.registry.lookup(handle)
	s.mu.Unlock()
	if c == nil {
		return
	}

	switch kind {
	case Readable:
		c.processReadable()
	case Writable:
		c.processWritable()
	case HangUp:
		c.processHangup()
	}
}

func (s *Server) removeConnection(c *Connection) {
	s.mu.Lock()
	s.registry.remove(c.handle)
	s.mu.Unlock()
	s.reactor.Remove(c.handle)
	s.extensions.closeAll(c.handle, c.extIndices)
	c.conn.Close()
}

// rawListenerFD extracts the kernel file descriptor backing ln without
// duplicating it, so the Reactor and the net package observe the same
// fd (spec.md section 4.1 wants one readiness source of truth for the
// listener).
func rawListenerFD(ln net.Listener) (int, error) {
	sc, ok := ln.(syscall.Conn)
	if !ok {
		return 0, fmt.Errorf("listener does not expose a raw file descriptor")
	}
	return rawFD(sc)
}

func rawConnFD(conn net.Conn) (int, error) {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0, fmt.Errorf("connection does not expose a raw file descriptor")
	}
	return rawFD(sc)
}

func rawFD(sc syscall.Conn) (int, error) {
	rc, err := sc.SyscallConn()
	if err != nil {
		return 0, err
	}
	var fd int
	var ctrlErr error
	err = rc.Control(func(f uintptr) {
		fd = int(f)
	})
	if err != nil {
		return 0, err
	}
	return fd, ctrlErr
}
