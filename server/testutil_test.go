package server

import "bytes"

// fakeConn is a minimal io.ReadWriteCloser over an in-memory buffer,
// used wherever tests need a Connection without a real socket.
type fakeConn struct {
	bytes.Buffer
	closed bool
}

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

// fakeReactor is a no-op Reactor satisfying the interface for tests that
// exercise Connection logic without a real event loop.
type fakeReactor struct {
	writeInterest map[int]bool
}

func (r *fakeReactor) Add(handle int) error    { return nil }
func (r *fakeReactor) Remove(handle int) error { return nil }
func (r *fakeReactor) SetWriteInterest(handle int, on bool) error {
	if r.writeInterest == nil {
		r.writeInterest = make(map[int]bool)
	}
	r.writeInterest[handle] = on
	return nil
}
func (r *fakeReactor) Run(onListener func(), onConn func(handle int, kind EventKind)) error {
	return nil
}
func (r *fakeReactor) Close() error { return nil }

func newTestServer() *Server {
	opts := &Options{NoLog: true}
	opts.setDefaults()
	return &Server{
		opts:       opts,
		log:        noopLogger{},
		registry:   newRegistry(),
		extensions: newExtensionRegistry(),
		reactor:    &fakeReactor{},
	}
}

func newTestConnection(srv *Server, handle int) *Connection {
	return newConnection(srv, handle, &fakeConn{})
}
