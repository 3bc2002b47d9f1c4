//go:build windows

package server

import "errors"

// Windows is not a supported production target for this core (the
// Readiness Reactor is specified in terms of epoll/kqueue/poll
// equivalents, spec.md section 1); callers on Windows should supply a
// custom Reactor implementation via Server.WithReactor.
func newPlatformReactor(listenerFd int) (Reactor, error) {
	return nil, errors.New("wscore: no built-in Reactor backend for windows; supply one via Server.WithReactor")
}
