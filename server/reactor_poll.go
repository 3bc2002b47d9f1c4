//go:build !linux && !windows

package server

import (
	"sync"

	"golang.org/x/sys/unix"
)

// pollReactor is the portable (non-Linux, non-Windows) Reactor backend,
// built on unix.Poll. Like the epoll backend it is level-triggered, so
// the Orchestrator's
// drain-until-EAGAIN discipline (spec.md section 4.1) does all the work.
type pollReactor struct {
	mu         sync.Mutex
	listenerFd int
	fds        map[int]bool // handle -> write-interest
	closed     bool
	initErrCh  chan error
}

func newPlatformReactor(listenerFd int) (Reactor, error) {
	return &pollReactor{
		listenerFd: listenerFd,
		fds:        make(map[int]bool),
		initErrCh:  make(chan error, 1),
	}, nil
}

func (r *pollReactor) Add(handle int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fds[handle] = false
	return nil
}

func (r *pollReactor) Remove(handle int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.fds, handle)
	return nil
}

func (r *pollReactor) SetWriteInterest(handle int, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.fds[handle]; ok {
		r.fds[handle] = on
	}
	return nil
}

func (r *pollReactor) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *pollReactor) InitErrors() <-chan error { return r.initErrCh }

func (r *pollReactor) Run(onListener func(), onConn func(handle int, kind EventKind)) error {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil
		}
		fds := make([]unix.PollFd, 0, len(r.fds)+1)
		fds = append(fds, unix.PollFd{Fd: int32(r.listenerFd), Events: unix.POLLIN})
		for h, w := range r.fds {
			ev := int16(unix.POLLIN)
			if w {
				ev |= unix.POLLOUT
			}
			fds = append(fds, unix.PollFd{Fd: int32(h), Events: ev})
		}
		r.mu.Unlock()

		n, err := unix.Poll(fds, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n == 0 {
			continue
		}
		for _, pfd := range fds {
			if pfd.Revents == 0 {
				continue
			}
			if int(pfd.Fd) == r.listenerFd {
				onListener()
				continue
			}
			switch {
			case pfd.Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0:
				onConn(int(pfd.Fd), HangUp)
			default:
				if pfd.Revents&unix.POLLOUT != 0 {
					onConn(int(pfd.Fd), Writable)
				}
				if pfd.Revents&unix.POLLIN != 0 {
					onConn(int(pfd.Fd), Readable)
				}
			}
		}
	}
}
