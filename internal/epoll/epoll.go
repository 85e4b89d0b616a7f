package epoll

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Interest is the set of readiness events a descriptor is watched for. Errors and
// hangups are always reported.
type Interest uint32

const (
	Readable Interest = unix.EPOLLIN
	Writable Interest = unix.EPOLLOUT
	// Hangup is EPOLLRDHUP, the peer shut its writing side down.
	Hangup Interest = unix.EPOLLRDHUP
)

// Event is a single readiness notification.
type Event struct {
	Fd  int
	Tag int32
	// Events is the raw revents mask.
	Events uint32
}

func (e Event) Readable() bool {
	return e.Events&(unix.EPOLLIN|unix.EPOLLPRI) != 0
}

func (e Event) Writable() bool {
	return e.Events&unix.EPOLLOUT != 0
}

// Hangup reports an error condition, or that the peer is gone.
func (e Event) Hangup() bool {
	return e.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0
}

// Manager wraps an epoll instance.
type Manager struct {
	fd     int
	events []unix.EpollEvent
	ready  []Event
	log    zerolog.Logger
}

// New creates an epoll instance, collecting at most maxEvents at once.
func New(maxEvents int, log zerolog.Logger) (*Manager, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	return &Manager{
		fd:     fd,
		events: make([]unix.EpollEvent, maxEvents),
		ready:  make([]Event, 0, maxEvents),
		log:    log,
	}, nil
}

// Add registers the fd. The tag is reported back with every event of the fd.
func (m *Manager) Add(fd int, interest Interest, tag int32) error {
	return m.ctl(unix.EPOLL_CTL_ADD, fd, interest, tag)
}

// Modify replaces the interest of an already registered fd.
func (m *Manager) Modify(fd int, interest Interest, tag int32) error {
	return m.ctl(unix.EPOLL_CTL_MOD, fd, interest, tag)
}

// Remove unregisters the fd. Descriptors already removed or closed are silently ignored.
func (m *Manager) Remove(fd int) error {
	err := unix.EpollCtl(m.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EBADF) {
		m.log.Debug().Int("fd", fd).Err(err).Msg("removing unregistered descriptor")
		return nil
	}

	return err
}

func (m *Manager) ctl(op, fd int, interest Interest, tag int32) error {
	event := unix.EpollEvent{
		Events: uint32(interest),
		Fd:     int32(fd),
		Pad:    tag,
	}

	if err := unix.EpollCtl(m.fd, op, fd, &event); err != nil {
		return fmt.Errorf("epoll_ctl(fd=%d): %w", fd, err)
	}

	return nil
}

// Wait blocks until at least one event is ready, or timeout elapses. Negative timeout
// blocks forever. The returned slice is valid until the next call.
func (m *Manager) Wait(timeout time.Duration) ([]Event, error) {
	msec := -1
	if timeout >= 0 {
		msec = int(timeout.Milliseconds())
	}

	n, err := unix.EpollWait(m.fd, m.events, msec)
	switch {
	case err == unix.EINTR:
		// signals (including the runtime preemption ones) interrupt the wait
		return m.ready[:0], nil
	case err != nil:
		return nil, fmt.Errorf("epoll_wait: %w", err)
	}

	m.ready = m.ready[:0]
	for _, event := range m.events[:n] {
		m.ready = append(m.ready, Event{
			Fd:     int(event.Fd),
			Tag:    event.Pad,
			Events: event.Events,
		})
	}

	return m.ready, nil
}

func (m *Manager) Close() error {
	return unix.Close(m.fd)
}
