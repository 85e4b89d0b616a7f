package reactor

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/42ship/serverx/internal/epoll"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Handler owns a descriptor registered in the dispatcher. Callbacks are invoked from
// the dispatcher loop only, so no synchronization is needed.
type Handler interface {
	Fd() int
	OnReadable()
	OnWritable()
	// OnHangup is called on error or hangup conditions, after readable and writable
	// callbacks of the same event, if the handler is still registered.
	OnHangup()
	// Close releases everything the handler owns, unregistering it.
	Close()
}

// Ticker is implemented by handlers needing periodic checks, e.g. timeouts.
type Ticker interface {
	Tick(now time.Time)
}

type entry struct {
	handler  Handler
	interest epoll.Interest
	tag      int32
}

// Dispatcher is a single-threaded reactor: it waits for readiness events and routes
// them to the handlers owning the descriptors.
type Dispatcher struct {
	poller       *epoll.Manager
	handlers     map[int]entry
	generation   int32
	pollInterval time.Duration
	lastTick     time.Time
	onTick       []func(now time.Time)
	log          zerolog.Logger

	stopped atomic.Bool
	wakeMu  sync.Mutex
	wakefd  int
}

func New(maxEvents int, pollInterval time.Duration, log zerolog.Logger) (*Dispatcher, error) {
	poller, err := epoll.New(maxEvents, log)
	if err != nil {
		return nil, err
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = poller.Close()
		return nil, fmt.Errorf("eventfd: %w", err)
	}

	if err = poller.Add(wakefd, epoll.Readable, 0); err != nil {
		_ = poller.Close()
		_ = unix.Close(wakefd)
		return nil, err
	}

	return &Dispatcher{
		poller:       poller,
		handlers:     make(map[int]entry),
		pollInterval: pollInterval,
		log:          log,
		wakefd:       wakefd,
	}, nil
}

// Register starts watching the handler's descriptor.
func (d *Dispatcher) Register(h Handler, interest epoll.Interest) error {
	fd := h.Fd()
	if _, found := d.handlers[fd]; found {
		return fmt.Errorf("fd %d is already registered", fd)
	}

	d.generation++
	if err := d.poller.Add(fd, interest, d.generation); err != nil {
		return err
	}

	d.handlers[fd] = entry{
		handler:  h,
		interest: interest,
		tag:      d.generation,
	}

	return nil
}

// Modify changes the interest of a registered handler. Unchanged interest costs nothing.
func (d *Dispatcher) Modify(h Handler, interest epoll.Interest) error {
	fd := h.Fd()
	e, found := d.handlers[fd]
	if !found || e.handler != h {
		return fmt.Errorf("fd %d is not registered", fd)
	}

	if e.interest == interest {
		return nil
	}

	if err := d.poller.Modify(fd, interest, e.tag); err != nil {
		return err
	}

	e.interest = interest
	d.handlers[fd] = e
	return nil
}

// Unregister stops watching the handler's descriptor. It must be called before the
// descriptor is closed.
func (d *Dispatcher) Unregister(h Handler) {
	fd := h.Fd()
	if e, found := d.handlers[fd]; !found || e.handler != h {
		return
	}

	delete(d.handlers, fd)
	if err := d.poller.Remove(fd); err != nil {
		d.log.Warn().Err(err).Int("fd", fd).Msg("cannot unregister descriptor")
	}
}

// Registered tells whether the handler is currently registered.
func (d *Dispatcher) Registered(h Handler) bool {
	e, found := d.handlers[h.Fd()]
	return found && e.handler == h
}

// Len returns the number of registered handlers.
func (d *Dispatcher) Len() int {
	return len(d.handlers)
}

// OnTick adds a callback, called alongside Ticker handlers.
func (d *Dispatcher) OnTick(cb func(now time.Time)) {
	d.onTick = append(d.onTick, cb)
}

// Run drives the loop until Stop is called. All the handlers left are closed before
// returning.
func (d *Dispatcher) Run() error {
	defer d.shutdown()

	d.lastTick = time.Now()
	for !d.stopped.Load() {
		events, err := d.poller.Wait(d.pollInterval)
		if err != nil {
			return err
		}

		for _, event := range events {
			if event.Fd == d.wakefd {
				d.drainWakeup()
				continue
			}

			d.dispatch(event)
		}

		if now := time.Now(); now.Sub(d.lastTick) >= d.pollInterval {
			d.tick(now)
		}
	}

	return nil
}

func (d *Dispatcher) dispatch(event epoll.Event) {
	e, found := d.handlers[event.Fd]
	if !found || e.tag != event.Tag {
		// the descriptor was closed (and maybe reused) by a preceding event
		// of the same batch
		return
	}

	h := e.handler
	if event.Readable() {
		h.OnReadable()
	}

	if event.Writable() && d.current(event) {
		h.OnWritable()
	}

	if event.Hangup() && d.current(event) {
		h.OnHangup()
	}
}

func (d *Dispatcher) current(event epoll.Event) bool {
	e, found := d.handlers[event.Fd]
	return found && e.tag == event.Tag
}

func (d *Dispatcher) tick(now time.Time) {
	d.lastTick = now

	for _, e := range d.handlers {
		if ticker, ok := e.handler.(Ticker); ok {
			ticker.Tick(now)
		}
	}

	for _, cb := range d.onTick {
		cb(now)
	}
}

// Stopping reports whether Stop was called.
func (d *Dispatcher) Stopping() bool {
	return d.stopped.Load()
}

// Stop interrupts the loop. It's safe to be called from any goroutine, any number
// of times.
func (d *Dispatcher) Stop() {
	d.stopped.Store(true)

	d.wakeMu.Lock()
	defer d.wakeMu.Unlock()

	if d.wakefd < 0 {
		return
	}

	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(d.wakefd, buf[:]); err != nil && err != unix.EAGAIN {
		d.log.Warn().Err(err).Msg("cannot wake the dispatcher up")
	}
}

func (d *Dispatcher) drainWakeup() {
	var buf [8]byte
	_, _ = unix.Read(d.wakefd, buf[:])
}

// Close releases everything without running the loop, e.g. when the setup failed
// midway. It must not be called concurrently with Run.
func (d *Dispatcher) Close() {
	d.stopped.Store(true)
	d.shutdown()
}

func (d *Dispatcher) shutdown() {
	for _, e := range d.handlers {
		e.handler.Close()
	}

	// handlers failing to unregister themselves are dropped anyway
	clear(d.handlers)

	d.wakeMu.Lock()
	_ = unix.Close(d.wakefd)
	d.wakefd = -1
	d.wakeMu.Unlock()

	if err := d.poller.Close(); err != nil {
		d.log.Warn().Err(err).Msg("cannot close epoll")
	}
}
