package reactor

import (
	"errors"
	"net/netip"

	"github.com/42ship/serverx/internal/epoll"
	"github.com/42ship/serverx/internal/socket"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// OnAccept takes ownership over the accepted connection.
type OnAccept func(conn *socket.Socket, remote netip.AddrPort)

// Acceptor turns accept-readiness of a listener into new connections.
type Acceptor struct {
	listener   *socket.Socket
	addr       netip.AddrPort
	dispatcher *Dispatcher
	burst      int
	onAccept   OnAccept
	log        zerolog.Logger
}

// NewAcceptor registers the listener in the dispatcher. Every readiness event accepts
// at most burst connections.
func NewAcceptor(
	listener *socket.Socket, d *Dispatcher, burst int, onAccept OnAccept, log zerolog.Logger,
) (*Acceptor, error) {
	a := &Acceptor{
		listener:   listener,
		addr:       listener.LocalAddr(),
		dispatcher: d,
		burst:      burst,
		onAccept:   onAccept,
	}
	a.log = log.With().Str("component", "acceptor").Stringer("addr", a.addr).Logger()

	if err := d.Register(a, epoll.Readable); err != nil {
		return nil, err
	}

	return a, nil
}

func (a *Acceptor) Fd() int {
	return a.listener.Fd()
}

// Addr returns the address the listener is bound to.
func (a *Acceptor) Addr() netip.AddrPort {
	return a.addr
}

func (a *Acceptor) OnReadable() {
	for range a.burst {
		conn, remote, err := a.listener.Accept()
		switch {
		case err == nil:
		case socket.WouldBlock(err):
			return
		case errors.Is(err, unix.ECONNABORTED), errors.Is(err, unix.EPROTO):
			a.log.Debug().Err(err).Msg("connection aborted before accepted")
			continue
		default:
			// e.g. EMFILE. The listener stays readable, so the accept will be retried
			// on the next loop iteration
			a.log.Warn().Err(err).Msg("accept failed")
			return
		}

		a.log.Debug().Int("fd", conn.Fd()).Stringer("remote", remote).Msg("accepted")
		a.onAccept(conn, remote)
	}
}

func (a *Acceptor) OnWritable() {}

func (a *Acceptor) OnHangup() {
	a.log.Error().Msg("listener hangup")
}

func (a *Acceptor) Close() {
	a.dispatcher.Unregister(a)
	if err := a.listener.Close(); err != nil {
		a.log.Warn().Err(err).Msg("cannot close listener")
	}
}
