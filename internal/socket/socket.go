package socket

import (
	"errors"
	"fmt"
	"io"
	"net/netip"

	"golang.org/x/sys/unix"
)

// Socket owns a single non-blocking file descriptor: a listener, a connection, or
// a pipe end.
type Socket struct {
	fd int
}

// New takes ownership over the fd, switching it into the non-blocking mode.
func New(fd int) (*Socket, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("set non-blocking: %w", err)
	}

	return &Socket{fd: fd}, nil
}

// Listen creates a listening TCP socket bound to the address.
func Listen(addr netip.AddrPort, backlog int) (*Socket, error) {
	if !addr.Addr().Is4() {
		return nil, fmt.Errorf("listen %s: only IPv4 addresses are supported", addr)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}

	s := &Socket{fd: fd}
	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("setsockopt: %w", err)
	}

	if err = unix.Bind(fd, &unix.SockaddrInet4{Port: int(addr.Port()), Addr: addr.Addr().As4()}); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}

	if err = unix.Listen(fd, backlog); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	return s, nil
}

func (s *Socket) Fd() int {
	return s.fd
}

// Accept returns a new non-blocking connection and its remote address. If no pending
// connections are there, the error satisfies WouldBlock.
func (s *Socket) Accept() (*Socket, netip.AddrPort, error) {
	for {
		fd, sa, err := unix.Accept4(s.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch {
		case err == unix.EINTR:
			continue
		case err != nil:
			return nil, netip.AddrPort{}, err
		}

		_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		return &Socket{fd: fd}, addrOf(sa), nil
	}
}

// LocalAddr returns the address the socket is bound to.
func (s *Socket) LocalAddr() netip.AddrPort {
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return netip.AddrPort{}
	}

	return addrOf(sa)
}

// Read returns io.EOF if the peer closed its end.
func (s *Socket) Read(b []byte) (int, error) {
	for {
		n, err := unix.Read(s.fd, b)
		switch {
		case err == unix.EINTR:
			continue
		case err != nil:
			return 0, err
		case n == 0 && len(b) > 0:
			return 0, io.EOF
		default:
			return n, nil
		}
	}
}

func (s *Socket) Write(b []byte) (int, error) {
	for {
		n, err := unix.Write(s.fd, b)
		switch {
		case err == unix.EINTR:
			continue
		case err != nil:
			return 0, err
		default:
			return n, nil
		}
	}
}

// CloseWrite shuts down the writing side of a connection.
func (s *Socket) CloseWrite() error {
	return unix.Shutdown(s.fd, unix.SHUT_WR)
}

// Close is safe to be called multiple times.
func (s *Socket) Close() error {
	if s.fd < 0 {
		return nil
	}

	fd := s.fd
	s.fd = -1
	return unix.Close(fd)
}

// Closed reports whether the socket was closed.
func (s *Socket) Closed() bool {
	return s.fd < 0
}

// WouldBlock reports whether the error means the operation must be retried once the
// descriptor becomes ready.
func WouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN)
}

func addrOf(sa unix.Sockaddr) netip.AddrPort {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(addr.Addr), uint16(addr.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(addr.Addr).Unmap(), uint16(addr.Port))
	default:
		return netip.AddrPort{}
	}
}
