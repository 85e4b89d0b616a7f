package http

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/42ship/serverx/http"
	"github.com/42ship/serverx/http/status"
	"github.com/42ship/serverx/internal/cgi"
	"github.com/42ship/serverx/internal/epoll"
	"github.com/42ship/serverx/internal/socket"
	"github.com/42ship/serverx/router"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

type cgiStatus uint8

const (
	eRunning cgiStatus = iota + 1
	// eAwaitingExit means the output is complete, but the exit status isn't known yet.
	eAwaitingExit
	eDone
	eFailed
)

// cgiState drives a single script execution. The request body is streamed into the
// script's stdin while it's still being received, and stdout is read at the same time.
// A portion of the body is read from the connection only after the previous one is
// written into the pipe completely.
type cgiState struct {
	client *Client
	proc   *cgi.Process
	stdin  *cgiPipe
	stdout *cgiPipe
	exit   *cgiPipe
	// input is the unwritten rest of the current body portion.
	input     []byte
	inputBuff []byte
	// inputDone is set once the last portion of the body is queued.
	inputDone bool
	output    []byte
	deadline  time.Time
	status    cgiStatus
	log       zerolog.Logger
}

// startCGI spawns the script of the route. The returned error is an HTTP one. The body
// isn't expected to be received yet, and must be passed via feed.
func startCGI(c *Client, route router.Route) (*cgiState, error) {
	stat, err := os.Stat(route.Filename)
	switch {
	case err != nil:
		return nil, http.FSError(err)
	case stat.IsDir():
		return nil, status.ErrForbidden
	}

	env := cgi.Env(cgi.Params{
		Request:        c.request,
		ScriptName:     route.ScriptName,
		ScriptFilename: route.Filename,
		PathInfo:       route.PathInfo,
		DocumentRoot:   route.Location.Root,
		ServerName:     route.Server.Name(),
		ServerPort:     c.listen.Port(),
		Software:       c.engine.cfg.CGI.Software,
	})

	proc, err := cgi.Start(route.Interpreter, route.Filename, env)
	if err != nil {
		c.log.Warn().Err(err).Str("script", route.Filename).Msg("cannot start cgi")
		return nil, status.ErrBadGateway
	}

	s := &cgiState{
		client:   c,
		proc:     proc,
		deadline: time.Now().Add(c.engine.cfg.CGI.Timeout),
		status:   eRunning,
		log:      c.log.With().Int("pid", proc.Pid).Logger(),
	}
	s.stdin = &cgiPipe{state: s, sock: proc.Stdin, onWritable: s.writeInput, onHangup: s.dropInput}
	s.stdout = &cgiPipe{state: s, sock: proc.Stdout, onReadable: s.readOutput, onHangup: s.readOutput}

	d := c.engine.dispatcher
	if err = d.Register(s.stdout, epoll.Readable); err != nil {
		s.abort()
		return nil, status.ErrBadGateway
	}

	// stdin is watched for writability only while there's something to write
	if err = d.Register(s.stdin, 0); err != nil {
		s.abort()
		return nil, status.ErrBadGateway
	}

	s.log.Debug().Str("script", route.Filename).Msg("cgi started")
	return s, nil
}

// inputBuffer returns an empty buffer for the next portion of the body.
func (s *cgiState) inputBuffer() []byte {
	return s.inputBuff[:0]
}

// feed queues the portion of the body for the script. The last one closes the stdin
// after being written.
func (s *cgiState) feed(data []byte, last bool) {
	s.inputBuff = data[:0]
	s.inputDone = last
	if s.stdin.closed() {
		// the script has gone for the rest of input, which is discarded then
		s.client.readBody(true)
		return
	}

	s.input = data
	s.writeInput()
}

func (s *cgiState) writeInput() {
	for len(s.input) > 0 {
		n, err := s.stdin.sock.Write(s.input)
		switch {
		case err == nil:
			s.input = s.input[n:]
		case socket.WouldBlock(err):
			s.watchInput(epoll.Writable)
			s.client.readBody(false)
			return
		default:
			// EPIPE: the script isn't interested in the rest of the input
			s.log.Debug().Err(err).Msg("cgi stdin closed early")
			s.dropInput()
			return
		}
	}

	if s.inputDone {
		s.closeInput()
		s.client.readBody(false)
		return
	}

	s.watchInput(0)
	s.client.readBody(true)
}

func (s *cgiState) watchInput(interest epoll.Interest) {
	if s.stdin.closed() {
		return
	}

	if err := s.client.engine.dispatcher.Modify(s.stdin, interest); err != nil {
		s.log.Warn().Err(err).Msg("cannot watch cgi stdin")
		s.fail(status.ErrBadGateway)
	}
}

// closeInput signals the end of the input to the script.
func (s *cgiState) closeInput() {
	s.input = nil
	s.stdin.close()
}

// dropInput closes the stdin before the whole body is written. The rest of the body is
// still received in order to keep the connection usable.
func (s *cgiState) dropInput() {
	s.closeInput()
	s.client.readBody(true)
}

func (s *cgiState) readOutput() {
	if s.status != eRunning {
		return
	}

	buff := s.client.engine.readBuff
	for {
		n, err := s.stdout.sock.Read(buff)
		switch {
		case err == nil:
			if len(s.output)+n > s.client.engine.cfg.CGI.MaxOutputSize {
				s.log.Warn().Msg("cgi output is too large")
				s.fail(status.ErrBadGateway)
				return
			}

			s.output = append(s.output, buff[:n]...)
		case socket.WouldBlock(err):
			return
		case errors.Is(err, io.EOF):
			s.stdout.close()
			s.status = eAwaitingExit
			s.awaitExit()
			return
		default:
			s.log.Warn().Err(err).Msg("cannot read cgi output")
			s.fail(status.ErrBadGateway)
			return
		}
	}
}

// awaitExit finishes the execution once the exit status is known. Until then, the
// pidfd is watched if supported. Otherwise, the process is polled on ticks.
func (s *cgiState) awaitExit() {
	exited, ws, err := s.proc.Reap()
	if err != nil {
		s.log.Warn().Err(err).Msg("cannot reap cgi")
		s.fail(status.ErrBadGateway)
		return
	}

	if !exited {
		if s.exit == nil && s.proc.Pidfd >= 0 {
			s.exit = &cgiPipe{state: s, fd: s.proc.Pidfd, onReadable: s.awaitExit, onHangup: s.awaitExit}
			if err = s.client.engine.dispatcher.Register(s.exit, epoll.Readable); err != nil {
				s.exit = nil
			}
		}

		return
	}

	s.unwatchExit()
	s.proc.ClosePidfd()

	if code := exitCode(ws); code != 0 {
		s.log.Warn().Int("code", code).Msg("cgi exited with non-zero status")
		s.fail(status.ErrBadGateway)
		return
	}

	response := s.client.response
	if err = cgi.ParseResponse(s.output, s.client.engine.cfg.CGI.MaxHeaderSize, response); err != nil {
		s.log.Warn().Msg("malformed cgi output")
		s.fail(err)
		return
	}

	s.log.Debug().Int("output", len(s.output)).Msg("cgi done")
	s.closeInput()
	s.status = eDone
	s.output = nil
	s.client.onCGIDone(nil)
}

func exitCode(ws unix.WaitStatus) int {
	switch {
	case ws.Exited():
		return ws.ExitStatus()
	case ws.Signaled():
		return 128 + int(ws.Signal())
	default:
		return 0
	}
}

// Tick enforces the deadline and polls the exit status if no pidfd is available.
func (s *cgiState) Tick(now time.Time) {
	switch {
	case s.status != eRunning && s.status != eAwaitingExit:
	case now.After(s.deadline):
		s.log.Warn().Msg("cgi timed out")
		s.fail(status.ErrGatewayTimeout)
	case s.status == eAwaitingExit:
		s.awaitExit()
	}
}

// fail kills the script and reports the error to the client.
func (s *cgiState) fail(err error) {
	s.abort()
	s.client.onCGIDone(err)
}

// abort kills the script and releases everything. The client isn't notified.
func (s *cgiState) abort() {
	if s.status == eDone || s.status == eFailed {
		return
	}

	s.status = eFailed
	s.input, s.inputBuff, s.output = nil, nil, nil
	s.stdin.close()
	s.stdout.close()
	s.unwatchExit()
	s.proc.Kill()
	s.client.engine.reaper.Adopt(s.proc)
}

func (s *cgiState) unwatchExit() {
	if s.exit != nil {
		s.client.engine.dispatcher.Unregister(s.exit)
		s.exit = nil
	}
}

// cgiPipe registers a descriptor of the script in the dispatcher on behalf of
// the cgiState. Either sock or fd is set.
type cgiPipe struct {
	state      *cgiState
	sock       *socket.Socket
	fd         int
	onReadable func()
	onWritable func()
	onHangup   func()
}

func (p *cgiPipe) Fd() int {
	if p.sock != nil {
		return p.sock.Fd()
	}

	return p.fd
}

func (p *cgiPipe) OnReadable() {
	if p.onReadable != nil {
		p.onReadable()
	}
}

func (p *cgiPipe) OnWritable() {
	if p.onWritable != nil {
		p.onWritable()
	}
}

func (p *cgiPipe) OnHangup() {
	if p.onHangup != nil {
		p.onHangup()
	}
}

// Close is called on the dispatcher shutdown.
func (p *cgiPipe) Close() {
	p.state.abort()
}

func (p *cgiPipe) closed() bool {
	return p.sock == nil || p.sock.Closed()
}

func (p *cgiPipe) close() {
	if p.closed() {
		return
	}

	p.state.client.engine.dispatcher.Unregister(p)
	_ = p.sock.Close()
}
