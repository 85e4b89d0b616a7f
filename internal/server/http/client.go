package http

import (
	"errors"
	"io"
	"net/netip"
	"time"

	"github.com/42ship/serverx/handler"
	"github.com/42ship/serverx/http"
	"github.com/42ship/serverx/http/status"
	"github.com/42ship/serverx/internal/epoll"
	"github.com/42ship/serverx/internal/parser"
	"github.com/42ship/serverx/internal/parser/http1"
	"github.com/42ship/serverx/internal/socket"
	"github.com/42ship/serverx/router"
	"github.com/rs/zerolog"
)

type clientState uint8

const (
	eReadingRequest clientState = iota + 1
	eAwaitingCGI
	eWritingResponse
	eClosing
)

func (c clientState) String() string {
	switch c {
	case eReadingRequest:
		return "reading-request"
	case eAwaitingCGI:
		return "awaiting-cgi"
	case eWritingResponse:
		return "writing-response"
	case eClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Client is a single connection. Requests are served strictly one after another: while
// a request is being handled or its response is being written, nothing is read from the
// connection, so pipelined requests wait in the kernel's buffer. Bytes of them, already
// read together with the previous request, are kept in the pending.
//
// CGI scripts are started as soon as the request headers are parsed. Their body is read
// from the connection while the script runs, one portion at a time.
type Client struct {
	engine     *Engine
	conn       *socket.Socket
	listen     netip.AddrPort
	request    *http.Request
	response   *http.Response
	parser     *http1.Parser
	body       *http1.Body
	serializer *Serializer
	state      clientState
	interest   epoll.Interest
	route      router.Route
	cgi        *cgiState
	// headersDone is set once the parser is done, so the body is being received.
	headersDone bool
	// started is set once a byte of the current request is received.
	started      bool
	keepAlive    bool
	pending      []byte
	pendingBuff  []byte
	out          []byte
	respBody     http.Body
	chunkBuff    []byte
	lastActivity time.Time
	log          zerolog.Logger
}

func NewClient(e *Engine, conn *socket.Socket, listen, remote netip.AddrPort) *Client {
	cfg := e.cfg
	request := http.NewRequest(cfg.Headers.Number.Default)
	request.Remote = remote
	request.Local = conn.LocalAddr()

	return &Client{
		engine:       e,
		conn:         conn,
		listen:       listen,
		request:      request,
		response:     http.NewResponse(),
		parser:       http1.NewParser(request, cfg),
		body:         http1.NewBody(request, cfg.Body.BufferPrealloc),
		serializer:   NewSerializer(cfg.Headers.Default, cfg.NET.SmallBody),
		state:        eReadingRequest,
		interest:     epoll.Readable,
		lastActivity: time.Now(),
		log: e.log.With().
			Str("component", "client").
			Int("fd", conn.Fd()).
			Stringer("remote", remote).
			Logger(),
	}
}

func (c *Client) Fd() int {
	return c.conn.Fd()
}

func (c *Client) OnReadable() {
	switch {
	case c.state == eReadingRequest:
	case c.state == eAwaitingCGI && c.cgi != nil && len(c.cgi.input) == 0 && !c.body.Done():
	default:
		return
	}

	buff := c.engine.readBuff
	n, err := c.conn.Read(buff)
	switch {
	case err == nil:
	case socket.WouldBlock(err):
		return
	case errors.Is(err, io.EOF):
		c.log.Debug().Msg("peer closed the connection")
		c.Close()
		return
	default:
		c.log.Debug().Err(err).Msg("read failed")
		c.Close()
		return
	}

	c.lastActivity = time.Now()
	c.process(buff[:n])
	c.drainPending()
}

func (c *Client) OnWritable() {
	if c.state != eWritingResponse {
		return
	}

	c.flush()
	c.drainPending()
}

func (c *Client) OnHangup() {
	c.log.Debug().Stringer("state", c.state).Msg("hangup")
	c.Close()
}

// Tick closes idle connections. A partially received request is answered with
// 408 Request Timeout before.
func (c *Client) Tick(now time.Time) {
	if c.cgi != nil {
		c.cgi.Tick(now)
		return
	}

	if now.Sub(c.lastActivity) < c.engine.cfg.NET.ReadTimeout {
		return
	}

	switch c.state {
	case eReadingRequest:
		if !c.started {
			c.log.Debug().Msg("idle timeout")
			c.Close()
			return
		}

		c.fail(status.ErrRequestTimeout)
		c.drainPending()
	case eWritingResponse:
		c.log.Debug().Msg("write timeout")
		c.Close()
	}
}

// Close releases the connection, killing the CGI script, if any. It's safe to be called
// multiple times.
func (c *Client) Close() {
	if c.state == eClosing {
		return
	}

	c.state = eClosing
	if c.cgi != nil {
		c.cgi.abort()
		c.cgi = nil
	}

	c.engine.dispatcher.Unregister(c)
	if err := c.conn.Close(); err != nil {
		c.log.Debug().Err(err).Msg("close failed")
	}

	c.respBody = nil
	c.out = nil
	c.response.Clear()
	c.log.Debug().Msg("closed")
}

// process feeds the data into the current request. At most one request is completed,
// the rest of data is stashed into the pending.
func (c *Client) process(data []byte) {
	if len(data) > 0 {
		c.started = true
	}

	if !c.headersDone {
		state, extra, err := c.parser.Parse(data)
		switch state {
		case parser.Pending:
			return
		case parser.Error:
			c.fail(err)
			return
		}

		c.headersDone = true
		c.route = c.engine.router.Route(c.request, c.listen)
		if c.route.Kind == router.Error && c.request.HasBody() {
			// the body isn't worth receiving
			c.fail(c.route.Err)
			return
		}

		maxSize := c.engine.cfg.Body.MaxSize
		if c.route.Location != nil {
			maxSize = c.route.Location.MaxBodySize
		}

		if err = c.body.Init(maxSize); err != nil {
			c.fail(err)
			return
		}

		data = extra
		if c.route.Kind == router.CGI {
			c.spawn(data)
			return
		}
	}

	if c.cgi != nil {
		c.stream(data)
		return
	}

	if !c.body.Done() {
		var (
			done bool
			err  error
		)
		c.request.Body, done, data, err = c.body.Feed(c.request.Body, data)
		if err != nil {
			c.fail(err)
			return
		}

		if !done {
			return
		}
	}

	c.stash(data)
	c.handle()
}

// stash keeps the bytes of pipelined requests until the current one is served.
func (c *Client) stash(data []byte) {
	c.pending = append(c.pendingBuff[:0], data...)
	c.pendingBuff = c.pending[:0]
}

// drainPending processes pipelined requests, as long as they're complete.
func (c *Client) drainPending() {
	for c.state == eReadingRequest && len(c.pending) > 0 {
		data := c.pending
		c.pending = nil
		c.process(data)
	}
}

func (c *Client) begin() {
	c.keepAlive = c.request.KeepAlive()
	c.log.Debug().
		Str("method", c.request.MethodName).
		Str("path", http.Escape(c.request.Path)).
		Stringer("handler", c.route.Kind).
		Msg("request")
}

func (c *Client) handle() {
	c.begin()
	c.respond(handler.Serve(c.request, c.route, c.response))
}

// spawn starts the script, feeding it with the beginning of the body, if any.
func (c *Client) spawn(data []byte) {
	c.begin()

	state, err := startCGI(c, c.route)
	if err != nil {
		if !c.body.Done() {
			c.fail(err)
			return
		}

		c.stash(data)
		c.respond(handler.Error(c.request, c.route.Location, err, c.response))
		return
	}

	c.cgi = state
	c.state = eAwaitingCGI
	c.stream(data)
}

// stream decodes the next portion of the body and passes it to the script.
func (c *Client) stream(data []byte) {
	s := c.cgi
	if c.body.Done() {
		c.stash(data)
		s.feed(s.inputBuffer(), true)
		return
	}

	out, done, extra, err := c.body.Feed(s.inputBuffer(), data)
	if err != nil {
		c.cgi = nil
		s.abort()
		c.fail(err)
		return
	}

	if done {
		c.stash(extra)
	}

	s.feed(out, done)
}

// readBody switches reading of the body streamed into the script on and off. Errors and
// hangups are reported regardless.
func (c *Client) readBody(on bool) {
	if c.state != eAwaitingCGI {
		return
	}

	if on && !c.body.Done() {
		c.setInterest(epoll.Readable)
	} else {
		c.setInterest(0)
	}
}

// onCGIDone is called by the cgiState once the response is ready, or the script failed.
func (c *Client) onCGIDone(err error) {
	c.cgi = nil
	if c.state != eAwaitingCGI {
		return
	}

	c.lastActivity = time.Now()
	if !c.body.Done() {
		// the rest of the body is still in flight
		c.keepAlive = false
	}

	if err != nil {
		c.respond(handler.Error(c.request, c.route.Location, err, c.response))
	} else {
		c.respond(c.response)
	}

	c.drainPending()
}

// fail responds with the error and closes the connection afterward.
func (c *Client) fail(err error) {
	c.log.Debug().Err(err).Msg("request failed")
	c.keepAlive = false
	c.respond(handler.Error(c.request, c.route.Location, err, c.response))
}

func (c *Client) respond(response *http.Response) {
	head, body := c.serializer.Render(c.request, response, c.keepAlive)
	c.log.Debug().Uint16("status", uint16(response.Expose().Code)).Msg("respond")
	c.out = head
	c.respBody = body
	c.state = eWritingResponse
	c.flush()
}

// flush writes as much of the response as possible. The next chunk of the body is
// pulled only once the previous one is written completely.
func (c *Client) flush() {
	for {
		if len(c.out) == 0 {
			chunk, err := c.respBody.Next(c.chunk())
			switch {
			case err == nil:
				c.out = chunk
				continue
			case errors.Is(err, io.EOF):
				c.finish()
				return
			default:
				c.log.Warn().Err(err).Msg("cannot pull response body")
				c.Close()
				return
			}
		}

		n, err := c.conn.Write(c.out)
		switch {
		case err == nil:
			c.out = c.out[n:]
			c.lastActivity = time.Now()
		case socket.WouldBlock(err):
			c.setInterest(epoll.Writable)
			return
		default:
			c.log.Debug().Err(err).Msg("write failed")
			c.Close()
			return
		}
	}
}

func (c *Client) chunk() []byte {
	if c.chunkBuff == nil {
		c.chunkBuff = make([]byte, c.engine.cfg.NET.WriteBufferSize)
	}

	return c.chunkBuff
}

// finish completes the response and either closes the connection or prepares it for
// the next request.
func (c *Client) finish() {
	c.respBody = nil
	c.response.Clear()

	if !c.keepAlive {
		c.Close()
		return
	}

	c.request.Reset()
	c.parser.Reset()
	c.route = router.Route{}
	c.headersDone = false
	c.started = false
	c.state = eReadingRequest
	c.setInterest(epoll.Readable)
}

func (c *Client) setInterest(interest epoll.Interest) {
	if c.state == eClosing || c.interest == interest {
		return
	}

	if err := c.engine.dispatcher.Modify(c, interest); err != nil {
		c.log.Warn().Err(err).Msg("cannot modify interest")
		c.Close()
		return
	}

	c.interest = interest
}
