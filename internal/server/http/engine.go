package http

import (
	"net/netip"

	"github.com/42ship/serverx/config"
	"github.com/42ship/serverx/internal/epoll"
	"github.com/42ship/serverx/internal/reactor"
	"github.com/42ship/serverx/internal/socket"
	"github.com/42ship/serverx/router"
	"github.com/rs/zerolog"
)

// Engine holds everything shared by the connections of a single dispatcher.
type Engine struct {
	dispatcher *reactor.Dispatcher
	router     *router.Router
	cfg        *config.Config
	reaper     *Reaper
	// readBuff is shared, as connections are served one at a time. Nothing may
	// reference it after the callback returns.
	readBuff []byte
	log      zerolog.Logger
}

func NewEngine(d *reactor.Dispatcher, r *router.Router, cfg *config.Config, log zerolog.Logger) *Engine {
	return &Engine{
		dispatcher: d,
		router:     r,
		cfg:        cfg,
		reaper:     NewReaper(d, log),
		readBuff:   make([]byte, cfg.NET.ReadBufferSize),
		log:        log,
	}
}

// OnAccept returns the callback, serving connections accepted on the listen address.
func (e *Engine) OnAccept(listen netip.AddrPort) reactor.OnAccept {
	return func(conn *socket.Socket, remote netip.AddrPort) {
		client := NewClient(e, conn, listen, remote)
		if err := e.dispatcher.Register(client, epoll.Readable); err != nil {
			e.log.Warn().Err(err).Stringer("remote", remote).Msg("cannot register connection")
			_ = conn.Close()
		}
	}
}

// Reaper returns the reaper of abandoned CGI processes.
func (e *Engine) Reaper() *Reaper {
	return e.reaper
}
