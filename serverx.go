package serverx

import (
	"fmt"
	"net/netip"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/42ship/serverx/config"
	"github.com/42ship/serverx/internal/reactor"
	serverhttp "github.com/42ship/serverx/internal/server/http"
	"github.com/42ship/serverx/internal/socket"
	"github.com/42ship/serverx/router"
	"github.com/rs/zerolog"
)

// reapTimeout bounds waiting for killed CGI processes on shutdown.
const reapTimeout = time.Second

// App serves the configuration tree. Everything runs in a single goroutine, driven
// by the readiness of descriptors.
type App struct {
	tree    *config.Tree
	cfg     *config.Config
	log     zerolog.Logger
	hooks   hooks
	signals []os.Signal

	mu         sync.Mutex
	dispatcher *reactor.Dispatcher
	stopped    bool
	addrs      []netip.AddrPort
}

// New returns a new App instance. The tree must be already finalized, i.e. returned
// by config.Load or config.Parse.
func New(tree *config.Tree) *App {
	return &App{
		tree:    tree,
		cfg:     config.Default(),
		log:     zerolog.Nop(),
		signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// Tune replaces default limits.
func (a *App) Tune(cfg *config.Config) *App {
	a.cfg = cfg
	return a
}

// Logger sets the logger. Nothing is logged by default.
func (a *App) Logger(log zerolog.Logger) *App {
	a.log = log
	return a
}

// Signals replaces the signals stopping the App. By default, those are SIGINT and SIGTERM.
// Passing nothing disables signal handling.
func (a *App) Signals(signals ...os.Signal) *App {
	a.signals = signals
	return a
}

// NotifyOnStart calls the callback at the moment, when all the listeners are bound.
func (a *App) NotifyOnStart(cb func()) *App {
	a.hooks.OnStart = cb
	return a
}

// NotifyOnStop calls the callback at the moment, when all the connections are closed
// and all the CGI processes are reaped.
func (a *App) NotifyOnStop(cb func()) *App {
	a.hooks.OnStop = cb
	return a
}

// Addrs returns addresses of the listeners. It's empty until the App is started.
func (a *App) Addrs() []netip.AddrPort {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.addrs
}

// Serve binds all the listeners and serves until stopped. Errors occurred during setup
// are returned right away.
func (a *App) Serve() error {
	d, err := reactor.New(a.cfg.NET.MaxEvents, a.cfg.NET.PollInterval, a.log)
	if err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}

	engine := serverhttp.NewEngine(d, router.New(a.tree), a.cfg, a.log)
	addrs, err := a.listen(d, engine)
	if err != nil {
		d.Close()
		return err
	}

	a.mu.Lock()
	a.dispatcher = d
	a.addrs = addrs
	if a.stopped {
		d.Stop()
	}
	a.mu.Unlock()

	if len(a.signals) > 0 {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, a.signals...)
		defer signal.Stop(sigs)

		done := make(chan struct{})
		defer close(done)

		go func() {
			select {
			case sig := <-sigs:
				a.log.Info().Stringer("signal", sig).Msg("shutting down")
				d.Stop()
			case <-done:
			}
		}()
	}

	callIfNotNil(a.hooks.OnStart)
	err = d.Run()
	engine.Reaper().Shutdown(reapTimeout)
	callIfNotNil(a.hooks.OnStop)

	return err
}

func (a *App) listen(d *reactor.Dispatcher, engine *serverhttp.Engine) ([]netip.AddrPort, error) {
	var addrs []netip.AddrPort
	for _, addr := range a.tree.Addrs() {
		listener, err := socket.Listen(addr, a.cfg.NET.Backlog)
		if err != nil {
			return nil, err
		}

		acceptor, err := reactor.NewAcceptor(listener, d, a.cfg.NET.AcceptBurst, engine.OnAccept(addr), a.log)
		if err != nil {
			_ = listener.Close()
			return nil, err
		}

		a.log.Info().Stringer("addr", acceptor.Addr()).Msg("listening")
		addrs = append(addrs, acceptor.Addr())
	}

	return addrs, nil
}

// Stop closes every listener, connection and CGI process, making Serve return. It may be
// called from any goroutine, even before Serve.
func (a *App) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.stopped = true
	if a.dispatcher != nil {
		a.dispatcher.Stop()
	}
}

type hooks struct {
	OnStart, OnStop func()
}

func callIfNotNil(f func()) {
	if f != nil {
		f()
	}
}
