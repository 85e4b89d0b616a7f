package http

import (
	"time"

	"github.com/42ship/serverx/internal/cgi"
	"github.com/42ship/serverx/internal/epoll"
	"github.com/42ship/serverx/internal/reactor"
	"github.com/rs/zerolog"
)

// Reaper collects the exit statuses of abandoned CGI processes, so none of them stays
// a zombie. Processes with a pidfd are reaped as soon as they exit, others are polled
// on every dispatcher tick.
type Reaper struct {
	dispatcher *reactor.Dispatcher
	polled     []*cgi.Process
	log        zerolog.Logger
}

func NewReaper(d *reactor.Dispatcher, log zerolog.Logger) *Reaper {
	r := &Reaper{
		dispatcher: d,
		log:        log.With().Str("component", "reaper").Logger(),
	}
	d.OnTick(r.Tick)

	return r
}

// Adopt takes the process over. It must already be killed or about to exit by itself.
func (r *Reaper) Adopt(proc *cgi.Process) {
	if r.reap(proc) {
		return
	}

	if proc.Pidfd >= 0 && !r.dispatcher.Stopping() {
		watcher := &exitWatcher{proc: proc, reaper: r}
		if err := r.dispatcher.Register(watcher, epoll.Readable); err == nil {
			return
		}
	}

	r.polled = append(r.polled, proc)
}

// Tick polls the processes without a pidfd.
func (r *Reaper) Tick(time.Time) {
	alive := r.polled[:0]
	for _, proc := range r.polled {
		if !r.reap(proc) {
			alive = append(alive, proc)
		}
	}

	clear(r.polled[len(alive):])
	r.polled = alive
}

// Len returns the number of processes not reaped yet.
func (r *Reaper) Len() int {
	return len(r.polled)
}

// Shutdown kills every process left and waits for them to exit.
func (r *Reaper) Shutdown(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for len(r.polled) > 0 && time.Now().Before(deadline) {
		for _, proc := range r.polled {
			proc.Kill()
		}

		r.Tick(time.Now())
		if len(r.polled) > 0 {
			time.Sleep(10 * time.Millisecond)
		}
	}

	for _, proc := range r.polled {
		r.log.Warn().Int("pid", proc.Pid).Msg("process left unreaped")
		proc.ClosePidfd()
	}

	r.polled = nil
}

func (r *Reaper) reap(proc *cgi.Process) bool {
	exited, _, err := proc.Reap()
	if err != nil {
		r.log.Warn().Err(err).Int("pid", proc.Pid).Msg("cannot reap process")
		// nothing more can be done
		exited = true
	}

	if exited {
		r.log.Debug().Int("pid", proc.Pid).Msg("reaped")
		proc.ClosePidfd()
	}

	return exited
}

// exitWatcher waits for the pidfd of an adopted process to become readable.
type exitWatcher struct {
	proc   *cgi.Process
	reaper *Reaper
}

func (e *exitWatcher) Fd() int {
	return e.proc.Pidfd
}

func (e *exitWatcher) OnReadable() {
	e.reaper.dispatcher.Unregister(e)
	if !e.reaper.reap(e.proc) {
		// spurious wakeup
		e.reaper.polled = append(e.reaper.polled, e.proc)
	}
}

func (e *exitWatcher) OnWritable() {}

func (e *exitWatcher) OnHangup() {
	e.OnReadable()
}

// Close is called on the dispatcher shutdown. The process is passed to the polled
// ones, so Shutdown is still able to reap it.
func (e *exitWatcher) Close() {
	e.reaper.dispatcher.Unregister(e)
	e.reaper.polled = append(e.reaper.polled, e.proc)
}
