package process

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/shirou/gopsutil/v3/process"
)

// ErrExited is returned when a signal is sent to a child that already exited.
var ErrExited = errors.New("process has exited")

// ForwardedSignals are relayed from the wrapper to the child.
var ForwardedSignals = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGQUIT}

// Forwarder relays termination signals received by the wrapper to the child.
//
// SIGPIPE is caught as well: an ignored disposition would be inherited by
// the child, and a caught one turns terminal write failures into errors.
type Forwarder struct {
	interactive bool
	log         *slog.Logger

	signals chan os.Signal
	stop    chan struct{}
	done    chan struct{}

	mu   sync.Mutex
	pid  int32
	once sync.Once
}

// NewForwarder starts catching signals. Signals arriving before Start are
// queued. When interactive is true, SIGINT and SIGQUIT are not relayed: the
// terminal already delivered them to the child's process group.
func NewForwarder(interactive bool, log *slog.Logger) *Forwarder {
	if log == nil {
		log = slog.Default()
	}
	f := &Forwarder{
		interactive: interactive,
		log:         log,
		signals:     make(chan os.Signal, 8),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	signal.Notify(f.signals, append(ForwardedSignals, syscall.SIGPIPE)...)
	return f
}

// Start relays signals to pid until Stop is called.
func (f *Forwarder) Start(pid int) {
	f.mu.Lock()
	f.pid = int32(pid)
	f.mu.Unlock()
	go f.loop()
}

// Stop stops catching signals and waits for the relay goroutine.
func (f *Forwarder) Stop() {
	f.once.Do(func() {
		signal.Stop(f.signals)
		close(f.stop)
		f.mu.Lock()
		started := f.pid != 0
		f.mu.Unlock()
		if started {
			<-f.done
		}
	})
}

func (f *Forwarder) loop() {
	defer close(f.done)
	for {
		select {
		case <-f.stop:
			return
		case sig := <-f.signals:
			s, ok := sig.(syscall.Signal)
			if !ok {
				continue
			}
			if s == syscall.SIGPIPE {
				f.log.Debug("caught SIGPIPE")
				continue
			}
			if !shouldForward(s, f.interactive) {
				f.log.Debug("signal already delivered by the terminal", "signal", SignalName(s))
				continue
			}
			if err := f.Send(s); err != nil {
				f.log.Debug("failed to forward signal", "signal", SignalName(s), "error", err)
				continue
			}
			f.log.Debug("forwarded signal", "signal", SignalName(s), "pid", f.pid)
		}
	}
}

// Send delivers sig to the child.
func (f *Forwarder) Send(sig syscall.Signal) error {
	f.mu.Lock()
	pid := f.pid
	f.mu.Unlock()
	if pid == 0 {
		return fmt.Errorf("no child to signal")
	}

	p, err := process.NewProcess(pid)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExited, err)
	}
	if err := p.SendSignal(sig); err != nil {
		if strings.Contains(err.Error(), "no such process") {
			return ErrExited
		}
		return fmt.Errorf("failed to send signal: %w", err)
	}
	return nil
}

func shouldForward(sig syscall.Signal, interactive bool) bool {
	if interactive && (sig == syscall.SIGINT || sig == syscall.SIGQUIT) {
		return false
	}
	return true
}
