package collect

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hazyhaar/domdrive/idgen"
	"github.com/hazyhaar/domdrive/internal/page"
)

// Set is the group of collectors attached for one sequence.
type Set struct {
	events chan Event
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
	logger *slog.Logger

	network *networkCollector
	kinds   []string
}

// Start attaches the enabled collectors to p. Each collector subscribes
// one listener carrying only its own handlers. The caller must call Stop,
// usually deferred.
func Start(ctx context.Context, p page.Page, opts Options, buffer int, logger *slog.Logger) *Set {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	lctx, cancel := context.WithCancel(ctx)
	s := &Set{
		events: make(chan Event, buffer),
		cancel: cancel,
		logger: logger,
	}
	em := emitter{ctx: lctx, out: s.events}

	if opts.Navigation.Enabled {
		c := &navigationCollector{emitter: em}
		if info, err := p.Info(ctx); err == nil {
			c.last = info.URL
		} else {
			logger.Debug("collect: initial url unavailable", "error", err)
		}
		s.attach(lctx, p, "navigation", c.handlers())
	}
	if opts.Console.Enabled {
		c := &consoleCollector{
			emitter: em,
			min:     minPriority(opts.Console.Level, logger),
			filter:  compileFilter(opts.Console.Filter, "console", logger),
		}
		s.attach(lctx, p, "console", c.handlers())
	}
	if opts.Network.Enabled {
		c := &networkCollector{
			emitter: em,
			filter:  compileFilter(opts.Network.Filter, "network", logger),
			newID:   idgen.Correlation,
			pending: make(map[string]pendingRequest),
		}
		s.network = c
		s.attach(lctx, p, "network", c.handlers())
	}
	return s
}

func (s *Set) attach(ctx context.Context, p page.Page, kind string, h page.Handlers) {
	wait := p.Listen(ctx, h)
	s.kinds = append(s.kinds, kind)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		wait()
	}()
}

// Collectors names the attached collectors in attach order.
func (s *Set) Collectors() []string {
	return append([]string(nil), s.kinds...)
}

// Events is the channel collectors send on. It is never closed.
func (s *Set) Events() <-chan Event {
	return s.events
}

// Drain returns the events currently buffered without blocking.
func (s *Set) Drain() []Event {
	var out []Event
	for {
		select {
		case e := <-s.events:
			out = append(out, e)
		default:
			return out
		}
	}
}

// Stop detaches every listener and waits for them to be released. Safe to
// call more than once. Requests still in flight are dropped without an
// event; their number is logged.
func (s *Set) Stop() {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
		if s.network != nil {
			if n := s.network.unresolved(); n > 0 {
				s.logger.Debug("collect: dropped unresolved requests", "count", n)
			}
		}
	})
}
