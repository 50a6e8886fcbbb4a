// Package rebuild reacts to source changes: it runs the build target a
// changed file belongs to and, once the build succeeds, tells connected
// browsers which path changed.
//
// Each target has a runner that never builds concurrently with itself.
// Changes arriving while a build is in flight are collected into one pending
// batch that runs as soon as the current build ends; every caller in a batch
// receives that batch's result.
package rebuild

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/EphraimElvis/coralite-io/internal/build"
	"github.com/EphraimElvis/coralite-io/internal/errors"
	"github.com/EphraimElvis/coralite-io/internal/logging"
	"github.com/EphraimElvis/coralite-io/internal/watcher"
)

// Broadcaster delivers a changed path to connected clients.
type Broadcaster interface {
	Broadcast(message string) int
}

// Stopper is whatever must shut down when watching fails.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Target binds a kind of source file to the builder that regenerates it.
type Target struct {
	Kind    Kind
	Builder build.Builder
}

// Coordinator runs targets for change events.
type Coordinator struct {
	runners     map[Kind]*runner
	broadcaster Broadcaster
	console     *logging.Console
	logger      logging.Logger
	stopper     Stopper
	stopTimeout time.Duration

	// ctx scopes run loops; Close cancels it.
	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the diagnostics logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithConsole sets where rebuild lines are printed.
func WithConsole(console *logging.Console) Option {
	return func(c *Coordinator) {
		c.console = console
	}
}

// WithStopper sets what HandleWatchError stops, and how long it may take.
func WithStopper(stopper Stopper, timeout time.Duration) Option {
	return func(c *Coordinator) {
		c.stopper = stopper
		c.stopTimeout = timeout
	}
}

// New creates a coordinator for targets. A later target of the same kind
// replaces an earlier one.
func New(broadcaster Broadcaster, targets []Target, opts ...Option) *Coordinator {
	c := &Coordinator{
		runners:     make(map[Kind]*runner, len(targets)),
		broadcaster: broadcaster,
		logger:      logging.Discard(),
		stopTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithComponent("rebuild")
	c.ctx, c.cancel = context.WithCancel(context.Background())

	for _, t := range targets {
		c.runners[t.Kind] = &runner{target: t, coordinator: c}
	}

	return c
}

// Rebuild runs the target for ev and, on success, broadcasts ev.Path. Events
// whose kind has no target are ignored. A build failure is returned as a
// build error and nothing is broadcast.
func (c *Coordinator) Rebuild(ctx context.Context, ev Event) error {
	r, ok := c.runners[ev.Kind]
	if !ok {
		return nil
	}

	return r.request(ctx, ev.Path)
}

// HandleEvents is a watcher.ChangeHandler. Each event is rebuilt on its own
// goroutine so one target's build never delays the other's; failures are
// logged and watching continues.
func (c *Coordinator) HandleEvents(ctx context.Context) watcher.ChangeHandler {
	return func(events []watcher.ChangeEvent) error {
		for _, change := range events {
			ev := NewEvent(change)
			if ev.Kind == KindNone {
				continue
			}

			go func(ev Event) {
				if err := c.Rebuild(ctx, ev); err != nil && ctx.Err() == nil {
					c.logger.Error(ctx, err, "Rebuild failed", "path", ev.Path, "kind", ev.Kind.String())
				}
			}(ev)
		}

		return nil
	}
}

// HandleWatchError stops the server after the watcher fails. A failure to
// stop is logged.
func (c *Coordinator) HandleWatchError(ctx context.Context, err error) {
	c.logger.Error(ctx, errors.NewWatchError(err), "Watching failed, stopping server")

	if c.stopper == nil {
		return
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.stopTimeout)
	defer cancel()

	if stopErr := c.stopper.Stop(stopCtx); stopErr != nil {
		c.logger.Error(ctx, stopErr, "Error closing server")
	}
}

// InitialBuild runs every target once, in kind order, without broadcasting.
func (c *Coordinator) InitialBuild(ctx context.Context) error {
	for _, kind := range []Kind{KindHTML, KindCSS} {
		r, ok := c.runners[kind]
		if !ok {
			continue
		}

		start := time.Now()
		if err := r.build(ctx); err != nil {
			return err
		}
		c.logger.Info(ctx, "Initial build finished", "kind", kind.String(), "duration", time.Since(start))
	}

	return nil
}

// Close cancels builds in flight. Rebuild calls made afterwards fail.
func (c *Coordinator) Close() {
	c.cancel()
}

// Builds returns how many builds ran for kind.
func (c *Coordinator) Builds(kind Kind) int64 {
	r, ok := c.runners[kind]
	if !ok {
		return 0
	}

	return atomic.LoadInt64(&r.builds)
}

// batch is a set of requests answered by one build.
type batch struct {
	paths []string
	done  chan struct{}
	err   error
}

type runner struct {
	target      Target
	coordinator *Coordinator
	builds      int64

	// buildMutex serialises InitialBuild with the run loop.
	buildMutex sync.Mutex

	mutex   sync.Mutex
	running bool
	pending *batch
}

// request joins the pending batch, starting the run loop if it is idle, and
// waits for the batch's result. Builds run under the coordinator's context,
// so a caller giving up never fails the batch for the others.
func (r *runner) request(ctx context.Context, path string) error {
	r.mutex.Lock()
	if r.pending == nil {
		r.pending = &batch{done: make(chan struct{})}
	}
	b := r.pending
	b.paths = append(b.paths, path)

	if !r.running {
		r.running = true
		go r.loop(r.coordinator.ctx)
	}
	r.mutex.Unlock()

	select {
	case <-b.done:
		return b.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// loop runs pending batches one at a time until none is left.
func (r *runner) loop(ctx context.Context) {
	for {
		r.mutex.Lock()
		b := r.pending
		if b == nil {
			r.running = false
			r.mutex.Unlock()
			return
		}
		r.pending = nil
		r.mutex.Unlock()

		b.err = r.run(ctx, b.paths)
		close(b.done)
	}
}

func (r *runner) run(ctx context.Context, paths []string) error {
	start := time.Now()
	if err := r.build(ctx); err != nil {
		return err
	}
	elapsed := time.Since(start)

	c := r.coordinator
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true

		if c.console != nil {
			c.console.Rebuild(r.target.Kind.Label(), elapsed, p)
		}
		delivered := c.broadcaster.Broadcast(p)
		c.logger.Debug(ctx, "Rebuild broadcast", "path", p, "delivered", delivered)
	}

	return nil
}

func (r *runner) build(ctx context.Context) error {
	r.buildMutex.Lock()
	defer r.buildMutex.Unlock()

	atomic.AddInt64(&r.builds, 1)

	err := r.target.Builder.Build(ctx)
	if err == nil {
		return nil
	}
	if errors.IsBuildError(err) {
		return err
	}

	return errors.ErrBuildFailed(r.target.Kind.String(), err)
}
