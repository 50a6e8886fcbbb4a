package rebuild

import (
	"bytes"
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/EphraimElvis/coralite-io/internal/build"
	"github.com/EphraimElvis/coralite-io/internal/errors"
	"github.com/EphraimElvis/coralite-io/internal/logging"
	"github.com/EphraimElvis/coralite-io/internal/watcher"
)

type mockBroadcaster struct {
	mock.Mock
}

func (m *mockBroadcaster) Broadcast(message string) int {
	args := m.Called(message)
	return args.Int(0)
}

type mockStopper struct {
	mock.Mock
}

func (m *mockStopper) Stop(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// countingBuilder records how many builds run and the peak concurrency.
type countingBuilder struct {
	calls   int64
	active  int64
	peak    int64
	err     error
	started chan struct{}
	release chan struct{}
}

func (b *countingBuilder) Build(ctx context.Context) error {
	n := atomic.AddInt64(&b.calls, 1)
	active := atomic.AddInt64(&b.active, 1)
	defer atomic.AddInt64(&b.active, -1)

	for {
		peak := atomic.LoadInt64(&b.peak)
		if active <= peak || atomic.CompareAndSwapInt64(&b.peak, peak, active) {
			break
		}
	}

	if n == 1 && b.started != nil {
		close(b.started)
		<-b.release
	}

	return b.err
}

func TestClassify(t *testing.T) {
	tests := []struct {
		path string
		want Kind
	}{
		{"src/pages/index.html", KindHTML},
		{"src/templates/header.HTML", KindHTML},
		{"assets/css/styles.css", KindCSS},
		{"assets/js/app.js", KindNone},
		{"README", KindNone},
		{"src/pages/html", KindNone},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.path))
		})
	}
}

func TestKindLabel(t *testing.T) {
	assert.Equal(t, "HTML", KindHTML.Label())
	assert.Equal(t, "CSS", KindCSS.Label())
	assert.Equal(t, "NONE", KindNone.Label())
}

func TestNewEvent(t *testing.T) {
	ev := NewEvent(watcher.ChangeEvent{Path: "assets/css/styles.css", Type: watcher.EventTypeDeleted})

	assert.Equal(t, Event{Path: "assets/css/styles.css", Kind: KindCSS, Op: watcher.EventTypeDeleted}, ev)
}

func TestRebuildCSSChange(t *testing.T) {
	html := &countingBuilder{}
	css := &countingBuilder{}
	b := &mockBroadcaster{}
	b.On("Broadcast", "assets/css/styles.css").Return(2).Once()

	out := &bytes.Buffer{}
	c := New(b, []Target{{Kind: KindHTML, Builder: html}, {Kind: KindCSS, Builder: css}},
		WithConsole(logging.NewConsole(out)))

	err := c.Rebuild(context.Background(), Event{Path: "assets/css/styles.css", Kind: KindCSS})
	require.NoError(t, err)

	assert.Equal(t, int64(1), atomic.LoadInt64(&css.calls))
	assert.Equal(t, int64(0), atomic.LoadInt64(&html.calls))
	assert.Equal(t, int64(1), c.Builds(KindCSS))
	b.AssertExpectations(t)

	assert.Regexp(t, `^\d{2}:\d{2}:\d{2} Rebuild CSS ─ \d+\.\d{2}ms ─ assets/css/styles.css\n$`, out.String())
}

func TestRebuildIgnoresOtherFiles(t *testing.T) {
	html := &countingBuilder{}
	b := &mockBroadcaster{}
	c := New(b, []Target{{Kind: KindHTML, Builder: html}})

	require.NoError(t, c.Rebuild(context.Background(), Event{Path: "app.js", Kind: KindNone}))
	require.NoError(t, c.Rebuild(context.Background(), Event{Path: "styles.css", Kind: KindCSS}))

	assert.Equal(t, int64(0), atomic.LoadInt64(&html.calls))
	b.AssertNotCalled(t, "Broadcast", mock.Anything)
}

func TestRebuildFailureSkipsBroadcast(t *testing.T) {
	failing := &countingBuilder{err: stderrors.New("exit status 1")}
	b := &mockBroadcaster{}
	out := &bytes.Buffer{}
	c := New(b, []Target{{Kind: KindHTML, Builder: failing}}, WithConsole(logging.NewConsole(out)))

	err := c.Rebuild(context.Background(), Event{Path: "src/pages/index.html", Kind: KindHTML})

	require.Error(t, err)
	assert.True(t, errors.IsBuildError(err))
	assert.ErrorContains(t, err, "exit status 1")
	b.AssertNotCalled(t, "Broadcast", mock.Anything)
	assert.Empty(t, out.String())
}

func TestRebuildKeepsBuildErrors(t *testing.T) {
	original := errors.ErrBuildFailed("html", stderrors.New("boom"))
	c := New(&mockBroadcaster{}, []Target{{Kind: KindHTML, Builder: build.BuilderFunc(func(context.Context) error {
		return original
	})}})

	err := c.Rebuild(context.Background(), Event{Path: "a.html", Kind: KindHTML})

	assert.Same(t, original, err)
}

func TestRebuildCoalescesWhileBuilding(t *testing.T) {
	builder := &countingBuilder{started: make(chan struct{}), release: make(chan struct{})}
	b := &mockBroadcaster{}
	b.On("Broadcast", mock.Anything).Return(1)

	c := New(b, []Target{{Kind: KindHTML, Builder: builder}})
	r := c.runners[KindHTML]

	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 6)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- c.Rebuild(ctx, Event{Path: "first.html", Kind: KindHTML})
	}()
	<-builder.started

	paths := []string{"a.html", "b.html", "a.html", "c.html", "b.html"}
	for _, p := range paths {
		wg.Add(1)
		go func(p string) {
			defer wg.Done()
			errs <- c.Rebuild(ctx, Event{Path: p, Kind: KindHTML})
		}(p)
	}

	require.Eventually(t, func() bool {
		r.mutex.Lock()
		defer r.mutex.Unlock()
		return r.pending != nil && len(r.pending.paths) == len(paths)
	}, 2*time.Second, 5*time.Millisecond)

	close(builder.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	assert.Equal(t, int64(2), atomic.LoadInt64(&builder.calls), "one build in flight, one for the pending batch")
	assert.Equal(t, int64(1), atomic.LoadInt64(&builder.peak), "builds never overlap")

	b.AssertNumberOfCalls(t, "Broadcast", 4)
	for _, p := range []string{"first.html", "a.html", "b.html", "c.html"} {
		b.AssertCalled(t, "Broadcast", p)
	}
}

func TestRebuildTargetsRunIndependently(t *testing.T) {
	html := &countingBuilder{started: make(chan struct{}), release: make(chan struct{})}
	css := &countingBuilder{}
	b := &mockBroadcaster{}
	b.On("Broadcast", mock.Anything).Return(0)

	c := New(b, []Target{{Kind: KindHTML, Builder: html}, {Kind: KindCSS, Builder: css}})

	done := make(chan error, 1)
	go func() { done <- c.Rebuild(context.Background(), Event{Path: "a.html", Kind: KindHTML}) }()
	<-html.started

	require.NoError(t, c.Rebuild(context.Background(), Event{Path: "a.css", Kind: KindCSS}))
	assert.Equal(t, int64(1), atomic.LoadInt64(&css.calls))

	close(html.release)
	require.NoError(t, <-done)
}

func TestRebuildManySequentialEvents(t *testing.T) {
	builder := &countingBuilder{}
	b := &mockBroadcaster{}
	b.On("Broadcast", mock.Anything).Return(0)
	c := New(b, []Target{{Kind: KindCSS, Builder: builder}})

	var wg sync.WaitGroup
	const events = 20
	for i := 0; i < events; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.Rebuild(context.Background(), Event{Path: "s.css", Kind: KindCSS}))
		}()
	}
	wg.Wait()

	calls := atomic.LoadInt64(&builder.calls)
	assert.GreaterOrEqual(t, calls, int64(1))
	assert.LessOrEqual(t, calls, int64(events))
	assert.Equal(t, int64(1), atomic.LoadInt64(&builder.peak))
}

func TestRebuildCallerCancellation(t *testing.T) {
	builder := &countingBuilder{started: make(chan struct{}), release: make(chan struct{})}
	b := &mockBroadcaster{}
	b.On("Broadcast", mock.Anything).Return(0)
	c := New(b, []Target{{Kind: KindHTML, Builder: builder}})

	go func() { _ = c.Rebuild(context.Background(), Event{Path: "a.html", Kind: KindHTML}) }()
	<-builder.started

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Rebuild(ctx, Event{Path: "b.html", Kind: KindHTML})

	assert.ErrorIs(t, err, context.Canceled)
	close(builder.release)
}

func TestRebuildSurvivesEarlierCallerCancellation(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int64
	builder := build.BuilderFunc(func(ctx context.Context) error {
		if atomic.AddInt64(&calls, 1) == 1 {
			close(started)
			<-release
		}
		return ctx.Err()
	})

	var sentB int32
	b := &mockBroadcaster{}
	b.On("Broadcast", "a.html").Return(0).Maybe()
	b.On("Broadcast", "b.html").Return(1).Once().
		Run(func(mock.Arguments) { atomic.AddInt32(&sentB, 1) })
	c := New(b, []Target{{Kind: KindHTML, Builder: builder}})
	defer c.Close()

	first, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() { firstErr <- c.Rebuild(first, Event{Path: "a.html", Kind: KindHTML}) }()
	<-started

	secondErr := make(chan error, 1)
	go func() { secondErr <- c.Rebuild(context.Background(), Event{Path: "b.html", Kind: KindHTML}) }()

	r := c.runners[KindHTML]
	require.Eventually(t, func() bool {
		r.mutex.Lock()
		defer r.mutex.Unlock()
		return r.pending != nil && len(r.pending.paths) == 1
	}, 2*time.Second, time.Millisecond)

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)
	close(release)

	select {
	case err := <-secondErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("second rebuild did not finish")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&sentB))
	assert.Equal(t, int64(2), atomic.LoadInt64(&calls))
}

func TestCloseCancelsBuildInFlight(t *testing.T) {
	started := make(chan struct{})
	builder := build.BuilderFunc(func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	b := &mockBroadcaster{}
	c := New(b, []Target{{Kind: KindCSS, Builder: builder}})

	done := make(chan error, 1)
	go func() { done <- c.Rebuild(context.Background(), Event{Path: "a.css", Kind: KindCSS}) }()
	<-started
	c.Close()

	select {
	case err := <-done:
		assert.True(t, errors.IsBuildError(err))
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("rebuild did not return after Close")
	}
	b.AssertNotCalled(t, "Broadcast", mock.Anything)
}

func TestHandleEvents(t *testing.T) {
	css := &countingBuilder{}
	var sent int32
	b := &mockBroadcaster{}
	b.On("Broadcast", "assets/css/styles.css").Return(1).Once().
		Run(func(mock.Arguments) { atomic.AddInt32(&sent, 1) })
	c := New(b, []Target{{Kind: KindCSS, Builder: css}})

	handler := c.HandleEvents(context.Background())
	err := handler([]watcher.ChangeEvent{
		{Path: "assets/css/styles.css", Type: watcher.EventTypeModified},
		{Path: "assets/js/app.js", Type: watcher.EventTypeModified},
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return atomic.LoadInt64(&css.calls) == 1 && atomic.LoadInt32(&sent) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHandleWatchErrorStopsServer(t *testing.T) {
	stopper := &mockStopper{}
	stopper.On("Stop", mock.Anything).Return(nil).Once()
	c := New(&mockBroadcaster{}, nil, WithStopper(stopper, time.Second))

	c.HandleWatchError(context.Background(), stderrors.New("inotify queue overflow"))

	stopper.AssertExpectations(t)
}

func TestHandleWatchErrorStopFailureIsLogged(t *testing.T) {
	stopper := &mockStopper{}
	stopper.On("Stop", mock.Anything).Return(stderrors.New("already closed")).Once()

	logs := &bytes.Buffer{}
	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LevelError, Format: "text", Output: logs})
	c := New(&mockBroadcaster{}, nil, WithStopper(stopper, time.Second), WithLogger(logger))

	assert.NotPanics(t, func() {
		c.HandleWatchError(context.Background(), stderrors.New("watch failed"))
	})

	stopper.AssertExpectations(t)
	assert.Contains(t, logs.String(), "Error closing server")
	assert.Contains(t, logs.String(), "already closed")
}

func TestHandleWatchErrorWithoutStopper(t *testing.T) {
	c := New(&mockBroadcaster{}, nil)

	assert.NotPanics(t, func() {
		c.HandleWatchError(context.Background(), stderrors.New("watch failed"))
	})
}

func TestInitialBuild(t *testing.T) {
	var order []Kind
	var mu sync.Mutex
	record := func(k Kind) build.Builder {
		return build.BuilderFunc(func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, k)
			return nil
		})
	}

	b := &mockBroadcaster{}
	c := New(b, []Target{{Kind: KindCSS, Builder: record(KindCSS)}, {Kind: KindHTML, Builder: record(KindHTML)}})

	require.NoError(t, c.InitialBuild(context.Background()))
	assert.Equal(t, []Kind{KindHTML, KindCSS}, order)
	b.AssertNotCalled(t, "Broadcast", mock.Anything)
}

func TestInitialBuildFailure(t *testing.T) {
	css := &countingBuilder{}
	c := New(&mockBroadcaster{}, []Target{
		{Kind: KindHTML, Builder: &countingBuilder{err: stderrors.New("no pages")}},
		{Kind: KindCSS, Builder: css},
	})

	err := c.InitialBuild(context.Background())

	require.Error(t, err)
	assert.True(t, errors.IsBuildError(err))
	assert.Equal(t, int64(0), atomic.LoadInt64(&css.calls), "later targets are skipped")
}
