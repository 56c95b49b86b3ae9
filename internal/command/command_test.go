package command

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cellrun/internal/connection"
	"cellrun/internal/extract"
	"cellrun/internal/host"
	"cellrun/internal/host/page"
	"cellrun/internal/kernel"
	"cellrun/internal/kernel/kerneltest"
	"cellrun/internal/metrics"
	"cellrun/internal/output"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const token = "tok"

type countingEditor struct {
	host.Editor
	mu      sync.Mutex
	inserts []string
	exits   []string
}

func (c *countingEditor) InsertBlock(ctx context.Context, ref, content string, placement host.Placement) (string, error) {
	id, err := c.Editor.InsertBlock(ctx, ref, content, placement)
	if err == nil {
		c.mu.Lock()
		c.inserts = append(c.inserts, id)
		c.mu.Unlock()
	}
	return id, err
}

func (c *countingEditor) ExitEditing(ctx context.Context, id string) error {
	c.mu.Lock()
	c.exits = append(c.exits, id)
	c.mu.Unlock()
	return c.Editor.ExitEditing(ctx, id)
}

type toast struct {
	msg      string
	severity host.Severity
}

type recordingNotifier struct {
	mu     sync.Mutex
	toasts []toast
}

func (n *recordingNotifier) ShowMsg(_ context.Context, msg string, severity host.Severity, _ time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.toasts = append(n.toasts, toast{msg, severity})
	return nil
}

type fixture struct {
	page     *page.Page
	editor   *countingEditor
	notifier *recordingNotifier
	metrics  *metrics.Metrics
	runner   *Runner
}

func newFixture(t *testing.T, content string, resolver connection.Resolver) *fixture {
	t.Helper()

	p := page.Parse("- " + strings.ReplaceAll(content, "\n", "\n  ") + "\n")
	require.NoError(t, p.Select("1"))

	ed := &countingEditor{Editor: p}
	n := &recordingNotifier{}
	m := metrics.New()
	driver := kernel.NewClient(kernel.Options{
		Timeout:    5 * time.Second,
		HTTPClient: &http.Client{Transport: &http.Transport{DisableKeepAlives: true}},
	})

	return &fixture{
		page:     p,
		editor:   ed,
		notifier: n,
		metrics:  m,
		runner: &Runner{
			Editor:   ed,
			Notifier: n,
			Resolver: resolver,
			Driver:   driver,
			Metrics:  m,
		},
	}
}

func (f *fixture) outputBlock(t *testing.T) host.Block {
	t.Helper()
	require.Len(t, f.editor.inserts, 1)
	for _, b := range f.page.Blocks() {
		if b.UUID == f.editor.inserts[0] {
			return b
		}
	}
	t.Fatalf("output block %s not in page", f.editor.inserts[0])
	return host.Block{}
}

func (f *fixture) scrape(t *testing.T) string {
	t.Helper()
	w := httptest.NewRecorder()
	f.metrics.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return w.Body.String()
}

func ctxFor(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

const cell = "```python\nprint('a')\n```"

func TestRunner_StreamsIntoOneBlock(t *testing.T) {
	srv := kerneltest.New(token, kerneltest.Sequence(
		kerneltest.Status("busy"),
		kerneltest.Stream("a"),
		kerneltest.Stream("b"),
		kerneltest.Result("c"),
		kerneltest.ExecuteReply("ok"),
		kerneltest.Status("idle"),
	))
	defer srv.Close()

	f := newFixture(t, cell, connection.Static{URL: srv.ConnURL()})
	require.NoError(t, f.runner.Run(ctxFor(t)))

	out := f.outputBlock(t)
	assert.Equal(t, output.Render("abc", false), out.Content)
	assert.Equal(t, []string{out.UUID}, f.editor.exits)
	assert.Empty(t, f.page.Editing())
	assert.Empty(t, f.notifier.toasts)

	assert.Equal(t, []string{"print('a')\n"}, srv.Codes())
	assert.Equal(t, 1, srv.Deleted())
	assert.Contains(t, f.scrape(t), `cellrun_runs_total{outcome="ok"} 1`)
	assert.Contains(t, f.scrape(t), `cellrun_kernel_messages_total{kind="stream"} 2`)
}

func TestRunner_ErrorAfterPartialOutput(t *testing.T) {
	srv := kerneltest.New(token, kerneltest.Execution(
		kerneltest.Stream("partial"),
		kerneltest.Error("RuntimeError", "boom"),
	))
	defer srv.Close()

	f := newFixture(t, cell, connection.Static{URL: srv.ConnURL()})
	require.NoError(t, f.runner.Run(ctxFor(t)))

	out := f.outputBlock(t)
	assert.Equal(t, output.Render("partialboom", true), out.Content)
	assert.Len(t, f.editor.exits, 1)
	assert.Equal(t, 1, srv.Deleted())
}

func TestRunner_PrintOnlyStillFinishes(t *testing.T) {
	srv := kerneltest.New(token, kerneltest.Execution(kerneltest.Stream("hello\n")))
	defer srv.Close()

	f := newFixture(t, cell, connection.Static{URL: srv.ConnURL()})
	require.NoError(t, f.runner.Run(ctxFor(t)))

	assert.Equal(t, output.Render("hello\n", false), f.outputBlock(t).Content)
	assert.Len(t, f.editor.exits, 1)
}

func TestRunner_NoCode(t *testing.T) {
	srv := kerneltest.New(token, nil)
	defer srv.Close()

	f := newFixture(t, "just prose", connection.Static{URL: srv.ConnURL()})
	err := f.runner.Run(ctxFor(t))

	assert.ErrorIs(t, err, extract.ErrNoCode)
	assert.Empty(t, f.editor.inserts)
	assert.Len(t, f.page.Blocks(), 1)
	assert.Equal(t, 0, srv.Created())
	require.Len(t, f.notifier.toasts, 1)
	assert.Equal(t, toast{"Not able to select code", host.SeverityWarning}, f.notifier.toasts[0])
	assert.Contains(t, f.scrape(t), `cellrun_runs_total{outcome="user_input"} 1`)
}

func TestRunner_NoBlockSelected(t *testing.T) {
	f := newFixture(t, cell, connection.Static{URL: "http://h:1/?token=t"})
	f.runner.Editor = &countingEditor{Editor: page.Parse("- " + cell)}

	err := f.runner.Run(ctxFor(t))
	assert.ErrorIs(t, err, host.ErrNoBlock)
	require.Len(t, f.notifier.toasts, 1)
	assert.Equal(t, host.SeverityWarning, f.notifier.toasts[0].severity)
}

func TestRunner_MissingTokenCreatesNothing(t *testing.T) {
	srv := kerneltest.New(token, nil)
	defer srv.Close()

	f := newFixture(t, cell, connection.Static{URL: srv.URL + "/"})
	err := f.runner.Run(ctxFor(t))

	assert.ErrorIs(t, err, connection.ErrIncompleteURL)
	assert.Empty(t, f.editor.inserts)
	assert.Len(t, f.page.Blocks(), 1)
	assert.Equal(t, 0, srv.Created())
	require.Len(t, f.notifier.toasts, 1)
	assert.Equal(t, toast{connection.ErrIncompleteURL.Error(), host.SeverityError}, f.notifier.toasts[0])
}

func TestRunner_PropertyResolver(t *testing.T) {
	srv := kerneltest.New(token, kerneltest.Execution(kerneltest.Result("42")))
	defer srv.Close()

	content := "jupyter:: " + srv.ConnURL() + "\n" + cell
	f := newFixture(t, content, nil)
	f.runner.Resolver = connection.PropertyResolver{Editor: f.editor}

	require.NoError(t, f.runner.Run(ctxFor(t)))
	assert.Equal(t, output.Render("42", false), f.outputBlock(t).Content)
}

func TestRunner_TransportFailureKeepsBlock(t *testing.T) {
	srv := kerneltest.New(token, kerneltest.Sequence(
		kerneltest.Status("busy"),
		kerneltest.Stream("so far"),
		kerneltest.Hangup(),
	))
	defer srv.Close()

	f := newFixture(t, cell, connection.Static{URL: srv.ConnURL()})
	err := f.runner.Run(ctxFor(t))

	var te *kernel.TransportError
	require.ErrorAs(t, err, &te)

	out := f.outputBlock(t)
	assert.Equal(t, output.Render("so far", false), out.Content, "partial output stays in the document")
	require.Len(t, f.notifier.toasts, 1)
	assert.Equal(t, host.SeverityError, f.notifier.toasts[0].severity)
	assert.True(t, strings.HasPrefix(f.notifier.toasts[0].msg, "Jupyter execution failed: "))
	assert.Equal(t, 1, srv.Deleted())
	assert.Contains(t, f.scrape(t), `cellrun_runs_total{outcome="transport"} 1`)
}

func TestRunner_SequentialRunsGetOwnBlocks(t *testing.T) {
	srv := kerneltest.New(token, kerneltest.Execution(kerneltest.Result("1")))
	defer srv.Close()

	f := newFixture(t, cell, connection.Static{URL: srv.ConnURL()})
	src, err := f.page.CurrentBlock(context.Background())
	require.NoError(t, err)

	require.NoError(t, f.runner.Run(ctxFor(t)))
	require.NoError(t, f.page.Select(src.UUID))
	require.NoError(t, f.runner.Run(ctxFor(t)))

	require.Len(t, f.editor.inserts, 2)
	assert.NotEqual(t, f.editor.inserts[0], f.editor.inserts[1])
	assert.Len(t, f.page.Blocks(), 3)
	assert.Equal(t, 2, srv.Created())
	assert.Equal(t, 2, srv.Deleted())
}

type panicDriver struct{}

func (panicDriver) Run(context.Context, connection.Info, kernel.ExecutionRequest, kernel.Handler) error {
	panic("kaboom")
}

func TestRunner_PanicIsReported(t *testing.T) {
	f := newFixture(t, cell, connection.Static{URL: "http://h:1/?token=t"})
	f.runner.Driver = panicDriver{}

	err := f.runner.Run(ctxFor(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	require.Len(t, f.notifier.toasts, 1)
	assert.Equal(t, host.SeverityError, f.notifier.toasts[0].severity)
}

func TestRegister(t *testing.T) {
	called := 0
	action := func(context.Context) error { called++; return nil }

	slash := host.NewRegistry()
	require.NoError(t, Register(slash, "", action))
	assert.Equal(t, []string{SlashName}, slash.Names())

	palette := host.NewRegistry()
	require.NoError(t, Register(palette, "mod+shift+enter", action))
	assert.Equal(t, []string{PaletteKey}, palette.Names())
	require.NoError(t, palette.Press(context.Background(), "mod+shift+enter"))
	assert.Equal(t, 1, called)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{extract.ErrNoCode, KindUserInput},
		{fmt.Errorf("get current block: %w", host.ErrNoBlock), KindUserInput},
		{connection.ErrURLUnset, KindConfiguration},
		{fmt.Errorf("%w: bad", connection.ErrURLMalformed), KindConfiguration},
		{&kernel.TransportError{Op: "create session", Err: errors.New("refused")}, KindTransport},
		{errors.New("host gone"), KindTransport},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), tt.err.Error())
	}

	assert.Equal(t, host.SeverityWarning, KindUserInput.Severity())
	assert.Equal(t, host.SeverityError, KindConfiguration.Severity())
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "Not able to select code", message(extract.ErrNoCode))
	assert.Equal(t, connection.ErrURLMalformed.Error(), message(fmt.Errorf("%w: detail", connection.ErrURLMalformed)))
	assert.Equal(t, "Jupyter execution failed: x", message(errors.New("x")))
}
