package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanamz/proposer/pkg/control"
	"github.com/germanamz/proposer/pkg/engine"
	"github.com/germanamz/proposer/pkg/settings"
	"github.com/germanamz/proposer/pkg/templates"
)

func TestParseLevel(t *testing.T) {
	l, err := parseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, l)

	l, err = parseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, l)

	_, err = parseLevel("loud")
	require.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	require.NoError(t, loadDotEnv(""))
	require.NoError(t, loadDotEnv(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PROPOSER_TEST_DOTENV=loaded\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("PROPOSER_TEST_DOTENV") })

	require.NoError(t, loadDotEnv(path))
	assert.Equal(t, "loaded", os.Getenv("PROPOSER_TEST_DOTENV"))
}

func TestOpenApp(t *testing.T) {
	root := filepath.Join(t.TempDir(), ".proposer")
	require.NoError(t, os.MkdirAll(root, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "template.txt"), []byte("legacy body\n"), 0o600))

	var logs bytes.Buffer
	a, err := openApp(globalFlags{dir: root, logLevel: "info"}, &logs)
	require.NoError(t, err)
	t.Cleanup(func() { slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil))) })

	assert.DirExists(t, a.dir.ScreenshotsDir())
	assert.Equal(t, filepath.Join(root, "settings.yaml"), a.settings.Path())

	active, err := a.templates.Active()
	require.NoError(t, err)
	assert.Equal(t, "legacy body", active.Body)

	a.log.Info("hello")
	assert.Contains(t, logs.String(), "msg=hello")
}

func TestOpenApp_InvalidLevel(t *testing.T) {
	_, err := openApp(globalFlags{dir: t.TempDir(), logLevel: "loud"}, &bytes.Buffer{})
	require.Error(t, err)
}

// heldBrowser blocks the first send until release is closed and records the
// context error the send observed.
type heldBrowser struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once

	mu      sync.Mutex
	sends   int
	sendErr error
}

func newHeldBrowser() *heldBrowser {
	return &heldBrowser{entered: make(chan struct{}), release: make(chan struct{})}
}

func (b *heldBrowser) Connect(context.Context, string) error  { return nil }
func (b *heldBrowser) Disconnect()                            {}
func (b *heldBrowser) Navigate(context.Context, string) error { return nil }
func (b *heldBrowser) IsConnected() bool                      { return true }

func (b *heldBrowser) PerformSend(ctx context.Context, _ string) error {
	b.once.Do(func() { close(b.entered) })
	<-b.release

	b.mu.Lock()
	defer b.mu.Unlock()
	b.sends++
	b.sendErr = ctx.Err()
	return nil
}

func TestStopOnSignal_FinishesInFlightSend(t *testing.T) {
	dir := t.TempDir()
	tpl, err := templates.Open(filepath.Join(dir, "templates.json"))
	require.NoError(t, err)
	_, err = tpl.Add("Intro", "hello there", true)
	require.NoError(t, err)

	b := newHeldBrowser()
	eng := engine.New(b, tpl, engine.WithSleepFunc(func(ctx context.Context, _ time.Duration) error {
		return ctx.Err()
	}))
	ctrl := control.New(context.Background(), eng, tpl, settings.NewStore(filepath.Join(dir, "settings.yaml")))

	sig, interrupt := context.WithCancel(context.Background())
	defer interrupt()
	restored := make(chan struct{})
	release := stopOnSignal(sig, func() { close(restored) }, ctrl, slog.New(slog.DiscardHandler))
	defer release()

	_, err = ctrl.Start(control.StartRequest{})
	require.NoError(t, err)

	<-b.entered
	interrupt()
	<-restored

	require.Eventually(t, func() bool {
		return ctrl.Status().Run.Status == engine.StatusStopping
	}, 5*time.Second, 10*time.Millisecond)

	close(b.release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := eng.Wait(ctx)
	require.NoError(t, err)

	assert.Equal(t, engine.StatusCompleted, st.Status)
	assert.Equal(t, 1, st.SentCount)
	assert.Empty(t, st.LastError)

	b.mu.Lock()
	defer b.mu.Unlock()
	assert.Equal(t, 1, b.sends)
	assert.NoError(t, b.sendErr)
}

func TestStopOnSignal_ReleasedWithoutSignal(t *testing.T) {
	ctrl := runningController()
	sig, interrupt := context.WithCancel(context.Background())

	release := stopOnSignal(sig, func() {}, ctrl, slog.New(slog.DiscardHandler))
	release()
	release()
	interrupt()

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, ctrl.called())
}
