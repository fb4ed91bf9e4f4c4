package cli

import (
	"context"
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/porta/internal/auth"
	"github.com/roach88/porta/internal/config"
	"github.com/roach88/porta/internal/remote"
	"github.com/roach88/porta/internal/remote/wsdoc"
)

const testSecret = "test-secret"

// startServer runs the document server on a free port until the test ends
// and returns its websocket URL.
func startServer(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	ready := make(chan net.Addr, 1)
	opts := &ServeOptions{
		RootOptions: &RootOptions{
			Config: config.Config{JWTSecret: testSecret, JWTIssuer: auth.DefaultIssuer},
			Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		},
		Listen: "127.0.0.1:0",
		Ready:  func(addr net.Addr) { ready <- addr },
	}
	cmd := &cobra.Command{}
	cmd.SetContext(ctx)
	cmd.SetErr(io.Discard)

	done := make(chan error, 1)
	go func() { done <- runServe(opts, cmd) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not stop")
		}
	})

	select {
	case addr := <-ready:
		return "ws://" + addr.String() + DocumentPath
	case err := <-done:
		t.Fatalf("server exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not start")
	}
	return ""
}

func issueToken(t *testing.T, uid string) string {
	t.Helper()
	authority, err := auth.New(testSecret)
	require.NoError(t, err)
	token, err := authority.Issue(uid, time.Hour)
	require.NoError(t, err)
	return token
}

func TestServe_AcceptsAuthenticatedClients(t *testing.T) {
	url := startServer(t)
	ctx := context.Background()

	_, err := wsdoc.Dial(ctx, url, "garbage", nil)
	require.Error(t, err)

	c, err := wsdoc.Dial(ctx, url, issueToken(t, "player-1"), nil)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Fetch(ctx, "player-1")
	assert.ErrorIs(t, err, remote.ErrNotFound)
}

func TestServe_RequiresSecret(t *testing.T) {
	opts := &ServeOptions{
		RootOptions: &RootOptions{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))},
		Listen:      "127.0.0.1:0",
	}
	cmd := &cobra.Command{}
	cmd.SetContext(context.Background())

	err := runServe(opts, cmd)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, auth.ErrNoSecret)
}

func TestSync_AcrossDevices(t *testing.T) {
	url := startServer(t)
	setupEnv(t)
	t.Setenv("PORTA_REMOTE", url)
	t.Setenv("PORTA_USER", "player-1")
	t.Setenv("PORTA_TOKEN", issueToken(t, "player-1"))
	t.Setenv("PORTA_DEBOUNCE", "10ms")

	out, err := execute(t, "", "start", "medium", "--format", "json")
	require.NoError(t, err)
	id := data(t, out)["id"]

	// Closing the command flushes both aggregates to the server.
	ctx := context.Background()
	c, err := wsdoc.Dial(ctx, url, issueToken(t, "player-1"), nil)
	require.NoError(t, err)
	defer c.Close()
	doc, err := c.Fetch(ctx, "player-1")
	require.NoError(t, err)
	assert.True(t, doc.HasProfile())
	assert.True(t, doc.HasSession())

	out, err = execute(t, "", "sync", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "profile  in sync")
	assert.Contains(t, out, "session  in sync")

	// A second device with an empty database adopts the remote session.
	t.Setenv("PORTA_DB", filepath.Join(t.TempDir(), "other.db"))
	out, err = execute(t, "", "status", "--format", "json")
	require.NoError(t, err)
	st := data(t, out)
	assert.Equal(t, id, st["id"])
	assert.Equal(t, "active", st["status"])

	out, err = execute(t, "", "sync", "--format", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"aggregate":"profile"`)
}
