package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/porta/internal/auth"
	"github.com/roach88/porta/internal/game"
	"github.com/roach88/porta/internal/session"
)

// setupEnv points the CLI at a fresh database with no remote.
func setupEnv(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "porta.db")
	t.Setenv("PORTA_DB", db)
	t.Setenv("PORTA_REMOTE", "")
	t.Setenv("PORTA_USER", "")
	t.Setenv("PORTA_CATALOG", "")
	t.Setenv("PORTA_TUNING", "")
	t.Setenv("PORTA_LOG_LEVEL", "error")
	return db
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// data decodes a JSON response and returns its payload.
func data(t *testing.T, out string) map[string]any {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status, out)
	m, ok := resp.Data.(map[string]any)
	require.True(t, ok, "data is %T", resp.Data)
	return m
}

func errorCode(t *testing.T, out string) string {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	return resp.Error.Code
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "porta", cmd.Use)

	for _, name := range []string{
		"contracts", "start", "submit", "status", "abandon", "signout", "log", "sync",
		"profile", "generate", "validate", "play", "watchdog", "serve", "token", "test",
	} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{name})
			require.NoError(t, err)
			assert.Equal(t, name, sub.Name())
		})
	}

	logout, _, err := cmd.Find([]string{"logout"})
	require.NoError(t, err)
	assert.Equal(t, "signout", logout.Name())
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verbose := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verbose)
	assert.Equal(t, "v", verbose.Shorthand)
	assert.Equal(t, "false", verbose.DefValue)

	format := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, format)
	assert.Equal(t, "text", format.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("db"))
}

func TestInvalidFormat(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "", "status", "--format", "xml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `invalid format "xml"`)
}

func TestInvalidConfig(t *testing.T) {
	setupEnv(t)
	t.Setenv("PORTA_REMOTE", "ftp://example.com")

	_, err := execute(t, "", "status")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestDBFlagOverridesEnv(t *testing.T) {
	setupEnv(t)
	db := filepath.Join(t.TempDir(), "flag.db")

	_, err := execute(t, "", "start", "easy", "--db", db)
	require.NoError(t, err)
	_, err = os.Stat(db)
	assert.NoError(t, err)
}

func TestContracts(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "", "contracts")
	require.NoError(t, err)
	assert.Contains(t, out, "1. Contract A  rating 5  medium  3m0s")
	assert.Contains(t, out, "3. Contract C  rating 7  hard  3m0s")
}

func TestStartStatusSubmitWin(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "", "start", "medium", "--format", "json")
	require.NoError(t, err)
	started := data(t, out)
	assert.Equal(t, "medium", started["level"])
	assert.Equal(t, float64(4), started["task_count"])
	assert.NotEmpty(t, started["id"])
	assert.NotEmpty(t, started["task"])

	out, err = execute(t, "", "start", "easy", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, CodeSessionActive, errorCode(t, out))

	out, err = execute(t, "", "status", "--format", "json")
	require.NoError(t, err)
	st := data(t, out)
	assert.Equal(t, "active", st["status"])
	assert.Equal(t, started["id"], st["id"])
	assert.Equal(t, float64(0), st["task_index"])
	assert.InDelta(t, 180, st["time_left_s"], 5)

	out, err = execute(t, "", "submit", "win", "--format", "json")
	require.NoError(t, err)
	res := data(t, out)
	assert.Equal(t, "won", res["status"])
	assert.Equal(t, true, res["finished"])
	assert.Equal(t, []any{game.EchoPrefix + "win"}, res["lines"])

	out, err = execute(t, "", "profile", "--format", "json")
	require.NoError(t, err)
	p := data(t, out)
	stats := p["stats"].(map[string]any)
	assert.Equal(t, float64(1), stats["contractsCompleted"])
	assert.Greater(t, p["money"].(float64), float64(0))

	// A finished session is replaced by the next start.
	out, err = execute(t, "", "start", "easy", "--format", "json")
	require.NoError(t, err)
	assert.NotEqual(t, started["id"], data(t, out)["id"])
}

func TestSubmitTextMode(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "", "start", "easy")
	require.NoError(t, err)

	out, err := execute(t, "", "submit", "help")
	require.NoError(t, err)
	assert.Equal(t, game.EchoPrefix+"help\n"+game.HelpCommands+"\n"+game.HelpAttempt+"\n", out)

	out, err = execute(t, "", "submit", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Difficulty: easy")
	assert.Contains(t, out, "Current task: 1 of 4")
}

func TestNoSession(t *testing.T) {
	setupEnv(t)

	for _, args := range [][]string{{"submit", "AB"}, {"status"}, {"log"}} {
		t.Run(args[0], func(t *testing.T) {
			out, err := execute(t, "", append(args, "--format", "json")...)
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))
			assert.ErrorIs(t, err, session.ErrNoSession)
			assert.Equal(t, CodeNoSession, errorCode(t, out))
		})
	}
}

func TestAbandon(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "", "abandon")
	require.NoError(t, err)
	assert.Equal(t, "No contract in progress.\n", out)

	_, err = execute(t, "", "start", "hard")
	require.NoError(t, err)

	out, err = execute(t, "", "abandon", "--format", "json")
	require.NoError(t, err)
	assert.Equal(t, true, data(t, out)["lost"])

	_, err = execute(t, "", "status")
	assert.ErrorIs(t, err, session.ErrNoSession)

	out, err = execute(t, "", "profile", "--format", "json")
	require.NoError(t, err)
	stats := data(t, out)["stats"].(map[string]any)
	assert.Equal(t, float64(1), stats["contractsFailed"])
}

func TestStartUnknownDifficulty(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "", "start", "extreme", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, CodeInvalidInput, errorCode(t, out))
}

func TestLog(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "", "start", "easy")
	require.NoError(t, err)
	_, err = execute(t, "", "submit", "first")
	require.NoError(t, err)
	_, err = execute(t, "", "submit", "second")
	require.NoError(t, err)

	out, err := execute(t, "", "log", "--tail", "1")
	require.NoError(t, err)
	assert.Equal(t, game.EchoPrefix+"second\n", out)

	out, err = execute(t, "", "log", "--history", "--format", "json")
	require.NoError(t, err)
	assert.Equal(t, []any{"second", "first"}, data(t, out)["input_history"])

	out, err = execute(t, "", "log")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, session.StartedMessage+"\n"), out)
}

func TestProfileRename(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "", "profile", "rename", "  ace  ", "--format", "json")
	require.NoError(t, err)
	assert.Equal(t, "ace", data(t, out)["username"])

	out, err = execute(t, "", "profile", "rename", "ab", "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, CodeInvalidInput, errorCode(t, out))

	out, err = execute(t, "", "profile", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "User: ace\n")
	assert.Contains(t, out, "Contracts: 0 completed, 0 failed (0% win rate)")
}

func TestSignOut(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "", "start", "easy")
	require.NoError(t, err)
	_, err = execute(t, "", "profile", "rename", "ace")
	require.NoError(t, err)

	out, err := execute(t, "", "logout")
	require.NoError(t, err)
	assert.Equal(t, "Signed out.\n", out)

	_, err = execute(t, "", "status")
	assert.ErrorIs(t, err, session.ErrNoSession)

	// Signing back in offline starts from a fresh profile.
	out, err = execute(t, "", "profile", "--format", "json")
	require.NoError(t, err)
	assert.NotEqual(t, "ace", data(t, out)["username"])
}

func TestGenerate_Seeded(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "", "generate", "medium", "--seed", "abc123", "--format", "json")
	require.NoError(t, err)
	d := data(t, out)
	assert.Equal(t, float64(1), d["gen_version"])

	tasks := d["tasks"].([]any)
	var ids []string
	for _, task := range tasks {
		ids = append(ids, task.(map[string]any)["id"].(string))
	}
	assert.Equal(t, []string{"b2", "b3", "b1", "i3"}, ids)

	again, err := execute(t, "", "generate", "medium", "--seed", "abc123", "--format", "json")
	require.NoError(t, err)
	assert.Equal(t, out, again)
}

func TestGenerate_Text(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "", "generate", "easy", "--seed", "abc123")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, `easy contract, seed "abc123", generator v1`, lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "1. [b4] "), lines[1])
}

func TestValidate(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "", "validate", "--catalog", filepath.Join("..", "catalog", "catalog.cue"), "--format", "json")
	require.NoError(t, err)
	d := data(t, out)
	assert.Equal(t, true, d["valid"])
	assert.Greater(t, d["definitions"].(float64), float64(0))

	bad := filepath.Join(t.TempDir(), "bad.cue")
	require.NoError(t, os.WriteFile(bad, []byte("tiers: {"), 0o644))
	out, err = execute(t, "", "validate", "--catalog", bad)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "[E_CATALOG]")

	tuning := filepath.Join(t.TempDir(), "tuning.yaml")
	require.NoError(t, os.WriteFile(tuning, []byte("no_such_field: 1\n"), 0o644))
	out, err = execute(t, "", "validate", "--tuning", tuning)
	require.Error(t, err)
	assert.Contains(t, out, "[E_TUNING]")

	_, err = execute(t, "", "validate")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestToken(t *testing.T) {
	setupEnv(t)
	t.Setenv("PORTA_JWT_SECRET", "test-secret")

	out, err := execute(t, "", "token", "player-1", "--format", "json")
	require.NoError(t, err)
	token := data(t, out)["token"].(string)

	authority, err := auth.New("test-secret", auth.WithIssuer("porta"))
	require.NoError(t, err)
	claims, err := authority.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "player-1", claims.UserID)
}

func TestToken_RequiresSecret(t *testing.T) {
	setupEnv(t)
	t.Setenv("PORTA_JWT_SECRET", "")

	_, err := execute(t, "", "token", "player-1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, auth.ErrNoSecret)
}

func TestWatchdogOnce(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "", "watchdog", "--format", "json")
	require.NoError(t, err)
	assert.Equal(t, "no_data", data(t, out)["result"])

	_, err = execute(t, "", "start", "easy")
	require.NoError(t, err)
	out, err = execute(t, "", "watchdog")
	require.NoError(t, err)
	assert.Equal(t, "watchdog: no_data\n", out)
}

func TestSync_RequiresRemote(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "", "sync")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	out, err := execute(t, "", "sync", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "profile  in sync")
	assert.Contains(t, out, "session  in sync")
}

func TestRemoteRequiresUser(t *testing.T) {
	setupEnv(t)
	t.Setenv("PORTA_REMOTE", "ws://127.0.0.1:1/v1/doc")

	_, err := execute(t, "", "status")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "PORTA_USER is required")
}

func TestPlay_MenuThenWin(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "7\n1\nwin\n", "play")
	require.NoError(t, err)
	assert.Contains(t, out, "Available contracts:")
	assert.Contains(t, out, "Invalid choice.")
	assert.Contains(t, out, session.StartedMessage)
	assert.Contains(t, out, "Task 1 of 4: ")
	assert.Contains(t, out, "Contract complete. Rewards credited.")

	out, err = execute(t, "", "status", "--format", "json")
	require.NoError(t, err)
	st := data(t, out)
	assert.Equal(t, "won", st["status"])
	assert.Equal(t, "medium", st["level"])
}

func TestPlay_ResumesAndStopsAtEOF(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "nope\n", "play", "--difficulty", "easy")
	require.NoError(t, err)
	assert.Contains(t, out, session.StartedMessage)
	assert.NotContains(t, out, "Available contracts:")

	out, err = execute(t, "lose\n", "play")
	require.NoError(t, err)
	assert.Contains(t, out, "Resuming session ")
	assert.Contains(t, out, "Contract lost.")
}

func TestPlay_FinishedSessionClearedAtMenu(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "lose\n", "play", "--difficulty", "easy")
	require.NoError(t, err)
	out, err := execute(t, "", "status", "--format", "json")
	require.NoError(t, err)
	assert.Equal(t, "lost", data(t, out)["status"])

	out, err = execute(t, "q\n", "play")
	require.NoError(t, err)
	assert.NotContains(t, out, "Resuming session ")

	_, err = execute(t, "", "status")
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestPlay_QuitAtMenu(t *testing.T) {
	setupEnv(t)

	out, err := execute(t, "q\n", "play")
	require.NoError(t, err)
	assert.Contains(t, out, "Choose 1-3")

	_, err = execute(t, "", "status")
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestTestCommand(t *testing.T) {
	setupEnv(t)
	scenarios := filepath.Join("..", "harness", "testdata", "scenarios")

	out, err := execute(t, "", "test", scenarios, "--format", "json")
	require.NoError(t, err, out)
	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 4, resp.Data.Total)
	assert.Equal(t, 4, resp.Data.Passed)

	out, err = execute(t, "", "test", scenarios, "--filter", "medium_*")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ medium_win")
	assert.Contains(t, out, "Test Summary: 1 passed, 0 failed, 1 total")
}

func TestTestCommand_GoldenMismatchAndUpdate(t *testing.T) {
	setupEnv(t)
	scenarios := filepath.Join("..", "harness", "testdata", "scenarios")
	golden := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(golden, "medium_win.golden"), []byte("{}\n"), 0o644))

	out, err := execute(t, "", "test", scenarios, "--filter", "medium_*", "--golden", golden)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "trace does not match golden file")

	_, err = execute(t, "", "test", scenarios, "--filter", "medium_*", "--golden", golden, "--update")
	require.NoError(t, err)

	updated, err := os.ReadFile(filepath.Join(golden, "medium_win.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile(filepath.Join("..", "harness", "testdata", "golden", "medium_win.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(updated))
}

func TestTestCommand_Errors(t *testing.T) {
	setupEnv(t)

	_, err := execute(t, "", "test", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")

	empty := t.TempDir()
	out, err := execute(t, "", "test", empty)
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found.")

	_, err = execute(t, "", "test", empty, "--filter", "[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}
