package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/target/clinic-session/config"
)

func newTestCommandContext(t *testing.T, tokenFile string) (*commandContext, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	return &commandContext{
		Ctx:    context.Background(),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config: config.AppConfig{
			Auth: config.AuthConfig{
				Mode: config.AuthModeMock,
				DevAuth: config.DevAuthConfig{
					Secret:        "0123456789abcdef-cli",
					TokenTTL:      time.Hour,
					SeedAdmin:     true,
					AdminEmail:    "admin@clinic.local",
					AdminPassword: "admin123",
				},
			},
			Storage: config.StorageConfig{Kind: config.TokenStoreFile, Key: "auth_token", File: tokenFile},
		},
		Out: &out,
	}, &out
}

func TestCommandsHaveMatchingNames(t *testing.T) {
	for key, cmd := range commands() {
		assert.Equal(t, key, cmd.name)
		assert.NotEmpty(t, cmd.description)
		assert.NotNil(t, cmd.run)
	}
}

func TestPrintUsageIsSorted(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printUsage(&buf))

	out := buf.String()
	assert.Contains(t, out, "Usage: clinic-session <command>")
	assert.Less(t, strings.Index(out, "dev-backend"), strings.Index(out, "whoami"))
}

func TestRunRoutes(t *testing.T) {
	c, out := newTestCommandContext(t, "")

	require.NoError(t, runRoutes(c, nil))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.NotEmpty(t, lines)
	assert.Contains(t, lines[0], "NAME")
	assert.Contains(t, out.String(), "/admin/dashboard")
	assert.Contains(t, out.String(), "Admin")
}

func TestSessionCommands_LoginWhoAmINavigateLogout(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "token")

	c, out := newTestCommandContext(t, tokenFile)
	c.In = strings.NewReader("admin123\n")
	require.NoError(t, runLogin(c, []string{"--email", "admin@clinic.local"}))
	assert.Contains(t, out.String(), "signed in as admin@clinic.local (Admin); home: admin.dashboard")

	raw, err := os.ReadFile(tokenFile)
	require.NoError(t, err)
	assert.NotEmpty(t, strings.TrimSpace(string(raw)))

	// Each command builds a fresh session that restores the persisted token.
	c, out = newTestCommandContext(t, tokenFile)
	require.NoError(t, runWhoAmI(c, nil))
	assert.Contains(t, out.String(), "admin@clinic.local")
	assert.Contains(t, out.String(), "Admin")

	c, out = newTestCommandContext(t, tokenFile)
	require.NoError(t, runNavigate(c, []string{"/login"}))
	assert.Equal(t, "redirect_role_home /login -> admin.dashboard\n", out.String())

	c, out = newTestCommandContext(t, tokenFile)
	require.NoError(t, runNavigate(c, []string{"--name", "admin.services"}))
	assert.Equal(t, "allow admin.services\n", out.String())

	c, out = newTestCommandContext(t, tokenFile)
	require.NoError(t, runLogout(c, nil))
	assert.Equal(t, "signed out\n", out.String())
	_, err = os.Stat(tokenFile)
	assert.True(t, os.IsNotExist(err), "logout removes the token file")

	c, _ = newTestCommandContext(t, tokenFile)
	require.ErrorIs(t, runWhoAmI(c, nil), errNotSignedIn)
}

func TestRunNavigate_SignedOutRedirectsToLogin(t *testing.T) {
	c, out := newTestCommandContext(t, filepath.Join(t.TempDir(), "token"))

	require.NoError(t, runNavigate(c, []string{"/patients"}))

	assert.Equal(t, "redirect_login /patients -> login\n", out.String())
}

func TestRunNavigate_RequiresOneArgument(t *testing.T) {
	c, _ := newTestCommandContext(t, filepath.Join(t.TempDir(), "token"))

	require.Error(t, runNavigate(c, nil))
	require.Error(t, runNavigate(c, []string{"/a", "/b"}))
}

func TestRunLogin_WrongPasswordLeavesNoToken(t *testing.T) {
	tokenFile := filepath.Join(t.TempDir(), "token")
	c, out := newTestCommandContext(t, tokenFile)

	err := runLogin(c, []string{"--email", "admin@clinic.local", "--password", "nope"})

	require.Error(t, err)
	assert.Empty(t, out.String())
	_, statErr := os.Stat(tokenFile)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunRegister_SignsInAsPatient(t *testing.T) {
	c, out := newTestCommandContext(t, filepath.Join(t.TempDir(), "token"))

	err := runRegister(c, []string{
		"--email", "pat@clinic.local",
		"--password", "secret1",
		"--full-name", "Pat Example",
		"--blood-type", "O+",
	})

	require.NoError(t, err)
	assert.Equal(t, "signed in as pat@clinic.local (Patient); home: patient.dashboard\n", out.String())
}

func TestParseLoginFlags(t *testing.T) {
	_, err := parseLoginFlags([]string{"--password", "x"}, nil)
	require.Error(t, err, "email is required")

	_, err = parseLoginFlags([]string{"--email", "a@b.c"}, strings.NewReader(""))
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	opts, err := parseLoginFlags([]string{"--email", "a@b.c"}, strings.NewReader("pw\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "pw", opts.Password)
}

func TestRunDevBackend_StopsOnCancel(t *testing.T) {
	c, _ := newTestCommandContext(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	c.Ctx = ctx
	c.Config.DevBackend.ShutdownTimeout = time.Second

	done := make(chan error, 1)
	go func() { done <- runDevBackend(c, []string{"--addr", "127.0.0.1:0"}) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dev backend did not stop")
	}
}
