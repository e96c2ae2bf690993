package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diario/internal/config"
	"diario/internal/notify"
)

func TestSetEnvValueRoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, EnvFile), []byte("OTHER=1\n"), 0o644))

	path, err := SetEnvValue(dir, "DIARIO_TEST_API", "http://10.0.0.1:5000/api")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, EnvFile), path)

	t.Setenv("DIARIO_TEST_API", "")
	os.Unsetenv("DIARIO_TEST_API")
	t.Setenv("OTHER", "keep")
	require.NoError(t, LoadEnv(dir))
	assert.Equal(t, "http://10.0.0.1:5000/api", os.Getenv("DIARIO_TEST_API"))
	assert.Equal(t, "keep", os.Getenv("OTHER"), "existing variables win")
}

func TestLoadEnvMissingFile(t *testing.T) {
	assert.NoError(t, LoadEnv(t.TempDir()))
}

func TestResolveDefaultsAndOverride(t *testing.T) {
	dir := t.TempDir()
	rt, err := Resolve(Options{Workspace: dir})
	require.NoError(t, err)
	assert.Equal(t, config.Default().API.BaseURL, rt.Config.API.BaseURL)
	assert.Equal(t, notify.DefaultTiming, rt.Timing())

	rt, err = Resolve(Options{Workspace: dir, API: "http://example.test/api"})
	require.NoError(t, err)
	assert.Equal(t, "http://example.test/api", rt.Client().BaseURL)

	_, err = Resolve(Options{Workspace: dir, API: "example.test"})
	assert.Error(t, err)
}

func TestResolveReadsWorkspaceConfig(t *testing.T) {
	dir := t.TempDir()
	yml := "api:\n  base_url: http://192.168.0.9/api\nexport:\n  dir: out\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName), []byte(yml), 0o644))
	rt, err := Resolve(Options{Workspace: dir})
	require.NoError(t, err)
	assert.Equal(t, "http://192.168.0.9/api", rt.Config.API.BaseURL)
	assert.Equal(t, filepath.Join(dir, "out"), rt.exportDir())
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger("chatty", "", false)
	assert.Error(t, err)
	log, err := NewLogger("warn", filepath.Join(t.TempDir(), "diario.log"), true)
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(-1), "verbose enables debug")
}

func TestOpenDevServerServesHealth(t *testing.T) {
	rt, err := Resolve(Options{Workspace: t.TempDir()})
	require.NoError(t, err)
	dev, err := rt.OpenDevServer(context.Background(), "", "")
	require.NoError(t, err)
	defer dev.Close()
	assert.Equal(t, "/api", dev.BasePath)
	assert.Equal(t, rt.Config.Server.Addr, dev.HTTP.Addr)

	ts := httptest.NewServer(dev.HTTP.Handler)
	defer ts.Close()
	client := rt.Client()
	client.BaseURL = ts.URL + "/api"
	require.NoError(t, client.Health(context.Background()))

	res, err := http.Get(ts.URL + "/api/openapi.json")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}
