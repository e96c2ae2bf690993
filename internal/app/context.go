package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"diario/internal/config"
	"diario/internal/db"
	"diario/internal/engine"
	"diario/internal/migrate"
	"diario/internal/notify"
	"diario/internal/server"
	diariosdk "diario/sdk/go"
)

// EnvFile is the per-workspace dotenv file.
const EnvFile = ".env"

// EnvAPI overrides api.base_url.
const EnvAPI = "DIARIO_API"

// Options are the values resolved from flags and environment.
type Options struct {
	Workspace string
	API       string
	Verbose   bool
	// LogToFile sends logs to log.file instead of stderr, or drops them when
	// no file is configured.
	LogToFile bool
}

// Context is the resolved runtime of one command invocation.
type Context struct {
	Workspace string
	Config    *config.Config
	Log       *zap.Logger
}

// LoadEnv loads the workspace .env into the process environment. Variables
// already set win. A missing file is not an error.
func LoadEnv(workspace string) error {
	path := filepath.Join(workspaceDir(workspace), EnvFile)
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Resolve reads diario.yml (defaults when absent), applies the API override
// and builds the logger.
func Resolve(opts Options) (*Context, error) {
	workspace := workspaceDir(opts.Workspace)
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if api := strings.TrimSpace(opts.API); api != "" {
		cfg.API.BaseURL = api
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if opts.LogToFile && cfg.Log.File == "" {
		// the terminal belongs to the wizard
		return &Context{Workspace: workspace, Config: cfg, Log: zap.NewNop()}, nil
	}
	logFile := ""
	if opts.LogToFile {
		logFile = cfg.Log.File
	}
	log, err := NewLogger(cfg.Log.Level, logFile, opts.Verbose)
	if err != nil {
		return nil, err
	}
	return &Context{Workspace: workspace, Config: cfg, Log: log}, nil
}

// NewLogger builds a production zap logger. verbose forces debug level; an
// empty file logs to stderr.
func NewLogger(level, file string, verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.Encoding = "console"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zcfg.DisableStacktrace = true
	lvl := zapcore.InfoLevel
	if level != "" {
		if err := lvl.Set(strings.ToLower(level)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}
	if verbose {
		lvl = zapcore.DebugLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	out := "stderr"
	if file != "" {
		out = file
	}
	zcfg.OutputPaths = []string{out}
	zcfg.ErrorOutputPaths = []string{out}
	return zcfg.Build()
}

// Client returns an API client configured from c.
func (c *Context) Client() *diariosdk.Client {
	client := diariosdk.New(c.Config.API.BaseURL)
	client.Timeout = c.Config.API.Timeout
	return client
}

// Timing returns the configured notification lifecycle.
func (c *Context) Timing() notify.Timing {
	n := c.Config.Notifications
	return notify.Timing{Enter: n.Enter, Visible: n.Visible, Exit: n.Exit}
}

// NewEngine wires an engine to backend. Notifications go to sink and the log.
func (c *Context) NewEngine(backend engine.Backend, sink notify.Sink) *engine.Engine {
	return engine.New(engine.Options{
		Backend:    backend,
		Notifier:   notify.Multi(sink, notify.LogSink{Log: c.Log}),
		Logger:     c.Log,
		ResetDelay: c.Config.Wizard.ResetDelay,
		ExportDir:  c.exportDir(),
	})
}

func (c *Context) exportDir() string {
	dir := c.Config.Export.Dir
	if dir == "" || filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(c.Workspace, dir)
}

// DevServer is the local backend opened on the workspace database.
type DevServer struct {
	HTTP     *http.Server
	BasePath string
	close    func() error
}

// Close releases the database.
func (s *DevServer) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenDevServer migrates the workspace database and builds the API server.
// Empty addr or basePath fall back to the config.
func (c *Context) OpenDevServer(ctx context.Context, addr, basePath string) (*DevServer, error) {
	if addr == "" {
		addr = c.Config.Server.Addr
	}
	if basePath == "" {
		basePath = c.Config.Server.BasePath
	}
	conn, err := db.Open(db.Config{Workspace: c.Workspace})
	if err != nil {
		return nil, err
	}
	version, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	c.Log.Debug("database ready", zap.String("path", db.Path(c.Workspace)), zap.Int("schema_version", version))
	handler, err := server.New(server.Config{
		Service:  server.NewService(conn, c.Log.Named("server")),
		BasePath: basePath,
		Logger:   c.Log.Named("http"),
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &DevServer{
		HTTP:     &http.Server{Addr: addr, Handler: handler},
		BasePath: basePath,
		close:    conn.Close,
	}, nil
}

// SetEnvValue writes key=value into the workspace .env, keeping other entries.
func SetEnvValue(workspace, key, value string) (string, error) {
	path := filepath.Join(workspaceDir(workspace), EnvFile)
	env, err := godotenv.Read(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		env = map[string]string{}
	}
	env[key] = value
	if err := godotenv.Write(env, path); err != nil {
		return "", err
	}
	return path, nil
}

func workspaceDir(workspace string) string {
	if workspace == "" {
		return "."
	}
	return workspace
}
