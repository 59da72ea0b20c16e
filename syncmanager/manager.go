package syncmanager

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync/atomic"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/wippyai/realm-sync-bridge/auth"
	"github.com/wippyai/realm-sync-bridge/bridge"
	"github.com/wippyai/realm-sync-bridge/config"
	"github.com/wippyai/realm-sync-bridge/errors"
	"github.com/wippyai/realm-sync-bridge/native"
	"github.com/wippyai/realm-sync-bridge/telemetry"
	"github.com/wippyai/realm-sync-bridge/token"
)

// Options configures a Manager.
type Options struct {
	// Fs is used for file checks. Defaults to the OS filesystem.
	Fs afero.Fs
	// Refresher answers engine access token refresh requests.
	Refresher auth.Refresher
	// MeterProvider enables metrics when set.
	MeterProvider metric.MeterProvider
	// Logger overrides the package logger.
	Logger *zap.Logger
	// Defaults is the file system configuration applied by
	// EnsureConfiguredWithDefaults. Only BasePath is used; persistence mode,
	// encryption key and metadata reset stay unset.
	Defaults config.FileSystem
}

// Manager owns the entry point registry and the configuration gate.
type Manager struct {
	engine   native.Engine
	registry *bridge.Registry
	fs       afero.Fs
	log      *zap.Logger
	metrics  *telemetry.SessionMetrics
	defaults config.FileSystem

	configured atomic.Bool
}

// New creates a manager for eng and installs the entry points. An
// installation failure is returned and leaves the manager unusable.
func New(ctx context.Context, eng native.Engine, opts Options) (*Manager, error) {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = Logger()
	}

	tokens := token.NewStore()
	tm, err := telemetry.NewTokenMetrics(opts.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("token metrics: %w", err)
	}
	tm.Attach(tokens)
	sm, err := telemetry.NewSessionMetrics(opts.MeterProvider)
	if err != nil {
		return nil, fmt.Errorf("session metrics: %w", err)
	}

	m := &Manager{
		engine: eng,
		registry: bridge.New(eng, bridge.Options{
			Tokens:    tokens,
			Refresher: opts.Refresher,
			Logger:    opts.Logger.Named("bridge"),
		}),
		fs:       opts.Fs,
		log:      opts.Logger,
		metrics:  sm,
		defaults: opts.Defaults,
	}
	if err := m.registry.Install(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Engine returns the underlying engine.
func (m *Manager) Engine() native.Engine { return m.engine }

// Registry returns the entry point registry.
func (m *Manager) Registry() *bridge.Registry { return m.registry }

// Tokens returns the completion token store.
func (m *Manager) Tokens() *token.Store { return m.registry.Tokens() }

// Fs returns the filesystem used for file checks.
func (m *Manager) Fs() afero.Fs { return m.fs }

// Metrics returns the session metrics, nil when metrics are disabled.
func (m *Manager) Metrics() *telemetry.SessionMetrics { return m.metrics }

// Logger returns the manager's logger.
func (m *Manager) Logger() *zap.Logger { return m.log }

// Configured reports whether the file system configuration was applied or
// is being applied.
func (m *Manager) Configured() bool {
	return m.configured.Load()
}

// EnsureConfiguredWithDefaults applies the default file system
// configuration if nothing was configured yet. Only one caller applies it;
// the others return immediately.
func (m *Manager) EnsureConfiguredWithDefaults(ctx context.Context) error {
	if !m.configured.CompareAndSwap(false, true) {
		return nil
	}
	cfg := native.FileSystemConfig{BasePath: m.defaults.BasePath}
	if cfg.BasePath == "" {
		cfg.BasePath = config.DefaultBasePath()
	}
	m.log.Debug("applying default file system configuration", zap.String("base_path", cfg.BasePath))
	return m.apply(ctx, cfg)
}

// Configure applies cfg. The gate is marked first so a concurrent
// EnsureConfiguredWithDefaults does not apply defaults over it.
func (m *Manager) Configure(ctx context.Context, cfg native.FileSystemConfig) error {
	m.configured.Store(true)
	if cfg.BasePath == "" {
		cfg.BasePath = config.DefaultBasePath()
	}
	return m.apply(ctx, cfg)
}

func (m *Manager) apply(ctx context.Context, cfg native.FileSystemConfig) error {
	if err := m.engine.ConfigureFileSystem(ctx, cfg); err != nil {
		var info *native.ErrorInfo
		if stderrors.As(err, &info) {
			return &errors.ConfigurationError{Err: info.Session(), BaseDir: cfg.BasePath}
		}
		return fmt.Errorf("configure file system at %s: %w", cfg.BasePath, err)
	}
	return nil
}

// ResetForTesting resets engine state and configures the file system again
// with the given persistence mode.
func (m *Manager) ResetForTesting(ctx context.Context, mode *native.PersistenceMode) error {
	if err := m.engine.ResetForTesting(ctx); err != nil {
		return fmt.Errorf("reset for testing: %w", err)
	}
	return m.Configure(ctx, native.FileSystemConfig{BasePath: m.defaults.BasePath, PersistenceMode: mode})
}

// GetSession opens a session reference for the realm at path.
func (m *Manager) GetSession(ctx context.Context, path string, cfg native.SyncConfig, key []byte) (native.SessionHandle, error) {
	if err := m.EnsureConfiguredWithDefaults(ctx); err != nil {
		return 0, err
	}
	h, err := m.engine.GetSession(ctx, path, cfg, key)
	if err != nil {
		return 0, openError("get session", err)
	}
	return h, nil
}

// OpenWithSync opens a synchronized realm.
func (m *Manager) OpenWithSync(ctx context.Context, realm native.RealmConfig, cfg native.SyncConfig) (*Realm, error) {
	if err := m.EnsureConfiguredWithDefaults(ctx); err != nil {
		return nil, err
	}
	h, err := m.engine.OpenWithSync(ctx, realm, cfg)
	if err != nil {
		return nil, openError("open with sync", err)
	}
	return &Realm{m: m, handle: h, path: realm.Path}, nil
}

// GetPathForRealm returns the local path the engine uses for the realm at
// url for user.
func (m *Manager) GetPathForRealm(ctx context.Context, user, url string) (string, error) {
	if err := m.EnsureConfiguredWithDefaults(ctx); err != nil {
		return "", err
	}
	p, err := m.engine.GetPathForRealm(ctx, user, url)
	if err != nil {
		return "", openError("get path for realm", err)
	}
	return p, nil
}

// SubscribeForObjects subscribes to the objects of className matching query
// and waits for the engine to report the subscription result.
func (m *Manager) SubscribeForObjects(ctx context.Context, realm *Realm, className, query string) (*Results, error) {
	if realm.closed.Load() {
		return nil, errors.Closed(errors.PhaseSubscribe, "realm")
	}
	f := token.NewFuture[native.ResultsHandle](m.Tokens())
	if err := m.engine.SubscribeForObjects(ctx, realm.handle, className, query, f.ID()); err != nil {
		f.Cancel()
		var info *native.ErrorInfo
		if stderrors.As(err, &info) {
			return nil, &errors.SubscriptionError{Err: info.Session(), ClassName: className, Query: query}
		}
		return nil, fmt.Errorf("subscribe for %s: %w", className, err)
	}

	h, err := f.Wait(ctx)
	if err != nil {
		var sub *errors.SubscriptionError
		if stderrors.As(err, &sub) {
			return nil, &errors.SubscriptionError{Err: sub.Err, ClassName: className, Query: query}
		}
		return nil, err
	}
	return &Results{m: m, handle: h}, nil
}

// ImmediatelyRunFileActions runs pending client reset file actions for path.
func (m *Manager) ImmediatelyRunFileActions(ctx context.Context, path string) (bool, error) {
	ok, err := m.engine.ImmediatelyRunFileActions(ctx, path)
	if err != nil {
		return false, openError("run file actions", err)
	}
	return ok, nil
}

// CancelPendingFileActions drops pending file actions for path.
func (m *Manager) CancelPendingFileActions(ctx context.Context, path string) (bool, error) {
	ok, err := m.engine.CancelPendingFileActions(ctx, path)
	if err != nil {
		return false, openError("cancel file actions", err)
	}
	return ok, nil
}

// SetLogLevel sets the engine sync log level.
func (m *Manager) SetLogLevel(ctx context.Context, level native.LogLevel) error {
	if err := m.engine.SetLogLevel(ctx, level); err != nil {
		return openError("set log level", err)
	}
	return nil
}

// LogLevel returns the engine sync log level.
func (m *Manager) LogLevel(ctx context.Context) (native.LogLevel, error) {
	return m.engine.GetLogLevel(ctx)
}

// ReconnectSessions asks the engine to reconnect every session now instead
// of waiting for its backoff.
func (m *Manager) ReconnectSessions(ctx context.Context) error {
	return m.engine.Reconnect(ctx)
}

// Close fails pending tokens and waits for background refreshes. The engine
// is not closed.
func (m *Manager) Close() error {
	err := m.registry.Close()
	if cerr := m.Tokens().Close(); err == nil {
		err = cerr
	}
	return err
}

func openError(op string, err error) error {
	var info *native.ErrorInfo
	if stderrors.As(err, &info) {
		return errors.ClassifyOpen(info.Code, info.Message, info.Pairs)
	}
	return fmt.Errorf("%s: %w", op, err)
}
