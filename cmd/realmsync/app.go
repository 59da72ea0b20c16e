package main

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/wippyai/realm-sync-bridge/auth"
	"github.com/wippyai/realm-sync-bridge/bridge"
	"github.com/wippyai/realm-sync-bridge/config"
	"github.com/wippyai/realm-sync-bridge/engine"
	"github.com/wippyai/realm-sync-bridge/loopback"
	"github.com/wippyai/realm-sync-bridge/native"
	"github.com/wippyai/realm-sync-bridge/syncmanager"
)

// app carries the state shared by every command.
type app struct {
	fs      afero.Fs
	cfg     *config.Config
	log     *zap.Logger
	engine  native.Engine
	manager *syncmanager.Manager

	configFile string
	verbose    bool
}

func newApp(fs afero.Fs) *app {
	return &app{fs: fs}
}

func (a *app) load(flags *pflag.FlagSet) error {
	files := []string{config.DefaultFile(), "realmsync.yaml"}
	if a.configFile != "" {
		files = []string{a.configFile}
	}
	cfg, err := config.Loader{Fs: a.fs, Flags: flags, Files: files}.Load()
	if err != nil {
		return err
	}
	a.cfg = cfg

	if a.log == nil {
		var l *zap.Logger
		if a.verbose {
			l, err = zap.NewDevelopment()
		} else {
			l, err = zap.NewProduction()
		}
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		a.log = l
	}
	bridge.SetLogger(a.log.Named("bridge"))
	engine.SetLogger(a.log.Named("engine"))
	syncmanager.SetLogger(a.log.Named("manager"))
	return nil
}

// open starts the configured engine and a manager on top of it. Commands
// that only read configuration never call it.
func (a *app) open(ctx context.Context) (*syncmanager.Manager, error) {
	if a.manager != nil {
		return a.manager, nil
	}
	eng, err := a.newEngine(ctx)
	if err != nil {
		return nil, err
	}

	refresher := auth.NewRetrying(auth.Static(a.cfg.Refresh.Tokens), auth.RetryOptions{
		Logger:          a.log.Named("auth"),
		InitialInterval: a.cfg.Refresh.InitialInterval,
		MaxTries:        a.cfg.Refresh.MaxTries,
	})
	m, err := syncmanager.New(ctx, eng, syncmanager.Options{
		Fs:        a.fs,
		Refresher: refresher,
		Logger:    a.log.Named("manager"),
		Defaults:  a.cfg.FileSystem,
	})
	if err != nil {
		_ = eng.Close(ctx)
		return nil, err
	}

	level, err := native.ParseLogLevel(a.cfg.LogLevel)
	if err != nil {
		_ = m.Close()
		_ = eng.Close(ctx)
		return nil, err
	}
	if err := m.SetLogLevel(ctx, level); err != nil {
		a.log.Warn("set engine log level", zap.Stringer("level", level), zap.Error(err))
	}

	a.engine = eng
	a.manager = m
	return m, nil
}

func (a *app) newEngine(ctx context.Context) (native.Engine, error) {
	switch a.cfg.Engine.Kind {
	case "loopback":
		return loopback.New(loopback.Options{
			Fs:      a.fs,
			Logger:  a.log.Named("loopback"),
			Workers: a.cfg.Engine.Workers,
		}), nil
	case "wasm":
		if a.cfg.Engine.Module == "" {
			return nil, fmt.Errorf("engine kind wasm needs a module file")
		}
		data, err := afero.ReadFile(a.fs, a.cfg.Engine.Module)
		if err != nil {
			return nil, fmt.Errorf("read engine module: %w", err)
		}
		return engine.New(ctx, data, &engine.Config{
			Logger:       a.log.Named("engine"),
			Name:         "realm-sync",
			PollInterval: a.cfg.Engine.PollInterval,
		})
	default:
		return nil, fmt.Errorf("unknown engine kind %q", a.cfg.Engine.Kind)
	}
}

func (a *app) close(ctx context.Context) error {
	var err error
	if a.manager != nil {
		err = a.manager.Close()
		a.manager = nil
	}
	if a.engine != nil {
		if cerr := a.engine.Close(ctx); err == nil {
			err = cerr
		}
		a.engine = nil
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
	return err
}
