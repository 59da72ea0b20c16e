package bridge

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	syncbridge "github.com/wippyai/realm-sync-bridge"
	"github.com/wippyai/realm-sync-bridge/abi"
	"github.com/wippyai/realm-sync-bridge/auth"
	"github.com/wippyai/realm-sync-bridge/errors"
	"github.com/wippyai/realm-sync-bridge/native"
	"github.com/wippyai/realm-sync-bridge/token"
)

// SessionRef is the Go view of a session handle passed to an entry point.
// Path is empty when the handle was not registered with RegisterSession.
type SessionRef struct {
	Path   string
	Handle native.SessionHandle
}

// ErrorHandler receives classified session errors. Handlers run on the
// engine goroutine that reported the error, in report order. They must not
// call back into the engine synchronously.
type ErrorHandler func(SessionRef, *errors.SessionError)

// Options configures a Registry.
type Options struct {
	// Tokens is the store completion tokens are created in. A new store is
	// used when nil.
	Tokens *token.Store
	// Refresher answers access token refresh requests.
	Refresher auth.Refresher
	// Logger overrides the package logger.
	Logger *zap.Logger
}

// Registry owns the engine entry points. It installs them once and routes
// every callback to the token, session or observer it belongs to.
type Registry struct {
	engine     native.Engine
	tokens     *token.Store
	log        *zap.Logger
	refresher  atomic.Pointer[refresherBox]
	fallback   atomic.Pointer[ErrorHandler]
	installErr error
	sessions   map[native.SessionHandle]*sessionEntry
	ctx        context.Context
	cancel     context.CancelFunc
	session    native.SessionCallbacks
	manager    native.ManagerCallbacks
	wg         sync.WaitGroup
	mu         sync.RWMutex
	once       sync.Once
	installed  atomic.Bool
}

type refresherBox struct {
	r auth.Refresher
}

type sessionEntry struct {
	onError ErrorHandler
	path    string
}

// New creates a registry for engine. Entry points are not installed until
// Install is called.
func New(engine native.Engine, opts Options) *Registry {
	if opts.Tokens == nil {
		opts.Tokens = token.NewStore()
	}
	if opts.Logger == nil {
		opts.Logger = Logger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		engine:   engine,
		tokens:   opts.Tokens,
		log:      opts.Logger,
		sessions: make(map[native.SessionHandle]*sessionEntry),
		ctx:      ctx,
		cancel:   cancel,
	}
	r.SetRefresher(opts.Refresher)
	r.session = native.SessionCallbacks{
		RefreshAccessToken: r.onRefreshAccessToken,
		SessionError:       r.onSessionError,
		SessionProgress:    r.onSessionProgress,
		SessionWait:        r.onSessionWait,
	}
	r.manager = native.ManagerCallbacks{
		Subscribe: r.onSubscribe,
		Log:       r.onLog,
	}
	return r
}

// Install registers the entry points with the engine. Only the first call
// reaches the engine; its outcome is returned to every caller.
func (r *Registry) Install(ctx context.Context) error {
	r.once.Do(func() {
		if err := r.engine.InstallSessionCallbacks(ctx, r.session); err != nil {
			r.installErr = errors.NotInstalled(err)
			return
		}
		if err := r.engine.InstallManagerCallbacks(ctx, r.manager); err != nil {
			r.installErr = errors.NotInstalled(err)
			return
		}
		r.installed.Store(true)
		r.log.Debug("sync callbacks installed")
	})
	return r.installErr
}

// MustInstall is like Install but panics on failure.
func (r *Registry) MustInstall(ctx context.Context) {
	if err := r.Install(ctx); err != nil {
		panic(err)
	}
}

// Installed reports whether Install succeeded.
func (r *Registry) Installed() bool {
	return r.installed.Load()
}

// Engine returns the engine the registry is bound to.
func (r *Registry) Engine() native.Engine {
	return r.engine
}

// Tokens returns the completion token store.
func (r *Registry) Tokens() *token.Store {
	return r.tokens
}

// SetRefresher replaces the access token refresher. nil disables refresh.
func (r *Registry) SetRefresher(ref auth.Refresher) {
	if ref == nil {
		r.refresher.Store(nil)
		return
	}
	r.refresher.Store(&refresherBox{r: ref})
}

// OnError sets the handler for errors on sessions without their own handler.
func (r *Registry) OnError(h ErrorHandler) {
	if h == nil {
		r.fallback.Store(nil)
		return
	}
	r.fallback.Store(&h)
}

// RegisterSession routes errors reported for handle to onError. The returned
// function removes the registration.
func (r *Registry) RegisterSession(handle native.SessionHandle, path string, onError ErrorHandler) func() {
	e := &sessionEntry{path: path, onError: onError}
	r.mu.Lock()
	r.sessions[handle] = e
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		if r.sessions[handle] == e {
			delete(r.sessions, handle)
		}
		r.mu.Unlock()
	}
}

// SetSessionErrorHandler replaces the handler of a registered session.
// Returns false if the handle is not registered.
func (r *Registry) SetSessionErrorHandler(handle native.SessionHandle, onError ErrorHandler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[handle]
	if !ok {
		return false
	}
	r.sessions[handle] = &sessionEntry{path: e.path, onError: onError}
	return true
}

func (r *Registry) lookupSession(handle native.SessionHandle) (SessionRef, ErrorHandler) {
	r.mu.RLock()
	e, ok := r.sessions[handle]
	r.mu.RUnlock()
	if !ok {
		return SessionRef{Handle: handle}, nil
	}
	return SessionRef{Handle: handle, Path: e.path}, e.onError
}

// Close stops accepting refresh work and waits for running refreshes.
func (r *Registry) Close() error {
	r.cancel()
	r.wg.Wait()
	return nil
}

// recoverEntry keeps a panic in Go code from unwinding into the engine.
func (r *Registry) recoverEntry(entry string) {
	if p := recover(); p != nil {
		r.log.Error("sync callback panicked",
			zap.String("entry", entry),
			zap.Any("panic", p),
			zap.Stack("stack"))
	}
}

func (r *Registry) onSessionWait(mem syncbridge.Memory, id native.Token, status int32, msgPtr, msgLen uint32) {
	defer r.recoverEntry("session_wait")

	if status == 0 {
		if !r.tokens.Resolve(id, nil) {
			r.log.Debug("wait completion for unknown token", zap.Uint64("token", uint64(id)))
		}
		return
	}

	msg, err := abi.DecodeString(mem, msgPtr, msgLen)
	if err != nil {
		r.log.Warn("decode wait failure message", zap.Uint64("token", uint64(id)), zap.Error(err))
	}
	failure := &errors.WaitFailure{Err: errors.NewSessionError(errors.ErrorCode(status), msg)}
	if !r.tokens.Fail(id, failure) {
		r.log.Debug("wait failure for unknown token",
			zap.Uint64("token", uint64(id)),
			zap.Int32("status", status))
	}
}

func (r *Registry) onSubscribe(mem syncbridge.Memory, results native.ResultsHandle, id native.Token, errPtr uint32) {
	defer r.recoverEntry("subscribe_for_objects")

	var info abi.ErrorInfo
	if errPtr != 0 {
		var err error
		info, err = abi.DecodeErrorInfo(mem, errPtr)
		if err != nil {
			r.log.Warn("decode subscription error", zap.Uint64("token", uint64(id)), zap.Error(err))
			if !r.tokens.Fail(id, &errors.SubscriptionError{Err: errors.NewSessionError(errors.CodeEngineError, "")}) {
				r.log.Debug("subscription failure for unknown token", zap.Uint64("token", uint64(id)))
			}
			return
		}
	}

	if info.Code != errors.CodeOK {
		failure := &errors.SubscriptionError{Err: errors.Classify(info.Code, info.Message, info.Pairs)}
		if !r.tokens.Fail(id, failure) {
			r.log.Debug("subscription failure for unknown token", zap.Uint64("token", uint64(id)))
		}
		return
	}

	if r.tokens.Resolve(id, results) {
		return
	}
	r.log.Debug("subscription result for unknown token, closing results",
		zap.Uint64("token", uint64(id)),
		zap.Uint64("results", uint64(results)))
	if results != 0 {
		r.async(func(ctx context.Context) {
			if err := r.engine.CloseResults(ctx, results); err != nil {
				r.log.Warn("close orphaned results", zap.Error(err))
			}
		})
	}
}

func (r *Registry) onSessionError(mem syncbridge.Memory, handle native.SessionHandle, code int32, msgPtr, msgLen, pairsPtr, pairsCount uint32) {
	defer r.recoverEntry("session_error")

	msg, err := abi.DecodeString(mem, msgPtr, msgLen)
	if err != nil {
		r.log.Error("drop session error: decode message", zap.Uint64("session", uint64(handle)), zap.Error(err))
		return
	}
	pairs, err := abi.DecodePairs(mem, pairsPtr, int(pairsCount))
	if err != nil {
		r.log.Error("drop session error: decode pairs", zap.Uint64("session", uint64(handle)), zap.Error(err))
		return
	}

	classified := errors.Classify(errors.ErrorCode(code), msg, pairs)
	ref, h := r.lookupSession(handle)
	if h == nil {
		if fb := r.fallback.Load(); fb != nil {
			h = *fb
		}
	}
	if h == nil {
		r.log.Warn("unhandled session error",
			zap.Uint64("session", uint64(handle)),
			zap.String("path", ref.Path),
			zap.Error(classified))
		return
	}
	h(ref, classified)
}

func (r *Registry) onSessionProgress(id native.Token, transferred, transferable uint64) {
	defer r.recoverEntry("session_progress")

	if !r.tokens.Notify(id, transferred, transferable) {
		r.log.Debug("progress for unknown token", zap.Uint64("token", uint64(id)))
	}
}

func (r *Registry) onRefreshAccessToken(handle native.SessionHandle) {
	defer r.recoverEntry("refresh_access_token")

	r.async(func(ctx context.Context) {
		defer func() {
			if err := r.engine.CloseSession(context.WithoutCancel(ctx), handle); err != nil {
				r.log.Warn("close session after refresh", zap.Uint64("session", uint64(handle)), zap.Error(err))
			}
		}()

		box := r.refresher.Load()
		if box == nil {
			r.log.Warn("access token refresh requested but no refresher is configured",
				zap.Uint64("session", uint64(handle)))
			return
		}

		info, err := r.engine.SessionInfo(ctx, handle)
		if err != nil {
			r.log.Warn("refresh: session info", zap.Uint64("session", uint64(handle)), zap.Error(err))
			return
		}
		tok, err := box.r.Refresh(ctx, auth.Request{Path: info.Path, User: info.User, URL: info.URL})
		if err != nil {
			r.log.Warn("refresh access token", zap.String("path", info.Path), zap.Error(err))
			return
		}
		if err := r.engine.RefreshAccessToken(ctx, handle, tok.AccessToken, tok.ServerPath); err != nil {
			r.log.Warn("push access token", zap.String("path", info.Path), zap.Error(err))
		}
	})
}

func (r *Registry) onLog(mem syncbridge.Memory, level native.LogLevel, msgPtr, msgLen uint32) {
	defer r.recoverEntry("log")

	msg, err := abi.DecodeString(mem, msgPtr, msgLen)
	if err != nil {
		return
	}
	l := r.log.With(zap.String("source", "engine"))
	switch {
	case level >= native.LogOff:
	case level <= native.LogDebug:
		l.Debug(msg, zap.Stringer("level", level))
	case level <= native.LogInfo:
		l.Info(msg)
	case level == native.LogWarn:
		l.Warn(msg)
	default:
		l.Error(msg, zap.Stringer("level", level))
	}
}

// async runs fn on a new goroutine tracked by Close. Entry points use it for
// work that calls back into the engine.
func (r *Registry) async(fn func(ctx context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.recoverEntry("async")
		fn(r.ctx)
	}()
}
