package loopback

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/wippyai/realm-sync-bridge/abi"
	"github.com/wippyai/realm-sync-bridge/errors"
	"github.com/wippyai/realm-sync-bridge/native"
)

// Options configures an Engine.
type Options struct {
	// Fs holds realm files. Defaults to an in-memory filesystem.
	Fs afero.Fs
	// Logger receives loopback diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger
	// Workers is the size of the completion worker pool. Defaults to 4.
	Workers int
	// ArenaSize is the initial size of the callback arena.
	ArenaSize uint32
}

type syncSession struct {
	notifiers   map[native.NotifierToken]*notifier
	cfg         native.SyncConfig
	path        string
	accessToken string
	serverPath  string
	refs        int
	state       native.SessionState
}

type notifier struct {
	token native.Token
	dir   native.ProgressDirection
	mode  native.ProgressMode
}

type waitKey struct {
	path string
	dir  native.ProgressDirection
}

// Engine is an in-process native.Engine.
type Engine struct {
	log    *zap.Logger
	fs     afero.Fs
	arena  *abi.Arena
	pool   *pool
	serial *pool

	sessionCB *native.SessionCallbacks
	managerCB *native.ManagerCallbacks
	fsConfig  *native.FileSystemConfig

	handles   map[native.SessionHandle]*syncSession
	byPath    map[string]*syncSession
	realms    map[native.RealmHandle]string
	results   map[native.ResultsHandle]string
	waits     map[waitKey][]Outcome
	subs      map[string]Outcome
	openFail  map[string]Outcome
	actions   map[string]string
	calls     map[string]int
	configErr *Outcome

	next     uint64
	logLevel native.LogLevel
	mu       sync.Mutex
	closed   bool
}

// New creates a running engine.
func New(opts Options) *Engine {
	if opts.Fs == nil {
		opts.Fs = afero.NewMemMapFs()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Workers == 0 {
		opts.Workers = 4
	}
	return &Engine{
		log:      opts.Logger,
		fs:       opts.Fs,
		arena:    abi.NewArena(opts.ArenaSize),
		pool:     newPool(opts.Workers, opts.Logger),
		serial:   newPool(1, opts.Logger),
		handles:  make(map[native.SessionHandle]*syncSession),
		byPath:   make(map[string]*syncSession),
		realms:   make(map[native.RealmHandle]string),
		results:  make(map[native.ResultsHandle]string),
		waits:    make(map[waitKey][]Outcome),
		subs:     make(map[string]Outcome),
		openFail: make(map[string]Outcome),
		actions:  make(map[string]string),
		calls:    make(map[string]int),
		logLevel: native.LogInfo,
	}
}

var _ native.Engine = (*Engine)(nil)

// begin records a call to op and locks the engine. The caller must unlock.
func (e *Engine) begin(op string) error {
	e.mu.Lock()
	e.calls[op]++
	if e.closed {
		e.mu.Unlock()
		return errors.Closed(errors.PhaseHost, "loopback engine")
	}
	return nil
}

func (e *Engine) nextHandle() uint64 {
	e.next++
	return e.next
}

func (e *Engine) requireConfigured() error {
	if e.fsConfig == nil {
		return &native.ErrorInfo{Code: errors.CodeEngineError, Message: "sync manager file system is not configured"}
	}
	return nil
}

func (e *Engine) session(h native.SessionHandle) (*syncSession, error) {
	s, ok := e.handles[h]
	if !ok {
		return nil, errors.NotFound(errors.PhaseHost, "session", fmt.Sprint(uint64(h)))
	}
	return s, nil
}

func (e *Engine) InstallSessionCallbacks(_ context.Context, cb native.SessionCallbacks) error {
	if err := e.begin("install_session_callbacks"); err != nil {
		return err
	}
	defer e.mu.Unlock()
	if e.sessionCB != nil {
		return errors.Registration(errors.PhaseInstall, "realm_sync", "session callbacks", fmt.Errorf("already installed"))
	}
	if cb.SessionWait == nil || cb.SessionError == nil || cb.SessionProgress == nil || cb.RefreshAccessToken == nil {
		return errors.InvalidInput(errors.PhaseInstall, "every session callback is required")
	}
	e.sessionCB = &cb
	return nil
}

func (e *Engine) InstallManagerCallbacks(_ context.Context, cb native.ManagerCallbacks) error {
	if err := e.begin("install_manager_callbacks"); err != nil {
		return err
	}
	defer e.mu.Unlock()
	if e.managerCB != nil {
		return errors.Registration(errors.PhaseInstall, "realm_sync", "manager callbacks", fmt.Errorf("already installed"))
	}
	if cb.Subscribe == nil {
		return errors.InvalidInput(errors.PhaseInstall, "subscribe callback is required")
	}
	e.managerCB = &cb
	return nil
}

func (e *Engine) ConfigureFileSystem(_ context.Context, cfg native.FileSystemConfig) error {
	if err := e.begin("configure_file_system"); err != nil {
		return err
	}
	defer e.mu.Unlock()
	if e.configErr != nil {
		return e.configErr.info()
	}
	if err := e.fs.MkdirAll(cfg.BasePath, 0o755); err != nil {
		return &native.ErrorInfo{
			Code:    errors.CodeFileAccessError,
			Message: err.Error(),
			Pairs:   []errors.Pair{{Key: errors.KeyPath, Value: cfg.BasePath}},
		}
	}
	e.fsConfig = &cfg
	e.logf(native.LogDetail, "configured file system at %s", cfg.BasePath)
	return nil
}

func (e *Engine) ResetForTesting(_ context.Context) error {
	if err := e.begin("reset_for_testing"); err != nil {
		return err
	}
	defer e.mu.Unlock()
	e.fsConfig = nil
	clear(e.handles)
	clear(e.byPath)
	clear(e.realms)
	clear(e.results)
	clear(e.actions)
	return nil
}

func (e *Engine) GetSession(_ context.Context, p string, cfg native.SyncConfig, _ []byte) (native.SessionHandle, error) {
	if err := e.begin("get_session"); err != nil {
		return 0, err
	}
	defer e.mu.Unlock()
	if err := e.requireConfigured(); err != nil {
		return 0, err
	}
	if o, ok := e.openFail[p]; ok {
		return 0, o.info()
	}
	s, ok := e.byPath[p]
	if !ok {
		s = &syncSession{
			cfg:       cfg,
			path:      p,
			state:     native.SessionActive,
			notifiers: make(map[native.NotifierToken]*notifier),
		}
		e.byPath[p] = s
	}
	s.refs++
	h := native.SessionHandle(e.nextHandle())
	e.handles[h] = s
	e.logf(native.LogDebug, "session %d bound to %s", h, p)
	return h, nil
}

func (e *Engine) OpenWithSync(_ context.Context, realm native.RealmConfig, cfg native.SyncConfig) (native.RealmHandle, error) {
	if err := e.begin("open_with_sync"); err != nil {
		return 0, err
	}
	defer e.mu.Unlock()
	if err := e.requireConfigured(); err != nil {
		return 0, err
	}
	p := realm.Path
	if p == "" {
		p = e.realmPath(cfg.User, cfg.URL)
	}
	if o, ok := e.openFail[p]; ok {
		return 0, o.info()
	}
	if err := e.touch(p); err != nil {
		return 0, &native.ErrorInfo{
			Code:    errors.CodeFileAccessError,
			Message: err.Error(),
			Pairs:   []errors.Pair{{Key: errors.KeyPath, Value: p}},
		}
	}
	h := native.RealmHandle(e.nextHandle())
	e.realms[h] = p
	return h, nil
}

func (e *Engine) touch(p string) error {
	if err := e.fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	ok, err := afero.Exists(e.fs, p)
	if err != nil || ok {
		return err
	}
	return afero.WriteFile(e.fs, p, nil, 0o644)
}

func (e *Engine) GetPathForRealm(_ context.Context, user, url string) (string, error) {
	if err := e.begin("get_path_for_realm"); err != nil {
		return "", err
	}
	defer e.mu.Unlock()
	if err := e.requireConfigured(); err != nil {
		return "", err
	}
	return e.realmPath(user, url), nil
}

// realmPath names realm files by user and a stable id derived from the url.
func (e *Engine) realmPath(user, url string) string {
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(url))
	name := strings.Trim(path.Base(url), "/~")
	if name == "" || name == "." {
		name = "default"
	}
	return filepath.Join(e.fsConfig.BasePath, "realm-object-server", user, name+"-"+id.String()[:8]+".realm")
}

func (e *Engine) WaitForDownload(ctx context.Context, h native.SessionHandle, tok native.Token) error {
	return e.wait(ctx, "wait_for_download", h, tok, native.ProgressDownload)
}

func (e *Engine) WaitForUpload(ctx context.Context, h native.SessionHandle, tok native.Token) error {
	return e.wait(ctx, "wait_for_upload", h, tok, native.ProgressUpload)
}

func (e *Engine) wait(_ context.Context, op string, h native.SessionHandle, tok native.Token, dir native.ProgressDirection) error {
	if err := e.begin(op); err != nil {
		return err
	}
	s, err := e.session(h)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if e.sessionCB == nil {
		e.mu.Unlock()
		return errors.NotInstalled(nil)
	}
	key := waitKey{path: s.path, dir: dir}
	var o Outcome
	if q := e.waits[key]; len(q) > 0 {
		o, e.waits[key] = q[0], q[1:]
	}
	if o.Reject {
		e.mu.Unlock()
		return o.info()
	}
	cb := e.sessionCB.SessionWait
	e.mu.Unlock()

	if o.Hold {
		return nil
	}
	for i := 0; i <= o.Duplicates; i++ {
		e.pool.submitAfter(o.Delay, func() { e.deliverWait(cb, tok, o) })
	}
	return nil
}

func (e *Engine) deliverWait(cb native.SessionWaitFunc, tok native.Token, o Outcome) {
	if o.Code == errors.CodeOK {
		cb(e.arena, tok, 0, 0, 0)
		return
	}
	ptr, n, err := abi.EncodeString(e.arena, e.arena, o.Message)
	if err != nil {
		e.log.Error("encode wait message", zap.Error(err))
		return
	}
	defer e.arena.Free(ptr, n, 1)
	cb(e.arena, tok, int32(o.Code), ptr, n)
}

func (e *Engine) RegisterProgressNotifier(_ context.Context, h native.SessionHandle, tok native.Token, dir native.ProgressDirection, mode native.ProgressMode) (native.NotifierToken, error) {
	if err := e.begin("register_progress_notifier"); err != nil {
		return 0, err
	}
	defer e.mu.Unlock()
	s, err := e.session(h)
	if err != nil {
		return 0, err
	}
	n := native.NotifierToken(e.nextHandle())
	s.notifiers[n] = &notifier{token: tok, dir: dir, mode: mode}
	return n, nil
}

func (e *Engine) UnregisterProgressNotifier(_ context.Context, h native.SessionHandle, n native.NotifierToken) error {
	if err := e.begin("unregister_progress_notifier"); err != nil {
		return err
	}
	defer e.mu.Unlock()
	s, err := e.session(h)
	if err != nil {
		return err
	}
	delete(s.notifiers, n)
	return nil
}

func (e *Engine) RefreshAccessToken(_ context.Context, h native.SessionHandle, accessToken, serverPath string) error {
	if err := e.begin("refresh_access_token"); err != nil {
		return err
	}
	defer e.mu.Unlock()
	s, err := e.session(h)
	if err != nil {
		return err
	}
	s.accessToken = accessToken
	s.serverPath = serverPath
	return nil
}

func (e *Engine) SessionInfo(_ context.Context, h native.SessionHandle) (native.SessionInfo, error) {
	if err := e.begin("session_info"); err != nil {
		return native.SessionInfo{}, err
	}
	defer e.mu.Unlock()
	s, err := e.session(h)
	if err != nil {
		return native.SessionInfo{}, err
	}
	return native.SessionInfo{Path: s.path, User: s.cfg.User, URL: s.cfg.URL, State: s.state}, nil
}

func (e *Engine) SubscribeForObjects(_ context.Context, realm native.RealmHandle, className, query string, tok native.Token) error {
	if err := e.begin("subscribe_for_objects"); err != nil {
		return err
	}
	if _, ok := e.realms[realm]; !ok {
		e.mu.Unlock()
		return errors.NotFound(errors.PhaseHost, "realm", fmt.Sprint(uint64(realm)))
	}
	if e.managerCB == nil {
		e.mu.Unlock()
		return errors.NotInstalled(nil)
	}
	o := e.subs[className]
	if o.Reject {
		e.mu.Unlock()
		return o.info()
	}
	cb := e.managerCB.Subscribe
	e.mu.Unlock()

	if o.Hold {
		return nil
	}
	for i := 0; i <= o.Duplicates; i++ {
		e.pool.submitAfter(o.Delay, func() { e.deliverSubscription(cb, tok, className, o) })
	}
	e.log.Debug("subscription queued", zap.String("class", className), zap.String("query", query))
	return nil
}

func (e *Engine) deliverSubscription(cb native.SubscribeFunc, tok native.Token, className string, o Outcome) {
	if o.Code == errors.CodeOK {
		e.mu.Lock()
		results := native.ResultsHandle(e.nextHandle())
		e.results[results] = className
		e.mu.Unlock()
		cb(e.arena, results, tok, 0)
		return
	}
	enc, err := abi.EncodeErrorInfo(e.arena, e.arena, abi.ErrorInfo{Code: o.Code, Message: o.Message, Pairs: o.Pairs})
	if err != nil {
		e.log.Error("encode subscription error", zap.Error(err))
		return
	}
	defer enc.Release()
	cb(e.arena, 0, tok, enc.Ptr)
}

func (e *Engine) ImmediatelyRunFileActions(_ context.Context, p string) (bool, error) {
	if err := e.begin("immediately_run_file_actions"); err != nil {
		return false, err
	}
	defer e.mu.Unlock()
	recovery, ok := e.actions[p]
	if !ok {
		return false, nil
	}
	delete(e.actions, p)
	exists, err := afero.Exists(e.fs, p)
	if err != nil || !exists {
		return true, nil
	}
	if err := e.fs.MkdirAll(filepath.Dir(recovery), 0o755); err != nil {
		return false, &native.ErrorInfo{Code: errors.CodeFileAccessError, Message: err.Error()}
	}
	if err := e.fs.Rename(p, recovery); err != nil {
		return false, &native.ErrorInfo{Code: errors.CodeFileAccessError, Message: err.Error()}
	}
	return true, nil
}

func (e *Engine) CancelPendingFileActions(_ context.Context, p string) (bool, error) {
	if err := e.begin("cancel_pending_file_actions"); err != nil {
		return false, err
	}
	defer e.mu.Unlock()
	_, ok := e.actions[p]
	delete(e.actions, p)
	return ok, nil
}

func (e *Engine) SetLogLevel(_ context.Context, level native.LogLevel) error {
	if err := e.begin("set_log_level"); err != nil {
		return err
	}
	defer e.mu.Unlock()
	if level > native.LogOff {
		return &native.ErrorInfo{Code: errors.CodeInvalidArgument, Message: fmt.Sprintf("invalid log level %d", level)}
	}
	e.logLevel = level
	return nil
}

func (e *Engine) GetLogLevel(_ context.Context) (native.LogLevel, error) {
	if err := e.begin("get_log_level"); err != nil {
		return 0, err
	}
	defer e.mu.Unlock()
	return e.logLevel, nil
}

func (e *Engine) Reconnect(_ context.Context) error {
	if err := e.begin("reconnect"); err != nil {
		return err
	}
	defer e.mu.Unlock()
	for _, s := range e.byPath {
		s.state = native.SessionActive
	}
	e.logf(native.LogDetail, "reconnecting %d sessions", len(e.byPath))
	return nil
}

func (e *Engine) CloseSession(_ context.Context, h native.SessionHandle) error {
	if err := e.begin("close_session"); err != nil {
		return err
	}
	defer e.mu.Unlock()
	s, err := e.session(h)
	if err != nil {
		return err
	}
	delete(e.handles, h)
	s.refs--
	if s.refs == 0 {
		delete(e.byPath, s.path)
	}
	return nil
}

func (e *Engine) CloseRealm(_ context.Context, h native.RealmHandle) error {
	if err := e.begin("close_realm"); err != nil {
		return err
	}
	defer e.mu.Unlock()
	if _, ok := e.realms[h]; !ok {
		return errors.NotFound(errors.PhaseHost, "realm", fmt.Sprint(uint64(h)))
	}
	delete(e.realms, h)
	return nil
}

func (e *Engine) CloseResults(_ context.Context, h native.ResultsHandle) error {
	if err := e.begin("close_results"); err != nil {
		return err
	}
	defer e.mu.Unlock()
	if _, ok := e.results[h]; !ok {
		return errors.NotFound(errors.PhaseHost, "results", fmt.Sprint(uint64(h)))
	}
	delete(e.results, h)
	return nil
}

// Close stops the workers after the queued callbacks ran.
func (e *Engine) Close(_ context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	e.pool.flush()
	e.serial.flush()
	e.pool.close()
	e.serial.close()
	return nil
}

// logf emits an engine log line through the installed log callback.
// Must be called with e.mu held.
func (e *Engine) logf(level native.LogLevel, format string, args ...any) {
	if e.managerCB == nil || e.managerCB.Log == nil || level < e.logLevel || level >= native.LogOff {
		return
	}
	cb := e.managerCB.Log
	msg := fmt.Sprintf(format, args...)
	e.serial.submit(func() {
		ptr, n, err := abi.EncodeString(e.arena, e.arena, msg)
		if err != nil {
			return
		}
		defer e.arena.Free(ptr, n, 1)
		cb(e.arena, level, ptr, n)
	})
}
