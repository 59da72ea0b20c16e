package loopback

import (
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wippyai/realm-sync-bridge/abi"
	"github.com/wippyai/realm-sync-bridge/errors"
	"github.com/wippyai/realm-sync-bridge/native"
)

// Outcome scripts how the engine answers a call.
type Outcome struct {
	Message string
	Pairs   []errors.Pair
	// Delay postpones the completion.
	Delay time.Duration
	// Duplicates is the number of extra completions delivered for the same
	// token, each from its own worker.
	Duplicates int
	Code       errors.ErrorCode
	// Reject fails the outbound call itself instead of completing later.
	Reject bool
	// Hold accepts the call and never completes it.
	Hold bool
}

// Succeed is the outcome used when nothing is scripted.
var Succeed = Outcome{}

// Fail returns an outcome that completes with code and message.
func Fail(code errors.ErrorCode, message string, pairs ...errors.Pair) Outcome {
	return Outcome{Code: code, Message: message, Pairs: pairs}
}

func (o Outcome) info() *native.ErrorInfo {
	code := o.Code
	if code == errors.CodeOK {
		code = errors.CodeEngineError
	}
	return &native.ErrorInfo{Code: code, Message: o.Message, Pairs: o.Pairs}
}

// ScriptWait queues outcomes for the next waits in dir on the realm at path.
// Unscripted waits succeed.
func (e *Engine) ScriptWait(path string, dir native.ProgressDirection, outcomes ...Outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := waitKey{path: path, dir: dir}
	e.waits[key] = append(e.waits[key], outcomes...)
}

// ScriptSubscribe sets the outcome of every subscription to className.
func (e *Engine) ScriptSubscribe(className string, o Outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs[className] = o
}

// FailOpen makes GetSession and OpenWithSync for path fail with o.
func (e *Engine) FailOpen(path string, o Outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.openFail[path] = o
}

// FailConfigure makes ConfigureFileSystem fail with o. A nil o clears it.
func (e *Engine) FailConfigure(o *Outcome) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.configErr = o
}

// CompleteWait delivers a wait completion for tok now.
func (e *Engine) CompleteWait(tok native.Token, o Outcome) error {
	e.mu.Lock()
	if e.sessionCB == nil {
		e.mu.Unlock()
		return errors.NotInstalled(nil)
	}
	cb := e.sessionCB.SessionWait
	e.mu.Unlock()
	if !e.pool.submit(func() { e.deliverWait(cb, tok, o) }) {
		return errors.Closed(errors.PhaseHost, "loopback engine")
	}
	return nil
}

// CompleteSubscription delivers a subscription completion for tok now.
func (e *Engine) CompleteSubscription(tok native.Token, className string, o Outcome) error {
	e.mu.Lock()
	if e.managerCB == nil {
		e.mu.Unlock()
		return errors.NotInstalled(nil)
	}
	cb := e.managerCB.Subscribe
	e.mu.Unlock()
	if !e.pool.submit(func() { e.deliverSubscription(cb, tok, className, o) }) {
		return errors.Closed(errors.PhaseHost, "loopback engine")
	}
	return nil
}

// InjectSessionError reports o as a session error on the session behind h.
func (e *Engine) InjectSessionError(h native.SessionHandle, o Outcome) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.session(h); err != nil {
		return err
	}
	if e.sessionCB == nil {
		return errors.NotInstalled(nil)
	}
	cb := e.sessionCB.SessionError
	if !e.serial.submit(func() { e.deliverSessionError(cb, h, o) }) {
		return errors.Closed(errors.PhaseHost, "loopback engine")
	}
	return nil
}

func (e *Engine) deliverSessionError(cb native.SessionErrorFunc, h native.SessionHandle, o Outcome) {
	pairs, err := abi.EncodePairs(e.arena, e.arena, o.Pairs)
	if err != nil {
		e.log.Error("encode session error pairs", zap.Error(err))
		return
	}
	defer pairs.Release()
	ptr, n, err := abi.EncodeString(e.arena, e.arena, o.Message)
	if err != nil {
		e.log.Error("encode session error message", zap.Error(err))
		return
	}
	defer e.arena.Free(ptr, n, 1)
	cb(e.arena, h, int32(o.Code), ptr, n, pairs.Ptr, uint32(pairs.Count))
}

// InjectClientReset schedules a recovery file action for the session's
// realm and reports a diverging histories error naming both paths. It
// returns the recovery path.
func (e *Engine) InjectClientReset(h native.SessionHandle) (string, error) {
	e.mu.Lock()
	s, err := e.session(h)
	if err != nil {
		e.mu.Unlock()
		return "", err
	}
	if e.fsConfig == nil {
		e.mu.Unlock()
		return "", e.requireConfigured()
	}
	recovery := filepath.Join(e.fsConfig.BasePath, "recovered-realms", uuid.NewString()+".realm")
	e.actions[s.path] = recovery
	original := s.path
	e.mu.Unlock()

	return recovery, e.InjectSessionError(h, Fail(errors.CodeDivergingHistories,
		"bad client file identifier",
		errors.Pair{Key: errors.KeyOriginalFilePath, Value: original},
		errors.Pair{Key: errors.KeyRecoveryFilePath, Value: recovery},
	))
}

// InjectProgress reports progress to every notifier in dir on the session
// behind h. Notifiers for outstanding work are dropped once transferred
// reaches transferable.
func (e *Engine) InjectProgress(h native.SessionHandle, dir native.ProgressDirection, transferred, transferable uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.session(h)
	if err != nil {
		return err
	}
	if e.sessionCB == nil {
		return errors.NotInstalled(nil)
	}
	cb := e.sessionCB.SessionProgress
	for id, n := range s.notifiers {
		if n.dir != dir {
			continue
		}
		tok := n.token
		e.serial.submit(func() { cb(tok, transferred, transferable) })
		if n.mode == native.ProgressForCurrentlyOutstandingWork && transferred >= transferable {
			delete(s.notifiers, id)
		}
	}
	return nil
}

// RequestRefresh asks for a new access token for the session behind h. The
// callback receives a new handle to the same session.
func (e *Engine) RequestRefresh(h native.SessionHandle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.session(h)
	if err != nil {
		return err
	}
	if e.sessionCB == nil {
		return errors.NotInstalled(nil)
	}
	ref := native.SessionHandle(e.nextHandle())
	e.handles[ref] = s
	s.refs++
	cb := e.sessionCB.RefreshAccessToken
	if !e.serial.submit(func() { cb(ref) }) {
		return errors.Closed(errors.PhaseHost, "loopback engine")
	}
	return nil
}

// EmitLog sends a log line through the log callback if level passes the
// current log level.
func (e *Engine) EmitLog(level native.LogLevel, format string, args ...any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logf(level, format, args...)
}

// Flush waits until every queued callback has run.
func (e *Engine) Flush() {
	e.pool.flush()
	e.serial.flush()
}

// Calls returns how many times op was called, by its snake_case name.
func (e *Engine) Calls(op string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[op]
}

// FileSystemConfig returns the applied file system configuration.
func (e *Engine) FileSystemConfig() (native.FileSystemConfig, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fsConfig == nil {
		return native.FileSystemConfig{}, false
	}
	return *e.fsConfig, true
}

// AccessToken returns the last access token pushed for the realm at path.
func (e *Engine) AccessToken(path string) (token, serverPath string, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.byPath[path]
	if !ok {
		return "", "", false
	}
	return s.accessToken, s.serverPath, true
}

// OpenHandles returns the number of live session, realm and results handles.
func (e *Engine) OpenHandles() (sessions, realms, results int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.handles), len(e.realms), len(e.results)
}

// Memory returns the arena callbacks read from.
func (e *Engine) Memory() *abi.Arena {
	return e.arena
}
