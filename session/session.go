package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/realm-sync-bridge/bridge"
	"github.com/wippyai/realm-sync-bridge/config"
	"github.com/wippyai/realm-sync-bridge/errors"
	"github.com/wippyai/realm-sync-bridge/native"
	"github.com/wippyai/realm-sync-bridge/syncmanager"
	"github.com/wippyai/realm-sync-bridge/token"
)

// ErrorHandler receives errors reported for one session.
type ErrorHandler func(*Session, *errors.SessionError)

// Session is an open sync session.
type Session struct {
	m          *syncmanager.Manager
	log        *zap.Logger
	unregister func()
	progress   map[native.Token]*progressSub
	path       string
	handle     native.SessionHandle
	mu         sync.Mutex
	waiting    bool
	closed     bool
}

type progressSub struct {
	notifier native.NotifierToken
	id       native.Token
	once     sync.Once
}

// Open runs the configuration gate, validates cfg and opens a session for
// the realm at path.
func Open(ctx context.Context, m *syncmanager.Manager, path string, cfg *config.SyncConfiguration, key []byte) (*Session, error) {
	if err := m.EnsureConfiguredWithDefaults(ctx); err != nil {
		return nil, err
	}
	nc, err := cfg.ToNative(m.Fs())
	if err != nil {
		return nil, err
	}
	h, err := m.GetSession(ctx, path, nc, key)
	if err != nil {
		return nil, err
	}

	s := &Session{
		m:        m,
		log:      m.Logger().With(zap.String("path", path)),
		path:     path,
		handle:   h,
		progress: make(map[native.Token]*progressSub),
	}
	s.unregister = m.Registry().RegisterSession(h, path, nil)
	s.log.Debug("session opened", zap.Uint64("session", uint64(h)))
	return s, nil
}

// Path returns the local realm path.
func (s *Session) Path() string { return s.path }

// Handle returns the engine session handle.
func (s *Session) Handle() native.SessionHandle { return s.handle }

// OnError routes errors reported for this session to h. A nil h restores
// the manager-wide handler.
func (s *Session) OnError(h ErrorHandler) {
	if h == nil {
		s.m.Registry().SetSessionErrorHandler(s.handle, nil)
		return
	}
	metrics := s.m.Metrics()
	s.m.Registry().SetSessionErrorHandler(s.handle, func(_ bridge.SessionRef, err *errors.SessionError) {
		metrics.RecordError(context.Background(), err)
		h(s, err)
	})
}

// WaitForDownload blocks until all server changes known at the time of the
// call are downloaded.
func (s *Session) WaitForDownload(ctx context.Context) error {
	return s.wait(ctx, "download", s.m.Engine().WaitForDownload)
}

// WaitForUpload blocks until all local changes made before the call are
// uploaded.
func (s *Session) WaitForUpload(ctx context.Context) error {
	return s.wait(ctx, "upload", s.m.Engine().WaitForUpload)
}

type startFunc func(ctx context.Context, session native.SessionHandle, id native.Token) error

func (s *Session) wait(ctx context.Context, direction string, start startFunc) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return errors.Closed(errors.PhaseWait, "session")
	case s.waiting:
		s.mu.Unlock()
		return errors.WaitInProgress(s.path)
	}
	s.waiting = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.waiting = false
		s.mu.Unlock()
	}()

	began := time.Now()
	f := token.NewFuture[struct{}](s.m.Tokens())
	err := start(ctx, s.handle, f.ID())
	if err != nil {
		f.Cancel()
		var info *native.ErrorInfo
		if stderrors.As(err, &info) {
			err = &errors.WaitFailure{Err: info.Session()}
		} else {
			err = fmt.Errorf("wait for %s: %w", direction, err)
		}
	} else {
		_, err = f.Wait(ctx)
	}

	s.m.Metrics().RecordWait(ctx, direction, time.Since(began), err == nil)
	if err != nil {
		s.log.Debug("wait failed", zap.String("direction", direction), zap.Error(err))
	}
	return err
}

// SubscribeProgress registers fn for progress updates in direction. The
// returned function unregisters it and is safe to call more than once.
func (s *Session) SubscribeProgress(ctx context.Context, dir native.ProgressDirection, mode native.ProgressMode, fn token.Listener) (func(), error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.Closed(errors.PhaseSession, "session")
	}
	s.mu.Unlock()

	tokens := s.m.Tokens()
	id := tokens.Listen(fn)
	if id == 0 {
		return nil, errors.Closed(errors.PhaseSession, "token store")
	}
	n, err := s.m.Engine().RegisterProgressNotifier(ctx, s.handle, id, dir, mode)
	if err != nil {
		tokens.Release(id)
		var info *native.ErrorInfo
		if stderrors.As(err, &info) {
			return nil, info.Session()
		}
		return nil, fmt.Errorf("register %s progress notifier: %w", dir, err)
	}

	sub := &progressSub{notifier: n, id: id}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.unsubscribe(context.Background(), sub)
		return nil, errors.Closed(errors.PhaseSession, "session")
	}
	s.progress[id] = sub
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.progress, id)
		s.mu.Unlock()
		s.unsubscribe(context.Background(), sub)
	}, nil
}

func (s *Session) unsubscribe(ctx context.Context, sub *progressSub) {
	sub.once.Do(func() {
		if err := s.m.Engine().UnregisterProgressNotifier(ctx, s.handle, sub.notifier); err != nil {
			s.log.Warn("unregister progress notifier", zap.Error(err))
		}
		s.m.Tokens().Release(sub.id)
	})
}

// Info returns what the engine knows about the session.
func (s *Session) Info(ctx context.Context) (native.SessionInfo, error) {
	if s.isClosed() {
		return native.SessionInfo{}, errors.Closed(errors.PhaseSession, "session")
	}
	info, err := s.m.Engine().SessionInfo(ctx, s.handle)
	if err != nil {
		return native.SessionInfo{}, fmt.Errorf("session info: %w", err)
	}
	return info, nil
}

// State reports whether the session is active.
func (s *Session) State(ctx context.Context) (native.SessionState, error) {
	info, err := s.Info(ctx)
	if err != nil {
		return native.SessionInactive, err
	}
	return info.State, nil
}

// Close releases the session handle. It fails while a wait is outstanding,
// and a second call returns a closed error without reaching the engine.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.Closed(errors.PhaseSession, "session")
	}
	if s.waiting {
		s.mu.Unlock()
		return errors.New(errors.PhaseSession, errors.KindWaitInProgress).
			Path(s.path).
			Detail("cannot close a session with an outstanding wait").
			Build()
	}
	s.closed = true
	subs := s.progress
	s.progress = nil
	s.mu.Unlock()

	for _, sub := range subs {
		s.unsubscribe(ctx, sub)
	}
	s.unregister()
	if err := s.m.Engine().CloseSession(ctx, s.handle); err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	s.log.Debug("session closed")
	return nil
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// DownloadAndOpen opens a session for realm, waits until the server state
// is downloaded, closes the session and opens the realm.
func DownloadAndOpen(ctx context.Context, m *syncmanager.Manager, realm native.RealmConfig, cfg *config.SyncConfiguration) (*syncmanager.Realm, error) {
	s, err := Open(ctx, m, realm.Path, cfg, realm.EncryptionKey)
	if err != nil {
		return nil, err
	}
	werr := s.WaitForDownload(ctx)
	if cerr := s.Close(ctx); cerr != nil && werr == nil {
		return nil, cerr
	}
	if werr != nil {
		return nil, werr
	}
	nc, err := cfg.ToNative(m.Fs())
	if err != nil {
		return nil, err
	}
	return m.OpenWithSync(ctx, realm, nc)
}
