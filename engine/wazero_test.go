package engine

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	syncbridge "github.com/wippyai/realm-sync-bridge"
	"github.com/wippyai/realm-sync-bridge/abi"
	"github.com/wippyai/realm-sync-bridge/config"
	"github.com/wippyai/realm-sync-bridge/errors"
	"github.com/wippyai/realm-sync-bridge/native"
	"github.com/wippyai/realm-sync-bridge/session"
	"github.com/wippyai/realm-sync-bridge/syncmanager"
)

func newGuest(t *testing.T, cfg *Config) *WazeroEngine {
	t.Helper()
	ctx := context.Background()
	e, err := New(ctx, guestModule(), cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = e.Close(ctx) })
	return e
}

type waitRecord struct {
	msg    string
	token  native.Token
	status int32
}

type rawCallbacks struct {
	mu    sync.Mutex
	waits []waitRecord
	logs  []string
}

func (r *rawCallbacks) install(t *testing.T, e *WazeroEngine) {
	t.Helper()
	ctx := context.Background()
	err := e.InstallSessionCallbacks(ctx, native.SessionCallbacks{
		SessionWait: func(mem syncbridge.Memory, tok native.Token, status int32, ptr, n uint32) {
			msg, _ := abi.DecodeString(mem, ptr, n)
			r.mu.Lock()
			r.waits = append(r.waits, waitRecord{token: tok, status: status, msg: msg})
			r.mu.Unlock()
		},
		SessionError:       func(syncbridge.Memory, native.SessionHandle, int32, uint32, uint32, uint32, uint32) {},
		SessionProgress:    func(native.Token, uint64, uint64) {},
		RefreshAccessToken: func(native.SessionHandle) {},
	})
	if err != nil {
		t.Fatalf("install session callbacks: %v", err)
	}
	err = e.InstallManagerCallbacks(ctx, native.ManagerCallbacks{
		Subscribe: func(syncbridge.Memory, native.ResultsHandle, native.Token, uint32) {},
		Log: func(mem syncbridge.Memory, _ native.LogLevel, ptr, n uint32) {
			msg, _ := abi.DecodeString(mem, ptr, n)
			r.mu.Lock()
			r.logs = append(r.logs, msg)
			r.mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("install manager callbacks: %v", err)
	}
}

func TestNew_InvalidModule(t *testing.T) {
	_, err := New(context.Background(), []byte("not wasm"), nil)
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Phase != errors.PhaseLoad {
		t.Fatalf("expected load error, got %v", err)
	}
}

func TestNew_MissingAllocator(t *testing.T) {
	// Module with only a memory export.
	mod := cat(
		[]byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00},
		section(5, vec([]byte{0x00, 0x01})),
		section(7, vec(cat(wasmName("memory"), []byte{0x02, 0x00}))),
	)
	_, err := New(context.Background(), mod, nil)
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindInstantiation {
		t.Fatalf("expected instantiation error, got %v", err)
	}
}

func TestInstallOnce(t *testing.T) {
	e := newGuest(t, nil)
	(&rawCallbacks{}).install(t, e)

	err := e.InstallManagerCallbacks(context.Background(), native.ManagerCallbacks{
		Subscribe: func(syncbridge.Memory, native.ResultsHandle, native.Token, uint32) {},
	})
	var re *errors.Error
	if !stderrors.As(err, &re) || re.Kind != errors.KindRegistration {
		t.Fatalf("expected registration error, got %v", err)
	}
}

func TestConfigureFileSystem(t *testing.T) {
	e := newGuest(t, nil)
	ctx := context.Background()

	if err := e.ConfigureFileSystem(ctx, native.FileSystemConfig{BasePath: "/base"}); err != nil {
		t.Fatalf("configure failed: %v", err)
	}

	mode := native.PersistenceEncrypted
	err := e.ConfigureFileSystem(ctx, native.FileSystemConfig{BasePath: "/base", PersistenceMode: &mode, EncryptionKey: []byte("k")})
	var info *native.ErrorInfo
	if !stderrors.As(err, &info) {
		t.Fatalf("expected engine error, got %v", err)
	}
	if info.Code != errors.CodeMismatchedConfig || info.Message != "" || len(info.Pairs) != 0 {
		t.Errorf("unexpected error info: %+v", info)
	}
}

func TestWaitCallbacks(t *testing.T) {
	e := newGuest(t, nil)
	r := &rawCallbacks{}
	r.install(t, e)
	ctx := context.Background()

	h, err := e.GetSession(ctx, "/base/a.realm", native.SyncConfig{User: "alice", URL: "realm://host/~/a", ValidateSSL: true}, nil)
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	if h != 42 {
		t.Fatalf("expected handle 42, got %d", h)
	}
	if err := e.WaitForDownload(ctx, h, 7); err != nil {
		t.Fatalf("wait for download failed: %v", err)
	}
	if err := e.WaitForUpload(ctx, h, 8); err != nil {
		t.Fatalf("wait for upload failed: %v", err)
	}

	want := []waitRecord{{token: 7}, {token: 8, status: 5, msg: "sync failed"}}
	if len(r.waits) != len(want) {
		t.Fatalf("expected %d waits, got %v", len(want), r.waits)
	}
	for i := range want {
		if r.waits[i] != want[i] {
			t.Errorf("wait %d: expected %+v, got %+v", i, want[i], r.waits[i])
		}
	}
}

func TestLogLevel(t *testing.T) {
	e := newGuest(t, nil)
	r := &rawCallbacks{}
	r.install(t, e)
	ctx := context.Background()

	if err := e.SetLogLevel(ctx, native.LogDebug); err != nil {
		t.Fatalf("set log level failed: %v", err)
	}
	lvl, err := e.GetLogLevel(ctx)
	if err != nil || lvl != native.LogDebug {
		t.Fatalf("expected debug, got %v (%v)", lvl, err)
	}
	if len(r.logs) != 1 || r.logs[0] != "hello" {
		t.Errorf("expected one log line, got %v", r.logs)
	}
}

func TestUnsupportedOperation(t *testing.T) {
	e := newGuest(t, nil)
	err := e.Reconnect(context.Background())
	var ue *errors.Error
	if !stderrors.As(err, &ue) || ue.Kind != errors.KindUnsupported {
		t.Fatalf("expected unsupported error, got %v", err)
	}
}

func TestEntryPointBeforeInstall(t *testing.T) {
	e := newGuest(t, nil)
	ctx := context.Background()
	// The guest calls session_wait; without callbacks it is dropped.
	if err := e.WaitForDownload(ctx, 42, 1); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
}

func TestPollWorker(t *testing.T) {
	e := newGuest(t, &Config{PollInterval: time.Millisecond})
	ctx := context.Background()

	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := e.Poll(ctx)
		if err != nil {
			t.Fatalf("poll failed: %v", err)
		}
		if n >= 5 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("poll worker not running, count %d", n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	e, err := New(ctx, guestModule(), &Config{PollInterval: time.Millisecond})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := e.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := e.Close(ctx); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	_, err = e.GetLogLevel(ctx)
	var ce *errors.Error
	if !stderrors.As(err, &ce) || ce.Kind != errors.KindClosed {
		t.Fatalf("expected closed error, got %v", err)
	}
}

func TestSessionOverGuest(t *testing.T) {
	e := newGuest(t, nil)
	ctx := context.Background()

	m, err := syncmanager.New(ctx, e, syncmanager.Options{
		Fs:       afero.NewMemMapFs(),
		Defaults: config.FileSystem{BasePath: "/base"},
	})
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	defer m.Close()

	cfg, err := config.NewSyncConfiguration("alice", "realms://sync.example.com/~/notes")
	if err != nil {
		t.Fatal(err)
	}
	s, err := session.Open(ctx, m, "/base/notes.realm", cfg, nil)
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	if err := s.WaitForDownload(ctx); err != nil {
		t.Fatalf("download: %v", err)
	}

	err = s.WaitForUpload(ctx)
	var wf *errors.WaitFailure
	if !stderrors.As(err, &wf) {
		t.Fatalf("expected WaitFailure, got %v", err)
	}
	if wf.Err.Message != "sync failed" || wf.Err.Code != errors.CodeFileNotFound {
		t.Errorf("unexpected session error: %+v", wf.Err)
	}
	if m.Tokens().Pending() != 0 {
		t.Errorf("expected no pending tokens, got %d", m.Tokens().Pending())
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	mode := native.PersistenceEncrypted
	err = m.Configure(ctx, native.FileSystemConfig{BasePath: "/base", PersistenceMode: &mode})
	var ce *errors.ConfigurationError
	if !stderrors.As(err, &ce) || ce.Err.Code != errors.CodeMismatchedConfig {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
