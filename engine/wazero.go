package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/realm-sync-bridge/abi"
	"github.com/wippyai/realm-sync-bridge/errors"
	"github.com/wippyai/realm-sync-bridge/native"
)

// Config holds configuration for engine creation
type Config struct {
	// Logger overrides the package logger.
	Logger *zap.Logger

	// Name is the guest module name. Empty means anonymous.
	Name string

	// PollInterval is how often realm_sync_poll is called. 0 disables the
	// poll worker.
	PollInterval time.Duration

	// MemoryLimitPages sets the maximum guest memory in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32
}

// WazeroEngine implements native.Engine for a guest sync engine running
// under wazero.
type WazeroEngine struct {
	runtime wazero.Runtime
	guest   api.Module
	memory  *WazeroMemory
	alloc   *wazeroAllocator
	log     *zap.Logger
	session atomic.Pointer[native.SessionCallbacks]
	manager atomic.Pointer[native.ManagerCallbacks]
	cancel  context.CancelFunc
	done    chan struct{}
	callMu  sync.Mutex
	closed  atomic.Bool
}

var _ native.Engine = (*WazeroEngine)(nil)

// New compiles and instantiates the guest engine in wasm.
func New(ctx context.Context, wasm []byte, cfg *Config) (*WazeroEngine, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}

	e := &WazeroEngine{
		runtime: wazero.NewRuntimeWithConfig(ctx, runtimeCfg),
		log:     cfg.Logger,
	}
	if e.log == nil {
		e.log = Logger()
	}

	if err := e.instantiateHost(ctx); err != nil {
		_ = e.runtime.Close(ctx)
		return nil, err
	}

	compiled, err := e.runtime.CompileModule(ctx, wasm)
	if err != nil {
		_ = e.runtime.Close(ctx)
		return nil, errors.Load("compile guest engine", err)
	}
	guest, err := e.runtime.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(cfg.Name))
	if err != nil {
		_ = e.runtime.Close(ctx)
		return nil, errors.Instantiation(err)
	}
	e.guest = guest

	mem := guest.Memory()
	if mem == nil {
		_ = e.runtime.Close(ctx)
		return nil, errors.Instantiation(fmt.Errorf("guest exports no memory"))
	}
	e.memory = &WazeroMemory{mem: mem}

	allocFn := guest.ExportedFunction(allocExport)
	if allocFn == nil {
		_ = e.runtime.Close(ctx)
		return nil, errors.Instantiation(fmt.Errorf("guest does not export %s", allocExport))
	}
	e.alloc = &wazeroAllocator{
		allocFn:  allocFn,
		freeFn:   guest.ExportedFunction(freeExport),
		stackBuf: make([]uint64, 4),
	}

	if cfg.PollInterval > 0 && guest.ExportedFunction(ExportName(opPoll)) != nil {
		pollCtx, cancel := context.WithCancel(context.Background())
		e.cancel = cancel
		e.done = make(chan struct{})
		go e.pollLoop(pollCtx, cfg.PollInterval)
	}
	debugf("guest engine instantiated: poll=%v", cfg.PollInterval)
	return e, nil
}

func (e *WazeroEngine) pollLoop(ctx context.Context, interval time.Duration) {
	defer close(e.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := e.Poll(ctx); err != nil && ctx.Err() == nil {
				e.log.Warn("poll guest engine", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}

// Poll gives the guest a chance to deliver pending completions and returns
// the number it reported.
func (e *WazeroEngine) Poll(ctx context.Context) (int, error) {
	c, err := e.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer c.end()
	res, err := c.invoke(opPoll)
	if err != nil {
		return 0, err
	}
	return int(api.DecodeI32(res[0])), nil
}

// Memory returns the guest memory.
func (e *WazeroEngine) Memory() *WazeroMemory {
	return e.memory
}

func (e *WazeroEngine) InstallSessionCallbacks(_ context.Context, cb native.SessionCallbacks) error {
	if cb.SessionWait == nil || cb.SessionError == nil || cb.SessionProgress == nil || cb.RefreshAccessToken == nil {
		return errors.InvalidInput(errors.PhaseInstall, "every session callback is required")
	}
	if !e.session.CompareAndSwap(nil, &cb) {
		return errors.Registration(errors.PhaseInstall, HostModule, "session callbacks", fmt.Errorf("already installed"))
	}
	return nil
}

func (e *WazeroEngine) InstallManagerCallbacks(_ context.Context, cb native.ManagerCallbacks) error {
	if cb.Subscribe == nil {
		return errors.InvalidInput(errors.PhaseInstall, "subscribe callback is required")
	}
	if !e.manager.CompareAndSwap(nil, &cb) {
		return errors.Registration(errors.PhaseInstall, HostModule, "manager callbacks", fmt.Errorf("already installed"))
	}
	return nil
}

func (e *WazeroEngine) ConfigureFileSystem(ctx context.Context, cfg native.FileSystemConfig) error {
	c, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer c.end()

	basePtr, baseLen, err := c.str(cfg.BasePath)
	if err != nil {
		return err
	}
	keyPtr, keyLen, err := c.bytes(cfg.EncryptionKey)
	if err != nil {
		return err
	}
	mode := int32(-1)
	if cfg.PersistenceMode != nil {
		mode = int32(*cfg.PersistenceMode)
	}
	errPtr, err := c.errRecord()
	if err != nil {
		return err
	}
	if _, err := c.invoke(opConfigureFileSystem, basePtr, baseLen, api.EncodeI32(mode), keyPtr, keyLen, boolArg(cfg.ResetMetadataOnError), errPtr); err != nil {
		return err
	}
	return c.check()
}

func (e *WazeroEngine) ResetForTesting(ctx context.Context) error {
	c, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer c.end()
	errPtr, err := c.errRecord()
	if err != nil {
		return err
	}
	if _, err := c.invoke(opResetForTesting, errPtr); err != nil {
		return err
	}
	return c.check()
}

func (e *WazeroEngine) GetSession(ctx context.Context, path string, cfg native.SyncConfig, key []byte) (native.SessionHandle, error) {
	c, err := e.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer c.end()

	pathPtr, pathLen, err := c.str(path)
	if err != nil {
		return 0, err
	}
	cfgPtr, err := c.syncConfig(cfg)
	if err != nil {
		return 0, err
	}
	keyPtr, keyLen, err := c.bytes(key)
	if err != nil {
		return 0, err
	}
	errPtr, err := c.errRecord()
	if err != nil {
		return 0, err
	}
	res, err := c.invoke(opGetSession, pathPtr, pathLen, cfgPtr, keyPtr, keyLen, errPtr)
	if err != nil {
		return 0, err
	}
	if err := c.check(); err != nil {
		return 0, err
	}
	return native.SessionHandle(res[0]), nil
}

func (e *WazeroEngine) OpenWithSync(ctx context.Context, realm native.RealmConfig, cfg native.SyncConfig) (native.RealmHandle, error) {
	c, err := e.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer c.end()

	pathPtr, pathLen, err := c.str(realm.Path)
	if err != nil {
		return 0, err
	}
	keyPtr, keyLen, err := c.bytes(realm.EncryptionKey)
	if err != nil {
		return 0, err
	}
	cfgPtr, err := c.syncConfig(cfg)
	if err != nil {
		return 0, err
	}
	errPtr, err := c.errRecord()
	if err != nil {
		return 0, err
	}
	res, err := c.invoke(opOpenWithSync, pathPtr, pathLen, keyPtr, keyLen, realm.SchemaVersion, boolArg(realm.EnableCache), cfgPtr, errPtr)
	if err != nil {
		return 0, err
	}
	if err := c.check(); err != nil {
		return 0, err
	}
	return native.RealmHandle(res[0]), nil
}

func (e *WazeroEngine) GetPathForRealm(ctx context.Context, user, url string) (string, error) {
	c, err := e.begin(ctx)
	if err != nil {
		return "", err
	}
	defer c.end()

	userPtr, userLen, err := c.str(user)
	if err != nil {
		return "", err
	}
	urlPtr, urlLen, err := c.str(url)
	if err != nil {
		return "", err
	}
	out, err := c.record(stringRefSize)
	if err != nil {
		return "", err
	}
	errPtr, err := c.errRecord()
	if err != nil {
		return "", err
	}
	if _, err := c.invoke(opGetPathForRealm, userPtr, userLen, urlPtr, urlLen, out, errPtr); err != nil {
		return "", err
	}
	if err := c.check(); err != nil {
		return "", err
	}
	return c.readString(api.DecodeU32(out))
}

func (e *WazeroEngine) WaitForDownload(ctx context.Context, session native.SessionHandle, token native.Token) error {
	return e.wait(ctx, opWaitForDownload, session, token)
}

func (e *WazeroEngine) WaitForUpload(ctx context.Context, session native.SessionHandle, token native.Token) error {
	return e.wait(ctx, opWaitForUpload, session, token)
}

func (e *WazeroEngine) wait(ctx context.Context, op string, session native.SessionHandle, token native.Token) error {
	c, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer c.end()
	errPtr, err := c.errRecord()
	if err != nil {
		return err
	}
	if _, err := c.invoke(op, uint64(session), uint64(token), errPtr); err != nil {
		return err
	}
	return c.check()
}

func (e *WazeroEngine) RegisterProgressNotifier(ctx context.Context, session native.SessionHandle, token native.Token, dir native.ProgressDirection, mode native.ProgressMode) (native.NotifierToken, error) {
	c, err := e.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer c.end()
	errPtr, err := c.errRecord()
	if err != nil {
		return 0, err
	}
	res, err := c.invoke(opRegisterProgress, uint64(session), uint64(token), api.EncodeU32(uint32(dir)), api.EncodeU32(uint32(mode)), errPtr)
	if err != nil {
		return 0, err
	}
	if err := c.check(); err != nil {
		return 0, err
	}
	return native.NotifierToken(res[0]), nil
}

func (e *WazeroEngine) UnregisterProgressNotifier(ctx context.Context, session native.SessionHandle, notifier native.NotifierToken) error {
	c, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer c.end()
	errPtr, err := c.errRecord()
	if err != nil {
		return err
	}
	if _, err := c.invoke(opUnregisterProgress, uint64(session), uint64(notifier), errPtr); err != nil {
		return err
	}
	return c.check()
}

func (e *WazeroEngine) RefreshAccessToken(ctx context.Context, session native.SessionHandle, accessToken, serverPath string) error {
	c, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer c.end()

	tokPtr, tokLen, err := c.str(accessToken)
	if err != nil {
		return err
	}
	spPtr, spLen, err := c.str(serverPath)
	if err != nil {
		return err
	}
	errPtr, err := c.errRecord()
	if err != nil {
		return err
	}
	if _, err := c.invoke(opRefreshAccessToken, uint64(session), tokPtr, tokLen, spPtr, spLen, errPtr); err != nil {
		return err
	}
	return c.check()
}

func (e *WazeroEngine) SessionInfo(ctx context.Context, session native.SessionHandle) (native.SessionInfo, error) {
	c, err := e.begin(ctx)
	if err != nil {
		return native.SessionInfo{}, err
	}
	defer c.end()

	out, err := c.record(sessionInfoSize)
	if err != nil {
		return native.SessionInfo{}, err
	}
	errPtr, err := c.errRecord()
	if err != nil {
		return native.SessionInfo{}, err
	}
	if _, err := c.invoke(opSessionInfo, uint64(session), out, errPtr); err != nil {
		return native.SessionInfo{}, err
	}
	if err := c.check(); err != nil {
		return native.SessionInfo{}, err
	}

	base := api.DecodeU32(out)
	var info native.SessionInfo
	for i, dst := range []*string{&info.Path, &info.User, &info.URL} {
		if *dst, err = c.readString(base + uint32(i)*stringRefSize); err != nil {
			return native.SessionInfo{}, err
		}
	}
	state, err := e.memory.ReadU32(base + 24)
	if err != nil {
		return native.SessionInfo{}, errors.OutOfBounds(errors.PhaseDecode, base+24, 4)
	}
	info.State = native.SessionState(state)
	return info, nil
}

func (e *WazeroEngine) SubscribeForObjects(ctx context.Context, realm native.RealmHandle, className, query string, token native.Token) error {
	c, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer c.end()

	classPtr, classLen, err := c.str(className)
	if err != nil {
		return err
	}
	queryPtr, queryLen, err := c.str(query)
	if err != nil {
		return err
	}
	errPtr, err := c.errRecord()
	if err != nil {
		return err
	}
	if _, err := c.invoke(opSubscribeForObjects, uint64(realm), classPtr, classLen, queryPtr, queryLen, uint64(token), errPtr); err != nil {
		return err
	}
	return c.check()
}

func (e *WazeroEngine) ImmediatelyRunFileActions(ctx context.Context, path string) (bool, error) {
	return e.fileAction(ctx, opRunFileActions, path)
}

func (e *WazeroEngine) CancelPendingFileActions(ctx context.Context, path string) (bool, error) {
	return e.fileAction(ctx, opCancelFileActions, path)
}

func (e *WazeroEngine) fileAction(ctx context.Context, op, path string) (bool, error) {
	c, err := e.begin(ctx)
	if err != nil {
		return false, err
	}
	defer c.end()

	pathPtr, pathLen, err := c.str(path)
	if err != nil {
		return false, err
	}
	errPtr, err := c.errRecord()
	if err != nil {
		return false, err
	}
	res, err := c.invoke(op, pathPtr, pathLen, errPtr)
	if err != nil {
		return false, err
	}
	if err := c.check(); err != nil {
		return false, err
	}
	return api.DecodeU32(res[0]) != 0, nil
}

func (e *WazeroEngine) SetLogLevel(ctx context.Context, level native.LogLevel) error {
	c, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer c.end()
	errPtr, err := c.errRecord()
	if err != nil {
		return err
	}
	if _, err := c.invoke(opSetLogLevel, api.EncodeI32(int32(level)), errPtr); err != nil {
		return err
	}
	return c.check()
}

func (e *WazeroEngine) GetLogLevel(ctx context.Context) (native.LogLevel, error) {
	c, err := e.begin(ctx)
	if err != nil {
		return 0, err
	}
	defer c.end()
	res, err := c.invoke(opGetLogLevel)
	if err != nil {
		return 0, err
	}
	return native.LogLevel(api.DecodeI32(res[0])), nil
}

func (e *WazeroEngine) Reconnect(ctx context.Context) error {
	return e.simple(ctx, opReconnect)
}

func (e *WazeroEngine) CloseSession(ctx context.Context, session native.SessionHandle) error {
	return e.simple(ctx, opCloseSession, uint64(session))
}

func (e *WazeroEngine) CloseRealm(ctx context.Context, realm native.RealmHandle) error {
	return e.simple(ctx, opCloseRealm, uint64(realm))
}

func (e *WazeroEngine) CloseResults(ctx context.Context, results native.ResultsHandle) error {
	return e.simple(ctx, opCloseResults, uint64(results))
}

func (e *WazeroEngine) simple(ctx context.Context, op string, args ...uint64) error {
	c, err := e.begin(ctx)
	if err != nil {
		return err
	}
	defer c.end()
	_, err = c.invoke(op, args...)
	return err
}

// Close stops the poll worker and closes the wazero runtime.
func (e *WazeroEngine) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
	e.callMu.Lock()
	defer e.callMu.Unlock()
	return e.runtime.Close(ctx)
}

// call holds the engine call lock and the guest memory written for one
// outbound call.
type call struct {
	e      *WazeroEngine
	ctx    context.Context
	blocks []block
	errPtr uint32
}

type block struct {
	ptr, size, align uint32
}

func (e *WazeroEngine) begin(ctx context.Context) (*call, error) {
	e.callMu.Lock()
	if e.closed.Load() {
		e.callMu.Unlock()
		return nil, errors.Closed(errors.PhaseHost, "engine")
	}
	e.alloc.setContext(ctx)
	return &call{e: e, ctx: ctx}, nil
}

func (c *call) end() {
	for _, b := range c.blocks {
		c.e.alloc.Free(b.ptr, b.size, b.align)
	}
	c.blocks = nil
	c.e.alloc.setContext(nil)
	c.e.callMu.Unlock()
}

func (c *call) track(ptr, size, align uint32) {
	if size > 0 {
		c.blocks = append(c.blocks, block{ptr: ptr, size: size, align: align})
	}
}

func (c *call) str(s string) (ptr, length uint64, err error) {
	p, n, err := abi.EncodeString(c.e.memory, c.e.alloc, s)
	if err != nil {
		return 0, 0, err
	}
	c.track(p, n, 1)
	return api.EncodeU32(p), api.EncodeU32(n), nil
}

func (c *call) bytes(b []byte) (ptr, length uint64, err error) {
	return c.str(string(b))
}

// record allocates a zeroed record of size bytes.
func (c *call) record(size uint32) (uint64, error) {
	p, err := c.e.alloc.Alloc(size, 4)
	if err != nil {
		return 0, errors.AllocationFailed(errors.PhaseEncode, size, 4, err)
	}
	c.track(p, size, 4)
	if err := c.e.memory.Write(p, make([]byte, size)); err != nil {
		return 0, errors.OutOfBounds(errors.PhaseEncode, p, size)
	}
	return api.EncodeU32(p), nil
}

func (c *call) errRecord() (uint64, error) {
	p, err := c.record(abi.ErrorInfoSize)
	if err != nil {
		return 0, err
	}
	c.errPtr = api.DecodeU32(p)
	return p, nil
}

func (c *call) syncConfig(cfg native.SyncConfig) (uint64, error) {
	rec, err := c.record(syncConfigSize)
	if err != nil {
		return 0, err
	}
	base := api.DecodeU32(rec)
	fields := make([]uint32, 0, syncConfigSize/4)
	for _, s := range []string{cfg.User, cfg.URL, cfg.TrustedCAPath, cfg.PartialSyncIdentifier} {
		p, n, err := c.str(s)
		if err != nil {
			return 0, err
		}
		fields = append(fields, api.DecodeU32(p), api.DecodeU32(n))
	}
	fields = append(fields, uint32(boolArg(cfg.ValidateSSL)), uint32(boolArg(cfg.IsPartial)))
	for i, v := range fields {
		if err := c.e.memory.WriteU32(base+uint32(i)*4, v); err != nil {
			return 0, errors.OutOfBounds(errors.PhaseEncode, base, syncConfigSize)
		}
	}
	return rec, nil
}

// readString decodes the (ptr, len) pair stored at ref.
func (c *call) readString(ref uint32) (string, error) {
	p, err := c.e.memory.ReadU32(ref)
	if err != nil {
		return "", errors.OutOfBounds(errors.PhaseDecode, ref, stringRefSize)
	}
	n, err := c.e.memory.ReadU32(ref + 4)
	if err != nil {
		return "", errors.OutOfBounds(errors.PhaseDecode, ref, stringRefSize)
	}
	return abi.DecodeString(c.e.memory, p, n)
}

func (c *call) invoke(op string, args ...uint64) ([]uint64, error) {
	name := ExportName(op)
	fn := c.e.guest.ExportedFunction(name)
	if fn == nil {
		return nil, errors.Unsupported(errors.PhaseHost, name)
	}
	res, err := fn.Call(c.ctx, args...)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", name, err)
	}
	return res, nil
}

// check decodes the error record written by the guest.
func (c *call) check() error {
	info, err := abi.DecodeErrorInfo(c.e.memory, c.errPtr)
	if err != nil {
		return err
	}
	if info.Code == errors.CodeOK {
		return nil
	}
	ni := native.ErrorInfo(info)
	return &ni
}

func boolArg(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}
