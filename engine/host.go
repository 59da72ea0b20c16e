package engine

import (
	"context"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/realm-sync-bridge/errors"
	"github.com/wippyai/realm-sync-bridge/native"
)

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

type hostFunc struct {
	fn      api.GoModuleFunc
	name    string
	params  []api.ValueType
	results []api.ValueType
}

func (e *WazeroEngine) hostFuncs() []hostFunc {
	return []hostFunc{
		{name: importSessionWait, fn: e.hostSessionWait, params: []api.ValueType{i64, i32, i32, i32}},
		{name: importSessionError, fn: e.hostSessionError, params: []api.ValueType{i64, i32, i32, i32, i32, i32}},
		{name: importSessionProgress, fn: e.hostSessionProgress, params: []api.ValueType{i64, i64, i64}},
		{name: importRefreshToken, fn: e.hostRefreshAccessToken, params: []api.ValueType{i64}},
		{name: importSubscribe, fn: e.hostSubscribe, params: []api.ValueType{i64, i64, i32}},
		{name: importLog, fn: e.hostLog, params: []api.ValueType{i32, i32, i32}},
	}
}

// instantiateHost registers the entry point imports. They dispatch to the
// installed callbacks, so installation can happen after the guest starts.
func (e *WazeroEngine) instantiateHost(ctx context.Context) error {
	builder := e.runtime.NewHostModuleBuilder(HostModule)
	for _, hf := range e.hostFuncs() {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(hf.fn, hf.params, hf.results).
			WithName(hf.name).
			Export(hf.name)
	}
	if _, err := builder.Instantiate(ctx); err != nil {
		return errors.Registration(errors.PhaseHost, HostModule, "entry points", err)
	}
	return nil
}

func memoryOf(mod api.Module) *WazeroMemory {
	return &WazeroMemory{mem: mod.Memory()}
}

func (e *WazeroEngine) sessionCallbacks(entry string) *native.SessionCallbacks {
	cb := e.session.Load()
	if cb == nil {
		e.log.Warn("entry point invoked before installation", zap.String("entry", entry))
	}
	return cb
}

func (e *WazeroEngine) hostSessionWait(_ context.Context, mod api.Module, stack []uint64) {
	if cb := e.sessionCallbacks(importSessionWait); cb != nil {
		cb.SessionWait(memoryOf(mod),
			native.Token(stack[0]),
			api.DecodeI32(stack[1]),
			api.DecodeU32(stack[2]),
			api.DecodeU32(stack[3]))
	}
}

func (e *WazeroEngine) hostSessionError(_ context.Context, mod api.Module, stack []uint64) {
	if cb := e.sessionCallbacks(importSessionError); cb != nil {
		cb.SessionError(memoryOf(mod),
			native.SessionHandle(stack[0]),
			api.DecodeI32(stack[1]),
			api.DecodeU32(stack[2]),
			api.DecodeU32(stack[3]),
			api.DecodeU32(stack[4]),
			api.DecodeU32(stack[5]))
	}
}

func (e *WazeroEngine) hostSessionProgress(_ context.Context, _ api.Module, stack []uint64) {
	if cb := e.sessionCallbacks(importSessionProgress); cb != nil {
		cb.SessionProgress(native.Token(stack[0]), stack[1], stack[2])
	}
}

func (e *WazeroEngine) hostRefreshAccessToken(_ context.Context, _ api.Module, stack []uint64) {
	if cb := e.sessionCallbacks(importRefreshToken); cb != nil {
		cb.RefreshAccessToken(native.SessionHandle(stack[0]))
	}
}

func (e *WazeroEngine) hostSubscribe(_ context.Context, mod api.Module, stack []uint64) {
	cb := e.manager.Load()
	if cb == nil {
		e.log.Warn("entry point invoked before installation", zap.String("entry", importSubscribe))
		return
	}
	cb.Subscribe(memoryOf(mod),
		native.ResultsHandle(stack[0]),
		native.Token(stack[1]),
		api.DecodeU32(stack[2]))
}

func (e *WazeroEngine) hostLog(_ context.Context, mod api.Module, stack []uint64) {
	cb := e.manager.Load()
	if cb == nil || cb.Log == nil {
		return
	}
	cb.Log(memoryOf(mod),
		native.LogLevel(api.DecodeI32(stack[0])),
		api.DecodeU32(stack[1]),
		api.DecodeU32(stack[2]))
}
