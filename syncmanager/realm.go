package syncmanager

import (
	"context"
	"sync/atomic"

	"github.com/wippyai/realm-sync-bridge/errors"
	"github.com/wippyai/realm-sync-bridge/native"
)

// Realm is an open synchronized realm.
type Realm struct {
	m      *Manager
	path   string
	handle native.RealmHandle
	closed atomic.Bool
}

// Handle returns the engine handle.
func (r *Realm) Handle() native.RealmHandle { return r.handle }

// Path returns the local realm path.
func (r *Realm) Path() string { return r.path }

// Subscribe is SubscribeForObjects on the realm's manager.
func (r *Realm) Subscribe(ctx context.Context, className, query string) (*Results, error) {
	return r.m.SubscribeForObjects(ctx, r, className, query)
}

// Close releases the realm handle. A second Close returns a closed error.
func (r *Realm) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return errors.Closed(errors.PhaseOpen, "realm")
	}
	return r.m.engine.CloseRealm(ctx, r.handle)
}

// Results references the objects matched by a subscription.
type Results struct {
	m      *Manager
	handle native.ResultsHandle
	closed atomic.Bool
}

// Handle returns the engine results handle.
func (r *Results) Handle() native.ResultsHandle { return r.handle }

// Close releases the results handle. A second Close returns a closed error.
func (r *Results) Close(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return errors.Closed(errors.PhaseSubscribe, "results")
	}
	return r.m.engine.CloseResults(ctx, r.handle)
}
