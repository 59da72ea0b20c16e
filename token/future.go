package token

import (
	"context"
	"fmt"
	"sync"

	"github.com/wippyai/realm-sync-bridge/errors"
	"github.com/wippyai/realm-sync-bridge/native"
)

// Future is a completion token whose outcome is delivered over a channel.
type Future[T any] struct {
	value T
	err   error
	store *Store
	done  chan struct{}
	once  sync.Once
	id    native.Token
}

// NewFuture creates a future and registers it in store.
func NewFuture[T any](store *Store) *Future[T] {
	f := &Future[T]{store: store, done: make(chan struct{})}
	f.id = store.Create(f)
	if f.id == 0 {
		f.Complete(nil, errors.Closed(errors.PhaseWait, "token store"))
	}
	return f
}

// ID returns the token id to hand to the engine.
func (f *Future[T]) ID() native.Token {
	return f.id
}

// Complete implements Sink. Only the first call has an effect.
func (f *Future[T]) Complete(value any, err error) {
	f.once.Do(func() {
		switch {
		case err != nil:
			f.err = err
		case value == nil:
		default:
			v, ok := value.(T)
			if !ok {
				f.err = errors.New(errors.PhaseCallback, errors.KindInvalidData).
					Value(value).
					Detail("token resolved with %T, want %s", value, typeName[T]()).
					Build()
				break
			}
			f.value = v
		}
		close(f.done)
	})
}

// Done is closed once the future is completed.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future completes or ctx is done. On cancellation the
// token is released, so a later engine callback for it is ignored, and the
// future completes with ctx.Err(). If the callback won the race its outcome
// is returned instead.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
	}

	if f.store.Release(f.id) {
		f.Complete(nil, ctx.Err())
	}
	<-f.done
	return f.value, f.err
}

// Then runs fn on a new goroutine once the future completes.
func (f *Future[T]) Then(fn func(T, error)) {
	go func() {
		<-f.done
		fn(f.value, f.err)
	}()
}

// Cancel releases the token and completes the future with
// context.Canceled. Returns false if the token was already terminal.
func (f *Future[T]) Cancel() bool {
	if !f.store.Release(f.id) {
		return false
	}
	f.Complete(nil, context.Canceled)
	return true
}

func typeName[T any]() string {
	var zero T
	return fmt.Sprintf("%T", any(zero))
}
