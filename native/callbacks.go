package native

import (
	syncbridge "github.com/wippyai/realm-sync-bridge"
)

// RefreshAccessTokenFunc is invoked when the engine needs a fresh access
// token for a session. The handle is a new reference owned by the callee,
// which must close it once the refresh attempt is over.
type RefreshAccessTokenFunc func(session SessionHandle)

// SessionErrorFunc is invoked when a session reports an error. pairsPtr
// points at pairsCount context pair records.
type SessionErrorFunc func(mem syncbridge.Memory, session SessionHandle, code int32, msgPtr, msgLen, pairsPtr, pairsCount uint32)

// SessionProgressFunc is invoked for every progress update of a registered
// notifier. It may fire many times for one token.
type SessionProgressFunc func(token Token, transferred, transferable uint64)

// SessionWaitFunc completes a download or upload wait. A zero status means
// success.
type SessionWaitFunc func(mem syncbridge.Memory, token Token, status int32, msgPtr, msgLen uint32)

// SubscribeFunc completes an object subscription. errPtr points at an error
// record; a zero pointer or a zero code means success.
type SubscribeFunc func(mem syncbridge.Memory, results ResultsHandle, token Token, errPtr uint32)

// LogFunc receives engine log lines.
type LogFunc func(mem syncbridge.Memory, level LogLevel, msgPtr, msgLen uint32)

// SessionCallbacks are installed in one batch.
type SessionCallbacks struct {
	RefreshAccessToken RefreshAccessTokenFunc
	SessionError       SessionErrorFunc
	SessionProgress    SessionProgressFunc
	SessionWait        SessionWaitFunc
}

// ManagerCallbacks are the sync manager entry points. Log is optional.
type ManagerCallbacks struct {
	Subscribe SubscribeFunc
	Log       LogFunc
}
