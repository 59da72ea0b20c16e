package errors

import (
	"fmt"
	"strings"
)

// Pair is one diagnostic key/value entry attached to an engine error.
type Pair struct {
	Key   string
	Value string
}

// Well-known context keys.
const (
	KeyOriginalFilePath = "ORIGINAL_FILE_PATH"
	KeyRecoveryFilePath = "RECOVERY_FILE_PATH"
	KeyActionToken      = "ACTION_TOKEN"
	KeyPath             = "PATH"
)

// Variant identifies the classified form of a SessionError.
type Variant uint8

const (
	VariantGeneric Variant = iota
	VariantClientReset
	VariantPermissionDenied
)

func (v Variant) String() string {
	switch v {
	case VariantClientReset:
		return "client_reset"
	case VariantPermissionDenied:
		return "permission_denied"
	default:
		return "generic"
	}
}

// Sentinels for errors.Is matching on the variant only.
var (
	ErrClientReset      = &SessionError{Variant: VariantClientReset}
	ErrPermissionDenied = &SessionError{Variant: VariantPermissionDenied}
)

// SessionError is an error reported by the engine for a sync session.
// It is immutable once constructed.
type SessionError struct {
	context []Pair
	Message string
	Code    ErrorCode
	Variant Variant
}

func (e *SessionError) Error() string {
	var b strings.Builder
	b.WriteString("session error (")
	b.WriteString(e.Variant.String())
	b.WriteString(", ")
	b.WriteString(e.Code.String())
	b.WriteString(")")
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Is matches another SessionError with the same variant. A target with a
// non-zero code must also match the code.
func (e *SessionError) Is(target error) bool {
	t, ok := target.(*SessionError)
	if !ok {
		return false
	}
	if e.Variant != t.Variant {
		return false
	}
	return t.Code == CodeOK || t.Code == e.Code
}

// Pairs returns a copy of the context pairs in the order they were reported.
func (e *SessionError) Pairs() []Pair {
	if len(e.context) == 0 {
		return nil
	}
	out := make([]Pair, len(e.context))
	copy(out, e.context)
	return out
}

// Lookup returns the first value reported for key.
func (e *SessionError) Lookup(key string) (string, bool) {
	for _, p := range e.context {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Values returns every value reported for key, in order.
func (e *SessionError) Values(key string) []string {
	var out []string
	for _, p := range e.context {
		if p.Key == key {
			out = append(out, p.Value)
		}
	}
	return out
}

// OriginalFilePath is the path of the local file that must be discarded.
// Only meaningful for client reset errors.
func (e *SessionError) OriginalFilePath() string {
	v, _ := e.Lookup(KeyOriginalFilePath)
	return v
}

// RecoveryFilePath is where the engine moves the old file during a client reset.
func (e *SessionError) RecoveryFilePath() string {
	v, _ := e.Lookup(KeyRecoveryFilePath)
	return v
}

// ActionToken identifies the denied operation. Only meaningful for
// permission denied errors.
func (e *SessionError) ActionToken() string {
	v, _ := e.Lookup(KeyActionToken)
	return v
}

// NewSessionError builds a generic session error.
func NewSessionError(code ErrorCode, message string) *SessionError {
	return &SessionError{Variant: VariantGeneric, Code: code, Message: message}
}

// Classify maps a raw engine error to a typed session error.
// The pairs slice is copied; callers may reuse it after Classify returns.
func Classify(code ErrorCode, message string, pairs []Pair) *SessionError {
	switch {
	case code.IsClientReset():
		return &SessionError{Variant: VariantClientReset, Code: code, Message: message, context: clonePairs(pairs)}
	case code == CodePermissionDenied:
		return &SessionError{Variant: VariantPermissionDenied, Code: code, Message: message, context: clonePairs(pairs)}
	default:
		return &SessionError{Variant: VariantGeneric, Code: code, Message: message}
	}
}

func clonePairs(pairs []Pair) []Pair {
	if len(pairs) == 0 {
		return nil
	}
	out := make([]Pair, len(pairs))
	copy(out, pairs)
	return out
}

const waitFailureMessage = "a system error occurred while waiting for completion"

// WaitFailure is returned when the engine fails a download or upload wait.
// The session error that caused it is available through Unwrap.
type WaitFailure struct {
	Err *SessionError
}

func (e *WaitFailure) Error() string {
	if e.Err == nil {
		return waitFailureMessage
	}
	return waitFailureMessage + ": " + e.Err.Error()
}

func (e *WaitFailure) Unwrap() error {
	if e.Err == nil {
		return nil
	}
	return e.Err
}

// SubscriptionError is returned when an object subscription fails.
type SubscriptionError struct {
	Err       *SessionError
	ClassName string
	Query     string
}

func (e *SubscriptionError) Error() string {
	prefix := "subscription failed"
	if e.ClassName != "" {
		prefix = fmt.Sprintf("subscription to %s failed", e.ClassName)
	}
	if e.Err == nil {
		return prefix
	}
	return prefix + ": " + e.Err.Error()
}

func (e *SubscriptionError) Unwrap() error {
	if e.Err == nil {
		return nil
	}
	return e.Err
}

// ConfigurationError is returned when the engine rejects a file system or
// process configuration call.
type ConfigurationError struct {
	Err     *SessionError
	BaseDir string
}

func (e *ConfigurationError) Error() string {
	msg := "configure file system"
	if e.BaseDir != "" {
		msg += " at " + e.BaseDir
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error {
	if e.Err == nil {
		return nil
	}
	return e.Err
}

// IncompatibleSyncedFileError is returned when a realm file was created by a
// different sync history format and cannot be opened.
type IncompatibleSyncedFileError struct {
	Message string
	Path    string
}

func (e *IncompatibleSyncedFileError) Error() string {
	if e.Path == "" {
		return "incompatible synced file: " + e.Message
	}
	return fmt.Sprintf("incompatible synced file %s: %s", e.Path, e.Message)
}

// ClassifyOpen classifies failures of calls that open or locate realm files.
func ClassifyOpen(code ErrorCode, message string, pairs []Pair) error {
	if code == CodeIncompatibleSyncedFile {
		e := &IncompatibleSyncedFileError{Message: message}
		for _, p := range pairs {
			if p.Key == KeyPath {
				e.Path = p.Value
				break
			}
		}
		return e
	}
	return Classify(code, message, pairs)
}
