package native

import (
	"fmt"

	"github.com/wippyai/realm-sync-bridge/abi"
	"github.com/wippyai/realm-sync-bridge/errors"
)

// SessionHandle identifies an engine-side sync session reference. Every
// handle the engine hands out must be closed exactly once.
type SessionHandle uint64

// RealmHandle identifies an open synchronized realm.
type RealmHandle uint64

// ResultsHandle identifies the results of an object subscription.
type ResultsHandle uint64

// Token is the completion token id passed to the engine and echoed back in
// entry points.
type Token uint64

// NotifierToken identifies a registered progress notifier.
type NotifierToken uint64

// ErrorInfo is a failure reported by the engine.
type ErrorInfo abi.ErrorInfo

func (e *ErrorInfo) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("engine error %s", e.Code)
	}
	return fmt.Sprintf("engine error %s: %s", e.Code, e.Message)
}

// Session classifies the failure as a session error.
func (e *ErrorInfo) Session() *errors.SessionError {
	return errors.Classify(e.Code, e.Message, e.Pairs)
}

// PersistenceMode controls how the engine stores user metadata.
type PersistenceMode uint8

const (
	PersistenceDisabled PersistenceMode = iota
	PersistenceNotEncrypted
	PersistenceEncrypted
)

func (m PersistenceMode) String() string {
	switch m {
	case PersistenceDisabled:
		return "disabled"
	case PersistenceNotEncrypted:
		return "not_encrypted"
	case PersistenceEncrypted:
		return "encrypted"
	default:
		return fmt.Sprintf("persistence(%d)", uint8(m))
	}
}

// FileSystemConfig is the process-wide file system configuration. It must be
// applied before any session or realm is opened.
type FileSystemConfig struct {
	// PersistenceMode is nil to keep the engine default.
	PersistenceMode      *PersistenceMode
	BasePath             string
	EncryptionKey        []byte
	ResetMetadataOnError bool
}

// SyncConfig is the per-session sync configuration.
type SyncConfig struct {
	User                  string
	URL                   string
	TrustedCAPath         string
	PartialSyncIdentifier string
	ValidateSSL           bool
	IsPartial             bool
}

// RealmConfig describes a local realm file to open.
type RealmConfig struct {
	Path          string
	EncryptionKey []byte
	SchemaVersion uint64
	EnableCache   bool
}

// LogLevel is the engine sync log level.
type LogLevel int32

const (
	LogAll LogLevel = iota
	LogTrace
	LogDebug
	LogDetail
	LogInfo
	LogWarn
	LogError
	LogFatal
	LogOff
)

var logLevelNames = [...]string{"all", "trace", "debug", "detail", "info", "warn", "error", "fatal", "off"}

func (l LogLevel) String() string {
	if l >= 0 && int(l) < len(logLevelNames) {
		return logLevelNames[l]
	}
	return fmt.Sprintf("level(%d)", int32(l))
}

// ParseLogLevel parses a level name as printed by String.
func ParseLogLevel(s string) (LogLevel, error) {
	for i, name := range logLevelNames {
		if name == s {
			return LogLevel(i), nil
		}
	}
	return 0, errors.InvalidInput(errors.PhaseConfigure, fmt.Sprintf("unknown log level %q", s))
}

// ProgressDirection selects which transfer a progress notifier reports.
type ProgressDirection uint8

const (
	ProgressUpload ProgressDirection = iota
	ProgressDownload
)

func (d ProgressDirection) String() string {
	if d == ProgressUpload {
		return "upload"
	}
	return "download"
}

// ProgressMode selects whether a notifier keeps reporting after the
// currently outstanding work is transferred.
type ProgressMode uint8

const (
	ProgressReportIndefinitely ProgressMode = iota
	ProgressForCurrentlyOutstandingWork
)

// SessionState is the engine-side state of a session.
type SessionState uint8

const (
	SessionActive SessionState = iota
	SessionInactive
)

func (s SessionState) String() string {
	if s == SessionActive {
		return "active"
	}
	return "inactive"
}

// SessionInfo describes the session behind a handle.
type SessionInfo struct {
	Path  string
	User  string
	URL   string
	State SessionState
}
