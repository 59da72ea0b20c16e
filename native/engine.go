package native

import "context"

// Engine is the outbound surface of the sync engine. Failures reported by
// the engine are returned as *ErrorInfo; anything else is a host failure.
type Engine interface {
	// InstallSessionCallbacks registers the session entry points. Engines
	// accept exactly one installation per process.
	InstallSessionCallbacks(ctx context.Context, cb SessionCallbacks) error
	// InstallManagerCallbacks registers the sync manager entry points.
	InstallManagerCallbacks(ctx context.Context, cb ManagerCallbacks) error

	ConfigureFileSystem(ctx context.Context, cfg FileSystemConfig) error
	ResetForTesting(ctx context.Context) error

	GetSession(ctx context.Context, path string, cfg SyncConfig, encryptionKey []byte) (SessionHandle, error)
	OpenWithSync(ctx context.Context, realm RealmConfig, cfg SyncConfig) (RealmHandle, error)
	GetPathForRealm(ctx context.Context, user, url string) (string, error)

	WaitForDownload(ctx context.Context, session SessionHandle, token Token) error
	WaitForUpload(ctx context.Context, session SessionHandle, token Token) error
	RegisterProgressNotifier(ctx context.Context, session SessionHandle, token Token, dir ProgressDirection, mode ProgressMode) (NotifierToken, error)
	UnregisterProgressNotifier(ctx context.Context, session SessionHandle, notifier NotifierToken) error
	RefreshAccessToken(ctx context.Context, session SessionHandle, accessToken, serverPath string) error
	SessionInfo(ctx context.Context, session SessionHandle) (SessionInfo, error)

	SubscribeForObjects(ctx context.Context, realm RealmHandle, className, query string, token Token) error

	ImmediatelyRunFileActions(ctx context.Context, path string) (bool, error)
	CancelPendingFileActions(ctx context.Context, path string) (bool, error)
	SetLogLevel(ctx context.Context, level LogLevel) error
	GetLogLevel(ctx context.Context) (LogLevel, error)
	Reconnect(ctx context.Context) error

	CloseSession(ctx context.Context, session SessionHandle) error
	CloseRealm(ctx context.Context, realm RealmHandle) error
	CloseResults(ctx context.Context, results ResultsHandle) error

	// Close shuts the engine down. Entry points are not invoked afterwards.
	Close(ctx context.Context) error
}
