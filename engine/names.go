package engine

// HostModule is the import module providing the entry points.
const HostModule = "realm_sync"

const (
	exportPrefix = "realm_sync_"

	allocExport = "realm_alloc"
	freeExport  = "realm_free"
)

// Host import names.
const (
	importSessionWait     = "session_wait"
	importSessionError    = "session_error"
	importSessionProgress = "session_progress"
	importRefreshToken    = "refresh_access_token"
	importSubscribe       = "subscribe"
	importLog             = "log"
)

// Guest export names without exportPrefix.
const (
	opConfigureFileSystem = "configure_file_system"
	opResetForTesting     = "reset_for_testing"
	opGetSession          = "get_session"
	opOpenWithSync        = "open_with_sync"
	opGetPathForRealm     = "get_path_for_realm"
	opWaitForDownload     = "wait_for_download"
	opWaitForUpload       = "wait_for_upload"
	opRegisterProgress    = "register_progress_notifier"
	opUnregisterProgress  = "unregister_progress_notifier"
	opRefreshAccessToken  = "refresh_access_token"
	opSessionInfo         = "session_info"
	opSubscribeForObjects = "subscribe_for_objects"
	opRunFileActions      = "immediately_run_file_actions"
	opCancelFileActions   = "cancel_pending_file_actions"
	opSetLogLevel         = "set_log_level"
	opGetLogLevel         = "get_log_level"
	opReconnect           = "reconnect"
	opCloseSession        = "close_session"
	opCloseRealm          = "close_realm"
	opCloseResults        = "close_results"
	opPoll                = "poll"
)

const (
	syncConfigSize  = 40
	sessionInfoSize = 28
	stringRefSize   = 8
)

// ExportName returns the guest export implementing op.
func ExportName(op string) string {
	return exportPrefix + op
}
