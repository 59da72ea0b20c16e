package errors

import "strconv"

// ErrorCode is the numeric code reported by the engine.
//
// Codes below 100 are engine exception codes, 100-199 are connection level
// protocol errors and 200-299 are session level protocol errors.
type ErrorCode int32

const (
	CodeOK ErrorCode = 0

	CodeEngineError            ErrorCode = 1
	CodeFileAccessError        ErrorCode = 2
	CodeDecryptionFailed       ErrorCode = 3
	CodeFileExists             ErrorCode = 4
	CodeFileNotFound           ErrorCode = 5
	CodeInvalidDatabase        ErrorCode = 6
	CodeOutOfMemory            ErrorCode = 7
	CodeFilePermissionDenied   ErrorCode = 8
	CodeMismatchedConfig       ErrorCode = 9
	CodeIncompatibleSyncedFile ErrorCode = 10
	CodeInvalidArgument        ErrorCode = 11

	CodeConnectionClosed     ErrorCode = 100
	CodeOtherError           ErrorCode = 101
	CodeUnknownMessage       ErrorCode = 102
	CodeBadSyntax            ErrorCode = 103
	CodeLimitsExceeded       ErrorCode = 104
	CodeWrongProtocolVersion ErrorCode = 105
	CodeBadSessionIdent      ErrorCode = 106
	CodeReuseOfSessionIdent  ErrorCode = 107
	CodeBoundInOtherSession  ErrorCode = 108
	CodeBadMessageOrder      ErrorCode = 109

	CodeSessionClosed             ErrorCode = 200
	CodeOtherSessionError         ErrorCode = 201
	CodeTokenExpired              ErrorCode = 202
	CodeBadAuthentication         ErrorCode = 203
	CodeIllegalRealmPath          ErrorCode = 204
	CodeNoSuchRealm               ErrorCode = 205
	CodePermissionDenied          ErrorCode = 206
	CodeBadServerFileIdentifier   ErrorCode = 207
	CodeBadClientFileIdentifier   ErrorCode = 208
	CodeBadServerVersion          ErrorCode = 209
	CodeBadClientVersion          ErrorCode = 210
	CodeDivergingHistories        ErrorCode = 211
	CodeBadChangeset              ErrorCode = 212
	CodeDisabledSession           ErrorCode = 213
	CodePartialSyncDisabled       ErrorCode = 214
	CodeUnsupportedSessionFeature ErrorCode = 215
)

var codeNames = map[ErrorCode]string{
	CodeOK:                        "ok",
	CodeEngineError:               "engine_error",
	CodeFileAccessError:           "file_access_error",
	CodeDecryptionFailed:          "decryption_failed",
	CodeFileExists:                "file_exists",
	CodeFileNotFound:              "file_not_found",
	CodeInvalidDatabase:           "invalid_database",
	CodeOutOfMemory:               "out_of_memory",
	CodeFilePermissionDenied:      "file_permission_denied",
	CodeMismatchedConfig:          "mismatched_config",
	CodeIncompatibleSyncedFile:    "incompatible_synced_file",
	CodeInvalidArgument:           "invalid_argument",
	CodeConnectionClosed:          "connection_closed",
	CodeOtherError:                "other_error",
	CodeUnknownMessage:            "unknown_message",
	CodeBadSyntax:                 "bad_syntax",
	CodeLimitsExceeded:            "limits_exceeded",
	CodeWrongProtocolVersion:      "wrong_protocol_version",
	CodeBadSessionIdent:           "bad_session_ident",
	CodeReuseOfSessionIdent:       "reuse_of_session_ident",
	CodeBoundInOtherSession:       "bound_in_other_session",
	CodeBadMessageOrder:           "bad_message_order",
	CodeSessionClosed:             "session_closed",
	CodeOtherSessionError:         "other_session_error",
	CodeTokenExpired:              "token_expired",
	CodeBadAuthentication:         "bad_authentication",
	CodeIllegalRealmPath:          "illegal_realm_path",
	CodeNoSuchRealm:               "no_such_realm",
	CodePermissionDenied:          "permission_denied",
	CodeBadServerFileIdentifier:   "bad_server_file_identifier",
	CodeBadClientFileIdentifier:   "bad_client_file_identifier",
	CodeBadServerVersion:          "bad_server_version",
	CodeBadClientVersion:          "bad_client_version",
	CodeDivergingHistories:        "diverging_histories",
	CodeBadChangeset:              "bad_changeset",
	CodeDisabledSession:           "disabled_session",
	CodePartialSyncDisabled:       "partial_sync_disabled",
	CodeUnsupportedSessionFeature: "unsupported_session_feature",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "code_" + strconv.Itoa(int(c))
}

// IsClientReset reports whether the code requires the local file to be
// discarded and downloaded again from the server.
func (c ErrorCode) IsClientReset() bool {
	switch c {
	case CodeBadServerFileIdentifier,
		CodeBadClientFileIdentifier,
		CodeBadServerVersion,
		CodeDivergingHistories:
		return true
	}
	return false
}
