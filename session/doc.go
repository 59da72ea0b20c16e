// Package session wraps an engine sync session handle.
//
// A Session allows one outstanding download or upload wait at a time and
// refuses to close while that wait is pending. Errors the engine reports for
// the session are classified and delivered to the handler set with OnError,
// or to the manager-wide handler when none is set.
package session
