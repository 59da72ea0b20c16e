// Package errors provides the error types that cross the native boundary.
//
// Two families live here. The structured Error (Phase + Kind) reports misuse
// and boundary failures detected on the Go side:
//
//	err := errors.New(errors.PhaseWait, errors.KindWaitInProgress).
//		Path("session", path).
//		Detail("a wait is already outstanding").
//		Build()
//
// The sync taxonomy describes failures reported by the engine itself. Raw
// payloads (code, message, context pairs) are turned into typed values by
// Classify:
//
//	err := errors.Classify(code, message, pairs)
//
//	var se *errors.SessionError
//	if errors.As(err, &se) && se.Variant == errors.VariantClientReset {
//		fmt.Println(se.OriginalFilePath())
//	}
//
// Wrapper types (WaitFailure, SubscriptionError) keep the classified error
// reachable through errors.As and errors.Unwrap.
//
// Is, As and Unwrap are re-exported so callers need a single import.
package errors
