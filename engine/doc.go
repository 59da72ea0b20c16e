// Package engine hosts a sync engine compiled to WebAssembly.
//
// The guest module imports its entry points from the host module
// "realm_sync" and exports one function per outbound operation, prefixed
// with "realm_sync_". WazeroEngine implements native.Engine on top of it.
//
// # Guest ABI
//
// All pointers are i32 offsets into the guest memory export. Handles and
// tokens are i64. Strings are passed as (ptr, len); the host writes them
// into memory obtained from the guest's realm_alloc(size, align) export and
// releases them through realm_free(ptr, size, align) when the guest exports
// one.
//
// Operations that can fail take a trailing error pointer to a 20-byte record
// the host zeroes before the call:
//
//	offset  size  field
//	0       4     code (i32, 0 = success)
//	4       4     message pointer
//	8       4     message length
//	12      4     pairs pointer
//	16      4     pairs count
//
// Sync configurations are passed as a 40-byte record:
//
//	0   user (ptr, len)
//	8   server url (ptr, len)
//	16  trusted CA path (ptr, len)
//	24  partial sync identifier (ptr, len)
//	32  validate ssl (u32)
//	36  is partial (u32)
//
// Host imports:
//
//	session_wait(token i64, status i32, msg_ptr i32, msg_len i32)
//	session_error(session i64, code i32, msg_ptr, msg_len, pairs_ptr, pairs_count i32)
//	session_progress(token i64, transferred i64, transferable i64)
//	refresh_access_token(session i64)
//	subscribe(results i64, token i64, err_ptr i32)
//	log(level i32, msg_ptr i32, msg_len i32)
//
// # Thread Safety
//
// WazeroEngine is safe for concurrent use. Calls into the guest are
// serialized; entry points run on the goroutine of the call that triggered
// them and must not call back into the engine synchronously. When the guest
// exports realm_sync_poll, a worker calls it at Config.PollInterval so the
// guest can deliver completions outside outbound calls.
package engine
