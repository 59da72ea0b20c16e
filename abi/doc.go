// Package abi converts values between Go and native memory.
//
// The engine hands strings to entry points as (ptr, len) and context pairs as
// a contiguous array of fixed-size records with an explicit count:
//
//	offset  size  field
//	0       4     key pointer
//	4       4     key length
//	8       4     value pointer
//	12      4     value length
//
// All integers are little-endian. Decoding always copies, so nothing returned
// by this package aliases native memory.
//
// Arena is an in-process native memory used by the loopback engine and by
// tests. Freed ranges are poisoned so a caller that kept a reference past the
// callback sees garbage instead of the original bytes.
package abi
