package abi

import (
	"strings"

	syncbridge "github.com/wippyai/realm-sync-bridge"
	"github.com/wippyai/realm-sync-bridge/errors"
)

const (
	// PairSize is the size of one context pair record.
	PairSize = 16

	// ErrorInfoSize is the size of the error out-parameter record:
	// code i32, message ptr, message len, pairs ptr, pairs count.
	ErrorInfoSize = 20

	// MaxPairs bounds the pair count accepted from the engine.
	MaxPairs = 1 << 16
)

// DecodeString copies length bytes at ptr into a Go string. Invalid UTF-8 is
// replaced with U+FFFD.
func DecodeString(mem syncbridge.Memory, ptr, length uint32) (string, error) {
	if length == 0 {
		return "", nil
	}
	data, err := mem.Read(ptr, length)
	if err != nil {
		return "", errors.OutOfBounds(errors.PhaseDecode, ptr, length)
	}
	// string(data) copies; the engine may free the buffer right after.
	return strings.ToValidUTF8(string(data), "\uFFFD"), nil
}

// DecodePairs copies count pair records starting at ptr.
func DecodePairs(mem syncbridge.Memory, ptr uint32, count int) ([]errors.Pair, error) {
	if count == 0 {
		return nil, nil
	}
	if count < 0 || count > MaxPairs {
		return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
			Value(count).
			Detail("pair count %d out of range", count).
			Build()
	}

	raw, err := mem.Read(ptr, uint32(count)*PairSize)
	if err != nil {
		return nil, errors.OutOfBounds(errors.PhaseDecode, ptr, uint32(count)*PairSize)
	}
	// raw may alias native memory; read the headers before following pointers.
	headers := make([]uint32, 0, count*4)
	for i := 0; i < count*4; i++ {
		headers = append(headers, le32(raw[i*4:]))
	}

	pairs := make([]errors.Pair, count)
	for i := range pairs {
		h := headers[i*4 : i*4+4]
		key, err := DecodeString(mem, h[0], h[1])
		if err != nil {
			return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
				Path("pairs", "key").
				Value(i).
				Cause(err).
				Build()
		}
		value, err := DecodeString(mem, h[2], h[3])
		if err != nil {
			return nil, errors.New(errors.PhaseDecode, errors.KindInvalidData).
				Path("pairs", "value").
				Value(i).
				Cause(err).
				Build()
		}
		pairs[i] = errors.Pair{Key: key, Value: value}
	}
	return pairs, nil
}

// EncodeString allocates native memory for s and writes it.
// An empty string encodes as (0, 0) without allocating.
func EncodeString(mem syncbridge.Memory, alloc syncbridge.Allocator, s string) (ptr, length uint32, err error) {
	if s == "" {
		return 0, 0, nil
	}
	length = uint32(len(s))
	ptr, err = alloc.Alloc(length, 1)
	if err != nil {
		return 0, 0, errors.AllocationFailed(errors.PhaseEncode, length, 1, err)
	}
	if err := mem.Write(ptr, []byte(s)); err != nil {
		return 0, 0, errors.OutOfBounds(errors.PhaseEncode, ptr, length)
	}
	return ptr, length, nil
}

// EncodePairs writes pairs in the record layout and returns the array pointer
// and count. Release frees everything EncodePairs allocated.
func EncodePairs(mem syncbridge.Memory, alloc syncbridge.Allocator, pairs []errors.Pair) (*Encoded, error) {
	enc := &Encoded{alloc: alloc}
	if len(pairs) == 0 {
		return enc, nil
	}

	size := uint32(len(pairs)) * PairSize
	base, err := alloc.Alloc(size, 4)
	if err != nil {
		return nil, errors.AllocationFailed(errors.PhaseEncode, size, 4, err)
	}
	enc.track(base, size, 4)
	enc.Ptr = base
	enc.Count = len(pairs)

	for i, p := range pairs {
		kp, kl, err := EncodeString(mem, alloc, p.Key)
		if err != nil {
			enc.Release()
			return nil, err
		}
		enc.track(kp, kl, 1)
		vp, vl, err := EncodeString(mem, alloc, p.Value)
		if err != nil {
			enc.Release()
			return nil, err
		}
		enc.track(vp, vl, 1)

		rec := base + uint32(i)*PairSize
		for j, v := range [4]uint32{kp, kl, vp, vl} {
			if err := mem.WriteU32(rec+uint32(j)*4, v); err != nil {
				enc.Release()
				return nil, errors.OutOfBounds(errors.PhaseEncode, rec, PairSize)
			}
		}
	}
	return enc, nil
}

// Encoded is a pair array living in native memory.
type Encoded struct {
	alloc  syncbridge.Allocator
	blocks []block
	Ptr    uint32
	Count  int
}

type block struct {
	ptr, size, align uint32
}

func (e *Encoded) track(ptr, size, align uint32) {
	if size == 0 {
		return
	}
	e.blocks = append(e.blocks, block{ptr: ptr, size: size, align: align})
}

// Release frees the native memory backing the array. Safe to call twice.
func (e *Encoded) Release() {
	for _, b := range e.blocks {
		e.alloc.Free(b.ptr, b.size, b.align)
	}
	e.blocks = nil
}

// ErrorInfo is the decoded form of the engine's error out-parameter.
type ErrorInfo struct {
	Message string
	Pairs   []errors.Pair
	Code    errors.ErrorCode
}

// DecodeErrorInfo reads the 20-byte error record at ptr. A zero code means
// no error and leaves the rest of the record unread.
func DecodeErrorInfo(mem syncbridge.Memory, ptr uint32) (ErrorInfo, error) {
	raw, err := mem.Read(ptr, ErrorInfoSize)
	if err != nil {
		return ErrorInfo{}, errors.OutOfBounds(errors.PhaseDecode, ptr, ErrorInfoSize)
	}
	var hdr [5]uint32
	for i := range hdr {
		hdr[i] = le32(raw[i*4:])
	}

	info := ErrorInfo{Code: errors.ErrorCode(int32(hdr[0]))}
	if info.Code == errors.CodeOK {
		return info, nil
	}
	if info.Message, err = DecodeString(mem, hdr[1], hdr[2]); err != nil {
		return info, err
	}
	if info.Pairs, err = DecodePairs(mem, hdr[3], int(hdr[4])); err != nil {
		return info, err
	}
	return info, nil
}

// EncodeErrorInfo writes info as an error record. The returned Encoded owns
// the record, the message and the pairs.
func EncodeErrorInfo(mem syncbridge.Memory, alloc syncbridge.Allocator, info ErrorInfo) (*Encoded, error) {
	pairs, err := EncodePairs(mem, alloc, info.Pairs)
	if err != nil {
		return nil, err
	}
	mp, ml, err := EncodeString(mem, alloc, info.Message)
	if err != nil {
		pairs.Release()
		return nil, err
	}
	pairs.track(mp, ml, 1)

	rec, err := alloc.Alloc(ErrorInfoSize, 4)
	if err != nil {
		pairs.Release()
		return nil, errors.AllocationFailed(errors.PhaseEncode, ErrorInfoSize, 4, err)
	}
	pairs.track(rec, ErrorInfoSize, 4)

	fields := [5]uint32{uint32(int32(info.Code)), mp, ml, pairs.Ptr, uint32(pairs.Count)}
	for i, v := range fields {
		if err := mem.WriteU32(rec+uint32(i)*4, v); err != nil {
			pairs.Release()
			return nil, errors.OutOfBounds(errors.PhaseEncode, rec, ErrorInfoSize)
		}
	}

	return &Encoded{alloc: alloc, blocks: pairs.blocks, Ptr: rec, Count: 1}, nil
}

// ClearErrorInfo zeroes an error record before it is handed to the engine.
func ClearErrorInfo(mem syncbridge.Memory, ptr uint32) error {
	if err := mem.Write(ptr, make([]byte, ErrorInfoSize)); err != nil {
		return errors.OutOfBounds(errors.PhaseEncode, ptr, ErrorInfoSize)
	}
	return nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
