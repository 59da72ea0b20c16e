package abi

import (
	stderrors "errors"
	"testing"

	"github.com/wippyai/realm-sync-bridge/errors"
)

func TestPairs_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		pairs []errors.Pair
	}{
		{name: "empty", pairs: nil},
		{name: "single", pairs: []errors.Pair{{Key: "ACTION_TOKEN", Value: "abc"}}},
		{
			name: "empty values and duplicates",
			pairs: []errors.Pair{
				{Key: "k", Value: ""},
				{Key: "k", Value: "second"},
				{Key: "", Value: "no key"},
				{Key: "PATH", Value: "/~/ünïcode"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			arena := NewArena(64)
			enc, err := EncodePairs(arena, arena, tt.pairs)
			if err != nil {
				t.Fatalf("EncodePairs: %v", err)
			}
			got, err := DecodePairs(arena, enc.Ptr, enc.Count)
			if err != nil {
				t.Fatalf("DecodePairs: %v", err)
			}
			if len(got) != len(tt.pairs) {
				t.Fatalf("got %d pairs, want %d", len(got), len(tt.pairs))
			}
			for i := range got {
				if got[i] != tt.pairs[i] {
					t.Errorf("pair %d = %+v, want %+v", i, got[i], tt.pairs[i])
				}
			}

			enc.Release()
			enc.Release()
			if arena.Live() != 0 {
				t.Errorf("%d blocks leaked", arena.Live())
			}
		})
	}
}

func TestDecodePairs_SurvivesPoisoning(t *testing.T) {
	arena := NewArena(64)
	enc, err := EncodePairs(arena, arena, []errors.Pair{{Key: "ORIGINAL_FILE_PATH", Value: "/data/a.realm"}})
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodePairs(arena, enc.Ptr, enc.Count)
	if err != nil {
		t.Fatal(err)
	}
	enc.Release()

	if got[0].Key != "ORIGINAL_FILE_PATH" || got[0].Value != "/data/a.realm" {
		t.Fatalf("decoded pair changed after release: %+v", got[0])
	}
	raw, _ := arena.Read(enc.Ptr, 4)
	for _, b := range raw {
		if b != Poison {
			t.Fatalf("freed memory not poisoned: %x", raw)
		}
	}
}

func TestDecodePairs_Errors(t *testing.T) {
	arena := NewArena(64)

	_, err := DecodePairs(arena, 0, -1)
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindInvalidData {
		t.Errorf("negative count: %v", err)
	}

	_, err = DecodePairs(arena, arena.Size()-8, 1)
	if !stderrors.As(err, &e) || e.Kind != errors.KindOutOfBounds {
		t.Errorf("record past end: %v", err)
	}

	ptr, _ := arena.Alloc(PairSize, 4)
	_ = arena.WriteU32(ptr, arena.Size()+10)
	_ = arena.WriteU32(ptr+4, 3)
	_, err = DecodePairs(arena, ptr, 1)
	if !stderrors.As(err, &e) || e.Kind != errors.KindInvalidData {
		t.Errorf("dangling key pointer: %v", err)
	}
}

func TestDecodeString_InvalidUTF8(t *testing.T) {
	arena := NewArena(64)
	ptr, _ := arena.Alloc(3, 1)
	_ = arena.Write(ptr, []byte{'a', 0xff, 'b'})

	s, err := DecodeString(arena, ptr, 3)
	if err != nil {
		t.Fatal(err)
	}
	if s != "a\uFFFDb" {
		t.Errorf("DecodeString = %q", s)
	}
}

func TestErrorInfo_RoundTrip(t *testing.T) {
	arena := NewArena(128)
	info := ErrorInfo{
		Code:    errors.CodePermissionDenied,
		Message: "denied",
		Pairs: []errors.Pair{
			{Key: errors.KeyActionToken, Value: "tok"},
			{Key: errors.KeyPath, Value: "/~/x"},
		},
	}
	enc, err := EncodeErrorInfo(arena, arena, info)
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Release()

	got, err := DecodeErrorInfo(arena, enc.Ptr)
	if err != nil {
		t.Fatal(err)
	}
	if got.Code != info.Code || got.Message != info.Message || len(got.Pairs) != 2 {
		t.Fatalf("got %+v", got)
	}
	if got.Pairs[1] != info.Pairs[1] {
		t.Errorf("pair 1 = %+v", got.Pairs[1])
	}
}

func TestErrorInfo_NegativeCode(t *testing.T) {
	arena := NewArena(64)
	enc, err := EncodeErrorInfo(arena, arena, ErrorInfo{Code: -7, Message: "m"})
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeErrorInfo(arena, enc.Ptr)
	if err != nil {
		t.Fatal(err)
	}
	if got.Code != -7 {
		t.Errorf("Code = %d", got.Code)
	}
}

func TestClearErrorInfo(t *testing.T) {
	arena := NewArena(64)
	enc, _ := EncodeErrorInfo(arena, arena, ErrorInfo{Code: 5, Message: "x"})
	if err := ClearErrorInfo(arena, enc.Ptr); err != nil {
		t.Fatal(err)
	}
	got, err := DecodeErrorInfo(arena, enc.Ptr)
	if err != nil {
		t.Fatal(err)
	}
	if got.Code != errors.CodeOK || got.Message != "" {
		t.Errorf("cleared record decoded as %+v", got)
	}
}
