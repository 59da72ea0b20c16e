package native

import (
	stderrors "errors"
	"strings"
	"testing"

	"github.com/wippyai/realm-sync-bridge/errors"
)

func TestErrorInfo(t *testing.T) {
	var err error = &ErrorInfo{Code: errors.CodePermissionDenied, Message: "no write"}
	if !strings.Contains(err.Error(), "permission_denied") || !strings.Contains(err.Error(), "no write") {
		t.Errorf("Error() = %q", err.Error())
	}

	var info *ErrorInfo
	if !stderrors.As(err, &info) {
		t.Fatal("errors.As failed")
	}
	if !stderrors.Is(info.Session(), errors.ErrPermissionDenied) {
		t.Error("Session() should classify permission denied")
	}
}

func TestParseLogLevel(t *testing.T) {
	for l := LogAll; l <= LogOff; l++ {
		got, err := ParseLogLevel(l.String())
		if err != nil || got != l {
			t.Errorf("ParseLogLevel(%q) = %v, %v", l.String(), got, err)
		}
	}
	if _, err := ParseLogLevel("loud"); err == nil {
		t.Error("unknown level should fail")
	}
	if LogLevel(42).String() != "level(42)" {
		t.Errorf("String = %q", LogLevel(42).String())
	}
}
