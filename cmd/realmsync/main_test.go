package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

func execute(t *testing.T, fs afero.Fs, args ...string) (string, error) {
	t.Helper()
	a := newApp(fs)
	a.log = zap.NewNop()
	cmd := newRootCmd(a)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	_ = a.close(context.Background())
	return out.String(), err
}

func TestDownloadCommand(t *testing.T) {
	out, err := execute(t, afero.NewMemMapFs(),
		"download", "--plain", "--base-path", "/data",
		"--user", "alice", "--url", "realm://localhost/~/notes")
	if err != nil {
		t.Fatalf("download failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "realm://localhost/~/notes: done") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestDownloadNeedsTarget(t *testing.T) {
	_, err := execute(t, afero.NewMemMapFs(), "download", "--plain")
	if err == nil || !strings.Contains(err.Error(), "no realm to download") {
		t.Fatalf("expected missing target error, got %v", err)
	}
}

func TestDownloadInvalidURL(t *testing.T) {
	_, err := execute(t, afero.NewMemMapFs(), "download", "--plain", "--user", "alice", "--url", "http://localhost/~/notes")
	if err == nil {
		t.Fatal("expected protocol error")
	}
}

func TestDownloadSessionsFromConfig(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := `file_system:
  base_path: /data
sessions:
  - user: alice
    server_url: realm://localhost/~/a
    enable_ssl_validation: true
  - user: bob
    server_url: realm://localhost/~/b
    enable_ssl_validation: true
`
	if err := afero.WriteFile(fs, "/etc/realmsync.yaml", []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err := execute(t, fs, "--config", "/etc/realmsync.yaml", "download", "--plain", "--upload")
	if err != nil {
		t.Fatalf("download failed: %v\n%s", err, out)
	}
	for _, want := range []string{"realm://localhost/~/a: done", "realm://localhost/~/b: done"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %q", want, out)
		}
	}
}

func TestPathCommand(t *testing.T) {
	out, err := execute(t, afero.NewMemMapFs(), "path", "--base-path", "/data", "--user", "alice", "--url", "realm://localhost/~/notes")
	if err != nil {
		t.Fatalf("path failed: %v", err)
	}
	if !strings.HasPrefix(out, "/data/realm-object-server/alice/notes-") {
		t.Errorf("unexpected path %q", out)
	}
}

func TestLogLevelCommand(t *testing.T) {
	out, err := execute(t, afero.NewMemMapFs(), "log-level", "debug")
	if err != nil {
		t.Fatalf("log-level failed: %v", err)
	}
	if strings.TrimSpace(out) != "debug" {
		t.Errorf("expected debug, got %q", out)
	}

	if _, err := execute(t, afero.NewMemMapFs(), "log-level", "loud"); err == nil {
		t.Error("expected unknown level error")
	}
}

func TestConfigureSave(t *testing.T) {
	fs := afero.NewMemMapFs()
	out, err := execute(t, fs, "--config", "/etc/realmsync.yaml", "configure", "--base-path", "/data", "--save")
	if err != nil {
		t.Fatalf("configure failed: %v", err)
	}
	if !strings.Contains(out, "configured /data") {
		t.Errorf("unexpected output %q", out)
	}
	if ok, _ := afero.DirExists(fs, "/data"); !ok {
		t.Error("base path not created")
	}
	data, err := afero.ReadFile(fs, "/etc/realmsync.yaml")
	if err != nil {
		t.Fatalf("configuration not saved: %v", err)
	}
	if !strings.Contains(string(data), "base_path: /data") {
		t.Errorf("saved configuration missing base path:\n%s", data)
	}
}

func TestUnknownEngine(t *testing.T) {
	_, err := execute(t, afero.NewMemMapFs(), "reconnect", "--engine", "quantum")
	if err == nil || !strings.Contains(err.Error(), "unknown engine kind") {
		t.Fatalf("expected engine error, got %v", err)
	}
}

func TestFileActionsNothingPending(t *testing.T) {
	out, err := execute(t, afero.NewMemMapFs(), "file-actions", "run", "/data/a.realm")
	if err != nil {
		t.Fatalf("file-actions failed: %v", err)
	}
	if !strings.Contains(out, "no file action pending") {
		t.Errorf("unexpected output %q", out)
	}
}
