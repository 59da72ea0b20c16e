package config

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/pflag"

	"github.com/wippyai/realm-sync-bridge/errors"
	"github.com/wippyai/realm-sync-bridge/native"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Loader{Fs: afero.NewMemMapFs()}.Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Engine.Kind != "loopback" || cfg.Engine.Workers != 4 {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Engine.PollInterval != 50*time.Millisecond {
		t.Errorf("poll interval = %v", cfg.Engine.PollInterval)
	}
	if cfg.FileSystem.BasePath != DefaultBasePath() {
		t.Errorf("base path = %q", cfg.FileSystem.BasePath)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log level = %q", cfg.LogLevel)
	}
}

const sampleYAML = `
engine:
  kind: wasm
  module: /opt/engine.wasm
file_system:
  base_path: /var/lib/realms
  persistence_mode: not_encrypted
log_level: debug
refresh:
  tokens:
    alice: secret
sessions:
  - user: alice
    server_url: realms://sync.example.com/~/notes
    enable_ssl_validation: true
`

func TestLoad_FileFlagsEnv(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/etc/realmsync.yaml", []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "info", "")
	flags.Int("workers", 4, "")
	if err := flags.Parse([]string{"--workers=8"}); err != nil {
		t.Fatal(err)
	}

	t.Setenv("REALMSYNC_FILE_SYSTEM_BASE_PATH", "/srv/realms")

	cfg, err := Loader{Fs: fs, Flags: flags, Files: []string{"/missing.yaml", "/etc/realmsync.yaml"}}.Load()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Engine.Kind != "wasm" || cfg.Engine.Module != "/opt/engine.wasm" {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.Engine.Workers != 8 {
		t.Errorf("flag override lost: workers = %d", cfg.Engine.Workers)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("unchanged flag must not override file: log level = %q", cfg.LogLevel)
	}
	if cfg.FileSystem.BasePath != "/srv/realms" {
		t.Errorf("env override lost: base path = %q", cfg.FileSystem.BasePath)
	}
	if cfg.Refresh.Tokens["alice"] != "secret" {
		t.Errorf("tokens = %v", cfg.Refresh.Tokens)
	}
	if len(cfg.Sessions) != 1 || cfg.Sessions[0].ServerURL != "realms://sync.example.com/~/notes" {
		t.Fatalf("sessions = %+v", cfg.Sessions)
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	fs := afero.NewMemMapFs()
	_ = afero.WriteFile(fs, "/c.yaml", []byte("log_level: chatty\n"), 0o644)
	if _, err := (Loader{Fs: fs, Files: []string{"/c.yaml"}}).Load(); err == nil {
		t.Error("unknown log level should fail")
	}

	_ = afero.WriteFile(fs, "/s.yaml", []byte("sessions:\n  - user: a\n    server_url: http://x/y\n"), 0o644)
	if _, err := (Loader{Fs: fs, Files: []string{"/s.yaml"}}).Load(); err == nil {
		t.Error("http session url should fail")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	in := &Config{
		Engine:     Engine{Kind: "loopback", Workers: 2, PollInterval: time.Second},
		FileSystem: FileSystem{BasePath: "/data"},
		LogLevel:   "warn",
		Refresh:    Refresh{InitialInterval: time.Millisecond, MaxTries: 3},
		Sessions:   []SyncConfiguration{{User: "u", ServerURL: "realm://h/~/r", EnableSSLValidation: true}},
	}
	if err := Save(fs, "/home/u/.config/realmsync/config.yaml", in); err != nil {
		t.Fatal(err)
	}

	out, err := Loader{Fs: fs, Files: []string{"/home/u/.config/realmsync/config.yaml"}}.Load()
	if err != nil {
		t.Fatal(err)
	}
	if out.Engine.PollInterval != time.Second || out.Engine.Workers != 2 {
		t.Errorf("engine = %+v", out.Engine)
	}
	if out.LogLevel != "warn" || out.Refresh.MaxTries != 3 {
		t.Errorf("config = %+v", out)
	}
	if len(out.Sessions) != 1 || out.Sessions[0].User != "u" {
		t.Errorf("sessions = %+v", out.Sessions)
	}
}

func TestFileSystem_ToNative(t *testing.T) {
	got, err := FileSystem{BasePath: "/b", PersistenceMode: "encrypted"}.ToNative([]byte{1})
	if err != nil {
		t.Fatal(err)
	}
	if got.PersistenceMode == nil || *got.PersistenceMode != native.PersistenceEncrypted {
		t.Errorf("mode = %v", got.PersistenceMode)
	}

	got, err = FileSystem{}.ToNative(nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.PersistenceMode != nil || got.BasePath != DefaultBasePath() {
		t.Errorf("defaults = %+v", got)
	}

	if _, err := (FileSystem{PersistenceMode: "cloud"}).ToNative(nil); err == nil {
		t.Error("unknown mode should fail")
	}
}

func TestFileSystem_Prepare(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := (FileSystem{BasePath: "/data/realms"}).Prepare(fs); err != nil {
		t.Fatal(err)
	}
	if ok, _ := afero.DirExists(fs, "/data/realms"); !ok {
		t.Error("base path not created")
	}
}

func TestSyncConfiguration_Validate(t *testing.T) {
	tests := []struct {
		name    string
		user    string
		url     string
		wantErr bool
	}{
		{name: "realm", user: "u", url: "realm://host/~/a"},
		{name: "realms", user: "u", url: "realms://host:9443/~/a"},
		{name: "http", user: "u", url: "http://host/~/a", wantErr: true},
		{name: "no user", url: "realm://host/~/a", wantErr: true},
		{name: "garbage", user: "u", url: "::", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSyncConfiguration(tt.user, tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			var e *errors.Error
			if err != nil && (!stderrors.As(err, &e) || e.Kind != errors.KindInvalidInput) {
				t.Errorf("err = %v, want invalid input", err)
			}
		})
	}
}

func TestSyncConfiguration_ToNative(t *testing.T) {
	fs := afero.NewMemMapFs()
	c, err := NewSyncConfiguration("alice", "realms://host/~/a")
	if err != nil {
		t.Fatal(err)
	}

	c.TrustedCAPath = "/certs/ca.pem"
	_, err = c.ToNative(fs)
	var e *errors.Error
	if !stderrors.As(err, &e) || e.Kind != errors.KindNotFound {
		t.Fatalf("missing CA: %v", err)
	}

	_ = afero.WriteFile(fs, "/certs/ca.pem", []byte("pem"), 0o600)
	c.IsPartial = true
	got, err := c.ToNative(fs)
	if err != nil {
		t.Fatal(err)
	}
	if !got.ValidateSSL || got.TrustedCAPath != "/certs/ca.pem" || got.User != "alice" {
		t.Errorf("native = %+v", got)
	}
	if got.PartialSyncIdentifier == "" || c.PartialSyncIdentifier != got.PartialSyncIdentifier {
		t.Error("partial sync identifier must be generated and kept")
	}
	again, _ := c.ToNative(fs)
	if again.PartialSyncIdentifier != got.PartialSyncIdentifier {
		t.Error("identifier changed between conversions")
	}
}
