package config

import (
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/wippyai/realm-sync-bridge/errors"
	"github.com/wippyai/realm-sync-bridge/native"
)

// SyncConfiguration describes one synchronized realm.
type SyncConfiguration struct {
	User                  string `yaml:"user"`
	ServerURL             string `yaml:"server_url"`
	Path                  string `yaml:"path,omitempty"`
	TrustedCAPath         string `yaml:"trusted_ca_path,omitempty"`
	PartialSyncIdentifier string `yaml:"partial_sync_identifier,omitempty"`
	EncryptionKey         []byte `yaml:"-"`
	EnableSSLValidation   bool   `yaml:"enable_ssl_validation"`
	IsPartial             bool   `yaml:"is_partial,omitempty"`
}

// NewSyncConfiguration returns a validated configuration with SSL
// validation enabled.
func NewSyncConfiguration(user, serverURL string) (*SyncConfiguration, error) {
	c := &SyncConfiguration{User: user, ServerURL: serverURL, EnableSSLValidation: true}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the fields that do not need the filesystem.
func (c *SyncConfiguration) Validate() error {
	if c.User == "" {
		return errors.InvalidInput(errors.PhaseOpen, "sync configuration has no user")
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return errors.New(errors.PhaseOpen, errors.KindInvalidInput).
			Value(c.ServerURL).
			Cause(err).
			Detail("parse server url").
			Build()
	}
	if !strings.HasPrefix(u.Scheme, "realm") {
		return errors.New(errors.PhaseOpen, errors.KindInvalidInput).
			Value(c.ServerURL).
			Detail("unexpected protocol %q for server url, expected realm:// or realms://", u.Scheme).
			Build()
	}
	return nil
}

// ToNative validates c and converts it for the engine. A configured trusted
// CA file must exist on fs. Partial sync without an identifier gets a fresh
// one, which is stored back into c so reopening uses the same subscription
// set.
func (c *SyncConfiguration) ToNative(fs afero.Fs) (native.SyncConfig, error) {
	if err := c.Validate(); err != nil {
		return native.SyncConfig{}, err
	}
	if c.TrustedCAPath != "" {
		ok, err := afero.Exists(fs, c.TrustedCAPath)
		if err != nil {
			return native.SyncConfig{}, errors.New(errors.PhaseOpen, errors.KindInvalidInput).
				Path("trusted_ca_path").
				Cause(err).
				Build()
		}
		if !ok {
			return native.SyncConfig{}, errors.NotFound(errors.PhaseOpen, "trusted CA file", c.TrustedCAPath)
		}
	}
	if c.IsPartial && c.PartialSyncIdentifier == "" {
		c.PartialSyncIdentifier = uuid.NewString()
	}
	return native.SyncConfig{
		User:                  c.User,
		URL:                   c.ServerURL,
		TrustedCAPath:         c.TrustedCAPath,
		PartialSyncIdentifier: c.PartialSyncIdentifier,
		ValidateSSL:           c.EnableSSLValidation,
		IsPartial:             c.IsPartial,
	}, nil
}
