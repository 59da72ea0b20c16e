// Package config holds sync and process configuration.
//
// Values are layered with koanf: built-in defaults, then a YAML file read
// through an afero filesystem, then command line flags, then REALMSYNC_
// environment variables. Nested keys use "." in files and flags and "_" in
// the environment, e.g. REALMSYNC_FILE_SYSTEM_BASE_PATH.
package config
