// Package syncmanager is the process-level entry to the sync engine.
//
// A Manager installs the engine entry points when it is created and guards
// every call that opens a session or realm behind a one-time file system
// configuration. The first such call applies the defaults unless Configure
// was called before; an explicit Configure always reaches the engine.
package syncmanager
