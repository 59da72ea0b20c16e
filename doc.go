// Package syncbridge connects a native, thread-driven synchronization engine
// to Go callers that wait on futures.
//
// The native engine reports completions and errors by invoking a fixed set of
// entry points from its own worker threads. This module installs those entry
// points once, correlates each invocation with the operation waiting on it,
// classifies raw error codes into typed errors and wakes the waiting caller
// exactly once.
//
// # Architecture Overview
//
//	syncbridge/          Root package with core Memory and Allocator interfaces
//	├── abi/             String and context-pair codecs over native memory
//	├── native/          Engine boundary: handles, callbacks, outbound calls
//	├── errors/          Error taxonomy and the error classifier
//	├── resource/        Generation-tagged handle table
//	├── token/           Completion tokens and futures
//	├── bridge/          Trampoline registry and async completion bridge
//	├── syncmanager/     Process configuration gate and manager calls
//	├── session/         Session resource (waits, progress, close)
//	├── config/          Sync configuration and file/env/flag loading
//	├── auth/            Access-token refresh collaborator
//	├── telemetry/       OpenTelemetry token lifecycle metrics
//	├── engine/          wazero host for a wasm-compiled sync engine
//	├── loopback/        In-process engine driven by worker goroutines
//	└── cmd/realmsync/   CLI with a terminal progress view
//
// # Quick Start
//
//	eng := loopback.New(loopback.Options{})
//	defer eng.Close(ctx)
//
//	mgr, err := syncmanager.New(ctx, eng, syncmanager.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	sess, err := session.Open(ctx, mgr, "/data/default.realm", cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := sess.WaitForDownload(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	sess.Close(ctx)
//
// # Thread Safety
//
// Manager, Registry and Store are safe for concurrent use. A Session is owned
// by one caller: at most one wait may be outstanding and Close must not race
// with a wait.
//
// # Memory Model
//
// Payloads handed to entry points (messages, context pairs) live in native
// memory that is released as soon as the entry point returns. Everything the
// bridge keeps is copied out first.
package syncbridge
