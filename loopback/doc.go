// Package loopback is an in-process sync engine.
//
// It implements native.Engine without a server: waits and subscriptions
// complete according to scripted outcomes, and tests inject session errors,
// progress updates, client resets and token refresh requests. Completions
// are delivered from a worker pool, so several may race for the same token.
// Session notifications go through a single ordered worker, like the
// engine's sync thread. Every string and pair array handed to a callback
// lives in an abi.Arena and is poisoned as soon as the callback returns.
package loopback
