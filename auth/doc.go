// Package auth supplies access tokens when the engine asks for a refresh.
//
// The engine calls the refresh entry point with a session reference; the
// bridge runs a Refresher on its own goroutine and pushes the result back
// with native.Engine.RefreshAccessToken. Refreshers never block the engine.
package auth
