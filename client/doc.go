// Package client implements the user-facing half of the auth bridge: login
// initiation with PKCE, the callback state machine, the background refresh
// scheduler, and the subscribable auth state shell. All state lives in the
// token store; the package holds no token material of its own.
package client
