// Package server implements the confidential half of the auth bridge: code
// exchange with the identity provider, profile fetch, account linking through
// the external account service, token refresh and revocation. It is
// transport-agnostic; the root package mounts it behind HTTP handlers.
package server
