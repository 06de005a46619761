package client

import "context"

// HostDetector identifies the execution environment the runtime is embedded
// in. Some hosts wrap the application and need the post-login return
// navigation to stay inside the wrapper; the detected marker is persisted so
// the callback leg, which may run in a fresh context, sees the same
// environment.
type HostDetector interface {
	// Detect returns the environment marker and whether a special host was
	// recognized. ok=false means a plain standalone environment.
	Detect(ctx context.Context) (env string, ok bool)
}

// HostEnvStandalone is the marker for a plain, unembedded environment.
const HostEnvStandalone = "standalone"

// StaticHostDetector always reports a fixed environment. The zero value
// reports standalone.
type StaticHostDetector struct {
	Env string
}

// Detect implements HostDetector.
func (d StaticHostDetector) Detect(context.Context) (string, bool) {
	if d.Env == "" || d.Env == HostEnvStandalone {
		return HostEnvStandalone, false
	}
	return d.Env, true
}
