package security

import "time"

const (
	// DefaultClockSkewGracePeriod tolerates minor clock drift between the
	// client, the bridge, and the provider when judging expiry. A token is
	// only treated as expired once it has been expired for longer than this.
	DefaultClockSkewGracePeriod = 5 * time.Second

	// DefaultRefreshThreshold is how far before expiry a token counts as
	// "close to expiry" and becomes eligible for proactive refresh.
	DefaultRefreshThreshold = 5 * time.Minute
)

// IsTokenExpired checks if a token is expired, with the default clock skew
// grace period. A zero expiry means the token never expires.
func IsTokenExpired(expiresAt time.Time) bool {
	return IsTokenExpiredWithGracePeriod(expiresAt, DefaultClockSkewGracePeriod)
}

// IsTokenExpiredWithGracePeriod checks expiry with a custom grace period.
func IsTokenExpiredWithGracePeriod(expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	return time.Now().After(expiresAt.Add(gracePeriod))
}

// IsCloseToExpiry reports whether the token will expire within threshold.
// This is the refresh scheduler's trigger condition: now + threshold >= expiry.
// A zero expiry means the expiry is unknown, which cannot be trusted: such a
// token counts as refresh-eligible rather than immortal.
func IsCloseToExpiry(expiresAt time.Time, threshold time.Duration) bool {
	if expiresAt.IsZero() {
		return true
	}
	return !time.Now().Add(threshold).Before(expiresAt)
}
