package security

import "time"

// DefaultClockSkewGracePeriod is the grace period applied to expiry checks.
// Sessions and polling entries are only treated as expired once they have
// been past their deadline for longer than this, which tolerates typical
// NTP drift between the broker, its clients, and the identity provider.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsExpired checks a deadline with the default clock skew grace period.
// Both the lazy lookup path and the periodic sweep use this helper so the
// two eviction paths agree on the same clock.
func IsExpired(expiresAt time.Time) bool {
	return IsExpiredWithGracePeriod(expiresAt, DefaultClockSkewGracePeriod)
}

// IsExpiredWithGracePeriod checks a deadline with a custom grace period.
func IsExpiredWithGracePeriod(expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false // no expiration
	}
	return time.Now().After(expiresAt.Add(gracePeriod))
}
