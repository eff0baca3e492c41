// Package security provides the broker's cross-cutting security features:
// per-IP rate limiting, security headers, request ID propagation, clock-skew
// tolerant expiry checks, and audit logging with PII protection.
package security
