package errors

// Kind classifies an error for retry and status decisions.
// The taxonomy mirrors how the task layer treats failures: validation and
// fatal errors are terminal, resource exhaustion and transient transport
// errors are retried with backoff, corruption is repaired locally, and an
// unavailable model only degrades the affected feature.
type Kind string

const (
	// KindValidation marks inputs out of range. Surfaced immediately, never retried.
	KindValidation Kind = "validation"

	// KindResourceExhausted marks pool-borrow or external-service timeouts.
	KindResourceExhausted Kind = "resource_exhausted"

	// KindTransient marks connection resets and 5xx responses from external services.
	KindTransient Kind = "transient"

	// KindCorruption marks unmarshal failures and invalid cached state.
	// Recovered by invalidate-and-rebuild, never surfaced to callers.
	KindCorruption Kind = "corruption"

	// KindModelUnavailable marks a missing or overloaded auxiliary model.
	// The affected feature degrades; the operation proceeds.
	KindModelUnavailable Kind = "model_unavailable"

	// KindFatal marks unrecoverable task failures: unsupported input,
	// empty parse output, persistence failure after retries.
	KindFatal Kind = "fatal"

	// KindUnknown is the zero classification for wrapped foreign errors.
	KindUnknown Kind = "unknown"
)

// retryable reports whether operations failing with this kind may be retried
// at the task level.
func (k Kind) retryable() bool {
	switch k {
	case KindResourceExhausted, KindTransient:
		return true
	default:
		return false
	}
}

// String returns the kind identifier.
func (k Kind) String() string {
	if k == "" {
		return string(KindUnknown)
	}
	return string(k)
}
